// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/streamchat/internal/admission"
	"github.com/jeranaias/streamchat/internal/backend"
	"github.com/jeranaias/streamchat/internal/coalesce"
	"github.com/jeranaias/streamchat/internal/security"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/storage"
	"github.com/jeranaias/streamchat/internal/util"
)

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration written as a Go duration string ("25s",
// "800ms") in TOML and JSON.
type Duration struct {
	time.Duration
}

// D wraps d.
func D(d time.Duration) Duration {
	return Duration{d}
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete streamchat configuration.
type Config struct {
	Backend   BackendConfig   `toml:"backend" json:"backend"`
	Stream    StreamConfig    `toml:"stream" json:"stream"`
	Coalesce  CoalesceConfig  `toml:"coalesce" json:"coalesce"`
	Session   SessionConfig   `toml:"session" json:"session"`
	Admission AdmissionConfig `toml:"admission" json:"admission"`
	Security  SecurityConfig  `toml:"security" json:"security"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
	Log       LogConfig       `toml:"log" json:"log"`
	UI        UIConfig        `toml:"ui" json:"ui"`
}

// BackendConfig locates the chat backend.
type BackendConfig struct {
	URL           string   `toml:"url" json:"url"`
	Timeout       Duration `toml:"timeout" json:"timeout"`
	HealthTimeout Duration `toml:"health_timeout" json:"health_timeout"`
	FeedbackRate  float64  `toml:"feedback_rate" json:"feedback_rate"`
	FeedbackBurst int      `toml:"feedback_burst" json:"feedback_burst"`
}

// StreamConfig tunes the response parser.
type StreamConfig struct {
	FallbackThreshold int `toml:"fallback_threshold" json:"fallback_threshold"`
}

// CoalesceConfig tunes how streamed text is batched into the display.
type CoalesceConfig struct {
	SizeThreshold       int      `toml:"size_threshold" json:"size_threshold"`
	FlushDelay          Duration `toml:"flush_delay" json:"flush_delay"`
	MaxFlushesPerSecond int      `toml:"max_flushes_per_second" json:"max_flushes_per_second"`
	FallbackNotice      string   `toml:"fallback_notice" json:"fallback_notice"`
}

// SessionConfig holds message bounds, timeouts and retry policy.
type SessionConfig struct {
	MinLength           int      `toml:"min_length" json:"min_length"`
	MaxLength           int      `toml:"max_length" json:"max_length"`
	WatchdogTimeout     Duration `toml:"watchdog_timeout" json:"watchdog_timeout"`
	IdleTimeout         Duration `toml:"idle_timeout" json:"idle_timeout"`
	MaxRetries          int      `toml:"max_retries" json:"max_retries"`
	MaxColdStartRetries int      `toml:"max_cold_start_retries" json:"max_cold_start_retries"`
	BackoffBase         Duration `toml:"backoff_base" json:"backoff_base"`
	BackoffFactor       float64  `toml:"backoff_factor" json:"backoff_factor"`
	BackoffMax          Duration `toml:"backoff_max" json:"backoff_max"`
	FeedbackRetries     int      `toml:"feedback_retries" json:"feedback_retries"`
	FeedbackBackoff     Duration `toml:"feedback_backoff" json:"feedback_backoff"`
	HistoryLimit        int      `toml:"history_limit" json:"history_limit"`
}

// AdmissionConfig holds the bot threshold and send rate limits.
type AdmissionConfig struct {
	BotThreshold int      `toml:"bot_threshold" json:"bot_threshold"`
	MinInterval  Duration `toml:"min_interval" json:"min_interval"`
	Window       Duration `toml:"window" json:"window"`
	MaxPerWindow int      `toml:"max_per_window" json:"max_per_window"`
}

// SecurityConfig tunes the activity monitor and lockout.
type SecurityConfig struct {
	LockoutFile     string   `toml:"lockout_file" json:"lockout_file"`
	LogSize         int      `toml:"log_size" json:"log_size"`
	BurstThreshold  int      `toml:"burst_threshold" json:"burst_threshold"`
	BurstWindow     Duration `toml:"burst_window" json:"burst_window"`
	RepeatThreshold int      `toml:"repeat_threshold" json:"repeat_threshold"`
	RepeatWindow    Duration `toml:"repeat_window" json:"repeat_window"`
	StrikeThreshold int      `toml:"strike_threshold" json:"strike_threshold"`
	StrikeWindow    Duration `toml:"strike_window" json:"strike_window"`
	LockoutDuration Duration `toml:"lockout_duration" json:"lockout_duration"`
	MaxRunLength    int      `toml:"max_run_length" json:"max_run_length"`
}

// StorageConfig locates the local database.
type StorageConfig struct {
	Enabled        bool     `toml:"enabled" json:"enabled"`
	Path           string   `toml:"path" json:"path"`
	EventRetention Duration `toml:"event_retention" json:"event_retention"`
}

// LogConfig selects the log level, encoding and destination.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`   // debug, info, warn, error
	Format string `toml:"format" json:"format"` // console or json
	File   string `toml:"file" json:"file"`     // empty: stderr
}

// UIConfig tunes the terminal interface.
type UIConfig struct {
	MarkdownStyle  string   `toml:"markdown_style" json:"markdown_style"` // auto, dark, light, notty
	NoticeDuration Duration `toml:"notice_duration" json:"notice_duration"`
	Mouse          bool     `toml:"mouse" json:"mouse"`
	WatchConfig    bool     `toml:"watch_config" json:"watch_config"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	be := backend.DefaultConfig()
	co := coalesce.DefaultConfig()
	se := session.DefaultConfig()
	ad := admission.DefaultConfig()
	mo := security.DefaultMonitorConfig()

	return &Config{
		Backend: BackendConfig{
			URL:           be.BaseURL,
			Timeout:       D(be.Timeout),
			HealthTimeout: D(be.HealthTimeout),
			FeedbackRate:  be.FeedbackRate,
			FeedbackBurst: be.FeedbackBurst,
		},
		Stream: StreamConfig{
			FallbackThreshold: se.FallbackThreshold,
		},
		Coalesce: CoalesceConfig{
			SizeThreshold:       co.SizeThreshold,
			FlushDelay:          D(co.FlushDelay),
			MaxFlushesPerSecond: co.MaxFlushesPerSecond,
			FallbackNotice:      co.FallbackNotice,
		},
		Session: SessionConfig{
			MinLength:           se.MinLength,
			MaxLength:           se.MaxLength,
			WatchdogTimeout:     D(se.WatchdogTimeout),
			IdleTimeout:         D(se.IdleTimeout),
			MaxRetries:          se.MaxRetries,
			MaxColdStartRetries: se.MaxColdStartRetries,
			BackoffBase:         D(se.BackoffBase),
			BackoffFactor:       se.BackoffFactor,
			BackoffMax:          D(se.BackoffMax),
			FeedbackRetries:     se.FeedbackRetries,
			FeedbackBackoff:     D(se.FeedbackBackoff),
			HistoryLimit:        50,
		},
		Admission: AdmissionConfig{
			BotThreshold: ad.BotThreshold,
			MinInterval:  D(ad.MinInterval),
			Window:       D(ad.Window),
			MaxPerWindow: ad.MaxPerWindow,
		},
		Security: SecurityConfig{
			LogSize:         mo.LogSize,
			BurstThreshold:  mo.BurstThreshold,
			BurstWindow:     D(mo.BurstWindow),
			RepeatThreshold: mo.RepeatThreshold,
			RepeatWindow:    D(mo.RepeatWindow),
			StrikeThreshold: mo.StrikeThreshold,
			StrikeWindow:    D(mo.StrikeWindow),
			LockoutDuration: D(mo.LockoutDuration),
			MaxRunLength:    mo.MaxRunLength,
		},
		Storage: StorageConfig{
			Enabled:        true,
			EventRetention: D(30 * 24 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		UI: UIConfig{
			MarkdownStyle:  "auto",
			NoticeDuration: D(4 * time.Second),
			Mouse:          true,
			WatchConfig:    true,
		},
	}
}

// SetDefaults replaces unusable zero or negative values with defaults.
// Zero retry counts are valid and kept.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Backend.URL == "" {
		c.Backend.URL = d.Backend.URL
	}
	defaultDuration(&c.Backend.Timeout, d.Backend.Timeout)
	defaultDuration(&c.Backend.HealthTimeout, d.Backend.HealthTimeout)
	if c.Backend.FeedbackRate <= 0 {
		c.Backend.FeedbackRate = d.Backend.FeedbackRate
	}
	defaultInt(&c.Backend.FeedbackBurst, d.Backend.FeedbackBurst)

	defaultInt(&c.Stream.FallbackThreshold, d.Stream.FallbackThreshold)

	defaultInt(&c.Coalesce.SizeThreshold, d.Coalesce.SizeThreshold)
	defaultDuration(&c.Coalesce.FlushDelay, d.Coalesce.FlushDelay)
	defaultInt(&c.Coalesce.MaxFlushesPerSecond, d.Coalesce.MaxFlushesPerSecond)
	if c.Coalesce.FallbackNotice == "" {
		c.Coalesce.FallbackNotice = d.Coalesce.FallbackNotice
	}

	defaultInt(&c.Session.MinLength, d.Session.MinLength)
	defaultInt(&c.Session.MaxLength, d.Session.MaxLength)
	defaultDuration(&c.Session.WatchdogTimeout, d.Session.WatchdogTimeout)
	defaultDuration(&c.Session.IdleTimeout, d.Session.IdleTimeout)
	defaultDuration(&c.Session.BackoffBase, d.Session.BackoffBase)
	if c.Session.BackoffFactor < 1 {
		c.Session.BackoffFactor = d.Session.BackoffFactor
	}
	defaultDuration(&c.Session.BackoffMax, d.Session.BackoffMax)
	defaultDuration(&c.Session.FeedbackBackoff, d.Session.FeedbackBackoff)
	if c.Session.HistoryLimit < 0 {
		c.Session.HistoryLimit = 0
	}

	defaultDuration(&c.Admission.MinInterval, d.Admission.MinInterval)
	defaultDuration(&c.Admission.Window, d.Admission.Window)
	defaultInt(&c.Admission.MaxPerWindow, d.Admission.MaxPerWindow)

	defaultInt(&c.Security.LogSize, d.Security.LogSize)
	defaultInt(&c.Security.BurstThreshold, d.Security.BurstThreshold)
	defaultDuration(&c.Security.BurstWindow, d.Security.BurstWindow)
	defaultInt(&c.Security.RepeatThreshold, d.Security.RepeatThreshold)
	defaultDuration(&c.Security.RepeatWindow, d.Security.RepeatWindow)
	defaultInt(&c.Security.StrikeThreshold, d.Security.StrikeThreshold)
	defaultDuration(&c.Security.StrikeWindow, d.Security.StrikeWindow)
	defaultDuration(&c.Security.LockoutDuration, d.Security.LockoutDuration)
	defaultInt(&c.Security.MaxRunLength, d.Security.MaxRunLength)

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}

	if c.UI.MarkdownStyle == "" {
		c.UI.MarkdownStyle = d.UI.MarkdownStyle
	}
	defaultDuration(&c.UI.NoticeDuration, d.UI.NoticeDuration)
}

func defaultInt(v *int, d int) {
	if *v <= 0 {
		*v = d
	}
}

func defaultDuration(v *Duration, d Duration) {
	if v.Duration <= 0 {
		*v = d
	}
}

// =============================================================================
// COMPONENT CONFIGS
// =============================================================================

// BackendClientConfig returns the backend client settings.
func (c *Config) BackendClientConfig() backend.Config {
	return backend.Config{
		BaseURL:       c.Backend.URL,
		Timeout:       c.Backend.Timeout.Duration,
		HealthTimeout: c.Backend.HealthTimeout.Duration,
		FeedbackRate:  c.Backend.FeedbackRate,
		FeedbackBurst: c.Backend.FeedbackBurst,
	}
}

// SessionControllerConfig returns the session controller settings.
func (c *Config) SessionControllerConfig() session.Config {
	return session.Config{
		MinLength:           c.Session.MinLength,
		MaxLength:           c.Session.MaxLength,
		WatchdogTimeout:     c.Session.WatchdogTimeout.Duration,
		IdleTimeout:         c.Session.IdleTimeout.Duration,
		MaxRetries:          c.Session.MaxRetries,
		MaxColdStartRetries: c.Session.MaxColdStartRetries,
		BackoffBase:         c.Session.BackoffBase.Duration,
		BackoffFactor:       c.Session.BackoffFactor,
		BackoffMax:          c.Session.BackoffMax.Duration,
		FeedbackRetries:     c.Session.FeedbackRetries,
		FeedbackBackoff:     c.Session.FeedbackBackoff.Duration,
		FallbackThreshold:   c.Stream.FallbackThreshold,
		Coalesce: coalesce.Config{
			SizeThreshold:       c.Coalesce.SizeThreshold,
			FlushDelay:          c.Coalesce.FlushDelay.Duration,
			MaxFlushesPerSecond: c.Coalesce.MaxFlushesPerSecond,
			FallbackNotice:      c.Coalesce.FallbackNotice,
		},
	}
}

// AdmissionGateConfig returns the admission gate settings.
func (c *Config) AdmissionGateConfig() admission.Config {
	return admission.Config{
		BotThreshold: c.Admission.BotThreshold,
		MinInterval:  c.Admission.MinInterval.Duration,
		Window:       c.Admission.Window.Duration,
		MaxPerWindow: c.Admission.MaxPerWindow,
	}
}

// MonitorConfig returns the activity monitor settings.
func (c *Config) MonitorConfig() security.MonitorConfig {
	return security.MonitorConfig{
		LogSize:         c.Security.LogSize,
		BurstThreshold:  c.Security.BurstThreshold,
		BurstWindow:     c.Security.BurstWindow.Duration,
		RepeatThreshold: c.Security.RepeatThreshold,
		RepeatWindow:    c.Security.RepeatWindow.Duration,
		StrikeThreshold: c.Security.StrikeThreshold,
		StrikeWindow:    c.Security.StrikeWindow.Duration,
		LockoutDuration: c.Security.LockoutDuration.Duration,
		MaxRunLength:    c.Security.MaxRunLength,
	}
}

// LockoutPath returns the configured lockout file, or the default one.
func (c *Config) LockoutPath() string {
	if c.Security.LockoutFile != "" {
		return expandHome(c.Security.LockoutFile)
	}
	return security.DefaultLockoutPath()
}

// DatabasePath returns the configured database path, or the default one.
func (c *Config) DatabasePath() string {
	if c.Storage.Path != "" {
		return expandHome(c.Storage.Path)
	}
	return storage.DefaultPath()
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the streamchat configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".streamchat"), nil
}

// Path returns the default config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// LoadDotEnv loads KEY=value pairs from the given files (".env" when none
// are given) into the environment. Variables already set win. Missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads the TOML file at path (the default path when empty) over the
// built-in defaults, then applies environment overrides, defaults and
// validation. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config file: %w", err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the file at path into cfg. Unknown keys are rejected so
// typos do not go unnoticed.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// Save writes cfg as TOML to path (the default path when empty) with owner
// only permissions.
func Save(cfg *Config, path string) error {
	if path == "" {
		p, err := Path()
		if err != nil {
			return err
		}
		path = p
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# streamchat configuration file")
	fmt.Fprintln(&buf, "# Durations use Go syntax: 800ms, 25s, 5m.")
	fmt.Fprintln(&buf)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.Backend.URL); err != nil || u.Host == "" ||
		(u.Scheme != "http" && u.Scheme != "https") {
		add("backend.url", "must be an absolute http or https URL, got %q", c.Backend.URL)
	}

	if c.Session.MinLength > c.Session.MaxLength {
		add("session.min_length", "must not exceed max_length (%d > %d)", c.Session.MinLength, c.Session.MaxLength)
	}
	if c.Session.MaxRetries < 0 {
		add("session.max_retries", "must not be negative")
	}
	if c.Session.MaxColdStartRetries < 0 {
		add("session.max_cold_start_retries", "must not be negative")
	}
	if c.Session.FeedbackRetries < 0 {
		add("session.feedback_retries", "must not be negative")
	}
	if c.Session.BackoffMax.Duration < c.Session.BackoffBase.Duration {
		add("session.backoff_max", "must be at least backoff_base (%s)", c.Session.BackoffBase)
	}

	if c.Admission.BotThreshold < 0 || c.Admission.BotThreshold > 100 {
		add("admission.bot_threshold", "must be between 0 and 100, got %d", c.Admission.BotThreshold)
	}
	if c.Admission.MinInterval.Duration > c.Admission.Window.Duration {
		add("admission.min_interval", "must not exceed the window (%s)", c.Admission.Window)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", "invalid level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		add("log.format", "invalid format %q, must be console or json", c.Log.Format)
	}

	switch c.UI.MarkdownStyle {
	case "auto", "dark", "light", "notty":
	default:
		add("ui.markdown_style", "invalid style %q, must be one of: auto, dark, light, notty", c.UI.MarkdownStyle)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - STREAMCHAT_BACKEND_URL: overrides backend.url
//   - STREAMCHAT_WATCHDOG_TIMEOUT: overrides session.watchdog_timeout
//   - STREAMCHAT_MAX_RETRIES: overrides session.max_retries
//   - STREAMCHAT_LOG_LEVEL: overrides log.level
//   - STREAMCHAT_LOG_FILE: overrides log.file
//   - STREAMCHAT_DB_PATH: overrides storage.path
//   - STREAMCHAT_NO_STORAGE: "1" or "true" disables the database
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("STREAMCHAT_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("STREAMCHAT_WATCHDOG_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Session.WatchdogTimeout = D(d)
		}
	}
	if v := os.Getenv("STREAMCHAT_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.MaxRetries = n
		}
	}
	if v := os.Getenv("STREAMCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("STREAMCHAT_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("STREAMCHAT_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("STREAMCHAT_NO_STORAGE"); v != "" {
		c.Storage.Enabled = !(v == "1" || strings.EqualFold(v, "true"))
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get returns the value at key, written with TOML names ("session.max_retries").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set parses value into the field at key and validates the result.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	if err := setFieldValue(field, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return c.Validate()
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		if v.Kind() != reflect.Struct || v.Type() == reflect.TypeOf(Duration{}) {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i], "."))
		}
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return v, nil
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	name = strings.ReplaceAll(strings.ToLower(name), "-", "_")
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]; tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func setFieldValue(field reflect.Value, value string) error {
	value = strings.TrimSpace(value)
	if field.Type() == reflect.TypeOf(Duration{}) {
		var d Duration
		if err := d.UnmarshalText([]byte(value)); err != nil {
			return err
		}
		field.Set(reflect.ValueOf(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool %q", value)
		}
		field.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer %q", value)
		}
		field.SetInt(int64(n))
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", value)
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}

// Keys returns every settable key in dot notation.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := section.Tag.Get("toml")
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	return keys
}

// Clone returns a copy of the configuration. Config holds no reference
// types, so a value copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns the configuration as indented JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
