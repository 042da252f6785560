// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/admission"
	"github.com/jeranaias/streamchat/internal/backend"
	"github.com/jeranaias/streamchat/internal/behavior"
	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/security"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/storage"
)

// =============================================================================
// SECURITY STACK
// =============================================================================

// guard is the activity monitor with its lockout file and, when storage is
// enabled, the database that receives its events.
type guard struct {
	monitor *security.ActivityMonitor
	store   *storage.SQLiteStore // nil when storage is disabled
}

func (e *env) openGuard() (*guard, error) {
	g := &guard{}
	if e.cfg.Storage.Enabled {
		store, err := storage.Open(e.cfg.DatabasePath(), storage.WithLogger(e.logger))
		if err != nil {
			return nil, err
		}
		g.store = store
	}

	lockouts, err := security.NewLockoutStore(e.cfg.LockoutPath())
	if err != nil {
		g.Close()
		return nil, err
	}

	opts := []security.MonitorOption{
		security.WithMonitorConfig(e.cfg.MonitorConfig()),
		security.WithLockoutStore(lockouts),
		security.WithMonitorLogger(e.logger),
	}
	if g.store != nil {
		opts = append(opts, security.WithEventSink(g.store))
	}
	g.monitor = security.NewActivityMonitor(opts...)
	return g, nil
}

func (g *guard) Close() error {
	if g.store == nil {
		return nil
	}
	return g.store.Close()
}

// =============================================================================
// APP
// =============================================================================

// app is a fully wired chat session.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	guard   *guard
	client  *backend.Client
	scorer  *behavior.Scorer
	gate    *admission.Gate
	ctl     *session.Controller
	watcher *config.Watcher
}

// newApp wires the backend client, behavior scorer, activity monitor,
// admission gate, storage and session controller, and restores the saved
// transcript.
func (e *env) newApp(ctx context.Context) (*app, error) {
	g, err := e.openGuard()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    e.cfg,
		logger: e.logger,
		guard:  g,
		client: backend.NewClient(e.cfg.BackendClientConfig(), backend.WithLogger(e.logger)),
		scorer: behavior.NewScorer(),
	}
	a.gate = admission.New(a.scorer, g.monitor, e.cfg.AdmissionGateConfig(),
		admission.WithLogger(e.logger))

	deps := session.Deps{
		Transport: a.client,
		Gate:      a.gate,
		Monitor:   g.monitor,
		Logger:    e.logger,
	}
	if g.store != nil {
		deps.Transcript = g.store
	}
	a.ctl = session.New(deps, e.cfg.SessionControllerConfig())

	if g.store != nil {
		if err := a.ctl.LoadHistory(ctx, e.cfg.Session.HistoryLimit); err != nil {
			e.logger.Warn("could not restore conversation", zap.Error(err))
		}
		a.pruneEvents(ctx)
	}

	if e.cfg.UI.WatchConfig {
		a.watchConfig(e.cfgPath)
	}
	return a, nil
}

// pruneEvents drops security events older than the configured retention.
func (a *app) pruneEvents(ctx context.Context) {
	retention := a.cfg.Storage.EventRetention.Duration
	if retention <= 0 {
		return
	}
	n, err := a.guard.store.PruneEvents(ctx, time.Now().Add(-retention))
	if err != nil {
		a.logger.Warn("could not prune security events", zap.Error(err))
		return
	}
	if n > 0 {
		a.logger.Info("pruned security events", zap.Int64("count", n), zap.Duration("retention", retention))
	}
}

// watchConfig retunes the session and the admission gate whenever the
// config file changes. A missing config directory disables watching.
func (a *app) watchConfig(path string) {
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		a.logger.Debug("config directory missing, not watching", zap.String("path", path))
		return
	}
	w, err := config.Watch(path, config.DefaultWatchDebounce, a.logger, a.applyConfig)
	if err != nil {
		a.logger.Warn("config watch unavailable", zap.Error(err))
		return
	}
	a.watcher = w
}

func (a *app) applyConfig(cfg *config.Config) {
	a.ctl.SetConfig(cfg.SessionControllerConfig())
	a.gate.SetConfig(cfg.AdmissionGateConfig())
	a.logger.Info("configuration reloaded")
}

// Close stops the watcher and the session and closes the database.
func (a *app) Close() error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	errs = append(errs, a.ctl.Close(), a.guard.Close())
	return errors.Join(errs...)
}
