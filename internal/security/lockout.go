// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security holds the client-side defensive layer: input sanitizing,
// the activity monitor, and the persisted lockout state it raises.
package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/streamchat/internal/util"
)

// =============================================================================
// LOCKOUT CONSTANTS
// =============================================================================

const (
	// LockoutStateFile is the default filename for persisted lockout state.
	LockoutStateFile = "lockout_state.json"

	// signatureSize is the length of the HMAC-SHA256 appended to the state.
	signatureSize = sha256.Size

	stateVersion = "1"
)

// ErrLockoutTampered is returned by Load when the state file fails its
// integrity check.
var ErrLockoutTampered = errors.New("lockout state integrity check failed")

// =============================================================================
// LOCKOUT STATE
// =============================================================================

// LockoutState is the defensive lockout raised by the activity monitor.
type LockoutState struct {
	Active bool      `json:"active"`
	Until  time.Time `json:"until"`
	Reason string    `json:"reason,omitempty"`
}

// ActiveAt reports whether the lockout is in force at t.
func (s LockoutState) ActiveAt(t time.Time) bool {
	return s.Active && t.Before(s.Until)
}

// Remaining returns how long the lockout still lasts at t.
func (s LockoutState) Remaining(t time.Time) time.Duration {
	if !s.ActiveAt(t) {
		return 0
	}
	return s.Until.Sub(t)
}

// persistentState is the on-disk JSON document. The HMAC over these bytes is
// appended after the closing brace.
type persistentState struct {
	Lockout LockoutState `json:"lockout"`
	SavedAt time.Time    `json:"saved_at"`
	Version string       `json:"version"`
}

// =============================================================================
// LOCKOUT STORE
// =============================================================================

// LockoutStore persists LockoutState to a signed file so a lockout survives
// restarts. A store with an empty path keeps nothing on disk.
type LockoutStore struct {
	path string
	key  []byte
}

// NewLockoutStore opens the store at path, loading or creating the integrity
// key at path+".key".
func NewLockoutStore(path string) (*LockoutStore, error) {
	s := &LockoutStore{path: path}
	if err := s.initKey(); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultLockoutPath returns ~/.streamchat/lockout_state.json.
func DefaultLockoutPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".streamchat", LockoutStateFile)
}

// Path returns the state file path, empty for an in-memory store.
func (s *LockoutStore) Path() string {
	return s.path
}

func (s *LockoutStore) initKey() error {
	if s.path != "" {
		data, err := os.ReadFile(s.path + ".key")
		if err == nil && len(data) == 32 {
			s.key = data
			return nil
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generate lockout integrity key: %w", err)
	}
	s.key = key

	if s.path == "" {
		return nil
	}
	if err := util.AtomicWriteFile(s.path+".key", key, 0600, 0700); err != nil {
		return fmt.Errorf("save lockout integrity key: %w", err)
	}
	return nil
}

// Load reads the persisted state. A missing file yields the zero state.
// A file that fails verification yields the zero state and ErrLockoutTampered.
func (s *LockoutStore) Load() (LockoutState, error) {
	if s.path == "" {
		return LockoutState{}, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return LockoutState{}, nil
		}
		return LockoutState{}, fmt.Errorf("read lockout state: %w", err)
	}

	if len(payload) <= signatureSize {
		return LockoutState{}, ErrLockoutTampered
	}
	data := payload[:len(payload)-signatureSize]
	sig := payload[len(payload)-signatureSize:]
	if !hmac.Equal(sig, s.sign(data)) {
		return LockoutState{}, ErrLockoutTampered
	}

	var state persistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return LockoutState{}, fmt.Errorf("%w: %v", ErrLockoutTampered, err)
	}
	return state.Lockout, nil
}

// Save writes state atomically with its signature.
func (s *LockoutStore) Save(state LockoutState) error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(persistentState{
		Lockout: state,
		SavedAt: time.Now().UTC(),
		Version: stateVersion,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lockout state: %w", err)
	}

	payload := append(data, s.sign(data)...)
	if err := util.AtomicWriteFile(s.path, payload, 0600, 0700); err != nil {
		return fmt.Errorf("write lockout state: %w", err)
	}
	return nil
}

func (s *LockoutStore) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return mac.Sum(nil)
}
