package config

import (
	"errors"
	"fmt"
	"sync"
)

// ErrVersionConflict is returned by ApplyIf when the active configuration
// changed after the caller took its snapshot.
var ErrVersionConflict = errors.New("configuration changed concurrently")

// Manager owns the active configuration. Readers take a snapshot; writers go
// through Apply, which validates and swaps the whole set at once. Every
// successful apply bumps the version so subscribers can detect change.
type Manager struct {
	mu      sync.RWMutex
	active  *Config
	version uint64
}

// NewManager wraps an initial configuration.
func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = Default()
	}
	return &Manager{active: cfg, version: 1}
}

// Snapshot returns a copy of the active configuration. Slices are copied so
// callers cannot mutate the shared set.
func (m *Manager) Snapshot() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyConfig(m.active)
}

// Version returns the version number of the active configuration.
func (m *Manager) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// SnapshotVersioned returns a copy of the active configuration together with
// its version, read under one lock so the pair is consistent.
func (m *Manager) SnapshotVersioned() (*Config, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyConfig(m.active), m.version
}

// Apply validates the candidate and, if valid, makes it the active set.
func (m *Manager) Apply(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("rejecting config update: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = copyConfig(cfg)
	m.version++
	return nil
}

// ApplyIf is Apply with a version guard: the candidate is only swapped in
// when the active version still matches the one the caller based its edits
// on. A lost race returns ErrVersionConflict so partial updates never drop
// each other's fields.
func (m *Manager) ApplyIf(version uint64, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("rejecting config update: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version != version {
		return ErrVersionConflict
	}
	m.active = copyConfig(cfg)
	m.version++
	return nil
}

func copyConfig(src *Config) *Config {
	dst := *src
	dst.Process.WhitelistProcesses = append([]string(nil), src.Process.WhitelistProcesses...)
	dst.Process.SuspiciousKeywords = append([]string(nil), src.Process.SuspiciousKeywords...)
	dst.Network.MonitoredPorts = append([]int(nil), src.Network.MonitoredPorts...)
	dst.Network.SuspiciousPorts = append([]int(nil), src.Network.SuspiciousPorts...)
	dst.File.MonitoredDirs = append([]string(nil), src.File.MonitoredDirs...)
	dst.File.CriticalDirs = append([]string(nil), src.File.CriticalDirs...)
	dst.File.SensitiveExtensions = append([]string(nil), src.File.SensitiveExtensions...)
	return &dst
}
