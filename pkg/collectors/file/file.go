// Package file implements the filesystem collector. It watches configured
// directories recursively through fsnotify, suppresses no-op saves by
// content hash, and delivers alert candidates through a callback.
package file

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/sentinelwatch/sentinelwatch/pkg/alert"
	"github.com/sentinelwatch/sentinelwatch/pkg/config"
)

// ignorePatterns are path fragments that never produce alerts: editor and
// build noise, version control internals, bytecode artifacts.
var ignorePatterns = []string{
	".tmp", ".log", ".swp", ".swo", "~",
	".ds_store", "thumbs.db", ".git/",
	"__pycache__/", ".pyc", ".pyo",
}

// Callback receives each alert candidate as it is produced.
type Callback func(alert.Alert)

// Collector watches directories for changes. Start and Stop are explicit
// lifecycle operations; changing the directory set requires a stop/start
// cycle, which is an accepted limitation of the watch backend.
type Collector struct {
	cfg    *config.Manager
	logger zerolog.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	callback Callback
	hashes   map[string]string
	running  bool
	done     chan struct{}
}

// New creates a file collector.
func New(cfg *config.Manager, logger zerolog.Logger) *Collector {
	return &Collector{
		cfg:    cfg,
		logger: logger.With().Str("collector", "file").Logger(),
		hashes: make(map[string]string),
	}
}

func (c *Collector) Name() string { return "file" }

// Start registers watches on all configured directories (recursively) and
// begins delivering events to the callback. A directory that cannot be
// registered produces a medium setup-error alert but does not abort the
// rest. Failure to create the watcher itself is returned to the caller.
func (c *Collector) Start(callback Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}

	c.watcher = watcher
	c.callback = callback
	c.done = make(chan struct{})
	c.running = true

	dirs := c.cfg.Snapshot().File.MonitoredDirs
	registered := 0
	for _, dir := range dirs {
		if err := c.addRecursive(dir); err != nil {
			callback(alert.New(
				"file",
				alert.SeverityMedium,
				"File Monitoring Setup Error",
				fmt.Sprintf("Failed to monitor directory %s: %v", dir, err),
			).WithContext("directory", dir))
			continue
		}
		registered++
	}

	go c.eventLoop()

	callback(alert.New(
		"system",
		alert.SeverityLow,
		"File Monitoring Started",
		fmt.Sprintf("Monitoring %d directories for file changes", registered),
	))
	return nil
}

// Stop unregisters all watches and blocks until pending events have drained,
// then reports a low stopped alert through the callback.
func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	watcher := c.watcher
	done := c.done
	callback := c.callback
	c.mu.Unlock()

	if err := watcher.Close(); err != nil {
		return err
	}
	<-done

	callback(alert.New(
		"system",
		alert.SeverityLow,
		"File Monitoring Stopped",
		"File system monitoring has been stopped",
	))
	return nil
}

// Restart applies the current directory set by cycling the watch set.
func (c *Collector) Restart() error {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if err := c.Stop(); err != nil {
		return err
	}
	return c.Start(cb)
}

// addRecursive registers the directory and every subdirectory beneath it.
func (c *Collector) addRecursive(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep walking
		}
		if d.IsDir() {
			if err := c.watcher.Add(path); err != nil {
				c.logger.Warn().Err(err).Str("path", path).Msg("Could not watch subdirectory")
			}
		}
		return nil
	})
}

// eventLoop drains the watcher channels until they close.
func (c *Collector) eventLoop() {
	defer close(c.done)
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error().Err(err).Msg("Filesystem watcher error")
		}
	}
}

func (c *Collector) handleEvent(ev fsnotify.Event) {
	if shouldIgnore(ev.Name) {
		return
	}

	var eventType string
	switch {
	case ev.Op.Has(fsnotify.Create):
		eventType = "created"
	case ev.Op.Has(fsnotify.Write):
		eventType = "modified"
	case ev.Op.Has(fsnotify.Remove):
		eventType = "deleted"
	case ev.Op.Has(fsnotify.Rename):
		eventType = "moved"
	default:
		return
	}

	info, statErr := os.Stat(ev.Name)
	exists := statErr == nil

	// Newly created directories join the watch set so the tree stays
	// covered recursively.
	if eventType == "created" && exists && info.IsDir() {
		if err := c.watcher.Add(ev.Name); err != nil {
			c.logger.Warn().Err(err).Str("path", ev.Name).Msg("Could not watch new directory")
		}
		return
	}
	if exists && info.IsDir() {
		return
	}

	a := alert.New(
		"file",
		c.severityFor(ev.Name),
		fmt.Sprintf("File %s", titleCase(eventType)),
		fmt.Sprintf("File %s: %s", eventType, ev.Name),
	).WithContext("file_path", ev.Name).
		WithContext("event_type", eventType)

	if exists {
		a = a.WithContext("file_size", info.Size())
	}

	if (eventType == "created" || eventType == "modified") && exists {
		hash, err := hashFile(ev.Name)
		if err == nil {
			if c.unchanged(ev.Name, hash) {
				return // content identical to last record: no-op save
			}
			a = a.WithContext("file_hash", hash)
		}
	}

	c.callback(a)
}

// unchanged records the hash and reports whether it matches the previous one
// for the path.
func (c *Collector) unchanged(path, hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.hashes[path]
	c.hashes[path] = hash
	return ok && prev == hash
}

// severityFor applies the severity policy: critical system directories are
// high, sensitive extensions medium, everything else low.
func (c *Collector) severityFor(path string) alert.Severity {
	fileCfg := c.cfg.Snapshot().File
	for _, dir := range fileCfg.CriticalDirs {
		if strings.HasPrefix(path, dir) {
			return alert.SeverityHigh
		}
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range fileCfg.SensitiveExtensions {
		if ext == s {
			return alert.SeverityMedium
		}
	}
	return alert.SeverityLow
}

func shouldIgnore(path string) bool {
	lower := strings.ToLower(path)
	for _, p := range ignorePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
