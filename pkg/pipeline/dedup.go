package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// deduplicator suppresses repeat alerts that share a signature within a time
// window. Expired signatures are swept by a background ticker owned by the
// pipeline.
type deduplicator struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
}

func newDeduplicator(window time.Duration) *deduplicator {
	return &deduplicator{
		seen:   make(map[string]time.Time),
		window: window,
	}
}

// isDuplicate reports whether the signature was already seen within the
// window, recording it when it was not. Duplicates leave the recorded
// sighting untouched so a steady repeat still re-alerts once per window.
func (d *deduplicator) isDuplicate(alertType, severity, title, message string) bool {
	sig := signature(alertType, severity, title, message)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, exists := d.seen[sig]; exists && now.Sub(last) < d.window {
		return true
	}
	d.seen[sig] = now
	return false
}

// sweep drops signatures older than the window.
func (d *deduplicator) sweep() {
	cutoff := time.Now().Add(-d.window)
	d.mu.Lock()
	defer d.mu.Unlock()
	for sig, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, sig)
		}
	}
}

func signature(alertType, severity, title, message string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%s", alertType, severity, title, message)))
	return hex.EncodeToString(sum[:])
}
