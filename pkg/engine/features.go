// Package engine implements the detection core: feature extraction,
// behavioral baselines, the adaptive anomaly scorer, static pattern matching,
// and score fusion.
package engine

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sentinelwatch/sentinelwatch/pkg/alert"
	"github.com/sentinelwatch/sentinelwatch/pkg/event"
)

// FeatureCount is the fixed length of every feature vector.
const FeatureCount = 13

// Feature vector indices, in extraction order.
const (
	featHour = iota
	featWeekday
	featWeekend
	featSourceIPReputation
	featDestIPReputation
	featProcessNameLen
	featSuspiciousProcess
	featFilePathLen
	featSuspiciousExtension
	featUserNameLen
	featPrivilegedUser
	featRecentCategoryCount
	featSeverity
)

var suspiciousProcessKeywords = []string{"powershell", "cmd", "bash", "nc", "netcat"}

var suspiciousExtensions = []string{".exe", ".bat", ".ps1", ".sh", ".scr"}

var privilegedUsers = map[string]struct{}{
	"admin":         {},
	"administrator": {},
	"root":          {},
}

// historyEntry is one record in the rolling event log backing the
// trailing-count feature and the lateral-movement index.
type historyEntry struct {
	at       time.Time
	category string
	userName string
	hostName string
}

// eventLog is a bounded rolling log of recent events. It backs the
// trailing-count feature and the recent-auth-host lookup; the anomaly
// trainer keeps its own sample buffer.
type eventLog struct {
	mu      sync.Mutex
	entries []historyEntry
	max     int
}

func newEventLog(max int) *eventLog {
	if max <= 0 {
		max = 10000
	}
	return &eventLog{max: max}
}

func (l *eventLog) add(e event.Event, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, historyEntry{
		at:       at,
		category: e.Category,
		userName: e.UserName,
		hostName: e.HostName,
	})
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// countCategory returns how many logged events share the category within the
// trailing window ending at now.
func (l *eventLog) countCategory(category string, window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.category == category && e.at.After(cutoff) {
			n++
		}
	}
	return n
}

// authHosts returns the distinct hosts the user authenticated to within the
// trailing window ending at now.
func (l *eventLog) authHosts(user string, window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)
	hosts := make(map[string]struct{})
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.category == "authentication" && e.userName == user && e.at.After(cutoff) {
			hosts[e.hostName] = struct{}{}
		}
	}
	return len(hosts)
}

// extractFeatures converts an event into the fixed-order vector. It is
// deterministic aside from the trailing-count lookup against the rolling log.
func extractFeatures(e event.Event, log *eventLog, now time.Time) []float64 {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = now
	}

	f := make([]float64, FeatureCount)
	f[featHour] = float64(ts.Hour())
	f[featWeekday] = float64(int(ts.Weekday()+6) % 7) // Monday=0 .. Sunday=6
	if wd := ts.Weekday(); wd == time.Saturday || wd == time.Sunday {
		f[featWeekend] = 1
	}
	f[featSourceIPReputation] = ipReputation(e.SourceIP)
	f[featDestIPReputation] = ipReputation(e.DestinationIP)
	f[featProcessNameLen] = float64(len(e.ProcessName))
	if containsAny(strings.ToLower(e.ProcessName), suspiciousProcessKeywords) {
		f[featSuspiciousProcess] = 1
	}
	if e.FilePath != "" {
		f[featFilePathLen] = float64(len(e.FilePath))
		if containsAny(strings.ToLower(e.FilePath), suspiciousExtensions) {
			f[featSuspiciousExtension] = 1
		}
	}
	f[featUserNameLen] = float64(len(e.UserName))
	if _, ok := privilegedUsers[strings.ToLower(e.UserName)]; ok {
		f[featPrivilegedUser] = 1
	}
	f[featRecentCategoryCount] = float64(log.countCategory(e.Category, 10*time.Minute, now))
	f[featSeverity] = float64(alert.ParseSeverity(e.Severity).Ordinal())

	return f
}

// ipReputation is a local heuristic: private and unset addresses score 0,
// anything external a low constant. Real reputation comes from the
// intelligence correlator.
func ipReputation(ip string) float64 {
	if ip == "" {
		return 0
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return 0.1
	}
	if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() {
		return 0
	}
	return 0.1
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
