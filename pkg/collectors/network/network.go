// Package network implements the network collector: monitored-port and
// suspicious-destination alerting, per-IP flood detection, and egress volume
// checks.
package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/sentinelwatch/sentinelwatch/pkg/alert"
	"github.com/sentinelwatch/sentinelwatch/pkg/collectors"
	"github.com/sentinelwatch/sentinelwatch/pkg/config"
	"github.com/sentinelwatch/sentinelwatch/pkg/metrics"
)

// connHistoryLimit bounds the per-IP connection log.
const connHistoryLimit = 100

// ConnInfo is a point-in-time snapshot of one connection.
type ConnInfo struct {
	LocalIP    string
	LocalPort  int
	RemoteIP   string
	RemotePort int
	Status     string
}

// Lister enumerates active connections and aggregate interface counters.
type Lister interface {
	Connections() ([]ConnInfo, error)
	OutboundBytes() (uint64, error)
}

// GopsutilLister is the production connection source.
type GopsutilLister struct{}

func (GopsutilLister) Connections() ([]ConnInfo, error) {
	conns, err := gopsnet.Connections("inet")
	if err != nil {
		return nil, err
	}
	out := make([]ConnInfo, 0, len(conns))
	for _, c := range conns {
		info := ConnInfo{Status: c.Status}
		info.LocalIP = c.Laddr.IP
		info.LocalPort = int(c.Laddr.Port)
		info.RemoteIP = c.Raddr.IP
		info.RemotePort = int(c.Raddr.Port)
		out = append(out, info)
	}
	return out, nil
}

func (GopsutilLister) OutboundBytes() (uint64, error) {
	counters, err := gopsnet.IOCounters(false)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, c := range counters {
		total += c.BytesSent
	}
	return total, nil
}

// connRecord is one timestamped entry in the per-IP connection log.
type connRecord struct {
	at time.Time
}

// Collector polls connections and emits alert candidates.
type Collector struct {
	lister Lister
	cfg    *config.Manager
	logger zerolog.Logger

	mu           sync.Mutex
	suspicious   map[string]struct{}
	history      map[string][]connRecord
	flooding     map[string]bool
	lastOutBytes uint64
	now          func() time.Time
}

// New creates a network collector.
func New(lister Lister, cfg *config.Manager, logger zerolog.Logger) *Collector {
	if lister == nil {
		lister = GopsutilLister{}
	}
	return &Collector{
		lister:     lister,
		cfg:        cfg,
		logger:     logger.With().Str("collector", "network").Logger(),
		suspicious: make(map[string]struct{}),
		history:    make(map[string][]connRecord),
		flooding:   make(map[string]bool),
		now:        time.Now,
	}
}

func (c *Collector) Name() string { return "network" }

// ClearSuspicious resets the dedup signature set, re-enabling alerting for
// previously reported connections.
func (c *Collector) ClearSuspicious() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspicious = make(map[string]struct{})
}

// Collect enumerates connections once. Per-connection oddities are skipped;
// a systemic failure yields a single monitoring error alert.
func (c *Collector) Collect(ctx context.Context) ([]alert.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := c.cfg.Snapshot().Network
	floodWindow, err := time.ParseDuration(cfg.FloodWindow)
	if err != nil || floodWindow <= 0 {
		floodWindow = 5 * time.Minute
	}

	conns, err := c.lister.Connections()
	if err != nil {
		metrics.CollectorErrors.WithLabelValues(c.Name()).Inc()
		c.logger.Error().Err(err).Msg("Connection enumeration failed")
		return []alert.Alert{collectors.MonitoringErrorAlert(c.Name(), collectors.Systemic(c.Name(), err))}, nil
	}

	var alerts []alert.Alert
	floodedThisCycle := make(map[string]bool)

	for _, conn := range conns {
		if conn.LocalPort == 0 {
			continue
		}

		if containsPort(cfg.MonitoredPorts, conn.LocalPort) && conn.RemoteIP != "" {
			sig := fmt.Sprintf("%s:%d->%d", conn.RemoteIP, conn.RemotePort, conn.LocalPort)
			if c.markSuspicious(sig) {
				alerts = append(alerts, alert.New(
					"network",
					alert.SeverityMedium,
					"Connection to Monitored Port",
					fmt.Sprintf("Connection detected on monitored port %d from %s:%d",
						conn.LocalPort, conn.RemoteIP, conn.RemotePort),
				).WithContext("local_port", conn.LocalPort).
					WithContext("remote_address", conn.RemoteIP).
					WithContext("remote_port", conn.RemotePort).
					WithContext("connection_status", conn.Status))
			}
		}

		if conn.RemoteIP != "" && isSuspiciousDestination(conn.RemoteIP, conn.RemotePort, cfg.SuspiciousPorts) {
			sig := fmt.Sprintf("%s:%d", conn.RemoteIP, conn.RemotePort)
			if c.markSuspicious(sig) {
				alerts = append(alerts, alert.New(
					"network",
					alert.SeverityHigh,
					"Suspicious Outbound Connection",
					fmt.Sprintf("Suspicious connection to %s:%d", conn.RemoteIP, conn.RemotePort),
				).WithContext("remote_address", conn.RemoteIP).
					WithContext("remote_port", conn.RemotePort).
					WithContext("local_port", conn.LocalPort).
					WithContext("connection_status", conn.Status))
			}
		}

		if conn.RemoteIP != "" {
			if count, crossed := c.trackConnection(conn.RemoteIP, floodWindow, cfg.FloodThreshold, floodedThisCycle); crossed {
				alerts = append(alerts, alert.New(
					"network",
					alert.SeverityHigh,
					"Connection Flooding Detected",
					fmt.Sprintf("Excessive connections from %s (%d in %s)", conn.RemoteIP, count, floodWindow),
				).WithContext("remote_address", conn.RemoteIP).
					WithContext("connection_count", count))
			}
		}
	}

	if a, ok := c.checkEgressVolume(cfg.EgressHighWaterMiB); ok {
		alerts = append(alerts, a)
	}

	return alerts, nil
}

// markSuspicious adds the signature to the dedup set, returning true only on
// first sight.
func (c *Collector) markSuspicious(sig string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.suspicious[sig]; seen {
		return false
	}
	c.suspicious[sig] = struct{}{}
	return true
}

// trackConnection records the observation and reports whether the flood
// threshold was newly crossed this cycle for the IP. At most one flood alert
// is produced per IP per cycle, and only in cycles where the trailing-window
// count moves above the threshold.
func (c *Collector) trackConnection(remoteIP string, window time.Duration, threshold int, flooded map[string]bool) (int, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	log := append(c.history[remoteIP], connRecord{at: now})
	if len(log) > connHistoryLimit {
		log = log[len(log)-connHistoryLimit:]
	}
	c.history[remoteIP] = log

	cutoff := now.Add(-window)
	recent := 0
	for _, r := range log {
		if r.at.After(cutoff) {
			recent++
		}
	}

	over := recent > threshold
	wasOver := c.flooding[remoteIP]
	c.flooding[remoteIP] = over

	if over && !wasOver && !flooded[remoteIP] {
		flooded[remoteIP] = true
		return recent, true
	}
	return recent, false
}

// checkEgressVolume compares aggregate outbound bytes against the high-water
// mark since the previous check.
func (c *Collector) checkEgressVolume(highWaterMiB int64) (alert.Alert, bool) {
	total, err := c.lister.OutboundBytes()
	if err != nil {
		c.logger.Warn().Err(err).Msg("Could not read interface counters")
		return alert.Alert{}, false
	}

	c.mu.Lock()
	last := c.lastOutBytes
	c.lastOutBytes = total
	c.mu.Unlock()

	if last == 0 || total < last {
		// First sample or counter reset.
		return alert.Alert{}, false
	}

	sent := total - last
	highWater := uint64(highWaterMiB) * 1024 * 1024
	if sent <= highWater {
		return alert.Alert{}, false
	}

	return alert.New(
		"network",
		alert.SeverityMedium,
		"High Outbound Traffic",
		fmt.Sprintf("Unusually high outbound traffic detected: %.2f GB", float64(sent)/(1024*1024*1024)),
	).WithContext("bytes_sent", sent), true
}

func containsPort(ports []int, port int) bool {
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}

// isSuspiciousDestination flags known backdoor/IRC ports and the ephemeral
// backdoor range, excluding private address space.
func isSuspiciousDestination(remoteIP string, remotePort int, suspiciousPorts []int) bool {
	ip := net.ParseIP(remoteIP)
	if ip == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() {
		return false
	}
	if containsPort(suspiciousPorts, remotePort) {
		return true
	}
	// High ephemeral ports commonly used by reverse shells.
	return remotePort >= 31330 && remotePort <= 31340
}
