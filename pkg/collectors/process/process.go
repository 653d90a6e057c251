// Package process implements the process collector: resource thresholds,
// suspicious-name detection, and per-PID spike anomaly tracking.
package process

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/sentinelwatch/sentinelwatch/pkg/alert"
	"github.com/sentinelwatch/sentinelwatch/pkg/collectors"
	"github.com/sentinelwatch/sentinelwatch/pkg/config"
	"github.com/sentinelwatch/sentinelwatch/pkg/metrics"
)

// sampleWindow is how many CPU/memory samples are kept per PID.
const sampleWindow = 10

// Spike detection floors: a doubling only counts once usage is material.
const (
	cpuSpikeFloor    = 50.0
	memorySpikeFloor = 100.0
)

// ProcInfo is a point-in-time snapshot of one process.
type ProcInfo struct {
	PID         int32
	Name        string
	CPUPercent  float64
	MemoryMB    float64
	CommandLine string
}

// Lister enumerates live processes. The gopsutil implementation is the
// production source; tests inject fakes.
type Lister interface {
	Snapshot() ([]ProcInfo, error)
}

// GopsutilLister enumerates processes via gopsutil. Per-process errors
// (vanished, permission denied) skip the process.
type GopsutilLister struct{}

func (GopsutilLister) Snapshot() ([]ProcInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]ProcInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		cpu, err := p.CPUPercent()
		if err != nil {
			continue
		}
		mem, err := p.MemoryInfo()
		if err != nil || mem == nil {
			continue
		}
		cmdline, _ := p.Cmdline()
		out = append(out, ProcInfo{
			PID:         p.Pid,
			Name:        name,
			CPUPercent:  cpu,
			MemoryMB:    float64(mem.RSS) / (1024 * 1024),
			CommandLine: cmdline,
		})
	}
	return out, nil
}

// pidStats is the rolling per-PID sample window.
type pidStats struct {
	name          string
	cpuHistory    []float64
	memoryHistory []float64
}

// Collector polls the process list and emits alert candidates.
type Collector struct {
	lister Lister
	cfg    *config.Manager
	logger zerolog.Logger

	mu         sync.Mutex
	stats      map[int32]*pidStats
	suspicious map[int32]struct{}
}

// New creates a process collector reading thresholds from the config manager
// on every cycle.
func New(lister Lister, cfg *config.Manager, logger zerolog.Logger) *Collector {
	if lister == nil {
		lister = GopsutilLister{}
	}
	return &Collector{
		lister:     lister,
		cfg:        cfg,
		logger:     logger.With().Str("collector", "process").Logger(),
		stats:      make(map[int32]*pidStats),
		suspicious: make(map[int32]struct{}),
	}
}

func (c *Collector) Name() string { return "process" }

// Collect enumerates processes once and returns all alert candidates for
// the cycle. A systemic enumeration failure yields a single monitoring
// error alert.
func (c *Collector) Collect(ctx context.Context) ([]alert.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := c.cfg.Snapshot().Process

	procs, err := c.lister.Snapshot()
	if err != nil {
		metrics.CollectorErrors.WithLabelValues(c.Name()).Inc()
		c.logger.Error().Err(err).Msg("Process enumeration failed")
		return []alert.Alert{collectors.MonitoringErrorAlert(c.Name(), collectors.Systemic(c.Name(), err))}, nil
	}

	var alerts []alert.Alert
	live := make(map[int32]struct{}, len(procs))

	for _, p := range procs {
		live[p.PID] = struct{}{}

		if isWhitelisted(p.Name, cfg.WhitelistProcesses) {
			continue
		}

		if p.CPUPercent > cfg.CPUThreshold {
			alerts = append(alerts, alert.New(
				"process",
				alert.SeverityHigh,
				"High CPU Usage Detected",
				fmt.Sprintf("Process %s (PID: %d) is using %.1f%% CPU", p.Name, p.PID, p.CPUPercent),
			).WithContext("process_name", p.Name).
				WithContext("process_id", p.PID).
				WithContext("cpu_usage", p.CPUPercent))
		}

		if p.MemoryMB > cfg.MemoryThresholdMB {
			alerts = append(alerts, alert.New(
				"process",
				alert.SeverityMedium,
				"High Memory Usage Detected",
				fmt.Sprintf("Process %s (PID: %d) is using %.1f MB memory", p.Name, p.PID, p.MemoryMB),
			).WithContext("process_name", p.Name).
				WithContext("process_id", p.PID).
				WithContext("memory_usage", p.MemoryMB))
		}

		if matchesSuspicious(p.Name, p.CommandLine, cfg.SuspiciousKeywords) {
			if c.markSuspicious(p.PID) {
				alerts = append(alerts, alert.New(
					"process",
					alert.SeverityHigh,
					"Suspicious Process Detected",
					fmt.Sprintf("Potentially suspicious process: %s (PID: %d)", p.Name, p.PID),
				).WithContext("process_name", p.Name).
					WithContext("process_id", p.PID).
					WithContext("cmdline", p.CommandLine))
			}
		}

		if a, ok := c.trackAndCheckSpike(p); ok {
			alerts = append(alerts, a)
		}
	}

	c.purgeTerminated(live)
	return alerts, nil
}

// markSuspicious returns true the first time a PID is flagged; it stays
// suppressed until the PID terminates.
func (c *Collector) markSuspicious(pid int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.suspicious[pid]; seen {
		return false
	}
	c.suspicious[pid] = struct{}{}
	return true
}

// trackAndCheckSpike appends the sample to the PID's rolling window and
// flags a spike when the last two samples average more than twice the
// preceding samples and cross the absolute floor.
func (c *Collector) trackAndCheckSpike(p ProcInfo) (alert.Alert, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.stats[p.PID]
	if !ok {
		st = &pidStats{name: p.Name}
		c.stats[p.PID] = st
	}
	st.cpuHistory = appendBounded(st.cpuHistory, p.CPUPercent, sampleWindow)
	st.memoryHistory = appendBounded(st.memoryHistory, p.MemoryMB, sampleWindow)

	if len(st.cpuHistory) < 5 {
		return alert.Alert{}, false
	}

	cpuSpike := isSpike(st.cpuHistory, cpuSpikeFloor)
	memSpike := isSpike(st.memoryHistory, memorySpikeFloor)
	if !cpuSpike && !memSpike {
		return alert.Alert{}, false
	}

	anomalyType := "cpu_spike"
	if !cpuSpike {
		anomalyType = "memory_spike"
	}
	return alert.New(
		"anomaly",
		alert.SeverityMedium,
		"Process Anomaly Detected",
		fmt.Sprintf("Process %s (PID: %d) showing unusual resource usage patterns", st.name, p.PID),
	).WithContext("process_name", st.name).
		WithContext("process_id", p.PID).
		WithContext("anomaly_type", anomalyType), true
}

// purgeTerminated drops per-PID state for processes no longer live.
func (c *Collector) purgeTerminated(live map[int32]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pid := range c.stats {
		if _, ok := live[pid]; !ok {
			delete(c.stats, pid)
		}
	}
	for pid := range c.suspicious {
		if _, ok := live[pid]; !ok {
			delete(c.suspicious, pid)
		}
	}
}

func isSpike(history []float64, floor float64) bool {
	recent := mean(history[len(history)-2:])
	preceding := mean(history[:len(history)-2])
	return recent > preceding*2 && recent > floor
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func appendBounded(history []float64, v float64, max int) []float64 {
	history = append(history, v)
	if len(history) > max {
		history = history[len(history)-max:]
	}
	return history
}

func isWhitelisted(name string, whitelist []string) bool {
	for _, w := range whitelist {
		if name == w {
			return true
		}
	}
	return false
}

func matchesSuspicious(name, cmdline string, keywords []string) bool {
	nameLower := strings.ToLower(name)
	cmdLower := strings.ToLower(cmdline)
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(nameLower, kw) || strings.Contains(cmdLower, kw) {
			return true
		}
	}
	return false
}
