package pipeline

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/sentinelwatch/sentinelwatch/pkg/alert"
)

// SystemStats is one sample of host-level statistics published on the stats
// topic alongside alerts.
type SystemStats struct {
	Timestamp          int64   `json:"timestamp"`
	CPUPercent         float64 `json:"cpu_percent"`
	MemoryPercent      float64 `json:"memory_percent"`
	DiskPercent        float64 `json:"disk_percent"`
	NetworkConnections int     `json:"network_connections"`
}

// broadcaster fans alerts and stats snapshots out to live subscribers. A
// slow subscriber drops records rather than blocking publishers; the most
// recent stats snapshot is replayed to new stats subscribers.
type broadcaster struct {
	mu         sync.Mutex
	nextID     int
	alertSubs  map[int]chan alert.Alert
	statsSubs  map[int]chan SystemStats
	lastStats  *SystemStats
	bufferSize int
	logger     zerolog.Logger
}

func newBroadcaster(bufferSize int, logger zerolog.Logger) *broadcaster {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &broadcaster{
		alertSubs:  make(map[int]chan alert.Alert),
		statsSubs:  make(map[int]chan SystemStats),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// subscribeAlerts returns a channel of all subsequent alerts and a cancel
// function that closes it.
func (b *broadcaster) subscribeAlerts() (<-chan alert.Alert, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan alert.Alert, b.bufferSize)
	b.alertSubs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.alertSubs[id]; ok {
			delete(b.alertSubs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// subscribeStats returns a channel of stats snapshots. The latest snapshot,
// if any, is delivered immediately.
func (b *broadcaster) subscribeStats() (<-chan SystemStats, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan SystemStats, b.bufferSize)
	if b.lastStats != nil {
		ch <- *b.lastStats
	}
	b.statsSubs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.statsSubs[id]; ok {
			delete(b.statsSubs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *broadcaster) publishAlert(a alert.Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.alertSubs {
		select {
		case ch <- a:
		default:
			b.logger.Warn().Int("subscriber", id).Msg("Alert subscriber lagging, dropping record")
		}
	}
}

func (b *broadcaster) publishStats(s SystemStats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastStats = &s
	for id, ch := range b.statsSubs {
		select {
		case ch <- s:
		default:
			b.logger.Warn().Int("subscriber", id).Msg("Stats subscriber lagging, dropping snapshot")
		}
	}
}
