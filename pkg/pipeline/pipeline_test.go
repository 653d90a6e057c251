package pipeline

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelwatch/sentinelwatch/pkg/alert"
)

func newTestPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	opts.Logger = zerolog.Nop()
	p, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPublishStampsIDAndTimestamp(t *testing.T) {
	p := newTestPipeline(t, Options{})

	before := time.Now()
	ok := p.Publish(alert.New("process", alert.SeverityHigh, "High CPU", "cpu at 95%"))
	assert.True(t, ok)

	got := p.History(HistoryFilter{})
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.Before(before))
	assert.Equal(t, alert.SeverityHigh, got[0].Severity)
	assert.Equal(t, "process", got[0].Type)
}

func TestHistoryEvictsOldestBeyondLimit(t *testing.T) {
	p := newTestPipeline(t, Options{HistoryLimit: 5})

	for i := 0; i < 8; i++ {
		ok := p.Publish(alert.New("network", alert.SeverityLow, "Connection", fmt.Sprintf("conn %d", i)))
		require.True(t, ok)
	}

	assert.Equal(t, 5, p.HistoryLen())
	got := p.History(HistoryFilter{})
	require.Len(t, got, 5)
	// Newest first; the three oldest are gone.
	assert.Equal(t, "conn 7", got[0].Message)
	assert.Equal(t, "conn 3", got[4].Message)
}

func TestDuplicateSuppressedWithinWindow(t *testing.T) {
	p := newTestPipeline(t, Options{DedupWindow: time.Hour})

	first := p.Publish(alert.New("file", alert.SeverityMedium, "File Modified", "/etc/passwd changed"))
	second := p.Publish(alert.New("file", alert.SeverityMedium, "File Modified", "/etc/passwd changed"))

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 1, p.HistoryLen())
}

func TestSteadyRepeatReAlertsOncePerWindow(t *testing.T) {
	d := newDeduplicator(time.Minute)

	require.False(t, d.isDuplicate("file", "medium", "File Modified", "/etc/passwd changed"))
	sig := signature("file", "medium", "File Modified", "/etc/passwd changed")

	// Backdate the recorded sighting to just inside the window and keep
	// re-publishing; the duplicates must not refresh it.
	d.mu.Lock()
	recorded := time.Now().Add(-59 * time.Second)
	d.seen[sig] = recorded
	d.mu.Unlock()

	for i := 0; i < 3; i++ {
		assert.True(t, d.isDuplicate("file", "medium", "File Modified", "/etc/passwd changed"))
	}

	d.mu.Lock()
	assert.Equal(t, recorded, d.seen[sig])
	d.mu.Unlock()

	// Once the window elapses the alert fires again.
	d.mu.Lock()
	d.seen[sig] = time.Now().Add(-2 * time.Minute)
	d.mu.Unlock()
	assert.False(t, d.isDuplicate("file", "medium", "File Modified", "/etc/passwd changed"))
}

func TestDistinctAlertsNotDeduplicated(t *testing.T) {
	p := newTestPipeline(t, Options{DedupWindow: time.Hour})

	assert.True(t, p.Publish(alert.New("file", alert.SeverityMedium, "File Modified", "/etc/passwd changed")))
	assert.True(t, p.Publish(alert.New("file", alert.SeverityMedium, "File Modified", "/etc/shadow changed")))
	assert.True(t, p.Publish(alert.New("file", alert.SeverityHigh, "File Modified", "/etc/passwd changed")))
	assert.Equal(t, 3, p.HistoryLen())
}

func TestHistoryFilterBySeverityTypeAndLimit(t *testing.T) {
	p := newTestPipeline(t, Options{})

	p.Publish(alert.New("process", alert.SeverityHigh, "A", "a"))
	p.Publish(alert.New("network", alert.SeverityHigh, "B", "b"))
	p.Publish(alert.New("process", alert.SeverityLow, "C", "c"))
	p.Publish(alert.New("process", alert.SeverityHigh, "D", "d"))

	got := p.History(HistoryFilter{Severity: alert.SeverityHigh, Type: "process"})
	require.Len(t, got, 2)
	assert.Equal(t, "D", got[0].Title)
	assert.Equal(t, "A", got[1].Title)

	got = p.History(HistoryFilter{Severity: alert.SeverityHigh, Type: "process", Limit: 1})
	require.Len(t, got, 1)
	assert.Equal(t, "D", got[0].Title)
}

func TestConcurrentPublishKeepsBoundedHistory(t *testing.T) {
	p := newTestPipeline(t, Options{HistoryLimit: 50})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				p.Publish(alert.New("process", alert.SeverityLow, "Burst", fmt.Sprintf("g%d-i%d", g, i)))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 50, p.HistoryLen())
}

func TestPublishWritesJSONLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "alerts.log")
	p := newTestPipeline(t, Options{LogPath: logPath})

	p.Publish(alert.New("process", alert.SeverityHigh, "High CPU", "cpu at 95%"))
	p.Publish(alert.New("network", alert.SeverityLow, "Connection", "port 22"))
	require.NoError(t, p.Close())

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		a, err := alert.Decode(scanner.Bytes())
		require.NoError(t, err)
		assert.NotEmpty(t, a.ID)
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestSubscribeAlertsReceivesPublished(t *testing.T) {
	p := newTestPipeline(t, Options{})

	ch, cancel := p.SubscribeAlerts()
	defer cancel()

	p.Publish(alert.New("process", alert.SeverityHigh, "High CPU", "cpu at 95%"))

	select {
	case a := <-ch:
		assert.Equal(t, "High CPU", a.Title)
	case <-time.After(time.Second):
		t.Fatal("expected an alert on the subscription channel")
	}
}

func TestSubscribeStatsReplaysLastSnapshot(t *testing.T) {
	p := newTestPipeline(t, Options{})

	p.RecordStats(SystemStats{Timestamp: 100, CPUPercent: 10})
	p.RecordStats(SystemStats{Timestamp: 200, CPUPercent: 20})

	ch, cancel := p.SubscribeStats()
	defer cancel()

	select {
	case s := <-ch:
		assert.Equal(t, int64(200), s.Timestamp)
		assert.Equal(t, 20.0, s.CPUPercent)
	case <-time.After(time.Second):
		t.Fatal("expected the last snapshot to be replayed")
	}
}

func TestStatsHistoryBoundedAndFiltered(t *testing.T) {
	p := newTestPipeline(t, Options{StatsLimit: 3})

	for i := 1; i <= 5; i++ {
		p.RecordStats(SystemStats{Timestamp: int64(i * 100)})
	}

	all := p.StatsSince(0)
	require.Len(t, all, 3)
	assert.Equal(t, int64(300), all[0].Timestamp)

	recent := p.StatsSince(450)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(500), recent[0].Timestamp)
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(alert.Alert) error {
	f.calls++
	return fmt.Errorf("sink unavailable")
}

func TestNotifierFailureDoesNotFailPublish(t *testing.T) {
	sink := &failingNotifier{}
	p := newTestPipeline(t, Options{Notifiers: []Notifier{sink}})

	ok := p.Publish(alert.New("process", alert.SeverityHigh, "High CPU", "cpu at 95%"))
	assert.True(t, ok)
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, 1, p.HistoryLen())
}
