package engine

import (
	"strings"
	"time"

	"github.com/sentinelwatch/sentinelwatch/pkg/event"
)

// Pattern matching scores an event against static rule families and returns
// the maximum across them. Rules are stateless except for the lateral
// movement heuristic, which reads the rolling auth-host index.

// killChainScores weights event categories by kill-chain phase.
var killChainScores = map[string]float64{
	"reconnaissance":     0.2,
	"weaponization":      0.4,
	"delivery":           0.6,
	"exploitation":       0.8,
	"installation":       0.7,
	"command_control":    0.9,
	"actions_objectives": 1.0,
}

// exfilByteThreshold marks transfers considered large enough to matter.
const exfilByteThreshold = 100_000_000

func matchPatterns(e event.Event, log *eventLog, now time.Time) float64 {
	score := techniqueIndicators(e)
	if s := killChainScore(e); s > score {
		score = s
	}
	if s := lateralMovementScore(e, log, now); s > score {
		score = s
	}
	if s := exfiltrationScore(e, now); s > score {
		score = s
	}
	return score
}

// techniqueIndicators checks for known attack tooling and technique markers.
func techniqueIndicators(e event.Event) float64 {
	var score float64
	proc := strings.ToLower(e.ProcessName)
	cmdline := strings.ToLower(e.CommandLine)
	msg := strings.ToLower(e.Message)

	// Process injection hosts.
	if proc == "rundll32.exe" || proc == "regsvr32.exe" || strings.Contains(msg, "injection") {
		score = max64(score, 0.8)
	}
	// Credential dumping tooling.
	for _, tool := range []string{"mimikatz", "lsass", "procdump"} {
		if strings.Contains(proc, tool) {
			score = max64(score, 0.9)
		}
	}
	// Host discovery commands.
	for _, cmd := range []string{"systeminfo", "whoami", "net user"} {
		if strings.Contains(cmdline, cmd) {
			score = max64(score, 0.4)
		}
	}
	// Remote service access over admin ports.
	if e.Category == "network" && e.SourceIP != "" && e.DestinationIP != "" {
		switch e.DestinationPort {
		case 3389, 22, 5985:
			score = max64(score, 0.6)
		}
	}
	return score
}

func killChainScore(e event.Event) float64 {
	return killChainScores[strings.ToLower(e.Category)]
}

// lateralMovementScore flags the same user authenticating across multiple
// hosts in a short window, and remote administrative tooling.
func lateralMovementScore(e event.Event, log *eventLog, now time.Time) float64 {
	var score float64

	if e.Category == "authentication" && e.SourceIP != e.DestinationIP {
		hosts := log.authHosts(e.UserName, 30*time.Minute, now)
		if hosts > 3 {
			score = max64(score, 0.7)
		} else if hosts > 1 {
			score = max64(score, 0.4)
		}
	}

	proc := strings.ToLower(e.ProcessName)
	if (proc == "psexec.exe" || proc == "wmic.exe") && e.SourceIP != e.DestinationIP && e.SourceIP != "" {
		score = max64(score, 0.8)
	}
	return score
}

// exfiltrationScore combines independent transfer-size, timing, and tooling
// signals via max.
func exfiltrationScore(e event.Event, now time.Time) float64 {
	var score float64

	if e.BytesTransferred > exfilByteThreshold {
		score = max64(score, 0.6)
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = now
	}
	if hour := ts.Hour(); hour < 6 || hour > 22 {
		score = max64(score, 0.3)
	}

	proc := strings.ToLower(e.ProcessName)
	for _, tool := range []string{"7z", "winrar", "zip", "tar"} {
		if strings.Contains(proc, tool) {
			score = max64(score, 0.4)
		}
	}
	return score
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
