package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentinelwatch/sentinelwatch/pkg/event"
)

func TestFuseIsWeightedCombination(t *testing.T) {
	e := event.Event{Severity: "low", Timestamp: noon}
	score := fuse(e, 0.4, 0.8, 0.5, 1.0, false)

	// 0.25*0.4 + 0.25*0.8 + 0.30*0.5 + 0.20*1.0
	assert.InDelta(t, 0.65, score.Overall, 1e-9)
	assert.Equal(t, 0.4, score.Behavioral)
	assert.Equal(t, 0.8, score.Anomaly)
	assert.Equal(t, 0.5, score.Intelligence)
	assert.Equal(t, 1.0, score.Pattern)
}

func TestFuseZeroInputs(t *testing.T) {
	score := fuse(event.Event{Severity: "low", Timestamp: noon}, 0, 0, 0, 0, false)
	assert.Equal(t, 0.0, score.Overall)
	assert.Equal(t, "log_only", score.RecommendedAction)
	assert.Empty(t, score.RiskFactors)
	assert.Equal(t, "Normal activity with no significant security indicators", score.Explanation)
}

func TestRecommendActionThresholds(t *testing.T) {
	assert.Equal(t, "immediate_response", recommendAction(0.85))
	assert.Equal(t, "immediate_response", recommendAction(0.8))
	assert.Equal(t, "investigate", recommendAction(0.7))
	assert.Equal(t, "monitor_closely", recommendAction(0.5))
	assert.Equal(t, "monitor", recommendAction(0.25))
	assert.Equal(t, "log_only", recommendAction(0.1))
}

func TestRiskFactors(t *testing.T) {
	e := event.Event{
		Severity: "critical",
		Message:  "login denied for user",
		UserName: "root",
	}
	risks := riskFactors(e, 0.6, 0.7, 0.4)

	assert.Contains(t, risks, "behavioral_anomaly")
	assert.Contains(t, risks, "statistical_anomaly")
	assert.Contains(t, risks, "threat_intelligence_match")
	assert.Contains(t, risks, "high_severity_event")
	assert.Contains(t, risks, "security_control_triggered")
	assert.Contains(t, risks, "privileged_account")
}

func TestRiskFactorsBelowThresholds(t *testing.T) {
	e := event.Event{Severity: "low", Message: "routine activity", UserName: "alice"}
	assert.Empty(t, riskFactors(e, 0.5, 0.5, 0.3))
}

func TestConfidenceGrowsWithEvidence(t *testing.T) {
	sparse := event.Event{Severity: "low", Timestamp: noon}
	rich := event.Event{
		Category:      "network",
		Severity:      "high",
		Timestamp:     noon,
		SourceIP:      "10.0.0.1",
		DestinationIP: "203.0.113.9",
		ProcessName:   "curl",
		UserName:      "alice",
		HostName:      "web-1",
		Message:       "outbound transfer",
	}

	low := confidence(sparse, 0.1, false)
	high := confidence(rich, 0.7, true)

	assert.Greater(t, high, low)
	assert.LessOrEqual(t, high, 1.0)
	assert.GreaterOrEqual(t, low, 0.5)
}

func TestConfidenceComponents(t *testing.T) {
	e := event.Event{Severity: "low", Timestamp: noon} // two populated fields
	base := confidence(e, 0.1, false)
	withScore := confidence(e, 0.6, false)
	withModel := confidence(e, 0.6, true)

	assert.InDelta(t, 0.2, withScore-base, 1e-9)
	assert.InDelta(t, 0.1, withModel-withScore, 1e-9)
}

func TestExplanationTiers(t *testing.T) {
	risks := []string{"threat_intelligence_match"}
	assert.Contains(t, explain(0.85, risks), "High-confidence threat")
	assert.Contains(t, explain(0.65, risks), "Potentially suspicious")
	assert.Contains(t, explain(0.45, risks), "Anomalous behavior")
	assert.Contains(t, explain(0.25, risks), "Minor security indicators")
}
