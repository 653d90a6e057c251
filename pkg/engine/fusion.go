package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/sentinelwatch/sentinelwatch/pkg/alert"
	"github.com/sentinelwatch/sentinelwatch/pkg/event"
)

// Fusion weights. They sum to exactly 1; the overall score is a convex
// combination of the four sub-scores.
const (
	weightBehavioral   = 0.25
	weightAnomaly      = 0.25
	weightIntelligence = 0.30
	weightPattern      = 0.20
)

var controlKeywords = []string{"failed", "error", "denied", "blocked"}

// fuse combines the sub-scores into the final assessment.
func fuse(e event.Event, behavioral, anomaly, intelligence, pattern float64, modelTrained bool) alert.ThreatScore {
	overall := weightBehavioral*behavioral +
		weightAnomaly*anomaly +
		weightIntelligence*intelligence +
		weightPattern*pattern
	overall = clamp01(overall)

	risks := riskFactors(e, behavioral, anomaly, intelligence)

	return alert.ThreatScore{
		Overall:           overall,
		Behavioral:        behavioral,
		Anomaly:           anomaly,
		Intelligence:      intelligence,
		Pattern:           pattern,
		Confidence:        confidence(e, overall, modelTrained),
		RiskFactors:       risks,
		RecommendedAction: recommendAction(overall),
		Explanation:       explain(overall, risks),
	}
}

func riskFactors(e event.Event, behavioral, anomaly, intelligence float64) []string {
	var risks []string
	if behavioral > 0.5 {
		risks = append(risks, "behavioral_anomaly")
	}
	if anomaly > 0.5 {
		risks = append(risks, "statistical_anomaly")
	}
	if intelligence > 0.3 {
		risks = append(risks, "threat_intelligence_match")
	}
	if sev := alert.ParseSeverity(e.Severity); sev == alert.SeverityHigh || sev == alert.SeverityCritical {
		risks = append(risks, "high_severity_event")
	}
	if containsAny(strings.ToLower(e.Message), controlKeywords) {
		risks = append(risks, "security_control_triggered")
	}
	if _, ok := privilegedUsers[strings.ToLower(e.UserName)]; ok {
		risks = append(risks, "privileged_account")
	}
	return risks
}

// recommendAction is a step function of the overall score.
func recommendAction(overall float64) string {
	switch {
	case overall >= 0.8:
		return "immediate_response"
	case overall >= 0.6:
		return "investigate"
	case overall >= 0.4:
		return "monitor_closely"
	case overall >= 0.2:
		return "monitor"
	default:
		return "log_only"
	}
}

// confidence starts at 0.5 and grows with the amount of evidence behind the
// assessment.
func confidence(e event.Event, overall float64, modelTrained bool) float64 {
	c := 0.5
	c += math.Min(float64(e.FieldCount())*0.02, 0.3)
	if overall > 0.5 {
		c += 0.2
	}
	if modelTrained {
		c += 0.1
	}
	return math.Min(c, 1.0)
}

func explain(overall float64, risks []string) string {
	joined := strings.Join(risks, ", ")
	switch {
	case overall >= 0.8:
		return fmt.Sprintf("High-confidence threat detected with risk factors: %s", joined)
	case overall >= 0.6:
		return fmt.Sprintf("Potentially suspicious activity detected: %s", joined)
	case overall >= 0.4:
		return fmt.Sprintf("Anomalous behavior observed: %s", joined)
	case overall >= 0.2:
		return fmt.Sprintf("Minor security indicators: %s", joined)
	default:
		return "Normal activity with no significant security indicators"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
