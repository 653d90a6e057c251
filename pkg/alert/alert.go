// Package alert defines the Alert record emitted by collectors and the
// pipeline, and the severity scale shared across the agent.
package alert

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Severity classifies how urgent an alert is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps a string onto the severity scale. Unknown values fall
// back to medium rather than failing, matching the scoring defaults.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s)
	default:
		return SeverityMedium
	}
}

// Ordinal returns the numeric rank of the severity (low=1 .. critical=4).
func (s Severity) Ordinal() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 2
	}
}

// ThreatScore is the fused assessment attached to an alert after analysis.
// All component scores are in [0,1].
type ThreatScore struct {
	Overall           float64  `json:"overall"`
	Behavioral        float64  `json:"behavioral"`
	Anomaly           float64  `json:"anomaly"`
	Intelligence      float64  `json:"intelligence"`
	Pattern           float64  `json:"pattern"`
	Confidence        float64  `json:"confidence"`
	RiskFactors       []string `json:"risk_factors,omitempty"`
	RecommendedAction string   `json:"recommended_action"`
	Explanation       string   `json:"explanation"`
}

// Alert is a single finding. Alerts are never mutated after creation; a
// changed condition produces a new alert.
type Alert struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
	Score     *ThreatScore   `json:"score,omitempty"`
}

// New builds an alert with a fresh ID. The pipeline stamps the timestamp at
// publish time.
func New(alertType string, severity Severity, title, message string) Alert {
	return Alert{
		ID:       uuid.NewString(),
		Type:     alertType,
		Severity: severity,
		Title:    title,
		Message:  message,
	}
}

// WithContext returns a copy of the alert with the given context field set.
func (a Alert) WithContext(key string, value any) Alert {
	ctx := make(map[string]any, len(a.Context)+1)
	for k, v := range a.Context {
		ctx[k] = v
	}
	ctx[key] = value
	a.Context = ctx
	return a
}

// Encode renders the alert as a single JSON log record.
func (a Alert) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// Decode parses a JSON log record back into an alert.
func Decode(data []byte) (Alert, error) {
	var a Alert
	err := json.Unmarshal(data, &a)
	return a, err
}
