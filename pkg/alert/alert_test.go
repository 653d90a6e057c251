package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityLow, ParseSeverity("low"))
	assert.Equal(t, SeverityCritical, ParseSeverity("critical"))
	assert.Equal(t, SeverityMedium, ParseSeverity("bogus"))
	assert.Equal(t, SeverityMedium, ParseSeverity(""))
}

func TestSeverityOrdinal(t *testing.T) {
	assert.Equal(t, 1, SeverityLow.Ordinal())
	assert.Equal(t, 2, SeverityMedium.Ordinal())
	assert.Equal(t, 3, SeverityHigh.Ordinal())
	assert.Equal(t, 4, SeverityCritical.Ordinal())
	assert.Equal(t, 2, Severity("bogus").Ordinal())
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	a := New("process", SeverityHigh, "High CPU", "cpu at 95%")
	b := New("process", SeverityHigh, "High CPU", "cpu at 95%")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestWithContextDoesNotMutateOriginal(t *testing.T) {
	a := New("network", SeverityMedium, "Connection", "port 22").
		WithContext("remote_address", "203.0.113.9")
	b := a.WithContext("remote_port", 4444)

	assert.Len(t, a.Context, 1)
	assert.Len(t, b.Context, 2)
	assert.Equal(t, "203.0.113.9", b.Context["remote_address"])
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	a := New("file", SeverityHigh, "File Modified", "/etc/passwd changed").
		WithContext("file_path", "/etc/passwd")
	a.Timestamp = time.Now().Truncate(time.Second)
	a.Score = &ThreatScore{
		Overall:           0.72,
		Confidence:        0.8,
		RiskFactors:       []string{"high_severity_event"},
		RecommendedAction: "investigate",
	}

	data, err := a.Encode()
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.Severity, got.Severity)
	assert.True(t, a.Timestamp.Equal(got.Timestamp))
	require.NotNil(t, got.Score)
	assert.Equal(t, 0.72, got.Score.Overall)
	assert.Equal(t, "investigate", got.Score.RecommendedAction)
}
