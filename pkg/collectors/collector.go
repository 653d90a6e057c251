// Package collectors defines the contract shared by the telemetry
// collectors and the classification of their failures.
package collectors

import (
	"context"
	"fmt"

	"github.com/sentinelwatch/sentinelwatch/pkg/alert"
)

// Collector is one telemetry source polled by the monitoring loop. Collect
// returns the raw alert candidates found in this cycle. Errors crossing the
// Collect boundary are always systemic (see ErrorClass); per-item failures
// are handled inside the collector.
type Collector interface {
	Name() string
	Collect(ctx context.Context) ([]alert.Alert, error)
}

// ErrorClass classifies a collection failure.
type ErrorClass string

const (
	// ClassTransient covers a single item vanishing or being denied; the
	// item is skipped and never surfaces as an error.
	ClassTransient ErrorClass = "transient"
	// ClassSystemic covers the enumeration source itself failing; the cycle
	// emits one degraded-severity alert and continues.
	ClassSystemic ErrorClass = "systemic"
)

// Error is a classified collection failure.
type Error struct {
	Collector string
	Class     ErrorClass
	Cause     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s collection error: %v", e.Collector, e.Class, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Systemic wraps a failure of the enumeration source itself.
func Systemic(collector string, cause error) *Error {
	return &Error{Collector: collector, Class: ClassSystemic, Cause: cause}
}

// MonitoringErrorAlert is the single degraded alert a collector emits when a
// systemic failure interrupts a cycle.
func MonitoringErrorAlert(collector string, cause error) alert.Alert {
	return alert.New(
		"system",
		alert.SeverityMedium,
		"Monitoring Error",
		fmt.Sprintf("Error during %s monitoring: %v", collector, cause),
	).WithContext("collector", collector)
}
