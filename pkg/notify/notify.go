// Package notify implements the external alert sinks invoked by the
// pipeline. The sink used is chosen at composition time; NopNotifier keeps
// the wiring uniform when no external sink is configured.
package notify

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sentinelwatch/sentinelwatch/pkg/alert"
	"github.com/sentinelwatch/sentinelwatch/pkg/pipeline"
)

const (
	alertSubject = "sentinelwatch.alerts"
	statsSubject = "sentinelwatch.stats"
)

// NopNotifier discards alerts.
type NopNotifier struct{}

func (NopNotifier) Notify(alert.Alert) error { return nil }

// NATSNotifier publishes alert and stats records as JSON on NATS subjects
// for downstream SIEM or chat integrations.
type NATSNotifier struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewNATSNotifier connects to the given NATS server.
func NewNATSNotifier(url string, logger zerolog.Logger) (*NATSNotifier, error) {
	conn, err := nats.Connect(url, nats.Name("sentinelwatch"))
	if err != nil {
		return nil, err
	}
	return &NATSNotifier{
		conn:   conn,
		logger: logger.With().Str("component", "nats_notifier").Logger(),
	}, nil
}

// Notify publishes one alert record.
func (n *NATSNotifier) Notify(a alert.Alert) error {
	data, err := a.Encode()
	if err != nil {
		return err
	}
	return n.conn.Publish(alertSubject, data)
}

// NotifyStats publishes one stats snapshot.
func (n *NATSNotifier) NotifyStats(s pipeline.SystemStats) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return n.conn.Publish(statsSubject, data)
}

// Close drains and closes the connection.
func (n *NATSNotifier) Close() {
	if err := n.conn.Drain(); err != nil {
		n.logger.Warn().Err(err).Msg("NATS drain failed")
	}
}
