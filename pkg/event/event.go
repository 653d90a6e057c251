// Package event defines the telemetry event handed to the detection engine.
package event

import "time"

// Event is a single host observation produced by a collector or supplied
// externally for analysis. Events are value types and are never mutated
// after creation.
type Event struct {
	Category         string    `json:"category,omitempty"`
	Severity         string    `json:"severity,omitempty"`
	Timestamp        time.Time `json:"timestamp,omitempty"`
	SourceIP         string    `json:"source_ip,omitempty"`
	DestinationIP    string    `json:"destination_ip,omitempty"`
	SourcePort       int       `json:"source_port,omitempty"`
	DestinationPort  int       `json:"destination_port,omitempty"`
	ProcessName      string    `json:"process_name,omitempty"`
	CommandLine      string    `json:"command_line,omitempty"`
	FilePath         string    `json:"file_path,omitempty"`
	FileHash         string    `json:"file_hash,omitempty"`
	Domain           string    `json:"domain,omitempty"`
	UserName         string    `json:"user_name,omitempty"`
	HostName         string    `json:"host_name,omitempty"`
	Message          string    `json:"message,omitempty"`
	BytesTransferred int64     `json:"bytes_transferred,omitempty"`
}

// FieldCount returns the number of populated fields. The fusion stage uses
// this as a proxy for how much evidence backs the assessment.
func (e Event) FieldCount() int {
	n := 0
	for _, s := range []string{
		e.Category, e.Severity, e.SourceIP, e.DestinationIP, e.ProcessName,
		e.CommandLine, e.FilePath, e.FileHash, e.Domain, e.UserName,
		e.HostName, e.Message,
	} {
		if s != "" {
			n++
		}
	}
	if !e.Timestamp.IsZero() {
		n++
	}
	if e.SourcePort != 0 {
		n++
	}
	if e.DestinationPort != 0 {
		n++
	}
	if e.BytesTransferred != 0 {
		n++
	}
	return n
}

// Entity returns the behavioral entity this event is attributed to: the user
// if one is present, otherwise the host.
func (e Event) Entity() (id, entityType string) {
	if e.UserName != "" {
		return e.UserName, "user"
	}
	if e.HostName != "" {
		return e.HostName, "host"
	}
	return "unknown", "host"
}
