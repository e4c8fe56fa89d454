package models

// Status states published on a unit's status topic
const (
	StatusIdle      = "IDLE"
	StatusOnline    = "ONLINE"
	StatusActing    = "ACTING"
	StatusCompleted = "COMPLETED"
	StatusError     = "ERROR"
)

// StatusMessage reports a state transition of a unit
type StatusMessage struct {
	Module    string `json:"module"`
	State     string `json:"state"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"` // milliseconds since boot
}

// TelemetryMessage is a flat map of calibrated readings and binary feedback states
type TelemetryMessage map[string]any
