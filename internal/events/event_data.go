package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RunStartedData contains data for RunStarted events
type RunStartedData struct {
	RunID     string  `json:"run_id"`
	Objective string  `json:"objective"`
	Assets    int     `json:"assets"`
	Scenarios int     `json:"scenarios"`
	Order     float64 `json:"order"`
}

// EventType returns the event type for RunStartedData
func (d *RunStartedData) EventType() EventType {
	return RunStarted
}

// RoundCompletedData contains data for RoundCompleted events
type RoundCompletedData struct {
	RunID           string  `json:"run_id"`
	Round           int     `json:"round"`
	State           string  `json:"state"`
	ActiveCount     int     `json:"active_count"`
	ResidualNorm    float64 `json:"residual_norm"`
	Iterations      int     `json:"iterations"`
	NewtonConverged bool    `json:"newton_converged"`
	Violated        bool    `json:"violated"`
	Threshold       float64 `json:"threshold,omitempty"`
	Violation       float64 `json:"violation,omitempty"`
}

// EventType returns the event type for RoundCompletedData
func (d *RoundCompletedData) EventType() EventType {
	return RoundCompleted
}

// RunCompletedData contains data for RunCompleted events
type RunCompletedData struct {
	RunID            string    `json:"run_id"`
	Converged        bool      `json:"converged"`
	NewtonConverged  bool      `json:"newton_converged"`
	Rounds           int       `json:"rounds"`
	ActiveThresholds int       `json:"active_thresholds"`
	Objective        float64   `json:"objective"`
	Weights          []float64 `json:"weights"`
	Duration         float64   `json:"duration"` // seconds
	Warning          string    `json:"warning,omitempty"`
}

// EventType returns the event type for RunCompletedData
func (d *RunCompletedData) EventType() EventType {
	return RunCompleted
}

// RunFailedData contains data for RunFailed events
type RunFailedData struct {
	RunID string `json:"run_id"`
	Error string `json:"error"`
}

// EventType returns the event type for RunFailedData
func (d *RunFailedData) EventType() EventType {
	return RunFailed
}

// CleanupCompletedData contains data for CleanupCompleted events
type CleanupCompletedData struct {
	Deleted int64     `json:"deleted"`
	Cutoff  time.Time `json:"cutoff"`
}

// EventType returns the event type for CleanupCompletedData
func (d *CleanupCompletedData) EventType() EventType {
	return CleanupCompleted
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
	Pruned    int    `json:"pruned"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// SystemStatusData contains data for SystemStatusChanged events
type SystemStatusData struct {
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryPercent     float64 `json:"memory_percent"`
	DatabaseSizeBytes int64   `json:"database_size_bytes"`
	FailingJobs       int     `json:"failing_jobs"`
}

// EventType returns the event type for SystemStatusData
func (d *SystemStatusData) EventType() EventType {
	return SystemStatusChanged
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// UnmarshalJSON decodes an event and restores its typed data
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if len(aux.Data) == 0 || string(aux.Data) == "null" {
		return nil
	}

	var eventData EventData
	switch aux.Type {
	case RunStarted:
		eventData = &RunStartedData{}
	case RoundCompleted:
		eventData = &RoundCompletedData{}
	case RunCompleted:
		eventData = &RunCompletedData{}
	case RunFailed:
		eventData = &RunFailedData{}
	case CleanupCompleted:
		eventData = &CleanupCompletedData{}
	case BackupCompleted:
		eventData = &BackupCompletedData{}
	case SystemStatusChanged:
		eventData = &SystemStatusData{}
	case ErrorOccurred:
		eventData = &ErrorEventData{}
	default:
		eventData = &GenericEventData{Type: aux.Type}
	}

	if err := json.Unmarshal(aux.Data, eventData); err != nil {
		return err
	}
	e.Data = eventData
	return nil
}

// GenericEventData is a fallback for events that don't have a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON customizes JSON deserialization for GenericEventData
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
