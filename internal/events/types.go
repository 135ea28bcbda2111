// Package events provides the in-process event bus used to stream
// backtest progress and guardrail alerts.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	BacktestStarted    EventType = "BACKTEST_STARTED"
	StepCompleted      EventType = "STEP_COMPLETED"
	GuardrailTriggered EventType = "GUARDRAIL_TRIGGERED"
	BacktestCompleted  EventType = "BACKTEST_COMPLETED"
	CoverageAlert      EventType = "COVERAGE_ALERT"
	BackupCompleted    EventType = "BACKUP_COMPLETED"
	ErrorOccurred      EventType = "ERROR_OCCURRED"
)

// AllTypes lists every event type in emission order of a typical run.
var AllTypes = []EventType{
	BacktestStarted,
	StepCompleted,
	GuardrailTriggered,
	BacktestCompleted,
	CoverageAlert,
	BackupCompleted,
	ErrorOccurred,
}

// Event represents a system event
type Event struct {
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}
