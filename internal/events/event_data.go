package events

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// BacktestStartedData contains data for BacktestStarted events
type BacktestStartedData struct {
	RunID   string   `json:"run_id"`
	Steps   int      `json:"steps"`
	Symbols []string `json:"symbols"`
}

// EventType returns the event type for BacktestStartedData
func (d *BacktestStartedData) EventType() EventType {
	return BacktestStarted
}

// StepCompletedData contains data for StepCompleted events
type StepCompletedData struct {
	RunID         string             `json:"run_id"`
	Date          string             `json:"date"`
	State         string             `json:"state"`
	NAV           float64            `json:"nav"`
	CoverageRatio float64            `json:"coverage_ratio"`
	Cost          float64            `json:"cost"`
	Weights       map[string]float64 `json:"weights"`
}

// EventType returns the event type for StepCompletedData
func (d *StepCompletedData) EventType() EventType {
	return StepCompleted
}

// GuardrailTriggeredData contains data for GuardrailTriggered events
type GuardrailTriggeredData struct {
	RunID         string  `json:"run_id"`
	Date          string  `json:"date"`
	Status        string  `json:"status"`
	CoverageRatio float64 `json:"coverage_ratio"`
	Drawdown      float64 `json:"drawdown"`
	Alert         string  `json:"alert,omitempty"`
}

// EventType returns the event type for GuardrailTriggeredData
func (d *GuardrailTriggeredData) EventType() EventType {
	return GuardrailTriggered
}

// BacktestCompletedData contains data for BacktestCompleted events
type BacktestCompletedData struct {
	RunID       string  `json:"run_id"`
	FinalNAV    float64 `json:"final_nav"`
	CAGR        float64 `json:"cagr"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Cancelled   bool    `json:"cancelled,omitempty"`
}

// EventType returns the event type for BacktestCompletedData
func (d *BacktestCompletedData) EventType() EventType {
	return BacktestCompleted
}

// CoverageAlertData contains data for CoverageAlert events
type CoverageAlertData struct {
	RunID         string  `json:"run_id,omitempty"`
	Status        string  `json:"status"`
	CoverageRatio float64 `json:"coverage_ratio"`
	Drawdown      float64 `json:"drawdown"`
	Instructions  string  `json:"instructions,omitempty"`
}

// EventType returns the event type for CoverageAlertData
func (d *CoverageAlertData) EventType() EventType {
	return CoverageAlert
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
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
