package models

import "time"

type EventType string

const (
	EventOperationEvaluated EventType = "OperationEvaluated"
	EventSlashingExecuted   EventType = "SlashingExecuted"
	EventStateTransitioned  EventType = "StateTransitioned"
)

// AuditEvent is the envelope written to every audit sink. Exactly one of the
// payload pointers is set, matching Type.
type AuditEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	OccurredAt    time.Time `json:"occurred_at"`
	ConfigVersion uint64    `json:"config_version"`
	OperationID   string    `json:"operation_id,omitempty"`
	FundID        string    `json:"fund_id,omitempty"`
	ManagerID     string    `json:"manager_id,omitempty"`
	InvestorID    string    `json:"investor_id,omitempty"`

	Evaluation *OperationEvaluated `json:"evaluation,omitempty"`
	Slashing   *SlashingExecuted   `json:"slashing,omitempty"`
	Transition *StateTransitioned  `json:"transition,omitempty"`
}

// Key is the partitioning key: events of one fund stay ordered.
func (e *AuditEvent) Key() string {
	if e.FundID != "" {
		return e.FundID
	}
	return e.InvestorID
}

type OperationEvaluated struct {
	Operation Operation       `json:"operation"`
	Result    OperationResult `json:"result"`
}

type SlashingExecuted struct {
	Input   SlashInput   `json:"input"`
	Outcome SlashOutcome `json:"outcome"`
}

type StateTransitioned struct {
	Transition StateTransition `json:"transition"`
	Metrics    BehaviorMetrics `json:"metrics"`
}
