package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrCircuitOpen = errors.New("circuit breaker open")
	ErrOutboxFull  = errors.New("audit outbox full")
	ErrExists      = errors.New("already exists")
)

// PreconditionError reports a caller or configuration bug: an input that is
// outside its contract. It is never retried.
type PreconditionError struct {
	Field  string
	Reason string
}

func (e *PreconditionError) Error() string {
	if e.Field == "" {
		return "precondition failed: " + e.Reason
	}
	return fmt.Sprintf("precondition failed: %s: %s", e.Field, e.Reason)
}

// OperationRejected is the expected negative outcome of the pipeline.
type OperationRejected struct {
	Stage  Stage
	Code   ReasonCode
	Detail string
}

func (e *OperationRejected) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("operation rejected at %s: %s", e.Stage, e.Code)
	}
	return fmt.Sprintf("operation rejected at %s: %s: %s", e.Stage, e.Code, e.Detail)
}

// SlashingTriggered is a stage-2 rejection that also penalised the responsible party.
type SlashingTriggered struct {
	OperationID string
	FaultIndex  int
	Slash       *SlashOutcome
	Transitions []StateTransition
}

func (e *SlashingTriggered) Error() string {
	if e.Slash != nil {
		return fmt.Sprintf("operation %s slashed: fi=%d amount=%s", e.OperationID, e.FaultIndex, e.Slash.Amount)
	}
	return fmt.Sprintf("operation %s rejected with penalty: fi=%d", e.OperationID, e.FaultIndex)
}

// StaleDataError is returned when a cached price is older than the allowed bound.
type StaleDataError struct {
	Asset  string
	Age    time.Duration
	MaxAge time.Duration
}

func (e *StaleDataError) Error() string {
	if e.Age < 0 {
		return fmt.Sprintf("no price for %s", e.Asset)
	}
	return fmt.Sprintf("price for %s is stale: age %s exceeds %s", e.Asset, e.Age, e.MaxAge)
}

// InvalidTransitionError is returned for state edges outside the allowed matrix.
type InvalidTransitionError struct {
	From InvestorState
	To   InvestorState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid investor transition %s -> %s", e.From, e.To)
}
