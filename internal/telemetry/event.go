// Package telemetry implements the structured event stream the Job
// Manager (C10) emits at each pipeline stage (spec §4.10, §5).
package telemetry

import "time"

// EventType enumerates the structured events spec §4.10 names.
type EventType string

const (
	ContractGenerated EventType = "ContractGenerated"
	DeterministicPass  EventType = "DeterministicPass"
	LLMAugmentation    EventType = "LLMAugmentation"
	ContractValidation EventType = "ContractValidation"
	FallbackTaken      EventType = "FallbackTaken"
	CacheHit           EventType = "CacheHit"
	JobCompleted       EventType = "JobCompleted"
)

// Event carries a correlation id and sequence number so that events for
// one job are totally ordered (spec §4.10's ordering guarantee). Fields
// subject to redaction policy must already be masked by the caller
// before the event reaches Emit.
type Event struct {
	Type          EventType   `json:"type"`
	CorrelationID string      `json:"correlationId"`
	Sequence      uint64      `json:"sequence"`
	Timestamp     time.Time   `json:"timestamp"`
	Data          interface{} `json:"data"`
}
