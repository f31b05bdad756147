package events

import (
	"strings"
	"time"
)

const (
	KnowledgeStored    = "KNOWLEDGE_STORED"
	KnowledgeDropped   = "KNOWLEDGE_DROPPED"
	ContextShared      = "CONTEXT_SHARED"
	InteractionLearned = "INTERACTION_LEARNED"
	MemoryCleaned      = "MEMORY_CLEANED"

	MaintenanceSummarize = "MAINTENANCE_SUMMARIZE"
	MaintenanceCleanup   = "MAINTENANCE_CLEANUP"
)

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "KNOWLEDGE_STORED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// Subject maps an event type onto the dotted subject/topic it travels on,
// e.g. KNOWLEDGE_STORED -> memory.knowledge.stored.
func Subject(eventType string) string {
	return "memory." + strings.ReplaceAll(strings.ToLower(eventType), "_", ".")
}

// TypeFromSubject is the inverse of Subject.
func TypeFromSubject(subject string) string {
	s := strings.TrimPrefix(subject, "memory.")
	return strings.ToUpper(strings.ReplaceAll(s, ".", "_"))
}
