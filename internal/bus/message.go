// Package bus implements the in-process A2A (agent-to-agent) message
// transport: topic pub/sub with FIFO-per-publisher-per-topic delivery, and a
// point-to-point request/response registry with deadlines. Grounded on
// original_source/_SUDOTEER/backups/working_state_snapshot/backend/core/
// bus.py, restructured per the "module-level singletons -> composed
// runtime value" shift into a constructible Bus with no package-level
// state.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the four message kinds of the A2A protocol.
type Kind string

const (
	KindRequest   Kind = "request"
	KindResponse  Kind = "response"
	KindBroadcast Kind = "broadcast"
	KindEvent     Kind = "event"
)

// Priority enumerates message urgency; the bus does not reorder on
// priority today, but it is carried through for agents/observability.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Message is the unit of A2A communication. ID is globally unique for the
// lifetime of the process; From and To are never empty; a response carries
// ParentID pointing at the request it answers.
type Message struct {
	ID               string
	TS               time.Time
	From             string
	To               string
	Content          any
	Kind             Kind
	Priority         Priority
	RequiresResponse bool
	ParentID         string
	Metadata         map[string]string
}

// NewMessage fills in ID and TS; it does not validate From/To (Valid checks
// the invariants). Callers for broadcast/event style "to" topics pass a
// synthetic destination such as "topic:<name>".
func NewMessage(from, to string, kind Kind, content any) Message {
	return Message{
		ID:      uuid.NewString(),
		TS:      time.Now(),
		From:    from,
		To:      to,
		Content: content,
		Kind:    kind,
	}
}

// Valid reports whether the message satisfies the A2A invariants of
// From/To must be non-empty, and a response must carry a ParentID.
func (m Message) Valid() bool {
	if m.From == "" || m.To == "" {
		return false
	}
	if m.Kind == KindResponse && m.ParentID == "" {
		return false
	}
	return true
}
