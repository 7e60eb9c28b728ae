package jobfeed

import (
	"slices"
	"time"

	"github.com/bissquit/job-alerts/internal/domain"
)

// Operation is the kind of catalog write that produced an event.
type Operation string

// Operations.
const (
	OperationInsert Operation = "insert"
	OperationUpdate Operation = "update"
)

// Changed field names recorded by the feed trigger.
const (
	FieldModerationStatus = "moderation_status"
	FieldStatus           = "status"
)

// Event is one row of the job change feed. Statuses hold the values after
// the change; Xact is the ID of the transaction that wrote the row.
type Event struct {
	ID               int64
	Xact             int64
	JobID            string
	Operation        Operation
	ModerationStatus domain.ModerationStatus
	Status           domain.JobStatus
	ChangedFields    []string
	CreatedAt        time.Time
}

// Position returns the feed position of e.
func (e Event) Position() Position {
	return Position{Xact: e.Xact, ID: e.ID}
}

// Changed reports whether field was modified by the write.
func (e Event) Changed(field string) bool {
	return slices.Contains(e.ChangedFields, field)
}

// Qualifies reports whether the event may have made a job newly visible:
// an insert that is already publishable, or an update to moderation status
// or status that leaves the job approved and active.
func Qualifies(e Event) bool {
	if !domain.IsPublishable(e.ModerationStatus, e.Status) {
		return false
	}
	switch e.Operation {
	case OperationInsert:
		return true
	case OperationUpdate:
		return e.Changed(FieldModerationStatus) || e.Changed(FieldStatus)
	default:
		return false
	}
}

// Position is a point in the feed. Events are ordered by writing transaction,
// then by ID, and a session only returns events of transactions older than
// every transaction still running. A transaction that commits late therefore
// sorts after every position already handed out.
type Position struct {
	Xact int64
	ID   int64
}

// Less reports whether p sorts before o.
func (p Position) Less(o Position) bool {
	if p.Xact != o.Xact {
		return p.Xact < o.Xact
	}
	return p.ID < o.ID
}
