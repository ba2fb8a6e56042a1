// Package coordinator implements the multi-store write coordinator.
//
// A write intent fans out to an ordered set of named targets (record
// store, vector index, graph store, memory log). Delivery is
// attempt-all/report-all: one target's failure never aborts delivery to
// the remaining targets. Partially applied creates and updates are
// compensated best-effort on a background queue, and every state
// transition is appended to a per-scope operation log.
package coordinator

import (
	"time"

	"github.com/google/uuid"

	"github.com/recallhq/recall-go/pkg/storage"
)

// OpKind is the kind of write an operation performs.
type OpKind string

const (
	// OpCreate inserts new records into every target.
	OpCreate OpKind = "create"

	// OpUpdate replaces existing records; the pre-image is captured for
	// compensation before delivery.
	OpUpdate OpKind = "update"

	// OpDelete removes records from every target.
	OpDelete OpKind = "delete"

	// OpBatchCreate inserts multiple records as one operation.
	OpBatchCreate OpKind = "batchCreate"
)

// Valid reports whether k is a known operation kind.
func (k OpKind) Valid() bool {
	switch k {
	case OpCreate, OpUpdate, OpDelete, OpBatchCreate:
		return true
	}
	return false
}

// Status is the lifecycle state of a write operation.
//
// Transitions: pending → inProgress → {completed | failed} →
// {compensating → compensated}.
type Status string

const (
	StatusPending      Status = "pending"
	StatusInProgress   Status = "inProgress"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
)

// Operation is one tracked multi-target write.
type Operation struct {
	// ID is the unique operation identifier.
	ID string `json:"id"`

	// Kind is the write kind (create, update, delete, batchCreate).
	Kind OpKind `json:"kind"`

	// Targets is the ordered set of adapter names to deliver to.
	Targets []string `json:"targets"`

	// Records is the operation payload.
	Records []*storage.Record `json:"records"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Attempts counts delivery (or compensation) passes so far.
	Attempts int `json:"attempts"`

	// MaxAttempts bounds retries and compensation passes.
	MaxAttempts int `json:"max_attempts"`

	// CompletedTargets lists targets that acknowledged the write.
	CompletedTargets []string `json:"completed_targets,omitempty"`

	// FailedTargets lists targets whose write failed.
	FailedTargets []string `json:"failed_targets,omitempty"`

	// Compensation holds pre-image records captured before an update,
	// keyed by position in Records. Empty for creates and deletes.
	Compensation []*storage.Record `json:"compensation,omitempty"`

	// ScopeKey partitions the operation log by (owner, project).
	ScopeKey string `json:"scope_key"`

	// CreatedAt is when the operation was accepted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the operation last changed state.
	UpdatedAt time.Time `json:"updated_at"`
}

// newOperation builds a pending operation for the given intent fields.
func newOperation(kind OpKind, targets []string, records []*storage.Record, scopeKey string, maxAttempts int) *Operation {
	now := time.Now().UTC()
	return &Operation{
		ID:          uuid.NewString(),
		Kind:        kind,
		Targets:     append([]string(nil), targets...),
		Records:     records,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		ScopeKey:    scopeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// setStatus updates the operation status and its UpdatedAt timestamp.
func (o *Operation) setStatus(s Status) {
	o.Status = s
	o.UpdatedAt = time.Now().UTC()
}

// WriteResult is the caller-visible outcome of a submitted write.
//
// Success is true only when every target acknowledged the write.
// Pending is true for low-priority writes accepted onto the background
// queue; their final outcome is observable through the operation log.
type WriteResult struct {
	// Success reports whether all targets completed.
	Success bool `json:"success"`

	// Pending reports that the write was queued, not yet executed.
	Pending bool `json:"pending"`

	// OpID is the identifier of the tracked operation.
	OpID string `json:"op_id"`

	// CompletedTargets lists targets that acknowledged the write.
	CompletedTargets []string `json:"completed_targets,omitempty"`

	// FailedTargets lists targets whose write failed.
	FailedTargets []string `json:"failed_targets,omitempty"`

	// Err is the aggregate error for failed targets, nil on success.
	Err error `json:"-"`
}
