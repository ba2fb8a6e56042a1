package coordinator

import (
	"encoding/json"
	"time"

	"github.com/recallhq/recall-go/pkg/storage"
)

// oplogDir is the per-scope subdirectory holding day-partitioned
// operation log files.
const oplogDir = "oplog"

// LogPhase marks whether a transition was recorded before or after the
// work it describes.
type LogPhase string

const (
	// PhaseBefore is the write-ahead record: the transition is logged
	// before the corresponding work runs.
	PhaseBefore LogPhase = "before"

	// PhaseAfter is the write-behind record, logged once the work is done.
	PhaseAfter LogPhase = "after"
)

// LogEntry is one line of the operation log.
type LogEntry struct {
	Timestamp        time.Time `json:"timestamp"`
	OpID             string    `json:"op_id"`
	ScopeKey         string    `json:"scope_key"`
	Kind             OpKind    `json:"kind"`
	Status           Status    `json:"status"`
	Phase            LogPhase  `json:"phase"`
	Attempts         int       `json:"attempts"`
	CompletedTargets []string  `json:"completed_targets,omitempty"`
	FailedTargets    []string  `json:"failed_targets,omitempty"`
	Note             string    `json:"note,omitempty"`
}

// OperationLog appends operation state transitions to per-scope,
// per-day NDJSON files. Logging both before and after execution lets an
// external reader reconstruct an operation's history even when the
// process died mid-write.
type OperationLog struct {
	files storage.FileLog
}

// NewOperationLog creates an operation log on top of a FileLog adapter.
func NewOperationLog(files storage.FileLog) *OperationLog {
	return &OperationLog{files: files}
}

// Record appends one transition line for the operation.
//
// Parameters:
//   - op: The operation whose state is being recorded
//   - phase: PhaseBefore for write-ahead, PhaseAfter for write-behind
//   - note: Optional free-text detail (e.g. a failure reason)
//
// Returns:
//   - error: Returns an error if the log line could not be appended
func (l *OperationLog) Record(op *Operation, phase LogPhase, note string) error {
	now := time.Now().UTC()
	entry := LogEntry{
		Timestamp:        now,
		OpID:             op.ID,
		ScopeKey:         op.ScopeKey,
		Kind:             op.Kind,
		Status:           op.Status,
		Phase:            phase,
		Attempts:         op.Attempts,
		CompletedTargets: op.CompletedTargets,
		FailedTargets:    op.FailedTargets,
		Note:             note,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return l.files.AppendLine(op.ScopeKey, oplogDir+"/"+now.Format("2006-01-02")+".ndjson", line)
}

// Entries reads back all log entries for a scope on a given day, in
// append order. A missing day file yields an empty slice.
func (l *OperationLog) Entries(scopeKey string, day time.Time) ([]LogEntry, error) {
	name := oplogDir + "/" + day.UTC().Format("2006-01-02") + ".ndjson"
	exists, err := l.files.Exists(scopeKey, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	lines, err := l.files.ReadLines(scopeKey, name)
	if err != nil {
		return nil, err
	}

	entries := make([]LogEntry, 0, len(lines))
	for _, line := range lines {
		var entry LogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
