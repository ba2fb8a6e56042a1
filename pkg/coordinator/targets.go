package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/recallhq/recall-go/pkg/storage"
)

// memoryLogFile is the per-scope NDJSON file the memory-log target
// appends to.
const memoryLogFile = "memories.ndjson"

// graphNodeLabel is the node label used for memory records.
const graphNodeLabel = "Memory"

// graphContentLimit bounds the content property stored on graph nodes.
const graphContentLimit = 512

// Target is one named write destination.
//
// Apply delivers the operation's records to the backing store.
// Compensate undoes a previously applied write: it deletes the records
// for a create and restores the captured pre-image for an update.
type Target struct {
	// Name identifies the target ("record-store", "vector-index", ...).
	Name string

	// Apply delivers the operation to the store.
	Apply func(ctx context.Context, op *Operation) error

	// Compensate undoes a previously applied delivery.
	Compensate func(ctx context.Context, op *Operation) error
}

// NewRecordTarget wraps a RecordStore as the "record-store" target.
//
// The record store is the system of record: creates insert, updates
// replace, deletes remove by ID. Compensation deletes created records
// and re-writes update pre-images.
func NewRecordTarget(store storage.RecordStore) Target {
	return Target{
		Name: storage.TargetRecordStore,
		Apply: func(ctx context.Context, op *Operation) error {
			for _, rec := range op.Records {
				var err error
				switch op.Kind {
				case OpCreate, OpBatchCreate:
					err = store.Insert(ctx, rec)
				case OpUpdate:
					err = store.Update(ctx, rec)
				case OpDelete:
					err = store.Delete(ctx, rec.ID)
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
		Compensate: func(ctx context.Context, op *Operation) error {
			switch op.Kind {
			case OpCreate, OpBatchCreate:
				for _, rec := range op.Records {
					if err := store.Delete(ctx, rec.ID); err != nil {
						return err
					}
				}
			case OpUpdate:
				for _, prev := range op.Compensation {
					if prev == nil {
						continue
					}
					if err := store.Update(ctx, prev); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// NewVectorTarget wraps a VectorIndex as the "vector-index" target.
// One collection exists per scope key.
func NewVectorTarget(index storage.VectorIndex) Target {
	return Target{
		Name: storage.TargetVectorIndex,
		Apply: func(ctx context.Context, op *Operation) error {
			for _, rec := range op.Records {
				id := strconv.FormatInt(rec.ID, 10)
				switch op.Kind {
				case OpCreate, OpBatchCreate, OpUpdate:
					if len(rec.Embedding) == 0 {
						return fmt.Errorf("record %d has no embedding", rec.ID)
					}
					if err := index.Upsert(ctx, op.ScopeKey, id, rec.Embedding, rec.Content, vectorPayload(rec)); err != nil {
						return err
					}
				case OpDelete:
					if err := index.Delete(ctx, op.ScopeKey, id); err != nil {
						return err
					}
				}
			}
			return nil
		},
		Compensate: func(ctx context.Context, op *Operation) error {
			switch op.Kind {
			case OpCreate, OpBatchCreate:
				for _, rec := range op.Records {
					if err := index.Delete(ctx, op.ScopeKey, strconv.FormatInt(rec.ID, 10)); err != nil {
						return err
					}
				}
			case OpUpdate:
				for _, prev := range op.Compensation {
					if prev == nil || len(prev.Embedding) == 0 {
						continue
					}
					id := strconv.FormatInt(prev.ID, 10)
					if err := index.Upsert(ctx, op.ScopeKey, id, prev.Embedding, prev.Content, vectorPayload(prev)); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// NewGraphTarget wraps a GraphStore as the "graph-store" target.
// Each record becomes a Memory node keyed by "memory-<id>".
func NewGraphTarget(graph storage.GraphStore) Target {
	return Target{
		Name: storage.TargetGraphStore,
		Apply: func(ctx context.Context, op *Operation) error {
			for _, rec := range op.Records {
				switch op.Kind {
				case OpCreate, OpBatchCreate, OpUpdate:
					if err := graph.CreateNode(ctx, graphNodeLabel, graphProps(rec)); err != nil {
						return err
					}
				case OpDelete:
					if err := graph.DeleteNode(ctx, graphNodeLabel, graphNodeName(rec.ID)); err != nil {
						return err
					}
				}
			}
			return nil
		},
		Compensate: func(ctx context.Context, op *Operation) error {
			switch op.Kind {
			case OpCreate, OpBatchCreate:
				for _, rec := range op.Records {
					if err := graph.DeleteNode(ctx, graphNodeLabel, graphNodeName(rec.ID)); err != nil {
						return err
					}
				}
			case OpUpdate:
				for _, prev := range op.Compensation {
					if prev == nil {
						continue
					}
					if err := graph.CreateNode(ctx, graphNodeLabel, graphProps(prev)); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// NewLogTarget wraps a FileLog as the "memory-log" target.
//
// The log is append-only, so compensation appends a reversal entry
// instead of rewriting history.
func NewLogTarget(files storage.FileLog) Target {
	appendEntry := func(op *Operation, rec *storage.Record, action string) error {
		line, err := json.Marshal(map[string]interface{}{
			"op_id":      op.ID,
			"action":     action,
			"record_id":  rec.ID,
			"content":    rec.Content,
			"kind":       rec.Kind,
			"metadata":   rec.Metadata,
			"created_at": rec.CreatedAt,
		})
		if err != nil {
			return err
		}
		return files.AppendLine(op.ScopeKey, memoryLogFile, line)
	}

	return Target{
		Name: storage.TargetMemoryLog,
		Apply: func(ctx context.Context, op *Operation) error {
			for _, rec := range op.Records {
				if err := appendEntry(op, rec, string(op.Kind)); err != nil {
					return err
				}
			}
			return nil
		},
		Compensate: func(ctx context.Context, op *Operation) error {
			for _, rec := range op.Records {
				if err := appendEntry(op, rec, "revert-"+string(op.Kind)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func vectorPayload(rec *storage.Record) map[string]string {
	payload := map[string]string{
		"kind":     rec.Kind,
		"owner_id": rec.OwnerID,
	}
	if rec.ProjectID != "" {
		payload["project_id"] = rec.ProjectID
	}
	return payload
}

func graphNodeName(id int64) string {
	return "memory-" + strconv.FormatInt(id, 10)
}

func graphProps(rec *storage.Record) map[string]interface{} {
	content := rec.Content
	if len(content) > graphContentLimit {
		content = content[:graphContentLimit]
	}
	props := map[string]interface{}{
		"name":     graphNodeName(rec.ID),
		"content":  content,
		"kind":     rec.Kind,
		"owner_id": rec.OwnerID,
	}
	if rec.ProjectID != "" {
		props["project_id"] = rec.ProjectID
	}
	return props
}
