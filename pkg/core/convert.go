package core

import "github.com/recallhq/recall-go/pkg/storage"

// ToStorageRecord converts a MemoryRecord to its storage form.
func ToStorageRecord(m *MemoryRecord) *storage.Record {
	if m == nil {
		return nil
	}
	return &storage.Record{
		ID:        m.ID,
		Content:   m.Content,
		Kind:      string(m.Kind),
		OwnerID:   m.OwnerID,
		ProjectID: m.ProjectID,
		Metadata:  m.Metadata,
		Embedding: m.Embedding,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.CreatedAt,
	}
}

// FromStorageRecord converts a storage record back to a MemoryRecord.
func FromStorageRecord(r *storage.Record) *MemoryRecord {
	if r == nil {
		return nil
	}
	return &MemoryRecord{
		ID:        r.ID,
		Content:   r.Content,
		Kind:      MemoryKind(r.Kind),
		OwnerID:   r.OwnerID,
		ProjectID: r.ProjectID,
		Metadata:  r.Metadata,
		Embedding: r.Embedding,
		CreatedAt: r.CreatedAt,
	}
}
