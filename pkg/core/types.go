// Package core provides the main Recall client and shared memory types.
package core

import (
	"fmt"
	"time"
)

// MemoryKind classifies a memory record.
//
// Kinds determine both retrieval behaviour and write priority:
// semantic and episodic memories are persisted synchronously, while
// working memories are enqueued and written in the background.
type MemoryKind string

const (
	// KindSemantic is distilled, durable knowledge ("user prefers Go").
	KindSemantic MemoryKind = "semantic"

	// KindEpisodic is a record of something that happened, such as one
	// conversational turn.
	KindEpisodic MemoryKind = "episodic"

	// KindWorking is short-lived contextual state.
	KindWorking MemoryKind = "working"
)

// Valid reports whether k is a known memory kind.
func (k MemoryKind) Valid() bool {
	switch k {
	case KindSemantic, KindEpisodic, KindWorking:
		return true
	}
	return false
}

// HighPriority reports whether writes of this kind execute synchronously
// inline rather than through the background queue.
func (k MemoryKind) HighPriority() bool {
	return k == KindSemantic || k == KindEpisodic
}

// Scope identifies the (owner, project) partition under which context,
// concepts, and journal entries are stored. ProjectID may be empty for
// owner-wide memories.
type Scope struct {
	// OwnerID identifies the user who owns the memories.
	OwnerID string `json:"owner_id"`

	// ProjectID optionally narrows the scope to one project.
	ProjectID string `json:"project_id,omitempty"`
}

// Key returns the canonical string form of the scope, used as a lock key,
// a directory name, and a vector collection name.
func (s Scope) Key() string {
	if s.ProjectID == "" {
		return s.OwnerID
	}
	return fmt.Sprintf("%s__%s", s.OwnerID, s.ProjectID)
}

// IsZero reports whether the scope has no owner.
func (s Scope) IsZero() bool {
	return s.OwnerID == ""
}

// MemoryRecord is a single unit of content stored in the system.
//
// The relational record store is the system of record; the vector index
// and graph store hold derived copies. Records are never mutated in
// place: an update is a new write carrying the prior version as
// compensation data.
type MemoryRecord struct {
	// ID is the unique identifier of the record (snowflake).
	ID int64 `json:"id"`

	// Content is the text content of the memory.
	Content string `json:"content"`

	// Kind classifies the memory (semantic, episodic, working).
	Kind MemoryKind `json:"kind"`

	// OwnerID identifies the user who owns this memory.
	OwnerID string `json:"owner_id"`

	// ProjectID optionally scopes the memory to a project.
	ProjectID string `json:"project_id,omitempty"`

	// Metadata contains additional structured information.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Embedding is the vector embedding for similarity search.
	// Omitted from JSON to reduce payload size.
	Embedding []float64 `json:"-"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`
}

// Scope returns the (owner, project) scope the record belongs to.
func (m *MemoryRecord) Scope() Scope {
	return Scope{OwnerID: m.OwnerID, ProjectID: m.ProjectID}
}

// ConceptEntry is one named concept tracked per scope.
//
// Concepts merge on insert: adding an existing name increments Frequency,
// refreshes LastSeen, and unions Relationships.
type ConceptEntry struct {
	// Name uniquely identifies the concept within a scope.
	Name string `json:"name"`

	// Category loosely groups the concept (e.g. "technology", "person").
	Category string `json:"category,omitempty"`

	// Description is a short free-text explanation.
	Description string `json:"description,omitempty"`

	// Confidence is the extraction confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// FirstSeen is when the concept first appeared in this scope.
	FirstSeen time.Time `json:"first_seen"`

	// LastSeen is when the concept was last mentioned.
	LastSeen time.Time `json:"last_seen"`

	// Frequency counts how many times the concept has been seen (>= 1).
	Frequency int `json:"frequency"`

	// Relationships holds names of related concepts.
	Relationships []string `json:"relationships,omitempty"`
}

// JournalEventType classifies a journal entry.
type JournalEventType string

const (
	// EventLearn records new information entering the scope.
	EventLearn JournalEventType = "learn"

	// EventForget records information being evicted or purged.
	EventForget JournalEventType = "forget"

	// EventReinforce records an existing concept being seen again.
	EventReinforce JournalEventType = "reinforce"

	// EventConnect records a new relationship between concepts.
	EventConnect JournalEventType = "connect"
)

// JournalEntry is one append-only event in a scope's memory journal.
// Entries are partitioned by calendar day and purged after the retention
// window.
type JournalEntry struct {
	// Timestamp is when the event happened.
	Timestamp time.Time `json:"timestamp"`

	// EventType classifies the event (learn, forget, reinforce, connect).
	EventType JournalEventType `json:"event_type"`

	// Content is the human-readable event description.
	Content string `json:"content"`

	// Metadata carries additional structured details.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// ImpactScore estimates how much the event changed the scope's memory.
	ImpactScore float64 `json:"impact_score"`
}

// ScopeStats holds per-scope counters maintained by the memory bank.
type ScopeStats struct {
	// ContextUpdates counts updateContext calls.
	ContextUpdates int `json:"context_updates"`

	// ConceptsAdded counts concepts inserted (not merged).
	ConceptsAdded int `json:"concepts_added"`

	// SummaryUpdates counts summary regenerations.
	SummaryUpdates int `json:"summary_updates"`

	// JournalEntries counts appended journal entries.
	JournalEntries int `json:"journal_entries"`
}

// ScopeMemory is a point-in-time view of one scope's durable memory:
// the rolling context, the generated summary, the concept table, recent
// journal entries, and counters.
type ScopeMemory struct {
	// Scope identifies the (owner, project) partition.
	Scope Scope `json:"scope"`

	// Context is the size-bounded rolling context text.
	Context string `json:"context"`

	// Summary is the size-bounded generated summary text.
	Summary string `json:"summary"`

	// Concepts is the concept table, capacity-bounded per scope.
	Concepts []ConceptEntry `json:"concepts"`

	// RecentJournal holds the most recent journal entries (newest last).
	RecentJournal []JournalEntry `json:"recent_journal,omitempty"`

	// Stats holds per-scope counters.
	Stats ScopeStats `json:"stats"`

	// CreatedAt is when the scope was initialized.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the scope was last mutated.
	UpdatedAt time.Time `json:"updated_at"`
}
