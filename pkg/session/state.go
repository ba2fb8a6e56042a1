// Package session implements the conversational state machine that
// sequences one turn: perceive, process, retrieve, reason, and
// update-memory, over bounded working memory.
package session

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/retrieval"
)

// Capacity bounds on per-session state.
const (
	// MaxWorkingMemory bounds the working-memory map; the entry with the
	// lowest (accessCount, lastAccessedAt) is evicted first.
	MaxWorkingMemory = 20

	// MaxRecentDocs bounds the recent-documents FIFO list.
	MaxRecentDocs = 10
)

// Status is the lifecycle state of a session turn.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the ordered, append-only transcript.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkingMemoryEntry is one fact held in bounded working memory.
// Access bookkeeping drives eviction: the least-used, least-recent
// entry goes first.
type WorkingMemoryEntry struct {
	Value          string    `json:"value"`
	Priority       int       `json:"priority"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int       `json:"access_count"`
}

// PendingDocument is a content chunk attached to the session that the
// process node persists on the next turn.
type PendingDocument struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// State is the full mutable state of one session.
//
// A State is owned by a single logical flow at a time; the machine
// mutates it in place during Run.
type State struct {
	// ThreadID uniquely identifies the session.
	ThreadID string `json:"thread_id"`

	// Scope is the (owner, project) partition the session works in.
	Scope core.Scope `json:"scope"`

	// Messages is the ordered, append-only transcript.
	Messages []Message `json:"messages"`

	// WorkingMemory holds bounded short-lived session facts.
	WorkingMemory map[string]*WorkingMemoryEntry `json:"working_memory"`

	// RecentDocs lists recently persisted document IDs, FIFO.
	RecentDocs []string `json:"recent_docs,omitempty"`

	// PendingDoc is an attached content chunk awaiting persistence.
	PendingDoc *PendingDocument `json:"pending_doc,omitempty"`

	// Retrieval is the most recent hybrid retrieval outcome.
	Retrieval *retrieval.HybridResult `json:"retrieval,omitempty"`

	// Memory is the most recent scope memory snapshot.
	Memory *core.ScopeMemory `json:"memory,omitempty"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// LastError records the failure that moved the session to failed.
	LastError string `json:"last_error,omitempty"`

	// CreatedAt is when the session started.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the state last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState creates an idle session state for a scope.
func NewState(scope core.Scope) *State {
	now := time.Now().UTC()
	return &State{
		ThreadID:      uuid.NewString(),
		Scope:         scope,
		WorkingMemory: make(map[string]*WorkingMemoryEntry),
		Status:        StatusIdle,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// AppendMessage adds a message to the transcript.
func (s *State) AppendMessage(role Role, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	s.UpdatedAt = time.Now().UTC()
}

// LastMessage returns the newest transcript message, or nil.
func (s *State) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// Remember stores a fact in working memory, evicting the entry with the
// lowest (accessCount, lastAccessedAt) when over capacity.
func (s *State) Remember(key, value string, priority int) {
	now := time.Now().UTC()
	if entry, ok := s.WorkingMemory[key]; ok {
		entry.Value = value
		entry.Priority = priority
		entry.AccessCount++
		entry.LastAccessedAt = now
		return
	}

	s.WorkingMemory[key] = &WorkingMemoryEntry{
		Value:          value,
		Priority:       priority,
		LastAccessedAt: now,
		AccessCount:    1,
	}
	s.evictWorkingMemory()
}

// Access reads a fact from working memory, bumping its bookkeeping.
func (s *State) Access(key string) (string, bool) {
	entry, ok := s.WorkingMemory[key]
	if !ok {
		return "", false
	}
	entry.AccessCount++
	entry.LastAccessedAt = time.Now().UTC()
	return entry.Value, true
}

// evictWorkingMemory removes lowest (accessCount, lastAccessedAt)
// entries until the map is back within capacity.
func (s *State) evictWorkingMemory() {
	for len(s.WorkingMemory) > MaxWorkingMemory {
		keys := make([]string, 0, len(s.WorkingMemory))
		for key := range s.WorkingMemory {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, b := s.WorkingMemory[keys[i]], s.WorkingMemory[keys[j]]
			if a.AccessCount != b.AccessCount {
				return a.AccessCount < b.AccessCount
			}
			if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
				return a.LastAccessedAt.Before(b.LastAccessedAt)
			}
			return keys[i] < keys[j]
		})
		delete(s.WorkingMemory, keys[0])
	}
}

// RecordDoc appends a document ID to the recent-documents list,
// dropping the oldest entry when over capacity.
func (s *State) RecordDoc(docID string) {
	s.RecentDocs = append(s.RecentDocs, docID)
	if len(s.RecentDocs) > MaxRecentDocs {
		s.RecentDocs = s.RecentDocs[len(s.RecentDocs)-MaxRecentDocs:]
	}
}
