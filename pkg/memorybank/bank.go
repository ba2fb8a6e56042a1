// Package memorybank implements the per-scope memory store: a bounded
// rolling context, a capacity-bounded concept table, a generated scope
// summary, and an append-only day-partitioned journal.
//
// All state is persisted through the file log adapter. Every mutating
// call goes through the scope's advisory lock and appends a journal
// entry.
package memorybank

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/llm"
	"github.com/recallhq/recall-go/pkg/storage"
)

// Size and retention bounds for a scope's memory.
const (
	// MaxContextSize bounds the rolling context text in bytes.
	MaxContextSize = 10 * 1024

	// MaxSummarySize bounds the generated summary text in bytes.
	MaxSummarySize = 5 * 1024

	// MaxConcepts bounds the concept table per scope.
	MaxConcepts = 100

	// JournalRetentionDays is how long journal day files are kept.
	JournalRetentionDays = 30

	// SummaryMinInterval debounces summary regeneration.
	SummaryMinInterval = 5 * time.Minute

	// summaryConceptLimit is how many top concepts feed the summary
	// prompt.
	summaryConceptLimit = 20

	// snapshotJournalLimit is how many recent journal entries appear in
	// a snapshot.
	snapshotJournalLimit = 5
)

// Per-scope file names under the scope directory.
const (
	metadataFile = "metadata.json"
	contextFile  = "context.md"
	summaryFile  = "summary.md"
	conceptsFile = "concepts.json"
	journalDir   = "journal"
)

// contextHeader is written once on initialization and survives
// truncation.
const contextHeader = "# Memory Context\n"

// metadata is the persisted per-scope bookkeeping record.
type metadata struct {
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	LastSummaryAt time.Time       `json:"last_summary_at,omitempty"`
	Stats         core.ScopeStats `json:"stats"`
}

// Bank is the per-scope memory store.
//
// A Bank is safe for concurrent use: every read-modify-write sequence is
// wrapped in the configured Locker, keyed by scope and resource.
type Bank struct {
	files  storage.FileLog
	llm    llm.Provider
	locker Locker
	logger zerolog.Logger

	// summaryTimeout bounds the text-generation call.
	summaryTimeout time.Duration
}

// Option configures a Bank.
type Option func(*Bank)

// WithLocker selects the lock implementation. Defaults to NopLocker.
func WithLocker(l Locker) Option {
	return func(b *Bank) { b.locker = l }
}

// WithLogger sets the structured logger. Defaults to a disabled logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bank) { b.logger = logger }
}

// WithSummaryTimeout bounds summary generation calls. Defaults to 30s.
func WithSummaryTimeout(d time.Duration) Option {
	return func(b *Bank) { b.summaryTimeout = d }
}

// New creates a memory bank over the given file log and text-generation
// provider.
//
// Parameters:
//   - files: File log adapter holding all scope state
//   - provider: Text-generation provider used for summaries (may be nil;
//     summaries then keep their previous value)
//   - opts: Optional locker, logger, and timeout settings
func New(files storage.FileLog, provider llm.Provider, opts ...Option) *Bank {
	b := &Bank{
		files:          files,
		llm:            provider,
		locker:         NopLocker{},
		logger:         zerolog.Nop(),
		summaryTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Initialize creates the scope's storage structures if they do not
// exist.
//
// The call is idempotent: context, concepts, summary, and journal of an
// existing scope are never overwritten, so repeated initialization (for
// example on every session start) is safe.
func (b *Bank) Initialize(ctx context.Context, scope core.Scope) error {
	if scope.IsZero() {
		return core.NewError("Initialize", core.ErrValidation)
	}

	release := b.locker.Acquire(scope.Key() + ":meta")
	defer release()

	exists, err := b.files.Exists(scope.Key(), metadataFile)
	if err != nil {
		return core.NewError("Initialize", err)
	}
	if !exists {
		now := time.Now()
		if err := b.writeMetadata(scope, &metadata{CreatedAt: now, UpdatedAt: now}); err != nil {
			return core.NewError("Initialize", err)
		}
	}

	// Each file is checked independently so a partially created scope
	// heals on the next call.
	if err := b.ensureFile(scope, contextFile, []byte(contextHeader)); err != nil {
		return core.NewError("Initialize", err)
	}
	if err := b.ensureFile(scope, summaryFile, []byte("")); err != nil {
		return core.NewError("Initialize", err)
	}
	if err := b.ensureFile(scope, conceptsFile, []byte("[]")); err != nil {
		return core.NewError("Initialize", err)
	}

	b.logger.Debug().Str("scope", scope.Key()).Msg("scope initialized")
	return nil
}

// ensureFile writes the initial content only when the file is absent.
func (b *Bank) ensureFile(scope core.Scope, name string, initial []byte) error {
	exists, err := b.files.Exists(scope.Key(), name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return b.files.Write(scope.Key(), name, initial)
}

// Snapshot returns a point-in-time view of the scope's memory: context,
// summary, concepts, the last few journal entries, and counters.
func (b *Bank) Snapshot(ctx context.Context, scope core.Scope) (*core.ScopeMemory, error) {
	return b.view(ctx, scope, snapshotJournalLimit)
}

// Export returns a full dump of the scope's memory, including every
// retained journal entry.
func (b *Bank) Export(ctx context.Context, scope core.Scope) (*core.ScopeMemory, error) {
	return b.view(ctx, scope, 0)
}

// view assembles a ScopeMemory with up to journalLimit recent journal
// entries (0 means all retained entries).
func (b *Bank) view(ctx context.Context, scope core.Scope, journalLimit int) (*core.ScopeMemory, error) {
	if scope.IsZero() {
		return nil, core.NewError("Snapshot", core.ErrValidation)
	}

	meta, err := b.readMetadata(scope)
	if err != nil {
		return nil, core.NewError("Snapshot", err)
	}

	contextText, _ := b.files.Read(scope.Key(), contextFile)
	summaryText, _ := b.files.Read(scope.Key(), summaryFile)

	concepts, err := b.readConcepts(scope)
	if err != nil {
		return nil, core.NewError("Snapshot", err)
	}

	journal, err := b.recentJournal(scope, journalLimit)
	if err != nil {
		return nil, core.NewError("Snapshot", err)
	}

	return &core.ScopeMemory{
		Scope:         scope,
		Context:       string(contextText),
		Summary:       string(summaryText),
		Concepts:      concepts,
		RecentJournal: journal,
		Stats:         meta.Stats,
		CreatedAt:     meta.CreatedAt,
		UpdatedAt:     meta.UpdatedAt,
	}, nil
}

// readMetadata loads the scope's metadata record. A missing scope yields
// core.ErrNotFound.
func (b *Bank) readMetadata(scope core.Scope) (*metadata, error) {
	exists, err := b.files.Exists(scope.Key(), metadataFile)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("scope %s: %w", scope.Key(), core.ErrNotFound)
	}

	data, err := b.files.Read(scope.Key(), metadataFile)
	if err != nil {
		return nil, err
	}

	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &meta, nil
}

// writeMetadata persists the scope's metadata record.
func (b *Bank) writeMetadata(scope core.Scope, meta *metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return b.files.Write(scope.Key(), metadataFile, data)
}

// touch updates metadata counters inside an already-held lock.
func (b *Bank) touch(scope core.Scope, update func(*metadata)) error {
	meta, err := b.readMetadata(scope)
	if err != nil {
		return err
	}
	update(meta)
	meta.UpdatedAt = time.Now()
	return b.writeMetadata(scope, meta)
}

// readConcepts loads the concept table sorted by descending frequency,
// then most recently seen.
func (b *Bank) readConcepts(scope core.Scope) ([]core.ConceptEntry, error) {
	exists, err := b.files.Exists(scope.Key(), conceptsFile)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	data, err := b.files.Read(scope.Key(), conceptsFile)
	if err != nil {
		return nil, err
	}

	var concepts []core.ConceptEntry
	if err := json.Unmarshal(data, &concepts); err != nil {
		return nil, fmt.Errorf("parse concepts: %w", err)
	}

	sort.SliceStable(concepts, func(i, j int) bool {
		if concepts[i].Frequency != concepts[j].Frequency {
			return concepts[i].Frequency > concepts[j].Frequency
		}
		return concepts[i].LastSeen.After(concepts[j].LastSeen)
	})

	return concepts, nil
}

// writeConcepts persists the concept table.
func (b *Bank) writeConcepts(scope core.Scope, concepts []core.ConceptEntry) error {
	data, err := json.MarshalIndent(concepts, "", "  ")
	if err != nil {
		return err
	}
	return b.files.Write(scope.Key(), conceptsFile, data)
}
