package coordinator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/coordinator"
	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/storage"
	"github.com/recallhq/recall-go/pkg/storage/filelog"
)

// recorder tracks target invocations across goroutines.
type recorder struct {
	mu           sync.Mutex
	applied      []string
	compensated  []string
	appliedIDs   []string
	failingNames map[string]bool
}

func newRecorder() *recorder {
	return &recorder{failingNames: make(map[string]bool)}
}

func (r *recorder) fail(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failingNames[name] = true
}

func (r *recorder) target(name string) coordinator.Target {
	return coordinator.Target{
		Name: name,
		Apply: func(ctx context.Context, op *coordinator.Operation) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.failingNames[name] {
				return fmt.Errorf("%s is down", name)
			}
			r.applied = append(r.applied, name)
			r.appliedIDs = append(r.appliedIDs, op.ID)
			return nil
		},
		Compensate: func(ctx context.Context, op *coordinator.Operation) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.compensated = append(r.compensated, name)
			return nil
		},
	}
}

func (r *recorder) appliedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.applied...)
}

func (r *recorder) compensatedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.compensated...)
}

func (r *recorder) appliedOpIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.appliedIDs...)
}

func allTargets(r *recorder) []coordinator.Target {
	return []coordinator.Target{
		r.target(storage.TargetRecordStore),
		r.target(storage.TargetVectorIndex),
		r.target(storage.TargetGraphStore),
		r.target(storage.TargetMemoryLog),
	}
}

func testRecord(id int64, content string) *storage.Record {
	return &storage.Record{
		ID:        id,
		Content:   content,
		Kind:      "semantic",
		OwnerID:   "user_001",
		ProjectID: "proj_a",
		CreatedAt: time.Now().UTC(),
	}
}

func newCoordinator(t *testing.T, targets []coordinator.Target, opts ...coordinator.Option) *coordinator.Coordinator {
	t.Helper()
	opts = append(opts, coordinator.WithRetryDelay(5*time.Millisecond))
	coord, err := coordinator.New(targets, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })
	return coord
}

func TestSubmitRejectsMalformedIntents(t *testing.T) {
	coord := newCoordinator(t, allTargets(newRecorder()))

	cases := []struct {
		name   string
		intent *coordinator.Intent
	}{
		{"nil intent", nil},
		{"unknown op kind", &coordinator.Intent{Op: "merge", MemoryKind: core.KindSemantic, Records: []*storage.Record{testRecord(1, "x")}}},
		{"unknown memory kind", &coordinator.Intent{Op: coordinator.OpCreate, MemoryKind: "permanent", Records: []*storage.Record{testRecord(1, "x")}}},
		{"no records", &coordinator.Intent{Op: coordinator.OpCreate, MemoryKind: core.KindSemantic}},
		{"missing ID", &coordinator.Intent{Op: coordinator.OpCreate, MemoryKind: core.KindSemantic, Records: []*storage.Record{{Content: "x", OwnerID: "u"}}}},
		{"missing owner", &coordinator.Intent{Op: coordinator.OpCreate, MemoryKind: core.KindSemantic, Records: []*storage.Record{{ID: 1, Content: "x"}}}},
		{"empty content", &coordinator.Intent{Op: coordinator.OpCreate, MemoryKind: core.KindSemantic, Records: []*storage.Record{{ID: 1, OwnerID: "u"}}}},
		{"unknown target", &coordinator.Intent{Op: coordinator.OpCreate, MemoryKind: core.KindSemantic, Records: []*storage.Record{testRecord(1, "x")}, Targets: []string{"blob-store"}}},
		{"mixed scopes", &coordinator.Intent{Op: coordinator.OpCreate, MemoryKind: core.KindSemantic, Records: []*storage.Record{
			{ID: 1, Content: "x", OwnerID: "a"},
			{ID: 2, Content: "y", OwnerID: "b"},
		}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := coord.Submit(context.Background(), tc.intent)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}

func TestHealthyWriteCompletesAllTargets(t *testing.T) {
	rec := newRecorder()
	coord := newCoordinator(t, allTargets(rec))

	result, err := coord.Submit(context.Background(), &coordinator.Intent{
		Op:         coordinator.OpCreate,
		MemoryKind: core.KindSemantic,
		Records:    []*storage.Record{testRecord(1, "x")},
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Pending)
	assert.Len(t, result.CompletedTargets, 4)
	assert.Empty(t, result.FailedTargets)
	assert.Equal(t, storage.DefaultTargets(), rec.appliedNames())
}

func TestSuccessIffNoFailedTargets(t *testing.T) {
	rec := newRecorder()
	rec.fail(storage.TargetVectorIndex)
	coord := newCoordinator(t, allTargets(rec))

	result, err := coord.Submit(context.Background(), &coordinator.Intent{
		Op:         coordinator.OpCreate,
		MemoryKind: core.KindEpisodic,
		Records:    []*storage.Record{testRecord(2, "y")},
	})

	assert.ErrorIs(t, err, core.ErrAdapter)
	assert.False(t, result.Success)
	// Reporting is complete: every target lands in exactly one list.
	assert.ElementsMatch(t,
		storage.DefaultTargets(),
		append(append([]string{}, result.CompletedTargets...), result.FailedTargets...))
}

func TestGraphFailureTriggersCompensationOfCompletedTargets(t *testing.T) {
	rec := newRecorder()
	rec.fail(storage.TargetGraphStore)

	dir := t.TempDir()
	files, err := filelog.NewClient(dir)
	require.NoError(t, err)
	oplog := coordinator.NewOperationLog(files)

	coord := newCoordinator(t, allTargets(rec), coordinator.WithOperationLog(oplog))
	coord.Start(context.Background())

	result, err := coord.Submit(context.Background(), &coordinator.Intent{
		Op:         coordinator.OpCreate,
		MemoryKind: core.KindSemantic,
		Records:    []*storage.Record{testRecord(3, "z")},
	})

	assert.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{storage.TargetGraphStore}, result.FailedTargets)

	require.Eventually(t, func() bool {
		return len(rec.compensatedNames()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t,
		[]string{storage.TargetRecordStore, storage.TargetVectorIndex, storage.TargetMemoryLog},
		rec.compensatedNames())

	entries, err := oplog.Entries("user_001__proj_a", time.Now().UTC())
	require.NoError(t, err)
	var sawFailed, sawCompensating, sawCompensated bool
	for _, e := range entries {
		switch e.Status {
		case coordinator.StatusFailed:
			sawFailed = true
		case coordinator.StatusCompensating:
			sawCompensating = true
		case coordinator.StatusCompensated:
			sawCompensated = true
		}
	}
	assert.True(t, sawFailed)
	assert.True(t, sawCompensating)
	assert.True(t, sawCompensated)
}

func TestWorkingKindIsQueuedAndProcessedInOrder(t *testing.T) {
	rec := newRecorder()
	coord := newCoordinator(t, []coordinator.Target{rec.target(storage.TargetRecordStore)})
	coord.Start(context.Background())

	var opIDs []string
	for i := int64(1); i <= 5; i++ {
		result, err := coord.Submit(context.Background(), &coordinator.Intent{
			Op:         coordinator.OpCreate,
			MemoryKind: core.KindWorking,
			Records:    []*storage.Record{testRecord(i, "queued")},
		})
		require.NoError(t, err)
		assert.True(t, result.Pending)
		opIDs = append(opIDs, result.OpID)
	}

	require.Eventually(t, func() bool {
		return len(rec.appliedOpIDs()) == 5
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, opIDs, rec.appliedOpIDs())
}

func TestOutrightFailureRetriesUpToMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	always := coordinator.Target{
		Name: storage.TargetRecordStore,
		Apply: func(ctx context.Context, op *coordinator.Operation) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			return errors.New("store offline")
		},
		Compensate: func(ctx context.Context, op *coordinator.Operation) error {
			t.Error("compensation must not run when nothing completed")
			return nil
		},
	}

	coord := newCoordinator(t, []coordinator.Target{always}, coordinator.WithMaxAttempts(3))
	coord.Start(context.Background())

	result, err := coord.Submit(context.Background(), &coordinator.Intent{
		Op:         coordinator.OpCreate,
		MemoryKind: core.KindSemantic,
		Records:    []*storage.Record{testRecord(9, "doomed")},
	})
	assert.Error(t, err)
	assert.False(t, result.Success)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 3
	}, 2*time.Second, 10*time.Millisecond)

	// No further attempts past the bound.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
}

func TestUpdateCompensationRestoresPreImage(t *testing.T) {
	store := newFakeRecordStore()
	require.NoError(t, store.Insert(context.Background(), testRecord(7, "original")))

	rec := newRecorder()
	rec.fail(storage.TargetVectorIndex)

	coord := newCoordinator(t,
		[]coordinator.Target{coordinator.NewRecordTarget(store), rec.target(storage.TargetVectorIndex)},
		coordinator.WithRecordStore(store))
	coord.Start(context.Background())

	result, err := coord.Submit(context.Background(), &coordinator.Intent{
		Op:         coordinator.OpUpdate,
		MemoryKind: core.KindSemantic,
		Records:    []*storage.Record{testRecord(7, "replacement")},
	})
	assert.Error(t, err)
	assert.False(t, result.Success)

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), 7)
		return err == nil && got.Content == "original"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFullQueueReturnsCapacityError(t *testing.T) {
	rec := newRecorder()
	// Consumer never started, so the queue fills immediately.
	coord, err := coordinator.New([]coordinator.Target{rec.target(storage.TargetRecordStore)},
		coordinator.WithQueueSize(1))
	require.NoError(t, err)

	_, err = coord.Submit(context.Background(), &coordinator.Intent{
		Op:         coordinator.OpCreate,
		MemoryKind: core.KindWorking,
		Records:    []*storage.Record{testRecord(1, "a")},
	})
	require.NoError(t, err)

	_, err = coord.Submit(context.Background(), &coordinator.Intent{
		Op:         coordinator.OpCreate,
		MemoryKind: core.KindWorking,
		Records:    []*storage.Record{testRecord(2, "b")},
	})
	assert.ErrorIs(t, err, core.ErrCapacity)
}

func TestSubmitAfterCloseFails(t *testing.T) {
	rec := newRecorder()
	coord, err := coordinator.New(allTargets(rec))
	require.NoError(t, err)
	require.NoError(t, coord.Close())

	_, err = coord.Submit(context.Background(), &coordinator.Intent{
		Op:         coordinator.OpCreate,
		MemoryKind: core.KindSemantic,
		Records:    []*storage.Record{testRecord(1, "x")},
	})
	assert.ErrorIs(t, err, core.ErrClosed)
}

// fakeRecordStore is an in-memory RecordStore for compensation tests.
type fakeRecordStore struct {
	mu      sync.Mutex
	records map[int64]*storage.Record
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: make(map[int64]*storage.Record)}
}

func (s *fakeRecordStore) Insert(ctx context.Context, record *storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return errors.New("duplicate ID")
	}
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

func (s *fakeRecordStore) Update(ctx context.Context, record *storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; !exists {
		return core.ErrNotFound
	}
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

func (s *fakeRecordStore) Get(ctx context.Context, id int64) (*storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *fakeRecordStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *fakeRecordStore) List(ctx context.Context, opts *storage.ListOptions) ([]*storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.Record
	for _, record := range s.records {
		clone := *record
		out = append(out, &clone)
	}
	return out, nil
}

func (s *fakeRecordStore) Close() error { return nil }
