package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/storage"
)

// Defaults for coordinator tuning knobs.
const (
	// DefaultMaxAttempts bounds delivery retries and compensation passes.
	DefaultMaxAttempts = 3

	// DefaultRetryDelay is the fixed delay before a retried pass.
	DefaultRetryDelay = 2 * time.Second

	// DefaultAdapterTimeout bounds each individual target call.
	DefaultAdapterTimeout = 10 * time.Second

	// DefaultQueueSize is the capacity of each internal queue.
	DefaultQueueSize = 256
)

// Intent is a validated write request handed to Submit.
type Intent struct {
	// Op is the operation kind (create, update, delete, batchCreate).
	Op OpKind

	// MemoryKind decides write priority: semantic and episodic execute
	// synchronously inline, everything else goes through the queue.
	MemoryKind core.MemoryKind

	// Records is the payload. All records must share one scope.
	Records []*storage.Record

	// Targets optionally restricts delivery to a subset of the
	// configured targets. Nil means all targets in configured order.
	Targets []string
}

// retryJob is one unit of background work: either a full re-delivery of
// an operation that failed outright, or a compensation pass for a
// partially applied one.
type retryJob struct {
	op         *Operation
	compensate bool
}

// Coordinator fans writes out to an ordered target set with queuing,
// bounded retries, and best-effort compensation.
//
// Two queues exist, each with a single consumer goroutine: the primary
// queue carries low-priority submissions, and the retry queue carries
// re-deliveries and compensation passes so that compensation never
// blocks new writes. Call Start before submitting and Close when done.
//
// Example:
//
//	coord, _ := coordinator.New(targets, coordinator.WithOperationLog(oplog))
//	coord.Start(ctx)
//	defer coord.Close()
//
//	result, err := coord.Submit(ctx, &coordinator.Intent{
//	    Op:         coordinator.OpCreate,
//	    MemoryKind: core.KindSemantic,
//	    Records:    []*storage.Record{rec},
//	})
type Coordinator struct {
	targets []Target
	byName  map[string]Target

	oplog   *OperationLog
	records storage.RecordStore
	logger  zerolog.Logger

	maxAttempts    int
	retryDelay     time.Duration
	adapterTimeout time.Duration

	queue      chan *Operation
	retryQueue chan retryJob

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithOperationLog sets the per-scope operation log. Without one,
// transitions are not persisted.
func WithOperationLog(l *OperationLog) Option {
	return func(c *Coordinator) { c.oplog = l }
}

// WithRecordStore sets the store used to capture update pre-images for
// compensation. Usually the same store backing the record-store target.
func WithRecordStore(store storage.RecordStore) Option {
	return func(c *Coordinator) { c.records = store }
}

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMaxAttempts sets the retry/compensation attempt bound.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the fixed delay before retried passes.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithAdapterTimeout sets the per-target call timeout.
func WithAdapterTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.adapterTimeout = d
		}
	}
}

// WithQueueSize sets the capacity of the primary and retry queues.
func WithQueueSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.queue = make(chan *Operation, n)
			c.retryQueue = make(chan retryJob, n)
		}
	}
}

// New creates a write coordinator over the given ordered target set.
//
// Parameters:
//   - targets: Named write destinations in fixed delivery order
//   - opts: Optional settings (operation log, logger, retry tuning)
//
// Returns:
//   - *Coordinator: The coordinator instance (call Start before use)
//   - error: Returns an error if the target set is empty or has duplicates
func New(targets []Target, opts ...Option) (*Coordinator, error) {
	if len(targets) == 0 {
		return nil, core.NewError("coordinator.new", fmt.Errorf("%w: at least one target is required", core.ErrInvalidConfig))
	}

	c := &Coordinator{
		targets:        targets,
		byName:         make(map[string]Target, len(targets)),
		logger:         zerolog.Nop(),
		maxAttempts:    DefaultMaxAttempts,
		retryDelay:     DefaultRetryDelay,
		adapterTimeout: DefaultAdapterTimeout,
		queue:          make(chan *Operation, DefaultQueueSize),
		retryQueue:     make(chan retryJob, DefaultQueueSize),
		done:           make(chan struct{}),
	}
	for _, t := range targets {
		if _, dup := c.byName[t.Name]; dup {
			return nil, core.NewError("coordinator.new", fmt.Errorf("%w: duplicate target %q", core.ErrInvalidConfig, t.Name))
		}
		c.byName[t.Name] = t
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start launches the queue consumers. It is safe to call once; further
// calls are no-ops. The consumers stop when ctx is cancelled or Close
// is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.consumePrimary(ctx)
		go c.consumeRetry(ctx)
	})
}

// Close stops the consumers and waits for in-flight work to finish.
// Operations still sitting in the queues are dropped; their last logged
// transition remains visible in the operation log.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
	return nil
}

// Submit accepts a write intent.
//
// Malformed intents are rejected synchronously with ErrValidation and
// never queued. Semantic and episodic writes execute inline and return
// the full delivery result. All other kinds are enqueued FIFO and
// return a pending result; a full queue yields ErrCapacity.
//
// Parameters:
//   - ctx: Context for the inline execution path
//   - intent: The write intent
//
// Returns:
//   - *WriteResult: Delivery outcome (or a pending acknowledgement)
//   - error: ErrValidation, ErrCapacity, ErrClosed, or the aggregate
//     delivery error mirrored in WriteResult.Err
func (c *Coordinator) Submit(ctx context.Context, intent *Intent) (*WriteResult, error) {
	const op = "coordinator.submit"

	select {
	case <-c.done:
		return nil, core.NewError(op, core.ErrClosed)
	default:
	}

	scopeKey, err := c.validate(intent)
	if err != nil {
		return nil, core.NewError(op, err)
	}

	targets := intent.Targets
	if len(targets) == 0 {
		targets = make([]string, 0, len(c.targets))
		for _, t := range c.targets {
			targets = append(targets, t.Name)
		}
	}

	operation := newOperation(intent.Op, targets, intent.Records, scopeKey, c.maxAttempts)

	if intent.MemoryKind.HighPriority() {
		result := c.execute(ctx, operation)
		return result, result.Err
	}

	select {
	case c.queue <- operation:
		c.logger.Debug().Str("op_id", operation.ID).Str("scope", scopeKey).Msg("write enqueued")
		return &WriteResult{Pending: true, OpID: operation.ID}, nil
	case <-c.done:
		return nil, core.NewError(op, core.ErrClosed)
	default:
		return nil, core.NewError(op, fmt.Errorf("%w: write queue is full", core.ErrCapacity))
	}
}

// validate checks the intent and returns the common scope key.
func (c *Coordinator) validate(intent *Intent) (string, error) {
	if intent == nil {
		return "", fmt.Errorf("%w: intent is nil", core.ErrValidation)
	}
	if !intent.Op.Valid() {
		return "", fmt.Errorf("%w: unknown operation kind %q", core.ErrValidation, intent.Op)
	}
	if !intent.MemoryKind.Valid() {
		return "", fmt.Errorf("%w: unknown memory kind %q", core.ErrValidation, intent.MemoryKind)
	}
	if len(intent.Records) == 0 {
		return "", fmt.Errorf("%w: no records in intent", core.ErrValidation)
	}
	for _, name := range intent.Targets {
		if _, ok := c.byName[name]; !ok {
			return "", fmt.Errorf("%w: unknown target %q", core.ErrValidation, name)
		}
	}

	var scopeKey string
	for _, rec := range intent.Records {
		if rec == nil {
			return "", fmt.Errorf("%w: nil record", core.ErrValidation)
		}
		if rec.ID == 0 {
			return "", fmt.Errorf("%w: record has no ID", core.ErrValidation)
		}
		if rec.OwnerID == "" {
			return "", fmt.Errorf("%w: record has no owner", core.ErrValidation)
		}
		if rec.Content == "" && intent.Op != OpDelete {
			return "", fmt.Errorf("%w: record %d has empty content", core.ErrValidation, rec.ID)
		}
		key := recordScopeKey(rec)
		if scopeKey == "" {
			scopeKey = key
		} else if key != scopeKey {
			return "", fmt.Errorf("%w: records span multiple scopes", core.ErrValidation)
		}
	}
	return scopeKey, nil
}

// execute runs one delivery pass over every target, in order, and
// schedules retry or compensation follow-up as needed.
func (c *Coordinator) execute(ctx context.Context, op *Operation) *WriteResult {
	op.Attempts++
	op.CompletedTargets = nil
	op.FailedTargets = nil
	op.setStatus(StatusInProgress)
	c.record(op, PhaseBefore, "")

	if op.Kind == OpUpdate && c.records != nil && len(op.Compensation) == 0 {
		c.capturePreImages(ctx, op)
	}

	var targetErrs []error
	for _, name := range op.Targets {
		target := c.byName[name]
		if err := c.applyTarget(ctx, target, op); err != nil {
			op.FailedTargets = append(op.FailedTargets, name)
			targetErrs = append(targetErrs, fmt.Errorf("%s: %w", name, err))
			c.logger.Warn().Str("op_id", op.ID).Str("target", name).Err(err).Msg("target write failed")
			continue
		}
		op.CompletedTargets = append(op.CompletedTargets, name)
	}

	result := &WriteResult{
		Success:          len(op.FailedTargets) == 0,
		OpID:             op.ID,
		CompletedTargets: append([]string(nil), op.CompletedTargets...),
		FailedTargets:    append([]string(nil), op.FailedTargets...),
	}

	var note string
	if result.Success {
		op.setStatus(StatusCompleted)
	} else {
		op.setStatus(StatusFailed)
		result.Err = fmt.Errorf("%w: %s", core.ErrAdapter, joinErrs(targetErrs))
		note = result.Err.Error()
	}
	c.record(op, PhaseAfter, note)

	if result.Success {
		return result
	}

	if len(op.CompletedTargets) == 0 {
		// Outright failure: nothing to undo, retry the whole pass.
		if op.Attempts < op.MaxAttempts {
			c.enqueueRetry(retryJob{op: op})
		} else {
			c.logger.Error().Str("op_id", op.ID).Int("attempts", op.Attempts).Msg("write failed terminally")
		}
		return result
	}

	if op.Kind != OpDelete {
		c.enqueueRetry(retryJob{op: op, compensate: true})
	}
	return result
}

// compensate undoes the effect on every completed target, most recent
// first. Failures are logged and bounded by MaxAttempts; they never
// change the result already returned to the caller.
func (c *Coordinator) compensate(ctx context.Context, op *Operation) {
	op.setStatus(StatusCompensating)
	c.record(op, PhaseBefore, "")

	var failed []string
	for i := len(op.CompletedTargets) - 1; i >= 0; i-- {
		name := op.CompletedTargets[i]
		target := c.byName[name]
		if target.Compensate == nil {
			continue
		}

		tctx, cancel := context.WithTimeout(ctx, c.adapterTimeout)
		err := target.Compensate(tctx, op)
		cancel()
		if err != nil {
			failed = append(failed, name)
			c.logger.Error().Str("op_id", op.ID).Str("target", name).
				Err(fmt.Errorf("%w: %v", core.ErrCompensation, err)).
				Msg("compensation failed")
		}
	}

	if len(failed) > 0 && op.Attempts < op.MaxAttempts {
		op.Attempts++
		c.record(op, PhaseAfter, "compensation retry scheduled: "+strings.Join(failed, ","))
		c.enqueueRetry(retryJob{op: op, compensate: true})
		return
	}

	op.setStatus(StatusCompensated)
	note := ""
	if len(failed) > 0 {
		note = "unresolved targets: " + strings.Join(failed, ",")
	}
	c.record(op, PhaseAfter, note)
}

// applyTarget invokes one target with the per-adapter timeout applied.
func (c *Coordinator) applyTarget(ctx context.Context, target Target, op *Operation) error {
	tctx, cancel := context.WithTimeout(ctx, c.adapterTimeout)
	defer cancel()

	err := target.Apply(tctx, op)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", core.ErrTimeout, err)
	}
	return err
}

// capturePreImages loads the current record versions so an update can
// be rolled back. A record that cannot be loaded leaves a nil slot and
// is skipped during restore.
func (c *Coordinator) capturePreImages(ctx context.Context, op *Operation) {
	op.Compensation = make([]*storage.Record, len(op.Records))
	for i, rec := range op.Records {
		prev, err := c.records.Get(ctx, rec.ID)
		if err != nil {
			c.logger.Warn().Str("op_id", op.ID).Int64("record_id", rec.ID).Err(err).Msg("pre-image capture failed")
			continue
		}
		op.Compensation[i] = prev
	}
}

func (c *Coordinator) consumePrimary(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case op := <-c.queue:
			c.execute(ctx, op)
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

func (c *Coordinator) consumeRetry(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case job := <-c.retryQueue:
			if !c.sleep(ctx, c.retryDelay) {
				return
			}
			if job.compensate {
				c.compensate(ctx, job.op)
			} else {
				c.execute(ctx, job.op)
			}
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

// sleep waits for the fixed retry delay, returning false when shut down.
func (c *Coordinator) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

func (c *Coordinator) enqueueRetry(job retryJob) {
	select {
	case c.retryQueue <- job:
	default:
		c.logger.Error().Str("op_id", job.op.ID).Msg("retry queue full, dropping follow-up")
	}
}

// record appends a transition to the operation log, if configured.
// Logging failures are reported but never fail the write itself.
func (c *Coordinator) record(op *Operation, phase LogPhase, note string) {
	if c.oplog == nil {
		return
	}
	if err := c.oplog.Record(op, phase, note); err != nil {
		c.logger.Warn().Str("op_id", op.ID).Err(err).Msg("operation log append failed")
	}
}

func recordScopeKey(rec *storage.Record) string {
	if rec.ProjectID == "" {
		return rec.OwnerID
	}
	return rec.OwnerID + "__" + rec.ProjectID
}

func joinErrs(errs []error) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}
