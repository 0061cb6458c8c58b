// Package ledger serializes object store mutations. Every mutating call runs
// as one transaction against the committed state; the resulting diff is
// committed to a Backend before it becomes visible to readers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunnelmesh/objectarium/internal/logging/audit"
	"github.com/tunnelmesh/objectarium/internal/metrics"
	"github.com/tunnelmesh/objectarium/internal/objectarium"
)

// Ledger is safe for concurrent use. Mutations are applied one at a time in
// call order; reads observe the latest committed version.
type Ledger struct {
	mu      sync.RWMutex
	state   *objectarium.State
	backend Backend

	logger  zerolog.Logger
	audit   *audit.Logger
	metrics *metrics.ObjectariumMetrics
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the diagnostic logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithAudit records every mutation with the audit logger.
func WithAudit(a *audit.Logger) Option {
	return func(l *Ledger) {
		l.audit = a
	}
}

// WithMetrics records operation metrics and state gauges.
func WithMetrics(m *metrics.ObjectariumMetrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithNow overrides the clock that stamps operations.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Open loads the committed state from backend.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		backend: backend,
		logger:  zerolog.Nop(),
		audit:   audit.NewLogger(zerolog.Nop()),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	state, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	l.state = state
	l.publishState()

	l.logger.Debug().
		Uint64("version", state.Version()).
		Int("buckets", len(state.Buckets())).
		Msg("ledger opened")
	return l, nil
}

// Close closes the backend.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backend.Close()
}

// execute runs op in its own transaction. On any error, including a backend
// failure, the committed state is unchanged.
func (l *Ledger) execute(ctx context.Context, op objectarium.Op) (objectarium.Result, *objectarium.Diff, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	op.Time = l.now()

	res, diff, err := l.executeLocked(ctx, op)
	l.metrics.ObserveOperation(string(op.Kind), resultOf(err), time.Since(start))
	return res, diff, err
}

func (l *Ledger) executeLocked(ctx context.Context, op objectarium.Op) (objectarium.Result, *objectarium.Diff, error) {
	if err := ctx.Err(); err != nil {
		return objectarium.Result{}, nil, err
	}

	tx := l.state.Begin(op.Time)
	res, err := objectarium.Apply(tx, op)
	if err != nil {
		return res, nil, err
	}

	diff := tx.Commit()
	if diff.Empty() {
		return res, diff, nil
	}
	if err := l.backend.Commit(ctx, op, diff); err != nil {
		l.logger.Error().Err(err).
			Str("operation", string(op.Kind)).
			Uint64("version", diff.Version).
			Msg("backend commit failed")
		return objectarium.Result{}, nil, fmt.Errorf("commit version %d: %w", diff.Version, err)
	}
	if err := l.state.Apply(diff); err != nil {
		// The backend already holds the diff; the in-memory state can no
		// longer be trusted.
		return objectarium.Result{}, nil, fmt.Errorf("%w: apply version %d: %v", objectarium.ErrCorrupted, diff.Version, err)
	}

	l.logger.Debug().
		Str("operation", string(op.Kind)).
		Str("actor", string(op.Actor)).
		Uint64("version", diff.Version).
		Int("changes", len(diff.Changes)).
		Msg("committed")
	l.publishState()
	return res, diff, nil
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return audit.ResultAllowed
	case objectarium.IsDenied(err):
		return audit.ResultDenied
	default:
		return audit.ResultError
	}
}

func details(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// publishState updates the state gauges. Callers hold l.mu.
func (l *Ledger) publishState() {
	if l.metrics == nil {
		return
	}
	snap := metrics.StateSnapshot{Version: l.state.Version()}
	for _, b := range l.state.Buckets() {
		snap.Buckets = append(snap.Buckets, metrics.BucketUsage{
			ID:            string(b.ID),
			Size:          b.Stat.Size,
			MaxBucketSize: b.Config.Limits.MaxBucketSize,
		})
		snap.Objects += b.Stat.ObjectCount
		snap.StorageBytes += b.Stat.Size
		snap.CompressedBytes += b.Stat.CompressedSize
		snap.Pins += b.Pins
	}
	l.metrics.SetState(snap)
}

// CreateBucket registers a bucket owned by owner and returns its id.
func (l *Ledger) CreateBucket(ctx context.Context, owner objectarium.Actor, cfg objectarium.BucketConfig) (objectarium.BucketID, error) {
	res, _, err := l.execute(ctx, objectarium.Op{Kind: objectarium.OpCreateBucket, Actor: owner, Config: &cfg})
	l.audit.LogBucket(string(owner), string(res.Bucket), cfg.Name, resultOf(err), details(err))
	if err != nil {
		return "", err
	}
	return res.Bucket, nil
}

// Store records data in bucket and returns its content address.
func (l *Ledger) Store(ctx context.Context, bucket objectarium.BucketID, actor objectarium.Actor, data []byte, opts objectarium.StoreOptions) (objectarium.StoreResult, error) {
	res, diff, err := l.execute(ctx, objectarium.Op{
		Kind:        objectarium.OpStore,
		Bucket:      bucket,
		Actor:       actor,
		Data:        data,
		Compression: opts.Compression,
		Pin:         opts.Pin,
	})

	detail := details(err)
	if err == nil {
		if res.Store.Deduplicated {
			detail = "deduplicated"
			l.metrics.ObserveStore(0, 0, true)
		}
		for _, c := range diff.Changes {
			if c.Kind == objectarium.EntryObject && c.Meta != nil {
				l.metrics.ObserveStore(c.Meta.Size, c.Meta.CompressedSize, false)
			}
		}
	}
	l.audit.LogOperation(string(actor), string(objectarium.OpStore), string(bucket), string(res.Store.ID), resultOf(err), detail)
	if err != nil {
		return objectarium.StoreResult{}, err
	}
	return res.Store, nil
}

// Pin adds actor to the pinners of an object.
func (l *Ledger) Pin(ctx context.Context, bucket objectarium.BucketID, id objectarium.ObjectID, actor objectarium.Actor) (objectarium.PinOutcome, error) {
	res, _, err := l.execute(ctx, objectarium.Op{Kind: objectarium.OpPin, Bucket: bucket, Object: id, Actor: actor})
	l.audit.LogOperation(string(actor), string(objectarium.OpPin), string(bucket), string(id), resultOf(err), details(err))
	if err != nil {
		return objectarium.PinOutcome{}, err
	}
	return res.Pin, nil
}

// Unpin removes actor from the pinners of an object.
func (l *Ledger) Unpin(ctx context.Context, bucket objectarium.BucketID, id objectarium.ObjectID, actor objectarium.Actor) (objectarium.UnpinOutcome, error) {
	res, _, err := l.execute(ctx, objectarium.Op{Kind: objectarium.OpUnpin, Bucket: bucket, Object: id, Actor: actor})
	l.audit.LogOperation(string(actor), string(objectarium.OpUnpin), string(bucket), string(id), resultOf(err), details(err))
	if err != nil {
		return objectarium.UnpinOutcome{}, err
	}
	return res.Unpin, nil
}

// Forget removes an unpinned object.
func (l *Ledger) Forget(ctx context.Context, bucket objectarium.BucketID, id objectarium.ObjectID, actor objectarium.Actor) error {
	_, _, err := l.execute(ctx, objectarium.Op{Kind: objectarium.OpForget, Bucket: bucket, Object: id, Actor: actor})
	l.audit.LogOperation(string(actor), string(objectarium.OpForget), string(bucket), string(id), resultOf(err), details(err))
	return err
}

// ForceForget removes an object regardless of its pins and returns the
// number of pins dropped.
func (l *Ledger) ForceForget(ctx context.Context, bucket objectarium.BucketID, id objectarium.ObjectID, actor objectarium.Actor) (uint64, error) {
	res, _, err := l.execute(ctx, objectarium.Op{Kind: objectarium.OpForceForget, Bucket: bucket, Object: id, Actor: actor})
	l.audit.LogForceForget(string(actor), string(bucket), string(id), resultOf(err), res.DroppedPins, details(err))
	if err != nil {
		return 0, err
	}
	if l.metrics != nil {
		l.metrics.ForceForgetsTotal.Inc()
	}
	return res.DroppedPins, nil
}

// Version returns the committed state version.
func (l *Ledger) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Version()
}

// Bucket returns a bucket and its stats.
func (l *Ledger) Bucket(id objectarium.BucketID) (objectarium.BucketInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Bucket(id)
}

// Buckets returns every bucket ordered by name.
func (l *Ledger) Buckets() []objectarium.BucketInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Buckets()
}

// Get returns the metadata projection of an object, or false if absent.
func (l *Ledger) Get(bucket objectarium.BucketID, id objectarium.ObjectID) (objectarium.ObjectMetadata, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Get(bucket, id)
}

// Object returns the full record of a live object.
func (l *Ledger) Object(bucket objectarium.BucketID, id objectarium.ObjectID) (objectarium.Object, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Object(bucket, id)
}

// PinCount returns the number of actors pinning an object.
func (l *Ledger) PinCount(bucket objectarium.BucketID, id objectarium.ObjectID) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.PinCount(bucket, id)
}

// List returns a page of object metadata ordered by id.
func (l *Ledger) List(bucket objectarium.BucketID, filter objectarium.Filter, cursor string, limit uint32) (objectarium.Page[objectarium.ObjectMetadata], error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.List(bucket, filter, cursor, limit)
}

// ObjectPins returns a page of the actors pinning an object.
func (l *Ledger) ObjectPins(bucket objectarium.BucketID, id objectarium.ObjectID, cursor string, limit uint32) (objectarium.Page[objectarium.Actor], error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.ObjectPins(bucket, id, cursor, limit)
}

// ObjectData returns the verified raw bytes of an object.
func (l *Ledger) ObjectData(bucket objectarium.BucketID, id objectarium.ObjectID) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.ObjectData(bucket, id)
}

// VerifyReport is the outcome of Verify.
type VerifyReport struct {
	Version     uint64 `json:"version"`
	Fingerprint string `json:"fingerprint"`
	// JournalOps is the number of journaled ops replayed, -1 without a journal.
	JournalOps int `json:"journal_ops"`
}

// ErrJournalMismatch is returned by Verify when replaying the journal does
// not reproduce the committed state.
var ErrJournalMismatch = errors.New("journal replay does not match state")

// Verify checks the accounting of the committed state and, when the backend
// keeps a journal, that replaying it reproduces the state exactly.
func (l *Ledger) Verify(ctx context.Context) (VerifyReport, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	report := VerifyReport{
		Version:     l.state.Version(),
		Fingerprint: l.state.Fingerprint(),
		JournalOps:  -1,
	}
	if err := l.state.CheckConservation(); err != nil {
		return report, err
	}

	ops, err := l.backend.Journal(ctx)
	if err != nil {
		return report, fmt.Errorf("read journal: %w", err)
	}
	if ops == nil {
		return report, nil
	}
	report.JournalOps = len(ops)

	replayed, err := objectarium.Replay(ops)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrJournalMismatch, err)
	}
	if replayed.Version() != report.Version || replayed.Fingerprint() != report.Fingerprint {
		return report, fmt.Errorf("%w: replayed version %d fingerprint %s", ErrJournalMismatch, replayed.Version(), replayed.Fingerprint())
	}
	return report, nil
}
