package mailstore

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Backend is one physical storage engine. Keys passed to and returned from
// a Backend are fully serialized, subspace byte included.
//
// Implementations document their isolation level for Iterate; Write is
// always atomic and checks batch assertions inside the transaction.
type Backend interface {
	// Get returns the value of key, or nil if the key does not exist.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Write applies the batch atomically. If an assertion of the batch fails,
	// returns ErrAssertValueFailed and applies nothing.
	Write(ctx context.Context, batch *Batch) error

	// Iterate calls fn for every key in the range, in the requested order.
	Iterate(ctx context.Context, params IterateParams, fn IterateFunc) error

	Close() error
}

// Options configure a Store independently of the backend kind.
type Options struct {
	Logger *slog.Logger

	// Registerer receives the package metrics. Nil disables registration
	// (the metrics are still updated).
	Registerer prometheus.Registerer

	// FetchConcurrency bounds parallel bitmap fetches of a single filter
	// leaf. Zero means 8.
	FetchConcurrency int

	// Verbose logs every batch commit at debug level.
	Verbose bool
}

// Store is the single entry point of all persistence code. It wraps one
// Backend, chosen at startup, adding logging, metrics and typed helpers.
// A Store is safe for concurrent use.
type Store struct {
	backend     Backend
	kind        string
	logger      *slog.Logger
	concurrency int
	verbose     bool
}

// NewStore wraps an already opened backend. kind names it in logs and
// metrics.
func NewStore(backend Backend, kind string, opt Options) (*Store, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.FetchConcurrency <= 0 {
		opt.FetchConcurrency = 8
	}
	if err := registerMetrics(opt.Registerer); err != nil {
		return nil, err
	}
	return &Store{
		backend:     backend,
		kind:        kind,
		logger:      opt.Logger.With("store", kind),
		concurrency: opt.FetchConcurrency,
		verbose:     opt.Verbose,
	}, nil
}

func (s *Store) Backend() Backend { return s.backend }

func (s *Store) Kind() string { return s.kind }

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) wrapErr(op string, key []byte, err error) error {
	if err == nil || IsAssertValueFailed(err) || errors.Is(err, ErrInternal) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return internalErrf(op, key, err, "")
}

// GetRaw returns the value stored under a fully serialized key, or nil.
func (s *Store) GetRaw(ctx context.Context, key []byte) ([]byte, error) {
	start := time.Now()
	v, err := s.backend.Get(ctx, key)
	observe(s.kind, "get", start, err)
	return v, s.wrapErr("get", key, err)
}

func (s *Store) Get(ctx context.Context, key Key) ([]byte, error) {
	return s.GetRaw(ctx, key.Serialize(true))
}

// GetValue reads and deserializes the value under key. ok is false when the
// key does not exist.
func GetValue[T any, PT interface {
	*T
	Deserializer
}](ctx context.Context, s *Store, key Key) (v T, ok bool, err error) {
	raw, err := s.Get(ctx, key)
	if err != nil || raw == nil {
		return v, false, err
	}
	err = PT(&v).Deserialize(raw)
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Set stores a single value in its own transaction.
func (s *Store) Set(ctx context.Context, key Key, value []byte) error {
	return s.Write(ctx, NewBatch().Set(key, value))
}

// Delete removes a single key in its own transaction.
func (s *Store) Delete(ctx context.Context, key Key) error {
	return s.Write(ctx, NewBatch().Delete(key))
}

// Write commits the batch. On ErrAssertValueFailed the caller is expected to
// re-read the state it asserted and build a new batch; Write never retries.
func (s *Store) Write(ctx context.Context, b *Batch) error {
	if b.IsEmpty() {
		return nil
	}
	start := time.Now()
	err := s.backend.Write(ctx, b)
	observe(s.kind, "write", start, err)
	switch {
	case err == nil:
		BatchSize.WithLabelValues(s.kind).Observe(float64(b.Len()))
		if s.verbose {
			s.logger.LogAttrs(ctx, slog.LevelDebug, "batch committed", slog.Int("ops", b.Len()), slog.Duration("elapsed", time.Since(start)))
		}
	case IsAssertValueFailed(err):
		s.logger.LogAttrs(ctx, slog.LevelWarn, "batch assertion failed", slog.Int("ops", b.Len()))
	default:
		s.logger.LogAttrs(ctx, slog.LevelError, "batch failed", slog.Int("ops", b.Len()), slog.Any("err", err))
	}
	return s.wrapErr("write", nil, err)
}

// Iterate scans a key range. See IterateParams and IterateFunc.
func (s *Store) Iterate(ctx context.Context, params IterateParams, fn IterateFunc) error {
	if params.End != nil && bytes.Compare(params.Begin, params.End) >= 0 {
		return nil
	}
	start := time.Now()
	var n int
	err := s.backend.Iterate(ctx, params, func(k, v []byte) (bool, error) {
		n++
		return fn(k, v)
	})
	observe(s.kind, "iterate", start, err)
	if s.verbose {
		s.logger.LogAttrs(ctx, slog.LevelDebug, "iterate", hexAttr("begin", params.Begin), hexAttr("end", params.End), slog.Bool("asc", params.Ascending), slog.Int("n", n))
	}
	return s.wrapErr("iterate", params.Begin, err)
}

// localBackend implements Backend over an embedded storage engine.
//
// Isolation: Write runs in a single read-write transaction of the engine,
// Get and Iterate run on a read-only snapshot, so a scan never observes a
// commit that happens while it runs.
type localBackend struct {
	st     storage
	logger *slog.Logger
}

func newLocalBackend(st storage, logger *slog.Logger) *localBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &localBackend{st: st, logger: logger}
}

func (b *localBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := b.st.BeginTx(false)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	v, err := tx.Get(key)
	if err != nil || v == nil {
		return nil, err
	}
	return bytes.Clone(v), nil
}

type localTxnView struct {
	tx storageTx
}

func (v localTxnView) get(key []byte) ([]byte, error) {
	val, err := v.tx.Get(key)
	if err != nil || val == nil {
		return nil, err
	}
	return bytes.Clone(val), nil
}

func (v localTxnView) set(key, value []byte) error { return v.tx.Put(key, value) }

func (v localTxnView) del(key []byte) error { return v.tx.Delete(key) }

func (b *localBackend) Write(ctx context.Context, batch *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := b.st.BeginTx(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyOps(localTxnView{tx}, batch.ops); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *localBackend) Iterate(ctx context.Context, params IterateParams, fn IterateFunc) error {
	tx, err := b.st.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	c := tx.Cursor()
	err = scanCursor(ctx, c, params, b.logger, fn)
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

func (b *localBackend) Close() error {
	return b.st.Close()
}
