// Package engine orchestrates the write-ahead log, the striped lock array,
// and the in-memory index into the four operations (Set, Get, GetPrefix,
// Stat) the rest of the system is built on. All write operations follow
// the pattern: WAL append -> publish to index -> respond.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/flashdb/kvstore/internal/index"
	"github.com/flashdb/kvstore/internal/record"
	"github.com/flashdb/kvstore/internal/stripelock"
	"github.com/flashdb/kvstore/internal/wal"
)

// Sentinel errors for the four operations' validation failures. IoError
// from spec.md §7 is not redeclared here: it propagates as wal.ErrIO, so
// callers can errors.Is(err, wal.ErrIO) at either layer.
var (
	ErrEmptyKey      = errors.New("engine: empty key")
	ErrKeyTooLarge   = errors.New("engine: key too large")
	ErrValueTooLarge = errors.New("engine: value too large")
)

// IoError is an alias for wal.ErrIO, exported under the engine's own name
// since engine.Set is where external callers observe it.
var IoError = wal.ErrIO

// Config controls engine construction. Zero-valued StripeCount,
// MaxKeyBytes, MaxValueBytes, and WALPath fall back to spec.md §6's
// defaults; FsyncOnAppend does not, because its zero value (false) is
// itself a meaningful, durability-violating setting — callers (in
// practice, internal/config) must set it explicitly.
type Config struct {
	WALPath       string
	StripeCount   int
	MaxKeyBytes   uint32
	MaxValueBytes uint32
	FsyncOnAppend bool
	Logger        *slog.Logger
}

// DefaultConfig returns spec.md §6's configuration defaults.
func DefaultConfig() Config {
	return Config{
		WALPath:       "wal.log",
		StripeCount:   64,
		MaxKeyBytes:   4096,
		MaxValueBytes: 1 << 20,
		FsyncOnAppend: true,
	}
}

func resolve(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.WALPath == "" {
		cfg.WALPath = defaults.WALPath
	}
	if cfg.StripeCount <= 0 {
		cfg.StripeCount = defaults.StripeCount
	}
	if cfg.MaxKeyBytes == 0 {
		cfg.MaxKeyBytes = defaults.MaxKeyBytes
	}
	if cfg.MaxValueBytes == 0 {
		cfg.MaxValueBytes = defaults.MaxValueBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Stat is the snapshot returned by Engine.Stat.
type Stat struct {
	KeyCount        int
	ServerStartTime string // ISO-8601, captured once at construction
	TotalRequests   int64
	SetCount        int64
	GetCount        int64
	GetPrefixCount  int64
}

// Engine coordinates the WAL and in-memory index for durable key-value
// storage. It is safe for concurrent use by multiple goroutines.
type Engine struct {
	cfg   Config
	wal   *wal.WAL
	index *index.Index
	locks *stripelock.Locks
	log   *slog.Logger

	startTime time.Time

	totalRequests  atomic.Int64
	setCount       atomic.Int64
	getCount       atomic.Int64
	getPrefixCount atomic.Int64

	recovery wal.Summary
}

// New opens the WAL at cfg.WALPath (creating it if absent), replays it into
// a fresh index, and returns an Engine ready to accept Set/Get/GetPrefix/
// Stat calls. No external traffic should reach the returned Engine before
// New returns — recovery is complete by then, which is the whole point of
// doing it here rather than lazily.
func New(cfg Config) (*Engine, error) {
	cfg = resolve(cfg)
	limits := record.Limits{MaxKeyBytes: cfg.MaxKeyBytes, MaxValueBytes: cfg.MaxValueBytes}

	w, err := wal.Open(cfg.WALPath, limits, cfg.FsyncOnAppend)
	if err != nil {
		return nil, fmt.Errorf("engine: opening wal: %w", err)
	}

	idx := index.New()
	summary, err := w.Replay(func(key, value []byte) {
		idx.Put(string(key), value)
	})
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("engine: recovering from wal: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		wal:       w,
		index:     idx,
		locks:     stripelock.New(cfg.StripeCount),
		log:       cfg.Logger,
		startTime: time.Now(),
		recovery:  summary,
	}

	e.log.Info("engine recovered",
		slog.String("wal_path", cfg.WALPath),
		slog.Int("records_applied", summary.RecordsApplied),
		slog.Int64("wal_bytes", summary.FinalOffset))

	if err := writeRecoveryManifest(cfg.WALPath, summary, e.startTime); err != nil {
		// The manifest is advisory observability, not a recovery input
		// (§3, §4.6a): a failure to write it must never fail startup.
		e.log.Warn("failed to write recovery manifest", slog.Any("error", err))
	}

	return e, nil
}

// Set validates key and value, then appends-and-syncs a record to the WAL
// before publishing it to the index, holding key's stripe lock for the
// whole append-then-publish sequence.
func (e *Engine) Set(key string, value []byte) error {
	e.setCount.Add(1)
	e.totalRequests.Add(1)

	if len(key) == 0 {
		return ErrEmptyKey
	}
	if uint32(len(key)) > e.cfg.MaxKeyBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrKeyTooLarge, len(key), e.cfg.MaxKeyBytes)
	}
	if uint32(len(value)) > e.cfg.MaxValueBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrValueTooLarge, len(value), e.cfg.MaxValueBytes)
	}

	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	if err := e.wal.AppendAndSync(record.Record{Key: []byte(key), Value: value}); err != nil {
		return err
	}
	e.index.Put(key, value)
	return nil
}

// Get looks up key in the index. It never blocks on a stripe lock: point
// reads rely only on the index's own concurrency guarantees.
func (e *Engine) Get(key string) (value []byte, found bool, err error) {
	e.getCount.Add(1)
	e.totalRequests.Add(1)

	if len(key) == 0 {
		return nil, false, ErrEmptyKey
	}
	value, found = e.index.Get(key)
	return value, found, nil
}

// GetPrefix returns up to maxResults bindings whose keys begin with prefix,
// ascending by key. maxResults <= 0 means no limit; an empty prefix
// matches every key.
func (e *Engine) GetPrefix(prefix string, maxResults int) []index.Pair {
	e.getPrefixCount.Add(1)
	e.totalRequests.Add(1)
	return e.index.PrefixScan(prefix, maxResults)
}

// Stat returns a snapshot of request counters, start time, and key count.
func (e *Engine) Stat() Stat {
	return Stat{
		KeyCount:        e.index.Len(),
		ServerStartTime: e.startTime.UTC().Format(time.RFC3339),
		TotalRequests:   e.totalRequests.Load(),
		SetCount:        e.setCount.Load(),
		GetCount:        e.getCount.Load(),
		GetPrefixCount:  e.getPrefixCount.Load(),
	}
}

// Close flushes and closes the WAL. It does not clear the in-memory index:
// the process is expected to exit shortly after.
func (e *Engine) Close() error {
	return e.wal.Close()
}
