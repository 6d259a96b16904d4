// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sirrus7/ready-or-not-sub011/internal/blobstore"
	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/metrics"
	"github.com/sirrus7/ready-or-not-sub011/internal/telemetry"
)

// DefaultBulkConcurrency is used when BulkOptions.Concurrency is not positive.
const DefaultBulkConcurrency = 3

var (
	// ErrBulkInProgress is returned when a bulk download is already running.
	ErrBulkInProgress = errors.New("bulk download already in progress")
	// ErrBulkCancelled is returned when CancelBulkDownload stopped a run.
	ErrBulkCancelled = errors.New("bulk download cancelled")
)

// BulkProgress is an immutable snapshot of a bulk download. Downloaded
// counts attempted items, successful or not.
type BulkProgress struct {
	Downloaded  int      `json:"downloaded"`
	Total       int      `json:"total"`
	CurrentFile string   `json:"currentFile"`
	IsComplete  bool     `json:"isComplete"`
	Errors      []string `json:"errors"`
}

func (p BulkProgress) clone() BulkProgress {
	p.Errors = append([]string(nil), p.Errors...)
	return p
}

// BulkOptions configures BulkDownloadAllMedia.
type BulkOptions struct {
	Concurrency int
	OnProgress  func(BulkProgress)
	Version     string
	UserType    string
}

type bulkKey struct {
	version  string
	userType string
}

type bulkRun struct {
	gen      uint64
	key      bulkKey
	stop     atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	progress BulkProgress
	cbMu     sync.Mutex
}

type bulkState struct {
	mu         sync.Mutex
	generation uint64
	current    *bulkRun
	last       *bulkRun
	completed  map[bulkKey]uint64
}

// BulkDownloadAllMedia downloads every item not already cached using a fixed
// pool of opts.Concurrency workers. Per-item failures are collected in the
// progress and never abort the batch. It returns after every item has been
// attempted, or after cancellation has drained the running workers.
func (m *Manager) BulkDownloadAllMedia(ctx context.Context, items []string, opts BulkOptions) (final BulkProgress, err error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultBulkConcurrency
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.bulk.mu.Lock()
	if m.bulk.current != nil {
		snap := m.bulk.current.progress.clone()
		m.bulk.mu.Unlock()
		return snap, ErrBulkInProgress
	}
	run := &bulkRun{
		gen:      m.bulk.generation,
		key:      bulkKey{opts.Version, opts.UserType},
		cancel:   cancel,
		done:     make(chan struct{}),
		progress: BulkProgress{Total: len(items), Errors: []string{}},
	}
	m.bulk.current = run
	m.bulk.mu.Unlock()

	ctx, finish := telemetry.Start(ctx, "ron.media", "media.bulk",
		telemetry.BulkAttributes(opts.Version, opts.UserType, len(items), opts.Concurrency)...)
	defer func() { finish(err) }()

	logger := log.WithComponent("media.bulk")
	logger.Info().
		Int("total", len(items)).
		Int("concurrency", opts.Concurrency).
		Str("version", opts.Version).
		Str("user_type", opts.UserType).
		Msg("bulk download started")
	start := time.Now()

	queue := make(chan string, len(items))
	for _, it := range items {
		queue <- it
	}
	close(queue)

	var g errgroup.Group
	workers := min(opts.Concurrency, len(items))
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for path := range queue {
				if run.stop.Load() || ctx.Err() != nil {
					return nil
				}
				itemErr := m.bulkItem(ctx, path)
				m.report(run, path, itemErr, opts.OnProgress)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.bulk.mu.Lock()
	switch {
	case run.stop.Load():
		err = ErrBulkCancelled
	case ctx.Err() != nil:
		err = ctx.Err()
	default:
		run.progress.IsComplete = true
		if len(run.progress.Errors) == 0 && run.gen == m.bulk.generation {
			m.bulk.completed[run.key] = run.gen
		}
	}
	final = run.progress.clone()
	m.bulk.current = nil
	m.bulk.last = run
	m.bulk.mu.Unlock()
	close(run.done)

	if final.IsComplete && opts.OnProgress != nil {
		run.cbMu.Lock()
		opts.OnProgress(final.clone())
		run.cbMu.Unlock()
	}

	logger.Info().
		Int("downloaded", final.Downloaded).
		Int("errors", len(final.Errors)).
		Bool("complete", final.IsComplete).
		Dur("elapsed", time.Since(start)).
		Msg("bulk download finished")
	return final, err
}

// ListAssets returns the asset paths of version/userType.
func (m *Manager) ListAssets(ctx context.Context, version, userType string) ([]string, error) {
	if m.lister == nil {
		return nil, ErrNoLister
	}
	items, err := m.lister.ListAssets(ctx, version, userType)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return items, nil
}

// BulkDownloadVersion lists the assets of version/userType and downloads them.
func (m *Manager) BulkDownloadVersion(ctx context.Context, opts BulkOptions) (BulkProgress, error) {
	items, err := m.ListAssets(ctx, opts.Version, opts.UserType)
	if err != nil {
		return BulkProgress{}, err
	}
	return m.BulkDownloadAllMedia(ctx, items, opts)
}

func (m *Manager) bulkItem(ctx context.Context, path string) error {
	key, err := blobstore.NormalizeKey(path)
	if err != nil {
		metrics.RecordBulkAttempt("error")
		return err
	}
	if m.IsCached(ctx, key) {
		metrics.RecordBulkAttempt("cached")
		return nil
	}

	metrics.BulkDownloadsInFlight.Inc()
	defer metrics.BulkDownloadsInFlight.Dec()

	if _, err := m.fetch(ctx, key); err != nil {
		metrics.RecordBulkAttempt("error")
		return err
	}
	metrics.RecordBulkAttempt("ok")
	return nil
}

// report records one attempt and delivers a snapshot. Callbacks for a run
// are serialized so observers see Downloaded increase monotonically.
func (m *Manager) report(run *bulkRun, path string, itemErr error, cb func(BulkProgress)) {
	run.cbMu.Lock()
	defer run.cbMu.Unlock()

	m.bulk.mu.Lock()
	run.progress.Downloaded++
	run.progress.CurrentFile = path
	if itemErr != nil {
		run.progress.Errors = append(run.progress.Errors, fmt.Sprintf("%s: %v", path, itemErr))
	}
	snap := run.progress.clone()
	m.bulk.mu.Unlock()

	if itemErr != nil {
		m.logger.Warn().Err(itemErr).Str(log.FieldFileName, path).Msg("bulk item failed")
	}
	if cb != nil {
		cb(snap)
	}
}

// CancelBulkDownload asks the running batch to stop scheduling new items.
// Items already being fetched finish. Reports whether a batch was running.
func (m *Manager) CancelBulkDownload() bool {
	m.bulk.mu.Lock()
	defer m.bulk.mu.Unlock()
	if m.bulk.current == nil {
		return false
	}
	m.bulk.current.stop.Store(true)
	return true
}

// IsBulkDownloadInProgress reports whether a batch is running.
func (m *Manager) IsBulkDownloadInProgress() bool {
	m.bulk.mu.Lock()
	defer m.bulk.mu.Unlock()
	return m.bulk.current != nil
}

// IsBulkDownloadComplete reports whether an error-free batch for version and
// userType finished since the last ClearBulkDownloadCache.
func (m *Manager) IsBulkDownloadComplete(version, userType string) bool {
	m.bulk.mu.Lock()
	defer m.bulk.mu.Unlock()
	gen, ok := m.bulk.completed[bulkKey{version, userType}]
	return ok && gen == m.bulk.generation
}

// BulkProgress returns the running batch's progress, or the last finished
// one if no ClearBulkDownloadCache happened since.
func (m *Manager) BulkProgress() BulkProgress {
	m.bulk.mu.Lock()
	defer m.bulk.mu.Unlock()
	switch {
	case m.bulk.current != nil:
		return m.bulk.current.progress.clone()
	case m.bulk.last != nil && m.bulk.last.gen == m.bulk.generation:
		return m.bulk.last.progress.clone()
	default:
		return BulkProgress{Errors: []string{}}
	}
}

// ClearBulkDownloadCache revokes handles, clears the durable store and
// invalidates every completion recorded so far. A running batch is
// cancelled and drained first; downloads still in flight are served but
// not persisted.
func (m *Manager) ClearBulkDownloadCache(ctx context.Context) error {
	m.bulk.mu.Lock()
	m.bulk.generation++
	m.bulk.completed = make(map[bulkKey]uint64)
	run := m.bulk.current
	if run != nil {
		run.stop.Store(true)
		run.cancel()
	}
	m.bulk.mu.Unlock()

	if run != nil {
		select {
		case <-run.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.bulk.mu.Lock()
	m.bulk.last = nil
	m.bulk.mu.Unlock()

	m.clearMu.Lock()
	defer m.clearMu.Unlock()
	revoked := m.handles.RevokeAll()
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear blob store: %w", err)
	}
	m.logger.Info().Int("revoked_handles", revoked).Msg("media cache cleared")
	return nil
}

func (m *Manager) cacheGeneration() uint64 {
	m.bulk.mu.Lock()
	defer m.bulk.mu.Unlock()
	return m.bulk.generation
}
