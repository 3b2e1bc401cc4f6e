// Package synctask owns the single full-universe history sync: it starts the
// background run, advances it batch by batch, persists a SyncTask snapshot
// after every batch, and stops it on request.
package synctask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"astock/internal/domain"
	"astock/internal/gather"
	"astock/internal/gather/cn"
	"astock/internal/metrics"
	"astock/internal/store"
)

var (
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("no running task")
	ErrNoTask         = errors.New("no task recorded")
)

// Terminal and progress messages written to the SyncTask record.
const (
	MsgStarted     = "started"
	MsgDone        = "done"
	MsgStopped     = "manually stopped"
	MsgRecovered   = "interrupted: process restarted"
	msgAbortedFmt  = "aborted: %v"
	msgProgressFmt = "processed %d / %d"
)

var _ gather.Gatherer = (*Orchestrator)(nil)

// SymbolSource supplies the symbol universe at the start of a run.
type SymbolSource interface {
	Symbols(ctx context.Context) ([]string, error)
}

// Options tunes the batch loop.
type Options struct {
	BatchSize  int
	MaxWorkers int
}

// run is the supervised handle of one background sync.
type run struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator runs at most one sync at a time. Only the background loop
// writes the SyncTask record while a run is active; Stop only cancels.
type Orchestrator struct {
	universe SymbolSource
	pool     *cn.Pool
	updater  cn.SymbolUpdater
	status   store.StatusStore
	metrics  *metrics.SyncMetrics
	opts     Options
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	current  *run
	starting bool // a Start is loading the universe

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan domain.SyncTask
}

// New creates an Orchestrator. m may be nil.
func New(universe SymbolSource, pool *cn.Pool, updater cn.SymbolUpdater, status store.StatusStore, m *metrics.SyncMetrics, opts Options) *Orchestrator {
	return &Orchestrator{
		universe: universe,
		pool:     pool,
		updater:  updater,
		status:   status,
		metrics:  m,
		opts: Options{
			BatchSize:  max(opts.BatchSize, 1),
			MaxWorkers: max(opts.MaxWorkers, 1),
		},
		log:  slog.Default().With("component", "cn-sync"),
		now:  time.Now,
		subs: make(map[int]chan domain.SyncTask),
	}
}

// Name returns the gatherer identifier.
func (o *Orchestrator) Name() string { return "cn-sync" }

// Start launches a background sync over the current universe and returns the
// initial record. It fails with ErrAlreadyRunning if a run is active or being
// started here, or the persisted record says one is running, and with a
// wrapped provider error if the universe cannot be loaded. Nothing is written
// on failure. The universe is loaded without holding the lock.
func (o *Orchestrator) Start(ctx context.Context) (domain.SyncTask, error) {
	if err := o.reserve(ctx); err != nil {
		return domain.SyncTask{}, err
	}

	symbols, err := o.universe.Symbols(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.starting = false
	if err != nil {
		return domain.SyncTask{}, fmt.Errorf("loading universe: %w", err)
	}

	now := o.now()
	task := domain.SyncTask{
		RunID:     uuid.NewString(),
		Running:   true,
		Total:     len(symbols),
		Message:   MsgStarted,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := o.save(task); err != nil {
		return domain.SyncTask{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{id: task.RunID, cancel: cancel, done: make(chan struct{})}
	o.current = r

	o.log.Info("sync started", "run", task.RunID, "total", task.Total,
		"batchSize", o.opts.BatchSize, "maxWorkers", o.opts.MaxWorkers)
	go o.loop(runCtx, r, symbols, task)
	return task, nil
}

// reserve claims the right to start a run, or reports why it cannot.
func (o *Orchestrator) reserve(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != nil || o.starting {
		return ErrAlreadyRunning
	}
	prev, err := o.status.Load(ctx)
	switch {
	case err == nil && prev.Running:
		return ErrAlreadyRunning
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("loading sync status: %w", err)
	}
	o.starting = true
	return nil
}

// Stop cancels the active run. Symbols already dispatched may finish; no new
// batch starts. The loop records the stopped state itself.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	r := o.current
	o.mu.Unlock()

	if r == nil {
		return ErrNotRunning
	}
	o.log.Info("sync stop requested", "run", r.id)
	r.cancel()
	return nil
}

// Status returns the persisted record, or ErrNoTask if none was ever saved.
func (o *Orchestrator) Status(ctx context.Context) (domain.SyncTask, error) {
	task, err := o.status.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return domain.SyncTask{}, ErrNoTask
	}
	return task, err
}

// Running reports whether a run is active in this process.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != nil
}

// UpdateOne brings a single symbol up to date in the foreground. ctx acts as
// the stop signal for this call only.
func (o *Orchestrator) UpdateOne(ctx context.Context, symbol string) cn.Result {
	return o.updater.Update(ctx, domain.NormalizeSymbol(symbol))
}

// Wait blocks until the active run (if any) has written its final record, or
// ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	r := o.current
	o.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the active run and waits for it to settle.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if err := o.Stop(); errors.Is(err, ErrNotRunning) {
		return nil
	}
	return o.Wait(ctx)
}

// Run performs one full sync in the foreground. Cancelling ctx stops it.
func (o *Orchestrator) Run(ctx context.Context) error {
	if _, err := o.Start(ctx); err != nil {
		return err
	}
	if err := o.Wait(ctx); err != nil {
		o.Stop()
		o.Wait(context.Background())
		return err
	}
	task, err := o.Status(context.Background())
	if err != nil {
		return err
	}
	if task.Message != MsgDone {
		return fmt.Errorf("sync ended: %s", task.Message)
	}
	return nil
}

// Recover rewrites a persisted running record left by a process that died
// mid-run. It reports whether a record was rewritten.
func (o *Orchestrator) Recover(ctx context.Context) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil || o.starting {
		return false, nil
	}

	task, err := o.status.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !task.Running {
		return false, nil
	}

	task.Running = false
	task.Message = MsgRecovered
	task.UpdatedAt = o.now()
	if err := o.save(task); err != nil {
		return false, err
	}
	o.log.Warn("stale running sync record recovered", "run", task.RunID, "progress", task.Progress, "total", task.Total)
	return true, nil
}

// ---------------------------------------------------------------------------
// Background loop
// ---------------------------------------------------------------------------

func (o *Orchestrator) loop(ctx context.Context, r *run, symbols []string, task domain.SyncTask) {
	o.metrics.SetRunning(true)
	start := time.Now()

	final := o.advance(ctx, symbols, task)
	final.Running = false
	final.UpdatedAt = o.now()
	if err := o.save(final); err != nil {
		o.log.Error("saving final sync status", "run", r.id, "error", err)
	}

	o.log.Info("sync finished", "run", r.id, "message", final.Message,
		"progress", final.Progress, "total", final.Total, "updated", final.Updated,
		"elapsed", time.Since(start).Round(time.Second))

	o.metrics.SetRunning(false)
	r.cancel()

	o.mu.Lock()
	if o.current == r {
		o.current = nil
	}
	o.mu.Unlock()
	close(r.done)
}

// advance runs the batches and returns the record to persist as final. A
// failure keeps the last progress and updated counts.
func (o *Orchestrator) advance(ctx context.Context, symbols []string, task domain.SyncTask) (final domain.SyncTask) {
	defer func() {
		if p := recover(); p != nil {
			o.log.Error("sync loop panicked", "run", task.RunID, "panic", p)
			final = task
			final.Message = fmt.Sprintf(msgAbortedFmt, p)
		}
	}()

	batches := cn.Chunk(symbols, o.opts.BatchSize)
	for i, batch := range batches {
		if ctx.Err() != nil {
			task.Message = MsgStopped
			return task
		}

		res := o.pool.RunBatch(ctx, batch, o.opts.MaxWorkers)
		task.Updated += res.Updated
		if res.Interrupted {
			task.Message = MsgStopped
			return task
		}

		next := task
		next.Progress = min(task.Progress+len(batch), task.Total)
		next.Message = fmt.Sprintf(msgProgressFmt, next.Progress, next.Total)
		next.UpdatedAt = o.now()
		if err := o.save(next); err != nil {
			task.Message = fmt.Sprintf(msgAbortedFmt, err)
			return task
		}
		task = next

		o.log.Info("batch done",
			"batch", fmt.Sprintf("%d/%d", i+1, len(batches)),
			"progress", task.Progress,
			"updated", task.Updated,
			"failed", res.Failed,
			"timedOut", len(res.TimedOut),
		)

		if i < len(batches)-1 && !o.pool.Pause(ctx) {
			task.Message = MsgStopped
			return task
		}
	}

	task.Progress = task.Total
	task.Message = MsgDone
	return task
}

// save persists task and publishes it to subscribers.
func (o *Orchestrator) save(task domain.SyncTask) error {
	if err := o.status.Save(context.Background(), task); err != nil {
		return fmt.Errorf("saving sync status: %w", err)
	}
	o.broadcast(task)
	return nil
}

// ---------------------------------------------------------------------------
// Status events
// ---------------------------------------------------------------------------

// Subscribe returns a channel that receives every saved SyncTask. bufSize
// controls the channel buffer; slow consumers miss snapshots.
func (o *Orchestrator) Subscribe(bufSize int) (int, <-chan domain.SyncTask) {
	ch := make(chan domain.SyncTask, bufSize)
	o.subsMu.Lock()
	id := o.nextSubID
	o.nextSubID++
	o.subs[id] = ch
	o.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (o *Orchestrator) Unsubscribe(id int) {
	o.subsMu.Lock()
	if ch, ok := o.subs[id]; ok {
		delete(o.subs, id)
		close(ch)
	}
	o.subsMu.Unlock()
}

func (o *Orchestrator) broadcast(task domain.SyncTask) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- task:
		default:
		}
	}
}
