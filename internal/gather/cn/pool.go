package cn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"astock/internal/domain"
	"astock/internal/metrics"
)

// BatchResult summarises one RunBatch call.
type BatchResult struct {
	Updated     int      // rows reported by "updated" results
	Done        int      // results collected (any status)
	Failed      int      // "error" results
	TimedOut    []string // symbols abandoned after the per-symbol timeout
	Interrupted bool     // ctx was cancelled before the batch finished
}

// Pool drives a SymbolUpdater over symbol lists with bounded concurrency.
type Pool struct {
	updater SymbolUpdater
	timeout time.Duration
	pause   time.Duration
	metrics *metrics.SyncMetrics
	log     *slog.Logger
}

// NewPool creates a Pool. timeout bounds each symbol; pause is the delay
// between consecutive batches. m may be nil.
func NewPool(updater SymbolUpdater, timeout, pause time.Duration, m *metrics.SyncMetrics) *Pool {
	return &Pool{
		updater: updater,
		timeout: timeout,
		pause:   pause,
		metrics: m,
		log:     slog.Default().With("component", "cn-pool"),
	}
}

// Run processes symbols in consecutive chunks of batchSize, each with at most
// maxWorkers updates in flight, and returns the total rows written. It
// returns the running total as soon as ctx is cancelled.
func (p *Pool) Run(ctx context.Context, symbols []string, maxWorkers, batchSize int) int {
	batches := Chunk(symbols, batchSize)
	total := 0
	for i, batch := range batches {
		if ctx.Err() != nil {
			return total
		}

		start := time.Now()
		res := p.RunBatch(ctx, batch, maxWorkers)
		total += res.Updated

		p.log.Info("batch done",
			"batch", fmt.Sprintf("%d/%d", i+1, len(batches)),
			"updated", res.Updated,
			"failed", res.Failed,
			"timedOut", len(res.TimedOut),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)

		if res.Interrupted {
			return total
		}
		if i < len(batches)-1 && !p.Pause(ctx) {
			return total
		}
	}
	return total
}

type outcome struct {
	symbol   string
	result   Result
	timedOut bool
}

// RunBatch updates every symbol in batch with at most maxWorkers Update calls
// in flight. Results are collected in completion order. A symbol that exceeds
// the per-symbol timeout is reported as timed out and its result discarded,
// but its call keeps the slot until it returns, and RunBatch waits for such
// calls before returning so the next batch starts under the same bound. When
// ctx is cancelled no further symbols are started and RunBatch returns
// without waiting for the ones in flight.
func (p *Pool) RunBatch(ctx context.Context, batch []string, maxWorkers int) BatchResult {
	var res BatchResult
	if len(batch) == 0 {
		return res
	}
	start := time.Now()
	defer func() { p.metrics.ObserveBatch(time.Since(start)) }()

	workers := min(max(maxWorkers, 1), len(batch))
	sem := make(chan struct{}, workers)
	results := make(chan outcome, len(batch))
	dispatched := make(chan int, 1)

	go func() {
		n := 0
		defer func() { dispatched <- n }()
		for _, sym := range batch {
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			if ctx.Err() != nil {
				<-sem
				return
			}
			n++
			go p.work(ctx, sym, sem, results)
		}
	}()

	want := -1
	for want < 0 || res.Done+len(res.TimedOut) < want {
		select {
		case o := <-results:
			p.collect(&res, o)
		case n := <-dispatched:
			want = n
		case <-ctx.Done():
			for {
				select {
				case o := <-results:
					p.collect(&res, o)
				default:
					res.Interrupted = true
					return res
				}
			}
		}
	}
	res.Interrupted = want < len(batch)
	if res.Interrupted {
		return res
	}

	// Every slot back means no abandoned call is still running.
	for range workers {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return res
		}
	}
	return res
}

// work runs one update and reports it, or reports a timeout once the
// per-symbol bound passes. The slot is released when Update returns.
func (p *Pool) work(ctx context.Context, symbol string, sem <-chan struct{}, results chan<- outcome) {
	done := make(chan Result, 1)
	go func() {
		defer func() { <-sem }()
		done <- p.updater.Update(ctx, symbol)
	}()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		results <- outcome{symbol: symbol, result: r}
	case <-timer.C:
		results <- outcome{symbol: symbol, timedOut: true}
	}
}

func (p *Pool) collect(res *BatchResult, o outcome) {
	if o.timedOut {
		res.TimedOut = append(res.TimedOut, o.symbol)
		p.metrics.ObserveTimeout()
		p.log.Warn("symbol timed out, abandoned", "symbol", o.symbol, "timeout", p.timeout)
		return
	}

	r := o.result
	res.Done++
	p.metrics.ObserveSymbol(string(r.Status), r.NewRows)
	switch r.Status {
	case domain.StatusUpdated:
		res.Updated += r.NewRows
		p.log.Debug("symbol updated", "symbol", r.Symbol, "rows", r.NewRows)
	case domain.StatusError:
		res.Failed++
		p.log.Warn("symbol update failed", "symbol", r.Symbol, "error", r.Message)
	}
}

// Pause waits the inter-batch delay. It returns false if ctx was cancelled
// first.
func (p *Pool) Pause(ctx context.Context) bool {
	if p.pause <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(p.pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Chunk splits symbols into consecutive slices of at most size elements.
func Chunk(symbols []string, size int) [][]string {
	size = max(size, 1)
	var out [][]string
	for i := 0; i < len(symbols); i += size {
		out = append(out, symbols[i:min(i+size, len(symbols))])
	}
	return out
}
