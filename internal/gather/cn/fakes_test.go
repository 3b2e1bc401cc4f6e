package cn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"astock/internal/domain"
	"astock/internal/gather"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fakeHistory serves bars from an in-memory series per symbol.
type fakeHistory struct {
	mu     sync.Mutex
	series map[string][]domain.DailyBar
	errs   map[string]error
	panics map[string]bool
	calls  []fetchCall
}

type fetchCall struct {
	symbol string
	r      gather.DateRange
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		series: make(map[string][]domain.DailyBar),
		errs:   make(map[string]error),
		panics: make(map[string]bool),
	}
}

func (f *fakeHistory) FetchDaily(ctx context.Context, symbol string, r gather.DateRange) ([]domain.DailyBar, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{symbol: symbol, r: r})
	err := f.errs[symbol]
	boom := f.panics[symbol]
	all := f.series[symbol]
	f.mu.Unlock()

	if boom {
		panic("provider exploded")
	}
	if err != nil {
		return nil, err
	}
	var out []domain.DailyBar
	for _, b := range all {
		if !b.Date.Before(r.Start) && !b.Date.After(r.End) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeHistory) callsFor(symbol string) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.symbol == symbol {
			out = append(out, c)
		}
	}
	return out
}

// fakeUniverse returns a fixed stock list.
type fakeUniverse struct {
	stocks []domain.Stock
	err    error
	calls  atomic.Int32
}

func (f *fakeUniverse) ListStocks(context.Context) ([]domain.Stock, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.stocks, nil
}

// fakeUpdater returns canned results and records concurrency.
type fakeUpdater struct {
	mu       sync.Mutex
	rows     map[string]int
	fail     map[string]bool
	hang     map[string]bool
	delay    time.Duration
	called   []string
	onUpdate func(symbol string)

	inflight    atomic.Int32
	maxInflight atomic.Int32
	release     chan struct{}
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{
		rows:    make(map[string]int),
		fail:    make(map[string]bool),
		hang:    make(map[string]bool),
		release: make(chan struct{}),
	}
}

func (f *fakeUpdater) Update(ctx context.Context, symbol string) Result {
	if ctx.Err() != nil {
		return Result{Symbol: symbol, Status: domain.StatusInterrupted}
	}

	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.called = append(f.called, symbol)
	rows, fail, hang, hook := f.rows[symbol], f.fail[symbol], f.hang[symbol], f.onUpdate
	f.mu.Unlock()

	if hang {
		<-f.release
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if hook != nil {
		hook(symbol)
	}

	switch {
	case fail:
		return Result{Symbol: symbol, Status: domain.StatusError, Message: "provider down"}
	case rows > 0:
		return Result{Symbol: symbol, Status: domain.StatusUpdated, NewRows: rows}
	default:
		return Result{Symbol: symbol, Status: domain.StatusNoNewData}
	}
}

func (f *fakeUpdater) calledSymbols() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.called))
	for _, s := range f.called {
		out[s] = true
	}
	return out
}
