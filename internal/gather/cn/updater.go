package cn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"astock/internal/domain"
	"astock/internal/gather"
	"astock/internal/store"
)

// Result is the outcome of one Updater.Update call.
type Result struct {
	Symbol  string              `json:"symbol"`
	Status  domain.UpdateStatus `json:"status"`
	NewRows int                 `json:"newRows"`
	Message string              `json:"message"`
}

// SymbolUpdater brings one symbol's history up to date.
type SymbolUpdater interface {
	Update(ctx context.Context, symbol string) Result
}

var _ SymbolUpdater = (*Updater)(nil)

// Updater fetches the missing date range for a symbol and merges it into the
// history store. Every calendar day up to today is a candidate trading day.
type Updater struct {
	provider       gather.HistoryProvider
	store          store.HistoryStore
	epoch          time.Time
	timeout        time.Duration
	refetchCorrupt bool
	now            func() time.Time
	log            *slog.Logger
}

// NewUpdater creates an Updater. epoch is the first date fetched for a symbol
// with no cache; timeout bounds each provider call; refetchCorrupt selects
// quarantine-and-refetch for unreadable caches instead of an error result.
func NewUpdater(provider gather.HistoryProvider, hs store.HistoryStore, epoch time.Time, timeout time.Duration, refetchCorrupt bool) *Updater {
	return &Updater{
		provider:       provider,
		store:          hs,
		epoch:          domain.Day(epoch),
		timeout:        timeout,
		refetchCorrupt: refetchCorrupt,
		now:            time.Now,
		log:            slog.Default().With("component", "cn-updater"),
	}
}

// Update runs one incremental update. Cancelling ctx stops the update before
// it reads the cache or before it calls the provider, but never interrupts a
// fetch or merge already under way. Failures come back as a StatusError
// result, never as a panic or error.
func (u *Updater) Update(ctx context.Context, symbol string) (res Result) {
	res.Symbol = symbol
	defer func() {
		if r := recover(); r != nil {
			res = Result{Symbol: symbol, Status: domain.StatusError, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	if ctx.Err() != nil {
		return interrupted(symbol)
	}
	work := context.WithoutCancel(ctx)
	today := domain.Day(u.now())

	start, err := u.startDate(work, symbol)
	if err != nil {
		return failed(symbol, err)
	}
	r := gather.DateRange{Start: start, End: today}
	if r.Empty() {
		return Result{Symbol: symbol, Status: domain.StatusUpToDate, Message: "already up to date"}
	}

	if ctx.Err() != nil {
		return interrupted(symbol)
	}

	fctx, cancel := context.WithTimeout(work, u.timeout)
	defer cancel()
	bars, err := u.provider.FetchDaily(fctx, symbol, r)
	if err != nil {
		return failed(symbol, err)
	}
	if len(bars) == 0 {
		return Result{Symbol: symbol, Status: domain.StatusNoNewData, Message: "no new data"}
	}

	if err := u.store.Merge(work, symbol, bars); err != nil {
		return failed(symbol, err)
	}
	return Result{
		Symbol:  symbol,
		Status:  domain.StatusUpdated,
		NewRows: len(bars),
		Message: fmt.Sprintf("fetched %d rows from %s", len(bars), start.Format(time.DateOnly)),
	}
}

// startDate returns the day after the last cached bar, or the epoch for a
// symbol with no usable cache.
func (u *Updater) startDate(ctx context.Context, symbol string) (time.Time, error) {
	last, err := u.store.LastDate(ctx, symbol)
	switch {
	case err == nil:
		return domain.Day(last).AddDate(0, 0, 1), nil
	case errors.Is(err, store.ErrNotFound):
		return u.epoch, nil
	case store.IsReadError(err) && u.refetchCorrupt:
		u.log.Warn("history cache unreadable, refetching from epoch", "symbol", symbol, "error", err)
		if qerr := u.store.Quarantine(ctx, symbol); qerr != nil {
			return time.Time{}, qerr
		}
		return u.epoch, nil
	default:
		return time.Time{}, err
	}
}

func interrupted(symbol string) Result {
	return Result{Symbol: symbol, Status: domain.StatusInterrupted, Message: "stopped before start"}
}

func failed(symbol string, err error) Result {
	return Result{Symbol: symbol, Status: domain.StatusError, Message: err.Error()}
}
