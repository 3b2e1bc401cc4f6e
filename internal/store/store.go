// Package store defines storage interfaces for the per-symbol daily history
// cache and the singleton sync task record, plus Parquet, JSON, and SQLite
// implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"astock/internal/domain"
)

// ErrNotFound is returned when a symbol has no history cache or when no sync
// task has ever been recorded.
var ErrNotFound = errors.New("not found")

// ReadError reports a cache that exists but cannot be decoded. It is never
// conflated with ErrNotFound.
type ReadError struct {
	Symbol string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading history for %s: %v", e.Symbol, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// IsReadError reports whether err wraps a *ReadError.
func IsReadError(err error) bool {
	var re *ReadError
	return errors.As(err, &re)
}

// HistoryStore persists one ordered daily bar series per symbol.
type HistoryStore interface {
	// Read returns the full series for symbol sorted ascending by date.
	// It returns ErrNotFound if no cache exists and *ReadError if the cache
	// is unreadable.
	Read(ctx context.Context, symbol string) ([]domain.DailyBar, error)

	// LastDate returns the date of the newest bar, with the same error
	// tagging as Read.
	LastDate(ctx context.Context, symbol string) (time.Time, error)

	// Merge appends bars to the existing series, keeps one bar per date
	// (the one already stored wins), sorts ascending, and persists the
	// whole series. Merging the same bars twice is a no-op the second time.
	Merge(ctx context.Context, symbol string, bars []domain.DailyBar) error

	// Quarantine moves an unreadable cache aside so the next Merge starts
	// a fresh series.
	Quarantine(ctx context.Context, symbol string) error

	// Symbols lists every symbol that has a cache, sorted.
	Symbols(ctx context.Context) ([]string, error)
}

// StatusStore persists the singleton SyncTask record.
type StatusStore interface {
	// Save replaces the stored record as a whole.
	Save(ctx context.Context, task domain.SyncTask) error

	// Load returns the stored record or ErrNotFound if none was ever saved.
	Load(ctx context.Context) (domain.SyncTask, error)
}

// mergeBars deduplicates by date, keeping existing bars over incoming ones,
// and sorts ascending by date.
func mergeBars(symbol string, existing, incoming []domain.DailyBar) []domain.DailyBar {
	seen := make(map[time.Time]struct{}, len(existing)+len(incoming))
	merged := make([]domain.DailyBar, 0, len(existing)+len(incoming))
	for _, src := range [][]domain.DailyBar{existing, incoming} {
		for _, b := range src {
			b.Symbol = symbol
			b.Date = domain.Day(b.Date)
			if _, dup := seen[b.Date]; dup {
				continue
			}
			seen[b.Date] = struct{}{}
			merged = append(merged, b)
		}
	}
	sortBars(merged)
	return merged
}
