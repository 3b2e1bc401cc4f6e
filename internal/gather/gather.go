package gather

import (
	"context"
	"time"

	"astock/internal/domain"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass. It returns early when ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the range contains no dates.
func (r DateRange) Empty() bool {
	return r.Start.After(r.End)
}

// UniverseProvider lists the tradable symbols.
type UniverseProvider interface {
	ListStocks(ctx context.Context) ([]domain.Stock, error)
}

// HistoryProvider fetches daily bars for one symbol. An empty result with a
// nil error means the provider has no rows in the range.
type HistoryProvider interface {
	FetchDaily(ctx context.Context, symbol string, r DateRange) ([]domain.DailyBar, error)
}
