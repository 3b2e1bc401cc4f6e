package cn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"astock/internal/domain"
	"astock/internal/gather"
)

// ---------------------------------------------------------------------------
// Compile-time interface check
// ---------------------------------------------------------------------------

var _ gather.Gatherer = (*DailyBarGatherer)(nil)

// ---------------------------------------------------------------------------
// DailyBarGatherer — one foreground pass over a symbol list.
// ---------------------------------------------------------------------------

// DailyBarGatherer updates the history cache for a fixed symbol list, or for
// the whole universe when the list is empty. It records no sync task status.
type DailyBarGatherer struct {
	universe   *Universe
	pool       *Pool
	symbols    []string
	batchSize  int
	maxWorkers int
	log        *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer. symbols may be nil.
func NewDailyBarGatherer(universe *Universe, pool *Pool, symbols []string, batchSize, maxWorkers int) *DailyBarGatherer {
	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = domain.NormalizeSymbol(s); s != "" {
			normalized = append(normalized, s)
		}
	}
	return &DailyBarGatherer{
		universe:   universe,
		pool:       pool,
		symbols:    normalized,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
		log:        slog.Default().With("gatherer", "cn-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "cn-daily" }

// Run updates every symbol once. It returns ctx.Err() if cancelled.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	symbols := g.symbols
	if len(symbols) == 0 {
		var err error
		symbols, err = g.universe.Symbols(ctx)
		if err != nil {
			return fmt.Errorf("loading universe: %w", err)
		}
	}

	g.log.Info("starting cn-daily", "symbols", len(symbols), "batchSize", g.batchSize, "maxWorkers", g.maxWorkers)
	start := time.Now()

	updated := g.pool.Run(ctx, symbols, g.maxWorkers, g.batchSize)

	g.log.Info("cn-daily finished", "updated", updated, "elapsed", time.Since(start).Round(time.Second))
	return ctx.Err()
}
