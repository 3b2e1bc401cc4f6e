package store

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Summary describes the contents of a HistoryStore.
type Summary struct {
	Symbols    int `json:"symbols"`
	Rows       int `json:"rows"`
	Unreadable int `json:"unreadable"`
}

// Summarize reads every cached series with up to concurrency parallel reads
// and counts symbols and rows. Unreadable caches are counted, not returned
// as errors.
func Summarize(ctx context.Context, hs HistoryStore, concurrency int) (Summary, error) {
	symbols, err := hs.Symbols(ctx)
	if err != nil {
		return Summary{}, err
	}

	var rows, unreadable atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for _, sym := range symbols {
		g.Go(func() error {
			bars, err := hs.Read(gctx, sym)
			switch {
			case err == nil:
				rows.Add(int64(len(bars)))
			case errors.Is(err, ErrNotFound):
			case IsReadError(err):
				unreadable.Add(1)
			default:
				return err
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	return Summary{
		Symbols:    len(symbols),
		Rows:       int(rows.Load()),
		Unreadable: int(unreadable.Load()),
	}, nil
}
