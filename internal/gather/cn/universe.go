package cn

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"astock/internal/domain"
	"astock/internal/gather"
)

// Universe is a CSV-cached view of the A-share symbol list. The cache is
// only refreshed when it is absent, unreadable, or Refresh is called.
type Universe struct {
	mu       sync.Mutex
	provider gather.UniverseProvider
	path     string // <DataDir>/cn/stocks/list.csv
	log      *slog.Logger
}

// NewUniverse creates a Universe caching provider's list under dataDir.
func NewUniverse(provider gather.UniverseProvider, dataDir string) *Universe {
	return &Universe{
		provider: provider,
		path:     filepath.Join(dataDir, "cn", "stocks", "list.csv"),
		log:      slog.Default().With("component", "cn-universe"),
	}
}

// Path returns the cache file path.
func (u *Universe) Path() string { return u.path }

// Load returns the cached list, fetching and caching it on a miss.
func (u *Universe) Load(ctx context.Context) ([]domain.Stock, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	stocks, err := readStockCSV(u.path)
	if err == nil && len(stocks) > 0 {
		return stocks, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		u.log.Warn("stock list cache unreadable, refetching", "path", u.path, "error", err)
	}
	return u.refresh(ctx)
}

// Refresh fetches the list from the provider and rewrites the cache.
func (u *Universe) Refresh(ctx context.Context) ([]domain.Stock, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.refresh(ctx)
}

// Symbols returns just the codes from Load, in list order.
func (u *Universe) Symbols(ctx context.Context) ([]string, error) {
	stocks, err := u.Load(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, len(stocks))
	for i, s := range stocks {
		symbols[i] = s.Symbol
	}
	return symbols, nil
}

func (u *Universe) refresh(ctx context.Context) ([]domain.Stock, error) {
	stocks, err := u.provider.ListStocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching stock universe: %w", err)
	}
	if err := writeStockCSV(u.path, stocks); err != nil {
		// The list is still usable for this call.
		u.log.Error("writing stock list cache", "path", u.path, "error", err)
	}
	u.log.Info("stock universe refreshed", "count", len(stocks))
	return stocks, nil
}

// readStockCSV parses a "code,name" file with a header row.
func readStockCSV(path string) ([]domain.Stock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2

	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	var stocks []domain.Stock
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, domain.Stock{Symbol: domain.NormalizeSymbol(rec[0]), Name: rec[1]})
	}
	return stocks, nil
}

func writeStockCSV(path string, stocks []domain.Stock) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	w.Write([]string{"code", "name"})
	for _, s := range stocks {
		w.Write([]string{s.Symbol, s.Name})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
