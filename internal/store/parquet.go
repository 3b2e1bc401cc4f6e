package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"astock/internal/domain"
)

// Compile-time interface check.
var _ HistoryStore = (*ParquetStore)(nil)

// ParquetStore implements HistoryStore with one Parquet file per symbol.
type ParquetStore struct {
	DataDir string

	locks sync.Map // symbol → *sync.Mutex
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// DailyRecord is the Parquet schema for one daily bar.
type DailyRecord struct {
	Symbol    string  `parquet:"symbol"`
	Date      int64   `parquet:"date,timestamp(millisecond)"` // Unix ms, midnight UTC
	Open      float64 `parquet:"open"`
	Close     float64 `parquet:"close"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Volume    int64   `parquet:"volume"`
	Amount    float64 `parquet:"amount"`
	Amplitude float64 `parquet:"amplitude"`
	PctChg    float64 `parquet:"pct_chg"`
	Change    float64 `parquet:"change"`
	Turnover  float64 `parquet:"turnover"`
}

func toRecord(b domain.DailyBar) DailyRecord {
	return DailyRecord{
		Symbol:    b.Symbol,
		Date:      b.Date.UnixMilli(),
		Open:      b.Open,
		Close:     b.Close,
		High:      b.High,
		Low:       b.Low,
		Volume:    b.Volume,
		Amount:    b.Amount,
		Amplitude: b.Amplitude,
		PctChg:    b.PctChg,
		Change:    b.Change,
		Turnover:  b.Turnover,
	}
}

func fromRecord(r DailyRecord) domain.DailyBar {
	return domain.DailyBar{
		Symbol:    r.Symbol,
		Date:      time.UnixMilli(r.Date).UTC(),
		Open:      r.Open,
		Close:     r.Close,
		High:      r.High,
		Low:       r.Low,
		Volume:    r.Volume,
		Amount:    r.Amount,
		Amplitude: r.Amplitude,
		PctChg:    r.PctChg,
		Change:    r.Change,
		Turnover:  r.Turnover,
	}
}

// ---------------------------------------------------------------------------
// HistoryStore implementation
// ---------------------------------------------------------------------------

// Read loads the full series for symbol from
//
//	<DataDir>/cn/history/<SYMBOL>.parquet
func (s *ParquetStore) Read(_ context.Context, symbol string) ([]domain.DailyBar, error) {
	return s.read(symbol)
}

func (s *ParquetStore) read(symbol string) ([]domain.DailyBar, error) {
	path := s.historyPath(symbol)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &ReadError{Symbol: symbol, Err: err}
	}

	records, err := readParquetFile[DailyRecord](path)
	if err != nil {
		return nil, &ReadError{Symbol: symbol, Err: err}
	}

	bars := make([]domain.DailyBar, len(records))
	for i, r := range records {
		bars[i] = fromRecord(r)
	}
	sortBars(bars)
	return bars, nil
}

// LastDate returns the newest bar date for symbol.
func (s *ParquetStore) LastDate(ctx context.Context, symbol string) (time.Time, error) {
	bars, err := s.Read(ctx, symbol)
	if err != nil {
		return time.Time{}, err
	}
	if len(bars) == 0 {
		return time.Time{}, ErrNotFound
	}
	return bars[len(bars)-1].Date, nil
}

// Merge folds bars into the stored series and rewrites the file atomically.
func (s *ParquetStore) Merge(_ context.Context, symbol string, bars []domain.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}

	mu := s.lock(symbol)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.read(symbol)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	merged := mergeBars(symbol, existing, bars)
	records := make([]DailyRecord, len(merged))
	for i, b := range merged {
		records[i] = toRecord(b)
	}

	if err := writeParquetFile(s.historyPath(symbol), records); err != nil {
		return fmt.Errorf("writing history for %s: %w", symbol, err)
	}
	return nil
}

// Quarantine renames the cache for symbol to <SYMBOL>.parquet.corrupt.
func (s *ParquetStore) Quarantine(_ context.Context, symbol string) error {
	mu := s.lock(symbol)
	mu.Lock()
	defer mu.Unlock()

	path := s.historyPath(symbol)
	if err := os.Rename(path, path+".corrupt"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("quarantining %s: %w", symbol, err)
	}
	return nil
}

// Symbols lists all symbols that have a history file.
func (s *ParquetStore) Symbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.historyDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		symbols = append(symbols, strings.TrimSuffix(name, ".parquet"))
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (s *ParquetStore) lock(symbol string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(strings.ToUpper(symbol), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

func (s *ParquetStore) historyDir() string {
	return filepath.Join(s.DataDir, "cn", "history")
}

// historyPath returns the filesystem path for a symbol's history file.
// Layout: <dataDir>/cn/history/<SYMBOL>.parquet
func (s *ParquetStore) historyPath(symbol string) string {
	return filepath.Join(s.historyDir(), strings.ToUpper(symbol)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

// writeParquetFile writes records to a sibling temp file and renames it over
// path, so readers never observe a half-written file.
func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func sortBars(bars []domain.DailyBar) {
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})
}
