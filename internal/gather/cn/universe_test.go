package cn

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"astock/internal/domain"
	"astock/internal/store"
)

func testStocks() []domain.Stock {
	return []domain.Stock{
		{Symbol: "000001", Name: "平安银行"},
		{Symbol: "600519", Name: "贵州茅台"},
	}
}

func TestUniverseLoadCaches(t *testing.T) {
	dir := t.TempDir()
	fu := &fakeUniverse{stocks: testStocks()}
	u := NewUniverse(fu, dir)
	ctx := context.Background()

	first, err := u.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("Load returned %d stocks, want 2", len(first))
	}
	if u.Path() != filepath.Join(dir, "cn", "stocks", "list.csv") {
		t.Errorf("Path() = %q", u.Path())
	}

	second, err := u.Load(ctx)
	if err != nil {
		t.Fatalf("Load (cached): %v", err)
	}
	if fu.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1", fu.calls.Load())
	}
	if second[1] != first[1] {
		t.Errorf("cached stock = %+v, want %+v", second[1], first[1])
	}

	syms, err := u.Symbols(ctx)
	if err != nil || len(syms) != 2 || syms[0] != "000001" {
		t.Errorf("Symbols = %v, %v", syms, err)
	}
}

func TestUniverseLoadRefetchesUnreadableCache(t *testing.T) {
	dir := t.TempDir()
	fu := &fakeUniverse{stocks: testStocks()}
	u := NewUniverse(fu, dir)

	if err := os.MkdirAll(filepath.Dir(u.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(u.Path(), []byte("code,name\n1,2,3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stocks, err := u.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(stocks) != 2 || fu.calls.Load() != 1 {
		t.Errorf("Load = %d stocks after %d fetches, want 2 after 1", len(stocks), fu.calls.Load())
	}
}

func TestUniverseLoadPadsCodes(t *testing.T) {
	dir := t.TempDir()
	u := NewUniverse(&fakeUniverse{err: errors.New("offline")}, dir)

	if err := os.MkdirAll(filepath.Dir(u.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(u.Path(), []byte("code,name\n1,平安银行\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stocks, err := u.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stocks[0].Symbol != "000001" {
		t.Errorf("Symbol = %q, want %q", stocks[0].Symbol, "000001")
	}
}

func TestUniverseRefreshAndError(t *testing.T) {
	fu := &fakeUniverse{stocks: testStocks()}
	u := NewUniverse(fu, t.TempDir())
	ctx := context.Background()

	if _, err := u.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := u.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if fu.calls.Load() != 2 {
		t.Errorf("provider called %d times, want 2", fu.calls.Load())
	}

	broken := NewUniverse(&fakeUniverse{err: errors.New("offline")}, t.TempDir())
	if _, err := broken.Load(ctx); err == nil {
		t.Error("Load with no cache and a failing provider should fail")
	}
}

func TestDailyBarGathererName(t *testing.T) {
	g := NewDailyBarGatherer(nil, nil, nil, 50, 8)
	if got := g.Name(); got != "cn-daily" {
		t.Errorf("DailyBarGatherer.Name() = %q, want %q", got, "cn-daily")
	}
}

func TestDailyBarGathererRun(t *testing.T) {
	fh := newFakeHistory()
	fh.series["000001"] = []domain.DailyBar{{Date: day(2024, 1, 2), Close: 9.21}}
	fh.series["600519"] = []domain.DailyBar{{Date: day(2024, 1, 2), Close: 1685.01}}

	ps := store.NewParquetStore(t.TempDir())
	upd := NewUpdater(fh, ps, epoch, time.Second, true)
	upd.now = func() time.Time { return today }
	pool := NewPool(upd, time.Second, 0, nil)

	g := NewDailyBarGatherer(nil, pool, []string{"1", "600519"}, 1, 2)
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	syms, err := ps.Symbols(context.Background())
	if err != nil || len(syms) != 2 {
		t.Errorf("cached symbols = %v, %v; want 2", syms, err)
	}
}
