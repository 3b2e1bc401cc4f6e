package synctask

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"astock/internal/config"
	"astock/internal/domain"
	"astock/internal/gather/cn"
	"astock/internal/store"
)

// stubUpdater returns canned row counts. When block is non-nil updates wait
// on it: every update if hold is nil, otherwise only the held symbols.
type stubUpdater struct {
	mu     sync.Mutex
	rows   map[string]int
	called []string
	block  chan struct{}
	hold   map[string]bool
}

func (s *stubUpdater) Update(ctx context.Context, symbol string) cn.Result {
	if ctx.Err() != nil {
		return cn.Result{Symbol: symbol, Status: domain.StatusInterrupted}
	}
	s.mu.Lock()
	s.called = append(s.called, symbol)
	n := s.rows[symbol]
	s.mu.Unlock()

	if s.block != nil && (s.hold == nil || s.hold[symbol]) {
		<-s.block
	}
	if n == 0 {
		return cn.Result{Symbol: symbol, Status: domain.StatusNoNewData}
	}
	return cn.Result{Symbol: symbol, Status: domain.StatusUpdated, NewRows: n}
}

func (s *stubUpdater) calledSet() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool)
	for _, c := range s.called {
		out[c] = true
	}
	return out
}

type stubSymbols struct {
	symbols []string
	err     error
}

func (s stubSymbols) Symbols(context.Context) ([]string, error) {
	return s.symbols, s.err
}

// gatedSymbols blocks Symbols until gate is closed.
type gatedSymbols struct {
	symbols []string
	entered chan struct{}
	gate    chan struct{}
}

func (g gatedSymbols) Symbols(context.Context) ([]string, error) {
	close(g.entered)
	<-g.gate
	return g.symbols, nil
}

// panickyStatus panics on the panicOn-th Save (1-based).
type panickyStatus struct {
	store.StatusStore
	panicOn int32
	saves   atomic.Int32
}

func (p *panickyStatus) Save(ctx context.Context, task domain.SyncTask) error {
	if p.saves.Add(1) == p.panicOn {
		panic("status store exploded")
	}
	return p.StatusStore.Save(ctx, task)
}

// within fails the test if fn does not return in time.
func within(t *testing.T, name string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("%s blocked", name)
	}
}

// flakyStatus fails the failOn-th Save (1-based).
type flakyStatus struct {
	store.StatusStore
	failOn int32
	saves  atomic.Int32
}

func (f *flakyStatus) Save(ctx context.Context, task domain.SyncTask) error {
	if f.saves.Add(1) == f.failOn {
		return errors.New("disk full")
	}
	return f.StatusStore.Save(ctx, task)
}

func newTestOrchestrator(t *testing.T, symbols []string, upd cn.SymbolUpdater, pause time.Duration, batchSize, workers int) (*Orchestrator, store.StatusStore) {
	t.Helper()
	status := store.NewJSONStatusStore(t.TempDir())
	pool := cn.NewPool(upd, time.Second, pause, nil)
	o := New(stubSymbols{symbols: symbols}, pool, upd, status, nil, Options{BatchSize: batchSize, MaxWorkers: workers})
	return o, status
}

func waitDone(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestStartRunsToCompletion(t *testing.T) {
	upd := &stubUpdater{rows: map[string]int{"A": 3, "B": 0, "C": 4}}
	o, _ := newTestOrchestrator(t, []string{"A", "B", "C"}, upd, 0, 2, 2)
	ctx := context.Background()

	task, err := o.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !task.Running || task.Total != 3 || task.Progress != 0 || task.RunID == "" {
		t.Errorf("initial task = %+v", task)
	}
	waitDone(t, o)

	got, err := o.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.Running {
		t.Error("Running = true after completion")
	}
	if got.Progress != 3 || got.Total != 3 {
		t.Errorf("Progress/Total = %d/%d, want 3/3", got.Progress, got.Total)
	}
	if got.Updated != 7 {
		t.Errorf("Updated = %d, want 7", got.Updated)
	}
	if got.Message != MsgDone {
		t.Errorf("Message = %q, want %q", got.Message, MsgDone)
	}
	if got.RunID != task.RunID {
		t.Errorf("RunID = %q, want %q", got.RunID, task.RunID)
	}
	if o.Running() {
		t.Error("Running() = true after completion")
	}
}

func TestStopAfterFirstBatch(t *testing.T) {
	upd := &stubUpdater{rows: map[string]int{"A": 1, "B": 2, "C": 3, "D": 4}}
	o, _ := newTestOrchestrator(t, []string{"A", "B", "C", "D"}, upd, 5*time.Second, 2, 2)

	id, events := o.Subscribe(16)
	defer o.Unsubscribe(id)

	if _, err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for ev := range events {
		if ev.Running && ev.Progress == 2 {
			if err := o.Stop(); err != nil {
				t.Fatalf("Stop: %v", err)
			}
			break
		}
	}
	waitDone(t, o)

	got, err := o.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Running || got.Progress != 2 || got.Total != 4 {
		t.Errorf("status = %+v, want running=false progress=2 total=4", got)
	}
	if got.Message != MsgStopped {
		t.Errorf("Message = %q, want %q", got.Message, MsgStopped)
	}
	if got.Updated != 3 {
		t.Errorf("Updated = %d, want 3", got.Updated)
	}
	if called := upd.calledSet(); called["C"] || called["D"] {
		t.Errorf("second batch ran after stop: %v", called)
	}
}

func TestStartWhileRunning(t *testing.T) {
	upd := &stubUpdater{block: make(chan struct{})}
	o, _ := newTestOrchestrator(t, []string{"A"}, upd, 0, 1, 1)
	ctx := context.Background()

	if _, err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := o.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start error = %v, want ErrAlreadyRunning", err)
	}
	if err := o.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	close(upd.block)
	waitDone(t, o)

	if err := o.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop after finish = %v, want ErrNotRunning", err)
	}

	got, err := o.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.Running || got.Progress != 0 || got.Total != 1 || got.Message != MsgStopped {
		t.Errorf("final task = %+v, want stopped at progress 0/1", got)
	}
}

func TestStopMidBatchKeepsBoundaryAndCountsFinishedRows(t *testing.T) {
	upd := &stubUpdater{
		rows:  map[string]int{"A": 1, "B": 2, "C": 3, "D": 4},
		block: make(chan struct{}),
		hold:  map[string]bool{"D": true},
	}
	defer close(upd.block)
	o, _ := newTestOrchestrator(t, []string{"A", "B", "C", "D"}, upd, 0, 2, 2)
	ctx := context.Background()

	if _, err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !upd.calledSet()["D"] {
		if time.Now().After(deadline) {
			t.Fatal("second batch never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// C returns at once; give its result time to reach the collector.
	time.Sleep(100 * time.Millisecond)

	if err := o.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitDone(t, o)

	got, err := o.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.Running {
		t.Error("Running = true after stop")
	}
	if got.Progress != 2 || got.Total != 4 {
		t.Errorf("Progress/Total = %d/%d, want 2/4", got.Progress, got.Total)
	}
	if got.Updated != 6 {
		t.Errorf("Updated = %d, want 6 (A, B and C)", got.Updated)
	}
	if got.Message != MsgStopped {
		t.Errorf("Message = %q, want %q", got.Message, MsgStopped)
	}
}

func TestLoopPanicAborts(t *testing.T) {
	upd := &stubUpdater{rows: map[string]int{"A": 1, "B": 2}}
	status := &panickyStatus{StatusStore: store.NewJSONStatusStore(t.TempDir()), panicOn: 2}
	o := New(stubSymbols{symbols: []string{"A", "B"}}, cn.NewPool(upd, time.Second, 0, nil), upd, status, nil, Options{BatchSize: 2, MaxWorkers: 2})
	ctx := context.Background()

	if _, err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, o)

	got, err := o.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.Running {
		t.Error("Running = true after panic")
	}
	if want := "aborted: status store exploded"; got.Message != want {
		t.Errorf("Message = %q, want %q", got.Message, want)
	}
	if got.Progress != 0 || got.Updated != 3 {
		t.Errorf("Progress/Updated = %d/%d, want 0/3", got.Progress, got.Updated)
	}
	if o.Running() {
		t.Error("Running() = true after panic")
	}
}

func TestStartDoesNotHoldLockWhileLoadingUniverse(t *testing.T) {
	upd := &stubUpdater{rows: map[string]int{}}
	src := gatedSymbols{symbols: []string{"A"}, entered: make(chan struct{}), gate: make(chan struct{})}
	o := New(src, cn.NewPool(upd, time.Second, 0, nil), upd, store.NewJSONStatusStore(t.TempDir()), nil, Options{})
	ctx := context.Background()

	started := make(chan error, 1)
	go func() {
		_, err := o.Start(ctx)
		started <- err
	}()
	<-src.entered

	within(t, "Running", func() {
		if o.Running() {
			t.Error("Running() = true while the universe is loading")
		}
	})
	within(t, "Stop", func() {
		if err := o.Stop(); !errors.Is(err, ErrNotRunning) {
			t.Errorf("Stop while starting = %v, want ErrNotRunning", err)
		}
	})
	within(t, "Start", func() {
		if _, err := o.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
			t.Errorf("concurrent Start = %v, want ErrAlreadyRunning", err)
		}
	})
	within(t, "Recover", func() {
		if ok, err := o.Recover(ctx); ok || err != nil {
			t.Errorf("Recover while starting = %v, %v; want false, nil", ok, err)
		}
	})

	close(src.gate)
	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, o)
}

func TestStartRejectsPersistedRunning(t *testing.T) {
	o, status := newTestOrchestrator(t, []string{"A"}, &stubUpdater{}, 0, 1, 1)
	ctx := context.Background()
	if err := status.Save(ctx, domain.SyncTask{Running: true, Total: 10}); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Start error = %v, want ErrAlreadyRunning", err)
	}
}

func TestStartUniverseError(t *testing.T) {
	status := store.NewJSONStatusStore(t.TempDir())
	upd := &stubUpdater{}
	o := New(stubSymbols{err: errors.New("list endpoint down")}, cn.NewPool(upd, time.Second, 0, nil), upd, status, nil, Options{})

	if _, err := o.Start(context.Background()); err == nil || !strings.Contains(err.Error(), "list endpoint down") {
		t.Errorf("Start error = %v, want wrapped provider error", err)
	}
	if _, err := o.Status(context.Background()); !errors.Is(err, ErrNoTask) {
		t.Errorf("Status error = %v, want ErrNoTask", err)
	}
	if o.Running() {
		t.Error("Running() = true after failed Start")
	}
}

func TestStopAndStatusWhenIdle(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, &stubUpdater{}, 0, 1, 1)
	if err := o.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop = %v, want ErrNotRunning", err)
	}
	if _, err := o.Status(context.Background()); !errors.Is(err, ErrNoTask) {
		t.Errorf("Status = %v, want ErrNoTask", err)
	}
	if err := o.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown when idle = %v", err)
	}
}

func TestStatusSaveFailureKeepsProgress(t *testing.T) {
	upd := &stubUpdater{rows: map[string]int{"A": 1, "B": 1, "C": 1, "D": 1}}
	status := &flakyStatus{StatusStore: store.NewJSONStatusStore(t.TempDir()), failOn: 3}
	o := New(stubSymbols{symbols: []string{"A", "B", "C", "D"}}, cn.NewPool(upd, time.Second, 0, nil), upd, status, nil, Options{BatchSize: 2, MaxWorkers: 2})

	if _, err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, o)

	got, err := o.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Running {
		t.Error("Running = true after abort")
	}
	if !strings.HasPrefix(got.Message, "aborted: ") {
		t.Errorf("Message = %q, want aborted prefix", got.Message)
	}
	if got.Progress != 2 {
		t.Errorf("Progress = %d, want last saved 2", got.Progress)
	}
	if got.Updated != 4 {
		t.Errorf("Updated = %d, want 4", got.Updated)
	}
}

func TestRecover(t *testing.T) {
	o, status := newTestOrchestrator(t, nil, &stubUpdater{}, 0, 1, 1)
	ctx := context.Background()

	if ok, err := o.Recover(ctx); ok || err != nil {
		t.Errorf("Recover with no record = %v, %v; want false, nil", ok, err)
	}

	if err := status.Save(ctx, domain.SyncTask{RunID: "r1", Running: true, Progress: 100, Total: 5000, Updated: 42}); err != nil {
		t.Fatal(err)
	}
	ok, err := o.Recover(ctx)
	if err != nil || !ok {
		t.Fatalf("Recover = %v, %v; want true, nil", ok, err)
	}
	got, err := o.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Running || got.Message != MsgRecovered || got.Progress != 100 || got.Updated != 42 {
		t.Errorf("recovered task = %+v", got)
	}

	if ok, _ := o.Recover(ctx); ok {
		t.Error("second Recover = true, want false")
	}
}

func TestUpdateOneNormalizes(t *testing.T) {
	upd := &stubUpdater{rows: map[string]int{"000001": 5}}
	o, _ := newTestOrchestrator(t, nil, upd, 0, 1, 1)

	res := o.UpdateOne(context.Background(), "1")
	if res.Symbol != "000001" || res.Status != domain.StatusUpdated || res.NewRows != 5 {
		t.Errorf("UpdateOne = %+v", res)
	}
}

func TestRunForeground(t *testing.T) {
	upd := &stubUpdater{rows: map[string]int{"A": 1}}
	o, _ := newTestOrchestrator(t, []string{"A", "B"}, upd, 0, 1, 1)
	if o.Name() != "cn-sync" {
		t.Errorf("Name() = %q, want %q", o.Name(), "cn-sync")
	}
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := o.Status(context.Background())
	if got.Message != MsgDone || got.Updated != 1 {
		t.Errorf("status after Run = %+v", got)
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	upd := &stubUpdater{}
	o, _ := newTestOrchestrator(t, []string{"A", "B"}, upd, 0, 1, 1)

	id, events := o.Subscribe(16)
	if _, err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, o)
	o.Unsubscribe(id)

	var msgs []string
	for ev := range events {
		msgs = append(msgs, ev.Message)
	}
	want := []string{MsgStarted, "processed 1 / 2", "processed 2 / 2", MsgDone}
	if strings.Join(msgs, "|") != strings.Join(want, "|") {
		t.Errorf("events = %q, want %q", msgs, want)
	}
}

func TestWire(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.Backend = store.BackendParquet
	cfg.Gather.CNDaily.StartDate = "19800101"
	cfg.Gather.CNDaily.BatchSize = 50
	cfg.Gather.CNDaily.MaxWorkers = 8

	c, err := Wire(cfg, nil)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer c.Stores.Close()
	if c.Orchestrator == nil || c.Universe == nil || c.Pool == nil {
		t.Fatalf("Wire returned incomplete components: %+v", c)
	}
	if _, err := c.Orchestrator.Status(context.Background()); !errors.Is(err, ErrNoTask) {
		t.Errorf("fresh Status = %v, want ErrNoTask", err)
	}

	cfg.Gather.CNDaily.StartDate = "1980-01-01"
	if _, err := Wire(cfg, nil); err == nil {
		t.Error("Wire should reject a malformed start date")
	}
}
