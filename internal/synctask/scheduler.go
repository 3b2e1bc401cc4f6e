package synctask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"astock/internal/domain"
)

type starter interface {
	Start(ctx context.Context) (domain.SyncTask, error)
}

// Scheduler starts a sync on a cron schedule (six fields, seconds first).
// A tick that finds a run already active is skipped.
type Scheduler struct {
	cron *cron.Cron
	orch starter
	spec string
	log  *slog.Logger
}

// NewScheduler parses spec and binds it to o.
func NewScheduler(spec string, o starter) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		orch: o,
		spec: spec,
		log:  slog.Default().With("component", "cn-scheduler"),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "schedule", s.spec)
}

// Stop halts the schedule. The returned context is done once a tick in
// progress has returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) tick() {
	task, err := s.orch.Start(context.Background())
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		s.log.Info("scheduled sync skipped, already running")
	case err != nil:
		s.log.Error("scheduled sync failed to start", "error", err)
	default:
		s.log.Info("scheduled sync started", "run", task.RunID, "total", task.Total)
	}
}
