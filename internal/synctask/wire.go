package synctask

import (
	"fmt"
	"time"

	"astock/internal/config"
	"astock/internal/domain"
	"astock/internal/gather/cn"
	"astock/internal/metrics"
	"astock/internal/store"
)

// Components is a fully wired CN sync stack.
type Components struct {
	Stores       store.Stores
	Client       *cn.EastMoneyClient
	Universe     *cn.Universe
	Updater      *cn.Updater
	Pool         *cn.Pool
	Orchestrator *Orchestrator
}

// Wire builds the sync stack described by cfg. m may be nil. Callers must
// call Stores.Close when done.
func Wire(cfg *config.Config, m *metrics.SyncMetrics) (*Components, error) {
	job := cfg.Gather.CNDaily
	epoch, err := time.Parse(domain.DateLayout, job.StartDate)
	if err != nil {
		return nil, fmt.Errorf("parsing start date: %w", err)
	}

	stores, err := store.Open(cfg.Storage.Backend, cfg.Storage.DataDir, cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}

	client := cn.NewEastMoneyClient(job.KlineURL, job.ListURL, job.HTTPTimeout, job.RateLimitPerMin)
	universe := cn.NewUniverse(client, cfg.Storage.DataDir)
	updater := cn.NewUpdater(client, stores.History, epoch, job.SymbolTimeout, job.Refetch())
	pool := cn.NewPool(updater, job.SymbolTimeout, job.Pause(), m)
	orch := New(universe, pool, updater, stores.Status, m, Options{
		BatchSize:  job.BatchSize,
		MaxWorkers: job.MaxWorkers,
	})

	return &Components{
		Stores:       stores,
		Client:       client,
		Universe:     universe,
		Updater:      updater,
		Pool:         pool,
		Orchestrator: orch,
	}, nil
}
