package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"astock/internal/config"
	"astock/internal/gather"
	"astock/internal/gather/cn"
	"astock/internal/synctask"
	"astock/internal/util"
)

func main() {
	symbols := flag.String("symbols", "", "comma-separated codes to update instead of the whole universe")
	refresh := flag.Bool("refresh-universe", false, "refetch the stock list before syncing")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	w, closer := util.FileSink{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}.Writer()
	defer closer.Close()
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, w))

	c, err := synctask.Wire(cfg, nil)
	if err != nil {
		log.Fatalf("wiring sync: %v", err)
	}
	defer c.Stores.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *refresh {
		stocks, err := c.Universe.Refresh(ctx)
		if err != nil {
			log.Fatalf("refreshing universe: %v", err)
		}
		fmt.Printf("universe refreshed: %d stocks\n", len(stocks))
	}

	// An explicit symbol list runs without a status record; a full pass goes
	// through the orchestrator so the run is recorded like a server sync.
	var g gather.Gatherer = c.Orchestrator
	if *symbols != "" {
		job := cfg.Gather.CNDaily
		g = cn.NewDailyBarGatherer(c.Universe, c.Pool, strings.Split(*symbols, ","), job.BatchSize, job.MaxWorkers)
	}

	fmt.Printf("starting %s gatherer\n", g.Name())
	if err := g.Run(ctx); err != nil {
		log.Fatalf("gatherer error: %v", err)
	}
}
