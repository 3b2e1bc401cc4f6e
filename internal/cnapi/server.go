// Package cnapi exposes the A-share history sync over HTTP.
package cnapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"astock/internal/domain"
	"astock/internal/gather/cn"
	"astock/internal/metrics"
	"astock/internal/store"
	"astock/internal/synctask"
)

const (
	summaryConcurrency = 16
	eventBuffer        = 16
	keepAlive          = 30 * time.Second
)

// Syncer is the sync control surface the server drives.
type Syncer interface {
	Start(ctx context.Context) (domain.SyncTask, error)
	Stop() error
	Status(ctx context.Context) (domain.SyncTask, error)
	UpdateOne(ctx context.Context, symbol string) cn.Result
	Subscribe(bufSize int) (int, <-chan domain.SyncTask)
	Unsubscribe(id int)
}

// StockLister returns the cached universe, or refetches it.
type StockLister interface {
	Load(ctx context.Context) ([]domain.Stock, error)
	Refresh(ctx context.Context) ([]domain.Stock, error)
}

var (
	_ Syncer      = (*synctask.Orchestrator)(nil)
	_ StockLister = (*cn.Universe)(nil)
)

// CNServer serves the CN sync API.
type CNServer struct {
	sync     Syncer
	universe StockLister
	history  store.HistoryStore
	metrics  *metrics.SyncMetrics
	log      *slog.Logger
}

// NewCNServer creates a new CN server. m may be nil, in which case /metrics
// is not registered.
func NewCNServer(sync Syncer, universe StockLister, history store.HistoryStore, m *metrics.SyncMetrics, log *slog.Logger) *CNServer {
	return &CNServer{
		sync:     sync,
		universe: universe,
		history:  history,
		metrics:  m,
		log:      log,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *CNServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/cn/sync/start", s.handleStart)
	mux.HandleFunc("POST /api/cn/sync/stop", s.handleStop)
	mux.HandleFunc("GET /api/cn/sync/status", s.handleStatus)
	mux.HandleFunc("GET /api/cn/sync/events", s.handleEvents)
	mux.HandleFunc("POST /api/cn/stocks/{symbol}/update", s.handleUpdate)
	mux.HandleFunc("GET /api/cn/stocks", s.handleStocks)
	mux.HandleFunc("GET /api/cn/stocks/count", s.handleStocksCount)
	mux.HandleFunc("GET /api/cn/history/count", s.handleHistoryCount)
	mux.HandleFunc("GET /api/cn/history/{symbol}", s.handleHistory)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return corsMiddleware(mux)
}

func (s *CNServer) handleStart(w http.ResponseWriter, r *http.Request) {
	task, err := s.sync.Start(r.Context())
	switch {
	case errors.Is(err, synctask.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.log.Error("starting sync", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSONStatus(w, http.StatusAccepted, task)
	}
}

func (s *CNServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.Stop(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSONStatus(w, http.StatusAccepted, AcceptedResponse{Accepted: true})
}

func (s *CNServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.sync.Status(r.Context())
	switch {
	case errors.Is(err, synctask.ErrNoTask):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.log.Error("loading sync status", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, task)
	}
}

// handleEvents streams SyncTask snapshots as server-sent events, starting
// with the current record if one exists.
func (s *CNServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	id, events := s.sync.Subscribe(eventBuffer)
	defer s.sync.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if task, err := s.sync.Status(r.Context()); err == nil {
		writeEvent(w, task)
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case task, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, task)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func (s *CNServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	symbol, ok := pathSymbol(w, r)
	if !ok {
		return
	}
	res := s.sync.UpdateOne(r.Context(), symbol)
	if res.Status == domain.StatusError {
		s.log.Warn("single symbol update failed", "symbol", symbol, "error", res.Message)
	}
	writeJSON(w, res)
}

func (s *CNServer) handleStocks(w http.ResponseWriter, r *http.Request) {
	load := s.universe.Load
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		load = s.universe.Refresh
	}
	stocks, err := load(r.Context())
	if err != nil {
		s.log.Error("loading stock list", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, StocksResponse{Count: len(stocks), Stocks: stocks})
}

func (s *CNServer) handleStocksCount(w http.ResponseWriter, r *http.Request) {
	stocks, err := s.universe.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, CountResponse{Count: len(stocks)})
}

func (s *CNServer) handleHistoryCount(w http.ResponseWriter, r *http.Request) {
	sum, err := store.Summarize(r.Context(), s.history, summaryConcurrency)
	if err != nil {
		s.log.Error("summarizing history", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, sum)
}

func (s *CNServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol, ok := pathSymbol(w, r)
	if !ok {
		return
	}

	days := 0
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid days parameter")
			return
		}
		days = n
	}

	bars, err := s.history.Read(r.Context(), symbol)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("no history for %s", symbol))
		return
	case err != nil:
		s.log.Error("reading history", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if days > 0 && len(bars) > days {
		bars = bars[len(bars)-days:]
	}

	out := make([]HistoryDay, len(bars))
	for i, b := range bars {
		out[i] = HistoryDay{
			Date:     b.Date.Format(time.DateOnly),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
			Amount:   b.Amount,
			PctChg:   b.PctChg,
			Turnover: b.Turnover,
		}
	}
	writeJSON(w, HistoryResponse{Symbol: symbol, Days: out})
}

// pathSymbol normalizes the {symbol} path value and rejects codes that map
// to no market.
func pathSymbol(w http.ResponseWriter, r *http.Request) (string, bool) {
	symbol := domain.NormalizeSymbol(r.PathValue("symbol"))
	if _, err := domain.MarketOf(symbol); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return symbol, true
}

func writeEvent(w http.ResponseWriter, task domain.SyncTask) {
	data, err := json.Marshal(task)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}
