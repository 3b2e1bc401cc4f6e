package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"astock/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ HistoryStore = (*SQLiteStore)(nil)
var _ StatusStore = (*SQLiteStore)(nil)

// SQLiteStore implements HistoryStore and StatusStore in one SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS daily_bars (
	symbol    TEXT    NOT NULL,
	date      TEXT    NOT NULL,
	open      REAL    NOT NULL,
	close     REAL    NOT NULL,
	high      REAL    NOT NULL,
	low       REAL    NOT NULL,
	volume    INTEGER NOT NULL,
	amount    REAL    NOT NULL,
	amplitude REAL    NOT NULL,
	pct_chg   REAL    NOT NULL,
	change    REAL    NOT NULL,
	turnover  REAL    NOT NULL,
	PRIMARY KEY (symbol, date)
);
CREATE TABLE IF NOT EXISTS daily_bars_corrupt (
	symbol         TEXT,
	date           TEXT,
	open           REAL,
	close          REAL,
	high           REAL,
	low            REAL,
	volume         INTEGER,
	amount         REAL,
	amplitude      REAL,
	pct_chg        REAL,
	change         REAL,
	turnover       REAL,
	quarantined_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_task (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	run_id     TEXT    NOT NULL,
	running    INTEGER NOT NULL,
	progress   INTEGER NOT NULL,
	total      INTEGER NOT NULL,
	updated    INTEGER NOT NULL,
	message    TEXT    NOT NULL,
	started_at TEXT    NOT NULL,
	updated_at TEXT    NOT NULL
);`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and creates
// the tables if needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLITE_BUSY out of concurrent merges.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// HistoryStore implementation
// ---------------------------------------------------------------------------

// Read returns all bars for symbol ordered by date. Only rows that fail to
// decode are reported as *ReadError; query failures are plain errors.
func (s *SQLiteStore) Read(ctx context.Context, symbol string) ([]domain.DailyBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, open, close, high, low, volume, amount, amplitude, pct_chg, change, turnover
		FROM daily_bars WHERE symbol = ? ORDER BY date`, symbol)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.DailyBar
	for rows.Next() {
		var (
			b    domain.DailyBar
			date string
		)
		if err := rows.Scan(&date, &b.Open, &b.Close, &b.High, &b.Low, &b.Volume,
			&b.Amount, &b.Amplitude, &b.PctChg, &b.Change, &b.Turnover); err != nil {
			return nil, &ReadError{Symbol: symbol, Err: err}
		}
		d, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return nil, &ReadError{Symbol: symbol, Err: err}
		}
		b.Symbol = symbol
		b.Date = d
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, ErrNotFound
	}
	return bars, nil
}

// LastDate returns the newest stored date for symbol.
func (s *SQLiteStore) LastDate(ctx context.Context, symbol string) (time.Time, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM daily_bars WHERE symbol = ?`, symbol).Scan(&date)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying %s: %w", symbol, err)
	}
	if !date.Valid {
		return time.Time{}, ErrNotFound
	}
	d, err := time.Parse(time.DateOnly, date.String)
	if err != nil {
		return time.Time{}, &ReadError{Symbol: symbol, Err: err}
	}
	return d, nil
}

// Merge inserts bars, ignoring dates already stored for symbol.
func (s *SQLiteStore) Merge(ctx context.Context, symbol string, bars []domain.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO daily_bars
		(symbol, date, open, close, high, low, volume, amount, amplitude, pct_chg, change, turnover)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, domain.Day(b.Date).Format(time.DateOnly),
			b.Open, b.Close, b.High, b.Low, b.Volume,
			b.Amount, b.Amplitude, b.PctChg, b.Change, b.Turnover); err != nil {
			return fmt.Errorf("inserting %s %s: %w", symbol, b.Date.Format(time.DateOnly), err)
		}
	}
	return tx.Commit()
}

// Quarantine moves the rows for symbol into daily_bars_corrupt so the next
// Merge starts a fresh series. Both steps commit together or not at all.
func (s *SQLiteStore) Quarantine(ctx context.Context, symbol string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO daily_bars_corrupt
		(symbol, date, open, close, high, low, volume, amount, amplitude, pct_chg, change, turnover, quarantined_at)
		SELECT symbol, date, open, close, high, low, volume, amount, amplitude, pct_chg, change, turnover, ?
		FROM daily_bars WHERE symbol = ?`,
		time.Now().UTC().Format(time.RFC3339), symbol); err != nil {
		return fmt.Errorf("quarantining %s: %w", symbol, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_bars WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("quarantining %s: %w", symbol, err)
	}
	return tx.Commit()
}

// Symbols lists every symbol with at least one stored bar.
func (s *SQLiteStore) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM daily_bars ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// ---------------------------------------------------------------------------
// StatusStore implementation
// ---------------------------------------------------------------------------

// Save upserts the singleton sync_task row.
func (s *SQLiteStore) Save(ctx context.Context, task domain.SyncTask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_task (id, run_id, running, progress, total, updated, message, started_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id, running = excluded.running,
			progress = excluded.progress, total = excluded.total,
			updated = excluded.updated, message = excluded.message,
			started_at = excluded.started_at, updated_at = excluded.updated_at`,
		task.RunID, task.Running, task.Progress, task.Total, task.Updated, task.Message,
		task.StartedAt.Format(time.RFC3339Nano), task.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving sync task: %w", err)
	}
	return nil
}

// Load returns the singleton sync_task row or ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context) (domain.SyncTask, error) {
	var (
		task               domain.SyncTask
		started, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, running, progress, total, updated, message, started_at, updated_at
		FROM sync_task WHERE id = 1`).Scan(&task.RunID, &task.Running, &task.Progress,
		&task.Total, &task.Updated, &task.Message, &started, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SyncTask{}, ErrNotFound
	}
	if err != nil {
		return domain.SyncTask{}, fmt.Errorf("loading sync task: %w", err)
	}
	task.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	task.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return task, nil
}
