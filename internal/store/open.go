package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backends selects the storage implementation.
const (
	BackendParquet = "parquet"
	BackendSQLite  = "sqlite"
)

// Stores bundles the two stores a sync needs. Close releases whatever the
// backend holds open.
type Stores struct {
	History HistoryStore
	Status  StatusStore
	Close   func() error
}

// Open builds the stores for backend. The parquet backend keeps history as
// one file per symbol plus a JSON status file under dataDir; the sqlite
// backend keeps both in the database at sqlitePath.
func Open(backend, dataDir, sqlitePath string) (Stores, error) {
	switch backend {
	case BackendParquet, "":
		return Stores{
			History: NewParquetStore(dataDir),
			Status:  NewJSONStatusStore(dataDir),
			Close:   func() error { return nil },
		}, nil
	case BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0o755); err != nil {
			return Stores{}, err
		}
		db, err := NewSQLiteStore(sqlitePath)
		if err != nil {
			return Stores{}, fmt.Errorf("opening sqlite store: %w", err)
		}
		return Stores{History: db, Status: db, Close: db.Close}, nil
	default:
		return Stores{}, fmt.Errorf("unknown storage backend %q", backend)
	}
}
