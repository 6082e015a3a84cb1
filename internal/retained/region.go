package retained

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Region is the storage that survives deep sleep. Read returns nil for an
// empty region.
type Region interface {
	Read() ([]byte, error)
	Write(record []byte) error
	Clear() error
}

// MemoryRegion keeps the record in process memory. It survives a runtime
// rebuild inside the same process, which is how deep sleep is simulated.
type MemoryRegion struct {
	mu  sync.Mutex
	buf []byte
}

// NewMemoryRegion creates an empty memory region.
func NewMemoryRegion() *MemoryRegion {
	return &MemoryRegion{}
}

func (r *MemoryRegion) Read() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf == nil {
		return nil, nil
	}
	return append([]byte(nil), r.buf...), nil
}

func (r *MemoryRegion) Write(record []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append([]byte(nil), record...)
	return nil
}

func (r *MemoryRegion) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = nil
	return nil
}

// SQLiteRegion stores the record in the single-row retained_region table.
type SQLiteRegion struct {
	db *sql.DB
}

// NewSQLiteRegion creates a region backed by db.
func NewSQLiteRegion(db *sql.DB) *SQLiteRegion {
	return &SQLiteRegion{db: db}
}

func (r *SQLiteRegion) Read() ([]byte, error) {
	var record []byte
	err := r.db.QueryRow(`SELECT record FROM retained_region WHERE id = 1`).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read retained region: %w", err)
	}
	return record, nil
}

// Write replaces the record in a single statement.
func (r *SQLiteRegion) Write(record []byte) error {
	_, err := r.db.Exec(`
		INSERT INTO retained_region (id, record, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			record = excluded.record,
			updated_at = excluded.updated_at
	`, record, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write retained region: %w", err)
	}
	return nil
}

func (r *SQLiteRegion) Clear() error {
	if _, err := r.db.Exec(`DELETE FROM retained_region`); err != nil {
		return fmt.Errorf("failed to clear retained region: %w", err)
	}
	return nil
}
