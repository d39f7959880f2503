package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"vidconvert/internal/logging"
	"vidconvert/internal/metrics"
)

// Default timeout for ledger operations
const defaultTimeout = 5 * time.Second

// Record is one immutable ledger entry, created once per successfully
// completed conversion and never mutated afterwards.
type Record struct {
	Fingerprint      string    `json:"fingerprint"`
	OutputPath       string    `json:"output_path"`
	Succeeded        bool      `json:"succeeded"`
	CompressionRatio float64   `json:"compression_ratio"`
	Timestamp        time.Time `json:"timestamp"`
}

// Statistics aggregates the ledger for reporting.
type Statistics struct {
	Count      int     `json:"count"`
	TotalSaved int64   `json:"total_saved_bytes"`
	AvgRatio   float64 `json:"avg_ratio"`
}

// History is the sqlite-backed ledger. Lookups are primary-key reads,
// so per-candidate dedup checks stay O(1) amortized.
type History struct {
	db     *sql.DB
	dbPath string
}

// Open opens (or creates) the ledger database at dbPath. WAL mode and a
// busy timeout keep the historyctl tool and a running batch from
// tripping over each other.
func Open(ctx context.Context, dbPath string) (*History, error) {
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to history database: %w", err)
	}

	h := &History{db: db, dbPath: dbPath}
	if err := h.initialize(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}

	logging.Debug("History ledger opened at %s", dbPath)
	return h, nil
}

func (h *History) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversions (
		fingerprint TEXT PRIMARY KEY,
		output_path TEXT NOT NULL,
		succeeded INTEGER NOT NULL DEFAULT 1,
		original_size INTEGER NOT NULL DEFAULT 0,
		converted_size INTEGER NOT NULL DEFAULT 0,
		compression_ratio REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversions_created_at ON conversions(created_at);
	`

	initCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if _, err := h.db.ExecContext(initCtx, schema); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}

// IsConverted reports whether a fingerprint has a successful record.
func (h *History) IsConverted(ctx context.Context, fingerprint string) (bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var one int
	err := h.db.QueryRowContext(queryCtx,
		`SELECT 1 FROM conversions WHERE fingerprint = ? AND succeeded = 1`,
		fingerprint).Scan(&one)
	switch {
	case err == nil:
		metrics.HistoryLookupsTotal.WithLabelValues("hit").Inc()
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		metrics.HistoryLookupsTotal.WithLabelValues("miss").Inc()
		return false, nil
	default:
		metrics.HistoryLookupsTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("history lookup: %w", err)
	}
}

// AddRecord appends a conversion record. INSERT OR REPLACE keeps the
// operation idempotent: committing the same task twice (a crash between
// ledger write and session save) leaves a single record.
func (h *History) AddRecord(ctx context.Context, rec Record, originalSize, convertedSize int64) error {
	execCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := h.db.ExecContext(execCtx,
		`INSERT OR REPLACE INTO conversions
		 (fingerprint, output_path, succeeded, original_size, converted_size, compression_ratio, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Fingerprint, rec.OutputPath, boolToInt(rec.Succeeded),
		originalSize, convertedSize, rec.CompressionRatio, rec.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("append history record: %w", err)
	}
	metrics.HistoryRecordsTotal.Inc()
	return nil
}

// Stats aggregates ledger-wide counts and space savings.
func (h *History) Stats(ctx context.Context) (Statistics, error) {
	queryCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var s Statistics
	err := h.db.QueryRowContext(queryCtx,
		`SELECT COUNT(*),
		        COALESCE(SUM(original_size - converted_size), 0),
		        COALESCE(AVG(compression_ratio), 0)
		 FROM conversions WHERE succeeded = 1`).
		Scan(&s.Count, &s.TotalSaved, &s.AvgRatio)
	if err != nil {
		return Statistics{}, fmt.Errorf("history stats: %w", err)
	}
	return s, nil
}

// Prune deletes records older than the cutoff, returning how many were
// removed. Used by historyctl for ledger hygiene.
func (h *History) Prune(ctx context.Context, before time.Time) (int64, error) {
	execCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := h.db.ExecContext(execCtx,
		`DELETE FROM conversions WHERE created_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

// ExportJSON writes a read-only snapshot of the ledger to path. Not
// used on the hot path.
func (h *History) ExportJSON(ctx context.Context, path string) error {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := h.db.QueryContext(queryCtx,
		`SELECT fingerprint, output_path, succeeded, compression_ratio, created_at
		 FROM conversions ORDER BY created_at`)
	if err != nil {
		return fmt.Errorf("export history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var succeeded int
		var createdAt int64
		if err := rows.Scan(&rec.Fingerprint, &rec.OutputPath, &succeeded, &rec.CompressionRatio, &createdAt); err != nil {
			return fmt.Errorf("scan history record: %w", err)
		}
		rec.Succeeded = succeeded != 0
		rec.Timestamp = time.Unix(createdAt, 0).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate history records: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write history export: %w", err)
	}
	logging.Info("Exported %d history records to %s", len(records), path)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
