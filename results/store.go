// store.go - Laufhistorie in SQLite
// Enthaelt: Run, Store (Open, Close, Save, Get, List, Delete), Schema-Initialisierung

package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite-Treiber registrieren
)

// currentSchemaVersion wird bei Schema-Aenderungen erhoeht, die Migrationen erfordern.
const currentSchemaVersion = 2

// ErrRunNotFound wird zurueckgegeben wenn eine Run-ID unbekannt ist.
var ErrRunNotFound = errors.New("results: run not found")

// Run ist ein gespeicherter Trainingslauf.
type Run struct {
	ID        string
	CreatedAt time.Time
	Method    string
	PEFT      string
	Modality  string
	Setting   string
	Dataset   string
	Arch      string
	Duration  time.Duration
	// Config ist die Konfiguration des Laufs als YAML.
	Config  string
	Metrics map[string]float64
}

// MetricKeys gibt die Metrik-Namen sortiert zurueck.
func (r Run) MetricKeys() []string {
	keys := make([]string, 0, len(r.Metrics))
	for k := range r.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Store umhuellt die SQLite-Verbindung. SQLite serialisiert Schreiber selbst,
// im WAL-Modus blockieren Leser keine Schreiber.
type Store struct {
	conn *sql.DB
}

// Open oeffnet (oder erstellt) die Datenbank unter path und bringt das Schema
// auf den aktuellen Stand.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return s, nil
}

// Close schliesst die Datenbankverbindung.
func (s *Store) Close() error {
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return s.conn.Close()
}

func (s *Store) init() error {
	if _, err := s.conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL DEFAULT %d
	);

	INSERT OR IGNORE INTO meta (id) VALUES (1);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		method TEXT NOT NULL,
		peft TEXT NOT NULL DEFAULT '',
		modality TEXT NOT NULL DEFAULT '',
		setting TEXT NOT NULL,
		dataset TEXT NOT NULL DEFAULT '',
		arch TEXT NOT NULL DEFAULT '',
		config TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS metrics (
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (run_id, name),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	`, currentSchemaVersion)

	if _, err := s.conn.Exec(schema); err != nil {
		return err
	}

	if err := s.migrate(); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Save speichert run. Eine leere ID wird durch eine UUIDv7 ersetzt, ein leerer
// Zeitstempel durch die aktuelle Zeit.
func (s *Store) Save(ctx context.Context, run *Run) error {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate run id: %w", err)
		}
		run.ID = id.String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, method, peft, modality, setting, dataset, arch, config, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.CreatedAt, run.Method, run.PEFT, run.Modality, run.Setting, run.Dataset, run.Arch, run.Config, run.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, name := range run.MetricKeys() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metrics (run_id, name, value) VALUES (?, ?, ?)`, run.ID, name, run.Metrics[name]); err != nil {
			return fmt.Errorf("insert metric %s: %w", name, err)
		}
	}

	return tx.Commit()
}

// Get laedt einen Lauf inklusive Metriken.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, created_at, method, peft, modality, setting, dataset, arch, config, duration_ms
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}

	metrics, err := s.metrics(ctx, []string{run.ID})
	if err != nil {
		return Run{}, err
	}
	run.Metrics = metrics[run.ID]
	return run, nil
}

// List gibt die letzten limit Laeufe zurueck, neueste zuerst. limit <= 0
// liefert alle.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, created_at, method, peft, modality, setting, dataset, arch, config, duration_ms
		FROM runs ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	var ids []string
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
		ids = append(ids, run.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	metrics, err := s.metrics(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		runs[i].Metrics = metrics[runs[i].ID]
	}
	return runs, nil
}

// Delete entfernt einen Lauf, die Metriken folgen per ON DELETE CASCADE.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var durationMS int64
	err := row.Scan(&run.ID, &run.CreatedAt, &run.Method, &run.PEFT, &run.Modality, &run.Setting, &run.Dataset, &run.Arch, &run.Config, &durationMS)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, err
}

func (s *Store) metrics(ctx context.Context, ids []string) (map[string]map[string]float64, error) {
	out := make(map[string]map[string]float64, len(ids))
	for _, id := range ids {
		rows, err := s.conn.QueryContext(ctx, `SELECT name, value FROM metrics WHERE run_id = ?`, id)
		if err != nil {
			return nil, fmt.Errorf("get metrics: %w", err)
		}

		m := make(map[string]float64)
		for rows.Next() {
			var name string
			var value float64
			if err := rows.Scan(&name, &value); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan metric: %w", err)
			}
			m[name] = value
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
		out[id] = m
	}
	return out, nil
}
