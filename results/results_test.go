package results

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(created time.Time) *Run {
	return &Run{
		CreatedAt: created,
		Method:    "twostage",
		PEFT:      "ln",
		Modality:  "both",
		Setting:   "base2new",
		Dataset:   "synthetic",
		Arch:      "clip-tiny",
		Duration:  1500 * time.Millisecond,
		Config:    "method: twostage\n",
		Metrics:   map[string]float64{"acc_test_base": 81.25, "acc_test_new": 62.5},
	}
}

func TestStoreSaveGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	run := sampleRun(created)
	require.NoError(t, s.Save(ctx, run))
	require.NotEmpty(t, run.ID)

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, created.Equal(got.CreatedAt), "CreatedAt = %v, erwartet %v", got.CreatedAt, created)
	got.CreatedAt = run.CreatedAt

	if diff := cmp.Diff(*run, got); diff != "" {
		t.Errorf("Run nach Get (-want +got):\n%s", diff)
	}
}

func TestStoreGetUnknown(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = s.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStoreListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		run := sampleRun(base.Add(time.Duration(i) * time.Hour))
		require.NoError(t, s.Save(ctx, run))
		ids = append(ids, run.ID)
	}

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{runs[0].ID, runs[1].ID, runs[2].ID})
	assert.Equal(t, 81.25, runs[0].Metrics["acc_test_base"])

	runs, err = s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestStoreDeleteCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := sampleRun(time.Now().UTC())
	require.NoError(t, s.Save(ctx, run))
	require.NoError(t, s.Delete(ctx, run.ID))

	var n int
	require.NoError(t, s.conn.QueryRow(`SELECT COUNT(*) FROM metrics WHERE run_id = ?`, run.ID).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestStoreDuplicateID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := sampleRun(time.Now().UTC())
	require.NoError(t, s.Save(ctx, run))
	dup := sampleRun(time.Now().UTC())
	dup.ID = run.ID
	assert.Error(t, s.Save(ctx, dup))
}

func TestStoreMigratesV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.sqlite")

	conn, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = conn.Exec(`
		CREATE TABLE meta (id INTEGER PRIMARY KEY CHECK (id = 1), schema_version INTEGER NOT NULL);
		INSERT INTO meta (id, schema_version) VALUES (1, 1);
		CREATE TABLE runs (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			method TEXT NOT NULL,
			peft TEXT NOT NULL DEFAULT '',
			modality TEXT NOT NULL DEFAULT '',
			setting TEXT NOT NULL,
			dataset TEXT NOT NULL DEFAULT '',
			arch TEXT NOT NULL DEFAULT '',
			config TEXT NOT NULL DEFAULT ''
		);
		INSERT INTO runs (id, method, setting) VALUES ('old-run', 'ln_only', 'all2all');
	`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	version, err := s.getSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)

	exists, err := s.columnExists("runs", "duration_ms")
	require.NoError(t, err)
	assert.True(t, exists)

	old, err := s.Get(context.Background(), "old-run")
	require.NoError(t, err)
	assert.Equal(t, "ln_only", old.Method)
	assert.Zero(t, old.Duration)
	assert.Empty(t, old.Metrics)
}

func TestPrintMetrics(t *testing.T) {
	var buf bytes.Buffer
	PrintMetrics(&buf, map[string]float64{"acc_test_new": 50, "acc_test_base": 75.126})

	out := buf.String()
	assert.Contains(t, out, "METRIC")
	assert.Contains(t, out, "75.13")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("acc_test_base")), bytes.Index(buf.Bytes(), []byte("acc_test_new")))
}

func TestPrintRuns(t *testing.T) {
	run := sampleRun(time.Now())
	run.ID = "0190a6d2-7b1c-7c55-9d2e-3f4a5b6c7d8e"

	var buf bytes.Buffer
	PrintRuns(&buf, []Run{*run})
	out := buf.String()
	assert.Contains(t, out, "3f4a5b6c7d8e")
	assert.NotContains(t, out, "0190a6d2")
	assert.Contains(t, out, "acc_test_base=81.25 acc_test_new=62.50")

	buf.Reset()
	PrintRun(&buf, *run)
	assert.Contains(t, buf.String(), "clip-tiny")
	assert.Contains(t, buf.String(), "1.5s")
	assert.Contains(t, buf.String(), "method: twostage")
}

func TestWriteJSONAndCSV(t *testing.T) {
	run := sampleRun(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	run.ID = "run-1"

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, []Run{*run}))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "run-1", decoded[0]["id"])
	assert.Equal(t, float64(1500), decoded[0]["duration_ms"])

	buf.Reset()
	require.NoError(t, WriteCSV(&buf, []Run{*run}))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	want := [][]string{
		{"id", "method", "peft", "modality", "setting", "dataset", "metric", "value"},
		{"run-1", "twostage", "ln", "both", "base2new", "synthetic", "acc_test_base", "81.2500"},
		{"run-1", "twostage", "ln", "both", "base2new", "synthetic", "acc_test_new", "62.5000"},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("CSV (-want +got):\n%s", diff)
	}
}
