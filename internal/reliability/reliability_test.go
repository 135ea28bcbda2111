package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/alphashield/internal/database"
	"github.com/aristath/alphashield/internal/modules/backtest"
	"github.com/aristath/alphashield/internal/modules/risk"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (s *memoryStore) Upload(_ context.Context, key string, body io.Reader, _ string) error {
	if s.failOn != "" && strings.HasSuffix(key, s.failOn) {
		return errors.New("upload refused")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ObjectInfo
	for k, v := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, SizeBytes: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func testRun() *backtest.Run {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	run := &backtest.Run{ID: "run-1", Start: start, End: start.AddDate(0, 0, 9), Initial: 100000}
	for i := 0; i < 10; i++ {
		d := start.AddDate(0, 0, i)
		run.NAV = append(run.NAV, backtest.Point{Date: d, Value: 100000 + float64(i)*250})
		run.Coverage = append(run.Coverage, backtest.Point{Date: d, Value: 1.8 - float64(i)*0.05})
	}
	run.Metrics.FinalNAV = run.NAV[len(run.NAV)-1].Value
	return run
}

func TestExporter_DisabledIsNoop(t *testing.T) {
	e := NewExporter(nil, "alphashield", risk.DefaultThresholds(), zerolog.Nop())
	assert.False(t, e.Enabled())

	keys, err := e.ExportRun(context.Background(), testRun())
	require.NoError(t, err)
	assert.Empty(t, keys)

	backups, err := e.ListBackups(context.Background())
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestExporter_ExportRun(t *testing.T) {
	store := newMemoryStore()
	e := NewExporter(store, "/alphashield/", risk.DefaultThresholds(), zerolog.Nop())

	keys, err := e.ExportRun(context.Background(), testRun())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"alphashield/runs/run-1/summary.json",
		"alphashield/runs/run-1/nav.png",
		"alphashield/runs/run-1/coverage.png",
	}, keys)

	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal(store.objects["alphashield/runs/run-1/summary.json"], &summary))
	assert.Equal(t, "run-1", summary["id"])
	assert.True(t, bytes.HasPrefix(store.objects["alphashield/runs/run-1/nav.png"], []byte("\x89PNG")))
}

func TestExporter_ExportRunUploadError(t *testing.T) {
	store := newMemoryStore()
	store.failOn = "nav.png"
	e := NewExporter(store, "", risk.DefaultThresholds(), zerolog.Nop())

	keys, err := e.ExportRun(context.Background(), testRun())
	require.Error(t, err)
	assert.Equal(t, []string{"runs/run-1/summary.json"}, keys)
}

func TestExporter_BackupDatabase(t *testing.T) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "results.db"),
		Profile: database.ProfileStandard,
		Name:    "results",
	})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	store := newMemoryStore()
	e := NewExporter(store, "alphashield", risk.DefaultThresholds(), zerolog.Nop())
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	info, err := e.BackupDatabase(context.Background(), db, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "alphashield/backups/results-backup-2024-05-06-070809.tar.gz", info.Key)
	assert.Positive(t, info.SizeBytes)

	gz, err := gzip.NewReader(bytes.NewReader(store.objects[info.Key]))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	names := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		names[hdr.Name] = body
	}
	require.Contains(t, names, "results.db")
	require.Contains(t, names, "backup-metadata.json")

	var meta BackupMetadata
	require.NoError(t, json.Unmarshal(names["backup-metadata.json"], &meta))
	assert.Equal(t, "results", meta.Database)
	assert.Equal(t, int64(len(names["results.db"])), meta.SizeBytes)
	assert.True(t, strings.HasPrefix(meta.Checksum, "sha256:"))
}

func TestExporter_RotateKeepsNewestThree(t *testing.T) {
	store := newMemoryStore()
	e := NewExporter(store, "p", risk.DefaultThresholds(), zerolog.Nop())
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	for _, days := range []int{1, 40, 50, 60, 70} {
		ts := now.AddDate(0, 0, -days).Format(backupTimeLayout)
		store.objects["p/backups/"+backupPrefix+ts+backupSuffix] = []byte("x")
	}
	store.objects["p/backups/"+backupPrefix+"garbage"+backupSuffix] = []byte("x")

	backups, err := e.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 5)
	assert.True(t, backups[0].Timestamp.After(backups[1].Timestamp))
	assert.Equal(t, int64(24), backups[0].AgeHours)

	deleted, err := e.RotateBackups(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	backups, err = e.ListBackups(context.Background())
	require.NoError(t, err)
	assert.Len(t, backups, 3)

	// Everything left is old but the newest three are always kept.
	deleted, err = e.RotateBackups(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestMaintenance_Run(t *testing.T) {
	dir := t.TempDir()
	db, err := database.New(database.Config{
		Path: filepath.Join(dir, "results.db"),
		Name: "results",
	})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	report, err := NewMaintenance(db, dir, zerolog.Nop()).Run(context.Background())
	if report.DiskCritical {
		t.Skip("host disk is nearly full")
	}
	require.NoError(t, err)
	assert.True(t, report.IntegrityOK)
	assert.False(t, report.WALCheckpoint)
}
