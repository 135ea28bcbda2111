package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/alphashield/internal/database"
	"github.com/aristath/alphashield/internal/modules/backtest"
	"github.com/aristath/alphashield/internal/modules/reporting"
	"github.com/aristath/alphashield/internal/modules/risk"
)

const (
	backupPrefix     = "results-backup-"
	backupSuffix     = ".tar.gz"
	backupTimeLayout = "2006-01-02-150405"
	minBackupsToKeep = 3
)

// BackupMetadata is stored next to the database inside a backup archive
type BackupMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// BackupInfo represents a backup stored remotely
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// Exporter uploads run reports and database backups. A nil store disables
// every operation.
type Exporter struct {
	store  ObjectStore
	prefix string
	bands  risk.Thresholds
	now    func() time.Time
	log    zerolog.Logger
}

// NewExporter creates an exporter writing under prefix.
func NewExporter(store ObjectStore, prefix string, bands risk.Thresholds, log zerolog.Logger) *Exporter {
	return &Exporter{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		bands:  bands,
		now:    time.Now,
		log:    log.With().Str("service", "s3_export").Logger(),
	}
}

// Enabled reports whether an object store is configured.
func (e *Exporter) Enabled() bool {
	return e != nil && e.store != nil
}

func (e *Exporter) key(parts ...string) string {
	if e.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{e.prefix}, parts...)...)
}

// ExportRun uploads the run summary as JSON and both charts as PNG under
// runs/<id>/. It returns the uploaded keys.
func (e *Exporter) ExportRun(ctx context.Context, run *backtest.Run) ([]string, error) {
	if !e.Enabled() {
		e.log.Debug().Str("run_id", run.ID).Msg("Export disabled, skipping run")
		return nil, nil
	}

	summary, err := json.MarshalIndent(reporting.Summarize(run), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}

	uploads := []struct {
		name        string
		contentType string
		render      func() ([]byte, error)
	}{
		{"summary.json", "application/json", func() ([]byte, error) { return summary, nil }},
		{"nav.png", "image/png", func() ([]byte, error) { return reporting.NAVChart(run) }},
		{"coverage.png", "image/png", func() ([]byte, error) { return reporting.CoverageChart(run, e.bands) }},
	}

	var keys []string
	for _, u := range uploads {
		body, err := u.render()
		if err != nil {
			e.log.Warn().Err(err).Str("file", u.name).Msg("Skipping export artifact")
			continue
		}
		key := e.key("runs", run.ID, u.name)
		if err := e.store.Upload(ctx, key, bytes.NewReader(body), u.contentType); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	e.log.Info().Str("run_id", run.ID).Int("files", len(keys)).Msg("Run exported")
	return keys, nil
}

// BackupDatabase snapshots db into stagingDir, packs the snapshot with a
// checksum manifest into a tar.gz archive and uploads it.
func (e *Exporter) BackupDatabase(ctx context.Context, db *database.DB, stagingDir string) (BackupInfo, error) {
	if !e.Enabled() {
		e.log.Debug().Msg("Export disabled, skipping backup")
		return BackupInfo{}, nil
	}
	startTime := e.now()

	staging, err := os.MkdirTemp(stagingDir, "backup-")
	if err != nil {
		return BackupInfo{}, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	dbFile := db.Name() + ".db"
	snapshot := filepath.Join(staging, dbFile)
	if err := db.Snapshot(ctx, snapshot); err != nil {
		return BackupInfo{}, err
	}

	info, err := os.Stat(snapshot)
	if err != nil {
		return BackupInfo{}, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	checksum, err := calculateChecksum(snapshot)
	if err != nil {
		return BackupInfo{}, fmt.Errorf("failed to checksum snapshot: %w", err)
	}
	metadata, err := json.MarshalIndent(BackupMetadata{
		Timestamp: startTime.UTC(),
		Database:  db.Name(),
		Filename:  dbFile,
		SizeBytes: info.Size(),
		Checksum:  checksum,
	}, "", "  ")
	if err != nil {
		return BackupInfo{}, err
	}

	var archive bytes.Buffer
	if err := writeArchive(&archive, snapshot, dbFile, metadata); err != nil {
		return BackupInfo{}, fmt.Errorf("failed to create archive: %w", err)
	}

	name := backupPrefix + startTime.UTC().Format(backupTimeLayout) + backupSuffix
	key := e.key("backups", name)
	size := int64(archive.Len())
	if err := e.store.Upload(ctx, key, &archive, "application/gzip"); err != nil {
		return BackupInfo{}, err
	}

	e.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("key", key).
		Int64("size_bytes", size).
		Msg("Database backup uploaded")
	return BackupInfo{Key: key, Timestamp: startTime.UTC(), SizeBytes: size}, nil
}

// ListBackups returns the uploaded backups, newest first.
func (e *Exporter) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	if !e.Enabled() {
		return nil, nil
	}
	objects, err := e.store.List(ctx, e.key("backups", backupPrefix))
	if err != nil {
		return nil, err
	}

	now := e.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		name := path.Base(obj.Key)
		if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
		ts, err := time.Parse(backupTimeLayout, stamp)
		if err != nil {
			e.log.Warn().Str("key", obj.Key).Msg("Failed to parse timestamp from backup name")
			continue
		}
		backups = append(backups, BackupInfo{
			Key:       obj.Key,
			Timestamp: ts,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateBackups deletes backups older than retentionDays, always keeping
// the newest three. A non-positive retention keeps everything.
func (e *Exporter) RotateBackups(ctx context.Context, retentionDays int) (int, error) {
	if !e.Enabled() || retentionDays <= 0 {
		return 0, nil
	}
	backups, err := e.ListBackups(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list backups: %w", err)
	}
	if len(backups) <= minBackupsToKeep {
		return 0, nil
	}

	cutoff := e.now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, b := range backups[minBackupsToKeep:] {
		if !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := e.store.Delete(ctx, b.Key); err != nil {
			e.log.Error().Err(err).Str("key", b.Key).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	e.log.Info().Int("deleted", deleted).Int("remaining", len(backups)-deleted).Msg("Backup rotation completed")
	return deleted, nil
}

func calculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

// writeArchive writes a tar.gz holding the database file and its manifest.
func writeArchive(w io.Writer, dbPath, dbName string, metadata []byte) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	file, err := os.Open(dbPath)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}

	if err := tw.WriteHeader(&tar.Header{Name: dbName, Size: info.Size(), Mode: 0644, ModTime: info.ModTime()}); err != nil {
		return err
	}
	if _, err := io.Copy(tw, file); err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{Name: "backup-metadata.json", Size: int64(len(metadata)), Mode: 0644, ModTime: info.ModTime()}); err != nil {
		return err
	}
	if _, err := tw.Write(metadata); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}
