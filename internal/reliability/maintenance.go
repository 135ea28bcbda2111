package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/alphashield/internal/database"
)

const (
	diskWarnPercent     = 85.0
	diskCriticalPercent = 95.0
	walCheckpointBytes  = 64 << 20
)

// MaintenanceReport summarizes one maintenance pass
type MaintenanceReport struct {
	IntegrityOK    bool    `json:"integrity_ok"`
	WALCheckpoint  bool    `json:"wal_checkpoint"`
	DiskUsedPct    float64 `json:"disk_used_pct"`
	DiskFreeBytes  uint64  `json:"disk_free_bytes"`
	DiskCritical   bool    `json:"disk_critical"`
	DurationMillis int64   `json:"duration_ms"`
}

// Maintenance keeps the results database healthy: integrity check, WAL
// checkpoint when the log grows large and a free disk space check.
type Maintenance struct {
	db      *database.DB
	dataDir string
	log     zerolog.Logger
}

// NewMaintenance creates the maintenance runner for db. dataDir is the
// mount point checked for free space.
func NewMaintenance(db *database.DB, dataDir string, log zerolog.Logger) *Maintenance {
	return &Maintenance{
		db:      db,
		dataDir: dataDir,
		log:     log.With().Str("service", "maintenance").Logger(),
	}
}

// Run executes one maintenance pass. An integrity failure or a full disk
// returns an error; the report is filled as far as it got.
func (m *Maintenance) Run(ctx context.Context) (MaintenanceReport, error) {
	startTime := time.Now()
	report := MaintenanceReport{}

	if err := m.db.HealthCheck(ctx); err != nil {
		m.log.Error().Err(err).Msg("Integrity check failed")
		return report, err
	}
	report.IntegrityOK = true

	stats, err := m.db.GetStats()
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to read database stats")
	} else if stats.WALSizeBytes > walCheckpointBytes {
		if _, err := m.db.Conn().ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			m.log.Warn().Err(err).Msg("WAL checkpoint failed")
		} else {
			report.WALCheckpoint = true
			m.log.Info().Int64("wal_bytes", stats.WALSizeBytes).Msg("WAL checkpointed")
		}
	}

	usage, err := disk.UsageWithContext(ctx, m.dataDir)
	if err != nil {
		m.log.Warn().Err(err).Str("path", m.dataDir).Msg("Failed to read disk usage")
	} else {
		report.DiskUsedPct = usage.UsedPercent
		report.DiskFreeBytes = usage.Free
		switch {
		case usage.UsedPercent >= diskCriticalPercent:
			report.DiskCritical = true
		case usage.UsedPercent >= diskWarnPercent:
			m.log.Warn().Float64("used_pct", usage.UsedPercent).Msg("Disk space running low")
		}
	}

	report.DurationMillis = time.Since(startTime).Milliseconds()
	if report.DiskCritical {
		err := fmt.Errorf("disk usage %.1f%% on %s exceeds %.0f%%", report.DiskUsedPct, m.dataDir, diskCriticalPercent)
		m.log.Error().Err(err).Msg("Maintenance found a critical condition")
		return report, err
	}

	m.log.Info().
		Int64("duration_ms", report.DurationMillis).
		Float64("disk_used_pct", report.DiskUsedPct).
		Msg("Maintenance completed")
	return report, nil
}
