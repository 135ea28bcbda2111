package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/alphashield/internal/database"
	"github.com/aristath/alphashield/internal/events"
	"github.com/aristath/alphashield/internal/reliability"
)

// BackupJob uploads a snapshot of the results database and rotates old
// backups.
type BackupJob struct {
	db            *database.DB
	exporter      *reliability.Exporter
	stagingDir    string
	retentionDays int
	events        *events.Manager
	log           zerolog.Logger
}

// NewBackupJob creates the job. stagingDir holds the temporary snapshot.
func NewBackupJob(db *database.DB, exporter *reliability.Exporter, stagingDir string, retentionDays int, em *events.Manager, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		db:            db,
		exporter:      exporter,
		stagingDir:    stagingDir,
		retentionDays: retentionDays,
		events:        em,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run executes the backup
func (j *BackupJob) Run() error {
	if !j.exporter.Enabled() {
		j.log.Debug().Msg("Object storage not configured, skipping backup")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	info, err := j.exporter.BackupDatabase(ctx, j.db, j.stagingDir)
	if err != nil {
		j.events.EmitError(j.Name(), err, map[string]interface{}{"database": j.db.Name()})
		return err
	}
	j.events.Emit(j.Name(), &events.BackupCompletedData{Key: info.Key, SizeBytes: info.SizeBytes})

	if _, err := j.exporter.RotateBackups(ctx, j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}

// MaintenanceJob runs the database maintenance pass
type MaintenanceJob struct {
	maintenance *reliability.Maintenance
	events      *events.Manager
	log         zerolog.Logger
}

// NewMaintenanceJob creates the job
func NewMaintenanceJob(m *reliability.Maintenance, em *events.Manager, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		maintenance: m,
		events:      em,
		log:         log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance pass
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := j.maintenance.Run(ctx); err != nil {
		j.events.EmitError(j.Name(), err, nil)
		return err
	}
	return nil
}
