package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/domain/entities"
	"github.com/satriahrh/azscribe/domain/repositories"
)

const selectJob = `
SELECT j.id, j.media_package_id, j.track_id, j.transcription_job_id, j.provider_id, p.provider,
       j.status, j.track_duration, j.date_created, j.date_updated
FROM transcription_job_control j
JOIN transcription_provider p ON p.id = j.provider_id`

// JobRepository stores job records in SQLite
type JobRepository struct {
	db *DB
}

// Ensure JobRepository implements the TranscriptionJobRepository interface
var _ repositories.TranscriptionJobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new SQLite job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create implements repositories.TranscriptionJobRepository
func (r *JobRepository) Create(ctx context.Context, record *entities.JobRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO transcription_provider (provider) VALUES (?)`, record.Provider); err != nil {
		return fmt.Errorf("failed to register provider: %w", err)
	}

	var providerID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM transcription_provider WHERE provider = ?`, record.Provider).Scan(&providerID); err != nil {
		return fmt.Errorf("failed to get provider: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO transcription_job_control (
			media_package_id, track_id, transcription_job_id, provider_id,
			status, track_duration, date_created, date_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.MediaPackageID,
		record.TrackID,
		record.TranscriptionJobID,
		providerID,
		string(record.Status),
		record.TrackDuration.Milliseconds(),
		record.DateCreated.UnixMilli(),
		record.TerminalSince().UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: transcription job %s", domain.ErrDuplicate, record.TranscriptionJobID)
		}
		return fmt.Errorf("failed to create job record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get record ID: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	record.ID = strconv.FormatInt(id, 10)
	record.ProviderID = strconv.FormatInt(providerID, 10)
	return nil
}

// GetByTranscriptionJobID implements repositories.TranscriptionJobRepository
func (r *JobRepository) GetByTranscriptionJobID(ctx context.Context, transcriptionJobID string) (*entities.JobRecord, error) {
	row := r.db.QueryRowContext(ctx,
		selectJob+` WHERE j.transcription_job_id = ? ORDER BY j.date_created, j.id LIMIT 1`, transcriptionJobID)

	record, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transcription job %s", domain.ErrNotFound, transcriptionJobID)
		}
		return nil, fmt.Errorf("failed to get job record: %w", err)
	}
	return record, nil
}

// FindByStatus implements repositories.TranscriptionJobRepository
func (r *JobRepository) FindByStatus(ctx context.Context, statuses ...entities.JobStatus) ([]*entities.JobRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx,
		selectJob+` WHERE j.status IN (`+placeholders+`) ORDER BY j.date_created, j.transcription_job_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job records: %w", err)
	}
	defer rows.Close()

	var records []*entities.JobRecord
	for rows.Next() {
		record, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job records: %w", err)
	}
	return records, nil
}

// FindProvider implements repositories.TranscriptionJobRepository
func (r *JobRepository) FindProvider(ctx context.Context, name string) (*entities.Provider, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM transcription_provider WHERE provider = ?`, name).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: provider %s", domain.ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return &entities.Provider{ID: strconv.FormatInt(id, 10), Name: name}, nil
}

// UpdateStatus implements repositories.TranscriptionJobRepository
func (r *JobRepository) UpdateStatus(ctx context.Context, provider, transcriptionJobID string, from, to entities.JobStatus, at time.Time) error {
	if err := entities.ValidateTransition(from, to); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE transcription_job_control
		SET status = ?, date_updated = ?
		WHERE provider_id = (SELECT id FROM transcription_provider WHERE provider = ?)
		  AND transcription_job_id = ? AND status = ?`,
		string(to), at.UnixMilli(), provider, transcriptionJobID, string(from))
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	row := r.db.QueryRowContext(ctx,
		selectJob+` WHERE p.provider = ? AND j.transcription_job_id = ?`, provider, transcriptionJobID)
	current, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: transcription job %s", domain.ErrNotFound, transcriptionJobID)
		}
		return fmt.Errorf("failed to get job record: %w", err)
	}
	return fmt.Errorf("%w: transcription job %s is %s, not %s", domain.ErrConflict, transcriptionJobID, current.Status, from)
}

// Delete implements repositories.TranscriptionJobRepository
func (r *JobRepository) Delete(ctx context.Context, provider, transcriptionJobID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM transcription_job_control
		WHERE provider_id = (SELECT id FROM transcription_provider WHERE provider = ?)
		  AND transcription_job_id = ?`, provider, transcriptionJobID)
	if err != nil {
		return fmt.Errorf("failed to delete job record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: transcription job %s", domain.ErrNotFound, transcriptionJobID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(s scanner) (*entities.JobRecord, error) {
	var (
		id, providerID            int64
		status                    string
		duration, created, update int64
		record                    entities.JobRecord
	)
	err := s.Scan(
		&id,
		&record.MediaPackageID,
		&record.TrackID,
		&record.TranscriptionJobID,
		&providerID,
		&record.Provider,
		&status,
		&duration,
		&created,
		&update,
	)
	if err != nil {
		return nil, err
	}

	record.Status, err = entities.ParseJobStatus(status)
	if err != nil {
		return nil, err
	}
	record.ID = strconv.FormatInt(id, 10)
	record.ProviderID = strconv.FormatInt(providerID, 10)
	record.TrackDuration = time.Duration(duration) * time.Millisecond
	record.DateCreated = time.UnixMilli(created).UTC()
	record.DateUpdated = time.UnixMilli(update).UTC()
	return &record, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlitedriver.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
