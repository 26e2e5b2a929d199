package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/satriahrh/azscribe/domain/entities"
	"github.com/satriahrh/azscribe/domain/repositories"
	"github.com/satriahrh/azscribe/domain/repositories/repotest"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "jobs", "transcriptions.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestJobRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repositories.TranscriptionJobRepository {
		return NewJobRepository(openTestDB(t))
	})
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcriptions.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	created := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	record := entities.NewJobRecord("mp", "track", "job", "provider", time.Minute, created)
	if err := NewJobRepository(db).Create(context.Background(), record); err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}
	db.Close()

	// reopening runs the schema again and keeps existing rows
	db, err = Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db.Close()

	got, err := NewJobRepository(db).GetByTranscriptionJobID(context.Background(), "job")
	if err != nil {
		t.Fatalf("Failed to get record after reopen: %v", err)
	}
	if !got.DateCreated.Equal(created) || got.TrackDuration != time.Minute {
		t.Errorf("Unexpected record %+v", got)
	}
}
