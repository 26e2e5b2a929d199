// Package repotest holds behaviour tests shared by every TranscriptionJobRepository implementation.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/domain/entities"
	"github.com/satriahrh/azscribe/domain/repositories"
)

const provider = "microsoft-azure-speech-services"

// base is millisecond aligned so every store round-trips it exactly
var base = time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)

// Run executes the contract against fresh repositories created by newRepo
func Run(t *testing.T, newRepo func(t *testing.T) repositories.TranscriptionJobRepository) {
	tests := []struct {
		name string
		fn   func(t *testing.T, repo repositories.TranscriptionJobRepository)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateDuplicate", testCreateDuplicate},
		{"CreateInvalid", testCreateInvalid},
		{"GetMissing", testGetMissing},
		{"FindProvider", testFindProvider},
		{"FindByStatus", testFindByStatus},
		{"UpdateStatus", testUpdateStatus},
		{"UpdateStatusRejected", testUpdateStatusRejected},
		{"Delete", testDelete},
		{"ProviderScoped", testProviderScoped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newRepo(t))
		})
	}
}

func newRecord(jobID string, created time.Time) *entities.JobRecord {
	return entities.NewJobRecord("mp-"+jobID, "track-"+jobID, jobID, provider, 90*time.Second, created)
}

func mustCreate(t *testing.T, repo repositories.TranscriptionJobRepository, record *entities.JobRecord) {
	t.Helper()
	if err := repo.Create(context.Background(), record); err != nil {
		t.Fatalf("Failed to create record %s: %v", record.TranscriptionJobID, err)
	}
}

func testCreateAndGet(t *testing.T, repo repositories.TranscriptionJobRepository) {
	record := newRecord("job-1", base)
	mustCreate(t, repo, record)

	if record.ID == "" || record.ProviderID == "" {
		t.Errorf("Expected ID and provider ID to be assigned, got %+v", record)
	}

	got, err := repo.GetByTranscriptionJobID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Failed to get record: %v", err)
	}
	if got.MediaPackageID != "mp-job-1" || got.TrackID != "track-job-1" || got.Provider != provider {
		t.Errorf("Unexpected record %+v", got)
	}
	if got.Status != entities.JobStatusInProgress {
		t.Errorf("Expected InProgress, got %s", got.Status)
	}
	if got.TrackDuration != 90*time.Second {
		t.Errorf("Expected track duration 90s, got %v", got.TrackDuration)
	}
	if !got.DateCreated.Equal(base) {
		t.Errorf("Expected date created %v, got %v", base, got.DateCreated)
	}
	if got.ProviderID != record.ProviderID {
		t.Errorf("Expected provider ID %s, got %s", record.ProviderID, got.ProviderID)
	}
}

func testCreateDuplicate(t *testing.T, repo repositories.TranscriptionJobRepository) {
	mustCreate(t, repo, newRecord("job-1", base))

	err := repo.Create(context.Background(), newRecord("job-1", base.Add(time.Minute)))
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
}

func testCreateInvalid(t *testing.T, repo repositories.TranscriptionJobRepository) {
	record := newRecord("", base)
	if err := repo.Create(context.Background(), record); err == nil {
		t.Error("Expected error for record without transcription job ID")
	}
}

func testGetMissing(t *testing.T, repo repositories.TranscriptionJobRepository) {
	_, err := repo.GetByTranscriptionJobID(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func testFindProvider(t *testing.T, repo repositories.TranscriptionJobRepository) {
	ctx := context.Background()
	if _, err := repo.FindProvider(ctx, provider); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound before any job, got %v", err)
	}

	first := newRecord("job-1", base)
	mustCreate(t, repo, first)
	second := newRecord("job-2", base)
	mustCreate(t, repo, second)

	p, err := repo.FindProvider(ctx, provider)
	if err != nil {
		t.Fatalf("Failed to find provider: %v", err)
	}
	if p.Name != provider || p.ID != first.ProviderID || p.ID != second.ProviderID {
		t.Errorf("Unexpected provider %+v", p)
	}
}

func testFindByStatus(t *testing.T, repo repositories.TranscriptionJobRepository) {
	ctx := context.Background()
	mustCreate(t, repo, newRecord("job-c", base.Add(2*time.Minute)))
	mustCreate(t, repo, newRecord("job-a", base))
	mustCreate(t, repo, newRecord("job-b", base.Add(time.Minute)))

	if err := repo.UpdateStatus(ctx, provider, "job-b", entities.JobStatusInProgress, entities.JobStatusError, base.Add(time.Hour)); err != nil {
		t.Fatalf("Failed to update status: %v", err)
	}

	inProgress, err := repo.FindByStatus(ctx, entities.JobStatusInProgress)
	if err != nil {
		t.Fatalf("Failed to find records: %v", err)
	}
	if ids := jobIDs(inProgress); ids != "job-a,job-c" {
		t.Errorf("Expected job-a,job-c, got %s", ids)
	}

	all, err := repo.FindByStatus(ctx, entities.JobStatusInProgress, entities.JobStatusError)
	if err != nil {
		t.Fatalf("Failed to find records: %v", err)
	}
	if ids := jobIDs(all); ids != "job-a,job-b,job-c" {
		t.Errorf("Expected records oldest first, got %s", ids)
	}

	none, err := repo.FindByStatus(ctx, entities.JobStatusClosed)
	if err != nil {
		t.Fatalf("Failed to find records: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no closed records, got %d", len(none))
	}
}

func testUpdateStatus(t *testing.T, repo repositories.TranscriptionJobRepository) {
	ctx := context.Background()
	mustCreate(t, repo, newRecord("job-1", base))

	at := base.Add(3 * time.Hour)
	if err := repo.UpdateStatus(ctx, provider, "job-1", entities.JobStatusInProgress, entities.JobStatusTranscriptionComplete, at); err != nil {
		t.Fatalf("Failed to update status: %v", err)
	}

	got, err := repo.GetByTranscriptionJobID(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failed to get record: %v", err)
	}
	if got.Status != entities.JobStatusTranscriptionComplete {
		t.Errorf("Expected TranscriptionComplete, got %s", got.Status)
	}
	if !got.DateUpdated.Equal(at) {
		t.Errorf("Expected date updated %v, got %v", at, got.DateUpdated)
	}
	if !got.DateCreated.Equal(base) {
		t.Errorf("Expected date created to be kept, got %v", got.DateCreated)
	}
}

func testUpdateStatusRejected(t *testing.T, repo repositories.TranscriptionJobRepository) {
	ctx := context.Background()
	mustCreate(t, repo, newRecord("job-1", base))

	err := repo.UpdateStatus(ctx, provider, "job-1", entities.JobStatusInProgress, entities.JobStatusClosed, base)
	if !errors.Is(err, entities.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for InProgress -> Closed, got %v", err)
	}

	err = repo.UpdateStatus(ctx, provider, "job-1", entities.JobStatusTranscriptionComplete, entities.JobStatusClosed, base)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Expected ErrConflict for stale status, got %v", err)
	}

	err = repo.UpdateStatus(ctx, provider, "missing", entities.JobStatusInProgress, entities.JobStatusError, base)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	got, err := repo.GetByTranscriptionJobID(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failed to get record: %v", err)
	}
	if got.Status != entities.JobStatusInProgress {
		t.Errorf("Expected status to be unchanged, got %s", got.Status)
	}
}

func testDelete(t *testing.T, repo repositories.TranscriptionJobRepository) {
	ctx := context.Background()
	mustCreate(t, repo, newRecord("job-1", base))

	if err := repo.Delete(ctx, provider, "job-1"); err != nil {
		t.Fatalf("Failed to delete record: %v", err)
	}
	if _, err := repo.GetByTranscriptionJobID(ctx, "job-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := repo.Delete(ctx, provider, "job-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
	}

	// the pair can be used again once deleted
	mustCreate(t, repo, newRecord("job-1", base))
}

func testProviderScoped(t *testing.T, repo repositories.TranscriptionJobRepository) {
	ctx := context.Background()
	mustCreate(t, repo, newRecord("job-1", base))
	other := entities.NewJobRecord("mp-other", "track-other", "job-1", "other-provider", time.Minute, base.Add(time.Minute))
	mustCreate(t, repo, other)

	if err := repo.UpdateStatus(ctx, provider, "job-1", entities.JobStatusInProgress, entities.JobStatusError, base.Add(time.Hour)); err != nil {
		t.Fatalf("Failed to update status: %v", err)
	}
	inProgress, err := repo.FindByStatus(ctx, entities.JobStatusInProgress)
	if err != nil {
		t.Fatalf("Failed to find records: %v", err)
	}
	if len(inProgress) != 1 || inProgress[0].Provider != "other-provider" {
		t.Fatalf("Expected only the other provider's record to stay in progress, got %+v", inProgress)
	}

	if err := repo.Delete(ctx, "other-provider", "job-1"); err != nil {
		t.Fatalf("Failed to delete record: %v", err)
	}
	failed, err := repo.FindByStatus(ctx, entities.JobStatusError)
	if err != nil {
		t.Fatalf("Failed to find records: %v", err)
	}
	if len(failed) != 1 || failed[0].Provider != provider {
		t.Errorf("Expected this provider's record to survive, got %+v", failed)
	}

	if err := repo.Delete(ctx, "unknown-provider", "job-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown provider, got %v", err)
	}
	err = repo.UpdateStatus(ctx, "unknown-provider", "job-1", entities.JobStatusInProgress, entities.JobStatusError, base)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown provider, got %v", err)
	}
}

func jobIDs(records []*entities.JobRecord) string {
	s := ""
	for i, r := range records {
		if i > 0 {
			s += ","
		}
		s += r.TranscriptionJobID
	}
	return s
}
