package repositories

import (
	"context"
	"io"
	"time"

	"github.com/satriahrh/azscribe/domain/entities"
)

// TranscriptionJobRepository defines data access methods for transcription job records
type TranscriptionJobRepository interface {
	// Create stores a new record and registers its provider if needed.
	// Returns domain.ErrDuplicate when (provider, transcription job id) already exists.
	Create(ctx context.Context, record *entities.JobRecord) error
	// GetByTranscriptionJobID returns domain.ErrNotFound when no record exists
	GetByTranscriptionJobID(ctx context.Context, transcriptionJobID string) (*entities.JobRecord, error)
	// FindByStatus returns all records in any of the given statuses, oldest first
	FindByStatus(ctx context.Context, statuses ...entities.JobStatus) ([]*entities.JobRecord, error)
	// FindProvider returns domain.ErrNotFound when the provider has never stored a job
	FindProvider(ctx context.Context, name string) (*entities.Provider, error)
	// UpdateStatus moves the provider's record from one status to another and
	// stamps DateUpdated with at. It fails with entities.ErrInvalidTransition for
	// transitions the lifecycle forbids and with domain.ErrConflict when the
	// record is no longer in status from.
	UpdateStatus(ctx context.Context, provider, transcriptionJobID string, from, to entities.JobStatus, at time.Time) error
	// Delete removes the provider's record; returns domain.ErrNotFound when it does not exist
	Delete(ctx context.Context, provider, transcriptionJobID string) error
}

// BlobStore abstracts the cloud blob storage the source media is uploaded to
type BlobStore interface {
	// CreateContainer creates the container if it does not exist yet
	CreateContainer(ctx context.Context, container string) error
	// UploadFile uploads a local file and returns the blob URL
	UploadFile(ctx context.Context, localPath, container, blobPath, name string) (string, error)
	// DeleteFile deletes a blob; deleting a missing blob succeeds
	DeleteFile(ctx context.Context, blobURL string) error
	// ContainerWriteURL returns the container URL carrying a create+write token
	ContainerWriteURL(container string) (string, error)
}

// Workspace is the local media cache supplying source files and accepting caption files
type Workspace interface {
	// Get returns a local file path for the given track URI
	Get(ctx context.Context, uri string) (string, error)
	// Put stores content for a media package and returns its URI
	Put(ctx context.Context, mediaPackageID, elementID, filename string, content io.Reader) (string, error)
}
