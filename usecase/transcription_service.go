package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/domain/entities"
	"github.com/satriahrh/azscribe/domain/repositories"
	"github.com/satriahrh/azscribe/internal/caption"
	"github.com/satriahrh/azscribe/internal/saga"
)

// ProviderName is the provider every record of this service is stored under
const ProviderName = "microsoft-azure-speech-services"

// TranscriptionConfig holds the settings of the transcription service
type TranscriptionConfig struct {
	Enabled            bool
	Container          string
	BlobPath           string
	Language           string
	CandidateLocales   []string
	TimeToLive         time.Duration
	WorkflowDefinition string
	Retention          time.Duration
	CaptionFormat      caption.Format
	Caption            caption.Options
}

// Dependencies bundles the collaborators of TranscriptionService
type Dependencies struct {
	Jobs      repositories.TranscriptionJobRepository
	Blobs     repositories.BlobStore
	Speech    repositories.SpeechService
	Workspace repositories.Workspace
	Assets    repositories.AssetResolver
	Workflows repositories.WorkflowLauncher
	Events    repositories.EventPublisher
}

// TranscriptionService submits tracks for transcription and advances the
// resulting job records until they are attached and purged.
type TranscriptionService struct {
	jobs      repositories.TranscriptionJobRepository
	blobs     repositories.BlobStore
	speech    repositories.SpeechService
	workspace repositories.Workspace
	assets    repositories.AssetResolver
	workflows repositories.WorkflowLauncher
	events    repositories.EventPublisher

	config  TranscriptionConfig
	saga    *saga.Runner
	clock   clock.Clock
	logger  *zap.Logger
	newUUID func() string
}

// NewTranscriptionService creates the orchestrator
func NewTranscriptionService(deps Dependencies, config TranscriptionConfig, clk clock.Clock, logger *zap.Logger) *TranscriptionService {
	if clk == nil {
		clk = clock.New()
	}
	if deps.Events == nil {
		deps.Events = repositories.NopPublisher{}
	}
	if config.Retention <= 0 {
		config.Retention = 7 * 24 * time.Hour
	}
	if config.CaptionFormat == "" {
		config.CaptionFormat = caption.FormatWebVTT
	}
	return &TranscriptionService{
		jobs:      deps.Jobs,
		blobs:     deps.Blobs,
		speech:    deps.Speech,
		workspace: deps.Workspace,
		assets:    deps.Assets,
		workflows: deps.Workflows,
		events:    deps.Events,
		config:    config,
		saga:      saga.NewRunner(logger),
		clock:     clk,
		logger:    logger,
		newUUID:   uuid.NewString,
	}
}

// Enabled reports whether the service accepts work
func (s *TranscriptionService) Enabled() bool {
	return s.config.Enabled
}

// StartTranscription uploads the track, creates the remote job and stores its
// record. Nothing is left behind remotely when any step fails.
func (s *TranscriptionService) StartTranscription(ctx context.Context, mediaPackageID string, track entities.Track, language string) (string, error) {
	if !s.config.Enabled {
		return "", domain.ErrDisabled
	}
	if strings.TrimSpace(mediaPackageID) == "" {
		return "", fmt.Errorf("%w: media package ID cannot be empty", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(track.URI) == "" {
		return "", fmt.Errorf("%w: track URI cannot be empty", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(language) == "" {
		language = s.config.Language
	}

	uploadID := s.newUUID()
	data := saga.SagaData{}

	steps := []saga.Step{
		saga.StepFunc{
			Name: "fetch-track",
			Do: func(ctx context.Context, data saga.SagaData) error {
				localPath, err := s.workspace.Get(ctx, track.URI)
				if err != nil {
					return fmt.Errorf("failed to get track %s: %w", track.URI, err)
				}
				data["localPath"] = localPath
				return nil
			},
		},
		saga.StepFunc{
			Name: "prepare-container",
			Do: func(ctx context.Context, data saga.SagaData) error {
				if err := s.blobs.CreateContainer(ctx, s.config.Container); err != nil {
					return fmt.Errorf("failed to create container %s: %w", s.config.Container, err)
				}
				return nil
			},
		},
		saga.StepFunc{
			Name: "upload-track",
			Do: func(ctx context.Context, data saga.SagaData) error {
				localPath := data.String("localPath")
				name := uploadName(uploadID, mediaPackageID, localPath)
				blobURL, err := s.blobs.UploadFile(ctx, localPath, s.config.Container, s.config.BlobPath, name)
				if err != nil {
					return fmt.Errorf("failed to upload track %s: %w", track.URI, err)
				}
				data["blobURL"] = blobURL
				return nil
			},
			Undo: func(ctx context.Context, data saga.SagaData) error {
				return s.blobs.DeleteFile(ctx, data.String("blobURL"))
			},
		},
		saga.StepFunc{
			Name: "create-job",
			Do: func(ctx context.Context, data saga.SagaData) error {
				destination, err := s.blobs.ContainerWriteURL(s.config.Container)
				if err != nil {
					return err
				}
				transcription, err := s.speech.CreateTranscription(ctx, repositories.CreateTranscriptionRequest{
					ContentURLs:             []string{data.String("blobURL")},
					DestinationContainerURL: destination,
					DisplayName:             "Transcription job " + uploadID,
					Locale:                  language,
					CandidateLocales:        s.config.CandidateLocales,
					TimeToLive:              s.config.TimeToLive,
				})
				if err != nil {
					return fmt.Errorf("failed to create transcription for media package %s: %w", mediaPackageID, err)
				}
				data["transcriptionJobId"] = transcription.ID()
				return nil
			},
			Undo: func(ctx context.Context, data saga.SagaData) error {
				err := s.speech.DeleteTranscription(ctx, data.String("transcriptionJobId"))
				if errors.Is(err, domain.ErrNotFound) {
					return nil
				}
				return err
			},
		},
		saga.StepFunc{
			Name: "store-record",
			Do: func(ctx context.Context, data saga.SagaData) error {
				record := entities.NewJobRecord(mediaPackageID, track.ID, data.String("transcriptionJobId"),
					ProviderName, track.Duration, s.clock.Now())
				if err := s.jobs.Create(ctx, record); err != nil {
					return fmt.Errorf("failed to store transcription job: %w", err)
				}
				data["record"] = record
				return nil
			},
		},
	}

	if _, err := s.saga.Run(ctx, "start-transcription", data, steps...); err != nil {
		return "", err
	}

	record := data["record"].(*entities.JobRecord)
	s.logger.Info("Started transcription",
		zap.String("mediaPackageId", mediaPackageID),
		zap.String("trackUri", track.URI),
		zap.String("transcriptionJobId", record.TranscriptionJobID),
		zap.String("language", language))
	s.publish(record, "", entities.JobStatusInProgress, record.DateCreated)

	return record.TranscriptionJobID, nil
}

// uploadName returns {id}-{mediaPackageId}.{ext}
func uploadName(id, mediaPackageID, localPath string) string {
	name := id + "-" + mediaPackageID
	if ext := filepath.Ext(localPath); ext != "" {
		name += ext
	}
	return name
}

// GetGeneratedTranscription converts the transcript of a succeeded job into a
// caption file, stores it in the workspace and returns its attachment.
func (s *TranscriptionService) GetGeneratedTranscription(ctx context.Context, mediaPackageID, transcriptionJobID string, format caption.Format) (*entities.CaptionAttachment, error) {
	if !s.config.Enabled {
		return nil, domain.ErrDisabled
	}
	if format == "" {
		format = s.config.CaptionFormat
	}

	transcription, err := s.speech.GetTranscription(ctx, transcriptionJobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcription %s for media package %s: %w", transcriptionJobID, mediaPackageID, err)
	}
	doc, err := s.transcriptionDocument(ctx, transcription)
	if err != nil {
		return nil, fmt.Errorf("media package %s: %w", mediaPackageID, err)
	}

	content, err := caption.Convert(doc, format, s.config.Caption)
	if err != nil {
		return nil, fmt.Errorf("failed to render captions: %w", err)
	}

	uri, err := s.workspace.Put(ctx, mediaPackageID, s.newUUID(), transcriptionJobID+format.Extension(), bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to store captions for media package %s: %w", mediaPackageID, err)
	}

	return &entities.CaptionAttachment{
		URI:      uri,
		Flavor:   format.Flavor(),
		MimeType: format.MimeType(),
		Locale:   doc.RecognizedLocale,
	}, nil
}

// transcriptionDocument downloads the transcript of a succeeded job
func (s *TranscriptionService) transcriptionDocument(ctx context.Context, transcription *entities.Transcription) (*entities.TranscriptionDocument, error) {
	switch {
	case transcription.IsRunning():
		return nil, fmt.Errorf("%w: transcription %s is currently running", domain.ErrNotReady, transcription.ID())
	case transcription.IsFailed():
		return nil, fmt.Errorf("%w: transcription %s failed", domain.ErrNotReady, transcription.ID())
	}

	files, err := s.speech.GetTranscriptionFiles(ctx, transcription.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to get transcription files %s: %w", transcription.ID(), err)
	}
	for _, file := range files.Values {
		if !file.IsTranscription() {
			continue
		}
		doc, err := s.speech.GetTranscriptionDocument(ctx, file)
		if err != nil {
			return nil, fmt.Errorf("failed to download transcription file %s: %w", file.Self, err)
		}
		return doc, nil
	}
	return nil, fmt.Errorf("%w: transcription %s has no transcription file", domain.ErrNotFound, transcription.ID())
}

// GetJob returns the record of a transcription job
func (s *TranscriptionService) GetJob(ctx context.Context, transcriptionJobID string) (*entities.JobRecord, error) {
	return s.jobs.GetByTranscriptionJobID(ctx, transcriptionJobID)
}

// ListJobs returns the records in the given statuses, all statuses when none are given
func (s *TranscriptionService) ListJobs(ctx context.Context, statuses ...entities.JobStatus) ([]*entities.JobRecord, error) {
	if len(statuses) == 0 {
		statuses = []entities.JobStatus{
			entities.JobStatusInProgress,
			entities.JobStatusTranscriptionComplete,
			entities.JobStatusClosed,
			entities.JobStatusError,
			entities.JobStatusCanceled,
		}
	}
	return s.jobs.FindByStatus(ctx, statuses...)
}

// CancelTranscription marks a job Canceled. Only jobs that have not reached a
// terminal status can be canceled.
func (s *TranscriptionService) CancelTranscription(ctx context.Context, transcriptionJobID string) (*entities.JobRecord, error) {
	record, err := s.jobs.GetByTranscriptionJobID(ctx, transcriptionJobID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, record, entities.JobStatusCanceled); err != nil {
		return nil, err
	}
	s.logger.Info("Canceled transcription",
		zap.String("mediaPackageId", record.MediaPackageID),
		zap.String("transcriptionJobId", transcriptionJobID))
	return record, nil
}

// DeleteTranscription removes the source files, the remote job and the record
// of a job in a terminal status.
func (s *TranscriptionService) DeleteTranscription(ctx context.Context, mediaPackageID, transcriptionJobID string) error {
	record, err := s.jobs.GetByTranscriptionJobID(ctx, transcriptionJobID)
	if err != nil {
		return err
	}
	if mediaPackageID != "" && record.MediaPackageID != mediaPackageID {
		return fmt.Errorf("%w: transcription %s does not belong to media package %s", domain.ErrNotFound, transcriptionJobID, mediaPackageID)
	}
	if !record.Status.IsTerminal() {
		return fmt.Errorf("%w: abort deleting transcription %s with status %s", domain.ErrConflict, transcriptionJobID, record.Status)
	}
	return s.purge(ctx, record)
}

func (s *TranscriptionService) purge(ctx context.Context, record *entities.JobRecord) error {
	if err := s.DeleteTranscriptionSourceFiles(ctx, record.MediaPackageID, record.TranscriptionJobID); err != nil {
		return err
	}
	if err := s.speech.DeleteTranscription(ctx, record.TranscriptionJobID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to delete transcription %s for media package %s: %w", record.TranscriptionJobID, record.MediaPackageID, err)
	}
	if err := s.jobs.Delete(ctx, record.Provider, record.TranscriptionJobID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to delete transcription job record %s: %w", record.TranscriptionJobID, err)
	}
	s.logger.Info("Deleted transcription",
		zap.String("mediaPackageId", record.MediaPackageID),
		zap.String("transcriptionJobId", record.TranscriptionJobID),
		zap.String("status", string(record.Status)))
	return nil
}

// DeleteTranscriptionSourceFiles deletes the uploaded media of a job. The blobs
// are found through the remote job's content URLs and the source recorded in
// its transcription files, so nothing has to be remembered locally. A remote
// job or file that no longer exists is skipped.
func (s *TranscriptionService) DeleteTranscriptionSourceFiles(ctx context.Context, mediaPackageID, transcriptionJobID string) error {
	sources := make(map[string]struct{})
	var ordered []string
	add := func(u string) {
		if u = strings.TrimSpace(u); u == "" {
			return
		}
		if _, ok := sources[u]; !ok {
			sources[u] = struct{}{}
			ordered = append(ordered, u)
		}
	}

	transcription, err := s.speech.GetTranscription(ctx, transcriptionJobID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.logger.Debug("Transcription already deleted, no source files to delete",
			zap.String("mediaPackageId", mediaPackageID),
			zap.String("transcriptionJobId", transcriptionJobID))
		return nil
	case err != nil:
		return fmt.Errorf("failed to get transcription %s for media package %s: %w", transcriptionJobID, mediaPackageID, err)
	}
	for _, u := range transcription.ContentURLs {
		add(u)
	}

	files, err := s.speech.GetTranscriptionFiles(ctx, transcriptionJobID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return fmt.Errorf("failed to get transcription files %s for media package %s: %w", transcriptionJobID, mediaPackageID, err)
	default:
		for _, file := range files.Values {
			if !file.IsTranscription() {
				continue
			}
			doc, err := s.speech.GetTranscriptionDocument(ctx, file)
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.Debug("Transcription file already deleted", zap.String("file", file.Self))
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to download transcription file %s for media package %s: %w", file.Self, mediaPackageID, err)
			}
			add(doc.Source)
		}
	}

	for _, u := range ordered {
		if err := s.blobs.DeleteFile(ctx, u); err != nil {
			return fmt.Errorf("failed to delete source file of media package %s: %w", mediaPackageID, err)
		}
	}
	return nil
}

// transition moves record to status and publishes the change
func (s *TranscriptionService) transition(ctx context.Context, record *entities.JobRecord, to entities.JobStatus) error {
	from := record.Status
	at := s.clock.Now()
	if err := s.jobs.UpdateStatus(ctx, record.Provider, record.TranscriptionJobID, from, to, at); err != nil {
		return err
	}
	record.Status = to
	record.DateUpdated = at
	s.publish(record, from, to, at)
	return nil
}

func (s *TranscriptionService) publish(record *entities.JobRecord, from, to entities.JobStatus, at time.Time) {
	s.events.Publish(entities.JobEvent{
		TranscriptionJobID: record.TranscriptionJobID,
		MediaPackageID:     record.MediaPackageID,
		Provider:           record.Provider,
		From:               from,
		To:                 to,
		At:                 at,
	})
}
