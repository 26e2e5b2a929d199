package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/domain/entities"
	"github.com/satriahrh/azscribe/internal/dispatcher"
)

// Handlers returns the dispatcher handlers in pass order: poll running jobs,
// attach finished transcripts, purge expired records.
func (s *TranscriptionService) Handlers() []dispatcher.Handler {
	return []dispatcher.Handler{
		&pollHandler{s},
		&attachHandler{s},
		&cleanupHandler{s},
	}
}

// selectRecords returns this provider's records in the given statuses. It
// returns nothing while the service is disabled or before the provider has
// stored its first job.
func (s *TranscriptionService) selectRecords(ctx context.Context, statuses ...entities.JobStatus) ([]*entities.JobRecord, error) {
	if !s.config.Enabled {
		return nil, nil
	}
	provider, err := s.jobs.FindProvider(ctx, ProviderName)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Debug("No jobs yet for provider", zap.String("provider", ProviderName))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	records, err := s.jobs.FindByStatus(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	var out []*entities.JobRecord
	for _, r := range records {
		if r.ProviderID == provider.ID {
			out = append(out, r)
		}
	}
	return out, nil
}

type pollHandler struct{ s *TranscriptionService }

func (h *pollHandler) Name() string { return "poll" }

func (h *pollHandler) Select(ctx context.Context) ([]*entities.JobRecord, error) {
	return h.s.selectRecords(ctx, entities.JobStatusInProgress)
}

func (h *pollHandler) Handle(ctx context.Context, record *entities.JobRecord) error {
	transcription, err := h.s.speech.GetTranscription(ctx, record.TranscriptionJobID)
	if errors.Is(err, domain.ErrNotFound) {
		h.s.logger.Warn("Transcription no longer exists remotely",
			zap.String("mediaPackageId", record.MediaPackageID),
			zap.String("transcriptionJobId", record.TranscriptionJobID))
		return h.s.transition(ctx, record, entities.JobStatusError)
	}
	if err != nil {
		return fmt.Errorf("failed to get transcription: %w", err)
	}

	switch {
	case transcription.IsSucceeded():
		return h.s.transcriptionDone(ctx, record)
	case transcription.IsFailed():
		return h.s.transcriptionError(ctx, record, transcription)
	}
	return nil
}

func (s *TranscriptionService) transcriptionDone(ctx context.Context, record *entities.JobRecord) error {
	s.logger.Info("Transcription done",
		zap.String("mediaPackageId", record.MediaPackageID),
		zap.String("transcriptionJobId", record.TranscriptionJobID))

	if err := s.DeleteTranscriptionSourceFiles(ctx, record.MediaPackageID, record.TranscriptionJobID); err != nil {
		s.logger.Warn("Failed to delete source files after transcription done",
			zap.String("mediaPackageId", record.MediaPackageID), zap.Error(err))
	}
	if err := s.transition(ctx, record, entities.JobStatusTranscriptionComplete); err != nil {
		return fmt.Errorf("transcription succeeded but storing its status failed: %w", err)
	}
	return nil
}

func (s *TranscriptionService) transcriptionError(ctx context.Context, record *entities.JobRecord, transcription *entities.Transcription) error {
	code, message := transcription.ErrorDetail()
	s.logger.Info("Transcription failed",
		zap.String("mediaPackageId", record.MediaPackageID),
		zap.String("transcriptionJobId", record.TranscriptionJobID),
		zap.String("errorCode", code),
		zap.String("errorMessage", message))

	if err := s.DeleteTranscriptionSourceFiles(ctx, record.MediaPackageID, record.TranscriptionJobID); err != nil {
		s.logger.Warn("Failed to delete source files after transcription failure",
			zap.String("mediaPackageId", record.MediaPackageID), zap.Error(err))
	}
	if err := s.transition(ctx, record, entities.JobStatusError); err != nil {
		return fmt.Errorf("transcription failed and storing its status failed too: %w", err)
	}
	return nil
}

type attachHandler struct{ s *TranscriptionService }

func (h *attachHandler) Name() string { return "attach" }

func (h *attachHandler) Select(ctx context.Context) ([]*entities.JobRecord, error) {
	return h.s.selectRecords(ctx, entities.JobStatusTranscriptionComplete)
}

func (h *attachHandler) Handle(ctx context.Context, record *entities.JobRecord) error {
	s := h.s
	organization, err := s.assets.ResolveOrganization(ctx, record.MediaPackageID)
	if errors.Is(err, domain.ErrNotArchived) {
		s.logger.Warn("Media package has not been archived yet, skipped",
			zap.String("mediaPackageId", record.MediaPackageID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve organization: %w", err)
	}
	ctx = domain.WithOrganization(ctx, organization)

	transcription, err := s.speech.GetTranscription(ctx, record.TranscriptionJobID)
	if err != nil {
		return fmt.Errorf("failed to get transcription: %w", err)
	}
	doc, err := s.transcriptionDocument(ctx, transcription)
	if err != nil {
		return err
	}

	params := WorkflowParams(record.TranscriptionJobID, doc)
	workflowID, err := s.workflows.StartWorkflow(ctx, s.config.WorkflowDefinition, record.MediaPackageID, params)
	if err != nil {
		return fmt.Errorf("failed to start workflow %s: %w", s.config.WorkflowDefinition, err)
	}
	if workflowID == "" {
		s.logger.Warn("No workflow started, retrying next pass",
			zap.String("mediaPackageId", record.MediaPackageID),
			zap.String("transcriptionJobId", record.TranscriptionJobID))
		return nil
	}

	if err := s.transition(ctx, record, entities.JobStatusClosed); err != nil {
		return err
	}
	s.logger.Info("Attach transcription workflow scheduled",
		zap.String("workflowId", workflowID),
		zap.String("mediaPackageId", record.MediaPackageID),
		zap.String("organization", organization),
		zap.String("transcriptionJobId", record.TranscriptionJobID))
	return nil
}

// WorkflowParams returns the properties handed to the attach workflow
func WorkflowParams(transcriptionJobID string, doc *entities.TranscriptionDocument) map[string]string {
	locale := doc.RecognizedLocale
	language := doc.Language()
	suffix := func(v string) string {
		if v == "" {
			return ""
		}
		return "+" + v
	}
	return map[string]string{
		"transcriptionJobId":                 transcriptionJobID,
		"transcriptionLocale":                locale,
		"transcriptionLocaleSet":             strconv.FormatBool(locale != ""),
		"transcriptionLocaleSubtypeSuffix":   suffix(locale),
		"transcriptionLanguage":              language,
		"transcriptionLanguageSet":           strconv.FormatBool(language != ""),
		"transcriptionLanguageSubtypeSuffix": suffix(language),
	}
}

type cleanupHandler struct{ s *TranscriptionService }

func (h *cleanupHandler) Name() string { return "cleanup" }

func (h *cleanupHandler) Select(ctx context.Context) ([]*entities.JobRecord, error) {
	records, err := h.s.selectRecords(ctx, entities.JobStatusClosed, entities.JobStatusError, entities.JobStatusCanceled)
	if err != nil {
		return nil, err
	}
	now := h.s.clock.Now()
	var expired []*entities.JobRecord
	for _, r := range records {
		if r.EligibleForCleanup(now, h.s.config.Retention) {
			expired = append(expired, r)
		}
	}
	return expired, nil
}

func (h *cleanupHandler) Handle(ctx context.Context, record *entities.JobRecord) error {
	return h.s.purge(ctx, record)
}
