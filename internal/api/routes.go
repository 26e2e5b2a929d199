package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/azscribe/domain/entities"
	"github.com/satriahrh/azscribe/internal/auth"
	"github.com/satriahrh/azscribe/internal/caption"
	"github.com/satriahrh/azscribe/internal/dispatcher"
	"github.com/satriahrh/azscribe/internal/websocket"
)

const serviceName = "azscribe"

// TranscriptionService is the part of the orchestrator exposed over HTTP
type TranscriptionService interface {
	Enabled() bool
	StartTranscription(ctx context.Context, mediaPackageID string, track entities.Track, language string) (string, error)
	ListJobs(ctx context.Context, statuses ...entities.JobStatus) ([]*entities.JobRecord, error)
	GetJob(ctx context.Context, transcriptionJobID string) (*entities.JobRecord, error)
	GetGeneratedTranscription(ctx context.Context, mediaPackageID, transcriptionJobID string, format caption.Format) (*entities.CaptionAttachment, error)
	CancelTranscription(ctx context.Context, transcriptionJobID string) (*entities.JobRecord, error)
	DeleteTranscription(ctx context.Context, mediaPackageID, transcriptionJobID string) error
}

// PassRunner runs one dispatcher pass on demand
type PassRunner interface {
	RunOnce(ctx context.Context) (dispatcher.Stats, error)
}

// Dependencies bundles what the routes need. Only the health check is
// registered when Service or Issuer is nil.
type Dependencies struct {
	Service    TranscriptionService
	Dispatcher PassRunner
	Hub        *websocket.Hub
	Issuer     *auth.Issuer
}

type handler struct {
	service    TranscriptionService
	dispatcher PassRunner
	hub        *websocket.Hub
	logger     *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	enabled := deps.Service != nil && deps.Issuer != nil && deps.Service.Enabled()

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:               "ok",
			Service:              serviceName,
			TranscriptionEnabled: enabled,
		})
	})

	if deps.Service == nil || deps.Issuer == nil {
		logger.Warn("Transcription routes not registered, service is disabled")
		return
	}

	h := &handler{
		service:    deps.Service,
		dispatcher: deps.Dispatcher,
		hub:        deps.Hub,
		logger:     logger,
	}
	requireOperator := RequireOperator(deps.Issuer, logger)

	// API v1 routes
	v1 := e.Group("/api/v1", requireOperator)

	v1.POST("/transcriptions", h.startTranscription)
	v1.GET("/transcriptions", h.listTranscriptions)
	v1.GET("/transcriptions/:id", h.getTranscription)
	v1.GET("/transcriptions/:id/captions", h.getCaptions)
	v1.POST("/transcriptions/:id/cancel", h.cancelTranscription)
	v1.DELETE("/transcriptions/:id", h.deleteTranscription)

	if h.dispatcher != nil {
		v1.POST("/dispatch", h.dispatch)
	}

	// WebSocket job event feed
	if h.hub != nil {
		e.GET("/ws", func(c echo.Context) error {
			return websocket.HandleWebSocket(h.hub, c, subject(c), logger)
		}, requireOperator)
	}
}

func (h *handler) startTranscription(c echo.Context) error {
	var req StartTranscriptionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.MediaPackageID == "" || req.Track.URI == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "media_package_id and track.uri are required",
		})
	}

	track := entities.Track{
		ID:       req.Track.ID,
		URI:      req.Track.URI,
		Duration: time.Duration(req.Track.DurationMS) * time.Millisecond,
	}
	id, err := h.service.StartTranscription(c.Request().Context(), req.MediaPackageID, track, req.Language)
	if err != nil {
		return respondError(c, err, h.logger)
	}

	h.logger.Info("Transcription submitted",
		zap.String("subject", subject(c)),
		zap.String("mediaPackageId", req.MediaPackageID),
		zap.String("transcriptionJobId", id))

	return c.JSON(http.StatusAccepted, StartTranscriptionResponse{
		TranscriptionJobID: id,
		Status:             string(entities.JobStatusInProgress),
	})
}

func (h *handler) listTranscriptions(c echo.Context) error {
	statuses, err := parseStatuses(c.QueryParam("status"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_status", Message: err.Error()})
	}

	records, err := h.service.ListJobs(c.Request().Context(), statuses...)
	if err != nil {
		return respondError(c, err, h.logger)
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(records))}
	for _, r := range records {
		resp.Jobs = append(resp.Jobs, newJobResponse(r))
	}
	resp.Count = len(resp.Jobs)
	return c.JSON(http.StatusOK, resp)
}

func parseStatuses(raw string) ([]entities.JobStatus, error) {
	var statuses []entities.JobStatus
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		status, err := entities.ParseJobStatus(s)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (h *handler) getTranscription(c echo.Context) error {
	record, err := h.service.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err, h.logger)
	}
	return c.JSON(http.StatusOK, newJobResponse(record))
}

func (h *handler) getCaptions(c echo.Context) error {
	format, err := caption.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_format", Message: err.Error()})
	}

	ctx := c.Request().Context()
	record, err := h.service.GetJob(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err, h.logger)
	}

	attachment, err := h.service.GetGeneratedTranscription(ctx, record.MediaPackageID, record.TranscriptionJobID, format)
	if err != nil {
		return respondError(c, err, h.logger)
	}
	return c.JSON(http.StatusOK, attachment)
}

func (h *handler) cancelTranscription(c echo.Context) error {
	record, err := h.service.CancelTranscription(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err, h.logger)
	}
	h.logger.Info("Transcription canceled",
		zap.String("subject", subject(c)),
		zap.String("transcriptionJobId", record.TranscriptionJobID))
	return c.JSON(http.StatusOK, newJobResponse(record))
}

func (h *handler) deleteTranscription(c echo.Context) error {
	ctx := c.Request().Context()
	record, err := h.service.GetJob(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err, h.logger)
	}
	if err := h.service.DeleteTranscription(ctx, record.MediaPackageID, record.TranscriptionJobID); err != nil {
		return respondError(c, err, h.logger)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) dispatch(c echo.Context) error {
	stats, err := h.dispatcher.RunOnce(c.Request().Context())
	if errors.Is(err, dispatcher.ErrPassRunning) {
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "pass_running", Message: err.Error()})
	}
	if err != nil {
		return respondError(c, fmt.Errorf("dispatcher pass: %w", err), h.logger)
	}
	return c.JSON(http.StatusOK, stats)
}
