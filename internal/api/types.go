package api

import (
	"time"

	"github.com/satriahrh/azscribe/domain/entities"
)

// StartTranscriptionRequest represents the request payload for submitting a track
type StartTranscriptionRequest struct {
	MediaPackageID string       `json:"media_package_id"`
	Track          TrackRequest `json:"track"`
	Language       string       `json:"language,omitempty"`
}

// TrackRequest describes the track to transcribe
type TrackRequest struct {
	ID         string `json:"id"`
	URI        string `json:"uri"`
	DurationMS int64  `json:"duration_ms"`
}

// StartTranscriptionResponse represents the response payload for a submitted track
type StartTranscriptionResponse struct {
	TranscriptionJobID string `json:"transcription_job_id"`
	Status             string `json:"status"`
}

// JobResponse represents one transcription job record
type JobResponse struct {
	TranscriptionJobID string    `json:"transcription_job_id"`
	MediaPackageID     string    `json:"media_package_id"`
	TrackID            string    `json:"track_id"`
	Provider           string    `json:"provider"`
	Status             string    `json:"status"`
	TrackDurationMS    int64     `json:"track_duration_ms"`
	DateCreated        time.Time `json:"date_created"`
	DateUpdated        time.Time `json:"date_updated"`
}

func newJobResponse(r *entities.JobRecord) JobResponse {
	return JobResponse{
		TranscriptionJobID: r.TranscriptionJobID,
		MediaPackageID:     r.MediaPackageID,
		TrackID:            r.TrackID,
		Provider:           r.Provider,
		Status:             string(r.Status),
		TrackDurationMS:    r.TrackDuration.Milliseconds(),
		DateCreated:        r.DateCreated,
		DateUpdated:        r.DateUpdated,
	}
}

// ListJobsResponse represents a list of transcription job records
type ListJobsResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

// HealthResponse represents the health check payload
type HealthResponse struct {
	Status               string `json:"status"`
	Service              string `json:"service"`
	TranscriptionEnabled bool   `json:"transcription_enabled"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
