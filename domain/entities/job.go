package entities

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus represents the lifecycle status of a transcription job record
type JobStatus string

const (
	JobStatusInProgress            JobStatus = "InProgress"
	JobStatusTranscriptionComplete JobStatus = "TranscriptionComplete"
	JobStatusClosed                JobStatus = "Closed"
	JobStatusError                 JobStatus = "Error"
	JobStatusCanceled              JobStatus = "Canceled"
)

// ErrInvalidTransition is returned when a status change is not allowed by the lifecycle
var ErrInvalidTransition = errors.New("invalid job status transition")

var transitions = map[JobStatus][]JobStatus{
	JobStatusInProgress:            {JobStatusTranscriptionComplete, JobStatusError, JobStatusCanceled},
	JobStatusTranscriptionComplete: {JobStatusClosed, JobStatusCanceled},
}

// ParseJobStatus converts a stored status string into a JobStatus
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(s); st {
	case JobStatusInProgress, JobStatusTranscriptionComplete, JobStatusClosed, JobStatusError, JobStatusCanceled:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// IsTerminal reports whether no further automatic transition happens except deletion
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusClosed || s == JobStatusError || s == JobStatusCanceled
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when from -> to is not allowed
func ValidateTransition(from, to JobStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Provider identifies a transcription provider that owns job records
type Provider struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// JobRecord is the durable record of a submitted transcription job.
// (Provider, TranscriptionJobID) is unique.
type JobRecord struct {
	ID                 string        `json:"id"`
	MediaPackageID     string        `json:"media_package_id"`
	TrackID            string        `json:"track_id"`
	TranscriptionJobID string        `json:"transcription_job_id"`
	ProviderID         string        `json:"provider_id"`
	Provider           string        `json:"provider"`
	Status             JobStatus     `json:"status"`
	TrackDuration      time.Duration `json:"track_duration"`
	DateCreated        time.Time     `json:"date_created"`
	DateUpdated        time.Time     `json:"date_updated"`
}

// NewJobRecord creates a record in InProgress status
func NewJobRecord(mediaPackageID, trackID, transcriptionJobID, provider string, duration time.Duration, now time.Time) *JobRecord {
	return &JobRecord{
		MediaPackageID:     mediaPackageID,
		TrackID:            trackID,
		TranscriptionJobID: transcriptionJobID,
		Provider:           provider,
		Status:             JobStatusInProgress,
		TrackDuration:      duration,
		DateCreated:        now,
		DateUpdated:        now,
	}
}

// Validate checks the record has everything the store needs
func (r *JobRecord) Validate() error {
	if r.MediaPackageID == "" {
		return errors.New("media package ID cannot be empty")
	}
	if r.TranscriptionJobID == "" {
		return errors.New("transcription job ID cannot be empty")
	}
	if r.Provider == "" {
		return errors.New("provider cannot be empty")
	}
	if _, err := ParseJobStatus(string(r.Status)); err != nil {
		return err
	}
	return nil
}

// TerminalSince returns the time the record reached its current status.
// Records without an update timestamp fall back to their creation time.
func (r *JobRecord) TerminalSince() time.Time {
	if r.DateUpdated.IsZero() {
		return r.DateCreated
	}
	return r.DateUpdated
}

// EligibleForCleanup reports whether a terminal record is strictly older than the retention window
func (r *JobRecord) EligibleForCleanup(now time.Time, retention time.Duration) bool {
	if !r.Status.IsTerminal() {
		return false
	}
	return now.Sub(r.TerminalSince()) > retention
}

// Track is a media track handed in for transcription
type Track struct {
	ID       string        `json:"id"`
	URI      string        `json:"uri"`
	Duration time.Duration `json:"duration"`
}

// JobEvent describes a status change of a job record
type JobEvent struct {
	TranscriptionJobID string
	MediaPackageID     string
	Provider           string
	From               JobStatus
	To                 JobStatus
	At                 time.Time
}
