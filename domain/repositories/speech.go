package repositories

import (
	"context"
	"time"

	"github.com/satriahrh/azscribe/domain/entities"
)

// SpeechService abstracts the remote batch transcription API
type SpeechService interface {
	ListTranscriptions(ctx context.Context, skip, top int, filter string) (*entities.TranscriptionList, error)
	GetTranscription(ctx context.Context, id string) (*entities.Transcription, error)
	GetTranscriptionByURL(ctx context.Context, url string) (*entities.Transcription, error)
	CreateTranscription(ctx context.Context, req CreateTranscriptionRequest) (*entities.Transcription, error)
	GetTranscriptionFiles(ctx context.Context, id string) (*entities.TranscriptionFiles, error)
	GetTranscriptionDocument(ctx context.Context, file entities.TranscriptionFile) (*entities.TranscriptionDocument, error)
	DeleteTranscription(ctx context.Context, id string) error
}

// CreateTranscriptionRequest represents the parameters of a new remote transcription job
type CreateTranscriptionRequest struct {
	ContentURLs             []string
	DestinationContainerURL string
	DisplayName             string
	Locale                  string
	CandidateLocales        []string
	TimeToLive              time.Duration
	Properties              map[string]interface{}
}
