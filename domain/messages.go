package domain

// JobEventMessage is pushed to websocket subscribers whenever a job record changes status
type JobEventMessage struct {
	Type               string `json:"type"`
	TranscriptionJobID string `json:"transcription_job_id"`
	MediaPackageID     string `json:"media_package_id"`
	Provider           string `json:"provider"`
	From               string `json:"from,omitempty"`
	To                 string `json:"to"`
	Timestamp          string `json:"timestamp"`
}

// ErrorMessage is sent to a websocket subscriber when its request cannot be served
type ErrorMessage struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Message types
const (
	MessageTypeJobEvent = "job_event"
	MessageTypeError    = "error"
	MessageTypePong     = "pong"
)
