package speech

import (
	"time"

	"github.com/satriahrh/azscribe/domain/entities"
)

// Remote job status vocabulary. It never leaves this package.
const (
	statusNotStarted = "NotStarted"
	statusRunning    = "Running"
	statusSucceeded  = "Succeeded"
	statusFailed     = "Failed"
)

type transcriptionJSON struct {
	Self               string                 `json:"self"`
	DisplayName        string                 `json:"displayName"`
	Locale             string                 `json:"locale"`
	ContentURLs        []string               `json:"contentUrls"`
	Properties         map[string]interface{} `json:"properties"`
	Status             string                 `json:"status"`
	CreatedDateTime    string                 `json:"createdDateTime"`
	LastActionDateTime string                 `json:"lastActionDateTime"`
}

func (t transcriptionJSON) toEntity() entities.Transcription {
	return entities.Transcription{
		Self:         t.Self,
		DisplayName:  t.DisplayName,
		Locale:       t.Locale,
		ContentURLs:  t.ContentURLs,
		Properties:   t.Properties,
		State:        mapStatus(t.Status),
		CreatedAt:    parseTime(t.CreatedDateTime),
		LastActionAt: parseTime(t.LastActionDateTime),
	}
}

// mapStatus folds the remote vocabulary into three states. Anything not known
// to be finished is treated as running so it is polled again.
func mapStatus(status string) entities.TranscriptionState {
	switch status {
	case statusSucceeded:
		return entities.TranscriptionSucceeded
	case statusFailed:
		return entities.TranscriptionFailed
	case statusNotStarted, statusRunning:
		return entities.TranscriptionRunning
	default:
		// unknown states keep the job polling
		return entities.TranscriptionRunning
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

type transcriptionListJSON struct {
	Values   []transcriptionJSON `json:"values"`
	NextLink string              `json:"@nextLink"`
}

type fileJSON struct {
	Self  string `json:"self"`
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Links struct {
		ContentURL string `json:"contentUrl"`
	} `json:"links"`
}

type filesJSON struct {
	Values   []fileJSON `json:"values"`
	NextLink string     `json:"@nextLink"`
}

type createRequestJSON struct {
	ContentURLs []string               `json:"contentUrls"`
	Locale      string                 `json:"locale"`
	DisplayName string                 `json:"displayName"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
}

type languageIdentificationJSON struct {
	CandidateLocales []string `json:"candidateLocales"`
}
