package entities

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// TranscriptionState is the provider independent view of a remote job's lifecycle
type TranscriptionState int

const (
	TranscriptionRunning TranscriptionState = iota
	TranscriptionSucceeded
	TranscriptionFailed
)

func (s TranscriptionState) String() string {
	switch s {
	case TranscriptionSucceeded:
		return "succeeded"
	case TranscriptionFailed:
		return "failed"
	default:
		return "running"
	}
}

// Transcription mirrors a remote transcription job. It is only ever read locally.
type Transcription struct {
	Self         string
	DisplayName  string
	Locale       string
	ContentURLs  []string
	Properties   map[string]interface{}
	State        TranscriptionState
	CreatedAt    time.Time
	LastActionAt time.Time
}

// ID returns the job id, the last path segment of Self
func (t *Transcription) ID() string {
	return LastPathSegment(t.Self)
}

func (t *Transcription) IsRunning() bool   { return t.State == TranscriptionRunning }
func (t *Transcription) IsSucceeded() bool { return t.State == TranscriptionSucceeded }
func (t *Transcription) IsFailed() bool    { return t.State == TranscriptionFailed }

// ErrorDetail returns the provider error code and message of a failed job
func (t *Transcription) ErrorDetail() (code, message string) {
	code, message = "UNKNOWN", "No info"
	info, ok := t.Properties["error"].(map[string]interface{})
	if !ok {
		return code, message
	}
	if c, ok := info["code"].(string); ok && c != "" {
		code = c
	}
	if m, ok := info["message"].(string); ok && m != "" {
		message = m
	}
	return code, message
}

// TranscriptionFile references one output artifact of a finished job
type TranscriptionFile struct {
	Self       string
	Name       string
	Kind       string
	ContentURL string
}

// FileKindTranscription marks the file that holds the recognized text
const FileKindTranscription = "Transcription"

// IsTranscription reports whether the file holds the recognized text
func (f TranscriptionFile) IsTranscription() bool {
	return f.Kind == FileKindTranscription
}

// TranscriptionFiles is one page of result files
type TranscriptionFiles struct {
	Values   []TranscriptionFile
	NextLink string
}

// TranscriptionList is one page of remote jobs
type TranscriptionList struct {
	Values   []Transcription
	NextLink string
}

// Segment is a timed piece of recognized text
type Segment struct {
	Text       string
	Offset     time.Duration
	Duration   time.Duration
	Confidence float64
	Locale     string
}

// End returns the end offset of the segment
func (s Segment) End() time.Duration {
	return s.Offset + s.Duration
}

// TranscriptionDocument is the parsed transcript of a finished job
type TranscriptionDocument struct {
	// Source is the content URL the job was created from
	Source           string
	RecognizedLocale string
	Duration         time.Duration
	Segments         []Segment
}

// Language returns the primary language subtag of the recognized locale ("de-CH" -> "de")
func (d *TranscriptionDocument) Language() string {
	locale := strings.TrimSpace(d.RecognizedLocale)
	if locale == "" {
		return ""
	}
	lang, _, _ := strings.Cut(locale, "-")
	return strings.ToLower(lang)
}

// CaptionAttachment references a caption file written to the local workspace
type CaptionAttachment struct {
	URI      string `json:"uri"`
	Flavor   string `json:"flavor"`
	MimeType string `json:"mimetype"`
	Locale   string `json:"locale,omitempty"`
}

// LastPathSegment returns the last path element of a URL or path
func LastPathSegment(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}
