package entities

import "testing"

func TestTranscriptionID(t *testing.T) {
	tr := &Transcription{Self: "https://westeurope.api.cognitive.microsoft.com/speechtotext/v3.1/transcriptions/8d3b7f6e-1c2a-4f4b-9c55-0b1f2a3d4e5f"}
	if got := tr.ID(); got != "8d3b7f6e-1c2a-4f4b-9c55-0b1f2a3d4e5f" {
		t.Errorf("ID() = %q", got)
	}
}

func TestTranscriptionPredicates(t *testing.T) {
	tr := &Transcription{State: TranscriptionRunning}
	if !tr.IsRunning() || tr.IsSucceeded() || tr.IsFailed() {
		t.Error("running transcription predicates are wrong")
	}
	tr.State = TranscriptionFailed
	if tr.IsRunning() || tr.IsSucceeded() || !tr.IsFailed() {
		t.Error("failed transcription predicates are wrong")
	}
}

func TestTranscriptionErrorDetail(t *testing.T) {
	tr := &Transcription{Properties: map[string]interface{}{
		"error": map[string]interface{}{"code": "InvalidData", "message": "audio is empty"},
	}}
	code, msg := tr.ErrorDetail()
	if code != "InvalidData" || msg != "audio is empty" {
		t.Errorf("ErrorDetail() = %q, %q", code, msg)
	}

	code, msg = (&Transcription{}).ErrorDetail()
	if code != "UNKNOWN" || msg != "No info" {
		t.Errorf("ErrorDetail() without error = %q, %q", code, msg)
	}
}

func TestDocumentLanguage(t *testing.T) {
	tests := map[string]string{
		"de-CH": "de",
		"en-US": "en",
		"fr":    "fr",
		"":      "",
	}
	for locale, want := range tests {
		doc := &TranscriptionDocument{RecognizedLocale: locale}
		if got := doc.Language(); got != want {
			t.Errorf("Language(%q) = %q, want %q", locale, got, want)
		}
	}
}

func TestLastPathSegment(t *testing.T) {
	tests := map[string]string{
		"https://host/a/b/c":  "c",
		"https://host/a/b/c/": "c",
		"/x/y":                "y",
		"":                    "",
	}
	for in, want := range tests {
		if got := LastPathSegment(in); got != want {
			t.Errorf("LastPathSegment(%q) = %q, want %q", in, got, want)
		}
	}
}
