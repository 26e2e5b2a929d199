package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/domain/repositories"
)

const testKey = "test-subscription-key"

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{Endpoint: server.URL, SubscriptionKey: testKey}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client, server
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"missing endpoint", Config{SubscriptionKey: "k"}},
		{"missing key", Config{Endpoint: "https://example.com"}},
		{"invalid endpoint", Config{Endpoint: "not a url", SubscriptionKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateConfig(tt.config); !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestGetTranscriptionMapsStatus(t *testing.T) {
	tests := []struct {
		status    string
		running   bool
		succeeded bool
		failed    bool
	}{
		{"NotStarted", true, false, false},
		{"Running", true, false, false},
		{"Succeeded", false, true, false},
		{"Failed", false, false, true},
		{"SomethingNew", true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get(subscriptionHeader) != testKey {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				if r.URL.Path != apiPath+"/transcriptions/job-1" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"self":            "http://" + r.Host + r.URL.Path,
					"status":          tt.status,
					"locale":          "en-GB",
					"createdDateTime": "2026-10-15T08:00:00Z",
				})
			})
			_ = server

			transcription, err := client.GetTranscription(context.Background(), "job-1")
			if err != nil {
				t.Fatalf("Failed to get transcription: %v", err)
			}
			if transcription.ID() != "job-1" {
				t.Errorf("Expected id job-1, got %s", transcription.ID())
			}
			if transcription.IsRunning() != tt.running || transcription.IsSucceeded() != tt.succeeded || transcription.IsFailed() != tt.failed {
				t.Errorf("Unexpected state %s for status %s", transcription.State, tt.status)
			}
			if !transcription.CreatedAt.Equal(time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)) {
				t.Errorf("Unexpected created time %v", transcription.CreatedAt)
			}
		})
	}
}

func TestStatusCodeContract(t *testing.T) {
	status := http.StatusOK
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"code":"upstream"}`)
	})
	ctx := context.Background()
	create := repositories.CreateTranscriptionRequest{
		ContentURLs: []string{"https://storage/c/blob.mp4"},
		DisplayName: "Transcription job",
		Locale:      "en-GB",
	}

	status = http.StatusForbidden
	if _, err := client.GetTranscription(ctx, "x"); !errors.Is(err, domain.ErrNotAllowed) {
		t.Errorf("Expected ErrNotAllowed for 403, got %v", err)
	}
	if _, err := client.CreateTranscription(ctx, create); !errors.Is(err, domain.ErrNotAllowed) {
		t.Errorf("Expected ErrNotAllowed for 403 on create, got %v", err)
	}

	status = http.StatusNotFound
	if _, err := client.GetTranscriptionFiles(ctx, "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for 404 on files, got %v", err)
	}
	if err := client.DeleteTranscription(ctx, "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for 404 on delete, got %v", err)
	}
	_, err := client.CreateTranscription(ctx, create)
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected generic error for 404 on create, got %v", err)
	}
	if domain.StatusCode(err) != http.StatusNotFound {
		t.Errorf("Expected status 404 to be carried, got %d", domain.StatusCode(err))
	}

	status = http.StatusInternalServerError
	_, err = client.ListTranscriptions(ctx, 0, 0, "")
	var remote *domain.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Expected RemoteError, got %v", err)
	}
	if remote.Kind != nil || remote.StatusCode != 500 || remote.Body != `{"code":"upstream"}` {
		t.Errorf("Unexpected remote error %+v", remote)
	}
}

func TestCreateTranscriptionRequestBody(t *testing.T) {
	var body map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != apiPath+"/transcriptions" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"self":"https://speech/speechtotext/v3.1/transcriptions/abc","status":"NotStarted"}`)
	})

	transcription, err := client.CreateTranscription(context.Background(), repositories.CreateTranscriptionRequest{
		ContentURLs:             []string{"https://storage/c/1-mp.mp4"},
		DestinationContainerURL: "https://storage/c?sp=cw",
		DisplayName:             "Transcription job 1",
		Locale:                  "de-CH",
		CandidateLocales:        []string{"de-CH", "fr-CH"},
		TimeToLive:              12*time.Hour + 30*time.Minute,
		Properties:              map[string]interface{}{"wordLevelTimestampsEnabled": true},
	})
	if err != nil {
		t.Fatalf("Failed to create transcription: %v", err)
	}
	if transcription.ID() != "abc" || !transcription.IsRunning() {
		t.Errorf("Unexpected transcription %+v", transcription)
	}

	if body["locale"] != "de-CH" || body["displayName"] != "Transcription job 1" {
		t.Errorf("Unexpected body %v", body)
	}
	props, ok := body["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected properties in body, got %v", body)
	}
	if props["destinationContainerUrl"] != "https://storage/c?sp=cw" {
		t.Errorf("Unexpected destination %v", props["destinationContainerUrl"])
	}
	if props["timeToLive"] != "PT12H30M" {
		t.Errorf("Unexpected timeToLive %v", props["timeToLive"])
	}
	if props["wordLevelTimestampsEnabled"] != true {
		t.Errorf("Expected extra property to be passed through")
	}
	langID, _ := props["languageIdentification"].(map[string]interface{})
	if locales, _ := langID["candidateLocales"].([]interface{}); len(locales) != 2 {
		t.Errorf("Unexpected candidate locales %v", langID)
	}
}

func TestCreateTranscriptionValidatesRequest(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("No request expected")
	})
	if _, err := client.CreateTranscription(context.Background(), repositories.CreateTranscriptionRequest{Locale: "en-GB", DisplayName: "x"}); err == nil {
		t.Error("Expected error without content URLs")
	}
}

func TestListTranscriptionsQuery(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("skip") != "10" || q.Get("top") != "5" || q.Get("filter") != "status eq 'Failed'" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"values":[{"self":"https://s/transcriptions/a","status":"Failed"},{"self":"https://s/transcriptions/b","status":"Running"}],"@nextLink":"https://s/transcriptions?skip=15"}`)
	})

	list, err := client.ListTranscriptions(context.Background(), 10, 5, "status eq 'Failed'")
	if err != nil {
		t.Fatalf("Failed to list transcriptions: %v", err)
	}
	if len(list.Values) != 2 || !list.Values[0].IsFailed() || list.Values[1].ID() != "b" {
		t.Errorf("Unexpected list %+v", list.Values)
	}
	if list.NextLink == "" {
		t.Error("Expected next link")
	}
}

func TestFilesAndDocument(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc(apiPath+"/transcriptions/job-1/files", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"values": []map[string]interface{}{
				{"name": "report.json", "kind": "TranscriptionReport", "links": map[string]string{"contentUrl": server.URL + "/report"}},
				{"name": "contenturl_0.json", "kind": "Transcription", "links": map[string]string{"contentUrl": server.URL + "/result?sig=x"}},
			},
		})
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(subscriptionHeader) != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, sampleResult)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL, SubscriptionKey: testKey}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	files, err := client.GetTranscriptionFiles(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Failed to get files: %v", err)
	}
	if len(files.Values) != 2 || files.Values[0].IsTranscription() || !files.Values[1].IsTranscription() {
		t.Fatalf("Unexpected files %+v", files.Values)
	}

	doc, err := client.GetTranscriptionDocument(context.Background(), files.Values[1])
	if err != nil {
		t.Fatalf("Failed to get document: %v", err)
	}
	if doc.Source != "https://storage/c/1-mp.mp4" || len(doc.Segments) != 3 {
		t.Errorf("Unexpected document %+v", doc)
	}
}

func TestIsoDuration(t *testing.T) {
	tests := map[time.Duration]string{
		0:                                 "PT0S",
		90 * time.Second:                  "PT1M30S",
		48 * time.Hour:                    "PT48H",
		time.Hour + 1500*time.Millisecond: "PT1H2S",
	}
	for d, want := range tests {
		if got := isoDuration(d); got != want {
			t.Errorf("isoDuration(%v) = %s, want %s", d, got, want)
		}
	}
}

func TestNewClientKeepsVersionedEndpoint(t *testing.T) {
	client, err := NewClient(Config{Endpoint: "https://speech.example/speechtotext/v3.1/", SubscriptionKey: "k"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if !strings.HasSuffix(client.transcriptionURL("a"), "/speechtotext/v3.1/transcriptions/a") {
		t.Errorf("Unexpected URL %s", client.transcriptionURL("a"))
	}
}
