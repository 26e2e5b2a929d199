package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/domain/entities"
	"github.com/satriahrh/azscribe/domain/repositories"
)

const (
	apiPath            = "/speechtotext/v3.1"
	subscriptionHeader = "Ocp-Apim-Subscription-Key"
	defaultTimeout     = 60 * time.Second
	maxErrorBody       = 64 * 1024
)

// Config holds configuration for the speech Client
// Required fields:
// - Endpoint: the speech services endpoint, e.g. https://westeurope.api.cognitive.microsoft.com
// - SubscriptionKey: the cognitive services subscription key
// Optional fields with defaults:
// - Timeout: connect and request timeout of every call (60s)
type Config struct {
	Endpoint        string
	SubscriptionKey string
	Timeout         time.Duration
}

// ValidateConfig validates the speech configuration
func ValidateConfig(config Config) error {
	if config.Endpoint == "" {
		return fmt.Errorf("%w: speech services endpoint is required", domain.ErrConfiguration)
	}
	if config.SubscriptionKey == "" {
		return fmt.Errorf("%w: speech services subscription key is required", domain.ErrConfiguration)
	}
	u, err := url.Parse(config.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid speech services endpoint %q", domain.ErrConfiguration, config.Endpoint)
	}
	return nil
}

// Client talks to the batch transcription REST API
type Client struct {
	baseURL         string
	subscriptionKey string
	httpClient      *http.Client
	logger          *zap.Logger
}

// Ensure Client implements the SpeechService interface
var _ repositories.SpeechService = (*Client)(nil)

// NewClient creates a new batch transcription client
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	baseURL := strings.TrimRight(config.Endpoint, "/")
	if !strings.Contains(baseURL, "/speechtotext/") {
		baseURL += apiPath
	}

	logger.Info("Initialized speech services client", zap.String("baseURL", baseURL), zap.Duration("timeout", timeout))

	return &Client{
		baseURL:         baseURL,
		subscriptionKey: config.SubscriptionKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
			},
		},
		logger: logger,
	}, nil
}

// ListTranscriptions returns one page of remote jobs
func (c *Client) ListTranscriptions(ctx context.Context, skip, top int, filter string) (*entities.TranscriptionList, error) {
	query := url.Values{}
	if skip > 0 {
		query.Set("skip", strconv.Itoa(skip))
	}
	if top > 0 {
		query.Set("top", strconv.Itoa(top))
	}
	if filter != "" {
		query.Set("filter", filter)
	}

	reqURL := c.baseURL + "/transcriptions"
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var page transcriptionListJSON
	if err := c.call(ctx, "list transcriptions", http.MethodGet, reqURL, nil, true, &page); err != nil {
		return nil, err
	}

	list := &entities.TranscriptionList{NextLink: page.NextLink}
	for _, t := range page.Values {
		list.Values = append(list.Values, t.toEntity())
	}
	return list, nil
}

// GetTranscription returns a remote job by id
func (c *Client) GetTranscription(ctx context.Context, id string) (*entities.Transcription, error) {
	return c.GetTranscriptionByURL(ctx, c.transcriptionURL(id))
}

// GetTranscriptionByURL returns a remote job by its self URL
func (c *Client) GetTranscriptionByURL(ctx context.Context, transcriptionURL string) (*entities.Transcription, error) {
	var t transcriptionJSON
	if err := c.call(ctx, "get transcription", http.MethodGet, transcriptionURL, nil, true, &t); err != nil {
		return nil, err
	}
	transcription := t.toEntity()
	return &transcription, nil
}

// CreateTranscription submits a new batch transcription job
func (c *Client) CreateTranscription(ctx context.Context, req repositories.CreateTranscriptionRequest) (*entities.Transcription, error) {
	if len(req.ContentURLs) == 0 {
		return nil, fmt.Errorf("at least one content URL is required")
	}
	if req.Locale == "" {
		return nil, fmt.Errorf("locale is required")
	}
	if req.DisplayName == "" {
		return nil, fmt.Errorf("display name is required")
	}

	properties := make(map[string]interface{}, len(req.Properties)+3)
	for k, v := range req.Properties {
		properties[k] = v
	}
	if len(req.CandidateLocales) > 0 {
		properties["languageIdentification"] = languageIdentificationJSON{CandidateLocales: req.CandidateLocales}
	}
	if req.TimeToLive > 0 {
		properties["timeToLive"] = isoDuration(req.TimeToLive)
	}
	if req.DestinationContainerURL != "" {
		properties["destinationContainerUrl"] = req.DestinationContainerURL
	}

	body, err := json.Marshal(createRequestJSON{
		ContentURLs: req.ContentURLs,
		Locale:      req.Locale,
		DisplayName: req.DisplayName,
		Properties:  properties,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var t transcriptionJSON
	if err := c.call(ctx, "create transcription", http.MethodPost, c.baseURL+"/transcriptions", body, false, &t); err != nil {
		return nil, err
	}

	transcription := t.toEntity()
	c.logger.Info("Created transcription",
		zap.String("transcriptionJobId", transcription.ID()),
		zap.String("locale", req.Locale),
		zap.Strings("candidateLocales", req.CandidateLocales))
	return &transcription, nil
}

// GetTranscriptionFiles lists the result files of a job
func (c *Client) GetTranscriptionFiles(ctx context.Context, id string) (*entities.TranscriptionFiles, error) {
	var page filesJSON
	if err := c.call(ctx, "get transcription files", http.MethodGet, c.transcriptionURL(id)+"/files", nil, true, &page); err != nil {
		return nil, err
	}

	files := &entities.TranscriptionFiles{NextLink: page.NextLink}
	for _, f := range page.Values {
		files.Values = append(files.Values, entities.TranscriptionFile{
			Self:       f.Self,
			Name:       f.Name,
			Kind:       f.Kind,
			ContentURL: f.Links.ContentURL,
		})
	}
	return files, nil
}

// GetTranscriptionDocument downloads and parses a transcription result file.
// The content URL carries its own storage token so no subscription key is sent.
func (c *Client) GetTranscriptionDocument(ctx context.Context, file entities.TranscriptionFile) (*entities.TranscriptionDocument, error) {
	if file.ContentURL == "" {
		return nil, fmt.Errorf("transcription file %s has no content URL", file.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.ContentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download transcription file: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse("get transcription file", resp, true); err != nil {
		return nil, err
	}
	return ParseTranscriptionDocument(resp.Body)
}

// DeleteTranscription deletes a remote job. A missing job yields domain.ErrNotFound.
func (c *Client) DeleteTranscription(ctx context.Context, id string) error {
	if err := c.call(ctx, "delete transcription", http.MethodDelete, c.transcriptionURL(id), nil, true, nil); err != nil {
		return err
	}
	c.logger.Info("Deleted transcription", zap.String("transcriptionJobId", id))
	return nil
}

func (c *Client) transcriptionURL(id string) string {
	return c.baseURL + "/transcriptions/" + url.PathEscape(id)
}

// call performs one API request and decodes the JSON response into out (if not nil).
// notFound selects whether a 404 maps to domain.ErrNotFound.
func (c *Client) call(ctx context.Context, op, method, reqURL string, body []byte, notFound bool, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set(subscriptionHeader, c.subscriptionKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(op, resp, notFound); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) checkResponse(op string, resp *http.Response, notFound bool) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var kind error
	switch {
	case resp.StatusCode == http.StatusForbidden:
		kind = domain.ErrNotAllowed
	case resp.StatusCode == http.StatusNotFound && notFound:
		kind = domain.ErrNotFound
	}

	c.logger.Debug("Speech services request failed",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", body))

	return &domain.RemoteError{Op: op, StatusCode: resp.StatusCode, Body: string(body), Kind: kind}
}

// isoDuration formats d as an ISO 8601 duration with whole seconds, e.g. PT12H30M
func isoDuration(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	if secs <= 0 {
		return "PT0S"
	}
	h, m, s := secs/3600, secs%3600/60, secs%60

	var b strings.Builder
	b.WriteString("PT")
	if h > 0 {
		fmt.Fprintf(&b, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	if s > 0 {
		fmt.Fprintf(&b, "%dS", s)
	}
	return b.String()
}
