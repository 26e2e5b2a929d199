package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/domain/repositories"
	"github.com/satriahrh/azscribe/internal/auth"
)

const (
	organizationHeader = "X-Organization"
	defaultTimeout     = 60 * time.Second
	tokenTTL           = 5 * time.Minute
	maxErrorBody       = 64 * 1024
)

// Config holds configuration for the workflow engine Client
// Required fields:
// - Endpoint: base URL of the workflow engine
// - SystemAccount: account name the service acts as
// Optional fields with defaults:
// - Timeout: request timeout (60s)
type Config struct {
	Endpoint      string
	SystemAccount string
	Timeout       time.Duration
}

// ValidateConfig validates the workflow engine configuration
func ValidateConfig(config Config) error {
	if config.Endpoint == "" {
		return fmt.Errorf("%w: workflow endpoint is required", domain.ErrConfiguration)
	}
	u, err := url.Parse(config.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid workflow endpoint %q", domain.ErrConfiguration, config.Endpoint)
	}
	if config.SystemAccount == "" {
		return fmt.Errorf("%w: system account is required", domain.ErrConfiguration)
	}
	return nil
}

// Client talks to the workflow engine and its asset store.
// Every call carries a short lived system token.
type Client struct {
	endpoint      string
	systemAccount string
	issuer        *auth.Issuer
	httpClient    *http.Client
	logger        *zap.Logger
}

var (
	_ repositories.AssetResolver    = (*Client)(nil)
	_ repositories.WorkflowLauncher = (*Client)(nil)
)

// NewClient creates a workflow engine client
func NewClient(config Config, issuer *auth.Issuer, logger *zap.Logger) (*Client, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if issuer == nil {
		return nil, fmt.Errorf("%w: workflow client requires a token issuer", domain.ErrConfiguration)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		endpoint:      strings.TrimRight(config.Endpoint, "/"),
		systemAccount: config.SystemAccount,
		issuer:        issuer,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:       http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{Timeout: timeout}).DialContext,
			},
		},
		logger: logger,
	}, nil
}

type snapshotResponse struct {
	MediaPackageID string `json:"media_package_id"`
	OrganizationID string `json:"organization_id"`
	Version        string `json:"version"`
}

// ResolveOrganization returns the organization of the latest snapshot of a media package
func (c *Client) ResolveOrganization(ctx context.Context, mediaPackageID string) (string, error) {
	reqURL := c.endpoint + "/assets/episode/" + url.PathEscape(mediaPackageID) + "/latest"

	var snapshot snapshotResponse
	status, err := c.call(ctx, http.MethodGet, reqURL, "", nil, &snapshot)
	if status == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", domain.ErrNotArchived, mediaPackageID)
	}
	if err != nil {
		return "", err
	}
	if snapshot.OrganizationID == "" {
		return "", fmt.Errorf("snapshot of media package %s has no organization", mediaPackageID)
	}
	return snapshot.OrganizationID, nil
}

type startRequest struct {
	Definition     string            `json:"definition"`
	MediaPackageID string            `json:"media_package_id"`
	Properties     map[string]string `json:"properties"`
}

type startResponse struct {
	ID string `json:"id"`
}

// StartWorkflow applies a workflow definition to the latest version of a media
// package. The organization is read from the context.
func (c *Client) StartWorkflow(ctx context.Context, definitionID, mediaPackageID string, params map[string]string) (string, error) {
	organization, ok := domain.OrganizationFrom(ctx)
	if !ok {
		return "", fmt.Errorf("no organization in context for media package %s", mediaPackageID)
	}

	body, err := json.Marshal(startRequest{
		Definition:     definitionID,
		MediaPackageID: mediaPackageID,
		Properties:     params,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var started startResponse
	if _, err := c.call(ctx, http.MethodPost, c.endpoint+"/workflow/start", organization, body, &started); err != nil {
		return "", err
	}

	c.logger.Info("Started workflow",
		zap.String("definition", definitionID),
		zap.String("mediaPackageId", mediaPackageID),
		zap.String("organization", organization),
		zap.String("workflowId", started.ID))
	return started.ID, nil
}

// call performs one request and decodes a JSON response into out. The HTTP
// status is returned alongside errors so callers can map it.
func (c *Client) call(ctx context.Context, method, reqURL, organization string, body []byte, out interface{}) (int, error) {
	token, err := c.issuer.GenerateSystemToken(c.systemAccount, organization, tokenTTL)
	if err != nil {
		return 0, fmt.Errorf("failed to generate system token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if organization != "" {
		req.Header.Set(organizationHeader, organization)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to call workflow engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var kind error
		switch resp.StatusCode {
		case http.StatusForbidden, http.StatusUnauthorized:
			kind = domain.ErrNotAllowed
		case http.StatusNotFound:
			kind = domain.ErrNotFound
		}
		return resp.StatusCode, &domain.RemoteError{
			Op:         method + " " + req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Kind:       kind,
		}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode workflow engine response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
