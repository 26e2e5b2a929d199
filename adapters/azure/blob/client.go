package blob

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/azscribe/adapters/azure/sas"
	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/domain/repositories"
)

const (
	// DefaultBlockSize is the size of a staged block (100 MB)
	DefaultBlockSize   int64 = 100 * 1024 * 1024
	defaultConcurrency       = 4
	defaultTimeout           = 60 * time.Second
	maxErrorBody             = 64 * 1024
)

// Config holds configuration for the blob Client
// Optional fields with defaults:
// - Endpoint: https://{account}.blob.core.windows.net
// - BlockSize: 100 MB
// - Concurrency: number of blocks staged in parallel (4)
// - Timeout: connect and request timeout of every call (60s)
type Config struct {
	Endpoint    string
	BlockSize   int64
	Concurrency int
	Timeout     time.Duration
}

// Client uploads and deletes blobs using SAS signed requests
type Client struct {
	signer      *sas.Signer
	endpoint    *url.URL
	httpClient  *http.Client
	blockSize   int64
	concurrency int
	newBlockID  func() string
	logger      *zap.Logger
}

// Ensure Client implements the BlobStore interface
var _ repositories.BlobStore = (*Client)(nil)

// NewClient creates a blob client for the signer's storage account
func NewClient(signer *sas.Signer, config Config, logger *zap.Logger) (*Client, error) {
	if signer == nil {
		return nil, fmt.Errorf("%w: blob client requires a signer", domain.ErrConfiguration)
	}

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", signer.AccountName())
	}
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid storage endpoint %q", domain.ErrConfiguration, endpoint)
	}

	blockSize := config.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		signer:   signer,
		endpoint: u,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
			},
		},
		blockSize:   blockSize,
		concurrency: concurrency,
		newBlockID:  newBlockID,
		logger:      logger,
	}, nil
}

// ContainerURL returns the URL of a container without credentials
func (c *Client) ContainerURL(container string) string {
	return c.endpoint.String() + "/" + url.PathEscape(container)
}

// BlobURL returns the URL of a blob without credentials
func (c *Client) BlobURL(container, blobPath, name string) string {
	return c.ContainerURL(container) + "/" + escapePath(blobName(blobPath, name))
}

// ContainerWriteURL returns the container URL with a create+write token, suitable
// as destination for transcription results
func (c *Client) ContainerWriteURL(container string) (string, error) {
	token, err := c.signer.ServiceToken(sas.ServiceOptions{
		Permissions:  "cw",
		ResourcePath: container,
		Resource:     sas.ResourceContainer,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign container token: %w", err)
	}
	return c.ContainerURL(container) + "?" + token.Encode(), nil
}

// ContainerExists checks whether the container exists with a read only request
func (c *Client) ContainerExists(ctx context.Context, container string) (bool, error) {
	token, err := c.signer.AccountToken(sas.AccountOptions{Permissions: "r", ResourceTypes: "c"})
	if err != nil {
		return false, fmt.Errorf("failed to sign account token: %w", err)
	}

	reqURL := c.ContainerURL(container) + "?restype=container&" + token.Encode()
	resp, err := c.do(ctx, http.MethodGet, reqURL, nil, 0, nil)
	if err != nil {
		return false, fmt.Errorf("failed to query container %s: %w", container, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, remoteError("get container properties", resp)
	}
}

// CreateContainer creates the container with public blob access unless it already exists
func (c *Client) CreateContainer(ctx context.Context, container string) error {
	exists, err := c.ContainerExists(ctx, container)
	if err != nil {
		return err
	}
	if exists {
		c.logger.Debug("Storage container already exists", zap.String("container", container))
		return nil
	}

	token, err := c.signer.AccountToken(sas.AccountOptions{Permissions: "c", ResourceTypes: "c"})
	if err != nil {
		return fmt.Errorf("failed to sign account token: %w", err)
	}

	reqURL := c.ContainerURL(container) + "?restype=container&" + token.Encode()
	headers := http.Header{"x-ms-blob-public-access": []string{"blob"}}
	resp, err := c.do(ctx, http.MethodPut, reqURL, nil, 0, headers)
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", container, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		c.logger.Info("Created storage container", zap.String("container", container))
		return nil
	case http.StatusConflict:
		// created concurrently
		return nil
	default:
		return remoteError("create container", resp)
	}
}

// UploadFile uploads a local file as a block blob and returns the blob URL.
// Blocks are staged first and the blob only becomes visible once the block
// list is committed, so a failed upload can simply be retried.
func (c *Client) UploadFile(ctx context.Context, localPath, container, blobPath, name string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	size := info.Size()
	resourcePath := container + "/" + blobName(blobPath, name)
	blobURL := c.BlobURL(container, blobPath, name)

	count := blockCount(size, c.blockSize)
	blockIDs := make([]string, count)
	for i := range blockIDs {
		blockIDs[i] = c.newBlockID()
	}

	c.logger.Info("Uploading file to storage",
		zap.String("file", localPath),
		zap.String("blob", blobURL),
		zap.Int64("size", size),
		zap.Int("blocks", count))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := 0; i < count; i++ {
		offset := int64(i) * c.blockSize
		length := c.blockSize
		if remaining := size - offset; remaining < length {
			length = remaining
		}
		blockID := blockIDs[i]
		g.Go(func() error {
			return c.putBlock(gctx, blobURL, resourcePath, blockID, io.NewSectionReader(f, offset, length), length)
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if err := c.commitBlockList(ctx, blobURL, resourcePath, blockIDs); err != nil {
		return "", err
	}

	c.logger.Info("Upload committed", zap.String("blob", blobURL), zap.Int("blocks", count))
	return blobURL, nil
}

// DeleteFile deletes a blob. A blob that is already gone counts as deleted.
func (c *Client) DeleteFile(ctx context.Context, blobURL string) error {
	resourcePath, err := c.resourcePath(blobURL)
	if err != nil {
		return err
	}

	token, err := c.signer.ServiceToken(sas.ServiceOptions{
		Permissions:  "d",
		ResourcePath: resourcePath,
		Resource:     sas.ResourceBlob,
	})
	if err != nil {
		return fmt.Errorf("failed to sign blob token: %w", err)
	}

	reqURL := stripQuery(blobURL) + "?" + token.Encode()
	resp, err := c.do(ctx, http.MethodDelete, reqURL, nil, 0, nil)
	if err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", blobURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		c.logger.Info("Deleted blob", zap.String("blob", blobURL))
		return nil
	case http.StatusNotFound:
		c.logger.Debug("Blob already deleted", zap.String("blob", blobURL))
		return nil
	default:
		return remoteError("delete blob", resp)
	}
}

func (c *Client) putBlock(ctx context.Context, blobURL, resourcePath, blockID string, body io.Reader, length int64) error {
	token, err := c.signer.ServiceToken(sas.ServiceOptions{
		Permissions:  "w",
		ResourcePath: resourcePath,
		Resource:     sas.ResourceBlob,
	})
	if err != nil {
		return fmt.Errorf("failed to sign blob token: %w", err)
	}

	reqURL := blobURL + "?comp=block&blockid=" + url.QueryEscape(blockID) + "&" + token.Encode()
	resp, err := c.do(ctx, http.MethodPut, reqURL, body, length, nil)
	if err != nil {
		return fmt.Errorf("failed to stage block %s: %w", blockID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return remoteError("put block", resp)
	}

	c.logger.Debug("Staged block", zap.String("blob", blobURL), zap.String("blockID", blockID), zap.Int64("size", length))
	return nil
}

type blockList struct {
	XMLName     xml.Name `xml:"BlockList"`
	Uncommitted []string `xml:"Uncommitted"`
}

func (c *Client) commitBlockList(ctx context.Context, blobURL, resourcePath string, blockIDs []string) error {
	body, err := xml.Marshal(blockList{Uncommitted: blockIDs})
	if err != nil {
		return fmt.Errorf("failed to marshal block list: %w", err)
	}
	body = append([]byte(xml.Header), body...)

	token, err := c.signer.ServiceToken(sas.ServiceOptions{
		Permissions:  "w",
		ResourcePath: resourcePath,
		Resource:     sas.ResourceBlob,
	})
	if err != nil {
		return fmt.Errorf("failed to sign blob token: %w", err)
	}

	reqURL := blobURL + "?comp=blocklist&" + token.Encode()
	headers := http.Header{"Content-Type": []string{"application/xml"}}
	resp, err := c.do(ctx, http.MethodPut, reqURL, bytes.NewReader(body), int64(len(body)), headers)
	if err != nil {
		return fmt.Errorf("failed to commit block list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return remoteError("put block list", resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, reqURL string, body io.Reader, length int64, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("x-ms-version", sas.Version)
	req.Header.Set("x-ms-date", c.signer.Now().UTC().Format(http.TimeFormat))
	if body != nil {
		req.ContentLength = length
	}
	return c.httpClient.Do(req)
}

// resourcePath converts a blob URL into the "container/blob" path used for signing
func (c *Client) resourcePath(blobURL string) (string, error) {
	u, err := url.Parse(blobURL)
	if err != nil {
		return "", fmt.Errorf("invalid blob URL %q: %w", blobURL, err)
	}
	p := strings.TrimPrefix(u.Path, c.endpoint.Path)
	p = strings.Trim(p, "/")
	if !strings.Contains(p, "/") {
		return "", fmt.Errorf("blob URL %q does not name a blob", blobURL)
	}
	return p, nil
}

func remoteError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var kind error
	switch resp.StatusCode {
	case http.StatusForbidden:
		kind = domain.ErrNotAllowed
	case http.StatusNotFound:
		kind = domain.ErrNotFound
	}
	return &domain.RemoteError{Op: op, StatusCode: resp.StatusCode, Body: string(body), Kind: kind}
}

func blockCount(size, blockSize int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + blockSize - 1) / blockSize)
}

func newBlockID() string {
	return base64.StdEncoding.EncodeToString([]byte(uuid.New().String()))
}

func blobName(blobPath, name string) string {
	return strings.Trim(path.Join(strings.Trim(blobPath, "/"), name), "/")
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func stripQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
