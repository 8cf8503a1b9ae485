// Package httpstore speaks the remote document and blob protocol over HTTP.
// Client is the production remote.DocumentStore and remote.BlobStore; Server
// exposes any store under the same protocol.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/readshelf/shared/remote"
)

var (
	_ remote.DocumentStore = (*Client)(nil)
	_ remote.BlobStore     = (*Client)(nil)
)

const (
	defaultTimeout      = 15 * time.Second
	defaultPollInterval = 5 * time.Second
	maxUpdateAttempts   = 5
	maxResponseBytes    = 4 << 20
)

// Client talks to a Server at baseURL.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPollInterval sets how often Subscribe re-runs its query.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// NewClient creates a Client for baseURL authenticating with apiKey.
func NewClient(baseURL, apiKey string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote base URL %q", baseURL)
	}

	c := &Client{
		httpClient:   &http.Client{Timeout: defaultTimeout},
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) docURL(ref remote.Ref) string {
	return c.baseURL + "/v1/docs/" + url.PathEscape(ref.Collection) + "/" + url.PathEscape(ref.ID)
}

func blobPath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// do sends the request and decodes a 200 response into out. Transport errors
// and 5xx responses are reported as remote.ErrUnavailable.
func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %w", remote.ErrUnavailable, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", remote.ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return statusError(req, resp.StatusCode, body)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
		}
	}
	return nil
}

func statusError(req *http.Request, status int, body []byte) error {
	var e errorResponse
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}

	var kind error
	switch {
	case status == http.StatusNotFound:
		kind = remote.ErrNotFound
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		kind = remote.ErrConflict
	case status >= 500 || status == http.StatusTooManyRequests:
		kind = remote.ErrUnavailable
	default:
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, status, msg)
	}
	return fmt.Errorf("%w: %s %s: status %d: %s", kind, req.Method, req.URL.Path, status, msg)
}

// Get fetches the document at ref.
func (c *Client) Get(ctx context.Context, ref remote.Ref) (*remote.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.docURL(ref), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build get request: %w", err)
	}

	var doc remote.Document
	if err := c.do(req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Set upserts the document at ref.
func (c *Client) Set(ctx context.Context, ref remote.Ref, data any) (*remote.Document, error) {
	return c.put(ctx, ref, data, "")
}

func (c *Client) put(ctx context.Context, ref remote.Ref, data any, ifMatch string) (*remote.Document, error) {
	raw, err := remote.Marshal(data)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.docURL(ref), bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build put request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ifMatch != "" {
		req.Header.Set("If-Match", ifMatch)
	}

	var doc remote.Document
	if err := c.do(req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Query runs q on the server.
func (c *Client) Query(ctx context.Context, q remote.Query) ([]*remote.Document, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	u := c.baseURL + "/v1/query/" + url.PathEscape(q.Collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var docs []*remote.Document
	if err := c.do(req, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// RunAtomicUpdate reads the document, applies fn and writes the result with
// an If-Match precondition on the version read. A lost race re-reads and
// re-applies fn; after maxUpdateAttempts losses it returns remote.ErrConflict.
func (c *Client) RunAtomicUpdate(ctx context.Context, ref remote.Ref, fn remote.Mutator) (*remote.Document, error) {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		cur, err := c.Get(ctx, ref)
		if err != nil && !errors.Is(err, remote.ErrNotFound) {
			return nil, err
		}

		var version int64
		if cur != nil {
			version = cur.Version
		}

		data, err := fn(cur)
		if err != nil {
			return nil, err
		}

		doc, err := c.put(ctx, ref, data, etag(version))
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, remote.ErrConflict) {
			return nil, err
		}
		log.Debug().Str("ref", ref.String()).Int("attempt", attempt).Msg("Atomic update lost a race; retrying")
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", remote.ErrConflict, ref, maxUpdateAttempts)
}

// Subscribe polls q and emits a snapshot whenever the set of documents or
// their versions change. Poll failures are logged and retried.
func (c *Client) Subscribe(ctx context.Context, q remote.Query) (<-chan remote.Snapshot, error) {
	docs, err := c.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	ch := make(chan remote.Snapshot, 1)
	ch <- remote.Snapshot{Documents: docs}
	last := fingerprint(docs)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			docs, err := c.Query(ctx, q)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("collection", q.Collection).Msg("Subscription poll failed")
				}
				continue
			}

			fp := fingerprint(docs)
			if slices.Equal(fp, last) {
				continue
			}
			last = fp

			select {
			case <-ch:
			default:
			}
			ch <- remote.Snapshot{Documents: docs}
		}
	}()

	return ch, nil
}

func fingerprint(docs []*remote.Document) []string {
	fp := make([]string, len(docs))
	for i, d := range docs {
		fp[i] = fmt.Sprintf("%s@%d", d.ID, d.Version)
	}
	return fp
}

// Upload stores data at path and returns the server's download URL.
func (c *Client) Upload(ctx context.Context, data []byte, path string) (string, error) {
	if strings.Trim(path, "/") == "" {
		return "", fmt.Errorf("blob path is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/v1/blobs/"+blobPath(path), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var out uploadResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}
