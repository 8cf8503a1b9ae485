// Package fetch downloads images for the cache and checks that the bytes
// really are an image before they are written to disk.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/dfryer1193/readshelf/imagecache/domain"
)

const (
	// DefaultMaxBytes caps a single image download.
	DefaultMaxBytes = 20 << 20

	defaultTimeout = 30 * time.Second
)

var _ domain.Fetcher = (*HTTPFetcher)(nil)

// HTTPFetcher implements domain.Fetcher over plain HTTP(S).
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher creates a fetcher. A nil client gets a default client with a
// 30s timeout; maxBytes <= 0 uses DefaultMaxBytes.
func NewHTTPFetcher(client *http.Client, maxBytes int64) *HTTPFetcher {
	if client == nil {
		client = &http.Client{
			Timeout:   defaultTimeout,
			Transport: &http.Transport{MaxIdleConnsPerHost: 8},
		}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	return &HTTPFetcher{
		client:   client,
		maxBytes: maxBytes,
	}
}

// Fetch downloads rawURL. Transport errors, non-2xx statuses and truncated
// bodies are reported as domain.ErrNetwork; oversized bodies as domain.ErrDecode.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrNetwork, err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", domain.ErrNetwork, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: get %s: unexpected status %d", domain.ErrNetwork, rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrNetwork, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: image larger than %d bytes", domain.ErrDecode, f.maxBytes)
	}

	return data, nil
}

// DetectImage sniffs data and returns its MIME type, or domain.ErrDecode when
// the bytes are not an image.
func DetectImage(data []byte) (string, error) {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%w: content is %s, not an image", domain.ErrDecode, mt.String())
	}
	return mt.String(), nil
}
