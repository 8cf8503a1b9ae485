package domain

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned by a MetadataStore when no record exists for a URL.
var ErrRecordNotFound = errors.New("cache record not found")

// CacheRecord maps a remote image URL to its cached file.
// LocalPath may be stale: the file can disappear without the record knowing.
type CacheRecord struct {
	URL         string
	LocalPath   string
	TimestampMs int64
	SizeBytes   int64
	MimeType    string
	Digest      string
}

// Timestamp returns the last-access time of the record.
func (r *CacheRecord) Timestamp() time.Time {
	return time.UnixMilli(r.TimestampMs)
}

// MetadataStore is the durable table of cache records. It is the single
// source of truth for which cached files should exist.
type MetadataStore interface {
	Get(ctx context.Context, url string) (*CacheRecord, error)
	Upsert(ctx context.Context, rec *CacheRecord) error
	Touch(ctx context.Context, url string, timestampMs int64) error
	Delete(ctx context.Context, url string) error

	// DeleteOlderThan removes every record with timestamp strictly before cutoffMs.
	DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error)

	List(ctx context.Context) ([]*CacheRecord, error)
	Clear(ctx context.Context) error
}

// Fetcher downloads the raw bytes behind a remote URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
