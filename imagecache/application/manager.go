package application

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dfryer1193/readshelf/imagecache/blobstore"
	"github.com/dfryer1193/readshelf/imagecache/domain"
	"github.com/dfryer1193/readshelf/imagecache/fetch"
)

const (
	msPerDay = int64(24 * time.Hour / time.Millisecond)

	defaultFailureMemoSize = 256
	defaultFailureTTL      = 30 * time.Second
)

// Manager resolves image URLs to local files. It exclusively owns the
// metadata store and the blob directory; the metadata store decides which
// files should exist and the directory is reconciled toward it.
//
// None of the lookup methods return errors: a failure is logged and reported
// as a miss, and the caller should use the remote URL directly.
type Manager struct {
	records domain.MetadataStore
	blobs   *blobstore.BlobStore
	fetcher domain.Fetcher
	now     func() time.Time

	// inflight coalesces concurrent downloads of one URL. flights holds the
	// context each shared download runs under; it is cancelled once every
	// waiting caller has gone away.
	inflight  singleflight.Group
	flightsMu sync.Mutex
	flights   map[string]*flight
	downloads sync.WaitGroup

	// failures remembers URLs whose last download failed, so Resolve does not
	// hammer a dead link on every render.
	failures *expirable.LRU[string, error]

	// sweepMu lets downloads run concurrently while excluding eviction and
	// clearing, which would otherwise see a download's temp file as an orphan.
	sweepMu sync.RWMutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithFailureMemo sets how many failed URLs are remembered and for how long.
// A ttl <= 0 disables the memo.
func WithFailureMemo(size int, ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl <= 0 || size <= 0 {
			m.failures = nil
			return
		}
		m.failures = expirable.NewLRU[string, error](size, nil, ttl)
	}
}

// NewManager wires a Manager from its stores and download collaborator.
func NewManager(records domain.MetadataStore, blobs *blobstore.BlobStore, fetcher domain.Fetcher, opts ...Option) *Manager {
	m := &Manager{
		records:  records,
		blobs:    blobs,
		fetcher:  fetcher,
		now:      time.Now,
		failures: expirable.NewLRU[string, error](defaultFailureMemoSize, nil, defaultFailureTTL),
		flights:  make(map[string]*flight),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(m)
	}
	return m
}

// Resolve returns the local path for url, downloading it on a miss.
// A live record has its timestamp refreshed; a record whose file has vanished
// is deleted and treated as a miss.
func (m *Manager) Resolve(ctx context.Context, url string) (string, bool) {
	rec, ok := m.ResolveRecord(ctx, url)
	if !ok {
		return "", false
	}
	return rec.LocalPath, true
}

// ResolveRecord is Resolve returning the whole cache record.
func (m *Manager) ResolveRecord(ctx context.Context, url string) (*domain.CacheRecord, bool) {
	if url == "" {
		return nil, false
	}

	if rec, ok := m.lookup(ctx, url); ok {
		cacheHitsTotal.Inc()
		return rec, true
	}
	cacheMissesTotal.Inc()

	if m.recentlyFailed(url) {
		log.Debug().Str("url", url).Msg("Skipping image download after recent failure")
		return nil, false
	}

	rec, err := m.share(ctx, url, func(ctx context.Context) (*domain.CacheRecord, error) {
		// another caller may have finished the download while we waited
		if rec, ok := m.lookup(ctx, url); ok {
			return rec, nil
		}
		return m.download(ctx, url)
	})
	if err != nil {
		m.logFailure(url, err)
		return nil, false
	}

	return rec, true
}

// FetchAndCache downloads url unconditionally, stores it under its
// deterministic file name and records it. Concurrent calls for the same URL
// share one download.
func (m *Manager) FetchAndCache(ctx context.Context, url string) (string, bool) {
	if url == "" {
		return "", false
	}

	rec, err := m.share(ctx, url, func(ctx context.Context) (*domain.CacheRecord, error) {
		return m.download(ctx, url)
	})
	if err != nil {
		m.logFailure(url, err)
		return "", false
	}

	return rec.LocalPath, true
}

// flight is the shared context of one coalesced download.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// share runs fn once per URL for all concurrent callers. Each caller waits
// only as long as its own ctx allows. The download itself is cancelled when
// the last waiting caller leaves, so an abandoned download still cleans up.
func (m *Manager) share(ctx context.Context, url string, fn func(context.Context) (*domain.CacheRecord, error)) (*domain.CacheRecord, error) {
	f := m.join(ctx, url)
	defer m.leave(url, f)

	for attempt := 0; ; attempt++ {
		ch := m.inflight.DoChan(url, func() (any, error) {
			m.downloads.Add(1)
			defer m.downloads.Done()
			return fn(f.ctx)
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Shared {
				coalescedFetchesTotal.Inc()
			}
			// joined a download whose callers had all left; start our own
			if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil && attempt == 0 {
				continue
			}
			if res.Err != nil {
				return nil, res.Err
			}
			return res.Val.(*domain.CacheRecord), nil
		}
	}
}

func (m *Manager) join(ctx context.Context, url string) *flight {
	m.flightsMu.Lock()
	defer m.flightsMu.Unlock()

	f, ok := m.flights[url]
	if !ok {
		dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: dctx, cancel: cancel}
		m.flights[url] = f
	}
	f.waiters++
	return f
}

func (m *Manager) leave(url string, f *flight) {
	m.flightsMu.Lock()
	defer m.flightsMu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if m.flights[url] == f {
		delete(m.flights, url)
	}
}

// Close waits for downloads that are still winding down after their callers
// left.
func (m *Manager) Close() error {
	m.downloads.Wait()
	return nil
}

// Lookup returns the live record for url without downloading. Like Resolve
// it refreshes the timestamp and removes orphaned records.
func (m *Manager) Lookup(ctx context.Context, url string) (*domain.CacheRecord, bool) {
	return m.lookup(ctx, url)
}

func (m *Manager) lookup(ctx context.Context, url string) (*domain.CacheRecord, bool) {
	// an eviction sweep must not remove the file between the checks below
	m.sweepMu.RLock()
	defer m.sweepMu.RUnlock()

	rec, err := m.records.Get(ctx, url)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("Failed to read image cache record")
		return nil, false
	}

	if !m.blobs.Exists(rec.LocalPath) {
		orphanRecordsTotal.Inc()
		log.Info().Str("url", url).Str("path", rec.LocalPath).Msg("Cached image file missing; dropping record")
		if err := m.records.Delete(ctx, url); err != nil {
			log.Warn().Err(err).Str("url", url).Msg("Failed to delete orphaned cache record")
		}
		return nil, false
	}

	ts := m.now().UnixMilli()
	err = m.records.Touch(ctx, url, ts)
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		// deleted since Get; its file is no longer guaranteed
		return nil, false
	case err != nil:
		log.Warn().Err(err).Str("url", url).Msg("Failed to refresh cache record timestamp")
	default:
		rec.TimestampMs = ts
	}

	return rec, true
}

// download fetches url and persists it. On any failure no record is written
// and no file is left for url.
func (m *Manager) download(ctx context.Context, url string) (*domain.CacheRecord, error) {
	start := time.Now()
	defer func() {
		fetchDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	data, err := m.fetcher.Fetch(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, domain.ErrNetwork) && !errors.Is(err, domain.ErrDecode) {
			err = fmt.Errorf("%w: %w", domain.ErrNetwork, err)
		}
		m.rememberFailure(url, err)
		return nil, err
	}

	var mime string
	if len(data) > 0 {
		mime, err = fetch.DetectImage(data)
		if err != nil {
			m.rememberFailure(url, err)
			return nil, err
		}
	}

	m.sweepMu.RLock()
	defer m.sweepMu.RUnlock()

	path, size, err := m.blobs.Write(ctx, url, data)
	if err != nil {
		return nil, err
	}

	rec := &domain.CacheRecord{
		URL:         url,
		LocalPath:   path,
		TimestampMs: m.now().UnixMilli(),
		SizeBytes:   size,
		MimeType:    mime,
		Digest:      digest.FromBytes(data).String(),
	}
	if err := m.records.Upsert(ctx, rec); err != nil {
		if rmErr := m.blobs.Remove(path); rmErr != nil {
			log.Error().Err(rmErr).Str("path", path).Msg("Failed to remove image after record write failed")
		}
		return nil, fmt.Errorf("%w: write cache record: %w", domain.ErrStorage, err)
	}

	if m.failures != nil {
		m.failures.Remove(url)
	}
	cachedBytesTotal.Add(float64(size))
	log.Debug().Str("url", url).Str("path", path).Int64("size", size).Msg("Image cached")

	return rec, nil
}

func (m *Manager) recentlyFailed(url string) bool {
	if m.failures == nil {
		return false
	}
	_, ok := m.failures.Get(url)
	return ok
}

func (m *Manager) rememberFailure(url string, err error) {
	if m.failures != nil {
		m.failures.Add(url, err)
	}
}

func (m *Manager) logFailure(url string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Debug().Err(err).Str("url", url).Msg("Image download cancelled")
		return
	}

	kind := domain.FailureKind(err)
	fetchFailuresTotal.WithLabelValues(kind).Inc()
	log.Warn().Err(err).Str("url", url).Str("kind", kind).Msg("Image cache miss; falling back to remote URL")
}

// EvictResult summarizes one eviction sweep.
type EvictResult struct {
	// ExpiredRecords were older than the cutoff.
	ExpiredRecords int64
	// MissingFiles are surviving records whose file was gone.
	MissingFiles int
	// OrphanFiles are files in the cache directory without a surviving record.
	OrphanFiles int
	Errors      int
	Duration    time.Duration
}

// EvictExpired removes records last used more than maxAgeDays ago, then makes
// the cache directory match the surviving records: records without a file are
// deleted and files without a record are removed. A record exactly at the
// cutoff survives.
func (m *Manager) EvictExpired(ctx context.Context, maxAgeDays int) (*EvictResult, error) {
	if maxAgeDays < 0 {
		return nil, fmt.Errorf("maxAgeDays must be >= 0, got %d", maxAgeDays)
	}

	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	start := time.Now()
	result := &EvictResult{}

	cutoff := m.now().UnixMilli() - int64(maxAgeDays)*msPerDay
	expired, err := m.records.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired records: %w", err)
	}
	result.ExpiredRecords = expired

	records, err := m.records.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list surviving records: %w", err)
	}

	keep := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if !m.blobs.Exists(rec.LocalPath) {
			if err := m.records.Delete(ctx, rec.URL); err != nil {
				log.Error().Err(err).Str("url", rec.URL).Msg("Failed to delete record without file")
				result.Errors++
				continue
			}
			result.MissingFiles++
			continue
		}
		keep[filepath.Clean(rec.LocalPath)] = struct{}{}
	}

	files, err := m.blobs.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache dir: %w", err)
	}
	for _, f := range files {
		if _, ok := keep[filepath.Clean(f)]; ok {
			continue
		}
		if err := m.blobs.Remove(f); err != nil {
			log.Error().Err(err).Str("path", f).Msg("Failed to remove orphaned cache file")
			result.Errors++
			continue
		}
		result.OrphanFiles++
	}

	result.Duration = time.Since(start)

	evictionRunsTotal.Inc()
	evictedRecordsTotal.Add(float64(result.ExpiredRecords) + float64(result.MissingFiles))
	sweptFilesTotal.Add(float64(result.OrphanFiles))

	log.Info().
		Int64("expired", result.ExpiredRecords).
		Int("missing_files", result.MissingFiles).
		Int("orphan_files", result.OrphanFiles).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("Image cache eviction finished")

	return result, nil
}

// ClearAll empties the metadata store and the cache directory.
func (m *Manager) ClearAll(ctx context.Context) error {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	if err := m.records.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cache records: %w", err)
	}
	if err := m.blobs.Clear(); err != nil {
		return fmt.Errorf("failed to clear cache dir: %w", err)
	}
	if m.failures != nil {
		m.failures.Purge()
	}

	log.Info().Str("dir", m.blobs.Dir()).Msg("Image cache cleared")
	return nil
}

// Stats describes the current cache contents.
type Stats struct {
	Records    int
	TotalBytes int64
	Oldest     time.Time
	Newest     time.Time
}

// Stats reports record count and size from the metadata store.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	records, err := m.records.List(ctx)
	if err != nil {
		return nil, err
	}

	s := &Stats{Records: len(records)}
	for i, rec := range records {
		s.TotalBytes += rec.SizeBytes
		ts := rec.Timestamp()
		if i == 0 || ts.Before(s.Oldest) {
			s.Oldest = ts
		}
		if ts.After(s.Newest) {
			s.Newest = ts
		}
	}
	return s, nil
}
