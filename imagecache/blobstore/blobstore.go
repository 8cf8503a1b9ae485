// Package blobstore keeps downloaded image bytes in a single cache directory,
// one file per URL. File names are derived from the URL alone, so a second
// download of the same URL overwrites the same file.
package blobstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/dfryer1193/readshelf/imagecache/domain"
)

const (
	tmpPrefix  = ".tmp-"
	defaultExt = ".img"
	maxExtLen  = 5
	writeChunk = 32 * 1024
	dirPerm    = 0o750
)

// BlobStore manages the cache directory.
type BlobStore struct {
	dir string
}

// New creates a BlobStore rooted at dir, creating the directory if needed.
func New(dir string) (*BlobStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache dir is empty")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("%w: create cache dir %s: %w", domain.ErrStorage, dir, err)
	}
	return &BlobStore{dir: dir}, nil
}

// Dir returns the cache directory.
func (b *BlobStore) Dir() string {
	return b.dir
}

// FileName returns the deterministic file name for rawURL: the hex xxhash64
// of the full URL followed by the URL's image extension.
func FileName(rawURL string) string {
	return fmt.Sprintf("%016x%s", xxhash.Sum64String(rawURL), extension(rawURL))
}

// PathFor returns the absolute cache path for rawURL.
func (b *BlobStore) PathFor(rawURL string) string {
	return filepath.Join(b.dir, FileName(rawURL))
}

func extension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}

	ext := strings.ToLower(path.Ext(p))
	if len(ext) < 2 || len(ext) > maxExtLen+1 {
		return defaultExt
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return defaultExt
		}
	}
	return ext
}

// Write stores data as the cache file for rawURL and returns its path and size.
//
// Bytes go to a temp file which is fsynced and renamed into place. Any failure,
// a cancelled ctx, or an empty payload removes the temp file and leaves no
// file behind for rawURL.
func (b *BlobStore) Write(ctx context.Context, rawURL string, data []byte) (string, int64, error) {
	if err := os.MkdirAll(b.dir, dirPerm); err != nil {
		return "", 0, fmt.Errorf("%w: create cache dir: %w", domain.ErrStorage, err)
	}

	f, err := os.CreateTemp(b.dir, tmpPrefix+"*")
	if err != nil {
		return "", 0, fmt.Errorf("%w: create temp file: %w", domain.ErrStorage, err)
	}
	tmpPath := f.Name()

	size, err := writeChunks(ctx, f, data)
	if err == nil && size == 0 {
		err = domain.ErrEmptyContent
	}
	if err == nil {
		if syncErr := f.Sync(); syncErr != nil {
			err = fmt.Errorf("%w: fsync: %w", domain.ErrStorage, syncErr)
		}
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: close temp file: %w", domain.ErrStorage, closeErr)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", 0, err
	}

	finalPath := b.PathFor(rawURL)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("%w: rename into place: %w", domain.ErrStorage, err)
	}

	return finalPath, size, nil
}

func writeChunks(ctx context.Context, f *os.File, data []byte) (int64, error) {
	var written int64
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n := min(len(data), writeChunk)
		m, err := f.Write(data[:n])
		written += int64(m)
		if err != nil {
			return written, fmt.Errorf("%w: write: %w", domain.ErrStorage, err)
		}
		data = data[n:]
	}
	return written, nil
}

// Exists reports whether a regular file exists at p.
func (b *BlobStore) Exists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes the file at p. A missing file is not an error.
func (b *BlobStore) Remove(p string) error {
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove %s: %w", domain.ErrStorage, p, err)
	}
	return nil
}

// List returns the absolute path of every entry in the cache directory,
// including temp files left behind by a crash.
func (b *BlobStore) List() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read cache dir: %w", domain.ErrStorage, err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, filepath.Join(b.dir, e.Name()))
	}
	return paths, nil
}

// Clear removes everything inside the cache directory but keeps the directory.
func (b *BlobStore) Clear() error {
	paths, err := b.List()
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("%w: remove %s: %w", domain.ErrStorage, p, err)
		}
	}
	return nil
}
