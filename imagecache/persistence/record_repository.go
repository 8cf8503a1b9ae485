package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dfryer1193/readshelf/imagecache/domain"
	"github.com/dfryer1193/readshelf/shared/db"
)

var _ domain.MetadataStore = (*SQLiteRecordRepository)(nil)

// SQLiteRecordRepository implements domain.MetadataStore on the cache_records table.
type SQLiteRecordRepository struct {
	db *sql.DB
}

// NewRecordRepository creates a new SQLiteRecordRepository from a standard sql.DB
func NewRecordRepository(sqlDB *sql.DB) *SQLiteRecordRepository {
	return &SQLiteRecordRepository{
		db: sqlDB,
	}
}

const getRecordQuery = `
	SELECT url, local_path, timestamp_ms, size_bytes, mime_type, digest
	FROM cache_records
	WHERE url = ?
`

// Get returns the record for url, or domain.ErrRecordNotFound.
func (r *SQLiteRecordRepository) Get(ctx context.Context, url string) (*domain.CacheRecord, error) {
	if url == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}

	var row recordRow
	err := db.GetExecutor(ctx, r.db).QueryRowContext(ctx, getRecordQuery, url).Scan(row.fields()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache record: %w", err)
	}

	return row.toDomain(), nil
}

const upsertRecordQuery = `
	INSERT INTO cache_records (url, local_path, timestamp_ms, size_bytes, mime_type, digest)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		local_path = excluded.local_path,
		timestamp_ms = excluded.timestamp_ms,
		size_bytes = excluded.size_bytes,
		mime_type = excluded.mime_type,
		digest = excluded.digest
`

// Upsert writes rec, replacing any record for the same URL.
func (r *SQLiteRecordRepository) Upsert(ctx context.Context, rec *domain.CacheRecord) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if rec.URL == "" {
		return fmt.Errorf("record url cannot be empty")
	}

	_, err := db.GetExecutor(ctx, r.db).ExecContext(ctx, upsertRecordQuery,
		rec.URL,
		rec.LocalPath,
		rec.TimestampMs,
		rec.SizeBytes,
		rec.MimeType,
		rec.Digest,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cache record: %w", err)
	}

	return nil
}

const touchRecordQuery = `
	UPDATE cache_records SET timestamp_ms = ? WHERE url = ?
`

// Touch refreshes the access timestamp of the record for url.
func (r *SQLiteRecordRepository) Touch(ctx context.Context, url string, timestampMs int64) error {
	res, err := db.GetExecutor(ctx, r.db).ExecContext(ctx, touchRecordQuery, timestampMs, url)
	if err != nil {
		return fmt.Errorf("failed to touch cache record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read touched rows: %w", err)
	}
	if n == 0 {
		return domain.ErrRecordNotFound
	}

	return nil
}

const deleteRecordQuery = `
	DELETE FROM cache_records WHERE url = ?
`

// Delete removes the record for url. Deleting a missing record is not an error.
func (r *SQLiteRecordRepository) Delete(ctx context.Context, url string) error {
	_, err := db.GetExecutor(ctx, r.db).ExecContext(ctx, deleteRecordQuery, url)
	if err != nil {
		return fmt.Errorf("failed to delete cache record: %w", err)
	}
	return nil
}

const deleteOlderThanQuery = `
	DELETE FROM cache_records WHERE timestamp_ms < ?
`

// DeleteOlderThan removes records whose timestamp is strictly before cutoffMs.
// The range is served by idx_cache_records_timestamp.
func (r *SQLiteRecordRepository) DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	res, err := db.GetExecutor(ctx, r.db).ExecContext(ctx, deleteOlderThanQuery, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache records: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted rows: %w", err)
	}
	return n, nil
}

const listRecordsQuery = `
	SELECT url, local_path, timestamp_ms, size_bytes, mime_type, digest
	FROM cache_records
	ORDER BY timestamp_ms DESC
`

// List returns every record, most recently used first.
func (r *SQLiteRecordRepository) List(ctx context.Context) ([]*domain.CacheRecord, error) {
	rows, err := db.GetExecutor(ctx, r.db).QueryContext(ctx, listRecordsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache records: %w", err)
	}
	defer rows.Close()

	records := make([]*domain.CacheRecord, 0)
	for rows.Next() {
		var row recordRow
		if err := rows.Scan(row.fields()...); err != nil {
			return nil, fmt.Errorf("failed to scan cache record: %w", err)
		}
		records = append(records, row.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache records: %w", err)
	}
	return records, nil
}

// Clear removes every record.
func (r *SQLiteRecordRepository) Clear(ctx context.Context) error {
	if _, err := db.GetExecutor(ctx, r.db).ExecContext(ctx, `DELETE FROM cache_records`); err != nil {
		return fmt.Errorf("failed to clear cache records: %w", err)
	}
	return nil
}

// recordRow is a private struct used to scan database rows
type recordRow struct {
	URL         string `db:"url"`
	LocalPath   string `db:"local_path"`
	TimestampMs int64  `db:"timestamp_ms"`
	SizeBytes   int64  `db:"size_bytes"`
	MimeType    string `db:"mime_type"`
	Digest      string `db:"digest"`
}

func (rr *recordRow) fields() []any {
	return []any{&rr.URL, &rr.LocalPath, &rr.TimestampMs, &rr.SizeBytes, &rr.MimeType, &rr.Digest}
}

func (rr *recordRow) toDomain() *domain.CacheRecord {
	return &domain.CacheRecord{
		URL:         rr.URL,
		LocalPath:   rr.LocalPath,
		TimestampMs: rr.TimestampMs,
		SizeBytes:   rr.SizeBytes,
		MimeType:    rr.MimeType,
		Digest:      rr.Digest,
	}
}
