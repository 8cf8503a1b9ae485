package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dfryer1193/readshelf/shared/db"
	"github.com/dfryer1193/readshelf/social/domain"
)

// syncStateTable implements domain.SyncStateStore for one table. Every update
// is guarded by revision so a push never overwrites a newer local edit.
type syncStateTable struct {
	db *sql.DB

	markSyncingQuery string
	markSyncedQuery  string
	markLocalQuery   string
}

func newSyncStateTable(sqlDB *sql.DB, table string) syncStateTable {
	return syncStateTable{
		db: sqlDB,
		markSyncingQuery: fmt.Sprintf(
			`UPDATE %s SET sync_state = '%s' WHERE id = ? AND revision = ? AND sync_state != '%s'`,
			table, domain.Syncing, domain.Synced),
		markSyncedQuery: fmt.Sprintf(
			`UPDATE %s SET sync_state = '%s' WHERE id = ? AND revision = ?`,
			table, domain.Synced),
		markLocalQuery: fmt.Sprintf(
			`UPDATE %s SET sync_state = '%s' WHERE id = ? AND sync_state = '%s'`,
			table, domain.Local, domain.Syncing),
	}
}

func (t syncStateTable) MarkSyncing(ctx context.Context, id string, revision int64) (bool, error) {
	return t.exec(ctx, t.markSyncingQuery, id, revision)
}

func (t syncStateTable) MarkSynced(ctx context.Context, id string, revision int64) (bool, error) {
	return t.exec(ctx, t.markSyncedQuery, id, revision)
}

func (t syncStateTable) MarkLocal(ctx context.Context, id string) error {
	_, err := t.exec(ctx, t.markLocalQuery, id)
	return err
}

func (t syncStateTable) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := db.GetExecutor(ctx, t.db).ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update sync state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

