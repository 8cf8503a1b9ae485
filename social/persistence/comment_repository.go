package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dfryer1193/readshelf/shared/db"
	"github.com/dfryer1193/readshelf/social/domain"
)

var _ domain.CommentRepository = (*SQLiteCommentRepository)(nil)

// SQLiteCommentRepository implements domain.CommentRepository on the comments table.
type SQLiteCommentRepository struct {
	syncStateTable
	db *sql.DB
}

func NewCommentRepository(sqlDB *sql.DB) *SQLiteCommentRepository {
	return &SQLiteCommentRepository{
		syncStateTable: newSyncStateTable(sqlDB, "comments"),
		db:             sqlDB,
	}
}

const commentColumns = `id, post_id, author_id, content, sync_state, revision, created_at_ms`

const createCommentQuery = `
	INSERT INTO comments (` + commentColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?)
`

const bumpCommentCountQuery = `
	UPDATE posts SET comment_count = comment_count + 1 WHERE id = ?
`

// CreateComment inserts c as a new Local comment and counts it on its parent
// post in the same transaction. The parent post must exist locally.
func (r *SQLiteCommentRepository) CreateComment(ctx context.Context, c *domain.Comment) error {
	if c == nil {
		return fmt.Errorf("%w: comment cannot be nil", domain.ErrInvalid)
	}
	if c.ID == "" || c.PostID == "" {
		return fmt.Errorf("%w: comment and post IDs cannot be empty", domain.ErrInvalid)
	}

	c.SyncState = domain.Local
	c.Revision = 1

	return db.RunInTransaction(ctx, r.db, func(ctx context.Context) error {
		exec := db.GetExecutor(ctx, r.db)
		_, err := exec.ExecContext(ctx, createCommentQuery,
			c.ID,
			c.PostID,
			c.AuthorID,
			c.Content,
			string(c.SyncState),
			c.Revision,
			c.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to create comment: %w", err)
		}

		if _, err := exec.ExecContext(ctx, bumpCommentCountQuery, c.PostID); err != nil {
			return fmt.Errorf("failed to count comment on post %s: %w", c.PostID, err)
		}
		return nil
	})
}

const getCommentQuery = `
	SELECT ` + commentColumns + `
	FROM comments
	WHERE id = ?
`

func (r *SQLiteCommentRepository) GetComment(ctx context.Context, id string) (*domain.Comment, error) {
	var row commentRow
	err := db.GetExecutor(ctx, r.db).QueryRowContext(ctx, getCommentQuery, id).Scan(row.fields()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: comment %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get comment: %w", err)
	}
	return row.toDomain()
}

const listCommentsQuery = `
	SELECT ` + commentColumns + `
	FROM comments
	WHERE post_id = ?
	ORDER BY created_at_ms, id
`

func (r *SQLiteCommentRepository) ListComments(ctx context.Context, postID string) ([]*domain.Comment, error) {
	return r.queryComments(ctx, listCommentsQuery, postID)
}

const listPendingCommentsQuery = `
	SELECT ` + commentColumns + `
	FROM comments
	WHERE sync_state != 'synced'
	ORDER BY created_at_ms, id
`

func (r *SQLiteCommentRepository) ListPendingComments(ctx context.Context) ([]*domain.Comment, error) {
	return r.queryComments(ctx, listPendingCommentsQuery)
}

func (r *SQLiteCommentRepository) queryComments(ctx context.Context, query string, args ...any) ([]*domain.Comment, error) {
	rows, err := db.GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]*domain.Comment, 0)
	for rows.Next() {
		var row commentRow
		if err := rows.Scan(row.fields()...); err != nil {
			return nil, fmt.Errorf("failed to scan comment row: %w", err)
		}
		c, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comment rows: %w", err)
	}
	return comments, nil
}

type commentRow struct {
	ID          string
	PostID      string
	AuthorID    string
	Content     string
	SyncState   string
	Revision    int64
	CreatedAtMs int64
}

func (cr *commentRow) fields() []any {
	return []any{&cr.ID, &cr.PostID, &cr.AuthorID, &cr.Content, &cr.SyncState, &cr.Revision, &cr.CreatedAtMs}
}

func (cr *commentRow) toDomain() (*domain.Comment, error) {
	state, err := domain.ParseSyncState(cr.SyncState)
	if err != nil {
		return nil, fmt.Errorf("comment %s: %w", cr.ID, err)
	}
	return &domain.Comment{
		ID:        cr.ID,
		PostID:    cr.PostID,
		AuthorID:  cr.AuthorID,
		Content:   cr.Content,
		CreatedAt: time.UnixMilli(cr.CreatedAtMs).UTC(),
		SyncState: state,
		Revision:  cr.Revision,
	}, nil
}
