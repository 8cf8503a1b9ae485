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

var _ domain.PostRepository = (*SQLitePostRepository)(nil)

const defaultListLimit = 20

// SQLitePostRepository implements domain.PostRepository using SQL database (SQLite)
type SQLitePostRepository struct {
	syncStateTable
	db *sql.DB
}

// NewPostRepository creates a new SQLitePostRepository from a standard sql.DB
func NewPostRepository(sqlDB *sql.DB) *SQLitePostRepository {
	return &SQLitePostRepository{
		syncStateTable: newSyncStateTable(sqlDB, "posts"),
		db:             sqlDB,
	}
}

const postColumns = `id, author_id, book_id, title, body, body_html, snippet, image_url,
	comment_count, sync_state, revision, created_at_ms, updated_at_ms`

const createPostQuery = `
	INSERT INTO posts (` + postColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// CreatePost inserts p as a new Local post at revision 1.
func (r *SQLitePostRepository) CreatePost(ctx context.Context, p *domain.Post) error {
	if err := validatePost(p); err != nil {
		return err
	}

	p.SyncState = domain.Local
	p.Revision = 1
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	_, err := db.GetExecutor(ctx, r.db).ExecContext(ctx, createPostQuery, postArgs(p)...)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

func validatePost(p *domain.Post) error {
	if p == nil {
		return fmt.Errorf("%w: post cannot be nil", domain.ErrInvalid)
	}
	if p.ID == "" {
		return fmt.Errorf("%w: post ID cannot be empty", domain.ErrInvalid)
	}
	if p.CreatedAt.IsZero() {
		return fmt.Errorf("%w: post creation time cannot be zero", domain.ErrInvalid)
	}
	return nil
}

func postArgs(p *domain.Post) []any {
	return []any{
		p.ID,
		p.AuthorID,
		p.BookID,
		p.Title,
		p.Body,
		p.BodyHTML,
		p.Snippet,
		p.ImageURL,
		p.CommentCount,
		string(p.SyncState),
		p.Revision,
		p.CreatedAt.UnixMilli(),
		p.UpdatedAt.UnixMilli(),
	}
}

const updatePostContentQuery = `
	UPDATE posts
	SET title = ?, body = ?, body_html = ?, snippet = ?, image_url = ?, book_id = ?,
		updated_at_ms = ?, revision = revision + 1, sync_state = 'local'
	WHERE id = ?
	RETURNING revision
`

// UpdatePostContent stores edited content and leaves the post pending.
func (r *SQLitePostRepository) UpdatePostContent(ctx context.Context, p *domain.Post) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: post ID cannot be empty", domain.ErrInvalid)
	}

	var revision int64
	err := db.GetExecutor(ctx, r.db).QueryRowContext(ctx, updatePostContentQuery,
		p.Title,
		p.Body,
		p.BodyHTML,
		p.Snippet,
		p.ImageURL,
		p.BookID,
		p.UpdatedAt.UnixMilli(),
		p.ID,
	).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: post %s", domain.ErrNotFound, p.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}

	p.Revision = revision
	p.SyncState = domain.Local
	return nil
}

const getPostQuery = `
	SELECT ` + postColumns + `
	FROM posts
	WHERE id = ?
`

// GetPost retrieves a single post by ID
func (r *SQLitePostRepository) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: post ID cannot be empty", domain.ErrInvalid)
	}

	var row postRow
	err := db.GetExecutor(ctx, r.db).QueryRowContext(ctx, getPostQuery, id).Scan(row.fields()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: post %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}

	return row.toDomain()
}

const listPostsQuery = `
	SELECT ` + postColumns + `
	FROM posts
	ORDER BY created_at_ms DESC, id
	LIMIT ? OFFSET ?
`

// ListPosts retrieves posts ordered by creation time descending
func (r *SQLitePostRepository) ListPosts(ctx context.Context, limit, offset int) ([]*domain.Post, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	return r.queryPosts(ctx, listPostsQuery, limit, offset)
}

const listPendingPostsQuery = `
	SELECT ` + postColumns + `
	FROM posts
	WHERE sync_state != 'synced'
	ORDER BY created_at_ms, id
`

// ListPendingPosts returns Local and Syncing posts, oldest first.
func (r *SQLitePostRepository) ListPendingPosts(ctx context.Context) ([]*domain.Post, error) {
	return r.queryPosts(ctx, listPendingPostsQuery)
}

func (r *SQLitePostRepository) queryPosts(ctx context.Context, query string, args ...any) ([]*domain.Post, error) {
	rows, err := db.GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	posts := make([]*domain.Post, 0)
	for rows.Next() {
		var row postRow
		if err := rows.Scan(row.fields()...); err != nil {
			return nil, fmt.Errorf("failed to scan post row: %w", err)
		}
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post rows: %w", err)
	}

	return posts, nil
}

const upsertSyncedPostQuery = `
	INSERT INTO posts (` + postColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		author_id = excluded.author_id,
		book_id = excluded.book_id,
		title = excluded.title,
		body = excluded.body,
		body_html = excluded.body_html,
		snippet = excluded.snippet,
		image_url = excluded.image_url,
		comment_count = MAX(excluded.comment_count, posts.comment_count),
		updated_at_ms = excluded.updated_at_ms
	WHERE posts.sync_state = 'synced'
`

// UpsertSyncedPost mirrors a remote post locally. The stored revision of an
// existing row is kept so a pending guard stays valid. The comment count never
// drops below the local one, which includes comments not yet pushed.
func (r *SQLitePostRepository) UpsertSyncedPost(ctx context.Context, p *domain.Post) (bool, error) {
	if err := validatePost(p); err != nil {
		return false, err
	}

	mirrored := *p
	mirrored.SyncState = domain.Synced
	if mirrored.Revision <= 0 {
		mirrored.Revision = 1
	}
	if mirrored.UpdatedAt.IsZero() {
		mirrored.UpdatedAt = mirrored.CreatedAt
	}

	res, err := db.GetExecutor(ctx, r.db).ExecContext(ctx, upsertSyncedPostQuery, postArgs(&mirrored)...)
	if err != nil {
		return false, fmt.Errorf("failed to upsert synced post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// postRow is a private struct used to scan database rows
// and provides a method to convert to the domain.Post model
type postRow struct {
	ID           string
	AuthorID     string
	BookID       string
	Title        string
	Body         string
	BodyHTML     string
	Snippet      string
	ImageURL     string
	CommentCount int
	SyncState    string
	Revision     int64
	CreatedAtMs  int64
	UpdatedAtMs  int64
}

func (pr *postRow) fields() []any {
	return []any{
		&pr.ID,
		&pr.AuthorID,
		&pr.BookID,
		&pr.Title,
		&pr.Body,
		&pr.BodyHTML,
		&pr.Snippet,
		&pr.ImageURL,
		&pr.CommentCount,
		&pr.SyncState,
		&pr.Revision,
		&pr.CreatedAtMs,
		&pr.UpdatedAtMs,
	}
}

// toDomain converts a postRow to a domain.Post
func (pr *postRow) toDomain() (*domain.Post, error) {
	state, err := domain.ParseSyncState(pr.SyncState)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", pr.ID, err)
	}

	return &domain.Post{
		ID:           pr.ID,
		AuthorID:     pr.AuthorID,
		BookID:       pr.BookID,
		Title:        pr.Title,
		Body:         pr.Body,
		BodyHTML:     pr.BodyHTML,
		Snippet:      pr.Snippet,
		ImageURL:     pr.ImageURL,
		CommentCount: pr.CommentCount,
		CreatedAt:    time.UnixMilli(pr.CreatedAtMs).UTC(),
		UpdatedAt:    time.UnixMilli(pr.UpdatedAtMs).UTC(),
		SyncState:    state,
		Revision:     pr.Revision,
	}, nil
}
