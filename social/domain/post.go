package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means no local row exists for the id.
	ErrNotFound = errors.New("not found")
	// ErrInvalid marks a draft that cannot be stored.
	ErrInvalid = errors.New("invalid")
)

// Post is a review of a book. ID is generated on the device at write time and
// reused for the remote upsert.
type Post struct {
	ID           string
	AuthorID     string
	BookID       string
	Title        string
	Body         string
	BodyHTML     string
	Snippet      string
	ImageURL     string
	CommentCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time

	SyncState SyncState
	// Revision increases on every local content edit.
	Revision int64
}

type PostRepository interface {
	// CreatePost inserts a new local post.
	CreatePost(ctx context.Context, p *Post) error
	// UpdatePostContent stores edited content, bumps the revision and marks the
	// post Local. p.Revision is set to the new revision.
	UpdatePostContent(ctx context.Context, p *Post) error
	GetPost(ctx context.Context, id string) (*Post, error)
	// ListPosts returns posts newest first, pending ones included.
	ListPosts(ctx context.Context, limit, offset int) ([]*Post, error)
	// ListPendingPosts returns every post whose state is not Synced, oldest first.
	ListPendingPosts(ctx context.Context) ([]*Post, error)
	// UpsertSyncedPost stores a post received from the remote store. Rows with
	// unpushed local changes are left alone; reports whether the row was written.
	UpsertSyncedPost(ctx context.Context, p *Post) (bool, error)

	SyncStateStore
}
