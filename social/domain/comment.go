package domain

import (
	"context"
	"time"
)

// Comment belongs to a post and is ordered by creation time.
type Comment struct {
	ID        string
	PostID    string
	AuthorID  string
	Content   string
	CreatedAt time.Time

	SyncState SyncState
	Revision  int64
}

type CommentRepository interface {
	CreateComment(ctx context.Context, c *Comment) error
	GetComment(ctx context.Context, id string) (*Comment, error)
	// ListComments returns the comments of a post, oldest first.
	ListComments(ctx context.Context, postID string) ([]*Comment, error)
	ListPendingComments(ctx context.Context) ([]*Comment, error)

	SyncStateStore
}

// SyncStateStore is the only write access the sync coordinator has to a
// table. It never touches content columns.
type SyncStateStore interface {
	// MarkSyncing moves the row to Syncing if it is still at revision.
	MarkSyncing(ctx context.Context, id string, revision int64) (bool, error)
	// MarkSynced moves the row to Synced if it is still at revision. A false
	// result means it was edited during the push and stays pending.
	MarkSynced(ctx context.Context, id string, revision int64) (bool, error)
	// MarkLocal returns a Syncing row to Local after a failed push.
	MarkLocal(ctx context.Context, id string) error
}
