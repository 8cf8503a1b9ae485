package api

type Comment struct {
	ID          string `json:"id"`
	PostID      string `json:"post_id"`
	AuthorID    string `json:"author_id"`
	Content     string `json:"content"`
	CreatedAt   string `json:"created_at"`
	SyncState   string `json:"sync_state"`
	PendingSync bool   `json:"pending_sync"`
}

type CommentProto struct {
	PostID   string `json:"post_id" binding:"required"`
	AuthorID string `json:"author_id" binding:"required"`
	Content  string `json:"content" binding:"required"`
}
