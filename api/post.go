package api

type Post struct {
	ID           string `json:"id"`
	AuthorID     string `json:"author_id"`
	BookID       string `json:"book_id"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	BodyHTML     string `json:"body_html"`
	Snippet      string `json:"snippet"`
	ImageURL     string `json:"image_url,omitempty"`
	CommentCount int    `json:"comment_count"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	SyncState    string `json:"sync_state"`
	PendingSync  bool   `json:"pending_sync"`
}

type PostProto struct {
	AuthorID string `json:"author_id" binding:"required"`
	BookID   string `json:"book_id"`
	Title    string `json:"title"`
	Body     string `json:"body" binding:"required"`
}

type LikeProto struct {
	UserID string `json:"user_id" binding:"required"`
}

type LikeResult struct {
	PostID string `json:"post_id"`
	Liked  bool   `json:"liked"`
}

type UploadResult struct {
	URL string `json:"url"`
}

type SyncResult struct {
	PostsPushed     int    `json:"posts_pushed"`
	PostsFailed     int    `json:"posts_failed"`
	CommentsPushed  int    `json:"comments_pushed"`
	CommentsFailed  int    `json:"comments_failed"`
	CommentsSkipped int    `json:"comments_skipped"`
	Stale           int    `json:"stale"`
	Duration        string `json:"duration"`
}

type Status struct {
	Connected bool `json:"connected"`
}
