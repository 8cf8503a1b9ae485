package rest

import (
	"time"

	"github.com/dfryer1193/readshelf/api"
	"github.com/dfryer1193/readshelf/social/domain"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toAPIPost(p *domain.Post) api.Post {
	return api.Post{
		ID:           p.ID,
		AuthorID:     p.AuthorID,
		BookID:       p.BookID,
		Title:        p.Title,
		Body:         p.Body,
		BodyHTML:     p.BodyHTML,
		Snippet:      p.Snippet,
		ImageURL:     p.ImageURL,
		CommentCount: p.CommentCount,
		CreatedAt:    formatTime(p.CreatedAt),
		UpdatedAt:    formatTime(p.UpdatedAt),
		SyncState:    string(p.SyncState),
		PendingSync:  p.SyncState.PendingSync(),
	}
}

func toAPIComment(c *domain.Comment) api.Comment {
	return api.Comment{
		ID:          c.ID,
		PostID:      c.PostID,
		AuthorID:    c.AuthorID,
		Content:     c.Content,
		CreatedAt:   formatTime(c.CreatedAt),
		SyncState:   string(c.SyncState),
		PendingSync: c.SyncState.PendingSync(),
	}
}
