package application

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/dfryer1193/readshelf/shared/remote"
	"github.com/dfryer1193/readshelf/social/domain"
)

const (
	postsCollection    = "posts"
	commentsCollection = "comments"
)

// postDocument is the remote shape of a post. Likes and CommentIDs are only
// ever changed through atomic updates.
type postDocument struct {
	ID           string   `json:"id"`
	AuthorID     string   `json:"authorId"`
	BookID       string   `json:"bookId"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	BodyHTML     string   `json:"bodyHtml"`
	Snippet      string   `json:"snippet"`
	ImageURL     string   `json:"imageUrl"`
	Likes        []string `json:"likes"`
	CommentIDs   []string `json:"commentIds"`
	CommentCount int      `json:"commentCount"`
	CreatedAtMs  int64    `json:"createdAtMs"`
	UpdatedAtMs  int64    `json:"updatedAtMs"`
}

type commentDocument struct {
	ID          string `json:"id"`
	PostID      string `json:"postId"`
	AuthorID    string `json:"authorId"`
	Content     string `json:"content"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

func postRef(id string) remote.Ref {
	return remote.Ref{Collection: postsCollection, ID: id}
}

func commentRef(id string) remote.Ref {
	return remote.Ref{Collection: commentsCollection, ID: id}
}

// fields decodes a document into its top-level fields so updates keep keys
// this client does not know about.
func fields(cur *remote.Document) (map[string]json.RawMessage, error) {
	m := make(map[string]json.RawMessage)
	if cur == nil || len(cur.Data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(cur.Data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", cur.Ref(), err)
	}
	return m, nil
}

func setField(m map[string]json.RawMessage, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m[key] = raw
	return nil
}

// mergePost writes the content of p over the current remote document and
// keeps likes and comment ids. Applying it twice yields the same document.
func mergePost(p *domain.Post) remote.Mutator {
	return func(cur *remote.Document) (any, error) {
		m, err := fields(cur)
		if err != nil {
			return nil, err
		}

		content := map[string]any{
			"id":          p.ID,
			"authorId":    p.AuthorID,
			"bookId":      p.BookID,
			"title":       p.Title,
			"body":        p.Body,
			"bodyHtml":    p.BodyHTML,
			"snippet":     p.Snippet,
			"imageUrl":    p.ImageURL,
			"createdAtMs": p.CreatedAt.UnixMilli(),
			"updatedAtMs": p.UpdatedAt.UnixMilli(),
		}
		for k, v := range content {
			if err := setField(m, k, v); err != nil {
				return nil, err
			}
		}
		for _, k := range []string{"likes", "commentIds"} {
			if _, ok := m[k]; !ok {
				m[k] = json.RawMessage("[]")
			}
		}
		if _, ok := m["commentCount"]; !ok {
			m["commentCount"] = json.RawMessage("0")
		}
		return m, nil
	}
}

// linkComment adds commentID to the parent's comment set and derives the
// count from it, so a repeated push does not double count.
func linkComment(commentID string) remote.Mutator {
	return func(cur *remote.Document) (any, error) {
		if cur == nil {
			return nil, remote.ErrNotFound
		}
		m, err := fields(cur)
		if err != nil {
			return nil, err
		}

		var ids []string
		if raw, ok := m["commentIds"]; ok {
			if err := json.Unmarshal(raw, &ids); err != nil {
				return nil, fmt.Errorf("decode commentIds: %w", err)
			}
		}
		if !slices.Contains(ids, commentID) {
			ids = append(ids, commentID)
		}

		if err := setField(m, "commentIds", ids); err != nil {
			return nil, err
		}
		if err := setField(m, "commentCount", len(ids)); err != nil {
			return nil, err
		}
		return m, nil
	}
}

// toggleLike adds userID to the like set, or removes it if present.
func toggleLike(userID string) remote.Mutator {
	return func(cur *remote.Document) (any, error) {
		if cur == nil {
			return nil, remote.ErrNotFound
		}
		m, err := fields(cur)
		if err != nil {
			return nil, err
		}

		var likes []string
		if raw, ok := m["likes"]; ok {
			if err := json.Unmarshal(raw, &likes); err != nil {
				return nil, fmt.Errorf("decode likes: %w", err)
			}
		}

		if i := slices.Index(likes, userID); i >= 0 {
			likes = slices.Delete(likes, i, i+1)
		} else {
			likes = append(likes, userID)
		}
		if likes == nil {
			likes = []string{}
		}

		if err := setField(m, "likes", likes); err != nil {
			return nil, err
		}
		return m, nil
	}
}

func commentToDocument(c *domain.Comment) commentDocument {
	return commentDocument{
		ID:          c.ID,
		PostID:      c.PostID,
		AuthorID:    c.AuthorID,
		Content:     c.Content,
		CreatedAtMs: c.CreatedAt.UnixMilli(),
	}
}

func (d *postDocument) toDomain() *domain.Post {
	count := d.CommentCount
	if n := len(d.CommentIDs); n > count {
		count = n
	}
	return &domain.Post{
		ID:           d.ID,
		AuthorID:     d.AuthorID,
		BookID:       d.BookID,
		Title:        d.Title,
		Body:         d.Body,
		BodyHTML:     d.BodyHTML,
		Snippet:      d.Snippet,
		ImageURL:     d.ImageURL,
		CommentCount: count,
		CreatedAt:    time.UnixMilli(d.CreatedAtMs).UTC(),
		UpdatedAt:    time.UnixMilli(d.UpdatedAtMs).UTC(),
	}
}
