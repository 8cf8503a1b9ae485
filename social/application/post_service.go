package application

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dfryer1193/readshelf/shared/connectivity"
	"github.com/dfryer1193/readshelf/shared/remote"
	"github.com/dfryer1193/readshelf/social/domain"
)

const (
	maxTitleLength   = 200
	maxBodyLength    = 64 * 1024
	maxCommentLength = 4 * 1024
	prefetchWorkers  = 4
)

// SyncRequester is told about new local writes.
type SyncRequester interface {
	RequestSync()
}

// ImageResolver warms the local image cache.
type ImageResolver interface {
	Resolve(ctx context.Context, url string) (string, bool)
}

// PostDraft is the user-authored part of a post.
type PostDraft struct {
	AuthorID string
	BookID   string
	Title    string
	// Body is markdown.
	Body string
}

// CommentDraft is the user-authored part of a comment.
type CommentDraft struct {
	AuthorID string
	Content  string
}

// PostService is the write and read path the UI uses for posts and comments.
// Writes land locally first and are pushed by the sync coordinator; likes go
// straight to the remote store.
type PostService struct {
	posts    domain.PostRepository
	comments domain.CommentRepository
	markdown MarkdownRenderer
	docs     remote.DocumentStore
	blobs    remote.BlobStore
	images   ImageResolver
	monitor  *connectivity.Monitor
	sync     SyncRequester
	now      func() time.Time
}

func NewPostService(
	posts domain.PostRepository,
	comments domain.CommentRepository,
	markdown MarkdownRenderer,
	docs remote.DocumentStore,
	blobs remote.BlobStore,
	images ImageResolver,
	monitor *connectivity.Monitor,
	sync SyncRequester,
) *PostService {
	return &PostService{
		posts:    posts,
		comments: comments,
		markdown: markdown,
		docs:     docs,
		blobs:    blobs,
		images:   images,
		monitor:  monitor,
		sync:     sync,
		now:      time.Now,
	}
}

// CreatePost stores a new post locally and returns it. It is visible in the
// feed immediately and pushed when connectivity allows.
func (s *PostService) CreatePost(ctx context.Context, draft PostDraft) (*domain.Post, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	rendered, err := s.markdown.Render([]byte(draft.Body))
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &domain.Post{
		ID:        uuid.NewString(),
		AuthorID:  draft.AuthorID,
		BookID:    draft.BookID,
		Title:     reviewTitle(draft.Title, rendered),
		Body:      draft.Body,
		BodyHTML:  rendered.HTML,
		Snippet:   rendered.Snippet,
		ImageURL:  rendered.FirstImageURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.posts.CreatePost(ctx, p); err != nil {
		return nil, err
	}

	log.Debug().Str("post_id", p.ID).Msg("Post created locally")
	s.requestSync()
	return p, nil
}

// EditPost replaces the content of a post. The post becomes pending again.
func (s *PostService) EditPost(ctx context.Context, id string, draft PostDraft) (*domain.Post, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	p, err := s.posts.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.AuthorID != draft.AuthorID {
		return nil, fmt.Errorf("%w: only the author can edit post %s", domain.ErrInvalid, id)
	}

	rendered, err := s.markdown.Render([]byte(draft.Body))
	if err != nil {
		return nil, err
	}

	if draft.BookID != "" {
		p.BookID = draft.BookID
	}
	p.Title = reviewTitle(draft.Title, rendered)
	p.Body = draft.Body
	p.BodyHTML = rendered.HTML
	p.Snippet = rendered.Snippet
	p.ImageURL = rendered.FirstImageURL
	p.UpdatedAt = s.now().UTC()

	if err := s.posts.UpdatePostContent(ctx, p); err != nil {
		return nil, err
	}

	s.requestSync()
	return p, nil
}

// AddComment stores a comment locally under an existing post.
func (s *PostService) AddComment(ctx context.Context, postID string, draft CommentDraft) (*domain.Comment, error) {
	content := strings.TrimSpace(draft.Content)
	switch {
	case draft.AuthorID == "":
		return nil, fmt.Errorf("%w: author is required", domain.ErrInvalid)
	case content == "":
		return nil, fmt.Errorf("%w: comment is empty", domain.ErrInvalid)
	case len(content) > maxCommentLength:
		return nil, fmt.Errorf("%w: comment longer than %d bytes", domain.ErrInvalid, maxCommentLength)
	}

	if _, err := s.posts.GetPost(ctx, postID); err != nil {
		return nil, err
	}

	c := &domain.Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		AuthorID:  draft.AuthorID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.comments.CreateComment(ctx, c); err != nil {
		return nil, err
	}

	s.requestSync()
	return c, nil
}

// ToggleLike likes or unlikes a post for userID as one atomic remote update
// and reports whether the post is now liked. A missing post or an unreachable
// remote is returned to the caller.
func (s *PostService) ToggleLike(ctx context.Context, postID, userID string) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("%w: user is required", domain.ErrInvalid)
	}

	doc, err := s.docs.RunAtomicUpdate(ctx, postRef(postID), toggleLike(userID))
	if errors.Is(err, remote.ErrNotFound) {
		return false, fmt.Errorf("%w: post %s is not on the server yet", domain.ErrNotFound, postID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to toggle like: %w", err)
	}

	var pd postDocument
	if err := doc.Decode(&pd); err != nil {
		return false, err
	}
	return slices.Contains(pd.Likes, userID), nil
}

// Feed returns local posts newest first. Pending posts are included.
func (s *PostService) Feed(ctx context.Context, limit, offset int) ([]*domain.Post, error) {
	return s.posts.ListPosts(ctx, limit, offset)
}

// Post returns one local post.
func (s *PostService) Post(ctx context.Context, id string) (*domain.Post, error) {
	return s.posts.GetPost(ctx, id)
}

// Comments returns the local comments of a post, oldest first.
func (s *PostService) Comments(ctx context.Context, postID string) ([]*domain.Comment, error) {
	if _, err := s.posts.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	return s.comments.ListComments(ctx, postID)
}

// UploadPostImage uploads an image for a post and returns its download URL,
// ready to be referenced from the markdown body.
func (s *PostService) UploadPostImage(ctx context.Context, postID string, data []byte, name string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: image is empty", domain.ErrInvalid)
	}
	if postID == "" {
		return "", fmt.Errorf("%w: post ID cannot be empty", domain.ErrInvalid)
	}

	ext := strings.ToLower(path.Ext(name))
	objectPath := path.Join("posts", postID, uuid.NewString()+ext)

	u, err := s.blobs.Upload(ctx, data, objectPath)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	return u, nil
}

// PrefetchImages resolves urls through the image cache with bounded
// concurrency and returns how many are now cached. Failures only count as
// misses.
func (s *PostService) PrefetchImages(ctx context.Context, urls []string) int {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchWorkers)

	hits := make([]bool, len(urls))
	for i, u := range urls {
		if u == "" {
			continue
		}
		g.Go(func() error {
			_, hits[i] = s.images.Resolve(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, hit := range hits {
		if hit {
			n++
		}
	}
	return n
}

func (s *PostService) requestSync() {
	if s.sync != nil && s.monitor.IsCurrentlyConnected() {
		s.sync.RequestSync()
	}
}

func validateDraft(d PostDraft) error {
	switch {
	case d.AuthorID == "":
		return fmt.Errorf("%w: author is required", domain.ErrInvalid)
	case strings.TrimSpace(d.Body) == "":
		return fmt.Errorf("%w: body is empty", domain.ErrInvalid)
	case len(d.Body) > maxBodyLength:
		return fmt.Errorf("%w: body longer than %d bytes", domain.ErrInvalid, maxBodyLength)
	case len(d.Title) > maxTitleLength:
		return fmt.Errorf("%w: title longer than %d bytes", domain.ErrInvalid, maxTitleLength)
	}
	return nil
}
