package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dfryer1193/readshelf/shared/db/sqlite"
	"github.com/dfryer1193/readshelf/social/domain"
)

// setupTestDB creates an in-memory SQLite database with the full schema
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return database.DB()
}

func newPost(id string, created time.Time) *domain.Post {
	return &domain.Post{
		ID:        id,
		AuthorID:  "alice",
		BookID:    "book-1",
		Title:     "Review " + id,
		Body:      "Great **book**",
		BodyHTML:  "<p>Great <strong>book</strong></p>",
		Snippet:   "Great book",
		CreatedAt: created,
	}
}

func TestPostRepository_CreateAndGet(t *testing.T) {
	repo := NewPostRepository(setupTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	p := newPost("p1", now)
	if err := repo.CreatePost(ctx, p); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	if p.SyncState != domain.Local || p.Revision != 1 {
		t.Errorf("after CreatePost state = %s rev %d, want local rev 1", p.SyncState, p.Revision)
	}

	got, err := repo.GetPost(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPost() error = %v", err)
	}
	if got.Title != p.Title || got.BodyHTML != p.BodyHTML || got.AuthorID != "alice" {
		t.Errorf("GetPost() = %+v, want %+v", got, p)
	}
	if !got.CreatedAt.Equal(now) || !got.UpdatedAt.Equal(now) {
		t.Errorf("GetPost() times = %v/%v, want %v", got.CreatedAt, got.UpdatedAt, now)
	}
	if !got.SyncState.PendingSync() {
		t.Error("new post should be pending sync")
	}

	if err := repo.CreatePost(ctx, newPost("p1", now)); err == nil {
		t.Error("CreatePost() with duplicate id should fail")
	}
}

func TestPostRepository_CreatePost_Validation(t *testing.T) {
	repo := NewPostRepository(setupTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name string
		post *domain.Post
	}{
		{"nil", nil},
		{"empty id", newPost("", time.Now())},
		{"zero time", newPost("p1", time.Time{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.CreatePost(ctx, tt.post)
			if !errors.Is(err, domain.ErrInvalid) {
				t.Errorf("CreatePost() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestPostRepository_GetPost_NotFound(t *testing.T) {
	repo := NewPostRepository(setupTestDB(t))

	_, err := repo.GetPost(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetPost() error = %v, want ErrNotFound", err)
	}
}

func TestPostRepository_UpdatePostContent(t *testing.T) {
	repo := NewPostRepository(setupTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	p := newPost("p1", now)
	if err := repo.CreatePost(ctx, p); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	if ok, err := repo.MarkSynced(ctx, "p1", 1); err != nil || !ok {
		t.Fatalf("MarkSynced() = %v, %v", ok, err)
	}

	p.Title = "Edited"
	p.UpdatedAt = now.Add(time.Minute)
	if err := repo.UpdatePostContent(ctx, p); err != nil {
		t.Fatalf("UpdatePostContent() error = %v", err)
	}
	if p.Revision != 2 {
		t.Errorf("revision = %d, want 2", p.Revision)
	}

	got, _ := repo.GetPost(ctx, "p1")
	if got.Title != "Edited" || got.SyncState != domain.Local || got.Revision != 2 {
		t.Errorf("after edit got %q %s rev %d", got.Title, got.SyncState, got.Revision)
	}

	missing := newPost("nope", now)
	if err := repo.UpdatePostContent(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("UpdatePostContent(missing) error = %v, want ErrNotFound", err)
	}
}

func TestPostRepository_ListPosts(t *testing.T) {
	repo := NewPostRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		if err := repo.CreatePost(ctx, newPost(fmt.Sprintf("p%d", i), base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("CreatePost() error = %v", err)
		}
	}

	tests := []struct {
		name    string
		limit   int
		offset  int
		wantIDs []string
	}{
		{"first page", 2, 0, []string{"p4", "p3"}},
		{"second page", 2, 2, []string{"p2", "p1"}},
		{"past the end", 2, 10, []string{}},
		{"default limit", 0, 0, []string{"p4", "p3", "p2", "p1", "p0"}},
		{"negative offset", 1, -3, []string{"p4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts, err := repo.ListPosts(ctx, tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("ListPosts() error = %v", err)
			}
			if len(posts) != len(tt.wantIDs) {
				t.Fatalf("ListPosts() returned %d posts, want %d", len(posts), len(tt.wantIDs))
			}
			for i, p := range posts {
				if p.ID != tt.wantIDs[i] {
					t.Errorf("posts[%d].ID = %s, want %s", i, p.ID, tt.wantIDs[i])
				}
			}
		})
	}
}

func TestPostRepository_SyncStateGuards(t *testing.T) {
	repo := NewPostRepository(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"a", "b", "c"} {
		if err := repo.CreatePost(ctx, newPost(id, now)); err != nil {
			t.Fatalf("CreatePost() error = %v", err)
		}
	}

	// a: pushed cleanly
	if ok, _ := repo.MarkSyncing(ctx, "a", 1); !ok {
		t.Fatal("MarkSyncing(a) should apply")
	}
	if ok, _ := repo.MarkSynced(ctx, "a", 1); !ok {
		t.Fatal("MarkSynced(a) should apply")
	}
	if ok, _ := repo.MarkSyncing(ctx, "a", 1); ok {
		t.Error("MarkSyncing on a synced row should not apply")
	}

	// b: edited while its push was in flight
	if ok, _ := repo.MarkSyncing(ctx, "b", 1); !ok {
		t.Fatal("MarkSyncing(b) should apply")
	}
	edit := newPost("b", now)
	edit.Title = "newer"
	if err := repo.UpdatePostContent(ctx, edit); err != nil {
		t.Fatalf("UpdatePostContent() error = %v", err)
	}
	if ok, _ := repo.MarkSynced(ctx, "b", 1); ok {
		t.Error("MarkSynced with a stale revision should not apply")
	}

	// c: push failed
	if ok, _ := repo.MarkSyncing(ctx, "c", 1); !ok {
		t.Fatal("MarkSyncing(c) should apply")
	}
	if err := repo.MarkLocal(ctx, "c"); err != nil {
		t.Fatalf("MarkLocal() error = %v", err)
	}

	pending, err := repo.ListPendingPosts(ctx)
	if err != nil {
		t.Fatalf("ListPendingPosts() error = %v", err)
	}
	got := map[string]domain.SyncState{}
	for _, p := range pending {
		got[p.ID] = p.SyncState
	}
	want := map[string]domain.SyncState{"b": domain.Local, "c": domain.Local}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("pending = %v, want %v", got, want)
	}
}

func TestPostRepository_UpsertSyncedPost(t *testing.T) {
	repo := NewPostRepository(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	remotePost := newPost("r1", now)
	remotePost.CommentCount = 3
	if ok, err := repo.UpsertSyncedPost(ctx, remotePost); err != nil || !ok {
		t.Fatalf("UpsertSyncedPost(new) = %v, %v", ok, err)
	}
	got, _ := repo.GetPost(ctx, "r1")
	if got.SyncState != domain.Synced || got.CommentCount != 3 {
		t.Errorf("mirrored post = %s count %d, want synced count 3", got.SyncState, got.CommentCount)
	}

	remotePost.CommentCount = 4
	if ok, _ := repo.UpsertSyncedPost(ctx, remotePost); !ok {
		t.Error("UpsertSyncedPost should refresh a synced row")
	}

	remotePost.CommentCount = 1
	remotePost.Title = "retitled"
	if ok, _ := repo.UpsertSyncedPost(ctx, remotePost); !ok {
		t.Error("UpsertSyncedPost should refresh a synced row")
	}
	got, _ = repo.GetPost(ctx, "r1")
	if got.Title != "retitled" || got.CommentCount != 4 {
		t.Errorf("mirrored post = %q count %d, want retitled count 4", got.Title, got.CommentCount)
	}

	local := newPost("l1", now)
	if err := repo.CreatePost(ctx, local); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	stale := newPost("l1", now)
	stale.Title = "remote copy"
	if ok, _ := repo.UpsertSyncedPost(ctx, stale); ok {
		t.Error("UpsertSyncedPost must not overwrite a pending local post")
	}
	got, _ = repo.GetPost(ctx, "l1")
	if got.Title != local.Title || got.SyncState != domain.Local {
		t.Errorf("pending post changed to %q %s", got.Title, got.SyncState)
	}
}
