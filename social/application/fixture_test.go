package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dfryer1193/readshelf/shared/connectivity"
	"github.com/dfryer1193/readshelf/shared/db/sqlite"
	"github.com/dfryer1193/readshelf/shared/remote"
	"github.com/dfryer1193/readshelf/shared/remote/memstore"
	"github.com/dfryer1193/readshelf/social/domain"
	"github.com/dfryer1193/readshelf/social/persistence"
)

var errOffline = errors.New("offline")

// flakyStore wraps a memstore and fails writes to selected refs.
type flakyStore struct {
	*memstore.Store

	mu       sync.Mutex
	failRefs map[remote.Ref]bool
	// beforeUpdate runs before each atomic update.
	beforeUpdate func(ref remote.Ref)

	// unreachable fails subscriptions, as the HTTP client does while its
	// first query cannot get through.
	unreachable atomic.Bool
	subscribes  atomic.Int64
}

func (f *flakyStore) Subscribe(ctx context.Context, q remote.Query) (<-chan remote.Snapshot, error) {
	f.subscribes.Add(1)
	if f.unreachable.Load() {
		return nil, errors.Join(remote.ErrUnavailable, errOffline)
	}
	return f.Store.Subscribe(ctx, q)
}

func (f *flakyStore) fail(ref remote.Ref, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRefs[ref] = on
}

func (f *flakyStore) failing(ref remote.Ref) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failRefs[ref]
}

func (f *flakyStore) Set(ctx context.Context, ref remote.Ref, data any) (*remote.Document, error) {
	if f.failing(ref) {
		return nil, errors.Join(remote.ErrUnavailable, errOffline)
	}
	return f.Store.Set(ctx, ref, data)
}

func (f *flakyStore) RunAtomicUpdate(ctx context.Context, ref remote.Ref, fn remote.Mutator) (*remote.Document, error) {
	if f.beforeUpdate != nil {
		f.beforeUpdate(ref)
	}
	if f.failing(ref) {
		return nil, errors.Join(remote.ErrUnavailable, errOffline)
	}
	return f.Store.RunAtomicUpdate(ctx, ref, fn)
}

// crashingPosts fails MarkSynced while crash is set, as if the process died
// between the remote write and the local flag clear.
type crashingPosts struct {
	*persistence.SQLitePostRepository
	crash bool
	// beforeSyncing runs before MarkSyncing, e.g. to edit the post mid-pass.
	beforeSyncing func(id string)
}

func (c *crashingPosts) MarkSyncing(ctx context.Context, id string, revision int64) (bool, error) {
	if c.beforeSyncing != nil {
		c.beforeSyncing(id)
	}
	return c.SQLitePostRepository.MarkSyncing(ctx, id, revision)
}

func (c *crashingPosts) MarkSynced(ctx context.Context, id string, revision int64) (bool, error) {
	if c.crash {
		return false, errors.New("simulated crash")
	}
	return c.SQLitePostRepository.MarkSynced(ctx, id, revision)
}

type fakeResolver struct {
	mu   sync.Mutex
	seen []string
	hit  func(url string) bool
}

func (r *fakeResolver) Resolve(ctx context.Context, url string) (string, bool) {
	r.mu.Lock()
	r.seen = append(r.seen, url)
	r.mu.Unlock()
	if r.hit != nil && !r.hit(url) {
		return "", false
	}
	return "/cache/" + url, true
}

type fixture struct {
	posts       *crashingPosts
	comments    *persistence.SQLiteCommentRepository
	remote      *flakyStore
	monitor     *connectivity.Monitor
	coordinator *SyncCoordinator
	service     *PostService
	images      *fakeResolver
}

func newFixture(t *testing.T, connected bool) *fixture {
	t.Helper()

	database, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	f := &fixture{
		posts:    &crashingPosts{SQLitePostRepository: persistence.NewPostRepository(database.DB())},
		comments: persistence.NewCommentRepository(database.DB()),
		remote:   &flakyStore{Store: memstore.New("http://remote.test"), failRefs: map[remote.Ref]bool{}},
		monitor:  connectivity.NewMonitor(connected),
		images:   &fakeResolver{},
	}
	f.coordinator = NewSyncCoordinator(f.posts, f.comments, f.remote, f.monitor)
	t.Cleanup(func() { f.coordinator.Close() })

	f.service = NewPostService(f.posts, f.comments, NewMarkdownRenderer(), f.remote, f.remote, f.images, f.monitor, f.coordinator)

	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	f.service.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return f
}

func (f *fixture) createPost(t *testing.T, body string) *domain.Post {
	t.Helper()
	p, err := f.service.CreatePost(context.Background(), PostDraft{AuthorID: "alice", BookID: "dune", Body: body})
	require.NoError(t, err)
	return p
}

func (f *fixture) addComment(t *testing.T, postID, content string) *domain.Comment {
	t.Helper()
	c, err := f.service.AddComment(context.Background(), postID, CommentDraft{AuthorID: "bob", Content: content})
	require.NoError(t, err)
	return c
}

func (f *fixture) remotePost(t *testing.T, id string) postDocument {
	t.Helper()
	doc, err := f.remote.Get(context.Background(), postRef(id))
	require.NoError(t, err)
	var pd postDocument
	require.NoError(t, doc.Decode(&pd))
	return pd
}
