package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfryer1193/readshelf/shared/remote"
	"github.com/dfryer1193/readshelf/social/domain"
)

func TestSyncPendingData_PushesPostsThenComments(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	p := f.createPost(t, "# Dune\n\nSpice must flow.")
	c := f.addComment(t, p.ID, "Agreed")

	local, err := f.service.Feed(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, local, 1, "offline posts are visible immediately")
	assert.Equal(t, domain.Local, local[0].SyncState)

	result, err := f.coordinator.SyncPendingData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PostsPushed)
	assert.Equal(t, 1, result.CommentsPushed)
	assert.False(t, result.Failed())

	pd := f.remotePost(t, p.ID)
	assert.Equal(t, "Dune", pd.Title)
	assert.Equal(t, []string{c.ID}, pd.CommentIDs)
	assert.Equal(t, 1, pd.CommentCount)
	assert.Equal(t, []string{}, pd.Likes)

	doc, err := f.remote.Get(ctx, commentRef(c.ID))
	require.NoError(t, err)
	var cd commentDocument
	require.NoError(t, doc.Decode(&cd))
	assert.Equal(t, p.ID, cd.PostID)

	gotPost, _ := f.posts.GetPost(ctx, p.ID)
	assert.Equal(t, domain.Synced, gotPost.SyncState)
	gotComment, _ := f.comments.GetComment(ctx, c.ID)
	assert.Equal(t, domain.Synced, gotComment.SyncState)

	result, err = f.coordinator.SyncPendingData(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Duration: result.Duration}, *result, "nothing left to push")
}

func TestSyncPendingData_AtLeastOnce(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	p := f.createPost(t, "Crash test")
	f.addComment(t, p.ID, "first")

	f.posts.crash = true
	result, err := f.coordinator.SyncPendingData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PostsPushed)
	assert.Equal(t, 1, result.CommentsSkipped, "parent is still pending locally")

	pending, err := f.posts.ListPendingPosts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.Syncing, pending[0].SyncState, "left mid-push counts as pending")

	f.posts.crash = false
	result, err = f.coordinator.SyncPendingData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PostsPushed)
	assert.Equal(t, 1, result.CommentsPushed)

	docs, err := f.remote.Query(ctx, remote.Query{Collection: postsCollection})
	require.NoError(t, err)
	require.Len(t, docs, 1, "the repeated push upserts the same id")
	assert.Equal(t, p.ID, docs[0].ID)
	assert.Equal(t, 1, f.remotePost(t, p.ID).CommentCount)
}

func TestSyncPendingData_CommentRepushDoesNotDoubleCount(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	p := f.createPost(t, "Counting")
	c := f.addComment(t, p.ID, "once")

	_, err := f.coordinator.SyncPendingData(ctx)
	require.NoError(t, err)

	// replay the comment push as if its local clear had been lost
	_, err = f.remote.RunAtomicUpdate(ctx, postRef(p.ID), linkComment(c.ID))
	require.NoError(t, err)

	pd := f.remotePost(t, p.ID)
	assert.Equal(t, 1, pd.CommentCount)
	assert.Equal(t, []string{c.ID}, pd.CommentIDs)
}

func TestSyncPendingData_ParentFailureSkipsComments(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	p := f.createPost(t, "Unlucky")
	c := f.addComment(t, p.ID, "waiting")
	other := f.createPost(t, "Fine")

	f.remote.fail(postRef(p.ID), true)
	result, err := f.coordinator.SyncPendingData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PostsFailed)
	assert.Equal(t, 1, result.PostsPushed)
	assert.Equal(t, 1, result.CommentsSkipped)
	assert.True(t, result.Failed())

	_, err = f.remote.Get(ctx, commentRef(c.ID))
	assert.ErrorIs(t, err, remote.ErrNotFound, "comment must not reach the remote before its post")

	gotPost, _ := f.posts.GetPost(ctx, p.ID)
	assert.Equal(t, domain.Local, gotPost.SyncState, "failed push returns to local")
	gotOther, _ := f.posts.GetPost(ctx, other.ID)
	assert.Equal(t, domain.Synced, gotOther.SyncState)

	f.remote.fail(postRef(p.ID), false)
	result, err = f.coordinator.SyncPendingData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PostsPushed)
	assert.Equal(t, 1, result.CommentsPushed)
}

func TestSyncPendingData_CommentFailureStaysPending(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	p := f.createPost(t, "Post")
	_, err := f.coordinator.SyncPendingData(ctx)
	require.NoError(t, err)

	c := f.addComment(t, p.ID, "flaky")
	f.remote.fail(commentRef(c.ID), true)

	result, err := f.coordinator.SyncPendingData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.CommentsFailed)

	got, _ := f.comments.GetComment(ctx, c.ID)
	assert.Equal(t, domain.Local, got.SyncState)
	assert.Equal(t, 0, f.remotePost(t, p.ID).CommentCount)
}

func TestSyncPendingData_EditDuringPushStaysPending(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	p := f.createPost(t, "First draft")

	edited := false
	f.remote.beforeUpdate = func(ref remote.Ref) {
		if ref == postRef(p.ID) && !edited {
			edited = true
			_, err := f.service.EditPost(ctx, p.ID, PostDraft{AuthorID: "alice", Body: "Second draft"})
			require.NoError(t, err)
		}
	}

	result, err := f.coordinator.SyncPendingData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stale)

	got, _ := f.posts.GetPost(ctx, p.ID)
	assert.Equal(t, domain.Local, got.SyncState)
	assert.Equal(t, int64(2), got.Revision)

	_, err = f.coordinator.SyncPendingData(ctx)
	require.NoError(t, err)
	got, _ = f.posts.GetPost(ctx, p.ID)
	assert.Equal(t, domain.Synced, got.SyncState)
	assert.Equal(t, "Second draft", f.remotePost(t, p.ID).Body)
}

func TestSyncPendingData_EditBeforePushCountsStale(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	p := f.createPost(t, "First draft")

	edited := false
	f.posts.beforeSyncing = func(id string) {
		if id == p.ID && !edited {
			edited = true
			_, err := f.service.EditPost(ctx, p.ID, PostDraft{AuthorID: "alice", Body: "Second draft"})
			require.NoError(t, err)
		}
	}

	result, err := f.coordinator.SyncPendingData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.PostsPushed)
	assert.Equal(t, 0, result.PostsFailed)
	assert.Equal(t, 1, result.Stale, "every pending entity is accounted for")

	_, err = f.remote.Get(ctx, postRef(p.ID))
	assert.ErrorIs(t, err, remote.ErrNotFound)

	result, err = f.coordinator.SyncPendingData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PostsPushed)
	assert.Equal(t, "Second draft", f.remotePost(t, p.ID).Body)
}

func TestSyncPendingData_PreservesRemoteOnlyFields(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	p := f.createPost(t, "Likes survive edits")
	_, err := f.coordinator.SyncPendingData(ctx)
	require.NoError(t, err)

	liked, err := f.service.ToggleLike(ctx, p.ID, "carol")
	require.NoError(t, err)
	require.True(t, liked)

	_, err = f.service.EditPost(ctx, p.ID, PostDraft{AuthorID: "alice", Body: "edited"})
	require.NoError(t, err)
	_, err = f.coordinator.SyncPendingData(ctx)
	require.NoError(t, err)

	pd := f.remotePost(t, p.ID)
	assert.Equal(t, "edited", pd.Body)
	assert.Equal(t, []string{"carol"}, pd.Likes)
}

func TestSyncCoordinator_StartAndReconnect(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	p := f.createPost(t, "Written offline")

	// unreachable at startup: the push fails and the post stays pending
	f.remote.fail(postRef(p.ID), true)
	f.coordinator.Start()

	assert.Eventually(t, func() bool {
		got, _ := f.posts.GetPost(ctx, p.ID)
		return got.SyncState == domain.Local
	}, time.Second, 5*time.Millisecond)

	f.remote.fail(postRef(p.ID), false)
	f.monitor.Set(true)

	assert.Eventually(t, func() bool {
		got, _ := f.posts.GetPost(ctx, p.ID)
		return got.SyncState == domain.Synced
	}, 2*time.Second, 5*time.Millisecond)

	// connected now: new writes request a pass on their own
	c := f.addComment(t, p.ID, "posted online")
	assert.Eventually(t, func() bool {
		got, _ := f.comments.GetComment(ctx, c.ID)
		return got.SyncState == domain.Synced
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.coordinator.Close())
}
