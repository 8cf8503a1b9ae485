package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/readshelf/shared/connectivity"
	"github.com/dfryer1193/readshelf/shared/remote"
	"github.com/dfryer1193/readshelf/social/domain"
)

const (
	kindPost    = "post"
	kindComment = "comment"

	resultPushed  = "pushed"
	resultFailed  = "failed"
	resultSkipped = "skipped"
	resultStale   = "stale"
)

// SyncResult counts what one pass did.
type SyncResult struct {
	PostsPushed     int
	PostsFailed     int
	CommentsPushed  int
	CommentsFailed  int
	CommentsSkipped int
	// Stale counts entities that stay pending because they were edited during
	// the pass, either before their push started or while it ran.
	Stale    int
	Duration time.Duration
}

// Failed reports whether any push in the pass failed.
func (r *SyncResult) Failed() bool {
	return r.PostsFailed+r.CommentsFailed > 0
}

// SyncCoordinator drains locally pending posts and comments to the remote
// store. It only ever changes sync state locally, never content.
type SyncCoordinator struct {
	posts    domain.PostRepository
	comments domain.CommentRepository
	docs     remote.DocumentStore
	monitor  *connectivity.Monitor

	// passMu serializes passes; a trigger during a pass waits for it.
	passMu  sync.Mutex
	trigger chan struct{}

	// Service lifecycle context - cancelled when Close() is called
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSyncCoordinator(posts domain.PostRepository, comments domain.CommentRepository, docs remote.DocumentStore, monitor *connectivity.Monitor) *SyncCoordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncCoordinator{
		posts:    posts,
		comments: comments,
		docs:     docs,
		monitor:  monitor,
		trigger:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs one pass now and another on every reconnect or RequestSync,
// until Close.
func (s *SyncCoordinator) Start() {
	updates, unsubscribe := s.monitor.Subscribe()

	s.wg.Go(func() {
		defer unsubscribe()

		s.runPass("startup")
		for {
			select {
			case <-s.ctx.Done():
				return
			case connected, ok := <-updates:
				if !ok {
					return
				}
				// the monitor only publishes changes, so true is a reconnect
				if connected {
					s.runPass("reconnect")
				}
			case <-s.trigger:
				if s.monitor.IsCurrentlyConnected() {
					s.runPass("request")
				}
			}
		}
	})
}

// RequestSync asks the running coordinator for a pass without waiting for it.
func (s *SyncCoordinator) RequestSync() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Close gracefully shuts down the coordinator, waiting for an in-flight pass.
func (s *SyncCoordinator) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *SyncCoordinator) runPass(trigger string) {
	syncPassesTotal.WithLabelValues(trigger).Inc()

	result, err := s.SyncPendingData(s.ctx)
	if err != nil {
		if s.ctx.Err() == nil {
			log.Error().Err(err).Str("trigger", trigger).Msg("Sync pass failed")
		}
		return
	}
	if result.Failed() {
		log.Warn().
			Str("trigger", trigger).
			Int("posts_failed", result.PostsFailed).
			Int("comments_failed", result.CommentsFailed).
			Msg("Sync pass left entities pending; will retry on next trigger")
	}
}

// SyncPendingData pushes every pending post, then every pending comment whose
// post is already remote. An entity is marked Synced only after the remote
// write is confirmed and only if it was not edited meanwhile; a failed push
// leaves it pending. Remote writes are upserts by the client-generated id, so
// repeating a push after a crash does not duplicate anything.
//
// The returned error is reserved for local failures; remote failures are
// counted in the result.
func (s *SyncCoordinator) SyncPendingData(ctx context.Context) (*SyncResult, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	start := time.Now()
	result := &SyncResult{}
	defer func() {
		result.Duration = time.Since(start)
		syncPassDurationSeconds.Observe(result.Duration.Seconds())
	}()

	posts, err := s.posts.ListPendingPosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending posts: %w", err)
	}

	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		s.pushPost(ctx, p, result)
	}

	comments, err := s.comments.ListPendingComments(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list pending comments: %w", err)
	}

	for _, c := range comments {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !s.parentIsRemote(ctx, c) {
			result.CommentsSkipped++
			syncPushesTotal.WithLabelValues(kindComment, resultSkipped).Inc()
			continue
		}
		s.pushComment(ctx, c, result)
	}

	if len(posts)+len(comments) > 0 {
		log.Info().
			Int("posts_pushed", result.PostsPushed).
			Int("comments_pushed", result.CommentsPushed).
			Int("comments_skipped", result.CommentsSkipped).
			Int("stale", result.Stale).
			Msg("Sync pass finished")
	}

	return result, nil
}

func (s *SyncCoordinator) pushPost(ctx context.Context, p *domain.Post, result *SyncResult) {
	logger := log.With().Str("kind", kindPost).Str("id", p.ID).Int64("revision", p.Revision).Logger()

	ok, err := s.posts.MarkSyncing(ctx, p.ID, p.Revision)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to mark entity syncing")
		result.PostsFailed++
		return
	}
	if !ok {
		// edited since it was listed; the next pass picks up the new revision
		s.editedBeforePush(kindPost, p.ID, result)
		return
	}

	_, err = s.docs.RunAtomicUpdate(ctx, postRef(p.ID), mergePost(p))
	if err != nil {
		s.pushFailed(ctx, s.posts, kindPost, p.ID, err)
		result.PostsFailed++
		return
	}

	result.PostsPushed++
	s.confirm(ctx, s.posts, kindPost, p.ID, p.Revision, result)
}

func (s *SyncCoordinator) pushComment(ctx context.Context, c *domain.Comment, result *SyncResult) {
	logger := log.With().Str("kind", kindComment).Str("id", c.ID).Str("post_id", c.PostID).Logger()

	ok, err := s.comments.MarkSyncing(ctx, c.ID, c.Revision)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to mark entity syncing")
		result.CommentsFailed++
		return
	}
	if !ok {
		s.editedBeforePush(kindComment, c.ID, result)
		return
	}

	if _, err := s.docs.Set(ctx, commentRef(c.ID), commentToDocument(c)); err != nil {
		s.pushFailed(ctx, s.comments, kindComment, c.ID, err)
		result.CommentsFailed++
		return
	}
	if _, err := s.docs.RunAtomicUpdate(ctx, postRef(c.PostID), linkComment(c.ID)); err != nil {
		s.pushFailed(ctx, s.comments, kindComment, c.ID, err)
		result.CommentsFailed++
		return
	}

	result.CommentsPushed++
	s.confirm(ctx, s.comments, kindComment, c.ID, c.Revision, result)
}

// parentIsRemote reports whether the comment's post has been confirmed remotely.
func (s *SyncCoordinator) parentIsRemote(ctx context.Context, c *domain.Comment) bool {
	parent, err := s.posts.GetPost(ctx, c.PostID)
	if err != nil {
		log.Warn().Err(err).Str("id", c.ID).Str("post_id", c.PostID).Msg("Failed to load parent of pending comment")
		return false
	}
	return !parent.SyncState.PendingSync()
}

// confirm clears the pending state after a confirmed remote write. It runs
// even if ctx was cancelled after the write succeeded.
func (s *SyncCoordinator) confirm(ctx context.Context, store domain.SyncStateStore, kind, id string, revision int64, result *SyncResult) {
	ok, err := store.MarkSynced(context.WithoutCancel(ctx), id, revision)
	switch {
	case err != nil:
		// the row stays Syncing, which counts as pending; the next push is a
		// harmless repeat of this one
		log.Error().Err(err).Str("kind", kind).Str("id", id).Msg("Remote write succeeded but local state was not cleared")
	case !ok:
		result.Stale++
		log.Debug().Str("kind", kind).Str("id", id).Msg("Entity edited during push; stays pending")
	}
	syncPushesTotal.WithLabelValues(kind, resultPushed).Inc()
}

func (s *SyncCoordinator) editedBeforePush(kind, id string, result *SyncResult) {
	result.Stale++
	syncPushesTotal.WithLabelValues(kind, resultStale).Inc()
	log.Debug().Str("kind", kind).Str("id", id).Msg("Entity edited before push; stays pending")
}

func (s *SyncCoordinator) pushFailed(ctx context.Context, store domain.SyncStateStore, kind, id string, pushErr error) {
	syncPushesTotal.WithLabelValues(kind, resultFailed).Inc()
	log.Warn().Err(pushErr).Str("kind", kind).Str("id", id).Msg("Push failed; entity stays pending")

	if err := store.MarkLocal(context.WithoutCancel(ctx), id); err != nil {
		log.Error().Err(err).Str("kind", kind).Str("id", id).Msg("Failed to return entity to local state")
	}
}
