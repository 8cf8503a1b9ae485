package application

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/readshelf/shared/connectivity"
	"github.com/dfryer1193/readshelf/shared/remote"
	"github.com/dfryer1193/readshelf/social/domain"
)

const defaultMirrorRetry = 30 * time.Second

// FeedMirror keeps the local posts table in step with the newest remote posts
// so the feed works offline. Posts with unpushed local changes are not
// overwritten.
type FeedMirror struct {
	posts   domain.PostRepository
	docs    remote.DocumentStore
	images  ImageResolver
	monitor *connectivity.Monitor
	limit   int
	retry   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFeedMirror mirrors up to limit posts. images may be nil; otherwise cover
// images of mirrored posts are prefetched. monitor may be nil; otherwise a
// reconnect retries a failed subscription right away.
func NewFeedMirror(posts domain.PostRepository, docs remote.DocumentStore, images ImageResolver, monitor *connectivity.Monitor, limit int) *FeedMirror {
	if limit <= 0 {
		limit = 50
	}
	return &FeedMirror{
		posts:   posts,
		docs:    docs,
		images:  images,
		monitor: monitor,
		limit:   limit,
		retry:   defaultMirrorRetry,
	}
}

// Start subscribes to the remote feed. A failed or ended subscription is
// retried after the retry interval or on reconnect, whichever comes first,
// until Stop. The local feed keeps working meanwhile.
func (m *FeedMirror) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	var updates <-chan bool
	unsubscribe := func() {}
	if m.monitor != nil {
		updates, unsubscribe = m.monitor.Subscribe()
	}

	m.wg.Go(func() {
		defer unsubscribe()

		for {
			m.follow(ctx)

			timer := time.NewTimer(m.retry)
			retry := false
			for !retry {
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
					retry = true
				case connected, ok := <-updates:
					if !ok {
						updates = nil
						continue
					}
					retry = connected
				}
			}
			timer.Stop()
		}
	})
}

// follow applies snapshots until the subscription fails or ends.
func (m *FeedMirror) follow(ctx context.Context) {
	q := remote.Query{
		Collection: postsCollection,
		OrderBy:    "createdAtMs",
		Descending: true,
		Limit:      m.limit,
	}

	snapshots, err := m.docs.Subscribe(ctx, q)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Dur("retry", m.retry).Msg("Failed to subscribe to remote feed")
		}
		return
	}
	for snap := range snapshots {
		m.Apply(ctx, snap)
	}
	if ctx.Err() == nil {
		log.Info().Msg("Remote feed subscription ended; resubscribing")
	}
}

// Stop ends the subscription and waits for the current snapshot to be applied.
func (m *FeedMirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Apply stores the posts of one snapshot and returns how many rows changed.
func (m *FeedMirror) Apply(ctx context.Context, snap remote.Snapshot) int {
	changed := 0
	for _, doc := range snap.Documents {
		var pd postDocument
		if err := doc.Decode(&pd); err != nil {
			log.Warn().Err(err).Str("id", doc.ID).Msg("Skipping malformed remote post")
			continue
		}
		if pd.ID == "" {
			pd.ID = doc.ID
		}

		p := pd.toDomain()
		ok, err := m.posts.UpsertSyncedPost(ctx, p)
		if err != nil {
			log.Warn().Err(err).Str("id", doc.ID).Msg("Failed to mirror remote post")
			continue
		}
		if !ok {
			continue
		}
		changed++

		if m.images != nil && p.ImageURL != "" {
			m.images.Resolve(ctx, p.ImageURL)
		}
	}
	return changed
}
