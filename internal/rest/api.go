package rest

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dfryer1193/readshelf/imagecache/application"
	cachedomain "github.com/dfryer1193/readshelf/imagecache/domain"
	social "github.com/dfryer1193/readshelf/social/application"
	"github.com/dfryer1193/readshelf/social/domain"
)

// Posts is the post and comment service behind the API.
type Posts interface {
	CreatePost(ctx context.Context, draft social.PostDraft) (*domain.Post, error)
	EditPost(ctx context.Context, id string, draft social.PostDraft) (*domain.Post, error)
	Post(ctx context.Context, id string) (*domain.Post, error)
	Feed(ctx context.Context, limit, offset int) ([]*domain.Post, error)
	AddComment(ctx context.Context, postID string, draft social.CommentDraft) (*domain.Comment, error)
	Comments(ctx context.Context, postID string) ([]*domain.Comment, error)
	ToggleLike(ctx context.Context, postID, userID string) (bool, error)
	UploadPostImage(ctx context.Context, postID string, data []byte, name string) (string, error)
	PrefetchImages(ctx context.Context, urls []string) int
}

// Images is the image cache behind the API.
type Images interface {
	ResolveRecord(ctx context.Context, url string) (*cachedomain.CacheRecord, bool)
	EvictExpired(ctx context.Context, maxAgeDays int) (*application.EvictResult, error)
	ClearAll(ctx context.Context) error
	Stats(ctx context.Context) (*application.Stats, error)
}

// Syncer runs a sync pass on demand.
type Syncer interface {
	SyncPendingData(ctx context.Context) (*social.SyncResult, error)
}

// Connectivity reports reachability of the remote store.
type Connectivity interface {
	IsCurrentlyConnected() bool
}

// Handlers serves the local API consumed by the UI.
type Handlers struct {
	posts      Posts
	images     Images
	syncer     Syncer
	connection Connectivity
	maxAgeDays int
}

func NewHandlers(posts Posts, images Images, syncer Syncer, connection Connectivity, maxAgeDays int) *Handlers {
	return &Handlers{
		posts:      posts,
		images:     images,
		syncer:     syncer,
		connection: connection,
		maxAgeDays: maxAgeDays,
	}
}

func NewApi(router *gin.Engine, h *Handlers) {
	postsV1 := router.Group("posts/v1")
	{
		postsV1.GET("/", h.GetPosts)
		postsV1.POST("/", h.CreatePost)
		postsV1.GET("/:postId", h.GetPost)
		postsV1.PUT("/:postId", h.EditPost)
		postsV1.POST("/:postId/likes", h.ToggleLike)
		postsV1.POST("/:postId/images", h.UploadImage)
	}

	commentsV1 := router.Group("comments/v1")
	{
		commentsV1.POST("/", h.PostComment)
		commentsV1.GET("/:postId", h.GetComments)
	}

	imagesV1 := router.Group("images/v1")
	{
		imagesV1.GET("/", h.GetImage)
		imagesV1.POST("/prefetch", h.PrefetchImages)
	}

	cacheV1 := router.Group("cache/v1")
	{
		cacheV1.GET("/stats", h.GetCacheStats)
		cacheV1.POST("/evict", h.EvictCache)
		cacheV1.DELETE("/", h.ClearCache)
	}

	router.POST("sync/v1/", h.Sync)
	router.GET("status", h.Status)
	router.GET("metrics", gin.WrapH(promhttp.Handler()))
}
