package rest

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dfryer1193/readshelf/api"
)

// GetImage serves ?url= from the local cache. On a miss the client is sent to
// the remote URL instead; a cache failure never fails the request.
func (h *Handlers) GetImage(c *gin.Context) {
	raw := c.Query("url")
	u, err := url.Parse(raw)
	if raw == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be an absolute http(s) URL"})
		return
	}

	rec, ok := h.images.ResolveRecord(c.Request.Context(), raw)
	if !ok {
		c.Redirect(http.StatusTemporaryRedirect, raw)
		return
	}

	etag := `"` + rec.Digest + `"`
	c.Header("ETag", etag)
	c.Header("Cache-Control", "private, max-age=86400")
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	if rec.MimeType != "" {
		c.Header("Content-Type", rec.MimeType)
	}
	c.File(rec.LocalPath)
}

// PrefetchImages warms the cache for a screen's worth of image URLs, e.g.
// before going offline.
func (h *Handlers) PrefetchImages(c *gin.Context) {
	proto := &api.PrefetchProto{}
	if err := c.ShouldBindJSON(proto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cached := h.posts.PrefetchImages(c.Request.Context(), proto.URLs)
	c.JSON(http.StatusOK, api.PrefetchResult{Requested: len(proto.URLs), Cached: cached})
}

func (h *Handlers) GetCacheStats(c *gin.Context) {
	stats, err := h.images.Stats(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := api.CacheStats{Records: stats.Records, TotalBytes: stats.TotalBytes}
	if stats.Records > 0 {
		out.Oldest = formatTime(stats.Oldest)
		out.Newest = formatTime(stats.Newest)
	}
	c.JSON(http.StatusOK, out)
}

// EvictCache runs an eviction sweep, with ?max_age_days= overriding the
// configured age.
func (h *Handlers) EvictCache(c *gin.Context) {
	days := h.maxAgeDays
	if v := c.Query("max_age_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_age_days must be a non-negative integer"})
			return
		}
		days = n
	}

	res, err := h.images.EvictExpired(c.Request.Context(), days)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.EvictResult{
		ExpiredRecords: res.ExpiredRecords,
		MissingFiles:   res.MissingFiles,
		OrphanFiles:    res.OrphanFiles,
		Errors:         res.Errors,
		Duration:       res.Duration.Round(time.Millisecond).String(),
	})
}

func (h *Handlers) ClearCache(c *gin.Context) {
	if err := h.images.ClearAll(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
