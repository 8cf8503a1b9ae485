package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dfryer1193/readshelf/api"
)

// Sync runs a pass now. Push failures are part of the result, not an error.
func (h *Handlers) Sync(c *gin.Context) {
	res, err := h.syncer.SyncPendingData(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.SyncResult{
		PostsPushed:     res.PostsPushed,
		PostsFailed:     res.PostsFailed,
		CommentsPushed:  res.CommentsPushed,
		CommentsFailed:  res.CommentsFailed,
		CommentsSkipped: res.CommentsSkipped,
		Stale:           res.Stale,
		Duration:        res.Duration.Round(time.Millisecond).String(),
	})
}

func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, api.Status{Connected: h.connection.IsCurrentlyConnected()})
}
