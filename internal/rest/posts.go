package rest

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dfryer1193/readshelf/api"
	social "github.com/dfryer1193/readshelf/social/application"
)

const maxUploadBytes = 10 << 20

func (h *Handlers) GetPosts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	posts, err := h.posts.Feed(c.Request.Context(), limit, offset)
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]api.Post, 0, len(posts))
	for _, p := range posts {
		out = append(out, toAPIPost(p))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetPost(c *gin.Context) {
	post, err := h.posts.Post(c.Request.Context(), c.Param("postId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAPIPost(post))
}

func (h *Handlers) CreatePost(c *gin.Context) {
	proto := &api.PostProto{}
	if err := c.ShouldBindJSON(proto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := h.posts.CreatePost(c.Request.Context(), draftFrom(proto))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAPIPost(post))
}

func (h *Handlers) EditPost(c *gin.Context) {
	proto := &api.PostProto{}
	if err := c.ShouldBindJSON(proto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := h.posts.EditPost(c.Request.Context(), c.Param("postId"), draftFrom(proto))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAPIPost(post))
}

func draftFrom(p *api.PostProto) social.PostDraft {
	return social.PostDraft{
		AuthorID: p.AuthorID,
		BookID:   p.BookID,
		Title:    p.Title,
		Body:     p.Body,
	}
}

func (h *Handlers) ToggleLike(c *gin.Context) {
	proto := &api.LikeProto{}
	if err := c.ShouldBindJSON(proto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	postID := c.Param("postId")
	liked, err := h.posts.ToggleLike(c.Request.Context(), postID, proto.UserID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.LikeResult{PostID: postID, Liked: liked})
}

// UploadImage takes a multipart "image" field and returns its remote URL.
func (h *Handlers) UploadImage(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image field is required"})
		return
	}
	if fh.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		abortWithError(c, err)
		return
	}

	u, err := h.posts.UploadPostImage(c.Request.Context(), c.Param("postId"), data, fh.Filename)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, api.UploadResult{URL: u})
}
