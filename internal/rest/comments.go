package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dfryer1193/readshelf/api"
	social "github.com/dfryer1193/readshelf/social/application"
)

func (h *Handlers) PostComment(c *gin.Context) {
	commentProto := &api.CommentProto{}
	if err := c.ShouldBindJSON(commentProto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	comment, err := h.posts.AddComment(c.Request.Context(), commentProto.PostID, social.CommentDraft{
		AuthorID: commentProto.AuthorID,
		Content:  commentProto.Content,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAPIComment(comment))
}

func (h *Handlers) GetComments(c *gin.Context) {
	comments, err := h.posts.Comments(c.Request.Context(), c.Param("postId"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]api.Comment, 0, len(comments))
	for _, comment := range comments {
		out = append(out, toAPIComment(comment))
	}
	c.JSON(http.StatusOK, out)
}
