package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chatgate/internal/convlog"
)

// ExportConversation streams the session's transcript as a text download.
func (h *Handler) ExportConversation(c *gin.Context) {
	sid := sessionID(c, c.Query("session_id"))
	if sid == "" {
		fail(c, http.StatusBadRequest, 40005, "no session")
		return
	}

	text, err := h.Logs.Export(c.Request.Context(), sid)
	if err != nil {
		if errors.Is(err, convlog.ErrNotFound) {
			fail(c, http.StatusNotFound, 40401, "no conversation for this session")
			return
		}
		h.Log.WithError(err).Error("conversation export failed")
		fail(c, http.StatusInternalServerError, 50004, "export failed")
		return
	}

	filename := fmt.Sprintf("conversation-%s.txt", time.Now().Format("2006-01-02"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}

// ClearHistory deletes the session's conversation on user request.
func (h *Handler) ClearHistory(c *gin.Context) {
	sid := sessionID(c, "")
	if sid == "" {
		fail(c, http.StatusBadRequest, 40005, "no session")
		return
	}

	if err := h.Logs.ClearHistory(c.Request.Context(), sid); err != nil {
		if errors.Is(err, convlog.ErrNotFound) {
			ok(c, gin.H{"cleared": false}) // nothing to clear is not an error
			return
		}
		h.Log.WithError(err).Error("history clear failed")
		fail(c, http.StatusInternalServerError, 50005, "could not clear history")
		return
	}
	ok(c, gin.H{"cleared": true})
}

type feedbackReq struct {
	MessageID uint64 `json:"message_id" binding:"required"`
	Rating    int    `json:"rating" binding:"required"`
}

func (h *Handler) SubmitFeedback(c *gin.Context) {
	var req feedbackReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	id, err := h.Logs.SubmitFeedback(c.Request.Context(), req.MessageID, req.Rating)
	if err != nil {
		if errors.Is(err, convlog.ErrNotFound) {
			fail(c, http.StatusNotFound, 40402, "message not found")
			return
		}
		fail(c, http.StatusBadRequest, 40006, "rating must be +1 or -1")
		return
	}
	ok(c, gin.H{"feedback_id": id})
}
