package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chatgate/internal/anythingllm"
	"chatgate/internal/chat"
)

const (
	noncePurposeChat   = "chat"
	noncePurposeUpload = "upload"
)

type sendMessageReq struct {
	Message    string `json:"message"`
	SessionID  string `json:"session_id"`
	Nonce      string `json:"nonce"`
	Website    string `json:"website"` // honeypot; humans never fill it
	Attachment *struct {
		Name    string `json:"name"`
		Mime    string `json:"mime"`
		Content string `json:"content"`
	} `json:"attachment"`
}

// GetNonce issues the widget token the chat endpoints require.
func (h *Handler) GetNonce(c *gin.Context) {
	ok(c, gin.H{
		"nonce":        h.Nonces.Create(noncePurposeChat),
		"upload_nonce": h.Nonces.Create(noncePurposeUpload),
		"expires_in":   int(h.Nonces.TTL().Seconds()),
	})
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if !h.Nonces.Verify(req.Nonce, noncePurposeChat) {
		fail(c, http.StatusForbidden, 40301, "invalid or expired nonce")
		return
	}

	sid := sessionID(c, req.SessionID)
	creq := chat.Request{
		SessionID:    sid,
		Message:      req.Message,
		Honeypot:     req.Website,
		ConsentToken: consentToken(c),
		ClientIP:     c.ClientIP(),
	}
	if req.Attachment != nil {
		creq.Attachment = &anythingllm.Attachment{
			Name:          req.Attachment.Name,
			Mime:          req.Attachment.Mime,
			ContentString: req.Attachment.Content,
		}
	}

	reply, err := h.ChatSvc.Send(c.Request.Context(), creq)

	// headers reflect the window after this request consumed its slot
	h.setRateHeaders(c)

	if err != nil {
		h.failChat(c, err)
		return
	}

	ok(c, gin.H{
		"session_id":          sid,
		"response":            reply.Text,
		"sources":             reply.Sources,
		"suggested_questions": reply.Suggestions,
		"cached":              reply.Cached,
		"message_id":          reply.AssistantMessageID,
	})
}

// failChat maps pipeline errors onto HTTP statuses. Upstream detail never
// leaves the server; clients get the configured fallback text.
func (h *Handler) failChat(c *gin.Context, err error) {
	var verr *chat.ValidationError
	var uerr *chat.UpstreamError
	switch {
	case errors.As(err, &verr):
		fail(c, http.StatusBadRequest, 40001, verr.Reason)
	case errors.Is(err, chat.ErrRateLimited):
		c.Header("Retry-After", strconv.Itoa(int(h.Limiter.ResetAfter(c.Request.Context(), c.ClientIP()).Seconds())))
		fail(c, http.StatusTooManyRequests, 42900, "too many requests, please slow down")
	case errors.Is(err, chat.ErrConsentRequired):
		fail(c, http.StatusForbidden, 40302, "consent required")
	case errors.As(err, &uerr):
		fail(c, http.StatusInternalServerError, 50001, h.Cfg.FallbackMessage)
	default:
		fail(c, http.StatusInternalServerError, 50000, "internal error")
	}
}

func (h *Handler) setRateHeaders(c *gin.Context) {
	for k, v := range h.Limiter.Headers(c.Request.Context(), c.ClientIP()) {
		c.Header(k, v)
	}
}

// StreamChatMessage relays the reply as server-sent events. EventSource
// cannot set headers or a body, so the message and nonce arrive as query
// parameters.
func (h *Handler) StreamChatMessage(c *gin.Context) {
	msg := c.Query("message")
	if !h.Nonces.Verify(c.Query("nonce"), noncePurposeChat) {
		fail(c, http.StatusForbidden, 40301, "invalid or expired nonce")
		return
	}

	sid := sessionID(c, c.Query("session_id"))
	creq := chat.Request{
		SessionID:    sid,
		Message:      msg,
		Honeypot:     c.Query("website"),
		ConsentToken: consentToken(c),
		ClientIP:     c.ClientIP(),
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	flusher, okk := c.Writer.(http.Flusher)
	if !okk {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	ctx := c.Request.Context()
	chunks, errs := h.ChatSvc.Stream(ctx, creq)

	// heartbeat ticker keeps proxies from closing an idle stream
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ch, open := <-chunks:
			if !open {
				chunks = nil
				continue
			}
			writeJSON("chunk", gin.H{"type": "chunk", "delta": ch})

		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})

		case err := <-errs:
			if err != nil {
				writeJSON("error", gin.H{"type": "error", "message": h.streamErrorMessage(err)})
				return
			}
			writeJSON("done", gin.H{"type": "done", "session_id": sid})
			return

		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) streamErrorMessage(err error) string {
	var verr *chat.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Reason
	case errors.Is(err, chat.ErrRateLimited):
		return "too many requests, please slow down"
	case errors.Is(err, chat.ErrConsentRequired):
		return "consent required"
	default:
		return h.Cfg.FallbackMessage
	}
}

// Upload relays a document into the knowledge base. Gated by its own nonce
// purpose so a chat token cannot be replayed for uploads.
func (h *Handler) Upload(c *gin.Context) {
	if !h.Cfg.UploadEnabled {
		fail(c, http.StatusForbidden, 40303, "file upload disabled")
		return
	}
	if !h.Nonces.Verify(c.PostForm("nonce"), noncePurposeUpload) {
		fail(c, http.StatusForbidden, 40301, "invalid or expired nonce")
		return
	}

	maxBytes := int64(h.Cfg.MaxFileSizeMB) << 20
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, 40002, "missing file")
		return
	}
	defer file.Close()

	if header.Size > maxBytes {
		fail(c, http.StatusBadRequest, 40003, fmt.Sprintf("file too large (max %d MB)", h.Cfg.MaxFileSizeMB))
		return
	}
	if !h.extensionAllowed(header.Filename) {
		fail(c, http.StatusBadRequest, 40004, "file type not allowed")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		fail(c, http.StatusBadRequest, 40002, "unreadable file")
		return
	}
	if int64(len(data)) > maxBytes {
		fail(c, http.StatusBadRequest, 40003, fmt.Sprintf("file too large (max %d MB)", h.Cfg.MaxFileSizeMB))
		return
	}

	result, err := h.Upstream.UploadFile(c.Request.Context(), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		h.Log.WithError(err).Warn("file upload relay failed")
		fail(c, http.StatusBadGateway, 50201, "upload failed")
		return
	}
	ok(c, result)
}

func (h *Handler) extensionAllowed(filename string) bool {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return false
	}
	ext := strings.ToLower(filename[i+1:])
	for _, a := range h.Cfg.AllowedFileTypes {
		if ext == a {
			return true
		}
	}
	return false
}
