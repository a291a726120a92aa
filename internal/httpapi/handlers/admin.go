package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chatgate/internal/anythingllm"
	"chatgate/internal/convlog"
)

// dateRange parses ?from=YYYY-MM-DD&to=YYYY-MM-DD, defaulting to the last
// 30 days.
func dateRange(c *gin.Context) (time.Time, time.Time, error) {
	now := time.Now()
	from := now.AddDate(0, 0, -29)
	to := now

	if v := c.Query("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	if to.Before(from) {
		from, to = to, from
	}
	return from, to, nil
}

func (h *Handler) AdminStatsSummary(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		fail(c, http.StatusBadRequest, 40007, "invalid date, want YYYY-MM-DD")
		return
	}
	sum, err := h.Stats.Summary(c.Request.Context(), from, to)
	if err != nil {
		h.Log.WithError(err).Error("stats summary failed")
		fail(c, http.StatusInternalServerError, 50006, "stats unavailable")
		return
	}
	ok(c, sum)
}

func (h *Handler) AdminStatsChart(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		fail(c, http.StatusBadRequest, 40007, "invalid date, want YYYY-MM-DD")
		return
	}
	series, err := h.Stats.ChartSeries(c.Request.Context(), from, to)
	if err != nil {
		h.Log.WithError(err).Error("stats chart failed")
		fail(c, http.StatusInternalServerError, 50006, "stats unavailable")
		return
	}
	ok(c, series)
}

func (h *Handler) AdminStatsToday(c *gin.Context) {
	b, err := h.Stats.Today(c.Request.Context())
	if err != nil {
		h.Log.WithError(err).Error("stats today failed")
		fail(c, http.StatusInternalServerError, 50006, "stats unavailable")
		return
	}
	ok(c, b)
}

func (h *Handler) AdminListConversations(c *gin.Context) {
	q := convlog.Query{
		Search:  c.Query("search"),
		OrderBy: c.Query("order_by"),
		Desc:    c.Query("order") != "asc",
	}
	q.Page, _ = strconv.Atoi(c.Query("page"))
	q.PageSize, _ = strconv.Atoi(c.Query("page_size"))

	if v := c.Query("user_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			q.UserID = &n
		}
	}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			q.DateFrom = &t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			end := t.AddDate(0, 0, 1)
			q.DateTo = &end
		}
	}

	rows, total, err := h.Logs.ListConversations(c.Request.Context(), q)
	if err != nil {
		h.Log.WithError(err).Error("conversation list failed")
		fail(c, http.StatusInternalServerError, 50007, "listing failed")
		return
	}
	ok(c, gin.H{
		"conversations": rows,
		"total":         total,
		"page":          q.Page,
		"page_size":     q.PageSize,
	})
}

func (h *Handler) AdminListMessages(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, 40008, "invalid conversation id")
		return
	}
	msgs, err := h.Logs.Messages(c.Request.Context(), id)
	if err != nil {
		h.Log.WithError(err).Error("message list failed")
		fail(c, http.StatusInternalServerError, 50007, "listing failed")
		return
	}
	ok(c, gin.H{"messages": msgs})
}

func (h *Handler) AdminDeleteConversation(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, 40008, "invalid conversation id")
		return
	}
	if err := h.Logs.DeleteConversation(c.Request.Context(), id); err != nil {
		h.Log.WithError(err).Error("conversation delete failed")
		fail(c, http.StatusInternalServerError, 50008, "delete failed")
		return
	}
	ok(c, gin.H{"deleted": true})
}

// AdminTestConnection checks the upstream credentials and workspace from
// the dashboard.
func (h *Handler) AdminTestConnection(c *gin.Context) {
	name, err := h.Upstream.TestConnection(c.Request.Context())
	if err != nil {
		var aerr *anythingllm.APIError
		if errors.As(err, &aerr) {
			ok(c, gin.H{"connected": false, "error": aerr.Message})
			return
		}
		ok(c, gin.H{"connected": false, "error": "connection failed"})
		return
	}
	ok(c, gin.H{"connected": true, "workspace": name})
}

func (h *Handler) AdminWorkspaces(c *gin.Context) {
	ws, err := h.Upstream.Workspaces(c.Request.Context())
	if err != nil {
		h.Log.WithError(err).Warn("workspace list failed")
		fail(c, http.StatusBadGateway, 50202, "workspace list unavailable")
		return
	}
	ok(c, gin.H{"workspaces": ws})
}

type gdprEraseReq struct {
	SessionID string  `json:"session_id"`
	UserID    *uint64 `json:"user_id"`
}

// AdminGDPRErase removes everything held for a session or a user, plus the
// session's consent record.
func (h *Handler) AdminGDPRErase(c *gin.Context) {
	var req gdprEraseReq
	if err := c.ShouldBindJSON(&req); err != nil || (req.SessionID == "" && req.UserID == nil) {
		fail(c, http.StatusBadRequest, 40009, "session_id or user_id required")
		return
	}

	ctx := c.Request.Context()
	deleted := 0
	if req.SessionID != "" {
		n, err := h.Logs.EraseBySession(ctx, req.SessionID)
		if err != nil {
			h.Log.WithError(err).Error("gdpr erase by session failed")
			fail(c, http.StatusInternalServerError, 50009, "erase failed")
			return
		}
		deleted += n
		if err := h.Consents.Revoke(ctx, req.SessionID); err != nil {
			h.Log.WithError(err).Warn("consent revoke during erase failed")
		}
	}
	if req.UserID != nil {
		n, err := h.Logs.EraseByUser(ctx, *req.UserID)
		if err != nil {
			h.Log.WithError(err).Error("gdpr erase by user failed")
			fail(c, http.StatusInternalServerError, 50009, "erase failed")
			return
		}
		deleted += n
	}
	ok(c, gin.H{"conversations_deleted": deleted})
}

func (h *Handler) AdminClearCache(c *gin.Context) {
	n, err := h.Cache.Clear(c.Request.Context())
	if err != nil {
		h.Log.WithError(err).Error("cache clear failed")
		fail(c, http.StatusInternalServerError, 50010, "cache clear failed")
		return
	}
	ok(c, gin.H{"entries_deleted": n})
}
