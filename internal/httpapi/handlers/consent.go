package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chatgate/internal/events"
)

type recordConsentReq struct {
	SessionID string `json:"session_id"`
}

// RecordConsent stores consent for the session and mirrors it into cookies
// so later requests skip the database on the happy path.
func (h *Handler) RecordConsent(c *gin.Context) {
	var req recordConsentReq
	_ = c.ShouldBindJSON(&req) // empty body means "mint me a session"

	sid, token, expiresAt, err := h.Consents.Record(c.Request.Context(), sessionID(c, req.SessionID), c.ClientIP())
	if err != nil {
		h.Log.WithError(err).Error("consent record failed")
		fail(c, http.StatusInternalServerError, 50002, "could not record consent")
		return
	}

	maxAge := int(time.Until(expiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, sid, maxAge, "/", "", false, true)
	c.SetCookie(consentCookie, token, maxAge, "/", "", false, true)

	ok(c, gin.H{
		"session_id": sid,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

// RevokeConsent deletes the durable record and expires both cookies. The
// conversation history is erased with it.
func (h *Handler) RevokeConsent(c *gin.Context) {
	sid := sessionID(c, "")
	if sid == "" {
		fail(c, http.StatusBadRequest, 40005, "no session")
		return
	}

	ctx := c.Request.Context()
	if err := h.Consents.Revoke(ctx, sid); err != nil {
		h.Log.WithError(err).Error("consent revoke failed")
		fail(c, http.StatusInternalServerError, 50003, "could not revoke consent")
		return
	}
	if _, err := h.Logs.EraseBySession(ctx, sid); err != nil {
		h.Log.WithError(err).WithField("session_id", sid).Warn("history erase on revoke failed")
	}
	if err := h.Events.Publish(ctx, events.TypeConsentRevoked, map[string]any{"session_id": sid}); err != nil {
		h.Log.WithError(err).Debug("consent-revoked event publish failed")
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
	c.SetCookie(consentCookie, "", -1, "/", "", false, true)

	ok(c, gin.H{"revoked": true})
}

// CheckConsent lets the widget decide whether to show the consent banner.
func (h *Handler) CheckConsent(c *gin.Context) {
	sid := sessionID(c, "")
	ok(c, gin.H{
		"required":    h.Consents.Required(),
		"has_consent": sid != "" && h.Consents.Has(c.Request.Context(), sid, consentToken(c)),
	})
}
