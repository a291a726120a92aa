package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"chatgate/internal/anythingllm"
	"chatgate/internal/chat"
	"chatgate/internal/config"
	"chatgate/internal/consent"
	"chatgate/internal/convlog"
	"chatgate/internal/events"
	"chatgate/internal/httpapi/nonce"
	"chatgate/internal/ratelimit"
	"chatgate/internal/respcache"
	"chatgate/internal/stats"
)

const (
	sessionCookie = "chatgate_session"
	consentCookie = "chatgate_consent"
)

type Handler struct {
	Cfg      config.Config
	ChatSvc  *chat.Service
	Upstream *anythingllm.Client
	Limiter  *ratelimit.Limiter
	Consents *consent.Service
	Cache    *respcache.Cache
	Logs     *convlog.Service
	Stats    *stats.Service
	Events   *events.Publisher
	Nonces   *nonce.Issuer
	Log      *logrus.Logger
}

func NewHandler(
	cfg config.Config,
	chatSvc *chat.Service,
	upstream *anythingllm.Client,
	limiter *ratelimit.Limiter,
	consents *consent.Service,
	cache *respcache.Cache,
	logs *convlog.Service,
	statsSvc *stats.Service,
	publisher *events.Publisher,
	log *logrus.Logger,
) *Handler {
	return &Handler{
		Cfg:      cfg,
		ChatSvc:  chatSvc,
		Upstream: upstream,
		Limiter:  limiter,
		Consents: consents,
		Cache:    cache,
		Logs:     logs,
		Stats:    statsSvc,
		Events:   publisher,
		Nonces:   nonce.New(cfg.Secret),
		Log:      log,
	}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}

// sessionID resolves the caller's session from cookie, header or body value,
// in that order of preference.
func sessionID(c *gin.Context, bodyValue string) string {
	if v, err := c.Cookie(sessionCookie); err == nil && v != "" {
		return v
	}
	if v := c.GetHeader("X-Session-ID"); v != "" {
		return v
	}
	return bodyValue
}

func consentToken(c *gin.Context) string {
	v, _ := c.Cookie(consentCookie)
	return v
}
