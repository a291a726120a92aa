package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"chatgate/internal/anythingllm"
	"chatgate/internal/consent"
	"chatgate/internal/convlog"
	"chatgate/internal/events"
	"chatgate/internal/ratelimit"
	"chatgate/internal/respcache"
	"chatgate/internal/stats"
)

// Upstream is the slice of the workspace API the orchestrator needs.
type Upstream interface {
	Chat(ctx context.Context, message, sessionID, mode string, att *anythingllm.Attachment) (map[string]any, error)
	StreamChat(ctx context.Context, message, sessionID string) (<-chan string, <-chan error)
}

// Request is one inbound chat message after transport decoding.
type Request struct {
	SessionID    string
	Message      string
	Honeypot     string
	ConsentToken string
	ClientIP     string
	UserID       *uint64
	Attachment   *anythingllm.Attachment
}

// Reply is the canonical answer delivered to the widget.
type Reply struct {
	anythingllm.Response
	Cached             bool   `json:"cached"`
	AssistantMessageID uint64 `json:"message_id,omitempty"`
}

// Options are the policy knobs the orchestrator consumes from config.
type Options struct {
	MaxMessageChars    int
	DefaultImagePrompt string
	AllowAttachments   bool
	MaxAttachmentBytes int64
	AllowedExtensions  []string
}

// Service runs the per-message pipeline: validate, rate-check, consent-
// check, cache lookup, upstream call, format, persist, stats, cache store.
// All collaborators are injected; there is no ambient state.
type Service struct {
	upstream Upstream
	limiter  *ratelimit.Limiter
	consents *consent.Service
	cache    *respcache.Cache
	logs     *convlog.Service
	stats    *stats.Service
	events   *events.Publisher
	opts     Options
	log      *logrus.Logger

	now func() time.Time
}

func NewService(
	upstream Upstream,
	limiter *ratelimit.Limiter,
	consents *consent.Service,
	cache *respcache.Cache,
	logs *convlog.Service,
	statsSvc *stats.Service,
	publisher *events.Publisher,
	opts Options,
	log *logrus.Logger,
) *Service {
	if opts.MaxMessageChars <= 0 {
		opts.MaxMessageChars = 5000
	}
	if opts.DefaultImagePrompt == "" {
		opts.DefaultImagePrompt = "What do you see in this image?"
	}
	s := &Service{
		upstream: upstream,
		limiter:  limiter,
		consents: consents,
		cache:    cache,
		logs:     logs,
		stats:    statsSvc,
		events:   publisher,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
	limiter.OnExceeded = func(clientKey string, count int64) {
		if err := publisher.Publish(context.Background(), events.TypeRateLimitExceeded, map[string]any{
			"client": clientKey,
			"count":  count,
		}); err != nil {
			log.WithError(err).Debug("rate-limit event publish failed")
		}
	}
	return s
}

// Send runs the standard (non-streaming) pipeline for one message.
func (s *Service) Send(ctx context.Context, req Request) (Reply, error) {
	msg, err := s.validate(&req)
	if err != nil {
		return Reply{}, err
	}

	if err := s.gate(ctx, req); err != nil {
		return Reply{}, err
	}

	// multimodal responses are non-deterministic; never memoize them
	useCache := req.Attachment == nil
	if useCache {
		if resp, ok := s.cache.Get(ctx, msg); ok {
			return Reply{Response: resp, Cached: true}, nil
		}
	}

	start := s.now()
	raw, err := s.upstream.Chat(ctx, msg, req.SessionID, "chat", req.Attachment)
	elapsed := s.now().Sub(start)
	if err != nil {
		return Reply{}, s.upstreamFailure(ctx, req, err)
	}

	resp, err := anythingllm.Normalize(raw)
	if err != nil {
		return Reply{}, s.upstreamFailure(ctx, req, err)
	}

	reply := Reply{Response: resp}
	s.persistAndCount(ctx, req, msg, resp.Text, elapsed, &reply)

	if useCache {
		if err := s.cache.Set(ctx, msg, resp); err != nil {
			s.log.WithError(err).Warn("cache store failed")
		}
	}
	return reply, nil
}

// validate applies the honeypot, emptiness, attachment and length rules and
// returns the effective message text.
func (s *Service) validate(req *Request) (string, error) {
	// bots fill the hidden field; reject silently with a generic reason
	if strings.TrimSpace(req.Honeypot) != "" {
		return "", &ValidationError{Reason: "invalid request"}
	}

	msg := strings.TrimSpace(req.Message)
	if msg == "" && req.Attachment == nil {
		return "", &ValidationError{Reason: "empty message"}
	}

	if req.Attachment != nil {
		if err := s.validateAttachment(req.Attachment); err != nil {
			return "", err
		}
		if msg == "" {
			msg = s.opts.DefaultImagePrompt
		}
	}

	if utf8.RuneCountInString(msg) > s.opts.MaxMessageChars {
		return "", &ValidationError{
			Reason: fmt.Sprintf("message too long (max %d characters)", s.opts.MaxMessageChars),
		}
	}
	return msg, nil
}

func (s *Service) validateAttachment(att *anythingllm.Attachment) error {
	if !s.opts.AllowAttachments {
		return &ValidationError{Reason: "attachments are disabled"}
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(att.Name), "."))
	allowed := false
	for _, a := range s.opts.AllowedExtensions {
		if ext == a {
			allowed = true
			break
		}
	}
	if !allowed {
		return &ValidationError{Reason: "file type not allowed"}
	}
	if s.opts.MaxAttachmentBytes > 0 {
		payload := att.ContentString
		if i := strings.IndexByte(payload, ','); i >= 0 {
			payload = payload[i+1:]
		}
		// base64 expands by 4/3; compare in encoded space
		if int64(len(payload)) > s.opts.MaxAttachmentBytes*4/3 {
			return &ValidationError{Reason: "file too large"}
		}
	}
	return nil
}

// gate applies the rate and consent checks shared by both delivery paths.
func (s *Service) gate(ctx context.Context, req Request) error {
	allowed, err := s.limiter.Check(ctx, req.ClientIP)
	if err != nil {
		// infrastructure trouble must not block users
		s.log.WithError(err).Warn("rate limiter unavailable, allowing request")
	} else if !allowed {
		return ErrRateLimited
	}

	if s.consents.Required() && !s.consents.Has(ctx, req.SessionID, req.ConsentToken) {
		return ErrConsentRequired
	}
	return nil
}

// upstreamFailure records the error and hands back the typed error; nothing
// is persisted or cached on this path.
func (s *Service) upstreamFailure(ctx context.Context, req Request, err error) error {
	s.log.WithError(err).WithField("session_id", req.SessionID).Error("upstream chat failed")
	s.stats.IncrementErrors(ctx)
	if perr := s.events.Publish(ctx, events.TypeUpstreamError, map[string]any{
		"session_id": req.SessionID,
		"error":      err.Error(),
	}); perr != nil {
		s.log.WithError(perr).Debug("upstream-error event publish failed")
	}
	return &UpstreamError{Err: err}
}

// persistAndCount logs both turns and updates counters. Persistence is
// best-effort: failures are logged and the reply still goes out.
func (s *Service) persistAndCount(ctx context.Context, req Request, userMsg, assistantMsg string, elapsed time.Duration, reply *Reply) {
	_, created, err := s.logs.LogMessage(ctx, req.SessionID, req.ClientIP, req.UserID, convlog.RoleUser, userMsg)
	if err != nil {
		s.log.WithError(err).WithField("session_id", req.SessionID).Warn("user message persist failed")
	}
	assistantID, _, err := s.logs.LogMessage(ctx, req.SessionID, req.ClientIP, req.UserID, convlog.RoleAssistant, assistantMsg)
	if err != nil {
		s.log.WithError(err).WithField("session_id", req.SessionID).Warn("assistant message persist failed")
	}
	reply.AssistantMessageID = assistantID

	if created {
		s.stats.IncrementConversations(ctx)
	}
	s.stats.IncrementMessages(ctx)
	s.stats.UpdateResponseTime(ctx, elapsed.Seconds())
}
