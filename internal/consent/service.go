package consent

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"chatgate/internal/common"
)

// Service gates message processing on recorded consent. Consent is required
// unless configuration explicitly disables it.
type Service struct {
	repo     *Repo
	secret   []byte
	window   time.Duration
	required bool
	log      *logrus.Logger

	now func() time.Time
}

func NewService(repo *Repo, secret string, days int, required bool, log *logrus.Logger) *Service {
	if days <= 0 {
		days = 30
	}
	return &Service{
		repo:     repo,
		secret:   []byte(secret),
		window:   time.Duration(days) * 24 * time.Hour,
		required: required,
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) Required() bool { return s.required }

// Record stores a consent row for the session (minting a session id when
// the client sent none) and returns the signed mirror token for the cookie.
func (s *Service) Record(ctx context.Context, sessionID, clientIP string) (sid, token string, expiresAt time.Time, err error) {
	if sessionID == "" {
		sessionID = common.NewSessionID()
	}
	now := s.now()
	expiresAt = now.Add(s.window)

	row := &Consent{
		SessionID:   sessionID,
		IPHash:      common.HashIP(clientIP, string(s.secret)),
		ConsentedAt: now,
		ExpiresAt:   expiresAt,
	}
	if err = s.repo.Create(ctx, row); err != nil {
		return "", "", time.Time{}, err
	}

	token, err = signToken(s.secret, sessionID, now, expiresAt)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return sessionID, token, expiresAt, nil
}

// Has reports whether the session holds valid consent. The durable row
// always decides: a signed token can reject a request (it is bound to one
// session) but never grants on its own, so a token retained after Revoke
// is worthless. Any storage error counts as "no consent"; the gate fails
// closed.
func (s *Service) Has(ctx context.Context, sessionID, token string) bool {
	if sessionID == "" {
		return false
	}
	if sub := verifyToken(s.secret, token, s.now()); sub != "" && sub != sessionID {
		return false
	}
	ok, err := s.repo.HasActive(ctx, sessionID, s.now())
	if err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("consent lookup failed")
		return false
	}
	return ok
}

// Revoke removes the durable rows immediately. Callers clear the client
// token (cookie) in the same response.
func (s *Service) Revoke(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.repo.DeleteBySession(ctx, sessionID)
}

// DeleteExpired is the retention hook sweeping stale consent rows.
func (s *Service) DeleteExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}
