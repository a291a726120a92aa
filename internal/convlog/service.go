package convlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"chatgate/internal/common"
)

// ErrNotFound is returned for lookups against unknown sessions or rows.
var ErrNotFound = errors.New("convlog: not found")

// Service persists conversations, messages and feedback. With logging
// disabled every write becomes a no-op returning the zero sentinel, never
// an error. Chat must keep working without a trace.
type Service struct {
	repo          *Repo
	enabled       bool
	hashSecret    string
	retentionDays int
	log           *logrus.Logger

	now func() time.Time
}

func NewService(repo *Repo, enabled bool, hashSecret string, retentionDays int, log *logrus.Logger) *Service {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Service{
		repo:          repo,
		enabled:       enabled,
		hashSecret:    hashSecret,
		retentionDays: retentionDays,
		log:           log,
		now:           time.Now,
	}
}

func (s *Service) Enabled() bool { return s.enabled }

// GetOrCreateConversation returns the session's conversation id, creating
// the row on first sight. created tells the caller whether to count a new
// conversation in stats.
func (s *Service) GetOrCreateConversation(ctx context.Context, sessionID, clientIP string, userID *uint64) (id uint64, created bool, err error) {
	existing, err := s.repo.FindConversationBySession(ctx, sessionID)
	if err == nil {
		return existing.ID, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, err
	}

	conv := &Conversation{
		SessionID:    sessionID,
		UserID:       userID,
		IPHash:       common.HashIP(clientIP, s.hashSecret),
		StartedAt:    s.now(),
		MessageCount: 0,
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		// a racing first message may have created it already
		if again, ferr := s.repo.FindConversationBySession(ctx, sessionID); ferr == nil {
			return again.ID, false, nil
		}
		return 0, false, err
	}
	return conv.ID, true, nil
}

// LogMessage appends one message under the session's conversation and bumps
// its counter. Disabled logging returns (0, false, nil).
func (s *Service) LogMessage(ctx context.Context, sessionID, clientIP string, userID *uint64, role, content string) (messageID uint64, conversationCreated bool, err error) {
	if !s.enabled {
		return 0, false, nil
	}

	convID, created, err := s.GetOrCreateConversation(ctx, sessionID, clientIP, userID)
	if err != nil {
		return 0, false, err
	}

	msg := &Message{
		ConversationID: convID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.now(),
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return 0, created, err
	}
	if err := s.repo.IncrementMessageCount(ctx, convID); err != nil {
		// counter drift is tolerated; the message row is what matters
		s.log.WithError(err).WithField("conversation_id", convID).Warn("message_count increment failed")
	}
	return msg.ID, created, nil
}

func (s *Service) Messages(ctx context.Context, conversationID uint64) ([]Message, error) {
	return s.repo.ListMessages(ctx, conversationID)
}

func (s *Service) ListConversations(ctx context.Context, q Query) ([]Conversation, int64, error) {
	return s.repo.ListConversations(ctx, q)
}

func (s *Service) DeleteConversation(ctx context.Context, conversationID uint64) error {
	return s.repo.DeleteConversationCascade(ctx, conversationID)
}

// CleanupOldLogs deletes every conversation started before now−retention,
// cascading to messages and feedback. Idempotent; the id list is captured
// once so concurrent new writes are never touched.
func (s *Service) CleanupOldLogs(ctx context.Context) (int, error) {
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	ids, err := s.repo.ConversationIDsStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		if err := s.repo.DeleteConversationCascade(ctx, id); err != nil {
			s.log.WithError(err).WithField("conversation_id", id).Warn("retention delete failed")
			continue
		}
		deleted++
	}
	return deleted, nil
}

// SubmitFeedback records a +1/-1 rating for an existing message.
func (s *Service) SubmitFeedback(ctx context.Context, messageID uint64, rating int) (uint64, error) {
	if rating != 1 && rating != -1 {
		return 0, fmt.Errorf("convlog: rating must be +1 or -1, got %d", rating)
	}
	ok, err := s.repo.MessageExists(ctx, messageID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	f := &Feedback{MessageID: messageID, Rating: rating, CreatedAt: s.now()}
	if err := s.repo.InsertFeedback(ctx, f); err != nil {
		return 0, err
	}
	return f.ID, nil
}

// Export renders a session's transcript as plain text for download.
func (s *Service) Export(ctx context.Context, sessionID string) (string, error) {
	conv, err := s.repo.FindConversationBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	msgs, err := s.repo.ListMessages(ctx, conv.ID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("=== Conversation export ===\n")
	fmt.Fprintf(&b, "Date: %s\n\n", s.now().Format("2006-01-02 15:04:05"))
	for _, m := range msgs {
		label := "Assistant"
		if m.Role == RoleUser {
			label = "You"
		}
		fmt.Fprintf(&b, "[%s] %s:\n%s\n\n", m.CreatedAt.Format("2006-01-02 15:04:05"), label, m.Content)
	}
	return b.String(), nil
}

// ClearHistory removes the session's conversation and everything under it.
func (s *Service) ClearHistory(ctx context.Context, sessionID string) error {
	conv, err := s.repo.FindConversationBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	return s.repo.DeleteConversationCascade(ctx, conv.ID)
}

// EraseBySession handles a GDPR erasure request scoped to one session.
func (s *Service) EraseBySession(ctx context.Context, sessionID string) (int, error) {
	err := s.ClearHistory(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// EraseByUser handles a GDPR erasure request for an authenticated user.
func (s *Service) EraseByUser(ctx context.Context, userID uint64) (int, error) {
	ids, err := s.repo.ConversationIDsByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		if err := s.repo.DeleteConversationCascade(ctx, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
