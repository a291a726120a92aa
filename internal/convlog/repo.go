package convlog

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) FindConversationBySession(ctx context.Context, sessionID string) (*Conversation, error) {
	var c Conversation
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) GetConversation(ctx context.Context, id uint64) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) CreateConversation(ctx context.Context, c *Conversation) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(c).Error, "convlog: create conversation")
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(m).Error, "convlog: insert message")
}

// IncrementMessageCount bumps the denormalized counter. Best-effort under
// racing double-submits; a lost increment is tolerated.
func (r *Repo) IncrementMessageCount(ctx context.Context, conversationID uint64) error {
	return errors.Wrap(
		r.db.WithContext(ctx).Model(&Conversation{}).
			Where("id = ?", conversationID).
			UpdateColumn("message_count", gorm.Expr("message_count + 1")).Error,
		"convlog: increment message count")
}

// ListMessages returns a conversation's messages oldest first.
func (r *Repo) ListMessages(ctx context.Context, conversationID uint64) ([]Message, error) {
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&msgs).Error
	return msgs, errors.Wrap(err, "convlog: list messages")
}

func (r *Repo) MessageExists(ctx context.Context, messageID uint64) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Message{}).Where("id = ?", messageID).Count(&n).Error
	return n > 0, errors.Wrap(err, "convlog: message exists")
}

func (r *Repo) InsertFeedback(ctx context.Context, f *Feedback) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(f).Error, "convlog: insert feedback")
}

// DeleteConversationCascade removes a conversation with its messages and
// their feedback in one transaction.
func (r *Repo) DeleteConversationCascade(ctx context.Context, conversationID uint64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id IN (?)",
			tx.Model(&Message{}).Select("id").Where("conversation_id = ?", conversationID),
		).Delete(&Feedback{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Conversation{}, conversationID).Error
	})
	return errors.Wrap(err, "convlog: delete conversation")
}

// ConversationIDsStartedBefore captures the sweep scope up front so the
// retention pass stays safe next to concurrent writes.
func (r *Repo) ConversationIDsStartedBefore(ctx context.Context, cutoff time.Time) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&Conversation{}).
		Where("started_at < ?", cutoff).
		Pluck("id", &ids).Error
	return ids, errors.Wrap(err, "convlog: ids before cutoff")
}

func (r *Repo) ConversationIDsByUser(ctx context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&Conversation{}).
		Where("user_id = ?", userID).
		Pluck("id", &ids).Error
	return ids, errors.Wrap(err, "convlog: ids by user")
}

// Query is the one canonical pagination contract for conversation listings.
type Query struct {
	Page     int
	PageSize int
	UserID   *uint64
	DateFrom *time.Time
	DateTo   *time.Time
	Search   string
	OrderBy  string // started_at | message_count
	Desc     bool
}

func (q *Query) normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 20
	}
	switch q.OrderBy {
	case "started_at", "message_count":
	default:
		q.OrderBy = "started_at"
	}
}

func (r *Repo) ListConversations(ctx context.Context, q Query) ([]Conversation, int64, error) {
	q.normalize()

	base := r.db.WithContext(ctx).Model(&Conversation{})
	if q.UserID != nil {
		base = base.Where("user_id = ?", *q.UserID)
	}
	if q.DateFrom != nil {
		base = base.Where("started_at >= ?", *q.DateFrom)
	}
	if q.DateTo != nil {
		base = base.Where("started_at <= ?", *q.DateTo)
	}
	if q.Search != "" {
		pattern := "%" + q.Search + "%"
		base = base.Where(
			"session_id LIKE ? OR id IN (?)",
			pattern,
			r.db.Model(&Message{}).Select("conversation_id").Where("content LIKE ?", pattern),
		)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "convlog: count conversations")
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}

	var items []Conversation
	err := base.
		Order(q.OrderBy + " " + dir).
		Limit(q.PageSize).
		Offset((q.Page - 1) * q.PageSize).
		Find(&items).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "convlog: list conversations")
	}
	return items, total, nil
}
