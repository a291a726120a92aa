package convlog

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation groups all messages of one widget session. One row per
// distinct session id, created lazily on the first logged message.
type Conversation struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"session_id"`
	UserID       *uint64    `gorm:"index" json:"user_id,omitempty"`
	IPHash       string     `gorm:"type:varchar(64);not null" json:"-"`
	StartedAt    time.Time  `gorm:"index;not null" json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	MessageCount int        `gorm:"not null;default:0" json:"message_count"`
}

func (Conversation) TableName() string { return "conversations" }

// Message is immutable once written; deletion only cascades from its
// conversation.
type Message struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64    `gorm:"index;not null" json:"conversation_id"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `gorm:"index;not null" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// Feedback is an append-only quality signal on one message; uniqueness per
// user is deliberately not enforced.
type Feedback struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageID uint64    `gorm:"index;not null" json:"message_id"`
	Rating    int       `gorm:"not null" json:"rating"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Feedback) TableName() string { return "feedback" }
