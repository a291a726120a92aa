package consent

import "time"

// Consent records that a session agreed to data processing. Rows are
// append-only per session; only a non-expired row gates anything, and the
// retention sweep removes expired leftovers.
type Consent struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID   string    `gorm:"type:varchar(64);index;not null" json:"session_id"`
	IPHash      string    `gorm:"type:varchar(64);not null" json:"-"`
	ConsentedAt time.Time `gorm:"not null" json:"consented_at"`
	ExpiresAt   time.Time `gorm:"index;not null" json:"expires_at"`
}

func (Consent) TableName() string { return "consents" }
