package consent

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

func (r *Repo) Create(ctx context.Context, c *Consent) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(c).Error, "consent: create")
}

// HasActive reports whether the session holds a non-expired consent row.
func (r *Repo) HasActive(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Consent{}).
		Where("session_id = ? AND expires_at > ?", sessionID, now).
		Count(&n).Error
	if err != nil {
		return false, errors.Wrap(err, "consent: query active")
	}
	return n > 0, nil
}

func (r *Repo) DeleteBySession(ctx context.Context, sessionID string) error {
	return errors.Wrap(
		r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&Consent{}).Error,
		"consent: delete by session")
}

// DeleteExpired removes rows whose window ended before cutoff.
func (r *Repo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&Consent{})
	return res.RowsAffected, errors.Wrap(res.Error, "consent: delete expired")
}
