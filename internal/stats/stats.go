package stats

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	todayKey  = "chatgate:stats:today"
	bucketTTL = 48 * time.Hour
	dateFmt   = "2006-01-02"
)

// DailyStat is the durable per-date row today's bucket flushes into.
type DailyStat struct {
	ID              uint64  `gorm:"primaryKey;autoIncrement" json:"-"`
	Date            string  `gorm:"type:varchar(10);uniqueIndex;not null" json:"date"`
	Conversations   int     `gorm:"not null;default:0" json:"conversations"`
	Messages        int     `gorm:"not null;default:0" json:"messages"`
	Errors          int     `gorm:"not null;default:0" json:"errors"`
	AvgResponseTime float64 `gorm:"not null;default:0" json:"avg_response_time"`
}

func (DailyStat) TableName() string { return "daily_stats" }

// Bucket is the live "today" counter set, kept in the fast store.
type Bucket struct {
	Date            string  `json:"date"`
	Conversations   int     `json:"conversations"`
	Messages        int     `json:"messages"`
	Errors          int     `json:"errors"`
	AvgResponseTime float64 `json:"avg_response_time"`
}

// Store is the fast tier holding the today bucket.
type Store interface {
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Service aggregates rolling daily counters. Counter writes are best-effort:
// they log on failure but never propagate errors into the chat pipeline.
type Service struct {
	db      *gorm.DB
	store   Store
	enabled bool
	log     *logrus.Logger

	// mu serializes read-modify-write of the bucket within this process;
	// cross-process racing updates are tolerated like the counter drift
	// accepted elsewhere.
	mu sync.Mutex

	now func() time.Time
}

func NewService(db *gorm.DB, store Store, enabled bool, log *logrus.Logger) *Service {
	return &Service{db: db, store: store, enabled: enabled, log: log, now: time.Now}
}

func (s *Service) IncrementConversations(ctx context.Context) {
	s.update(ctx, func(b *Bucket) { b.Conversations++ })
}

func (s *Service) IncrementMessages(ctx context.Context) {
	s.update(ctx, func(b *Bucket) { b.Messages++ })
}

func (s *Service) IncrementErrors(ctx context.Context) {
	s.update(ctx, func(b *Bucket) { b.Errors++ })
}

// UpdateResponseTime folds one sample into the day's running mean using
// new = (old*(n-1) + sample) / n with n the current message count. This is
// the recorded algorithm; summaries depend on reproducing it exactly.
func (s *Service) UpdateResponseTime(ctx context.Context, seconds float64) {
	s.update(ctx, func(b *Bucket) {
		n := b.Messages
		if n > 0 {
			b.AvgResponseTime = (b.AvgResponseTime*float64(n-1) + seconds) / float64(n)
		} else {
			b.AvgResponseTime = seconds
		}
	})
}

func (s *Service) update(ctx context.Context, mutate func(*Bucket)) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.loadBucket(ctx)
	if err != nil {
		s.log.WithError(err).Warn("stats bucket load failed")
		return
	}
	mutate(&b)
	if err := s.store.SetJSON(ctx, todayKey, b, bucketTTL); err != nil {
		s.log.WithError(err).Warn("stats bucket save failed")
	}
}

// loadBucket returns today's bucket, rolling a stale one into its durable
// row first. Callers hold mu.
func (s *Service) loadBucket(ctx context.Context) (Bucket, error) {
	today := s.now().Format(dateFmt)

	var b Bucket
	ok, err := s.store.GetJSON(ctx, todayKey, &b)
	if err != nil {
		return Bucket{}, err
	}
	if ok && b.Date == today {
		return b, nil
	}
	if ok && b.Date != today {
		if err := s.flushLocked(ctx, b); err != nil {
			return Bucket{}, err
		}
	}
	return Bucket{Date: today}, nil
}

// Today returns a snapshot of the live bucket, rolling over first if the
// stored date is stale.
func (s *Service) Today(ctx context.Context) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadBucket(ctx)
}

// Flush persists a stale bucket into its daily row and clears it. It is
// idempotent and shared by the lazy check-on-read and the midnight tick;
// a bucket still dated today is left alone.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b Bucket
	ok, err := s.store.GetJSON(ctx, todayKey, &b)
	if err != nil {
		return err
	}
	if !ok || b.Date == s.now().Format(dateFmt) {
		return nil
	}
	if err := s.flushLocked(ctx, b); err != nil {
		return err
	}
	return s.store.Del(ctx, todayKey)
}

func (s *Service) flushLocked(ctx context.Context, b Bucket) error {
	if b.Date == "" {
		return nil
	}
	row := DailyStat{
		Date:            b.Date,
		Conversations:   b.Conversations,
		Messages:        b.Messages,
		Errors:          b.Errors,
		AvgResponseTime: b.AvgResponseTime,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"conversations", "messages", "errors", "avg_response_time"}),
	}).Create(&row).Error
	return errors.Wrap(err, "stats: upsert daily row")
}
