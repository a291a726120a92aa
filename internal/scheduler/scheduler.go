// Package scheduler runs the daily maintenance pass: retention sweep over
// conversations and consents, stats flush into durable rows, and cache
// housekeeping.
package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"chatgate/internal/consent"
	"chatgate/internal/convlog"
	"chatgate/internal/events"
	"chatgate/internal/respcache"
	"chatgate/internal/stats"
)

type Scheduler struct {
	Logs     *convlog.Service
	Consents *consent.Service
	Stats    *stats.Service
	Cache    *respcache.Cache
	Events   *events.Publisher
	Log      *logrus.Logger
}

// Run blocks until ctx is done, firing the maintenance pass at the next
// local midnight and every 24h after.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes one maintenance pass. Each step is independent; one
// failing never skips the rest.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()

	conversations, err := s.Logs.CleanupOldLogs(ctx)
	if err != nil {
		s.Log.WithError(err).Error("retention sweep over conversations failed")
	}

	consents, err := s.Consents.DeleteExpired(ctx)
	if err != nil {
		s.Log.WithError(err).Error("retention sweep over consents failed")
	}

	if err := s.Stats.Flush(ctx); err != nil {
		s.Log.WithError(err).Error("stats flush failed")
	}

	s.Cache.Cleanup()

	s.Log.WithFields(logrus.Fields{
		"conversations_deleted": conversations,
		"consents_deleted":      consents,
		"elapsed":               time.Since(start).String(),
	}).Info("daily maintenance done")

	if err := s.Events.Publish(ctx, events.TypeRetentionSweep, map[string]any{
		"conversations_deleted": conversations,
		"consents_deleted":      consents,
	}); err != nil {
		s.Log.WithError(err).Debug("retention event publish failed")
	}
}
