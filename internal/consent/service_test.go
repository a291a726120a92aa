package consent

import (
	"context"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Consent{}))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewService(NewRepo(db), "test-secret", 30, true, log)
}

func TestRecordThenHas(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sid, token, expires, err := svc.Record(ctx, "sess-1", "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sid)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), expires, time.Minute)

	assert.True(t, svc.Has(ctx, sid, token))
	// the token is optional; the durable row alone suffices
	assert.True(t, svc.Has(ctx, sid, ""))
}

func TestRecordMintsSessionID(t *testing.T) {
	svc := newTestService(t)

	sid, _, _, err := svc.Record(context.Background(), "", "203.0.113.9")
	require.NoError(t, err)
	assert.NotEmpty(t, sid)
}

func TestHasFalseAfterRevoke(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sid, _, _, err := svc.Record(ctx, "sess-2", "203.0.113.9")
	require.NoError(t, err)
	require.True(t, svc.Has(ctx, sid, ""))

	require.NoError(t, svc.Revoke(ctx, sid))
	assert.False(t, svc.Has(ctx, sid, ""))
}

func TestRevokedSessionRejectsRetainedToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sid, token, _, err := svc.Record(ctx, "sess-4", "203.0.113.9")
	require.NoError(t, err)
	require.True(t, svc.Has(ctx, sid, token))

	require.NoError(t, svc.Revoke(ctx, sid))
	assert.False(t, svc.Has(ctx, sid, token), "revoked session must not pass on a stale token")
}

func TestHasFalseWhenExpired(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sid, token, _, err := svc.Record(ctx, "sess-3", "203.0.113.9")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	assert.False(t, svc.Has(ctx, sid, token))
	assert.False(t, svc.Has(ctx, sid, ""))
}

func TestTokenBoundToSession(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, token, _, err := svc.Record(ctx, "sess-a", "203.0.113.9")
	require.NoError(t, err)

	assert.False(t, svc.Has(ctx, "sess-b", token), "token for another session must not pass")
	assert.False(t, svc.Has(ctx, "", token))
}

func TestDeleteExpiredSweepsOnlyStaleRows(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, _, _, err := svc.Record(ctx, "fresh", "203.0.113.9")
	require.NoError(t, err)

	stale := &Consent{
		SessionID:   "stale",
		IPHash:      "x",
		ConsentedAt: time.Now().Add(-60 * 24 * time.Hour),
		ExpiresAt:   time.Now().Add(-30 * 24 * time.Hour),
	}
	require.NoError(t, svc.repo.Create(ctx, stale))

	n, err := svc.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.True(t, svc.Has(ctx, "fresh", ""))
}
