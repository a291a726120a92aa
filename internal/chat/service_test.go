package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"chatgate/internal/anythingllm"
	"chatgate/internal/consent"
	"chatgate/internal/convlog"
	"chatgate/internal/ratelimit"
	"chatgate/internal/respcache"
	"chatgate/internal/stats"
)

// kvStore fakes the redis store for the limiter, cache and stats bucket.
type kvStore struct {
	mu     sync.Mutex
	values map[string]string
	counts map[string]int64
}

func newKVStore() *kvStore {
	return &kvStore{values: make(map[string]string), counts: make(map[string]int64)}
}

func (f *kvStore) Incr(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

func (f *kvStore) Expire(_ context.Context, _ string, _ time.Duration) error { return nil }

func (f *kvStore) TTL(_ context.Context, _ string) (time.Duration, error) { return time.Minute, nil }

func (f *kvStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *kvStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *kvStore) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.values, k)
		delete(f.counts, k)
	}
	return nil
}

func (f *kvStore) DeleteByPrefix(_ context.Context, prefix string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k := range f.values {
		if strings.HasPrefix(k, prefix) {
			delete(f.values, k)
			n++
		}
	}
	return n, nil
}

func (f *kvStore) GetJSON(_ context.Context, key string, out any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal([]byte(v), out)
}

func (f *kvStore) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = string(b)
	return nil
}

type fakeUpstream struct {
	raw   map[string]any
	err   error
	calls int

	streamChunks []string
	streamErr    error
}

func (u *fakeUpstream) Chat(_ context.Context, _, _, _ string, _ *anythingllm.Attachment) (map[string]any, error) {
	u.calls++
	if u.err != nil {
		return nil, u.err
	}
	return u.raw, nil
}

func (u *fakeUpstream) StreamChat(_ context.Context, _, _ string) (<-chan string, <-chan error) {
	u.calls++
	chunks := make(chan string, len(u.streamChunks))
	errs := make(chan error, 1)
	for _, c := range u.streamChunks {
		chunks <- c
	}
	if u.streamErr != nil {
		errs <- u.streamErr
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

type fixture struct {
	svc      *Service
	upstream *fakeUpstream
	db       *gorm.DB
	stats    *stats.Service
	consents *consent.Service
}

func newFixture(t *testing.T, opts Options, rateLimit int) *fixture {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&consent.Consent{}, &convlog.Conversation{}, &convlog.Message{}, &convlog.Feedback{}, &stats.DailyStat{},
	))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	kv := newKVStore()
	up := &fakeUpstream{raw: map[string]any{"textResponse": "the answer"}}

	consents := consent.NewService(consent.NewRepo(db), "secret", 30, true, log)
	limiter := ratelimit.New(kv, rateLimit, time.Minute)
	cache := respcache.New(kv, "ws", true, time.Hour)
	logs := convlog.NewService(convlog.NewRepo(db), true, "secret", 30, log)
	statsSvc := stats.NewService(db, kv, true, log)

	svc := NewService(up, limiter, consents, cache, logs, statsSvc, nil, opts, log)
	return &fixture{svc: svc, upstream: up, db: db, stats: statsSvc, consents: consents}
}

func (f *fixture) consentFor(t *testing.T, sessionID string) {
	t.Helper()
	_, _, _, err := f.consents.Record(context.Background(), sessionID, "203.0.113.9")
	require.NoError(t, err)
}

func baseRequest() Request {
	return Request{SessionID: "sess-1", Message: "What is Go?", ClientIP: "203.0.113.9"}
}

func TestSendHoneypotRejectedSilently(t *testing.T) {
	f := newFixture(t, Options{}, 30)
	req := baseRequest()
	req.Honeypot = "gotcha"

	_, err := f.svc.Send(context.Background(), req)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "invalid request", verr.Reason, "honeypot reason stays generic")
	assert.Zero(t, f.upstream.calls)
}

func TestSendEmptyMessageRejected(t *testing.T) {
	f := newFixture(t, Options{}, 30)
	req := baseRequest()
	req.Message = "   "

	_, err := f.svc.Send(context.Background(), req)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, f.upstream.calls)
}

func TestSendOversizedMessageRejected(t *testing.T) {
	f := newFixture(t, Options{MaxMessageChars: 5000}, 30)
	req := baseRequest()
	req.Message = strings.Repeat("a", 5001)

	_, err := f.svc.Send(context.Background(), req)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "5000", "reason names the limit")
	assert.Zero(t, f.upstream.calls, "no upstream call for rejected input")
}

func TestSendRateLimited(t *testing.T) {
	f := newFixture(t, Options{}, 1)
	f.consentFor(t, "sess-1")
	ctx := context.Background()

	_, err := f.svc.Send(ctx, baseRequest())
	require.NoError(t, err)

	_, err = f.svc.Send(ctx, baseRequest())
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, f.upstream.calls)
}

func TestSendConsentRequired(t *testing.T) {
	f := newFixture(t, Options{}, 30)

	_, err := f.svc.Send(context.Background(), baseRequest())
	assert.ErrorIs(t, err, ErrConsentRequired)
	assert.Zero(t, f.upstream.calls, "nothing forwarded without consent")

	var n int64
	require.NoError(t, f.db.Model(&convlog.Message{}).Count(&n).Error)
	assert.Zero(t, n, "nothing logged without consent")
}

func TestSendSuccessPersistsAndCounts(t *testing.T) {
	f := newFixture(t, Options{}, 30)
	f.consentFor(t, "sess-1")
	ctx := context.Background()

	reply, err := f.svc.Send(ctx, baseRequest())
	require.NoError(t, err)
	assert.Equal(t, "the answer", reply.Text)
	assert.False(t, reply.Cached)
	assert.NotZero(t, reply.AssistantMessageID)

	var msgs []convlog.Message
	require.NoError(t, f.db.Order("id ASC").Find(&msgs).Error)
	require.Len(t, msgs, 2)
	assert.Equal(t, convlog.RoleUser, msgs[0].Role)
	assert.Equal(t, "What is Go?", msgs[0].Content)
	assert.Equal(t, convlog.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "the answer", msgs[1].Content)

	b, err := f.stats.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Conversations)
	assert.Equal(t, 1, b.Messages)
	assert.Zero(t, b.Errors)
}

func TestSendSecondIdenticalQueryServedFromCache(t *testing.T) {
	f := newFixture(t, Options{}, 30)
	f.consentFor(t, "sess-1")
	ctx := context.Background()

	_, err := f.svc.Send(ctx, baseRequest())
	require.NoError(t, err)

	req := baseRequest()
	req.Message = "  what   is go? " // normalizes to the same key
	reply, err := f.svc.Send(ctx, req)
	require.NoError(t, err)
	assert.True(t, reply.Cached)
	assert.Equal(t, 1, f.upstream.calls)

	// cache hits bypass persistence and stats
	var n int64
	require.NoError(t, f.db.Model(&convlog.Message{}).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}

func TestSendAttachmentBypassesCache(t *testing.T) {
	opts := Options{
		AllowAttachments:   true,
		MaxAttachmentBytes: 1 << 20,
		AllowedExtensions:  []string{"png"},
	}
	f := newFixture(t, opts, 30)
	f.consentFor(t, "sess-1")
	ctx := context.Background()

	// warm the cache with the identical text query
	_, err := f.svc.Send(ctx, baseRequest())
	require.NoError(t, err)
	require.Equal(t, 1, f.upstream.calls)

	req := baseRequest()
	req.Attachment = &anythingllm.Attachment{
		Name:          "shot.png",
		Mime:          "image/png",
		ContentString: "data:image/png;base64,aGVsbG8=",
	}
	reply, err := f.svc.Send(ctx, req)
	require.NoError(t, err)
	assert.False(t, reply.Cached)
	assert.Equal(t, 2, f.upstream.calls, "attachment request skips the warm cache")
}

func TestSendAttachmentValidation(t *testing.T) {
	opts := Options{
		AllowAttachments:   true,
		MaxAttachmentBytes: 4,
		AllowedExtensions:  []string{"png"},
	}
	f := newFixture(t, opts, 30)
	f.consentFor(t, "sess-1")
	ctx := context.Background()

	req := baseRequest()
	req.Attachment = &anythingllm.Attachment{Name: "evil.exe", ContentString: "data:application/x;base64,aGVsbG8="}
	_, err := f.svc.Send(ctx, req)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "file type")

	req.Attachment = &anythingllm.Attachment{Name: "big.png", ContentString: "data:image/png;base64," + strings.Repeat("A", 100)}
	_, err = f.svc.Send(ctx, req)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "too large")
}

func TestSendEmptyMessageWithAttachmentUsesDefaultPrompt(t *testing.T) {
	opts := Options{
		AllowAttachments:   true,
		MaxAttachmentBytes: 1 << 20,
		AllowedExtensions:  []string{"png"},
		DefaultImagePrompt: "Describe this image.",
	}
	f := newFixture(t, opts, 30)
	f.consentFor(t, "sess-1")

	req := baseRequest()
	req.Message = ""
	req.Attachment = &anythingllm.Attachment{Name: "a.png", ContentString: "data:image/png;base64,aGVsbG8="}
	_, err := f.svc.Send(context.Background(), req)
	require.NoError(t, err)

	var msgs []convlog.Message
	require.NoError(t, f.db.Where("role = ?", convlog.RoleUser).Find(&msgs).Error)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Describe this image.", msgs[0].Content)
}

func TestSendUpstreamFailure(t *testing.T) {
	f := newFixture(t, Options{}, 30)
	f.consentFor(t, "sess-1")
	f.upstream.err = &anythingllm.APIError{StatusCode: 500, Message: "boom"}
	ctx := context.Background()

	_, err := f.svc.Send(ctx, baseRequest())
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)

	b, err2 := f.stats.Today(ctx)
	require.NoError(t, err2)
	assert.Equal(t, 1, b.Errors, "error counter incremented exactly once")
	assert.Zero(t, b.Messages)

	var n int64
	require.NoError(t, f.db.Model(&convlog.Message{}).Count(&n).Error)
	assert.Zero(t, n, "no message rows on upstream failure")

	// the failure was not cached; a retry reaches upstream again
	f.upstream.err = nil
	reply, err := f.svc.Send(ctx, baseRequest())
	require.NoError(t, err)
	assert.False(t, reply.Cached)
}

func TestSendUnknownShapeTreatedAsUpstreamFailure(t *testing.T) {
	f := newFixture(t, Options{}, 30)
	f.consentFor(t, "sess-1")
	f.upstream.raw = map[string]any{"surprise": true}

	_, err := f.svc.Send(context.Background(), baseRequest())
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.ErrorIs(t, err, anythingllm.ErrUnknownShape)
}

func TestStreamRelaysAndPersists(t *testing.T) {
	f := newFixture(t, Options{}, 30)
	f.consentFor(t, "sess-1")
	f.upstream.streamChunks = []string{"Hel", "lo ", "world"}
	ctx := context.Background()

	chunks, errs := f.svc.Stream(ctx, baseRequest())

	var got []string
	for c := range chunks {
		got = append(got, c)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, []string{"Hel", "lo ", "world"}, got)

	var msgs []convlog.Message
	require.NoError(t, f.db.Order("id ASC").Find(&msgs).Error)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello world", msgs[1].Content)

	b, err := f.stats.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Messages)
}

func TestStreamGatesApply(t *testing.T) {
	f := newFixture(t, Options{}, 30)
	// no consent recorded

	chunks, errs := f.svc.Stream(context.Background(), baseRequest())
	for range chunks {
	}
	assert.ErrorIs(t, <-errs, ErrConsentRequired)
	assert.Zero(t, f.upstream.calls)
}

func TestStreamClientCancelNotCountedAsUpstreamError(t *testing.T) {
	f := newFixture(t, Options{}, 30)
	f.consentFor(t, "sess-1")
	f.upstream.streamChunks = []string{"par"}
	f.upstream.streamErr = context.Canceled
	ctx := context.Background()

	chunks, errs := f.svc.Stream(ctx, baseRequest())
	for range chunks {
	}
	err := <-errs
	assert.ErrorIs(t, err, context.Canceled)
	var uerr *UpstreamError
	assert.False(t, errors.As(err, &uerr), "client abort must not surface as an upstream failure")

	b, serr := f.stats.Today(ctx)
	require.NoError(t, serr)
	assert.Zero(t, b.Errors, "client abort must not count toward error stats")

	var n int64
	require.NoError(t, f.db.Model(&convlog.Message{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestStreamUpstreamErrorPersistsNothing(t *testing.T) {
	f := newFixture(t, Options{}, 30)
	f.consentFor(t, "sess-1")
	f.upstream.streamChunks = []string{"partial"}
	f.upstream.streamErr = &anythingllm.APIError{Message: "cut off"}
	ctx := context.Background()

	chunks, errs := f.svc.Stream(ctx, baseRequest())
	for range chunks {
	}
	var uerr *UpstreamError
	require.ErrorAs(t, <-errs, &uerr)

	var n int64
	require.NoError(t, f.db.Model(&convlog.Message{}).Count(&n).Error)
	assert.Zero(t, n)

	b, err := f.stats.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Errors)
}
