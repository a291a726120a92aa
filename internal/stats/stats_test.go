package stats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeStore struct {
	values map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{values: make(map[string]string)} }

func (f *fakeStore) GetJSON(_ context.Context, key string, out any) (bool, error) {
	v, ok := f.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal([]byte(v), out)
}

func (f *fakeStore) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.values[key] = string(b)
	return nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeStore, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&DailyStat{}))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	store := newFakeStore()
	return NewService(db, store, true, log), store, db
}

func TestOnlineMeanFormula(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// [2.0, 4.0] on an empty day must yield 2.0 then 3.0
	svc.IncrementMessages(ctx)
	svc.UpdateResponseTime(ctx, 2.0)
	b, err := svc.Today(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, b.AvgResponseTime, 1e-9)

	svc.IncrementMessages(ctx)
	svc.UpdateResponseTime(ctx, 4.0)
	b, err = svc.Today(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, b.AvgResponseTime, 1e-9)
	assert.Equal(t, 2, b.Messages)
}

func TestCounters(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	svc.IncrementConversations(ctx)
	svc.IncrementMessages(ctx)
	svc.IncrementMessages(ctx)
	svc.IncrementErrors(ctx)

	b, err := svc.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Conversations)
	assert.Equal(t, 2, b.Messages)
	assert.Equal(t, 1, b.Errors)
}

func TestDisabledServiceIsInert(t *testing.T) {
	svc, store, _ := newTestService(t)
	svc.enabled = false

	svc.IncrementMessages(context.Background())
	assert.Empty(t, store.values)
}

func TestLazyRolloverOnAccess(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		svc.IncrementMessages(ctx)
	}

	// next access happens tomorrow: yesterday flushes, bucket resets
	svc.now = func() time.Time { return base.AddDate(0, 0, 1) }
	b, err := svc.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-28", b.Date)
	assert.Zero(t, b.Messages)

	var row DailyStat
	require.NoError(t, db.Where("date = ?", "2026-08-27").First(&row).Error)
	assert.Equal(t, 5, row.Messages)
}

func TestScheduledFlushIsIdempotent(t *testing.T) {
	svc, store, db := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 27, 23, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	svc.IncrementConversations(ctx)

	svc.now = func() time.Time { return base.AddDate(0, 0, 1) }
	require.NoError(t, svc.Flush(ctx))
	require.NoError(t, svc.Flush(ctx), "second flush is a no-op")

	var rows []DailyStat
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Conversations)
	assert.Empty(t, store.values, "bucket cleared after flush")
}

func TestFlushLeavesCurrentBucketAlone(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	svc.IncrementMessages(ctx)
	require.NoError(t, svc.Flush(ctx))

	var n int64
	require.NoError(t, db.Model(&DailyStat{}).Count(&n).Error)
	assert.Zero(t, n)

	b, err := svc.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Messages)
}

func TestSummaryMergesLiveBucket(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	require.NoError(t, db.Create(&DailyStat{
		Date: "2026-08-26", Conversations: 4, Messages: 10, Errors: 1, AvgResponseTime: 2.0,
	}).Error)
	require.NoError(t, db.Create(&DailyStat{
		Date: "2026-08-27", Conversations: 2, Messages: 5, Errors: 0, AvgResponseTime: 4.0,
	}).Error)

	svc.IncrementConversations(ctx)
	for i := 0; i < 5; i++ {
		svc.IncrementMessages(ctx)
	}
	svc.IncrementErrors(ctx)

	from := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	sum, err := svc.Summary(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, 7, sum.TotalConversations)
	assert.Equal(t, 20, sum.TotalMessages)
	assert.Equal(t, 2, sum.TotalErrors)
	assert.InDelta(t, 10.0, sum.ErrorRate, 1e-9)          // 2/20*100
	assert.InDelta(t, 7.0/3.0, sum.DailyAverage, 1e-9)    // 3 days in range
	assert.InDelta(t, 3.0, sum.AvgResponseTime, 1e-9)     // mean of non-zero daily avgs
}

func TestSummaryEmptyRange(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.now = func() time.Time { return time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC) }

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)
	sum, err := svc.Summary(context.Background(), from, to)
	require.NoError(t, err)
	assert.Zero(t, sum.ErrorRate)
	assert.Zero(t, sum.DailyAverage)
}

func TestChartSeriesZeroFillsGaps(t *testing.T) {
	svc, _, db := newTestService(t)
	svc.now = func() time.Time { return time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, db.Create(&DailyStat{Date: "2026-08-27", Messages: 3}).Error)

	from := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	series, err := svc.ChartSeries(context.Background(), from, to)
	require.NoError(t, err)

	assert.Equal(t, []string{"26/08", "27/08", "28/08"}, series.Labels)
	assert.Equal(t, []int{0, 3, 0}, series.Messages)
}
