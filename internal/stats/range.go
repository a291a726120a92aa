package stats

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Summary aggregates a date range, merging the live today bucket when it
// falls inside the range.
type Summary struct {
	TotalConversations int     `json:"total_conversations"`
	TotalMessages      int     `json:"total_messages"`
	TotalErrors        int     `json:"total_errors"`
	AvgResponseTime    float64 `json:"avg_response_time"`
	ErrorRate          float64 `json:"error_rate"`
	DailyAverage       float64 `json:"daily_average"`
}

// Series is per-day chart data with one point for every date in the range,
// zero-filled where no row exists.
type Series struct {
	Labels        []string  `json:"labels"`
	Conversations []int     `json:"conversations"`
	Messages      []int     `json:"messages"`
	Errors        []int     `json:"errors"`
	ResponseTime  []float64 `json:"response_time"`
}

// rangeRows loads durable rows for [from, to] and appends the live bucket
// when today is inside the range.
func (s *Service) rangeRows(ctx context.Context, from, to time.Time) ([]Bucket, error) {
	fromStr := from.Format(dateFmt)
	toStr := to.Format(dateFmt)

	var rows []DailyStat
	err := s.db.WithContext(ctx).
		Where("date BETWEEN ? AND ?", fromStr, toStr).
		Order("date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "stats: load range")
	}

	out := make([]Bucket, 0, len(rows)+1)
	for _, r := range rows {
		out = append(out, Bucket{
			Date:            r.Date,
			Conversations:   r.Conversations,
			Messages:        r.Messages,
			Errors:          r.Errors,
			AvgResponseTime: r.AvgResponseTime,
		})
	}

	today := s.now().Format(dateFmt)
	if today >= fromStr && today <= toStr {
		live, err := s.Today(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, live)
	}
	return out, nil
}

func (s *Service) Summary(ctx context.Context, from, to time.Time) (Summary, error) {
	rows, err := s.rangeRows(ctx, from, to)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	var responseTimes []float64
	for _, d := range rows {
		sum.TotalConversations += d.Conversations
		sum.TotalMessages += d.Messages
		sum.TotalErrors += d.Errors
		if d.AvgResponseTime > 0 {
			responseTimes = append(responseTimes, d.AvgResponseTime)
		}
	}

	if len(responseTimes) > 0 {
		var t float64
		for _, v := range responseTimes {
			t += v
		}
		sum.AvgResponseTime = t / float64(len(responseTimes))
	}
	if sum.TotalMessages > 0 {
		sum.ErrorRate = float64(sum.TotalErrors) / float64(sum.TotalMessages) * 100
	}

	days := int(to.Sub(from).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	sum.DailyAverage = float64(sum.TotalConversations) / float64(days)
	return sum, nil
}

func (s *Service) ChartSeries(ctx context.Context, from, to time.Time) (Series, error) {
	rows, err := s.rangeRows(ctx, from, to)
	if err != nil {
		return Series{}, err
	}

	byDate := make(map[string]Bucket, len(rows))
	for _, d := range rows {
		byDate[d.Date] = d
	}

	var out Series
	for cur := from; !cur.After(to); cur = cur.AddDate(0, 0, 1) {
		out.Labels = append(out.Labels, cur.Format("02/01"))
		d := byDate[cur.Format(dateFmt)]
		out.Conversations = append(out.Conversations, d.Conversations)
		out.Messages = append(out.Messages, d.Messages)
		out.Errors = append(out.Errors, d.Errors)
		out.ResponseTime = append(out.ResponseTime, d.AvgResponseTime)
	}
	return out, nil
}
