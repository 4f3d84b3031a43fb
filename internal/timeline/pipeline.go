package timeline

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/aizatto/ical-debugger/internal/ics"
	appLog "github.com/aizatto/ical-debugger/internal/log"
	"github.com/aizatto/ical-debugger/internal/model"
)

// Fetcher retrieves raw feed text. FetchAll must return one result per
// source.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) []model.FetchResult
}

// FeedStatus tells the renderer how one feed fared, so a failed feed is
// not mistaken for a feed with nothing scheduled.
type FeedStatus struct {
	SubscriptionID string `json:"subscription_id"`
	URL            string `json:"url"`
	Fetched        bool   `json:"fetched"`
	Parsed         bool   `json:"parsed"`
	FromCache      bool   `json:"from_cache"`
	Events         int    `json:"events"`
	Error          string `json:"error,omitempty"`
}

// OK reports whether the feed contributed normally.
func (s FeedStatus) OK() bool {
	return s.Fetched && s.Parsed
}

// Result is one complete aggregation pass.
type Result struct {
	Generation  uint64              `json:"generation"`
	Window      Window              `json:"window"`
	Order       Order               `json:"-"`
	Feeds       []FeedStatus        `json:"feeds"`
	Events      []model.TaggedEvent `json:"-"`
	Days        []model.DayBucket   `json:"days"`
	CompletedAt time.Time           `json:"completed_at"`
}

// Rebucket returns the result's events bucketed over another window,
// without fetching anything.
func (r Result) Rebucket(win Window) []model.DayBucket {
	return Bucket(win, r.Events, r.Order)
}

// Pipeline runs filter -> fetch -> parse -> tag -> bucket. It keeps no
// state between runs.
type Pipeline struct {
	fetcher Fetcher
	order   Order
}

func NewPipeline(fetcher Fetcher, order Order) *Pipeline {
	return &Pipeline{fetcher: fetcher, order: order}
}

// Run performs a full aggregation for subs over win. Feed and event
// failures only remove that feed's or event's contribution; the returned
// Days always cover the whole window.
func (p *Pipeline) Run(ctx context.Context, subs []model.Subscription, win Window) Result {
	active := lo.Filter(subs, func(s model.Subscription, _ int) bool {
		return s.Enabled && IsFeedURL(s.URL)
	})
	sources := lo.Map(active, func(s model.Subscription, _ int) ics.Source {
		return ics.Source{ID: s.ID, URL: strings.TrimSpace(s.URL)}
	})

	appLog.Info("aggregation start",
		"subscriptions", len(subs),
		"active", len(sources),
		"window_start", win.Start.Format(time.RFC3339),
		"window_end", win.End.Format(time.RFC3339),
	)

	fetched := p.fetcher.FetchAll(ctx, sources)

	feeds := make([]FeedStatus, 0, len(fetched))
	tagged := make([]model.TaggedEvent, 0)
	for _, res := range fetched {
		status := FeedStatus{
			SubscriptionID: res.SubscriptionID,
			URL:            res.URL,
			Fetched:        res.Success,
			FromCache:      res.FromCache,
		}
		if !res.Success || res.RawText == nil {
			if res.Err != nil {
				status.Error = res.Err.Error()
			}
			feeds = append(feeds, status)
			continue
		}

		src := ics.Source{ID: res.SubscriptionID, URL: res.URL}
		events, err := ics.ParseFeed(src, *res.RawText, win.Start.Location())
		if err != nil {
			status.Error = err.Error()
			feeds = append(feeds, status)
			continue
		}

		status.Parsed = true
		status.Events = len(events)
		feeds = append(feeds, status)

		for _, ev := range events {
			tagged = append(tagged, model.TaggedEvent{
				SourceSubscriptionID: res.SubscriptionID,
				Event:                ev,
			})
		}
	}

	result := Result{
		Window:      win,
		Order:       p.order,
		Feeds:       feeds,
		Events:      tagged,
		Days:        Bucket(win, tagged, p.order),
		CompletedAt: time.Now(),
	}

	failed := lo.CountBy(feeds, func(s FeedStatus) bool { return !s.OK() })
	appLog.Info("aggregation completed",
		"feeds", len(feeds),
		"failed_feeds", failed,
		"events", len(tagged),
		"days", len(result.Days),
	)
	return result
}

// IsFeedURL reports whether u is an absolute http(s) URL with a host.
func IsFeedURL(u string) bool {
	parsed, err := url.Parse(strings.TrimSpace(u))
	if err != nil || parsed.Host == "" {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}
