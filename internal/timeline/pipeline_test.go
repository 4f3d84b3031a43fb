package timeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aizatto/ical-debugger/internal/ics"
	"github.com/aizatto/ical-debugger/internal/model"
)

func ics2(events ...string) string {
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//ical-debugger//test//EN"}
	lines = append(lines, events...)
	lines = append(lines, "END:VCALENDAR")
	return strings.Join(lines, "\r\n") + "\r\n"
}

func vevent(uid, start, end string) string {
	return strings.Join([]string{
		"BEGIN:VEVENT",
		"UID:" + uid,
		"SUMMARY:" + uid,
		"DTSTART:" + start,
		"DTEND:" + end,
		"END:VEVENT",
	}, "\r\n")
}

func newCalendarServer(t *testing.T) *httptest.Server {
	t.Helper()
	feeds := map[string]string{
		"/work.ics": ics2(
			vevent("standup", "20240110T090000Z", "20240110T093000Z"),
			vevent("late-deploy", "20240110T230000Z", "20240111T010000Z"),
		),
		"/home.ics": ics2(
			vevent("dinner", "20240111T180000Z", "20240111T200000Z"),
		),
		"/broken.ics": "<html>maintenance</html>",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := feeds[r.URL.Path]
		if !ok {
			http.Error(w, "gone", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(srv *httptest.Server) *Pipeline {
	return NewPipeline(ics.NewFetcher(ics.FetcherConfig{Client: srv.Client()}), OrderStart)
}

func TestPipelineRun_MergesFeeds(t *testing.T) {
	srv := newCalendarServer(t)
	p := newTestPipeline(srv)

	subs := []model.Subscription{
		{ID: "work", Enabled: true, URL: srv.URL + "/work.ics"},
		{ID: "home", Enabled: true, URL: srv.URL + "/home.ics"},
	}
	res := p.Run(context.Background(), subs, DaysWindow(at(10, 0, 0), 2))

	require.Len(t, res.Days, 2)
	assert.Equal(t, []string{"standup", "late-deploy"}, uids(res.Days[0]))
	assert.Equal(t, []string{"late-deploy", "dinner"}, uids(res.Days[1]))

	assert.Equal(t, "home", res.Days[1].Events[1].SourceSubscriptionID)

	require.Len(t, res.Feeds, 2)
	for _, f := range res.Feeds {
		assert.True(t, f.OK(), f.SubscriptionID)
	}
	assert.Equal(t, 2, res.Feeds[0].Events)
	assert.Equal(t, 1, res.Feeds[1].Events)
}

func TestPipelineRun_PartialFailures(t *testing.T) {
	srv := newCalendarServer(t)
	p := newTestPipeline(srv)

	subs := []model.Subscription{
		{ID: "down", Enabled: true, URL: srv.URL + "/down.ics"},
		{ID: "broken", Enabled: true, URL: srv.URL + "/broken.ics"},
		{ID: "home", Enabled: true, URL: srv.URL + "/home.ics"},
	}
	res := p.Run(context.Background(), subs, DaysWindow(at(10, 0, 0), 3))

	require.Len(t, res.Days, 3, "failures never shrink the window")
	assert.Empty(t, uids(res.Days[0]))
	assert.Equal(t, []string{"dinner"}, uids(res.Days[1]))
	assert.Empty(t, uids(res.Days[2]))

	status := map[string]FeedStatus{}
	for _, f := range res.Feeds {
		status[f.SubscriptionID] = f
	}
	assert.False(t, status["down"].Fetched)
	assert.NotEmpty(t, status["down"].Error)
	assert.True(t, status["broken"].Fetched)
	assert.False(t, status["broken"].Parsed)
	assert.Contains(t, status["broken"].Error, "malformed calendar")
	assert.True(t, status["home"].OK())
}

func TestPipelineRun_FiltersSubscriptions(t *testing.T) {
	fetcher := &recordingFetcher{}
	p := NewPipeline(fetcher, OrderStart)

	subs := []model.Subscription{
		{ID: "disabled", Enabled: false, URL: "https://example.com/a.ics"},
		{ID: "blank", Enabled: true, URL: ""},
		{ID: "webcal", Enabled: true, URL: "webcal://example.com/b.ics"},
		{ID: "relative", Enabled: true, URL: "/c.ics"},
		{ID: "upper", Enabled: true, URL: "HTTPS://example.com/d.ics"},
		{ID: "plain", Enabled: true, URL: " http://example.com/e.ics "},
	}
	res := p.Run(context.Background(), subs, DaysWindow(at(10, 0, 0), 1))

	require.Len(t, fetcher.sources, 2)
	assert.Equal(t, "upper", fetcher.sources[0].ID)
	assert.Equal(t, "plain", fetcher.sources[1].ID)
	assert.Equal(t, "http://example.com/e.ics", fetcher.sources[1].URL)
	assert.Len(t, res.Days, 1)
}

func TestPipelineRun_Idempotent(t *testing.T) {
	srv := newCalendarServer(t)
	p := newTestPipeline(srv)

	subs := []model.Subscription{
		{ID: "work", Enabled: true, URL: srv.URL + "/work.ics"},
		{ID: "home", Enabled: true, URL: srv.URL + "/home.ics"},
		{ID: "broken", Enabled: true, URL: srv.URL + "/broken.ics"},
	}
	win := DaysWindow(at(10, 0, 0), 3)

	first := p.Run(context.Background(), subs, win)
	second := p.Run(context.Background(), subs, win)

	if diff := cmp.Diff(first.Days, second.Days); diff != "" {
		t.Errorf("days mismatch (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Feeds, second.Feeds); diff != "" {
		t.Errorf("feeds mismatch (-first +second):\n%s", diff)
	}
}

func TestResultRebucket(t *testing.T) {
	srv := newCalendarServer(t)
	p := newTestPipeline(srv)

	subs := []model.Subscription{{ID: "home", Enabled: true, URL: srv.URL + "/home.ics"}}
	res := p.Run(context.Background(), subs, DaysWindow(at(10, 0, 0), 1))
	require.Len(t, res.Days, 1)
	assert.Empty(t, uids(res.Days[0]))

	days := res.Rebucket(DaysWindow(at(11, 0, 0), 1))
	require.Len(t, days, 1)
	assert.Equal(t, []string{"dinner"}, uids(days[0]))
}

func TestIsFeedURL(t *testing.T) {
	tests := map[string]bool{
		"https://example.com/cal.ics": true,
		"http://localhost:8080/x":     true,
		"HTTP://EXAMPLE.COM/":         true,
		"webcal://example.com/x.ics":  false,
		"ftp://example.com/x.ics":     false,
		"https://":                    false,
		"":                            false,
		"example.com/cal.ics":         false,
	}
	for in, want := range tests {
		assert.Equal(t, want, IsFeedURL(in), in)
	}
}

type recordingFetcher struct {
	sources []ics.Source
}

func (f *recordingFetcher) FetchAll(_ context.Context, sources []ics.Source) []model.FetchResult {
	f.sources = append(f.sources, sources...)
	out := make([]model.FetchResult, 0, len(sources))
	for _, s := range sources {
		out = append(out, model.FetchResult{SubscriptionID: s.ID, URL: s.URL})
	}
	return out
}
