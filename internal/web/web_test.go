package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aizatto/ical-debugger/internal/model"
	"github.com/aizatto/ical-debugger/internal/subscription"
	"github.com/aizatto/ical-debugger/internal/timeline"
)

type memRepo struct {
	subs []model.Subscription
}

func (m *memRepo) Load(context.Context) ([]model.Subscription, error) {
	return append([]model.Subscription(nil), m.subs...), nil
}

func (m *memRepo) Save(_ context.Context, subs []model.Subscription) error {
	m.subs = append([]model.Subscription(nil), subs...)
	return nil
}

type fakeTimeline struct {
	res *timeline.Result
}

func (f *fakeTimeline) Latest() (timeline.Result, bool) {
	if f.res == nil {
		return timeline.Result{}, false
	}
	return *f.res, true
}

func at(day, hour int) time.Time {
	return time.Date(2024, time.January, day, hour, 0, 0, 0, time.UTC)
}

func sampleResult() *timeline.Result {
	events := []model.TaggedEvent{
		{SourceSubscriptionID: "work", Event: model.EventRecord{UID: "a", Summary: "Standup", Start: at(15, 9), End: at(15, 10)}},
		{SourceSubscriptionID: "home", Event: model.EventRecord{UID: "b", Summary: "Dinner", Start: at(16, 19), End: at(16, 21)}},
	}
	win := timeline.DaysWindow(at(15, 0), 3)
	return &timeline.Result{
		Generation: 4,
		Window:     win,
		Order:      timeline.OrderStart,
		Feeds:      []timeline.FeedStatus{{SubscriptionID: "work", Fetched: true, Parsed: true, Events: 1}},
		Events:     events,
		Days:       timeline.Bucket(win, events, timeline.OrderStart),
	}
}

type testServer struct {
	srv       *Server
	tl        *fakeTimeline
	refreshes int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	svc, err := subscription.Open(context.Background(), &memRepo{}, nil)
	require.NoError(t, err)

	ts := &testServer{tl: &fakeTimeline{}}
	ts.srv = NewServer(Options{
		Subscriptions: svc,
		Timeline:      ts.tl,
		Refresh: func() uint64 {
			ts.refreshes++
			return uint64(10 + ts.refreshes)
		},
		Location: time.UTC,
	})
	return ts
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

type daysBody struct {
	Generation uint64 `json:"generation"`
	Days       []struct {
		Date   string `json:"date"`
		Label  string `json:"label"`
		Events []struct {
			Source string `json:"source_subscription_id"`
			Event  struct {
				UID string `json:"uid"`
			} `json:"event"`
		} `json:"events"`
	} `json:"days"`
	Feeds []timeline.FeedStatus `json:"feeds"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestDays_BeforeFirstRun(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/api/days", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDays(t *testing.T) {
	ts := newTestServer(t)
	ts.tl.res = sampleResult()

	rec := ts.do(http.MethodGet, "/api/days", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[daysBody](t, rec)

	assert.EqualValues(t, 4, body.Generation)
	require.Len(t, body.Days, 3)
	assert.Equal(t, "2024-01-15", body.Days[0].Date)
	assert.Equal(t, "2024-01-15 Monday", body.Days[0].Label)
	require.Len(t, body.Days[0].Events, 1)
	assert.Equal(t, "a", body.Days[0].Events[0].Event.UID)
	assert.Equal(t, "work", body.Days[0].Events[0].Source)
	require.Len(t, body.Days[1].Events, 1)
	assert.Equal(t, "b", body.Days[1].Events[0].Event.UID)
	assert.NotNil(t, body.Days[2].Events)
	assert.Empty(t, body.Days[2].Events)
	require.Len(t, body.Feeds, 1)
}

func TestDays_Rewindow(t *testing.T) {
	ts := newTestServer(t)
	ts.tl.res = sampleResult()

	rec := ts.do(http.MethodGet, "/api/days?start=2024-01-16&days=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[daysBody](t, rec)

	require.Len(t, body.Days, 1)
	assert.Equal(t, "2024-01-16", body.Days[0].Date)
	require.Len(t, body.Days[0].Events, 1)
	assert.Equal(t, "b", body.Days[0].Events[0].Event.UID)

	rec = ts.do(http.MethodGet, "/api/days?days=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[daysBody](t, rec).Days, 5)
}

func TestDays_BadQuery(t *testing.T) {
	ts := newTestServer(t)
	ts.tl.res = sampleResult()

	for _, target := range []string{
		"/api/days?start=15-01-2024",
		"/api/days?days=0",
		"/api/days?days=1000",
	} {
		rec := ts.do(http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestSubscriptions_CRUD(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/subscriptions", `{"url":"https://example.com/a.ics"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[subscriptionDTO](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.Enabled, "new subscriptions start disabled")
	assert.True(t, created.ValidURL)

	rec = ts.do(http.MethodPost, "/api/subscriptions", `{"url":"webcal://example.com/b.ics"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decode[subscriptionDTO](t, rec)
	assert.False(t, second.Enabled)
	assert.False(t, second.ValidURL)

	rec = ts.do(http.MethodPatch, "/api/subscriptions/"+second.ID, `{"url":"http://example.com/b.ics","enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	edited := decode[subscriptionDTO](t, rec)
	assert.Equal(t, "http://example.com/b.ics", edited.URL)
	assert.True(t, edited.Enabled)
	assert.True(t, edited.ValidURL)

	rec = ts.do(http.MethodDelete, "/api/subscriptions/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodGet, "/api/subscriptions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]subscriptionDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)
}

func TestSubscriptions_Errors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"patch unknown", http.MethodPatch, "/api/subscriptions/missing", `{"enabled":true}`, http.StatusNotFound},
		{"delete unknown", http.MethodDelete, "/api/subscriptions/missing", "", http.StatusNotFound},
		{"patch empty", http.MethodPatch, "/api/subscriptions/missing", `{}`, http.StatusBadRequest},
		{"post unknown field", http.MethodPost, "/api/subscriptions", `{"href":"x"}`, http.StatusBadRequest},
		{"post enabled", http.MethodPost, "/api/subscriptions", `{"url":"https://example.com/a.ics","enabled":true}`, http.StatusBadRequest},
		{"post garbage", http.MethodPost, "/api/subscriptions", `not json`, http.StatusBadRequest},
		{"wrong method", http.MethodPut, "/api/subscriptions", `{}`, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRefresh(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, map[string]uint64{"generation": 11}, decode[map[string]uint64](t, rec))
	assert.Equal(t, 1, ts.refreshes)
}
