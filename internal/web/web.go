package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	appLog "github.com/aizatto/ical-debugger/internal/log"
	"github.com/aizatto/ical-debugger/internal/model"
	"github.com/aizatto/ical-debugger/internal/subscription"
	"github.com/aizatto/ical-debugger/internal/timeline"
)

const (
	maxRequestBody = 64 * 1024
	maxDays        = 366
)

// Subscriptions is the editable subscription list.
type Subscriptions interface {
	List() []model.Subscription
	Add(ctx context.Context, url string) (model.Subscription, error)
	SetURL(ctx context.Context, id, url string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Remove(ctx context.Context, id string) error
}

// Timeline exposes the newest aggregation.
type Timeline interface {
	Latest() (timeline.Result, bool)
}

// Options wires a Server to the rest of the application.
type Options struct {
	Subscriptions Subscriptions
	Timeline      Timeline
	// Refresh starts a new aggregation and returns its generation.
	Refresh func() uint64
	// Location is used to interpret ?start= dates. Defaults to time.Local.
	Location *time.Location
}

// Server provides the local HTTP API for subscriptions and day buckets.
type Server struct {
	subs    Subscriptions
	tl      Timeline
	refresh func() uint64
	loc     *time.Location
	mux     *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		subs:    opts.Subscriptions,
		tl:      opts.Timeline,
		refresh: opts.Refresh,
		loc:     loc,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/days", s.handleDays)
	s.mux.HandleFunc("GET /api/subscriptions", s.handleListSubscriptions)
	s.mux.HandleFunc("POST /api/subscriptions", s.handleAddSubscription)
	s.mux.HandleFunc("PATCH /api/subscriptions/{id}", s.handleEditSubscription)
	s.mux.HandleFunc("DELETE /api/subscriptions/{id}", s.handleRemoveSubscription)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// daysResponse is the JSON response shape for /api/days.
type daysResponse struct {
	Generation  uint64                `json:"generation"`
	RangeStart  time.Time             `json:"range_start"`
	RangeEnd    time.Time             `json:"range_end"`
	Days        []dayDTO              `json:"days"`
	Feeds       []timeline.FeedStatus `json:"feeds"`
	CompletedAt time.Time             `json:"completed_at"`
}

type dayDTO struct {
	Date   string              `json:"date"`
	Label  string              `json:"label"`
	Events []model.TaggedEvent `json:"events"`
}

// handleDays returns the newest day buckets.
//
// GET /api/days?start=2024-01-15&days=7
//   - start: first day, YYYY-MM-DD in the configured timezone (default: the
//     aggregation window's first day)
//   - days:  number of buckets (default: as many as the aggregation built)
//
// Re-windowing only rebuckets the already parsed events; it never fetches.
func (s *Server) handleDays(w http.ResponseWriter, r *http.Request) {
	res, ok := s.tl.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no aggregation has completed yet")
		return
	}

	q := r.URL.Query()
	days := res.Days
	win := res.Window

	if q.Get("start") != "" || q.Get("days") != "" {
		start := res.Window.Start
		if v := q.Get("start"); v != "" {
			t, err := time.ParseInLocation("2006-01-02", v, s.loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
				return
			}
			start = t
		}
		n := parseIntDefault(q.Get("days"), len(res.Days))
		if n <= 0 || n > maxDays {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 366")
			return
		}
		win = timeline.DaysWindow(start, n)
		days = res.Rebucket(win)
	}

	appLog.Debug("api days request",
		"generation", res.Generation,
		"range_start", win.Start.Format(time.RFC3339),
		"days", len(days),
	)

	dtos := make([]dayDTO, 0, len(days))
	for _, d := range days {
		dtos = append(dtos, dayDTO{
			Date:   d.Day.Format("2006-01-02"),
			Label:  d.Label(),
			Events: d.Events,
		})
	}

	writeJSON(w, http.StatusOK, daysResponse{
		Generation:  res.Generation,
		RangeStart:  win.Start,
		RangeEnd:    win.End,
		Days:        dtos,
		Feeds:       res.Feeds,
		CompletedAt: res.CompletedAt,
	})
}

// subscriptionDTO adds whether the URL will actually be fetched.
type subscriptionDTO struct {
	model.Subscription
	ValidURL bool `json:"valid_url"`
}

func toDTO(sub model.Subscription) subscriptionDTO {
	return subscriptionDTO{Subscription: sub, ValidURL: timeline.IsFeedURL(sub.URL)}
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, _ *http.Request) {
	list := s.subs.List()
	dtos := make([]subscriptionDTO, 0, len(list))
	for _, sub := range list {
		dtos = append(dtos, toDTO(sub))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// addRequest creates a disabled subscription; enable it with PATCH.
type addRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleAddSubscription(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sub, err := s.subs.Add(r.Context(), req.URL)
	if err != nil {
		appLog.Error("api add subscription failed", err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	writeJSON(w, http.StatusCreated, toDTO(sub))
}

// editRequest fields are optional; only the ones present are applied.
type editRequest struct {
	URL     *string `json:"url"`
	Enabled *bool   `json:"enabled"`
}

func (s *Server) handleEditSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req editRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == nil && req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "nothing to change")
		return
	}

	ctx := r.Context()
	if req.URL != nil {
		if err := s.subs.SetURL(ctx, id, *req.URL); err != nil {
			writeEditError(w, err)
			return
		}
	}
	if req.Enabled != nil {
		if err := s.subs.SetEnabled(ctx, id, *req.Enabled); err != nil {
			writeEditError(w, err)
			return
		}
	}

	for _, sub := range s.subs.List() {
		if sub.ID == id {
			writeJSON(w, http.StatusOK, toDTO(sub))
			return
		}
	}
	writeError(w, http.StatusNotFound, "subscription not found")
}

func (s *Server) handleRemoveSubscription(w http.ResponseWriter, r *http.Request) {
	if err := s.subs.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeEditError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if s.refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh unavailable")
		return
	}
	gen := s.refresh()
	writeJSON(w, http.StatusAccepted, map[string]uint64{"generation": gen})
}

func writeEditError(w http.ResponseWriter, err error) {
	if errors.Is(err, subscription.ErrNotFound) {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	appLog.Error("api edit subscription failed", err)
	writeError(w, http.StatusInternalServerError, "failed to save subscription")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+strings.TrimPrefix(err.Error(), "json: "))
		return false
	}
	return true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
