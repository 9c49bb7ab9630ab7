package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soyeahso/concierge/internal/chat"
	"github.com/soyeahso/concierge/internal/contextcache"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/latency"
	"github.com/soyeahso/concierge/internal/satisfaction"
)

const defaultTrendBucket = 5 * time.Minute

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	mux.Handle("POST /api/chat/sessions", s.limited(s.handleCreateSession))
	mux.Handle("POST /api/chat/messages", s.limited(s.handleSendMessage))
	mux.HandleFunc("GET /api/chat/sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("DELETE /api/chat/sessions/{id}", s.handleClearHistory)

	mux.HandleFunc("POST /api/context/invalidate", s.handleInvalidate)
	mux.HandleFunc("GET /api/context/status", s.handleCacheStatus)

	mux.Handle("POST /api/ratings", s.limited(s.handleSubmitRating))
	mux.HandleFunc("GET /api/ratings", s.handleListRatings)
	mux.HandleFunc("GET /api/ratings/stats", s.handleRatingStats)
	mux.HandleFunc("GET /api/ratings/trend", s.handleRatingTrend)
	mux.HandleFunc("DELETE /api/ratings/{id}", s.handleDeleteRating)
	mux.HandleFunc("POST /api/ratings/{id}/hide", s.handleHideRating)

	mux.HandleFunc("GET /api/latency/stats", s.handleLatencyStats)
	mux.HandleFunc("GET /api/latency/trend", s.handleLatencyTrend)

	if s.catalog != nil {
		mux.HandleFunc("GET /api/tours", s.handleTours)
		mux.HandleFunc("GET /api/tours/{id}", s.handleTour)
	}

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle(MethodHealth, s.rpcHealth)
	s.Handle(MethodSessionCreate, s.rpcCreateSession)
	s.Handle(MethodChatSend, s.rpcChatSend)
	s.Handle(MethodChatHistory, s.rpcHistory)
	s.Handle(MethodChatClear, s.rpcClear)
	s.Handle(MethodContextInvalidate, s.rpcInvalidate)
	s.Handle(MethodContextStatus, s.rpcCacheStatus)
	s.Handle(MethodRatingSubmit, s.rpcSubmitRating)
}

// Request and response bodies shared by HTTP and RPC.

type sessionParams struct {
	SessionID string `json:"sessionId"`
}

type sendParams struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type ratingParams struct {
	SessionID string `json:"sessionId"`
	Rating    int    `json:"rating"`
	Feedback  string `json:"feedback"`
}

type invalidateParams struct {
	Refresh bool `json:"refresh"`
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
}

type historyResponse struct {
	SessionID string        `json:"sessionId"`
	History   []domain.Turn `json:"history"`
}

type clearResponse struct {
	SessionID string `json:"sessionId"`
	Cleared   bool   `json:"cleared"`
}

type invalidateResponse struct {
	Invalidated bool                `json:"invalidated"`
	Refreshed   bool                `json:"refreshed"`
	Status      contextcache.Status `json:"status"`
}

type trendResponse struct {
	Days   int                       `json:"days"`
	Points []satisfaction.TrendPoint `json:"points"`
}

type latencyStatsResponse struct {
	Source string `json:"source"`
	latency.Stats
}

type latencyTrendResponse struct {
	Source        string           `json:"source"`
	BucketMinutes int              `json:"bucketMinutes"`
	Buckets       []latency.Bucket `json:"buckets"`
}

func (s *Server) health(ctx context.Context) HealthResponse {
	st := s.chat.Status()
	h := HealthResponse{
		Status:        "ok",
		Version:       s.version,
		Clients:       s.clients.Count(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Service:       &st,
	}
	if len(s.checks) == 0 {
		return h
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	h.Checks = make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.log.Warn().Err(err).Str("check", name).Msg("dependency check failed")
			h.Checks[name] = err.Error()
			h.Status = "degraded"
			continue
		}
		h.Checks[name] = "ok"
	}
	return h
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health(r.Context()))
}

// Chat

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := s.chat.CreateSession(r.Context())
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: id})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var p sendParams
	if err := decodeBody(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	reply, err := s.chat.SendMessage(r.Context(), chat.SendInput{
		SessionID: p.SessionID,
		Text:      p.Text,
		RequestID: requestIDFrom(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turns, err := s.chat.History(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: id, History: turns})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.chat.ClearHistory(r.Context(), id)
	writeJSON(w, http.StatusOK, clearResponse{SessionID: id, Cleared: true})
}

// Context cache

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"
	writeJSON(w, http.StatusOK, s.invalidate(r.Context(), refresh))
}

// invalidate drops the cached context and optionally refetches it now.
func (s *Server) invalidate(ctx context.Context, refresh bool) invalidateResponse {
	s.cache.Invalidate()
	if refresh {
		s.cache.Get(ctx, true)
	}
	return invalidateResponse{Invalidated: true, Refreshed: refresh, Status: s.cache.Status()}
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Status())
}

// Ratings

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	var p ratingParams
	if err := decodeBody(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.chat.SubmitRating(r.Context(), chat.RatingInput{
		SessionID: p.SessionID,
		Rating:    p.Rating,
		Feedback:  p.Feedback,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.IsNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) handleRatingStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := parseRange(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.ratings.Stats(r.Context(), satisfaction.StatsFilter{
		From:      from,
		To:        to,
		SessionID: strings.TrimSpace(q.Get("sessionId")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRatingTrend(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r.URL.Query(), "days")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if days <= 0 {
		days = satisfaction.DefaultDays
	}
	points, err := s.ratings.Trend(r.Context(), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if points == nil {
		points = []satisfaction.TrendPoint{}
	}
	writeJSON(w, http.StatusOK, trendResponse{Days: days, Points: points})
}

func (s *Server) handleListRatings(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.ratings.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func listFilter(r *http.Request) (satisfaction.ListFilter, error) {
	q := r.URL.Query()
	var f satisfaction.ListFilter
	var err error
	if f.Page, err = queryInt(q, "page"); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(q, "limit"); err != nil {
		return f, err
	}
	if f.MinRating, err = queryInt(q, "minRating"); err != nil {
		return f, err
	}
	if f.MaxRating, err = queryInt(q, "maxRating"); err != nil {
		return f, err
	}
	if f.From, f.To, err = parseRange(q); err != nil {
		return f, err
	}
	f.Status = domain.RatingStatus(strings.TrimSpace(q.Get("status")))
	f.SessionID = strings.TrimSpace(q.Get("sessionId"))
	return f, nil
}

func (s *Server) handleDeleteRating(w http.ResponseWriter, r *http.Request) {
	rating, err := s.ratings.SoftDelete(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

func (s *Server) handleHideRating(w http.ResponseWriter, r *http.Request) {
	rating, err := s.ratings.Hide(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

// Latency

// latencyFilter reads endpoint, sessionId, minutes and the from/to range.
// durable reports whether explicit dates were given.
func latencyFilter(r *http.Request) (f latency.Filter, durable bool, err error) {
	q := r.URL.Query()
	minutes, err := queryInt(q, "minutes")
	if err != nil {
		return f, false, err
	}
	if minutes < 0 {
		return f, false, domain.Invalid("minutes", "must not be negative, got %d", minutes)
	}
	from, to, err := parseRange(q)
	if err != nil {
		return f, false, err
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return f, false, domain.Invalid("from", "must not be after to")
	}
	f = latency.Filter{
		Endpoint:  strings.TrimSpace(q.Get("endpoint")),
		SessionID: strings.TrimSpace(q.Get("sessionId")),
		TimeRange: time.Duration(minutes) * time.Minute,
		From:      from,
		To:        to,
	}
	return f, !from.IsZero() || !to.IsZero(), nil
}

func (s *Server) handleLatencyStats(w http.ResponseWriter, r *http.Request) {
	f, durable, err := latencyFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if durable && s.latencyStore != nil {
		stats, err := s.latencyStore.Stats(r.Context(), f)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, latencyStatsResponse{Source: "store", Stats: stats})
		return
	}
	writeJSON(w, http.StatusOK, latencyStatsResponse{Source: "memory", Stats: s.latency.Stats(f)})
}

func (s *Server) handleLatencyTrend(w http.ResponseWriter, r *http.Request) {
	f, durable, err := latencyFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	minutes, err := queryInt(r.URL.Query(), "bucketMinutes")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if minutes < 0 {
		s.writeError(w, r, domain.Invalid("bucketMinutes", "must be positive, got %d", minutes))
		return
	}
	bucket := defaultTrendBucket
	if minutes > 0 {
		bucket = time.Duration(minutes) * time.Minute
	}

	resp := latencyTrendResponse{Source: "memory", BucketMinutes: int(bucket / time.Minute)}
	if durable && s.latencyStore != nil {
		resp.Source = "store"
		resp.Buckets, err = s.latencyStore.Trend(r.Context(), f, bucket)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	} else {
		resp.Buckets = latency.Buckets(s.latency.Samples(f), bucket)
	}
	if resp.Buckets == nil {
		resp.Buckets = []latency.Bucket{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Catalog

type toursResponse struct {
	Count int           `json:"count"`
	Tours []domain.Tour `json:"tours"`
}

// handleTours searches by q, or filters by minPrice/maxPrice when either is
// given. A search with no q lists every tour.
func (s *Server) handleTours(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minPrice, err := queryFloat(q, "minPrice")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	maxPrice, err := queryFloat(q, "maxPrice")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if minPrice < 0 {
		s.writeError(w, r, domain.Invalid("minPrice", "must not be negative"))
		return
	}
	if maxPrice > 0 && minPrice > maxPrice {
		s.writeError(w, r, domain.Invalid("minPrice", "must not exceed maxPrice"))
		return
	}

	var tours []domain.Tour
	if q.Has("minPrice") || q.Has("maxPrice") {
		tours, err = s.catalog.ByPriceRange(r.Context(), minPrice, maxPrice)
	} else {
		tours, err = s.catalog.Search(r.Context(), q.Get("q"))
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tours == nil {
		tours = []domain.Tour{}
	}
	writeJSON(w, http.StatusOK, toursResponse{Count: len(tours), Tours: tours})
}

func (s *Server) handleTour(w http.ResponseWriter, r *http.Request) {
	tour, err := s.catalog.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tour)
}

// RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(s.health(rc.Ctx))
}

func (s *Server) rpcCreateSession(rc *RequestContext) {
	rc.Respond(sessionResponse{SessionID: s.chat.CreateSession(rc.Ctx)})
}

func (s *Server) rpcChatSend(rc *RequestContext) {
	var p sendParams
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	if d, ok := s.admit(rc.Ctx, rc.Client.RemoteKey); !ok {
		rc.Client.RespondError(rc.Frame.ID, rateLimitedShape(d.RetryAfterSeconds()))
		return
	}
	reply, err := s.chat.SendMessage(rc.Ctx, chat.SendInput{SessionID: p.SessionID, Text: p.Text})
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(reply)
}

func (s *Server) rpcHistory(rc *RequestContext) {
	var p sessionParams
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	if p.SessionID == "" {
		rc.Fail(domain.Invalid("sessionId", "is required"))
		return
	}
	turns, err := s.chat.History(rc.Ctx, p.SessionID)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(historyResponse{SessionID: p.SessionID, History: turns})
}

func (s *Server) rpcClear(rc *RequestContext) {
	var p sessionParams
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	if p.SessionID == "" {
		rc.Fail(domain.Invalid("sessionId", "is required"))
		return
	}
	s.chat.ClearHistory(rc.Ctx, p.SessionID)
	rc.Respond(clearResponse{SessionID: p.SessionID, Cleared: true})
}

func (s *Server) rpcInvalidate(rc *RequestContext) {
	var p invalidateParams
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(s.invalidate(rc.Ctx, p.Refresh))
}

func (s *Server) rpcCacheStatus(rc *RequestContext) {
	rc.Respond(s.cache.Status())
}

func (s *Server) rpcSubmitRating(rc *RequestContext) {
	var p ratingParams
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	if d, ok := s.admit(rc.Ctx, rc.Client.RemoteKey); !ok {
		rc.Client.RespondError(rc.Frame.ID, rateLimitedShape(d.RetryAfterSeconds()))
		return
	}
	res, err := s.chat.SubmitRating(rc.Ctx, chat.RatingInput{
		SessionID: p.SessionID,
		Rating:    p.Rating,
		Feedback:  p.Feedback,
	})
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(res)
}
