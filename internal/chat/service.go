// Package chat orchestrates a single conversational turn: validation,
// session memory, prompt assembly, the generator call and latency
// bookkeeping. It also fronts rating submission so ratings carry a snapshot
// of the session they rate.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/soyeahso/concierge/internal/contextcache"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/latency"
	"github.com/soyeahso/concierge/internal/llm"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/metrics"
	"github.com/soyeahso/concierge/internal/prompt"
	"github.com/soyeahso/concierge/internal/satisfaction"
	"github.com/soyeahso/concierge/internal/session"
)

// Endpoint classes used for latency samples.
const (
	EndpointChat   = "chat"
	EndpointRating = "rating"
)

// Defaults.
const (
	DefaultMaxMessageLength = 1000
	DefaultReplyTimeout     = 30 * time.Second
)

// StatusClientClosed is recorded when the caller goes away mid-request.
const StatusClientClosed = 499

// Deps are the components a Service coordinates. Hooks and Metrics may be nil.
type Deps struct {
	Sessions  *session.Store
	Context   *contextcache.Cache
	Prompts   *prompt.Assembler
	Generator llm.Client
	Latency   *latency.Recorder
	Ratings   *satisfaction.Aggregator
	Hooks     *hooks.Manager
	Metrics   *metrics.Metrics
}

// Options tune a Service.
type Options struct {
	MaxMessageLength int
	ReplyTimeout     time.Duration
	Generate         llm.GenerateConfig
	NewID            func() string
	Now              func() time.Time
}

// SendInput is one inbound chat message. An empty SessionID starts a new
// session; an empty RequestID is generated.
type SendInput struct {
	SessionID string
	Text      string
	RequestID string
}

// Reply is the assistant's answer to one message.
type Reply struct {
	SessionID      string    `json:"sessionId"`
	Reply          string    `json:"reply"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"requestId"`
	DurationMs     int64     `json:"durationMs"`
	ContextStale   bool      `json:"contextStale,omitempty"`
	ContextDefault bool      `json:"contextDefault,omitempty"`
}

// RatingInput is a rating submission from a customer.
type RatingInput struct {
	SessionID string
	Rating    int
	Feedback  string
}

// Status is a point-in-time view for health and status reporting.
type Status struct {
	Sessions       int                 `json:"sessions"`
	InFlight       int                 `json:"inFlight"`
	Generator      string              `json:"generator"`
	Cache          contextcache.Status `json:"cache"`
	LatencySamples int                 `json:"latencySamples"`
}

// Service implements the inbound chat operations.
type Service struct {
	deps Deps
	opts Options
	log  *logging.Logger
}

// New creates a Service.
func New(deps Deps, opts Options, log *logging.Logger) *Service {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = DefaultMaxMessageLength
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{deps: deps, opts: opts, log: log.Sub("chat")}
}

// CreateSession starts an empty session and returns its id.
func (s *Service) CreateSession(ctx context.Context) string {
	id := s.deps.Sessions.Create()
	s.deps.Metrics.SetActiveSessions(s.deps.Sessions.Len())
	s.deps.Hooks.EmitAsync(ctx, hooks.EventSessionCreated, map[string]any{"sessionId": id})
	s.log.Debug().Str("sessionId", id).Msg("session created")
	return id
}

// ValidateMessage trims text and checks it is non-empty and within the
// length cap.
func (s *Service) ValidateMessage(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.Invalid("text", "message must not be empty")
	}
	if n := utf8.RuneCountInString(text); n > s.opts.MaxMessageLength {
		return "", domain.Invalid("text", "message must be at most %d characters, got %d", s.opts.MaxMessageLength, n)
	}
	return text, nil
}

// SendMessage runs one conversational turn. Invalid input is rejected before
// any session is touched. The user turn is recorded on arrival; the
// assistant turn only when the generator answers.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (Reply, error) {
	text, err := s.ValidateMessage(in.Text)
	if err != nil {
		return Reply{}, err
	}

	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = s.CreateSession(ctx)
	} else if !s.deps.Sessions.Exists(sessionID) {
		s.deps.Sessions.GetOrCreate(sessionID)
		s.deps.Hooks.EmitAsync(ctx, hooks.EventSessionCreated, map[string]any{"sessionId": sessionID})
	}

	// Client request ids are only for correlation; they need not be unique,
	// so the recorder is keyed by a server id.
	trackID := s.opts.NewID()
	requestID := in.RequestID
	if requestID == "" {
		requestID = trackID
	}
	s.deps.Latency.Start(trackID, EndpointChat, domain.RequestMetadata{
		SessionID:   sessionID,
		RequestType: "message",
		InputLength: utf8.RuneCountInString(text),
	})

	log := s.log.With("sessionId", sessionID).With("requestId", requestID)
	s.deps.Hooks.EmitAsync(ctx, hooks.EventMessageReceived, map[string]any{
		"sessionId": sessionID,
		"length":    len(text),
	})

	payload := s.deps.Prompts.Build(ctx, sessionID, text)
	s.deps.Sessions.Append(sessionID, domain.RoleUser, text)
	s.deps.Metrics.SetActiveSessions(s.deps.Sessions.Len())

	gen, err := s.generate(ctx, payload.Text)
	if err != nil {
		status := StatusCode(err)
		sample, _ := s.deps.Latency.End(trackID, latency.Result{Success: false, StatusCode: status, Err: err})

		category := "unknown"
		if ue, ok := domain.AsUpstream(err); ok {
			category = string(ue.Category)
			s.deps.Metrics.GeneratorError(s.deps.Generator.Name(), category)
		}
		log.Warn().Err(err).Str("category", category).Int64("durationMs", sample.DurationMs).Msg("reply failed")
		s.deps.Hooks.EmitAsync(ctx, hooks.EventReplyFailed, map[string]any{
			"sessionId": sessionID,
			"category":  category,
		})
		return Reply{}, err
	}

	turn := s.deps.Sessions.Append(sessionID, domain.RoleAssistant, gen.Text)
	s.deps.Sessions.MarkGreeted(sessionID)

	sample, _ := s.deps.Latency.End(trackID, latency.Result{
		Success:      true,
		StatusCode:   http.StatusOK,
		OutputLength: utf8.RuneCountInString(gen.Text),
	})
	log.Info().
		Int64("durationMs", sample.DurationMs).
		Int("turnsUsed", payload.TurnsUsed).
		Bool("contextStale", payload.ContextStale).
		Msg("reply sent")
	s.deps.Hooks.EmitAsync(ctx, hooks.EventReplySent, map[string]any{
		"sessionId":  sessionID,
		"durationMs": sample.DurationMs,
	})

	return Reply{
		SessionID:      sessionID,
		Reply:          turn.Content,
		Timestamp:      turn.Timestamp,
		RequestID:      requestID,
		DurationMs:     sample.DurationMs,
		ContextStale:   payload.ContextStale,
		ContextDefault: payload.ContextDefault,
	}, nil
}

type generated struct {
	gen *llm.Generation
	err error
}

// generate bounds the generator call by ReplyTimeout even if the provider
// ignores its context.
func (s *Service) generate(ctx context.Context, text string) (*llm.Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ReplyTimeout)
	defer cancel()

	done := make(chan generated, 1)
	go func() {
		gen, err := s.deps.Generator.Generate(ctx, text, s.opts.Generate)
		done <- generated{gen, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if r.gen == nil || strings.TrimSpace(r.gen.Text) == "" {
			return nil, domain.NewUpstreamError(domain.UpstreamTransient, errors.New("generator returned an empty reply"))
		}
		return r.gen, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.NewUpstreamError(domain.UpstreamTimeout,
				fmt.Errorf("no reply within %s: %w", s.opts.ReplyTimeout, ctx.Err()))
		}
		return nil, ctx.Err()
	}
}

// History returns a session's turns in chronological order.
func (s *Service) History(_ context.Context, sessionID string) ([]domain.Turn, error) {
	turns, ok := s.deps.Sessions.Get(sessionID)
	if !ok {
		return nil, &domain.NotFoundError{Kind: "session", ID: sessionID}
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	return turns, nil
}

// ClearHistory removes a session. Clearing an unknown session is not an error.
func (s *Service) ClearHistory(ctx context.Context, sessionID string) {
	existed := s.deps.Sessions.Exists(sessionID)
	s.deps.Sessions.Clear(sessionID)
	s.deps.Metrics.SetActiveSessions(s.deps.Sessions.Len())
	if existed {
		s.deps.Hooks.EmitAsync(ctx, hooks.EventSessionCleared, map[string]any{"sessionId": sessionID})
	}
}

// SubmitRating records the customer's rating, snapshotting the session's
// statistics when the session is still in memory.
func (s *Service) SubmitRating(ctx context.Context, in RatingInput) (satisfaction.UpsertResult, error) {
	requestID := s.opts.NewID()
	s.deps.Latency.Start(requestID, EndpointRating, domain.RequestMetadata{
		SessionID:   in.SessionID,
		RequestType: "rating",
		InputLength: utf8.RuneCountInString(in.Feedback),
	})

	var stats *domain.SessionStats
	if st, ok := s.deps.Sessions.Stats(strings.TrimSpace(in.SessionID)); ok {
		stats = &st
	}

	res, err := s.deps.Ratings.Upsert(ctx, satisfaction.UpsertInput{
		SessionID:    in.SessionID,
		Rating:       in.Rating,
		Feedback:     in.Feedback,
		SessionStats: stats,
	})
	if err != nil {
		s.deps.Latency.End(requestID, latency.Result{StatusCode: StatusCode(err), Err: err})
		return satisfaction.UpsertResult{}, err
	}
	status := http.StatusOK
	if res.IsNew {
		status = http.StatusCreated
	}
	s.deps.Latency.End(requestID, latency.Result{Success: true, StatusCode: status})
	return res, nil
}

// Status reports live counters.
func (s *Service) Status() Status {
	return Status{
		Sessions:       s.deps.Sessions.Len(),
		InFlight:       s.deps.Latency.Active(),
		Generator:      s.deps.Generator.Name(),
		Cache:          s.deps.Context.Status(),
		LatencySamples: s.deps.Latency.Len(),
	}
}

// StatusCode maps an error to the HTTP status reported to callers and
// recorded on latency samples.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if _, ok := domain.AsValidation(err); ok {
		return http.StatusBadRequest
	}
	if _, ok := domain.AsNotFound(err); ok {
		return http.StatusNotFound
	}
	if ue, ok := domain.AsUpstream(err); ok {
		switch ue.Category {
		case domain.UpstreamRateLimited, domain.UpstreamQuotaExceeded:
			return http.StatusTooManyRequests
		case domain.UpstreamTimeout:
			return http.StatusGatewayTimeout
		case domain.UpstreamMisconfigured, domain.UpstreamUnavailable:
			return http.StatusServiceUnavailable
		default:
			return http.StatusBadGateway
		}
	}
	if errors.Is(err, context.Canceled) {
		return StatusClientClosed
	}
	return http.StatusInternalServerError
}
