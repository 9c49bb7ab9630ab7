package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/chat"
	"github.com/soyeahso/concierge/internal/domain"
)

const maxBodyBytes = 64 * 1024

// HealthResponse is returned by health endpoints. The public /health only
// populates Status; /api/status and the RPC fill in the rest. Status is
// "degraded" when a dependency check fails.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version,omitempty"`
	Clients       int               `json:"clients,omitempty"`
	UptimeSeconds int64             `json:"uptimeSeconds,omitempty"`
	Service       *chat.Status      `json:"service,omitempty"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// errorBody wraps ErrorShape for HTTP responses.
type errorBody struct {
	Error ErrorShape `json:"error"`
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{ErrorShape{
		Code:    "not_found",
		Message: "no route for " + r.Method + " " + r.URL.Path,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and a user-safe body. Server-side
// failures are logged with their full cause.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := chat.StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn().Err(err).
			Str("path", r.URL.Path).
			Str("requestId", requestIDFrom(r.Context())).
			Int("status", status).
			Msg("request failed")
	}
	writeJSON(w, status, errorBody{errorShape(err)})
}

// errorShape converts err into the wire error. Only UpstreamError messages
// and validation text reach callers; anything else becomes a generic message.
func errorShape(err error) ErrorShape {
	if ve, ok := domain.AsValidation(err); ok {
		return ErrorShape{Code: "validation_error", Message: ve.Message, Field: ve.Field}
	}
	if nf, ok := domain.AsNotFound(err); ok {
		return ErrorShape{Code: "not_found", Message: nf.Error()}
	}
	if ue, ok := domain.AsUpstream(err); ok {
		return ErrorShape{
			Code:      string(ue.Category),
			Message:   ue.Message,
			Retryable: retryable(ue.Category),
		}
	}
	if errors.Is(err, context.Canceled) {
		return ErrorShape{Code: "canceled", Message: "request canceled"}
	}
	return ErrorShape{Code: "internal_error", Message: "Something went wrong. Please try again."}
}

func retryable(c domain.UpstreamCategory) bool {
	switch c {
	case domain.UpstreamTransient, domain.UpstreamTimeout, domain.UpstreamRateLimited, domain.UpstreamUnavailable:
		return true
	}
	return false
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Invalid("body", "request body is required")
		}
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return domain.Invalid("body", "request body exceeds %d bytes", mbe.Limit)
		}
		return domain.Invalid("body", "invalid JSON: %v", err)
	}
	return nil
}

// parseTime accepts YYYY-MM-DD or RFC3339. A bare date used as an upper
// bound covers the whole day.
func parseTime(field, v string, upper bool) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, domain.Invalid(field, "must be YYYY-MM-DD or RFC3339, got %q", v)
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// parseRange reads the from/to query pair.
func parseRange(q url.Values) (from, to time.Time, err error) {
	if from, err = parseTime("from", q.Get("from"), false); err != nil {
		return
	}
	to, err = parseTime("to", q.Get("to"), true)
	return
}

// queryInt reads an optional integer query parameter; absent means zero.
func queryInt(q url.Values, field string) (int, error) {
	v := strings.TrimSpace(q.Get(field))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, domain.Invalid(field, "must be an integer, got %q", v)
	}
	return n, nil
}

func queryFloat(q url.Values, field string) (float64, error) {
	v := strings.TrimSpace(q.Get(field))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, domain.Invalid(field, "must be a number, got %q", v)
	}
	return f, nil
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries everything a handler needs. Ctx lives as long as
// the connection.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Fail reports err with the same shape HTTP callers receive.
func (rc *RequestContext) Fail(err error) {
	if chat.StatusCode(err) >= http.StatusInternalServerError {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Str("connId", rc.Client.ConnID).Msg("request failed")
	}
	rc.Client.RespondError(rc.Frame.ID, errorShape(err))
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if len(rc.Frame.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(rc.Frame.Params, target); err != nil {
		return domain.Invalid("params", "invalid params: %v", err)
	}
	return nil
}
