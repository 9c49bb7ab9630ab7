package domain

import "time"

// RequestMetadata describes the request a latency sample was taken for.
type RequestMetadata struct {
	SessionID    string `json:"sessionId,omitempty"`
	RequestType  string `json:"requestType,omitempty"`
	InputLength  int    `json:"inputLength,omitempty"`
	OutputLength int    `json:"outputLength,omitempty"`
}

// LatencySample is one completed request timing.
type LatencySample struct {
	RequestID  string          `json:"requestId"`
	Endpoint   string          `json:"endpoint"`
	StartedAt  time.Time       `json:"startedAt"`
	DurationMs int64           `json:"durationMs"`
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode"`
	Error      string          `json:"error,omitempty"`
	Metadata   RequestMetadata `json:"metadata"`
}
