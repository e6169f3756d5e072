// Package context carries per-request metadata set by the HTTP layer
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type key int

const (
	requestIDKey key = iota
	startTimeKey
	userAgentKey
	remoteAddrKey
)

// RequestInfo holds information about the current request
type RequestInfo struct {
	ID         string    `json:"request_id"`
	StartTime  time.Time `json:"start_time"`
	UserAgent  string    `json:"user_agent,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
}

// NewRequestContext stores a fresh request id plus caller details
func NewRequestContext(ctx context.Context, userAgent, remoteAddr string) context.Context {
	ctx = WithRequestID(ctx, uuid.NewString())
	ctx = WithStartTime(ctx, time.Now())
	ctx = context.WithValue(ctx, userAgentKey, userAgent)
	return context.WithValue(ctx, remoteAddrKey, remoteAddr)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithStartTime adds a start time to the context
func WithStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey, startTime)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// GetRequestInfo extracts all request information from context. Missing
// values are zero.
func GetRequestInfo(ctx context.Context) RequestInfo {
	info := RequestInfo{ID: GetRequestID(ctx)}
	info.StartTime, _ = ctx.Value(startTimeKey).(time.Time)
	info.UserAgent, _ = ctx.Value(userAgentKey).(string)
	info.RemoteAddr, _ = ctx.Value(remoteAddrKey).(string)
	return info
}

