// Package requestcontext carries request-scoped values from middleware to
// services without services importing net/http.
//
//	userID := requestcontext.UserID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

type ctxKey int

const (
	keyUserID ctxKey = iota
	keyClientIP
	keyClient
	keyRequestID
	keyRequestTime
)

func stringValue(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// UserID is the authenticated token subject. Empty when unauthenticated.
func UserID(ctx context.Context) string {
	return stringValue(ctx, keyUserID)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, keyUserID, userID)
}

// ClientIP is the caller address as seen by the metadata middleware.
func ClientIP(ctx context.Context) string {
	return stringValue(ctx, keyClientIP)
}

// Client is the parsed "browser/os" summary of the User-Agent. The raw
// header is not kept.
func Client(ctx context.Context) string {
	return stringValue(ctx, keyClient)
}

func WithClientMetadata(ctx context.Context, clientIP, client string) context.Context {
	ctx = context.WithValue(ctx, keyClientIP, clientIP)
	return context.WithValue(ctx, keyClient, client)
}

func RequestID(ctx context.Context) string {
	return stringValue(ctx, keyRequestID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// Now is the time pinned for this request, or time.Now outside a request
// (CLI, background publishing).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(keyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, keyRequestTime, t)
}
