package testutil

import (
	"net/http"
	"time"

	"kycgate/pkg/requestcontext"
)

// WithUserID marks the request as authenticated for userID, the way the auth
// middleware would.
func WithUserID(req *http.Request, userID string) *http.Request {
	return req.WithContext(requestcontext.WithUserID(req.Context(), userID))
}

// WithRequestTime pins the request-scoped clock.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
