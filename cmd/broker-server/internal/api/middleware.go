package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coregx/broker"
	"github.com/google/uuid"
)

// CorrelationHeader carries the request correlation id in both directions.
const CorrelationHeader = "X-Correlation-ID"

type contextKey string

const (
	cidKey    contextKey = "cid"
	claimsKey contextKey = "claims"
)

// CorrelationID returns the correlation id of the request context.
func CorrelationID(ctx context.Context) string {
	cid, _ := ctx.Value(cidKey).(string)
	return cid
}

// ClaimsFrom returns the authenticated claims, or nil.
func ClaimsFrom(ctx context.Context) *JWTClaims {
	claims, _ := ctx.Value(claimsKey).(*JWTClaims)
	return claims
}

// Middleware provides HTTP middleware functions.
type Middleware struct {
	auth   *JWTAuth
	logger broker.Logger
}

// NewMiddleware creates a Middleware.
func NewMiddleware(auth *JWTAuth, logger broker.Logger) *Middleware {
	return &Middleware{auth: auth, logger: logger}
}

// Correlation assigns every request a cid. A well-formed incoming
// X-Correlation-ID is kept; otherwise a UUID is generated.
func (m *Middleware) Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := strings.TrimSpace(r.Header.Get(CorrelationHeader))
		if cid == "" || len(cid) > 128 {
			cid = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, cid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), cidKey, cid)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Logging logs each request with its status and duration.
func (m *Middleware) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.logger.Infof("[%s] %s %s %d %v",
			CorrelationID(r.Context()), r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// AuthRequired rejects requests without a valid bearer token.
func (m *Middleware) AuthRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			respondError(w, http.StatusUnauthorized, "Authorization header required", "UNAUTHORIZED")
			return
		}

		claims, err := m.auth.ValidateToken(header)
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error(), "UNAUTHORIZED")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}

// AdminRequired is AuthRequired plus the is_admin claim.
func (m *Middleware) AdminRequired(next http.HandlerFunc) http.HandlerFunc {
	return m.AuthRequired(func(w http.ResponseWriter, r *http.Request) {
		if claims := ClaimsFrom(r.Context()); claims == nil || !claims.IsAdmin {
			respondError(w, http.StatusForbidden, "Admin privileges required", broker.ErrCodePermissionDenied)
			return
		}
		next(w, r)
	})
}
