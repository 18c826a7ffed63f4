package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"ragcore/internal/apikey"
	"ragcore/internal/domain"
	"ragcore/internal/observability"
	"ragcore/internal/ragerr"
)

type ctxKey int

const authCtxKey ctxKey = iota

type authContext struct {
	TenantID string
	APIKeyID string
	Scope    domain.ApiKeyScope
	UserID   string
}

func authFromContext(ctx context.Context) authContext {
	if a, ok := ctx.Value(authCtxKey).(authContext); ok {
		return a
	}
	return authContext{}
}

// withAuth parses the "ApiKey <id>:<token>" Authorization header, verifies
// it against the required scope, enforces the key's rate limit, and
// stashes the resolved tenant on the request context before calling next.
func (s *Server) withAuth(scope domain.ApiKeyScope, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, token, ok := parseAPIKeyHeader(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, ragerr.New(ragerr.Unauthorized, "missing_api_key", "Authorization header must be \"ApiKey <id>:<token>\""))
			return
		}

		key, err := s.issuer.Verify(r.Context(), id, token, scope)
		if err != nil {
			writeError(w, err)
			return
		}

		if s.limiter != nil {
			result, err := s.limiter.Allow(r.Context(), key.ID, key.RateLimit)
			setRateLimitHeaders(w, result)
			if err != nil {
				writeError(w, err)
				return
			}
		}

		// An admin-scoped key is recorded as admin whatever scope the route
		// required, so requireRole can grant it owner-level rights.
		authScope := scope
		for _, sc := range key.Scopes {
			if sc == domain.ScopeAdmin {
				authScope = domain.ScopeAdmin
			}
		}

		ctx := context.WithValue(r.Context(), authCtxKey, authContext{
			TenantID: key.TenantID,
			APIKeyID: key.ID,
			Scope:    authScope,
			UserID:   r.Header.Get("X-User-Id"),
		})
		next(w, r.WithContext(ctx))
	}
}

func setRateLimitHeaders(w http.ResponseWriter, result apikey.Result) {
	if result.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
}

func parseAPIKeyHeader(header string) (id, token string, ok bool) {
	const prefix = "ApiKey "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(header, prefix)
	id, token, found := strings.Cut(rest, ":")
	if !found || id == "" || token == "" {
		return "", "", false
	}
	return id, token, true
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("api: recovered from panic")
				writeError(w, ragerr.New(ragerr.Internal, "panic", "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("api: request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	var status int
	var code, message string

	if re, ok := err.(*ragerr.Error); ok {
		status = re.HTTPStatus()
		code = re.Code
		message = re.Message
		log.Warn().Err(err).Str("kind", string(re.Kind)).Str("code", code).Msg("api: request error")
	} else {
		status = http.StatusInternalServerError
		code = "internal"
		message = "internal error"
		log.Error().Err(err).Str("kind", string(ragerr.Internal)).Str("code", code).Msg("api: unclassified error")
	}

	writeJSON(w, status, errorBody{Code: code, Message: message})
}

// decodeJSON reads the full request body before decoding so a malformed
// payload can be logged, with secrets redacted, for debugging.
func decodeJSON(r *http.Request, v any) error {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return ragerr.Wrap(ragerr.Validation, "read_request_body", err)
	}

	dec := json.NewDecoder(bytesReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		log.Warn().RawJSON("body", observability.RedactJSON(raw)).Msg("api: request body failed to decode")
		return ragerr.Wrap(ragerr.Validation, "invalid_request_body", err)
	}
	return nil
}

func bytesReader(b []byte) io.Reader { return strings.NewReader(string(b)) }
