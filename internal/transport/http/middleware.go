// Copyright 2026 The Veridian Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/veridian/veridian/internal/observability/logger"
)

// RequestLogger emits one structured line per completed request. 5xx
// responses log at error level so they surface in alerting without a
// separate stream.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			slog.LogAttrs(r.Context(), level, "http_request",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
				logger.UserAgent(r.UserAgent()),
				logger.Status(ww.Status()),
				logger.Duration(time.Since(start)),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// AuthMiddleware requires an authenticated session and adds user_id and
// session_id to the request context. Anonymous sessions minted for the
// authorization detour do not pass.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := h.getSessionFromCookie(r)
		if sessionID == "" {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		sess, err := h.sessionService.Get(r.Context(), sessionID)
		if err != nil {
			h.clearSessionCookie(w)
			respondError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		if !sess.IsAuthenticated() {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		// Sliding idle window
		if err := h.sessionService.Refresh(r.Context(), sessionID); err != nil {
			slog.ErrorContext(r.Context(), "failed to refresh session", logger.Err(err))
		}

		ctx := withAuthUser(r.Context(), sess.UserID)
		ctx = withWebSession(ctx, sess.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalSessionMiddleware resolves the session cookie when one is
// present but lets unauthenticated requests through. The authorize
// endpoint uses it: a missing or anonymous session triggers the login
// detour instead of a 401.
func (h *Handler) OptionalSessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := h.getSessionFromCookie(r)
		if sessionID == "" {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := h.sessionService.Get(r.Context(), sessionID)
		if err != nil {
			// Stale cookie. The handler decides what a missing session means.
			h.clearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}

		ctx := withWebSession(r.Context(), sess.ID)
		if sess.IsAuthenticated() {
			ctx = withAuthUser(ctx, sess.UserID)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
