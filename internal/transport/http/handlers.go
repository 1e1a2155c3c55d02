// @title Veridian API
// @version 1.0.0
// @description OpenID Connect Identity Provider
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name veridian_session

package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/veridian/veridian/internal/audit"
	"github.com/veridian/veridian/internal/identity"
	"github.com/veridian/veridian/internal/oauth2"
	"github.com/veridian/veridian/internal/observability/logger"
	"github.com/veridian/veridian/internal/observability/metrics"
	"github.com/veridian/veridian/internal/oidc"
	"github.com/veridian/veridian/internal/session"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService *identity.Service
	sessionService  *session.Service
	oauth2Service   *oauth2.Service
	oidcService     *oidc.Service
	auditLogger     audit.Logger
	flow            *metrics.Flow
	db              Pinger
	grantStore      Pinger
	sessionConfig   SessionConfig
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
	CookieMaxAge   int
}

// NewHandler creates a new HTTP handler. flow may be nil when protocol
// metrics are disabled.
func NewHandler(
	identityService *identity.Service,
	sessionService *session.Service,
	oauth2Service *oauth2.Service,
	oidcService *oidc.Service,
	auditLogger audit.Logger,
	flow *metrics.Flow,
	db Pinger,
	grantStore Pinger,
	sessionConfig SessionConfig,
) *Handler {
	return &Handler{
		identityService: identityService,
		sessionService:  sessionService,
		oauth2Service:   oauth2Service,
		oidcService:     oidcService,
		auditLogger:     auditLogger,
		flow:            flow,
		db:              db,
		grantStore:      grantStore,
		sessionConfig:   sessionConfig,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	// OIDC Discovery & JWKS
	// RFC OIDC Discovery Section 4
	r.Get("/.well-known/openid-configuration", h.Discovery)
	r.Get("/jwks", h.JWKS)

	// OAuth2/OIDC protocol surface
	// RFC 6749 Section 4.1.1. The authorize endpoint resolves the session
	// itself: an unauthenticated user is detoured to login, not rejected.
	r.With(h.OptionalSessionMiddleware).Get("/authorize", h.Authorize)
	r.With(h.AuthMiddleware).Get("/authorize/resume", h.AuthorizeResume)

	// RFC 6749 Section 4.1.3. Token endpoints authenticate the client.
	r.Post("/token", h.Token)
	r.Post("/token/refresh", h.TokenRefresh)

	// OIDC Core Section 5.3
	r.Get("/userinfo", h.UserInfo)

	// Bearer revocation (RFC 7009 shape, bearer-authenticated)
	r.Post("/logout", h.RevokeToken)

	// Email verification link target
	r.Get("/verify-email/{token}", h.VerifyEmail)

	// Web/API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Post("/resend-verification", h.ResendVerification)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/me", h.GetCurrentUser)
			r.Post("/clients", h.RegisterClient)
			r.Get("/clients", h.ListClients)
		})
	})

	return r
}

// HealthResponse reports service and dependency status.
type HealthResponse struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks the service and its backing stores
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{
		"database":    "ok",
		"grant_store": "ok",
	}
	status := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		services["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if err := h.grantStore.Ping(r.Context()); err != nil {
		services["grant_store"] = "unavailable"
		status = http.StatusServiceUnavailable
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}

	respondJSON(w, status, HealthResponse{
		Status:    overall,
		Services:  services,
		Timestamp: time.Now().UTC(),
	})
}

// RegisterRequest represents registration data
type RegisterRequest struct {
	Email      string `json:"email" binding:"required" example:"user@example.com"`
	Username   string `json:"username" binding:"required" example:"jdoe"`
	Password   string `json:"password" binding:"required" example:"secret123"`
	GivenName  string `json:"given_name" example:"John"`
	FamilyName string `json:"family_name" example:"Doe"`
}

// Register handles user registration
// @Summary Register a new user
// @Description Register a new user and send a verification email
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration Data"
// @Success 201 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /api/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile := identity.Profile{
		GivenName:  req.GivenName,
		FamilyName: req.FamilyName,
	}

	user, err := h.identityService.Register(r.Context(), req.Email, req.Username, req.Password, profile)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to register user",
			logger.Err(err),
			logger.Email(req.Email),
		)

		switch {
		case errors.Is(err, identity.ErrUserAlreadyExists):
			respondError(w, http.StatusConflict, "user already exists")
		case errors.Is(err, identity.ErrInvalidEmail):
			respondError(w, http.StatusBadRequest, "invalid email address")
		case errors.Is(err, identity.ErrInvalidUsername):
			respondError(w, http.StatusBadRequest, "invalid username")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, "password does not meet security requirements")
		default:
			respondError(w, http.StatusInternalServerError, "failed to create user")
		}
		return
	}

	// Register owns the verification mail and the user_created audit
	// event; the handler only shapes the response.
	respondJSON(w, http.StatusCreated, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email" binding:"required" example:"user@example.com"`
	Password string `json:"password" binding:"required" example:"secret123"`
}

// Login handles user login
// @Summary Login
// @Description Authenticate user and create a session
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /api/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.identityService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeLoginFailed,
			Resource:  req.Email,
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
			Metadata:  map[string]any{"reason": "invalid_credentials"},
		})
		if errors.Is(err, identity.ErrAccountLocked) {
			respondError(w, http.StatusForbidden, "account temporarily locked")
			return
		}
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	// Rotate any pre-login session so a fixated cookie buys nothing.
	oldSessionID := h.getSessionFromCookie(r)
	sess, err := h.sessionService.Authenticate(
		r.Context(),
		oldSessionID,
		user.ID,
		clientIP(r),
		r.UserAgent(),
	)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create session", logger.Err(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	// A parked authorization request is keyed by the pre-login session;
	// carry it across the rotation so the detour can resume.
	next := ""
	if oldSessionID != "" {
		if err := h.oauth2Service.MigrateAuthorizeContext(r.Context(), oldSessionID, sess.ID); err == nil {
			next = "/authorize/resume"
		}
	}

	// Set session cookie
	h.setSessionCookie(w, sess.ID)

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeLoginSuccess,
		ActorID:   user.ID,
		Resource:  "session",
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"session_id": sess.ID},
	})

	resp := map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	}
	if next != "" {
		resp["next"] = next
	}
	respondJSON(w, http.StatusOK, resp)
}

// Logout handles web session logout
// @Summary Logout
// @Description Destroy the current session
// @Tags Auth
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /api/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := h.getSessionFromCookie(r)
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	sess, err := h.sessionService.Get(r.Context(), sessionID)
	if err == nil {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeLogout,
			ActorID:   sess.UserID,
			Resource:  "session",
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
			Metadata:  map[string]any{"session_id": sess.ID},
		})
		h.sessionService.Destroy(r.Context(), sessionID)
	}

	h.clearSessionCookie(w)

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// GetCurrentUser returns the current authenticated user identity
// @Summary Get Current User
// @Description Retrieve details of the currently logged-in user
// @Tags User
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]string
// @Router /api/me [get]
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID := AuthUserID(r.Context())

	user, err := h.identityService.GetUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":        user.ID,
		"email":          user.Email,
		"username":       user.Username,
		"email_verified": user.EmailVerified,
		"profile":        user.Profile,
	})
}

// VerifyEmail confirms an email address via the mailed token
// @Summary Verify Email
// @Description Consume a verification token and mark the email verified
// @Tags Auth
// @Produce json
// @Param token path string true "Verification Token"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /verify-email/{token} [get]
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	verificationToken := chi.URLParam(r, "token")
	if verificationToken == "" {
		respondError(w, http.StatusBadRequest, "missing verification token")
		return
	}

	user, err := h.identityService.ConfirmEmail(r.Context(), verificationToken)
	if err != nil {
		if errors.Is(err, identity.ErrVerificationNotFound) {
			respondError(w, http.StatusNotFound, "verification token is invalid or has expired")
			return
		}
		slog.ErrorContext(r.Context(), "failed to confirm email", logger.Err(err))
		respondError(w, http.StatusInternalServerError, "failed to verify email")
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeEmailVerified,
		ActorID:   user.ID,
		Resource:  "user",
		IPAddress: clientIP(r),
		Metadata:  map[string]any{"email": user.Email},
	})

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "email verified successfully",
	})
}

// ResendVerificationRequest identifies the account to re-mail.
type ResendVerificationRequest struct {
	Email string `json:"email" binding:"required" example:"user@example.com"`
}

// ResendVerification re-issues a verification token
// @Summary Resend Verification Email
// @Description Send a fresh verification email if the account exists and is unverified
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body ResendVerificationRequest true "Account Email"
// @Success 202 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Router /api/resend-verification [post]
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The response never reveals whether the address is registered.
	if user, err := h.identityService.GetByEmail(r.Context(), req.Email); err == nil {
		if err := h.identityService.RequestEmailVerification(r.Context(), user); err != nil {
			slog.ErrorContext(r.Context(), "failed to resend verification email",
				logger.Err(err),
				logger.UserID(user.ID),
			)
		}
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "if the account exists and is unverified, a verification email has been sent",
	})
}

// Helper functions
func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionConfig.CookieName,
		Value:    sessionID,
		Path:     h.sessionConfig.CookiePath,
		Domain:   h.sessionConfig.CookieDomain,
		Secure:   h.sessionConfig.CookieSecure,
		HttpOnly: h.sessionConfig.CookieHTTPOnly,
		SameSite: h.sessionConfig.CookieSameSite,
		MaxAge:   h.sessionConfig.CookieMaxAge,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   h.sessionConfig.CookieName,
		Value:  "",
		Path:   h.sessionConfig.CookiePath,
		Domain: h.sessionConfig.CookieDomain,
		MaxAge: -1,
	})
}

func (h *Handler) getSessionFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.sessionConfig.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
