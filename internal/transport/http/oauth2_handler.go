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
	"net/url"
	"strings"
	"time"

	"github.com/veridian/veridian/internal/oauth2"
	"github.com/veridian/veridian/internal/observability/logger"
)

// loginPath is where the unauthenticated authorize detour lands. The
// page itself is served elsewhere; this server only issues the redirect.
const loginPath = "/login"

// Authorize starts the authorization code flow
// @Summary OAuth2 Authorize Endpoint
// @Description Starts the authorization flow (RFC 6749 Section 4.1.1)
// @Tags OAuth2
// @Produce html
// @Param client_id query string true "Client ID"
// @Param redirect_uri query string true "Redirect URI"
// @Param response_type query string true "Response Type (must be 'code')"
// @Param scope query string false "Scopes"
// @Param state query string false "Random State"
// @Param nonce query string false "Nonce (required with openid scope)"
// @Param code_challenge query string false "PKCE Challenge"
// @Param code_challenge_method query string false "PKCE Method (plain or S256)"
// @Success 302 {string} string "Redirects to callback or login"
// @Router /authorize [get]
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := &oauth2.AuthorizeRequest{
		ClientID:            query.Get("client_id"),
		RedirectURI:         query.Get("redirect_uri"),
		ResponseType:        query.Get("response_type"),
		Scope:               query.Get("scope"),
		State:               query.Get("state"),
		Nonce:               query.Get("nonce"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
	}

	_, granted, err := h.oauth2Service.ValidateAuthorizeRequest(r.Context(), req)
	if err != nil {
		slog.ErrorContext(r.Context(), "invalid authorize request",
			logger.Err(err),
			logger.ClientID(req.ClientID),
		)
		h.deliverAuthorizeError(w, r, req, err)
		return
	}

	userID := AuthUserID(r.Context())
	if userID == "" {
		h.detourToLogin(w, r, req)
		return
	}

	h.completeAuthorize(w, r, req, userID, granted)
}

// AuthorizeResume finishes an authorization that was parked for login
// @Summary Resume Authorization
// @Description Completes an authorize request parked across the login detour
// @Tags OAuth2
// @Produce html
// @Security CookieAuth
// @Success 302 {string} string "Redirects to callback"
// @Failure 400 {object} oauth2.Error
// @Router /authorize/resume [get]
func (h *Handler) AuthorizeResume(w http.ResponseWriter, r *http.Request) {
	sessionID := WebSessionID(r.Context())

	req, err := h.oauth2Service.ResumeAuthorizeContext(r.Context(), sessionID)
	if err != nil {
		// No parked request or a stale one; there is no proven redirect
		// URI to deliver the error to.
		h.respondOAuthError(w, err)
		return
	}

	// Re-validate as if freshly received: the client may have been
	// deactivated or reconfigured while the user typed a password.
	_, granted, err := h.oauth2Service.ValidateAuthorizeRequest(r.Context(), req)
	if err != nil {
		slog.ErrorContext(r.Context(), "parked authorize request no longer valid",
			logger.Err(err),
			logger.ClientID(req.ClientID),
		)
		h.deliverAuthorizeError(w, r, req, err)
		return
	}

	h.completeAuthorize(w, r, req, AuthUserID(r.Context()), granted)
}

// detourToLogin parks the validated request under the caller's session
// and sends the user to login. An anonymous session is minted when no
// session exists so the parked request has a key to come back to.
func (h *Handler) detourToLogin(w http.ResponseWriter, r *http.Request, req *oauth2.AuthorizeRequest) {
	sessionID := WebSessionID(r.Context())
	if sessionID == "" {
		sess, err := h.sessionService.Create(r.Context(), "", clientIP(r), r.UserAgent())
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to create session for authorize detour", logger.Err(err))
			h.redirectAuthorizeError(w, r, req, oauth2.NewError(oauth2.ErrServerError, "failed to start login"))
			return
		}
		sessionID = sess.ID
		h.setSessionCookie(w, sessionID)
	}

	if err := h.oauth2Service.SaveAuthorizeContext(r.Context(), sessionID, req); err != nil {
		slog.ErrorContext(r.Context(), "failed to park authorize request", logger.Err(err))
		h.redirectAuthorizeError(w, r, req, err)
		return
	}

	loginURL := loginPath + "?next=" + url.QueryEscape("/authorize/resume")
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// completeAuthorize mints the code for an authenticated user and sends
// it back to the client. Failures here are past the redirect URI proof,
// so they are delivered by redirect per RFC 6749 Section 4.1.2.1.
func (h *Handler) completeAuthorize(w http.ResponseWriter, r *http.Request, req *oauth2.AuthorizeRequest, userID string, granted []string) {
	code, err := h.oauth2Service.CreateAuthorizationCode(r.Context(), req, userID, granted)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create authorization code", logger.Err(err))
		h.redirectAuthorizeError(w, r, req, oauth2.NewError(oauth2.ErrServerError, "failed to issue code"))
		return
	}

	redirectURL := addQueryParams(req.RedirectURI, map[string]string{
		"code":  code.Code,
		"state": req.State,
	})
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// deliverAuthorizeError routes a validation failure to the right
// channel. Errors raised after the redirect URI was proven registered
// are redirect-delivered; everything earlier renders locally so an
// attacker-supplied URI never receives a response.
func (h *Handler) deliverAuthorizeError(w http.ResponseWriter, r *http.Request, req *oauth2.AuthorizeRequest, err error) {
	if oe, ok := err.(*oauth2.Error); ok && oe.Redirectable() {
		h.redirectAuthorizeError(w, r, req, oe)
		return
	}
	h.respondOAuthError(w, err)
}

func (h *Handler) redirectAuthorizeError(w http.ResponseWriter, r *http.Request, req *oauth2.AuthorizeRequest, err error) {
	oe, ok := err.(*oauth2.Error)
	if !ok {
		oe = oauth2.NewError(oauth2.ErrServerError, "internal server error")
	}
	redirectURL := addQueryParams(req.RedirectURI, map[string]string{
		"error":             oe.Code,
		"error_description": oe.Description,
		"state":             req.State,
	})
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// Token handles the code and refresh grants
// @Summary OAuth2 Token Endpoint
// @Description Exchange code for access token (RFC 6749 Section 4.1.3)
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Produce json
// @Param grant_type formData string true "Grant Type (authorization_code or refresh_token)"
// @Param code formData string false "Authorization Code (for authorization_code grant)"
// @Param redirect_uri formData string false "Redirect URI"
// @Param client_id formData string false "Client ID (if not Basic Auth)"
// @Param client_secret formData string false "Client Secret (if not Basic Auth)"
// @Param code_verifier formData string false "PKCE Verifier"
// @Param refresh_token formData string false "Refresh Token (for refresh_token grant)"
// @Success 200 {object} oauth2.TokenResponse
// @Failure 400 {object} oauth2.Error
// @Failure 401 {object} oauth2.Error
// @Router /token [post]
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "malformed form body"))
		return
	}

	// Extract credentials
	clientID := r.Form.Get("client_id")
	clientSecret := r.Form.Get("client_secret")

	// Support Basic Auth (RFC 6749 Section 2.3.1)
	if clientID == "" {
		username, password, ok := r.BasicAuth()
		if ok {
			clientID = username
			clientSecret = password
		}
	}

	req := &oauth2.TokenRequest{
		GrantType:    r.Form.Get("grant_type"),
		Code:         r.Form.Get("code"),
		RedirectURI:  r.Form.Get("redirect_uri"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		CodeVerifier: r.Form.Get("code_verifier"), // RFC 7636 Section 4.5
		RefreshToken: r.Form.Get("refresh_token"), // RFC 6749 Section 6
	}

	var resp *oauth2.TokenResponse
	var err error
	start := time.Now()

	switch req.GrantType {
	case "authorization_code":
		// RFC 6749 Section 4.1.3
		if req.Code == "" {
			h.respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "code is required"))
			return
		}
		resp, err = h.oauth2Service.ExchangeCodeForToken(r.Context(), req)
	case "refresh_token":
		// RFC 6749 Section 6
		if req.RefreshToken == "" {
			h.respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "refresh_token is required"))
			return
		}
		resp, err = h.oauth2Service.RefreshAccessToken(r.Context(), req.RefreshToken)
	default:
		h.respondOAuthError(w, oauth2.NewError(oauth2.ErrUnsupportedGrantType, "unsupported grant_type"))
		return
	}
	h.flow.ExchangeTook(r.Context(), req.GrantType, time.Since(start))

	if err != nil {
		h.flow.GrantRejected(r.Context(), req.GrantType, errorCode(err))
		slog.ErrorContext(r.Context(), "token request failed",
			logger.Err(err),
			logger.GrantType(req.GrantType),
			logger.ClientID(req.ClientID),
		)
		h.respondOAuthError(w, err)
		return
	}

	h.flow.GrantIssued(r.Context(), req.GrantType)
	respondToken(w, resp)
}

// TokenRefresh rotates a refresh token
// @Summary Refresh Token Endpoint
// @Description Rotate a refresh token for a new token pair (RFC 6749 Section 6)
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Produce json
// @Param refresh_token formData string true "Refresh Token"
// @Success 200 {object} oauth2.TokenResponse
// @Failure 400 {object} oauth2.Error
// @Router /token/refresh [post]
func (h *Handler) TokenRefresh(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "malformed form body"))
		return
	}

	refreshToken := r.Form.Get("refresh_token")
	if refreshToken == "" {
		h.respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "refresh_token is required"))
		return
	}

	start := time.Now()
	resp, err := h.oauth2Service.RefreshAccessToken(r.Context(), refreshToken)
	h.flow.ExchangeTook(r.Context(), "refresh_token", time.Since(start))
	if err != nil {
		h.flow.GrantRejected(r.Context(), "refresh_token", errorCode(err))
		slog.ErrorContext(r.Context(), "refresh request failed", logger.Err(err))
		h.respondOAuthError(w, err)
		return
	}

	h.flow.GrantIssued(r.Context(), "refresh_token")
	respondToken(w, resp)
}

// UserInfo returns claims about the bearer's subject
// @Summary UserInfo Endpoint
// @Description Returns claims for the presented access token (OIDC Core Section 5.3)
// @Tags OAuth2
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Success 200 {object} map[string]any
// @Failure 401 {object} oauth2.Error
// @Failure 404 {object} oauth2.Error
// @Router /userinfo [get]
func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	rawToken := bearerToken(r)
	if rawToken == "" {
		h.respondBearerError(w, oauth2.NewError(oauth2.ErrMissingToken, "authorization header missing or malformed"))
		return
	}

	claims, err := h.oauth2Service.CheckAccessToken(r.Context(), rawToken)
	if err != nil {
		h.respondBearerError(w, err)
		return
	}

	user, err := h.identityService.GetUser(r.Context(), claims.UserID)
	if err != nil {
		h.respondBearerError(w, oauth2.NewError(oauth2.ErrUserNotFound, "user no longer exists"))
		return
	}

	// sub is always present; everything else is scope-gated
	// (OIDC Core Section 5.4).
	resp := map[string]any{
		"sub": user.ID,
	}
	if claims.HasScope(oauth2.ScopeEmail) {
		resp["email"] = user.Email
		resp["email_verified"] = user.EmailVerified
	}
	if claims.HasScope(oauth2.ScopeProfile) {
		resp["name"] = user.Username
		resp["given_name"] = user.Profile.GivenName
		resp["family_name"] = user.Profile.FamilyName
		if pic := user.Profile.Picture; pic != "" {
			resp["profile_picture"] = absoluteURL(h.oidcService.Issuer(), pic)
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// RevokeToken blacklists the presented access token
// @Summary Logout (Token Revocation)
// @Description Revokes the presented bearer token for its remaining lifetime
// @Tags OAuth2
// @Param Authorization header string true "Bearer access token"
// @Success 204 {string} string "No Content"
// @Failure 400 {object} oauth2.Error
// @Router /logout [post]
func (h *Handler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	rawToken := bearerToken(r)
	if rawToken == "" {
		h.respondOAuthError(w, oauth2.NewError(oauth2.ErrMissingToken, "authorization header missing or malformed"))
		return
	}

	if err := h.oauth2Service.RevokeAccessToken(r.Context(), rawToken); err != nil {
		h.respondOAuthError(w, err)
		return
	}

	h.flow.TokenRevoked(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// respondToken writes a token response with caching disabled
// (RFC 6749 Section 5.1).
func respondToken(w http.ResponseWriter, resp *oauth2.TokenResponse) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	respondJSON(w, http.StatusOK, resp)
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// absoluteURL resolves a possibly-relative path against the issuer.
func absoluteURL(issuer, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return issuer + "/" + strings.TrimPrefix(path, "/")
}

// addQueryParams appends parameters to a URL, preserving any query the
// client registered. Empty values are dropped so state stays optional.
func addQueryParams(rawURL string, params map[string]string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// errorCode extracts the protocol error code for metric labels. Keeping
// non-protocol failures under one label caps the cardinality.
func errorCode(err error) string {
	if oe, ok := err.(*oauth2.Error); ok {
		return oe.Code
	}
	return oauth2.ErrServerError
}

// respondOAuthError serializes a protocol error into an HTTP response.
func (h *Handler) respondOAuthError(w http.ResponseWriter, err error) {
	oauthErr, ok := err.(*oauth2.Error)
	if !ok {
		// Fallback for internal errors (opaque)
		respondJSON(w, http.StatusInternalServerError, oauth2.NewError(oauth2.ErrServerError, "internal server error"))
		return
	}

	status := http.StatusBadRequest
	switch oauthErr.Code {
	case oauth2.ErrInvalidClient:
		status = http.StatusUnauthorized
	case oauth2.ErrUserNotFound:
		status = http.StatusNotFound
	case oauth2.ErrServerError:
		status = http.StatusInternalServerError
	case oauth2.ErrTemporarilyUnavailable:
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, oauthErr)
}

// respondBearerError maps resource-endpoint failures onto RFC 6750
// statuses: bearer problems are 401, a vanished subject is 404.
func (h *Handler) respondBearerError(w http.ResponseWriter, err error) {
	oauthErr, ok := err.(*oauth2.Error)
	if !ok {
		respondJSON(w, http.StatusInternalServerError, oauth2.NewError(oauth2.ErrServerError, "internal server error"))
		return
	}

	status := http.StatusUnauthorized
	switch oauthErr.Code {
	case oauth2.ErrUserNotFound:
		status = http.StatusNotFound
	case oauth2.ErrServerError:
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, oauthErr)
}
