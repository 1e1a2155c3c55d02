package oauth2

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/veridian/veridian/internal/audit"
	"github.com/veridian/veridian/internal/id"
	"github.com/veridian/veridian/internal/token"
)

// OIDCProvider mints ID tokens when the openid scope is granted
// (implemented by the oidc package).
type OIDCProvider interface {
	GenerateIDToken(userID, clientID, nonce string) (string, error)
}

// SecretHasher hashes and verifies client secrets with the configured KDF
// (implemented by identity.PasswordHasher). Verify must run in constant
// time with respect to the secret.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encodedHash string) (bool, error)
}

// UserResolver reports whether a token subject still exists
// (implemented by the identity service).
type UserResolver interface {
	UserExists(userID string) (bool, error)
}

// Config carries issuance policy for the OAuth2 service.
type Config struct {
	AuthCodeTTL     time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// IDTokenOnRefresh re-issues an id_token on the refresh grant when the
	// rotated scopes include openid (OIDC Core Section 12.2). Off by
	// default; the re-issued token carries no nonce.
	IDTokenOnRefresh bool
}

// Service provides OAuth2 business logic
type Service struct {
	clientRepo   ClientRepository
	codeRepo     CodeRepository
	refreshRepo  RefreshTokenRepository
	blacklist    BlacklistRepository
	contextRepo  AuthorizeContextRepository
	users        UserResolver
	secrets      SecretHasher
	signer       *token.Signer
	oidcProvider OIDCProvider // Optional OIDC integration hook
	auditLogger  audit.Logger

	authCodeTTL      time.Duration
	accessTokenTTL   time.Duration
	refreshTokenTTL  time.Duration
	idTokenOnRefresh bool
}

// NewService creates a new OAuth2 service
func NewService(
	clientRepo ClientRepository,
	codeRepo CodeRepository,
	refreshRepo RefreshTokenRepository,
	blacklist BlacklistRepository,
	contextRepo AuthorizeContextRepository,
	users UserResolver,
	secrets SecretHasher,
	signer *token.Signer,
	oidcProvider OIDCProvider,
	auditLogger audit.Logger,
	cfg Config,
) *Service {
	return &Service{
		clientRepo:       clientRepo,
		codeRepo:         codeRepo,
		refreshRepo:      refreshRepo,
		blacklist:        blacklist,
		contextRepo:      contextRepo,
		users:            users,
		secrets:          secrets,
		signer:           signer,
		oidcProvider:     oidcProvider,
		auditLogger:      auditLogger,
		authCodeTTL:      cfg.AuthCodeTTL,
		accessTokenTTL:   cfg.AccessTokenTTL,
		refreshTokenTTL:  cfg.RefreshTokenTTL,
		idTokenOnRefresh: cfg.IDTokenOnRefresh,
	}
}

// AuthorizeRequest represents an OAuth2 authorization request
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// TokenRequest represents an OAuth2 token request
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	RefreshToken string
}

// TokenResponse represents an OAuth2 token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ValidateAuthorizeRequest validates an authorization request
// (RFC 6749 Section 4.1.1). Checks run in a fixed order and the first
// failure returns. Errors raised before the redirect URI is proven
// registered must not be delivered via redirect; of the errors below only
// those carrying state occur after that proof.
func (s *Service) ValidateAuthorizeRequest(ctx context.Context, req *AuthorizeRequest) (*Client, []string, error) {
	// 1. Response type (RFC 6749 Section 3.1.1): only code is supported
	if req.ResponseType != "code" {
		return nil, nil, NewError(ErrUnsupportedResponseType, "response_type must be 'code'")
	}

	// 2. Required parameters (RFC 6749 Section 4.1.1)
	if req.ClientID == "" || req.RedirectURI == "" {
		return nil, nil, NewError(ErrInvalidRequest, "client_id and redirect_uri are required")
	}

	// 3. OIDC authentication requests must carry a nonce so the id_token
	//    can be bound to them (OIDC Core Section 3.1.2.1)
	if ContainsScope(req.Scope, ScopeOpenID) && req.Nonce == "" {
		return nil, nil, NewError(ErrInvalidRequest, "nonce is required when requesting the openid scope")
	}

	// 4. Client must exist and be active
	client, err := s.clientRepo.GetByClientID(req.ClientID)
	if err != nil {
		return nil, nil, NewError(ErrInvalidClient, "unknown client")
	}
	if !client.IsActive {
		return nil, nil, NewError(ErrInvalidClient, "client is disabled")
	}

	// 5. Redirect URI must be registered for the client, compared in
	//    normalized form (RFC 6749 Section 3.1.2)
	if !client.ValidateRedirectURI(req.RedirectURI) {
		return nil, nil, NewError(ErrInvalidRedirectURI, "redirect_uri is not registered for this client")
	}

	// 6. At least one requested scope must be allowed for the client
	//    (RFC 6749 Section 3.3)
	granted := client.AllowedScopes(ParseScopes(req.Scope))
	if len(granted) == 0 {
		return nil, nil, NewError(ErrInvalidScope, "none of the requested scopes are allowed for this client").WithState(req.State)
	}

	// Reject unknown PKCE transforms here so the client learns before the
	// login detour rather than at exchange (RFC 7636 Section 4.3)
	if req.CodeChallenge != "" && req.CodeChallengeMethod != "" &&
		req.CodeChallengeMethod != PKCEMethodPlain && req.CodeChallengeMethod != PKCEMethodS256 {
		return nil, nil, NewError(ErrInvalidRequest, "unsupported code_challenge_method").WithState(req.State)
	}

	return client, granted, nil
}

// CreateAuthorizationCode creates a new authorization code
// (RFC 6749 Section 4.1.2) bound to the authenticated user and the
// granted scope subset, and stores it under the code TTL.
func (s *Service) CreateAuthorizationCode(ctx context.Context, req *AuthorizeRequest, userID string, scopes []string) (*AuthorizationCode, error) {
	now := time.Now()
	code := &AuthorizationCode{
		Code:                generateAuthorizationCode(),
		ClientID:            req.ClientID,
		UserID:              userID,
		RedirectURI:         req.RedirectURI,
		Scope:               JoinScopes(scopes),
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		IssuedAt:            now,
		ExpiresAt:           now.Add(s.authCodeTTL),
		Used:                false,
	}

	if err := s.codeRepo.Create(ctx, code); err != nil {
		return nil, NewError(ErrServerError, "failed to persist authorization code")
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeCodeIssued,
		ActorID:  userID,
		Resource: "authorization_code",
		Metadata: map[string]any{
			"client_id": req.ClientID,
			"scope":     code.Scope,
		},
	})

	return code, nil
}

// ExchangeCodeForToken exchanges an authorization code for tokens
// (RFC 6749 Section 4.1.3). Validation order is fixed: client
// authentication, grant lookup, replay and expiry, binding checks, PKCE,
// and only then the atomic claim of the code.
func (s *Service) ExchangeCodeForToken(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	// 1. Authenticate the client (RFC 6749 Section 3.2.1)
	client, err := s.ValidateClientCredentials(req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	// 2. Load the grant
	code, err := s.codeRepo.Get(ctx, req.Code)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return nil, NewError(ErrInvalidGrant, "Invalid or expired authorization code")
		}
		return nil, NewError(ErrServerError, "grant store unavailable")
	}

	// 3. Replay detection (RFC 6749 Section 4.1.2): presenting a used code
	//    revokes the refresh token the first exchange minted
	if code.Used {
		s.revokeReplayedGrant(ctx, code)
		return nil, NewError(ErrInvalidGrant, "Code already used")
	}
	if code.IsExpired() {
		return nil, NewError(ErrInvalidGrant, "Invalid or expired authorization code")
	}

	// 4. The exchange must present the same binding the code was issued
	//    under: redirect URI (compared normalized) and client
	if !RedirectURIMatches(code.RedirectURI, req.RedirectURI) {
		return nil, NewError(ErrInvalidGrant, "Invalid redirect URI")
	}
	if code.ClientID != client.ClientID {
		return nil, NewError(ErrInvalidGrant, "Code was issued to a different client")
	}

	// 5. PKCE verification (RFC 7636 Section 4.6)
	if pkceErr := ValidatePKCE(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier); pkceErr != nil {
		return nil, pkceErr
	}

	// 6. Claim the code. The compare-and-set admits exactly one winner
	//    among concurrent exchanges of the same code.
	if err := s.codeRepo.MarkUsed(ctx, req.Code); err != nil {
		if errors.Is(err, ErrCodeAlreadyUsed) {
			return nil, NewError(ErrInvalidGrant, "Code already used")
		}
		return nil, NewError(ErrServerError, "failed to claim authorization code")
	}

	// 7. The subject must still exist
	exists, err := s.users.UserExists(code.UserID)
	if err != nil {
		return nil, NewError(ErrServerError, "user store unavailable")
	}
	if !exists {
		return nil, NewError(ErrInvalidGrant, "user no longer exists")
	}

	// 8. Mint the access and refresh tokens
	accessToken, err := s.signer.SignAccessToken(code.UserID, client.ClientID, ParseScopes(code.Scope), s.accessTokenTTL)
	if err != nil {
		return nil, NewError(ErrServerError, "failed to sign access token")
	}
	refreshToken, err := s.mintRefreshToken(ctx, code.UserID, client.ClientID, code.Scope)
	if err != nil {
		return nil, err
	}

	// Record the successor on the spent code so a later replay can revoke
	// it. The tokens are already issued; failure here only weakens replay
	// revocation, it must not fail the exchange.
	_ = s.codeRepo.AttachRefreshToken(ctx, req.Code, refreshToken)

	// 9. ID token when the granted scopes include openid
	//    (OIDC Core Section 3.1.3.3)
	var idToken string
	if s.oidcProvider != nil && ContainsScope(code.Scope, ScopeOpenID) {
		idToken, err = s.oidcProvider.GenerateIDToken(code.UserID, client.ClientID, code.Nonce)
		if err != nil {
			return nil, NewError(ErrServerError, "failed to sign ID token")
		}
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		ActorID:  code.UserID,
		Resource: "token",
		Metadata: map[string]any{
			"client_id": client.ClientID,
			"scope":     code.Scope,
			"id_token":  idToken != "",
		},
	})

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "bearer",
		ExpiresIn:    int(s.accessTokenTTL.Seconds()),
		RefreshToken: refreshToken,
		IDToken:      idToken,
		Scope:        code.Scope,
	}, nil
}

// revokeReplayedGrant deletes the refresh token minted by the first
// exchange of a now-replayed code. Not-found is ignored: the successor
// may already have rotated or expired.
func (s *Service) revokeReplayedGrant(ctx context.Context, code *AuthorizationCode) {
	if code.RefreshToken != "" {
		_ = s.refreshRepo.Delete(ctx, code.RefreshToken)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeCodeReplayed,
		ActorID:  code.UserID,
		Resource: "authorization_code",
		Metadata: map[string]any{
			"client_id": code.ClientID,
			"revoked":   code.RefreshToken != "",
		},
	})
}

// RefreshAccessToken rotates a refresh token (RFC 6749 Section 6). The
// presented token is deleted before any successor is minted; the delete
// is the race arbiter, so concurrent rotations of the same token produce
// at most one successor.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	// 1. Load the rotation record
	rt, err := s.refreshRepo.Get(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			return nil, NewError(ErrInvalidGrant, "Invalid or expired refresh token")
		}
		return nil, NewError(ErrServerError, "grant store unavailable")
	}

	// 2. The issuing client must still exist and be active
	client, err := s.clientRepo.GetByClientID(rt.ClientID)
	if err != nil {
		return nil, NewError(ErrInvalidClient, "unknown client")
	}
	if !client.IsActive {
		return nil, NewError(ErrInvalidClient, "client is disabled")
	}

	// 3. Stored expiry is authoritative even though the store TTL normally
	//    reaps the record first
	if rt.IsExpired() {
		return nil, NewError(ErrInvalidGrant, "token_expired")
	}

	// 4. The subject must still exist
	exists, err := s.users.UserExists(rt.UserID)
	if err != nil {
		return nil, NewError(ErrServerError, "user store unavailable")
	}
	if !exists {
		return nil, NewError(ErrUserNotFound, "user no longer exists")
	}

	// 5. Rotation: delete before mint. Losing the delete means another
	//    rotation already consumed this token, and no successor is minted.
	if err := s.refreshRepo.Delete(ctx, refreshToken); err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			return nil, NewError(ErrInvalidGrant, "Invalid or expired refresh token")
		}
		return nil, NewError(ErrServerError, "failed to rotate refresh token")
	}

	// 6. Mint successors carrying the same bound scopes
	accessToken, err := s.signer.SignAccessToken(rt.UserID, client.ClientID, ParseScopes(rt.Scope), s.accessTokenTTL)
	if err != nil {
		return nil, NewError(ErrServerError, "failed to sign access token")
	}
	newRefreshToken, err := s.mintRefreshToken(ctx, rt.UserID, client.ClientID, rt.Scope)
	if err != nil {
		return nil, err
	}

	// 7. ID token re-issuance on refresh is policy, off by default
	var idToken string
	if s.idTokenOnRefresh && s.oidcProvider != nil && ContainsScope(rt.Scope, ScopeOpenID) {
		idToken, err = s.oidcProvider.GenerateIDToken(rt.UserID, client.ClientID, "")
		if err != nil {
			return nil, NewError(ErrServerError, "failed to sign ID token")
		}
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenRefreshed,
		ActorID:  rt.UserID,
		Resource: "token",
		Metadata: map[string]any{
			"client_id": client.ClientID,
			"scope":     rt.Scope,
		},
	})

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "bearer",
		ExpiresIn:    int(s.accessTokenTTL.Seconds()),
		RefreshToken: newRefreshToken,
		IDToken:      idToken,
		Scope:        rt.Scope,
	}, nil
}

// mintRefreshToken generates an opaque refresh token and persists its
// rotation record under the refresh TTL.
func (s *Service) mintRefreshToken(ctx context.Context, userID, clientID, scope string) (string, error) {
	now := time.Now()
	rt := &RefreshToken{
		Token:     generateRefreshToken(),
		UserID:    userID,
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: now.Add(s.refreshTokenTTL),
		CreatedAt: now,
	}
	if err := s.refreshRepo.Create(ctx, rt); err != nil {
		return "", NewError(ErrServerError, "failed to persist refresh token")
	}
	return rt.Token, nil
}

// ValidateClientCredentials validates client ID and secret
// (client_secret_post, RFC 6749 Section 2.3.1). The secret comparison is
// constant time. Unknown client, bad secret, and disabled client are
// indistinguishable to the caller.
func (s *Service) ValidateClientCredentials(clientID, clientSecret string) (*Client, error) {
	client, err := s.clientRepo.GetByClientID(clientID)
	if err != nil {
		return nil, NewError(ErrInvalidClient, "invalid client credentials")
	}
	if !client.IsActive {
		return nil, NewError(ErrInvalidClient, "invalid client credentials")
	}

	ok, err := s.secrets.Verify(clientSecret, client.SecretHash)
	if err != nil || !ok {
		return nil, NewError(ErrInvalidClient, "invalid client credentials")
	}

	return client, nil
}

// CheckAccessToken resolves a bearer token to its claims. Revocation is
// checked before the signature so a logged-out token reports
// token_revoked for as long as the blacklist entry lives; the entry
// expires with the token, after which the same token reports
// token_expired.
func (s *Service) CheckAccessToken(ctx context.Context, rawToken string) (*token.AccessClaims, error) {
	revoked, err := s.blacklist.IsRevoked(ctx, rawToken)
	if err != nil {
		return nil, NewError(ErrServerError, "grant store unavailable")
	}
	if revoked {
		return nil, NewError(ErrTokenRevoked, "token has been revoked")
	}

	claims, err := s.signer.VerifyAccessToken(rawToken)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return nil, NewError(ErrTokenExpired, "token has expired")
		}
		return nil, NewError(ErrInvalidToken, "token is invalid")
	}

	return claims, nil
}

// RevokeAccessToken blacklists a verified access token for the remainder
// of its lifetime. A token with no lifetime left needs no entry; its
// expiry already rejects it everywhere the blacklist would.
func (s *Service) RevokeAccessToken(ctx context.Context, rawToken string) error {
	claims, err := s.signer.VerifyAccessToken(rawToken)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return NewError(ErrTokenExpired, "token has expired")
		}
		return NewError(ErrInvalidToken, "token is invalid")
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl > 0 {
		if err := s.blacklist.Revoke(ctx, rawToken, ttl); err != nil {
			return NewError(ErrServerError, "grant store unavailable")
		}
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenRevoked,
		ActorID:  claims.UserID,
		Resource: "token",
		Metadata: map[string]any{"client_id": claims.ClientID},
	})

	return nil
}

// SaveAuthorizeContext parks a validated authorization request while the
// user completes login, keyed by the anonymous session.
func (s *Service) SaveAuthorizeContext(ctx context.Context, sessionID string, req *AuthorizeRequest) error {
	authCtx := &AuthorizeContext{
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		State:               req.State,
		Scope:               req.Scope,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Timestamp:           time.Now(),
	}
	if err := s.contextRepo.Save(ctx, sessionID, authCtx); err != nil {
		return NewError(ErrServerError, "failed to park authorization request")
	}
	return nil
}

// ResumeAuthorizeContext retrieves and consumes a parked authorization
// request after login. The parked request is single use: it is deleted
// whether or not it is still fresh.
func (s *Service) ResumeAuthorizeContext(ctx context.Context, sessionID string) (*AuthorizeRequest, error) {
	authCtx, err := s.contextRepo.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrContextNotFound) {
			return nil, NewError(ErrSessionLost, "no authorization request in progress for this session")
		}
		return nil, NewError(ErrServerError, "grant store unavailable")
	}

	_ = s.contextRepo.Delete(ctx, sessionID)

	if authCtx.IsExpired(s.authCodeTTL) {
		return nil, NewError(ErrSessionExpired, "authorization request expired, start over")
	}

	return &AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            authCtx.ClientID,
		RedirectURI:         authCtx.RedirectURI,
		State:               authCtx.State,
		Scope:               authCtx.Scope,
		Nonce:               authCtx.Nonce,
		CodeChallenge:       authCtx.CodeChallenge,
		CodeChallengeMethod: authCtx.CodeChallengeMethod,
	}, nil
}

// MigrateAuthorizeContext re-keys a parked authorization request onto a
// new session. Login rotates the session ID, which would otherwise
// orphan the parked request. The original timestamp travels with it, so
// the staleness window keeps running from the initial authorize call.
func (s *Service) MigrateAuthorizeContext(ctx context.Context, oldSessionID, newSessionID string) error {
	authCtx, err := s.contextRepo.Get(ctx, oldSessionID)
	if err != nil {
		if errors.Is(err, ErrContextNotFound) {
			return NewError(ErrSessionLost, "no authorization request in progress for this session")
		}
		return NewError(ErrServerError, "grant store unavailable")
	}

	_ = s.contextRepo.Delete(ctx, oldSessionID)

	if err := s.contextRepo.Save(ctx, newSessionID, authCtx); err != nil {
		return NewError(ErrServerError, "failed to park authorization request")
	}
	return nil
}

// CreateClient registers a client application. The plaintext secret is
// returned exactly once; only its hash is stored.
func (s *Service) CreateClient(ctx context.Context, name string, redirectURIs, scopes []string) (*Client, string, error) {
	if name == "" || len(redirectURIs) == 0 {
		return nil, "", NewError(ErrInvalidRequest, "name and redirect_uris are required")
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeOpenID, ScopeEmail, ScopeProfile}
	}

	secret := GenerateClientSecret()
	secretHash, err := s.secrets.Hash(secret)
	if err != nil {
		return nil, "", NewError(ErrServerError, "failed to hash client secret")
	}

	now := time.Now()
	client := &Client{
		ID:           id.NewUUIDv7(),
		ClientID:     GenerateClientID(),
		Name:         name,
		SecretHash:   secretHash,
		RedirectURIs: redirectURIs,
		Scopes:       scopes,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.clientRepo.Create(client); err != nil {
		return nil, "", NewError(ErrServerError, "failed to persist client")
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeClientCreated,
		Resource: "client",
		Metadata: map[string]any{
			"client_id": client.ClientID,
			"name":      client.Name,
		},
	})

	return client, secret, nil
}

// defaultClientPageSize caps ListClients pages; larger requests are clamped.
const defaultClientPageSize = 50

// ListClients returns registered clients, newest first.
func (s *Service) ListClients(ctx context.Context, limit, offset int) ([]*Client, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultClientPageSize
	}
	if offset < 0 {
		offset = 0
	}

	clients, err := s.clientRepo.List(limit, offset)
	if err != nil {
		return nil, NewError(ErrServerError, "failed to list clients")
	}
	return clients, nil
}

// generateAuthorizationCode generates a random authorization code
func generateAuthorizationCode() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// generateRefreshToken generates a random opaque refresh token
func generateRefreshToken() string {
	b := make([]byte, 64)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// GenerateClientID generates a random public client identifier
func GenerateClientID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// GenerateClientSecret generates a random client secret
func GenerateClientSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
