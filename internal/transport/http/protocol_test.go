package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridian/veridian/internal/audit"
	"github.com/veridian/veridian/internal/identity"
	"github.com/veridian/veridian/internal/oauth2"
	"github.com/veridian/veridian/internal/oidc"
	"github.com/veridian/veridian/internal/session"
	redisstore "github.com/veridian/veridian/internal/store/redis"
	"github.com/veridian/veridian/internal/token"
)

const (
	testIssuer     = "https://id.example.com"
	testCookieName = "veridian_session"
	testCallback   = "https://app.example.com/callback"

	// RFC 7636 Appendix B reference vectors.
	pkceVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	pkceChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

var testSigningSecret = []byte("protocol-test-signing-secret-32b")

// =============================================================================
// IN-MEMORY FAKES
// The grant store is real (miniredis); identity, session, and client
// persistence run on these stubs so no Postgres is needed.
// =============================================================================

type stubUserRepo struct {
	users map[string]*identity.User
	creds map[string]*identity.Credentials
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{
		users: make(map[string]*identity.User),
		creds: make(map[string]*identity.Credentials),
	}
}

func (m *stubUserRepo) Create(user *identity.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *stubUserRepo) AddCredentials(c *identity.Credentials) error {
	m.creds[c.UserID] = c
	return nil
}

func (m *stubUserRepo) GetByID(id string) (*identity.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

func (m *stubUserRepo) GetByEmail(email string) (*identity.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *stubUserRepo) GetByUsername(username string) (*identity.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *stubUserRepo) Update(user *identity.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *stubUserRepo) UpdateLockout(userID string, attempts int, lockedUntil *time.Time) error {
	u, ok := m.users[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.FailedLoginAttempts = attempts
	u.LockedUntil = lockedUntil
	return nil
}

func (m *stubUserRepo) MarkEmailVerified(userID string) error {
	u, ok := m.users[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.EmailVerified = true
	return nil
}

func (m *stubUserRepo) Delete(id string) error {
	delete(m.users, id)
	return nil
}

func (m *stubUserRepo) GetCredentials(userID string) (*identity.Credentials, error) {
	c, ok := m.creds[userID]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return c, nil
}

func (m *stubUserRepo) UpdatePassword(userID, passwordHash string) error {
	c, ok := m.creds[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	c.PasswordHash = passwordHash
	return nil
}

type stubClientRepo struct {
	clients map[string]*oauth2.Client
}

func (m *stubClientRepo) Create(c *oauth2.Client) error {
	m.clients[c.ClientID] = c
	return nil
}

func (m *stubClientRepo) GetByClientID(clientID string) (*oauth2.Client, error) {
	c, ok := m.clients[clientID]
	if !ok {
		return nil, oauth2.ErrClientNotFound
	}
	return c, nil
}

func (m *stubClientRepo) Update(c *oauth2.Client) error {
	m.clients[c.ClientID] = c
	return nil
}

func (m *stubClientRepo) Delete(clientID string) error {
	delete(m.clients, clientID)
	return nil
}

func (m *stubClientRepo) List(limit, offset int) ([]*oauth2.Client, error) {
	var out []*oauth2.Client
	for _, c := range m.clients {
		out = append(out, c)
	}
	return out, nil
}

type stubSessionRepo struct {
	sessions map[string]*session.Session
}

func (m *stubSessionRepo) Create(s *session.Session) error {
	m.sessions[s.ID] = s
	return nil
}

func (m *stubSessionRepo) Get(id string) (*session.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return s, nil
}

func (m *stubSessionRepo) Touch(id string, seenAt time.Time) error {
	s, ok := m.sessions[id]
	if !ok {
		return session.ErrSessionNotFound
	}
	s.LastSeenAt = seenAt
	return nil
}

func (m *stubSessionRepo) Delete(id string) error {
	delete(m.sessions, id)
	return nil
}

func (m *stubSessionRepo) DeleteByUserID(userID string) error {
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *stubSessionRepo) DeleteExpired() (int64, error) {
	var n int64
	for id, s := range m.sessions {
		if s.IsExpired() {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// stubMailer captures the newest verification token per address.
type stubMailer struct {
	tokens map[string]string
	sent   int
}

func (m *stubMailer) SendVerificationEmail(ctx context.Context, to, tok string) error {
	m.tokens[to] = tok
	m.sent++
	return nil
}

// stubPinger stands in for a backing store in health checks.
type stubPinger struct {
	err error
}

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

// =============================================================================
// TEST ENVIRONMENT
// =============================================================================

type testEnv struct {
	router      http.Handler
	users       *stubUserRepo
	mailer      *stubMailer
	identitySvc *identity.Service
	oauth2Svc   *oauth2.Service
	signer      *token.Signer
	mr          *miniredis.Miniredis
}

// newTestEnv assembles the full router on top of a miniredis grant store,
// so requests exercise the same middleware chain, Lua scripts, and TTL
// behavior as production.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := redisstore.NewWithClient(client, "veridian:")

	users := newStubUserRepo()
	clients := &stubClientRepo{clients: make(map[string]*oauth2.Client)}
	sessions := &stubSessionRepo{sessions: make(map[string]*session.Session)}
	mailer := &stubMailer{tokens: make(map[string]string)}

	// RFC 9106 low-memory parameters keep the test suite fast
	hasher := identity.NewPasswordHasher(64*1024, 1, 4, 16, 32)
	auditLogger := audit.NewSlogLogger()
	signer := token.NewSigner(testSigningSecret, 0)

	identitySvc := identity.NewService(
		users,
		redisstore.NewVerificationRepository(store),
		mailer,
		hasher,
		auditLogger,
		3,
		5*time.Minute,
		24*time.Hour,
	)
	sessionSvc := session.NewService(sessions, 24*time.Hour, 30*time.Minute)
	oidcSvc := oidc.NewService(testIssuer, signer, time.Hour)
	oauth2Svc := oauth2.NewService(
		clients,
		redisstore.NewCodeRepository(store),
		redisstore.NewRefreshTokenRepository(store),
		redisstore.NewBlacklistRepository(store),
		redisstore.NewContextRepository(store, time.Minute),
		identitySvc,
		hasher,
		signer,
		oidcSvc,
		auditLogger,
		oauth2.Config{
			AuthCodeTTL:     time.Minute,
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 24 * time.Hour,
		},
	)

	h := NewHandler(identitySvc, sessionSvc, oauth2Svc, oidcSvc, auditLogger,
		nil, stubPinger{}, store, SessionConfig{
			CookieName:     testCookieName,
			CookiePath:     "/",
			CookieHTTPOnly: true,
			CookieSameSite: http.SameSiteLaxMode,
			CookieMaxAge:   86400,
		})

	return &testEnv{
		router:      NewRouter(h, NewRateLimiter(10000, 10000)),
		users:       users,
		mailer:      mailer,
		identitySvc: identitySvc,
		oauth2Svc:   oauth2Svc,
		signer:      signer,
		mr:          mr,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) registerUser(t *testing.T, email, username, password string) *identity.User {
	t.Helper()
	user, err := e.identitySvc.Register(context.Background(), email, username, password,
		identity.Profile{GivenName: "Ada", FamilyName: "Lovelace"})
	require.NoError(t, err)
	return user
}

func (e *testEnv) createClient(t *testing.T, scopes []string) (*oauth2.Client, string) {
	t.Helper()
	client, secret, err := e.oauth2Svc.CreateClient(context.Background(), "Test App",
		[]string{testCallback}, scopes)
	require.NoError(t, err)
	return client, secret
}

// login authenticates through the API and returns the session cookie.
func (e *testEnv) login(t *testing.T, email, password string) *http.Cookie {
	t.Helper()
	w := e.postJSON(t, "/api/login", LoginRequest{Email: email, Password: password}, nil)
	require.Equal(t, http.StatusOK, w.Code, "login failed: %s", w.Body.String())
	cookie := responseCookie(w, testCookieName)
	require.NotNil(t, cookie, "login must set a session cookie")
	return cookie
}

func (e *testEnv) postJSON(t *testing.T, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return e.do(req)
}

func (e *testEnv) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req)
}

// authorize drives GET /authorize with an authenticated session and
// returns the issued code and echoed state from the redirect.
func (e *testEnv) authorize(t *testing.T, cookie *http.Cookie, q url.Values) (string, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil)
	req.AddCookie(cookie)
	w := e.do(req)
	require.Equal(t, http.StatusFound, w.Code, "authorize did not redirect: %s", w.Body.String())

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Empty(t, loc.Query().Get("error"), "authorize redirected with an error: %s", loc)
	require.NotEmpty(t, loc.Query().Get("code"))
	return loc.Query().Get("code"), loc.Query().Get("state")
}

func authorizeQuery(clientID, scope, state, nonce string) url.Values {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", testCallback)
	q.Set("scope", scope)
	if state != "" {
		q.Set("state", state)
	}
	if nonce != "" {
		q.Set("nonce", nonce)
	}
	return q
}

func codeGrantForm(clientID, clientSecret, code string) url.Values {
	f := url.Values{}
	f.Set("grant_type", "authorization_code")
	f.Set("client_id", clientID)
	f.Set("client_secret", clientSecret)
	f.Set("code", code)
	f.Set("redirect_uri", testCallback)
	return f
}

func refreshGrantForm(refreshToken string) url.Values {
	f := url.Values{}
	f.Set("grant_type", "refresh_token")
	f.Set("refresh_token", refreshToken)
	return f
}

func parseTokenResponse(t *testing.T, w *httptest.ResponseRecorder) *oauth2.TokenResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, "token endpoint failed: %s", w.Body.String())
	var resp oauth2.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return &resp
}

// oauthErrorCode extracts the error field, which carries the protocol
// error code on OAuth2 endpoints and the message on the JSON API.
func oauthErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var e struct {
		Code string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), "body: %s", w.Body.String())
	return e.Code
}

func responseCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name && c.Value != "" {
			return c
		}
	}
	return nil
}

func (e *testEnv) userinfo(t *testing.T, accessToken string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/userinfo", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return e.do(req)
}

// issueTokens runs register, login, authorize, and exchange, returning
// the token response for tests that start after the happy path.
func (e *testEnv) issueTokens(t *testing.T, scope string) *oauth2.TokenResponse {
	t.Helper()
	e.registerUser(t, "flow@example.com", "flowuser", "correct horse battery")
	client, secret := e.createClient(t, []string{"openid", "email", "profile"})
	cookie := e.login(t, "flow@example.com", "correct horse battery")

	nonce := ""
	if oauth2.ContainsScope(scope, "openid") {
		nonce = "n-0S6_WzA2Mj"
	}
	code, _ := e.authorize(t, cookie, authorizeQuery(client.ClientID, scope, "af0ifjsldkj", nonce))

	return parseTokenResponse(t, e.postForm("/token", codeGrantForm(client.ClientID, secret, code)))
}

// =============================================================================
// DISCOVERY & KEY SET
// =============================================================================

// TestPurpose: Validates the discovery document derives every endpoint from the configured issuer.
// Scope: Protocol Test
// Security: RPs resolve all protocol URLs from this document (OIDC Discovery Section 4)
// Expected: Issuer matches and each advertised endpoint is issuer-relative.
func TestProtocol_Discovery(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, w.Header().Get("Cache-Control"), "max-age")

	var meta oidc.DiscoveryMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meta))

	assert.Equal(t, testIssuer, meta.Issuer)
	assert.Equal(t, testIssuer+"/authorize", meta.AuthorizationEndpoint)
	assert.Equal(t, testIssuer+"/token", meta.TokenEndpoint)
	assert.Equal(t, testIssuer+"/userinfo", meta.UserInfoEndpoint)
	assert.Equal(t, testIssuer+"/jwks", meta.JWKSURI)
	assert.Equal(t, []string{"code"}, meta.ResponseTypesSupported)
	assert.ElementsMatch(t, []string{"plain", "S256"}, meta.CodeChallengeMethodsSupported)
	assert.ElementsMatch(t, []string{"authorization_code", "refresh_token"}, meta.GrantTypesSupported)
}

// TestPurpose: Validates the JWKS endpoint serves a well-formed empty key set under symmetric signing.
// Scope: Protocol Test
// Security: HS256 key material must never be published (RFC 7517)
// Expected: 200 with {"keys":[]}, no key material in the body.
func TestProtocol_JWKS_EmptyKeySet(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/jwks", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var jwks oidc.JWKS
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jwks))
	assert.NotNil(t, jwks.Keys, "keys must serialize as [], not null")
	assert.Empty(t, jwks.Keys)
	assert.Contains(t, w.Body.String(), `"keys":[]`)
	assert.Contains(t, w.Header().Get("Cache-Control"), "max-age")
}

// =============================================================================
// AUTHORIZATION ENDPOINT
// =============================================================================

// TestPurpose: Validates the complete code flow: login, authorize, exchange, and userinfo.
// Scope: Protocol Test
// Security: End-to-end binding of session, code, and tokens (RFC 6749 Section 4.1)
// Expected: Redirect carries code and state; exchange yields all three tokens; userinfo serves the subject.
func TestProtocol_AuthorizationCodeFlow(t *testing.T) {
	env := newTestEnv(t)

	user := env.registerUser(t, "ada@example.com", "ada", "correct horse battery")
	client, secret := env.createClient(t, []string{"openid", "email", "profile"})
	cookie := env.login(t, "ada@example.com", "correct horse battery")

	code, state := env.authorize(t, cookie,
		authorizeQuery(client.ClientID, "openid email", "af0ifjsldkj", "n-0S6_WzA2Mj"))
	assert.Equal(t, "af0ifjsldkj", state, "state must be echoed verbatim")

	w := env.postForm("/token", codeGrantForm(client.ClientID, secret, code))
	resp := parseTokenResponse(t, w)

	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEmpty(t, resp.IDToken, "openid scope must yield an id_token")
	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)
	assert.Equal(t, "openid email", resp.Scope)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", w.Header().Get("Pragma"))

	uw := env.userinfo(t, resp.AccessToken)
	require.Equal(t, http.StatusOK, uw.Code)

	var claims map[string]any
	require.NoError(t, json.Unmarshal(uw.Body.Bytes(), &claims))
	assert.Equal(t, user.ID, claims["sub"])
	assert.Equal(t, "ada@example.com", claims["email"])
	assert.Equal(t, false, claims["email_verified"])
	_, hasName := claims["name"]
	assert.False(t, hasName, "profile claims need the profile scope")
}

// TestPurpose: Validates an unauthenticated authorize request detours to login and resumes after it.
// Scope: Protocol Test
// Security: The parked request survives the login session rotation and is single use
// Expected: Detour to /login, resume issues the code with original state, second resume fails.
func TestProtocol_Authorize_LoginDetour(t *testing.T) {
	env := newTestEnv(t)

	env.registerUser(t, "ada@example.com", "ada", "correct horse battery")
	client, secret := env.createClient(t, []string{"openid", "email"})

	// No cookie: the endpoint parks the request under a fresh anonymous
	// session and redirects to login.
	q := authorizeQuery(client.ClientID, "openid", "detour-state", "n-0S6_WzA2Mj")
	w := env.do(httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?next=%2Fauthorize%2Fresume", w.Header().Get("Location"))

	anonCookie := responseCookie(w, testCookieName)
	require.NotNil(t, anonCookie, "detour must mint an anonymous session")

	// Login with the anonymous cookie. The session rotates and the parked
	// request migrates to the new session.
	lw := env.postJSON(t, "/api/login",
		LoginRequest{Email: "ada@example.com", Password: "correct horse battery"}, anonCookie)
	require.Equal(t, http.StatusOK, lw.Code, "login failed: %s", lw.Body.String())

	var loginResp map[string]any
	require.NoError(t, json.Unmarshal(lw.Body.Bytes(), &loginResp))
	assert.Equal(t, "/authorize/resume", loginResp["next"])

	authedCookie := responseCookie(lw, testCookieName)
	require.NotNil(t, authedCookie)
	assert.NotEqual(t, anonCookie.Value, authedCookie.Value, "login must rotate the session ID")

	// Resume completes the original request.
	rreq := httptest.NewRequest(http.MethodGet, "/authorize/resume", nil)
	rreq.AddCookie(authedCookie)
	rw := env.do(rreq)
	require.Equal(t, http.StatusFound, rw.Code, "resume failed: %s", rw.Body.String())

	loc, err := url.Parse(rw.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	assert.Equal(t, "detour-state", loc.Query().Get("state"))

	resp := parseTokenResponse(t, env.postForm("/token", codeGrantForm(client.ClientID, secret, code)))
	assert.NotEmpty(t, resp.IDToken)

	// The parked request was consumed; a second resume has nothing left.
	rreq2 := httptest.NewRequest(http.MethodGet, "/authorize/resume", nil)
	rreq2.AddCookie(authedCookie)
	rw2 := env.do(rreq2)
	assert.Equal(t, http.StatusBadRequest, rw2.Code)
	assert.Equal(t, "session_lost", oauthErrorCode(t, rw2))
}

// TestPurpose: Validates an unregistered redirect URI renders a local error and never redirects.
// Scope: Protocol Test
// Security: Open redirect prevention (RFC 6749 Section 4.1.2.1)
// Expected: 400 with invalid_redirect_uri in the body, no Location header.
func TestProtocol_Authorize_UnregisteredRedirectURI(t *testing.T) {
	env := newTestEnv(t)
	client, _ := env.createClient(t, []string{"openid", "email"})

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", client.ClientID)
	q.Set("redirect_uri", "https://attacker.example.net/steal")
	q.Set("scope", "email")
	q.Set("state", "xyz")

	w := env.do(httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Header().Get("Location"), "error must not be delivered to an unproven URI")
	assert.Equal(t, "invalid_redirect_uri", oauthErrorCode(t, w))
}

// TestPurpose: Validates an unknown client_id fails locally with invalid_client.
// Scope: Protocol Test
// Security: Client identity is checked before any redirect is trusted
// Expected: 401 invalid_client, no redirect.
func TestProtocol_Authorize_UnknownClient(t *testing.T) {
	env := newTestEnv(t)

	q := authorizeQuery("no-such-client", "email", "xyz", "")
	w := env.do(httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Header().Get("Location"))
	assert.Equal(t, "invalid_client", oauthErrorCode(t, w))
}

// TestPurpose: Validates the openid scope without a nonce is rejected before the redirect URI is proven.
// Scope: Protocol Test
// Security: ID tokens must be bindable to their request (OIDC Core Section 3.1.2.1)
// Expected: 400 invalid_request rendered locally.
func TestProtocol_Authorize_OpenIDWithoutNonce(t *testing.T) {
	env := newTestEnv(t)
	client, _ := env.createClient(t, []string{"openid", "email"})

	q := authorizeQuery(client.ClientID, "openid", "xyz", "")
	w := env.do(httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Header().Get("Location"))
	assert.Equal(t, "invalid_request", oauthErrorCode(t, w))
}

// TestPurpose: Validates scope errors are delivered by redirect once the URI is proven registered.
// Scope: Protocol Test
// Security: Error delivery channel rule (RFC 6749 Section 4.1.2.1)
// Expected: 302 to the registered URI with error=invalid_scope and the state echoed.
func TestProtocol_Authorize_InvalidScopeRedirects(t *testing.T) {
	env := newTestEnv(t)
	client, _ := env.createClient(t, []string{"openid"})

	// email is not registered for this client; nothing survives the
	// intersection.
	q := authorizeQuery(client.ClientID, "email", "scope-state", "")
	w := env.do(httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil))
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(loc.String(), testCallback))
	assert.Equal(t, "invalid_scope", loc.Query().Get("error"))
	assert.Equal(t, "scope-state", loc.Query().Get("state"))
	assert.Empty(t, loc.Query().Get("code"))
}

// TestPurpose: Validates an unknown PKCE transform is rejected at authorize time by redirect.
// Scope: Protocol Test
// Security: Unsupported transforms must fail before the login detour (RFC 7636 Section 4.3)
// Expected: 302 with error=invalid_request.
func TestProtocol_Authorize_UnsupportedChallengeMethod(t *testing.T) {
	env := newTestEnv(t)
	client, _ := env.createClient(t, []string{"openid", "email"})

	q := authorizeQuery(client.ClientID, "email", "pkce-state", "")
	q.Set("code_challenge", pkceChallenge)
	q.Set("code_challenge_method", "S512")

	w := env.do(httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil))
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "invalid_request", loc.Query().Get("error"))
	assert.Equal(t, "pkce-state", loc.Query().Get("state"))
}

// =============================================================================
// TOKEN ENDPOINT
// =============================================================================

// TestPurpose: Validates that replaying a spent code fails and revokes the refresh token it minted.
// Scope: Protocol Test
// Security: Code replay containment (RFC 6749 Section 4.1.2)
// Expected: Replay returns invalid_grant and the first exchange's refresh token stops rotating.
func TestProtocol_Token_CodeReplayRevokesRefreshToken(t *testing.T) {
	env := newTestEnv(t)

	env.registerUser(t, "ada@example.com", "ada", "correct horse battery")
	client, secret := env.createClient(t, []string{"openid", "email"})
	cookie := env.login(t, "ada@example.com", "correct horse battery")
	code, _ := env.authorize(t, cookie, authorizeQuery(client.ClientID, "email", "s1", ""))

	form := codeGrantForm(client.ClientID, secret, code)
	first := parseTokenResponse(t, env.postForm("/token", form))
	require.NotEmpty(t, first.RefreshToken)

	// Same code again: rejected, and the successor refresh token dies.
	replay := env.postForm("/token", form)
	assert.Equal(t, http.StatusBadRequest, replay.Code)
	assert.Equal(t, "invalid_grant", oauthErrorCode(t, replay))

	rw := env.postForm("/token/refresh", refreshGrantForm(first.RefreshToken))
	assert.Equal(t, http.StatusBadRequest, rw.Code)
	assert.Equal(t, "invalid_grant", oauthErrorCode(t, rw),
		"refresh token minted by the replayed code must be revoked")
}

// TestPurpose: Validates S256 PKCE with the RFC reference vectors, including that failed proofs do not burn the code.
// Scope: Protocol Test
// Security: Code interception defense (RFC 7636 Section 4.6)
// Expected: Missing verifier is invalid_request, wrong verifier is invalid_grant, correct verifier succeeds.
func TestProtocol_Token_PKCES256(t *testing.T) {
	env := newTestEnv(t)

	env.registerUser(t, "ada@example.com", "ada", "correct horse battery")
	client, secret := env.createClient(t, []string{"openid", "email"})
	cookie := env.login(t, "ada@example.com", "correct horse battery")

	q := authorizeQuery(client.ClientID, "email", "pkce", "")
	q.Set("code_challenge", pkceChallenge)
	q.Set("code_challenge_method", "S256")
	code, _ := env.authorize(t, cookie, q)

	// Missing verifier.
	w := env.postForm("/token", codeGrantForm(client.ClientID, secret, code))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", oauthErrorCode(t, w))

	// Wrong verifier. The proof runs before the code is claimed, so the
	// grant is still live afterwards.
	form := codeGrantForm(client.ClientID, secret, code)
	form.Set("code_verifier", "wrong-verifier-wrong-verifier-wrong-verifier")
	w = env.postForm("/token", form)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_grant", oauthErrorCode(t, w))

	// Correct verifier.
	form.Set("code_verifier", pkceVerifier)
	resp := parseTokenResponse(t, env.postForm("/token", form))
	assert.NotEmpty(t, resp.AccessToken)
}

// TestPurpose: Validates the plain PKCE transform compares the verifier directly.
// Scope: Protocol Test
// Security: RFC 7636 Section 4.2 transform support
// Expected: Exchange succeeds when the verifier equals the challenge.
func TestProtocol_Token_PKCEPlain(t *testing.T) {
	env := newTestEnv(t)

	env.registerUser(t, "ada@example.com", "ada", "correct horse battery")
	client, secret := env.createClient(t, []string{"openid", "email"})
	cookie := env.login(t, "ada@example.com", "correct horse battery")

	q := authorizeQuery(client.ClientID, "email", "", "")
	q.Set("code_challenge", pkceVerifier)
	q.Set("code_challenge_method", "plain")
	code, _ := env.authorize(t, cookie, q)

	form := codeGrantForm(client.ClientID, secret, code)
	form.Set("code_verifier", pkceVerifier)
	resp := parseTokenResponse(t, env.postForm("/token", form))
	assert.NotEmpty(t, resp.AccessToken)
}

// TestPurpose: Validates client authentication failures at the token endpoint.
// Scope: Protocol Test
// Security: Unknown client and bad secret must be indistinguishable (RFC 6749 Section 2.3.1)
// Expected: Both fail with 401 invalid_client and identical error codes.
func TestProtocol_Token_BadClientCredentials(t *testing.T) {
	env := newTestEnv(t)

	env.registerUser(t, "ada@example.com", "ada", "correct horse battery")
	client, _ := env.createClient(t, []string{"openid", "email"})
	cookie := env.login(t, "ada@example.com", "correct horse battery")
	code, _ := env.authorize(t, cookie, authorizeQuery(client.ClientID, "email", "", ""))

	wrongSecret := env.postForm("/token", codeGrantForm(client.ClientID, "not-the-secret", code))
	assert.Equal(t, http.StatusUnauthorized, wrongSecret.Code)
	assert.Equal(t, "invalid_client", oauthErrorCode(t, wrongSecret))

	unknownClient := env.postForm("/token", codeGrantForm("no-such-client", "whatever", code))
	assert.Equal(t, http.StatusUnauthorized, unknownClient.Code)
	assert.Equal(t, oauthErrorCode(t, wrongSecret), oauthErrorCode(t, unknownClient))
}

// TestPurpose: Validates the exchange rejects a redirect_uri differing from the one bound at authorization.
// Scope: Protocol Test
// Security: Code binding re-check (RFC 6749 Section 4.1.3)
// Expected: 400 invalid_grant.
func TestProtocol_Token_RedirectURIMismatch(t *testing.T) {
	env := newTestEnv(t)

	env.registerUser(t, "ada@example.com", "ada", "correct horse battery")
	client, secret := env.createClient(t, []string{"openid", "email"})
	cookie := env.login(t, "ada@example.com", "correct horse battery")
	code, _ := env.authorize(t, cookie, authorizeQuery(client.ClientID, "email", "", ""))

	form := codeGrantForm(client.ClientID, secret, code)
	form.Set("redirect_uri", "https://app.example.com/other")
	w := env.postForm("/token", form)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_grant", oauthErrorCode(t, w))
}

// TestPurpose: Validates a code evicted by its store TTL no longer exchanges.
// Scope: Protocol Test
// Security: Grant lifetime enforcement (RFC 6749 Section 4.1.2 recommends short code lifetimes)
// Expected: 400 invalid_grant after the TTL elapses.
func TestProtocol_Token_ExpiredCode(t *testing.T) {
	env := newTestEnv(t)

	env.registerUser(t, "ada@example.com", "ada", "correct horse battery")
	client, secret := env.createClient(t, []string{"openid", "email"})
	cookie := env.login(t, "ada@example.com", "correct horse battery")
	code, _ := env.authorize(t, cookie, authorizeQuery(client.ClientID, "email", "", ""))

	env.mr.FastForward(2 * time.Minute)

	w := env.postForm("/token", codeGrantForm(client.ClientID, secret, code))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_grant", oauthErrorCode(t, w))
}

// TestPurpose: Validates unsupported grant types are rejected with the standard error code.
// Scope: Protocol Test
// Security: Grant type allow-list (RFC 6749 Section 5.2)
// Expected: 400 unsupported_grant_type.
func TestProtocol_Token_UnsupportedGrantType(t *testing.T) {
	env := newTestEnv(t)

	f := url.Values{}
	f.Set("grant_type", "password")
	f.Set("username", "ada@example.com")
	f.Set("password", "correct horse battery")

	w := env.postForm("/token", f)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "unsupported_grant_type", oauthErrorCode(t, w))
}

// TestPurpose: Validates an authorization_code request without a code is malformed, not a bad grant.
// Scope: Protocol Test
// Security: Required-parameter check (RFC 6749 Section 4.1.3) before any store lookup
// Expected: 400 invalid_request.
func TestProtocol_Token_MissingCode(t *testing.T) {
	env := newTestEnv(t)

	client, secret := env.createClient(t, []string{"openid", "email"})

	w := env.postForm("/token", codeGrantForm(client.ClientID, secret, ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", oauthErrorCode(t, w))
}

// TestPurpose: Validates refresh rotation mints a fresh pair and retires the presented token.
// Scope: Protocol Test
// Security: Single-use refresh tokens bound rotation chains (RFC 6749 Section 6)
// Expected: New pair differs, the old token stops working, the new one rotates again.
func TestProtocol_RefreshRotation(t *testing.T) {
	env := newTestEnv(t)
	first := env.issueTokens(t, "openid email")

	w := env.postForm("/token", refreshGrantForm(first.RefreshToken))
	second := parseTokenResponse(t, w)
	assert.NotEmpty(t, second.AccessToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, first.Scope, second.Scope, "rotation must preserve the bound scopes")
	assert.Empty(t, second.IDToken, "id_token is not re-issued on refresh by default")

	// The spent token is gone.
	spent := env.postForm("/token/refresh", refreshGrantForm(first.RefreshToken))
	assert.Equal(t, http.StatusBadRequest, spent.Code)
	assert.Equal(t, "invalid_grant", oauthErrorCode(t, spent))

	// The successor keeps the chain alive via the dedicated endpoint too.
	third := parseTokenResponse(t, env.postForm("/token/refresh", refreshGrantForm(second.RefreshToken)))
	assert.NotEqual(t, second.RefreshToken, third.RefreshToken)
}

// =============================================================================
// RESOURCE ENDPOINT & REVOCATION
// =============================================================================

// TestPurpose: Validates revocation takes effect immediately and reports token_revoked on later use.
// Scope: Protocol Test
// Security: Blacklist visibility (revoked before expired, RFC 7009 semantics)
// Expected: userinfo 200 before logout, logout 204, userinfo 401 token_revoked after.
func TestProtocol_Revocation(t *testing.T) {
	env := newTestEnv(t)
	tokens := env.issueTokens(t, "openid email")

	require.Equal(t, http.StatusOK, env.userinfo(t, tokens.AccessToken).Code)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	w := env.do(req)
	require.Equal(t, http.StatusNoContent, w.Code)

	uw := env.userinfo(t, tokens.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, uw.Code)
	assert.Equal(t, "token_revoked", oauthErrorCode(t, uw))
}

// TestPurpose: Validates revocation without a bearer token is rejected.
// Scope: Protocol Test
// Security: Revocation must name a verified token
// Expected: 400 missing_token.
func TestProtocol_Revocation_MissingToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodPost, "/logout", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_token", oauthErrorCode(t, w))
}

// TestPurpose: Validates userinfo serves only the claims the token's scopes unlock.
// Scope: Protocol Test
// Security: Scope-gated claim release (OIDC Core Section 5.4)
// Expected: openid-only tokens get sub alone; adding email and profile unlocks those claim groups.
func TestProtocol_UserInfo_ScopeFiltering(t *testing.T) {
	env := newTestEnv(t)

	user := env.registerUser(t, "ada@example.com", "ada", "correct horse battery")
	client, secret := env.createClient(t, []string{"openid", "email", "profile"})
	cookie := env.login(t, "ada@example.com", "correct horse battery")

	// openid only.
	code, _ := env.authorize(t, cookie, authorizeQuery(client.ClientID, "openid", "", "n-1"))
	bare := parseTokenResponse(t, env.postForm("/token", codeGrantForm(client.ClientID, secret, code)))

	w := env.userinfo(t, bare.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	var claims map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claims))
	assert.Equal(t, user.ID, claims["sub"])
	_, hasEmail := claims["email"]
	assert.False(t, hasEmail)
	_, hasGivenName := claims["given_name"]
	assert.False(t, hasGivenName)

	// Full scope set.
	code, _ = env.authorize(t, cookie, authorizeQuery(client.ClientID, "openid email profile", "", "n-2"))
	full := parseTokenResponse(t, env.postForm("/token", codeGrantForm(client.ClientID, secret, code)))

	w = env.userinfo(t, full.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	claims = map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claims))
	assert.Equal(t, "ada@example.com", claims["email"])
	assert.Equal(t, "ada", claims["name"])
	assert.Equal(t, "Ada", claims["given_name"])
	assert.Equal(t, "Lovelace", claims["family_name"])
}

// TestPurpose: Validates bearer parsing and verification failures map to distinct 401 error codes.
// Scope: Protocol Test
// Security: RFC 6750 error reporting without leaking verification internals
// Expected: Absent header is missing_token, garbage is invalid_token, expired is token_expired.
func TestProtocol_UserInfo_BearerErrors(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/userinfo", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing_token", oauthErrorCode(t, w))

	req := httptest.NewRequest(http.MethodGet, "/userinfo", nil)
	req.Header.Set("Authorization", "Basic YWRhOnNlY3JldA==")
	w = env.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing_token", oauthErrorCode(t, w))

	w = env.userinfo(t, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_token", oauthErrorCode(t, w))

	expired, err := env.signer.SignAccessToken("user-1", "client-1", []string{"openid"}, -time.Minute)
	require.NoError(t, err)
	w = env.userinfo(t, expired)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "token_expired", oauthErrorCode(t, w))
}

// =============================================================================
// EMAIL VERIFICATION & HEALTH
// =============================================================================

// TestPurpose: Validates the mailed verification link verifies exactly once and flips the userinfo claim.
// Scope: Protocol Test
// Security: Single-use verification tokens (a forwarded mail cannot re-verify)
// Expected: First GET succeeds, second returns 404, email_verified becomes true.
func TestProtocol_VerifyEmail(t *testing.T) {
	env := newTestEnv(t)

	w := env.postJSON(t, "/api/register", RegisterRequest{
		Email:    "ada@example.com",
		Username: "ada",
		Password: "correct horse battery",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, "register failed: %s", w.Body.String())

	verificationToken := env.mailer.tokens["ada@example.com"]
	require.NotEmpty(t, verificationToken, "registration must mail a verification token")

	vw := env.do(httptest.NewRequest(http.MethodGet, "/verify-email/"+verificationToken, nil))
	assert.Equal(t, http.StatusOK, vw.Code)

	again := env.do(httptest.NewRequest(http.MethodGet, "/verify-email/"+verificationToken, nil))
	assert.Equal(t, http.StatusNotFound, again.Code, "verification tokens are single use")

	cookie := env.login(t, "ada@example.com", "correct horse battery")
	meReq := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	meReq.AddCookie(cookie)
	mw := env.do(meReq)
	require.Equal(t, http.StatusOK, mw.Code)

	var me map[string]any
	require.NoError(t, json.Unmarshal(mw.Body.Bytes(), &me))
	assert.Equal(t, true, me["email_verified"])
}

// TestPurpose: Validates the health endpoint reports both backing stores.
// Scope: Protocol Test
// Security: Liveness surface carries no sensitive detail
// Expected: 200 healthy with database and grant_store ok.
func TestProtocol_HealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "ok", health.Services["database"])
	assert.Equal(t, "ok", health.Services["grant_store"])
}
