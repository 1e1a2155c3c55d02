package oidc

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/veridian/veridian/internal/token"
)

func newTestService(issuer string) *Service {
	signer := token.NewSigner([]byte("oidc-test-secret"), 0)
	return NewService(issuer, signer, 10*time.Minute)
}

func TestService_GenerateIDToken(t *testing.T) {
	issuer := "http://localhost:8080"
	s := newTestService(issuer)

	userID := "user-123"
	clientID := "client-789"
	nonce := "random-nonce"

	tokenString, err := s.GenerateIDToken(userID, clientID, nonce)
	if err != nil {
		t.Fatalf("failed to generate ID token: %v", err)
	}

	// Parse token to verify claims
	parsed, err := jwt.Parse(tokenString, func(tok *jwt.Token) (interface{}, error) {
		return []byte("oidc-test-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		t.Fatal("invalid token claims")
	}

	// Verify required claims
	if claims["iss"] != issuer {
		t.Errorf("expected iss %s, got %v", issuer, claims["iss"])
	}
	if claims["sub"] != userID {
		t.Errorf("expected sub %s, got %v", userID, claims["sub"])
	}
	if claims["aud"] != clientID {
		t.Errorf("expected aud %s, got %v", clientID, claims["aud"])
	}
	if claims["nonce"] != nonce {
		t.Errorf("expected nonce %s, got %v", nonce, claims["nonce"])
	}
	if _, ok := claims["iat"]; !ok {
		t.Error("missing iat claim")
	}
	if _, ok := claims["exp"]; !ok {
		t.Error("missing exp claim")
	}
}

func TestService_GetDiscoveryMetadata(t *testing.T) {
	issuer := "https://auth.veridian.dev"
	s := newTestService(issuer)

	meta := s.GetDiscoveryMetadata()

	if meta.Issuer != issuer {
		t.Errorf("expected issuer %s, got %s", issuer, meta.Issuer)
	}
	if meta.AuthorizationEndpoint != issuer+"/authorize" {
		t.Errorf("invalid authorization_endpoint: %s", meta.AuthorizationEndpoint)
	}
	if meta.TokenEndpoint != issuer+"/token" {
		t.Errorf("invalid token_endpoint: %s", meta.TokenEndpoint)
	}
	if meta.UserInfoEndpoint != issuer+"/userinfo" {
		t.Errorf("invalid userinfo_endpoint: %s", meta.UserInfoEndpoint)
	}
	if !strings.HasSuffix(meta.JWKSURI, "/jwks") {
		t.Errorf("invalid jwks_uri: %s", meta.JWKSURI)
	}
	if len(meta.ResponseTypesSupported) != 1 || meta.ResponseTypesSupported[0] != "code" {
		t.Error("only the code response type should be advertised")
	}
	if len(meta.IDTokenSigningAlgValuesSupported) == 0 || meta.IDTokenSigningAlgValuesSupported[0] != "HS256" {
		t.Error("HS256 should be the advertised signing algorithm")
	}
	if len(meta.ScopesSupported) != 3 {
		t.Errorf("expected openid, email, profile scopes, got %v", meta.ScopesSupported)
	}
	if len(meta.TokenEndpointAuthMethodsSupported) != 1 || meta.TokenEndpointAuthMethodsSupported[0] != "client_secret_post" {
		t.Errorf("expected client_secret_post auth method, got %v", meta.TokenEndpointAuthMethodsSupported)
	}
	if len(meta.CodeChallengeMethodsSupported) != 2 {
		t.Errorf("expected plain and S256 challenge methods, got %v", meta.CodeChallengeMethodsSupported)
	}
	for _, claim := range []string{"sub", "email", "email_verified", "name", "given_name", "family_name"} {
		found := false
		for _, c := range meta.ClaimsSupported {
			if c == claim {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("claims_supported missing %s", claim)
		}
	}
}

func TestService_GetJWKS(t *testing.T) {
	s := newTestService("http://localhost")

	jwks := s.GetJWKS()

	// Symmetric signing exports no keys, but the document must still be a
	// valid key set with an empty array, not null.
	if len(jwks.Keys) != 0 {
		t.Fatalf("expected 0 keys, got %d", len(jwks.Keys))
	}

	body, err := json.Marshal(jwks)
	if err != nil {
		t.Fatalf("failed to marshal JWKS: %v", err)
	}
	if string(body) != `{"keys":[]}` {
		t.Errorf(`expected {"keys":[]}, got %s`, body)
	}
}
