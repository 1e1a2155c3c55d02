package oidc

import (
	"fmt"
	"time"

	"github.com/veridian/veridian/internal/token"
)

// Service handles OpenID Connect specific logic: discovery metadata,
// the key set document, and ID token issuance.
type Service struct {
	issuer          string
	signer          *token.Signer
	idTokenLifetime time.Duration
}

// DiscoveryMetadata represents OIDC Discovery metadata (OIDC Discovery Section 3)
type DiscoveryMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}

// JWK represents a JSON Web Key (RFC 7517)
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKS represents a JSON Web Key Set (RFC 7517)
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// NewService creates a new OIDC service. The issuer must be the absolute
// base URL this server is reachable under; every advertised endpoint and
// every iss claim derives from it.
func NewService(issuer string, signer *token.Signer, idTokenLifetime time.Duration) *Service {
	return &Service{
		issuer:          issuer,
		signer:          signer,
		idTokenLifetime: idTokenLifetime,
	}
}

// Issuer returns the absolute base URL of this server.
func (s *Service) Issuer() string {
	return s.issuer
}

// GetDiscoveryMetadata returns the OIDC configuration (OIDC Discovery Section 4)
func (s *Service) GetDiscoveryMetadata() DiscoveryMetadata {
	return DiscoveryMetadata{
		Issuer:                           s.issuer,
		AuthorizationEndpoint:            fmt.Sprintf("%s/authorize", s.issuer),
		TokenEndpoint:                    fmt.Sprintf("%s/token", s.issuer),
		UserInfoEndpoint:                 fmt.Sprintf("%s/userinfo", s.issuer),
		JWKSURI:                          fmt.Sprintf("%s/jwks", s.issuer),
		ResponseTypesSupported:           []string{"code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"HS256"},
		ScopesSupported:                  []string{"openid", "email", "profile"},
		ClaimsSupported: []string{
			"sub", "email", "email_verified", "name", "given_name", "family_name",
		},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post"},
		CodeChallengeMethodsSupported:     []string{"plain", "S256"},
	}
}

// GetJWKS returns the published key set (RFC 7517). Signing is symmetric
// (HS256), so no key material is exported and the set is always empty.
// The endpoint still exists so RPs probing jwks_uri get a valid document.
func (s *Service) GetJWKS() JWKS {
	return JWKS{Keys: []JWK{}}
}

// GenerateIDToken generates a signed id_token JWT (OIDC Core Section 2).
// The sub claim is the stable user identifier within this issuer.
func (s *Service) GenerateIDToken(userID, clientID, nonce string) (string, error) {
	return s.signer.SignIDToken(s.issuer, userID, clientID, nonce, s.idTokenLifetime)
}
