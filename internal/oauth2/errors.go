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

package oauth2

import "fmt"

// Error represents a protocol-level OAuth2 error (RFC 6749).
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
	State       string `json:"state,omitempty"`

	// redirectable marks errors raised after the redirect URI was proven
	// registered. Only those may be delivered via redirect (RFC 6749
	// Section 4.1.2.1); earlier failures must render locally so an
	// attacker-supplied URI never receives a response.
	redirectable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("oauth2 error: %s (%s)", e.Code, e.Description)
}

// OAuth2 / OIDC Standard Error Codes
const (
	ErrInvalidRequest          = "invalid_request"
	ErrInvalidClient           = "invalid_client"
	ErrInvalidGrant            = "invalid_grant"
	ErrUnauthorizedClient      = "unauthorized_client"
	ErrUnsupportedGrantType    = "unsupported_grant_type"
	ErrUnsupportedResponseType = "unsupported_response_type"
	ErrInvalidScope            = "invalid_scope"
	ErrInvalidRedirectURI      = "invalid_redirect_uri"
	ErrServerError             = "server_error"
	ErrTemporarilyUnavailable  = "temporarily_unavailable"
)

// Bearer token and session error codes used by the resource and
// authorization endpoints.
const (
	ErrMissingToken   = "missing_token"
	ErrTokenExpired   = "token_expired"
	ErrTokenRevoked   = "token_revoked"
	ErrInvalidToken   = "invalid_token"
	ErrUserNotFound   = "user_not_found"
	ErrSessionLost    = "session_lost"
	ErrSessionExpired = "session_expired"
)

// NewError creates a new protocol error
func NewError(code, description string) *Error {
	return &Error{
		Code:        code,
		Description: description,
	}
}

// WithState attaches the request's state parameter for echo in an error
// redirect. State only ever travels with redirect-delivered errors, so
// calling this also marks the error redirectable.
func (e *Error) WithState(state string) *Error {
	e.State = state
	e.redirectable = true
	return e
}

// Redirectable reports whether the error may be delivered to the
// client's redirect URI.
func (e *Error) Redirectable() bool {
	return e.redirectable
}
