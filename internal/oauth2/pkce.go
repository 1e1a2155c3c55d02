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

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCE code challenge methods (RFC 7636 Section 4.2)
const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

// ValidatePKCE verifies a presented code_verifier against the challenge
// bound to the authorization code (RFC 7636 Section 4.6). A nil return
// means the proof is valid or was never required for this grant.
//
// The error code distinguishes a missing verifier (invalid_request) from
// a failed proof (invalid_grant) so the token endpoint can report each
// per RFC 7636 Section 4.4.1.
func ValidatePKCE(challenge, method, verifier string) *Error {
	// No challenge bound at authorization time means the client did not
	// opt in to PKCE for this grant.
	if challenge == "" {
		return nil
	}

	if verifier == "" {
		return NewError(ErrInvalidRequest, "code_verifier is required")
	}

	switch method {
	case PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		expected := base64.RawURLEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(expected), []byte(challenge)) != 1 {
			return NewError(ErrInvalidGrant, "code_verifier does not match code_challenge")
		}
	case PKCEMethodPlain, "":
		// RFC 7636 Section 4.3: the method defaults to plain when omitted.
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) != 1 {
			return NewError(ErrInvalidGrant, "code_verifier does not match code_challenge")
		}
	default:
		return NewError(ErrInvalidRequest, "unsupported code_challenge_method")
	}

	return nil
}
