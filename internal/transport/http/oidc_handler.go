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
	"net/http"
)

// The discovery document and key set only change on redeploy, so relying
// parties and CDNs may cache them for an hour.
const protocolDocCacheControl = "public, max-age=3600"

// Discovery serves the OpenID Provider metadata (OIDC Discovery Section 4).
// Every endpoint URL in the document derives from the configured issuer.
// @Summary OIDC Discovery
// @Description Returns OpenID Connect configuration metadata
// @Tags OIDC
// @Produce json
// @Success 200 {object} oidc.DiscoveryMetadata
// @Router /.well-known/openid-configuration [get]
func (h *Handler) Discovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", protocolDocCacheControl)
	respondJSON(w, http.StatusOK, h.oidcService.GetDiscoveryMetadata())
}

// JWKS serves the published key set (RFC 7517). Under symmetric signing
// the set is empty; the endpoint exists so relying parties probing it
// get a well-formed document rather than a 404.
// @Summary JWKS
// @Description Returns the published key set
// @Tags OIDC
// @Produce json
// @Success 200 {object} oidc.JWKS
// @Router /jwks [get]
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	// RFC 7517 Section 8.1 suggests application/jwk-set+json, but OIDC
	// clients overwhelmingly expect application/json.
	w.Header().Set("Cache-Control", protocolDocCacheControl)
	respondJSON(w, http.StatusOK, h.oidcService.GetJWKS())
}
