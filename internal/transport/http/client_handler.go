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
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/veridian/veridian/internal/oauth2"
)

// RegisterClientRequest represents the data for registering a client application
type RegisterClientRequest struct {
	ClientName   string   `json:"client_name" binding:"required" example:"My Application"`
	RedirectURIs []string `json:"redirect_uris" binding:"required" example:"[\"http://localhost:3000/callback\"]"`
	Scopes       []string `json:"scopes" example:"[\"openid\", \"email\", \"profile\"]"`
}

// RegisterClientResponse represents the response after registering a client.
// The secret appears here and nowhere else; only its hash is stored.
type RegisterClientResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	ClientName   string `json:"client_name"`
}

// RegisterClient handles client application registration
// @Summary Register Client
// @Description Register a new OAuth2 client application
// @Tags OAuth2
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body RegisterClientRequest true "Client Data"
// @Success 201 {object} RegisterClientResponse
// @Failure 400 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /api/clients [post]
func (h *Handler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	var req RegisterClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	client, secret, err := h.oauth2Service.CreateClient(r.Context(), req.ClientName, req.RedirectURIs, req.Scopes)
	if err != nil {
		if oe, ok := err.(*oauth2.Error); ok && oe.Code == oauth2.ErrInvalidRequest {
			respondError(w, http.StatusBadRequest, oe.Description)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to register client")
		return
	}

	respondJSON(w, http.StatusCreated, RegisterClientResponse{
		ClientID:     client.ClientID,
		ClientSecret: secret,
		ClientName:   client.Name,
	})
}

// ClientSummary is the public view of a registration: no secret material.
type ClientSummary struct {
	ClientID     string    `json:"client_id"`
	ClientName   string    `json:"client_name"`
	RedirectURIs []string  `json:"redirect_uris"`
	Scopes       []string  `json:"scopes"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListClients returns registered client applications, newest first
// @Summary List Clients
// @Description List registered OAuth2 client applications
// @Tags OAuth2
// @Produce json
// @Security CookieAuth
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Page offset"
// @Success 200 {array} ClientSummary
// @Failure 500 {object} map[string]string
// @Router /api/clients [get]
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	clients, err := h.oauth2Service.ListClients(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list clients")
		return
	}

	out := make([]ClientSummary, 0, len(clients))
	for _, c := range clients {
		out = append(out, ClientSummary{
			ClientID:     c.ClientID,
			ClientName:   c.Name,
			RedirectURIs: c.RedirectURIs,
			Scopes:       c.Scopes,
			IsActive:     c.IsActive,
			CreatedAt:    c.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}
