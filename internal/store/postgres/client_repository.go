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

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/veridian/veridian/internal/oauth2"
)

const (
	insertClientSQL = `
		INSERT INTO oauth2_clients (id, client_id, client_secret_hash, client_name,
			redirect_uris, scopes, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	selectClientSQL = `
		SELECT id, client_id, client_secret_hash, client_name,
			redirect_uris, scopes, is_active, created_at, updated_at
		FROM oauth2_clients
		WHERE client_id = $1 AND deleted_at IS NULL`

	listClientsSQL = `
		SELECT id, client_id, client_secret_hash, client_name,
			redirect_uris, scopes, is_active, created_at, updated_at
		FROM oauth2_clients
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	updateClientSQL = `
		UPDATE oauth2_clients SET client_name = $2, client_secret_hash = $3,
			redirect_uris = $4, scopes = $5, is_active = $6, updated_at = NOW()
		WHERE client_id = $1 AND deleted_at IS NULL`

	softDeleteClientSQL = `
		UPDATE oauth2_clients SET deleted_at = $2
		WHERE client_id = $1 AND deleted_at IS NULL`
)

// ClientRepository implements oauth2.ClientRepository. Clients are the
// durable half of the protocol state: registrations survive restarts
// while codes and tokens live in the grant store. URI and scope lists
// are stored as JSONB.
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// encodeClientLists marshals the JSONB list columns.
func encodeClientLists(client *oauth2.Client) (redirectURIs, scopes []byte, err error) {
	redirectURIs, err = json.Marshal(client.RedirectURIs)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal redirect URIs: %w", err)
	}
	scopes, err = json.Marshal(client.Scopes)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal scopes: %w", err)
	}
	return redirectURIs, scopes, nil
}

// scanClient maps one oauth2_clients row, decoding the JSONB lists.
func scanClient(row pgx.Row) (*oauth2.Client, error) {
	var client oauth2.Client
	var redirectURIsJSON, scopesJSON []byte

	err := row.Scan(
		&client.ID, &client.ClientID, &client.SecretHash, &client.Name,
		&redirectURIsJSON, &scopesJSON, &client.IsActive,
		&client.CreatedAt, &client.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth2.ErrClientNotFound
		}
		return nil, fmt.Errorf("scan client: %w", err)
	}

	if err := json.Unmarshal(redirectURIsJSON, &client.RedirectURIs); err != nil {
		return nil, fmt.Errorf("unmarshal redirect URIs: %w", err)
	}
	if err := json.Unmarshal(scopesJSON, &client.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	return &client, nil
}

// Create inserts a client registration.
func (r *ClientRepository) Create(client *oauth2.Client) error {
	redirectURIs, scopes, err := encodeClientLists(client)
	if err != nil {
		return err
	}

	_, err = r.db.pool.Exec(context.Background(), insertClientSQL,
		client.ID, client.ClientID, client.SecretHash, client.Name,
		redirectURIs, scopes, client.IsActive, client.CreatedAt, client.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

// GetByClientID retrieves a client by its public client_id.
func (r *ClientRepository) GetByClientID(clientID string) (*oauth2.Client, error) {
	row := r.db.pool.QueryRow(context.Background(), selectClientSQL, clientID)
	return scanClient(row)
}

// Update persists registration changes.
func (r *ClientRepository) Update(client *oauth2.Client) error {
	redirectURIs, scopes, err := encodeClientLists(client)
	if err != nil {
		return err
	}

	tag, err := r.db.pool.Exec(context.Background(), updateClientSQL,
		client.ClientID, client.Name, client.SecretHash,
		redirectURIs, scopes, client.IsActive,
	)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return oauth2.ErrClientNotFound
	}
	return nil
}

// Delete soft-deletes a client. Outstanding grants in the grant store
// lapse on their own TTL; new authorize and token requests are denied
// as soon as the row is gone.
func (r *ClientRepository) Delete(clientID string) error {
	tag, err := r.db.pool.Exec(context.Background(), softDeleteClientSQL,
		clientID, time.Now())
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return oauth2.ErrClientNotFound
	}
	return nil
}

// List retrieves registered clients, newest first
func (r *ClientRepository) List(limit, offset int) ([]*oauth2.Client, error) {
	rows, err := r.db.pool.Query(context.Background(), listClientsSQL, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()

	var clients []*oauth2.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return clients, nil
}
