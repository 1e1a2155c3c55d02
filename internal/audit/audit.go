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

// Package audit emits an append-only trail of security-relevant events
// (logins, grants, revocations, account changes) through the process
// logger, one line per event, so the trail shares transport and retention
// with the rest of the logs.
package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Event types
const (
	TypeLoginSuccess    = "login_success"
	TypeLoginFailed     = "login_failed"
	TypeLogout          = "logout"
	TypeCodeIssued      = "code_issued"
	TypeCodeReplayed    = "code_replayed"
	TypeTokenIssued     = "token_issued"
	TypeTokenRefreshed  = "token_refreshed"
	TypeTokenRevoked    = "token_revoked"
	TypeClientCreated   = "client_created"
	TypeUserLocked      = "user_locked"
	TypeUserUnlocked    = "user_unlocked"
	TypeUserCreated     = "user_created"
	TypePasswordChanged = "password_changed"
	TypeEmailVerified   = "email_verified"
)

// Well-known metadata keys
const (
	AttrReason   = "reason"
	AttrAttempts = "attempts"
	AttrEmail    = "email"
	AttrClientID = "client_id"
	AttrScope    = "scope"
)

// ActorSystemBootstrap marks events produced by startup provisioning
// rather than a user.
const ActorSystemBootstrap = "system:bootstrap"

// redacted replaces metadata values whose keys match a sensitive pattern.
const redacted = "[REDACTED]"

// Event is a single attributable action. Type is one of the Type*
// constants; Metadata carries event-specific detail and is redacted
// before it reaches the log.
type Event struct {
	Type      string
	ActorID   string
	Resource  string
	Metadata  map[string]any
	Timestamp time.Time
	IPAddress string
	UserAgent string
}

// Logger records audit events. Implementations must tolerate a nil or
// canceled context; dropping an event is worse than logging it late.
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger writes events through the default slog logger.
type SlogLogger struct{}

func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// Log records one audit event at INFO. Empty IP and user agent fields
// are omitted rather than logged blank.
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	attrs := make([]slog.Attr, 0, 8)
	attrs = append(attrs,
		slog.String("component", "audit"),
		slog.String("audit_type", event.Type),
		slog.String("actor_id", event.ActorID),
		slog.String("resource", event.Resource),
		slog.Time("timestamp", ts),
	)
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Attr{Key: "metadata", Value: metadataValue(event.Metadata)})
	}

	slog.LogAttrs(ctx, slog.LevelInfo, "AUDIT_EVENT", attrs...)
}

// metadataValue builds the metadata group, masking values under keys
// that look credential-bearing.
func metadataValue(md map[string]any) slog.Value {
	kv := make([]slog.Attr, 0, len(md))
	for k, v := range md {
		if isSecret(k) {
			kv = append(kv, slog.String(k, redacted))
			continue
		}
		kv = append(kv, slog.Any(k, v))
	}
	return slog.GroupValue(kv...)
}

// sensitiveKeyParts matches by substring so derived names such as
// access_token and password_hash are caught along with the bare words.
var sensitiveKeyParts = []string{
	"password", "secret", "token", "key", "hash", "credential", "authorization",
}

func isSecret(key string) bool {
	key = strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}
