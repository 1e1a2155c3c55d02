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

package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/veridian/veridian/internal/audit"
	"github.com/veridian/veridian/internal/id"
)

const (
	EnvBootstrapAdminEmail    = "BOOTSTRAP_ADMIN_EMAIL"
	EnvBootstrapAdminPassword = "BOOTSTRAP_ADMIN_PASSWORD"
)

// BootstrapService provisions the initial admin account on first start
type BootstrapService struct {
	identityService *Service
	auditLogger     audit.Logger
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(identityService *Service, auditLogger audit.Logger) *BootstrapService {
	return &BootstrapService{
		identityService: identityService,
		auditLogger:     auditLogger,
	}
}

// Bootstrap checks for bootstrap configuration and executes it if
// necessary. The account is created pre-verified and bypasses the
// registration mail flow. Without the email env var this is a no-op;
// with it, an existing account under that email means the system is
// already bootstrapped.
func (s *BootstrapService) Bootstrap(ctx context.Context) error {
	email := os.Getenv(EnvBootstrapAdminEmail)
	if email == "" {
		return nil
	}

	if existing, err := s.identityService.repo.GetByEmail(email); err == nil && existing != nil {
		// Already bootstrapped, skip silently
		return nil
	}

	password := os.Getenv(EnvBootstrapAdminPassword)
	generated := false
	if password == "" {
		password = generateBootstrapPassword()
		generated = true
	}

	passwordHash, err := s.identityService.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap password: %w", err)
	}

	user := &User{
		ID:            id.NewUUIDv7(),
		Email:         email,
		Username:      usernameFromEmail(email),
		EmailVerified: true,
	}
	if err := s.identityService.repo.Create(user); err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}
	if err := s.identityService.repo.AddCredentials(&Credentials{UserID: user.ID, PasswordHash: passwordHash}); err != nil {
		return fmt.Errorf("failed to add bootstrap credentials: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserCreated,
		ActorID:  audit.ActorSystemBootstrap,
		Resource: "user",
		Metadata: map[string]any{audit.AttrEmail: email},
	})

	if generated {
		fmt.Printf("Bootstrapped initial admin %s with generated password: %s\n", email, password)
	} else {
		fmt.Printf("Bootstrapped initial admin: %s\n", email)
	}
	return nil
}

// usernameFromEmail derives a username from the email local part,
// keeping only characters the username rules allow.
func usernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	var b strings.Builder
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() < 3 {
		return "admin"
	}
	return b.String()
}

func generateBootstrapPassword() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
