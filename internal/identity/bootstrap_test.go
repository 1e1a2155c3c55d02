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
	"testing"

	"github.com/veridian/veridian/internal/audit"
)

// TestPurpose: Validates admin provisioning reads the documented BOOTSTRAP_ADMIN_* env names.
// Scope: Unit Test
// Security: First-admin provisioning must be driven only by operator configuration
// Expected: With the env set, one pre-verified admin exists with the given password and no mail is sent; a rerun is a no-op; without the env nothing is created.
// Test Case ID: IDN-08
func TestIdentity_Bootstrap_EnvDriven(t *testing.T) {
	s, repo, mailer := newTestIdentity()
	b := NewBootstrapService(s, audit.NewSlogLogger())
	ctx := context.Background()

	// Without the email env var the whole step is skipped.
	if err := b.Bootstrap(ctx); err != nil {
		t.Fatalf("no-op bootstrap failed: %v", err)
	}
	if len(repo.users) != 0 {
		t.Fatalf("bootstrap without env created %d users", len(repo.users))
	}

	t.Setenv(EnvBootstrapAdminEmail, "root@example.com")
	t.Setenv(EnvBootstrapAdminPassword, "InitialAdminPassword1")

	if err := b.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	admin, err := s.GetByEmail(ctx, "root@example.com")
	if err != nil {
		t.Fatalf("admin not provisioned: %v", err)
	}
	if !admin.EmailVerified {
		t.Error("bootstrap admin must be pre-verified")
	}
	if mailer.Sent != 0 {
		t.Errorf("bootstrap sent %d verification mails, want 0", mailer.Sent)
	}
	if _, err := s.Authenticate(ctx, "root@example.com", "InitialAdminPassword1"); err != nil {
		t.Errorf("admin password rejected: %v", err)
	}

	// Rerun with the same env must not mint a second account.
	if err := b.Bootstrap(ctx); err != nil {
		t.Fatalf("repeat bootstrap failed: %v", err)
	}
	if len(repo.users) != 1 {
		t.Errorf("repeat bootstrap left %d users, want 1", len(repo.users))
	}
}
