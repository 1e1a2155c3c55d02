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

package oidc

import (
	"testing"
	"time"

	"github.com/veridian/veridian/internal/token"
)

func BenchmarkService_GenerateIDToken(b *testing.B) {
	signer := token.NewSigner([]byte("bench-secret-key-32-bytes-long!!"), 0)
	s := NewService("https://auth.veridian.dev", signer, 10*time.Minute)

	for _, nonce := range []struct{ name, value string }{
		{"no-nonce", ""},
		{"with-nonce", "nonce-abc"},
	} {
		b.Run(nonce.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := s.GenerateIDToken("user-123", "client-789", nonce.value); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
