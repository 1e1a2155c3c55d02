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

// Package id provides identifier generation for domain entities.
//
// All entity identifiers are UUIDv7: time-ordered, so index locality in
// Postgres stays good, and globally unique without coordination.
package id

import "github.com/google/uuid"

// NewUUIDv7 returns a new time-ordered UUID as a string.
// It panics only if the system entropy source is unavailable.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
