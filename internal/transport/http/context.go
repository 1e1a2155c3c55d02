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

import "context"

// Struct-typed keys cannot collide with values stored by other
// packages sharing the same context.
type (
	authUserKey   struct{}
	webSessionKey struct{}
)

func withAuthUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, authUserKey{}, userID)
}

func withWebSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, webSessionKey{}, sessionID)
}

// AuthUserID returns the authenticated user ID resolved by the session
// middleware. Empty for unauthenticated and anonymous-session requests.
func AuthUserID(ctx context.Context) string {
	id, _ := ctx.Value(authUserKey{}).(string)
	return id
}

// WebSessionID returns the browser session ID, authenticated or not.
func WebSessionID(ctx context.Context) string {
	id, _ := ctx.Value(webSessionKey{}).(string)
	return id
}
