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
	"net/url"
	"strings"
)

// NormalizeRedirectURI canonicalizes a redirect URI for comparison.
// Scheme and host are lowercased and trailing slashes are stripped from
// the path, so "HTTPS://App.example.com/cb/" and "https://app.example.com/cb"
// compare equal. Port, query, and fragment are preserved as-is. Unparseable
// input is returned unchanged so comparison against registered values fails
// closed.
func NormalizeRedirectURI(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// RedirectURIMatches reports whether a presented redirect URI matches a
// registered one under normalized comparison.
func RedirectURIMatches(registered, presented string) bool {
	return NormalizeRedirectURI(registered) == NormalizeRedirectURI(presented)
}
