package identity

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const (
	maxUsernameLen = 24
	suffixLen      = 4 // hex chars appended on collision
)

// deriveUsername builds the base login handle for a new account: the provider
// display name when present, otherwise the local part of the email, otherwise
// a fallback built from the auth user id.
func deriveUsername(displayName, email, authUserID string) string {
	if base := sanitizeUsername(displayName); base != "" {
		return base
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		if base := sanitizeUsername(email[:at]); base != "" {
			return base
		}
	}
	id := authUserID
	if len(id) > 8 {
		id = id[:8]
	}
	base := sanitizeUsername("user" + id)
	if base == "" {
		base = "user"
	}
	return base
}

// sanitizeUsername lowercases and strips everything outside [a-z0-9_.],
// mapping separators to underscores, then caps the length.
func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_.")
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	if len(out) > maxUsernameLen {
		out = out[:maxUsernameLen]
	}
	return out
}

// usernameWithSuffix appends a short random suffix, keeping the result within
// the length cap. Used to retry after a username collision.
func usernameWithSuffix(base string) string {
	buf := make([]byte, suffixLen/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// deterministic marker so the caller's retry budget still bounds us.
		return base + "_x"
	}
	suffix := hex.EncodeToString(buf)
	if len(base) > maxUsernameLen-suffixLen-1 {
		base = base[:maxUsernameLen-suffixLen-1]
	}
	return base + "_" + suffix
}
