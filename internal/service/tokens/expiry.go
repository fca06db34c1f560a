package tokens

import (
	"time"
)

// DefaultExpiryBuffer is subtracted from the stored expiry before comparing
// with now, so a token is never handed out moments before it dies mid-flight
// to the downstream API.
const DefaultExpiryBuffer = 5 * time.Minute

// IsExpired reports whether a stored access token is past its usable window.
// A nil expiry means the lifetime is unknown; fail toward refreshing rather
// than risking a dead token downstream.
func IsExpired(expiresAt *time.Time, buffer time.Duration) bool {
	if expiresAt == nil {
		return true
	}

	return !time.Now().Before(expiresAt.Add(-buffer))
}

// ExpiryFromNow converts a provider expires_in lifetime in seconds into the
// absolute timestamp stored on the credential
func ExpiryFromNow(expiresIn int64) time.Time {
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}
