// Package model holds the domain value types shared across services and adapters.
package model

import "time"

// Credential is a cached bearer access token and its expiry. A zero ExpiresAt
// with a non-empty token means the provider never supplied an expiry; the
// token is then treated as non-expiring (a degraded mode).
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the credential is usable at now, requiring at least
// margin of remaining lifetime before expiry.
func (c Credential) Valid(now time.Time, margin time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(margin).Before(c.ExpiresAt)
}
