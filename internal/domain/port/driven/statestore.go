// Package driven defines the outbound port interfaces the application layer
// depends on. Adapters implement these against sqlite, HTTP, and the host OS.
package driven

import "context"

// Keys of the persisted agent state schema. The store is a flat key-value
// map with last-write-wins semantics; it holds caches and flags, not data
// requiring strict consistency.
const (
	KeyAccessToken          = "accessToken"
	KeyAccessTokenExpiresAt = "accessTokenExpiresAt" // epoch milliseconds, decimal string
	KeyAuthNonce            = "authNonce"
	KeyAuthCodeVerifier     = "authCodeVerifier"
	KeyUserEmail            = "userEmail"
	KeyAnalyzeEndpoint      = "analyzeEndpoint"
	KeyLastCapturedText     = "lastCapturedText"
	KeyCapturedAt           = "capturedAt" // RFC 3339
)

// StateChange describes one mutation of the state store, delivered to
// subscribers after the write lands.
type StateChange struct {
	Key     string
	Value   string
	Deleted bool
}

// StateStore is the persisted key-value map shared across execution contexts.
// Callers must survive store unavailability: a read error is to be treated
// as "key absent", never allowed to crash a timer loop.
type StateStore interface {
	// Get returns the value for key, or ("", nil) when the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores or replaces the value for key.
	Set(ctx context.Context, key, value string) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Subscribe registers for change notifications. The returned cancel
	// function releases the subscription. Notifications are best-effort and
	// may be dropped for slow consumers.
	Subscribe() (<-chan StateChange, func())
}
