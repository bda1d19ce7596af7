package model

// PendingAuth holds the in-flight parameters of one authorization attempt.
// It is created when the attempt starts and discarded once the redirect is
// resolved, whether or not the returned state matched.
type PendingAuth struct {
	Nonce        string
	CodeVerifier string
}

// Identity is the lazily resolved profile of the logged-in user. It is used
// only for display and sample tagging, never for authorization decisions.
type Identity struct {
	Email string
}
