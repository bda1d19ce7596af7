package driven

import (
	"context"
	"errors"

	"github.com/asialea/promptwatch/internal/domain/model"
)

// ErrNoRedirect is returned by AuthGateway.Authorize when the user cancels
// the interactive authorization or the provider never redirects back.
var ErrNoRedirect = errors.New("authorization produced no redirect")

// AuthGateway is the driven port for the OAuth2 provider. The session
// service owns the flow state machine; the gateway performs the individual
// network and UI steps.
type AuthGateway interface {
	// Authorize launches the interactive authorization UI for authorizeURL
	// and blocks until the provider redirects back to the registered
	// redirect target, the user cancels, or ctx is done. It returns the
	// full redirect URL, which may carry a token in the fragment or an
	// authorization code in the query.
	Authorize(ctx context.Context, authorizeURL string) (string, error)

	// ExchangeCode trades an authorization code plus the original PKCE
	// verifier for a credential at the token endpoint.
	ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (model.Credential, error)

	// FetchIdentity queries the identity endpoint with the token as a
	// bearer credential. Any network or non-success failure is an error;
	// callers do not retry.
	FetchIdentity(ctx context.Context, accessToken string) (model.Identity, error)

	// Revoke asks the provider to revoke the token. Best-effort; failures
	// are logged by the caller and never block logout.
	Revoke(ctx context.Context, accessToken string) error
}
