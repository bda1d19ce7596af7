package application

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/asialea/promptwatch/internal/domain/model"
)

// newPendingAuth generates the random parameters for one authorization
// attempt: a nonce carried as the OAuth state, and a PKCE code verifier.
func newPendingAuth() (model.PendingAuth, error) {
	nonce, err := randomToken(16)
	if err != nil {
		return model.PendingAuth{}, fmt.Errorf("generate nonce: %w", err)
	}
	verifier, err := randomToken(32)
	if err != nil {
		return model.PendingAuth{}, fmt.Errorf("generate code verifier: %w", err)
	}
	return model.PendingAuth{Nonce: nonce, CodeVerifier: verifier}, nil
}

// codeChallenge derives the S256 PKCE challenge: the unpadded URL-safe
// base64 encoding of the SHA-256 digest of the verifier.
func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomToken(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// redirectResult is the parsed outcome of an authorization redirect.
type redirectResult struct {
	AccessToken string
	ExpiresIn   int64
	Code        string
	State       string
}

// parseRedirect extracts the authorization outcome from the provider's
// redirect URL. Fragment parameters win when present; the loopback callback
// may also have flattened the fragment into the query, so a token in the
// query is accepted the same way.
func parseRedirect(rawURL string) (redirectResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return redirectResult{}, fmt.Errorf("parse redirect URL: %w", err)
	}

	params := u.Query()
	if frag := strings.TrimPrefix(u.Fragment, "#"); frag != "" {
		if fragParams, err := url.ParseQuery(frag); err == nil {
			params = fragParams
		}
	}

	var res redirectResult
	res.AccessToken = params.Get("access_token")
	res.Code = params.Get("code")
	res.State = params.Get("state")
	if v := params.Get("expires_in"); v != "" {
		// A malformed expiry degrades the credential to non-expiring.
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			res.ExpiresIn = n
		}
	}
	return res, nil
}
