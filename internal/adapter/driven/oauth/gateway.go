// Package oauth implements the AuthGateway port against a generic OAuth2
// provider: interactive authorization over a loopback redirect, the PKCE
// code exchange, identity lookup, and best-effort revocation.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cli/browser"
	"github.com/gregjones/httpcache"

	"github.com/asialea/promptwatch/internal/domain/model"
	"github.com/asialea/promptwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuthGateway = (*Gateway)(nil)

// fragmentRelayPage is served when the provider redirects with the response
// in the URL fragment. Fragments never reach the server, so the page
// re-requests the callback with the fragment flattened into the query.
const fragmentRelayPage = `<!doctype html>
<meta charset="utf-8">
<title>Completing login</title>
<script>
if (location.hash.length > 1) {
  location.replace("/callback?" + location.hash.substring(1));
} else {
  document.body.textContent = "Login did not complete. You can close this tab.";
}
</script>
`

const callbackDonePage = "Login complete. You can close this tab."

// Gateway talks to the OAuth2 provider. The identity client sits on an
// httpcache memory-cache transport so repeated profile lookups become
// conditional requests.
type Gateway struct {
	tokenURL     string
	userinfoURL  string
	revokeURL    string
	clientID     string
	redirectAddr string // loopback host:port the provider redirects to

	httpClient     *http.Client
	identityClient *http.Client
	openBrowser    func(url string) error
}

// NewGateway creates a gateway for the given provider endpoints.
// redirectAddr must match the redirect target registered with the provider.
func NewGateway(tokenURL, userinfoURL, revokeURL, clientID, redirectAddr string) *Gateway {
	return &Gateway{
		tokenURL:     tokenURL,
		userinfoURL:  userinfoURL,
		revokeURL:    revokeURL,
		clientID:     clientID,
		redirectAddr: redirectAddr,
		httpClient:   &http.Client{},
		identityClient: &http.Client{
			Transport: httpcache.NewMemoryCacheTransport(),
		},
		openBrowser: browser.OpenURL,
	}
}

// NewGatewayWithBrowser creates a Gateway whose interactive step calls open
// instead of launching the system browser. Intended for testing.
func NewGatewayWithBrowser(tokenURL, userinfoURL, revokeURL, clientID, redirectAddr string, open func(url string) error) *Gateway {
	g := NewGateway(tokenURL, userinfoURL, revokeURL, clientID, redirectAddr)
	g.openBrowser = open
	return g
}

// RedirectURI returns the redirect target for authorization URLs.
func (g *Gateway) RedirectURI() string {
	return "http://" + g.redirectAddr + "/callback"
}

// Authorize serves the loopback callback, opens the authorization UI, and
// blocks until the provider redirects back or ctx is done. There is no
// other timeout: an abandoned login keeps the request pending, which the
// session service tolerates by running flows off its main loop.
func (g *Gateway) Authorize(ctx context.Context, authorizeURL string) (string, error) {
	ln, err := net.Listen("tcp", g.redirectAddr)
	if err != nil {
		return "", fmt.Errorf("listen on redirect address %s: %w", g.redirectAddr, err)
	}

	redirects := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		// No query parameters means the provider put the response in the
		// fragment (or nowhere); the relay page flattens a fragment into
		// a second request with query parameters.
		if len(r.URL.Query()) == 0 {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, fragmentRelayPage)
			return
		}
		_, _ = io.WriteString(w, callbackDonePage)
		select {
		case redirects <- "http://" + g.redirectAddr + r.URL.RequestURI():
		default:
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Debug("callback server error", "error", serveErr)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("opening authorization UI", "redirect_uri", g.RedirectURI())
	if err := g.openBrowser(authorizeURL); err != nil {
		return "", fmt.Errorf("open authorization UI: %w", err)
	}

	select {
	case redirect := <-redirects:
		return redirect, nil
	case <-ctx.Done():
		return "", driven.ErrNoRedirect
	}
}

// tokenResponse is the provider's token-endpoint reply. A missing
// expires_in leaves the credential non-expiring.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExchangeCode trades an authorization code and PKCE verifier for a
// credential.
func (g *Gateway) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (model.Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("code_verifier", codeVerifier)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", g.clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return model.Credential{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return model.Credential{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.Credential{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return model.Credential{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return model.Credential{}, fmt.Errorf("token endpoint returned no access token")
	}

	cred := model.Credential{AccessToken: tr.AccessToken}
	if tr.ExpiresIn > 0 {
		cred.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return cred, nil
}

// userinfoResponse is the identity endpoint's profile shape; only the email
// is consumed.
type userinfoResponse struct {
	Email string `json:"email"`
}

// FetchIdentity queries the identity endpoint with a bearer credential.
func (g *Gateway) FetchIdentity(ctx context.Context, accessToken string) (model.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userinfoURL, nil)
	if err != nil {
		return model.Identity{}, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := g.identityClient.Do(req)
	if err != nil {
		return model.Identity{}, fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.Identity{}, fmt.Errorf("identity endpoint returned %d", resp.StatusCode)
	}

	var ui userinfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&ui); err != nil {
		return model.Identity{}, fmt.Errorf("decode identity response: %w", err)
	}
	return model.Identity{Email: ui.Email}, nil
}

// Revoke asks the provider to revoke the token. The caller treats failure
// as log-only; local state is cleared regardless.
func (g *Gateway) Revoke(ctx context.Context, accessToken string) error {
	if g.revokeURL == "" {
		return nil
	}

	form := url.Values{}
	form.Set("token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revocation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("revocation endpoint returned %d", resp.StatusCode)
	}
	return nil
}
