package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/asialea/promptwatch/internal/bus"
	"github.com/asialea/promptwatch/internal/domain/model"
	"github.com/asialea/promptwatch/internal/domain/port/driven"
)

// expiryMargin is the safety margin applied when checking a cached
// credential: a token expiring within this window counts as expired.
const expiryMargin = 30 * time.Second

// SessionConfig carries the provider endpoints and flow policy for the
// session service.
type SessionConfig struct {
	AuthorizeURL string
	ClientID     string
	RedirectURI  string
	Scopes       string

	// StrictState fails the flow when the provider echoes an unexpected
	// state. The default (false) matches the source system: the mismatch is
	// logged and the redirect accepted anyway. Integrators who need forged
	// redirects rejected must opt in to strict mode.
	StrictState bool
}

type flowResult struct {
	cred model.Credential
	err  error
}

// SessionService owns the authorization flow state machine and the cached
// credential. It runs in its own goroutine and answers requests arriving
// over the agent message bus; only this service writes the credential keys
// of the state store.
type SessionService struct {
	store   driven.StateStore
	gateway driven.AuthGateway
	bus     *bus.Bus
	cfg     SessionConfig

	// Loop-owned flow state: requests waiting on the single in-flight
	// interactive login, and the channel its outcome returns on.
	waiters  []bus.Request
	flowDone chan flowResult

	now func() time.Time
}

// NewSessionService wires the session service. Call Run to start serving.
func NewSessionService(store driven.StateStore, gateway driven.AuthGateway, b *bus.Bus, cfg SessionConfig) *SessionService {
	return &SessionService{
		store:    store,
		gateway:  gateway,
		bus:      b,
		cfg:      cfg,
		flowDone: make(chan flowResult),
		now:      time.Now,
	}
}

// Run serves bus requests until ctx is done. Interactive login runs in a
// separate goroutine so an abandoned provider UI cannot wedge the other
// request kinds; concurrent interactive requests join the pending flow.
func (s *SessionService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("session service stopped")
			return
		case req := <-s.bus.Requests():
			s.handle(ctx, req)
		case res := <-s.flowDone:
			s.finishFlow(ctx, res)
		}
	}
}

func (s *SessionService) handle(ctx context.Context, req bus.Request) {
	switch req.Kind {
	case bus.KindStartLogin, bus.KindGetAccessToken:
		s.handleToken(ctx, req)
	case bus.KindGetUserEmail:
		s.handleEmail(ctx, req)
	case bus.KindLogout:
		s.handleLogout(ctx, req)
	default:
		req.Resolve(bus.Response{Err: fmt.Sprintf("unknown request kind %d", req.Kind)})
	}
}

// handleToken implements getToken(interactive): cached-and-valid wins
// immediately with no network or UI; otherwise non-interactive callers get
// the NoCredential variant and interactive callers enter the flow.
func (s *SessionService) handleToken(ctx context.Context, req bus.Request) {
	if cred, ok := s.cachedCredential(ctx); ok {
		req.Resolve(bus.Response{Token: cred.AccessToken})
		return
	}
	// StartLogin is always interactive.
	if !req.Interactive && req.Kind != bus.KindStartLogin {
		req.Resolve(bus.Response{NoCredential: true})
		return
	}
	s.joinFlow(ctx, req)
}

func (s *SessionService) handleEmail(ctx context.Context, req bus.Request) {
	if email := s.getQuiet(ctx, driven.KeyUserEmail); email != "" {
		req.Resolve(bus.Response{Email: email})
		return
	}

	cred, ok := s.cachedCredential(ctx)
	if !ok {
		if !req.Interactive {
			req.Resolve(bus.Response{NoCredential: true})
			return
		}
		s.joinFlow(ctx, req)
		return
	}
	s.resolveEmail(ctx, req, cred)
}

// resolveEmail queries the identity endpoint once. Identity is cosmetic:
// any failure resolves as an explicit failure without retry.
func (s *SessionService) resolveEmail(ctx context.Context, req bus.Request, cred model.Credential) {
	identity, err := s.gateway.FetchIdentity(ctx, cred.AccessToken)
	if err != nil {
		slog.Warn("identity lookup failed", "error", err)
		req.Resolve(bus.Response{Err: "identity lookup failed"})
		return
	}
	s.setQuiet(ctx, driven.KeyUserEmail, identity.Email)
	req.Resolve(bus.Response{Email: identity.Email})
}

// handleLogout revokes best-effort, then unconditionally clears the
// credential, identity, and any pending auth state.
func (s *SessionService) handleLogout(ctx context.Context, req bus.Request) {
	if token := s.getQuiet(ctx, driven.KeyAccessToken); token != "" {
		if err := s.gateway.Revoke(ctx, token); err != nil {
			slog.Warn("token revocation failed, clearing local state anyway", "error", err)
		}
	}

	if err := s.store.Delete(ctx,
		driven.KeyAccessToken,
		driven.KeyAccessTokenExpiresAt,
		driven.KeyUserEmail,
		driven.KeyAuthNonce,
		driven.KeyAuthCodeVerifier,
	); err != nil {
		slog.Warn("clearing session state failed", "error", err)
	}

	slog.Info("logged out")
	req.Resolve(bus.Response{})
}

// joinFlow parks the request on the in-flight interactive login, starting
// one if none is outstanding.
func (s *SessionService) joinFlow(ctx context.Context, req bus.Request) {
	s.waiters = append(s.waiters, req)
	if len(s.waiters) > 1 {
		return
	}

	go func() {
		cred, err := s.runFlow(ctx)
		select {
		case s.flowDone <- flowResult{cred: cred, err: err}:
		case <-ctx.Done():
		}
	}()
}

// finishFlow resolves every waiter of the completed interactive login.
func (s *SessionService) finishFlow(ctx context.Context, res flowResult) {
	waiters := s.waiters
	s.waiters = nil

	if res.err != nil {
		slog.Warn("login flow failed", "error", res.err)
		for _, req := range waiters {
			req.Resolve(bus.Response{Err: res.err.Error()})
		}
		return
	}

	s.persistCredential(ctx, res.cred)
	slog.Info("login complete", "expires_at", res.cred.ExpiresAt)

	for _, req := range waiters {
		if req.Kind == bus.KindGetUserEmail {
			s.resolveEmail(ctx, req, res.cred)
			continue
		}
		req.Resolve(bus.Response{Token: res.cred.AccessToken})
	}
}

// runFlow executes one interactive authorization: PKCE parameter
// generation, the provider redirect, and resolution of the outcome. The
// provider may return an implicit-style token in the fragment, which is
// accepted directly; otherwise the authorization code is exchanged.
func (s *SessionService) runFlow(ctx context.Context) (model.Credential, error) {
	pending, err := newPendingAuth()
	if err != nil {
		return model.Credential{}, err
	}

	s.setQuiet(ctx, driven.KeyAuthNonce, pending.Nonce)
	s.setQuiet(ctx, driven.KeyAuthCodeVerifier, pending.CodeVerifier)

	// The pending auth state is discarded once resolution completes,
	// regardless of the outcome.
	defer func() {
		if err := s.store.Delete(ctx, driven.KeyAuthNonce, driven.KeyAuthCodeVerifier); err != nil {
			slog.Debug("clearing pending auth state failed", "error", err)
		}
	}()

	redirect, err := s.gateway.Authorize(ctx, s.authorizeURL(pending))
	if err != nil {
		return model.Credential{}, fmt.Errorf("no_redirect: %w", err)
	}

	res, err := parseRedirect(redirect)
	if err != nil {
		return model.Credential{}, err
	}

	if res.State != pending.Nonce {
		if s.cfg.StrictState {
			return model.Credential{}, errors.New("state_mismatch: redirect state does not match login nonce")
		}
		slog.Warn("redirect state does not match login nonce, accepting anyway",
			"got", res.State,
		)
	}

	if res.AccessToken != "" {
		cred := model.Credential{AccessToken: res.AccessToken}
		if res.ExpiresIn > 0 {
			cred.ExpiresAt = s.now().Add(time.Duration(res.ExpiresIn) * time.Second)
		}
		return cred, nil
	}

	if res.Code == "" {
		return model.Credential{}, errors.New("no_redirect: redirect carried neither token nor code")
	}

	cred, err := s.gateway.ExchangeCode(ctx, res.Code, pending.CodeVerifier, s.cfg.RedirectURI)
	if err != nil {
		return model.Credential{}, fmt.Errorf("code exchange failed: %w", err)
	}
	return cred, nil
}

// authorizeURL builds the provider authorization URL: hybrid response type,
// S256 PKCE challenge, nonce as state.
func (s *SessionService) authorizeURL(pending model.PendingAuth) string {
	q := url.Values{}
	q.Set("client_id", s.cfg.ClientID)
	q.Set("redirect_uri", s.cfg.RedirectURI)
	q.Set("response_type", "code token")
	q.Set("state", pending.Nonce)
	q.Set("code_challenge", codeChallenge(pending.CodeVerifier))
	q.Set("code_challenge_method", "S256")
	if s.cfg.Scopes != "" {
		q.Set("scope", s.cfg.Scopes)
	}

	sep := "?"
	if u, err := url.Parse(s.cfg.AuthorizeURL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return s.cfg.AuthorizeURL + sep + q.Encode()
}

// cachedCredential loads the persisted credential, applying the expiry
// margin. A missing expiry key means the provider supplied none; the token
// is then non-expiring. Store failures read as "absent".
func (s *SessionService) cachedCredential(ctx context.Context) (model.Credential, bool) {
	token := s.getQuiet(ctx, driven.KeyAccessToken)
	if token == "" {
		return model.Credential{}, false
	}

	cred := model.Credential{AccessToken: token}
	if raw := s.getQuiet(ctx, driven.KeyAccessTokenExpiresAt); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			slog.Warn("stored token expiry is malformed, treating token as expired", "value", raw)
			return model.Credential{}, false
		}
		cred.ExpiresAt = time.UnixMilli(ms)
	}

	if !cred.Valid(s.now(), expiryMargin) {
		return model.Credential{}, false
	}
	return cred, true
}

func (s *SessionService) persistCredential(ctx context.Context, cred model.Credential) {
	s.setQuiet(ctx, driven.KeyAccessToken, cred.AccessToken)
	if cred.ExpiresAt.IsZero() {
		if err := s.store.Delete(ctx, driven.KeyAccessTokenExpiresAt); err != nil {
			slog.Warn("clearing token expiry failed", "error", err)
		}
		return
	}
	s.setQuiet(ctx, driven.KeyAccessTokenExpiresAt, strconv.FormatInt(cred.ExpiresAt.UnixMilli(), 10))
}

// getQuiet reads a key, degrading any store failure to "absent".
func (s *SessionService) getQuiet(ctx context.Context, key string) string {
	v, err := s.store.Get(ctx, key)
	if err != nil {
		slog.Debug("state read failed", "key", key, "error", err)
		return ""
	}
	return v
}

// setQuiet writes a key, logging but otherwise swallowing store failures.
func (s *SessionService) setQuiet(ctx context.Context, key, value string) {
	if err := s.store.Set(ctx, key, value); err != nil {
		slog.Warn("state write failed", "key", key, "error", err)
	}
}
