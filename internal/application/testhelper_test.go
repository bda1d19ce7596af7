package application

import (
	"context"
	"net/url"
	"sync"

	"github.com/asialea/promptwatch/internal/domain/model"
	"github.com/asialea/promptwatch/internal/domain/port/driven"
)

// memStore is an in-memory StateStore for tests. failReads simulates
// storage unavailability on the read path.
type memStore struct {
	mu         sync.Mutex
	m          map[string]string
	failReads  error
	failWrites error
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string]string)}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads != nil {
		return "", s.failReads
	}
	return s.m[key], nil
}

func (s *memStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	s.m[key] = value
	return nil
}

func (s *memStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.m, k)
	}
	return nil
}

func (s *memStore) Subscribe() (<-chan driven.StateChange, func()) {
	ch := make(chan driven.StateChange)
	return ch, func() {}
}

func (s *memStore) get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key]
}

// fakeGateway scripts the provider side of the flow. redirectFor builds the
// redirect URL from the authorize URL the service constructed, letting tests
// echo (or corrupt) the state parameter.
type fakeGateway struct {
	mu sync.Mutex

	redirectFor  func(authorizeURL url.Values) string
	authorizeErr error

	exchangeCred model.Credential
	exchangeErr  error

	identity    model.Identity
	identityErr error

	revokeErr error

	authorizeCalls int
	exchangeCalls  int
	identityCalls  int
	revokeCalls    int

	lastAuthorizeURL string
	lastCode         string
	lastVerifier     string
	lastRedirectURI  string
}

func (g *fakeGateway) Authorize(_ context.Context, authorizeURL string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authorizeCalls++
	g.lastAuthorizeURL = authorizeURL
	if g.authorizeErr != nil {
		return "", g.authorizeErr
	}
	u, err := url.Parse(authorizeURL)
	if err != nil {
		return "", err
	}
	return g.redirectFor(u.Query()), nil
}

func (g *fakeGateway) ExchangeCode(_ context.Context, code, codeVerifier, redirectURI string) (model.Credential, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exchangeCalls++
	g.lastCode = code
	g.lastVerifier = codeVerifier
	g.lastRedirectURI = redirectURI
	if g.exchangeErr != nil {
		return model.Credential{}, g.exchangeErr
	}
	return g.exchangeCred, nil
}

func (g *fakeGateway) FetchIdentity(_ context.Context, _ string) (model.Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.identityCalls++
	if g.identityErr != nil {
		return model.Identity{}, g.identityErr
	}
	return g.identity, nil
}

func (g *fakeGateway) Revoke(_ context.Context, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.revokeCalls++
	return g.revokeErr
}

func (g *fakeGateway) calls() (authorize, exchange, identity, revoke int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authorizeCalls, g.exchangeCalls, g.identityCalls, g.revokeCalls
}

// fakeSignals returns fixed environment hints.
type fakeSignals struct {
	saveData   bool
	lowBattery bool
}

func (f fakeSignals) SaveData() bool   { return f.saveData }
func (f fakeSignals) LowBattery() bool { return f.lowBattery }

// fakeSource serves whatever text the test last set.
type fakeSource struct {
	mu   sync.Mutex
	text string
	err  error
}

func (f *fakeSource) VisibleText(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, f.err
}

func (f *fakeSource) setText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
}

// fakeDeliverer records delivered samples and fails the first failures
// deliveries.
type fakeDeliverer struct {
	mu       sync.Mutex
	failures int
	err      error
	samples  []model.Sample
}

func (f *fakeDeliverer) Deliver(_ context.Context, _ string, sample model.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, sample)
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return nil
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

// fakeAnalysisClient captures submissions for the delivery pipeline tests.
type fakeAnalysisClient struct {
	mu          sync.Mutex
	err         error
	endpoints   []string
	submissions []driven.AnalysisSubmission
}

func (f *fakeAnalysisClient) Submit(_ context.Context, endpoint string, sub driven.AnalysisSubmission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoints = append(f.endpoints, endpoint)
	f.submissions = append(f.submissions, sub)
	return f.err
}

func (f *fakeAnalysisClient) last() (string, driven.AnalysisSubmission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submissions) == 0 {
		return "", driven.AnalysisSubmission{}
	}
	return f.endpoints[len(f.endpoints)-1], f.submissions[len(f.submissions)-1]
}
