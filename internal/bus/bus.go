// Package bus implements the agent message bus: an asynchronous
// request/response protocol between the capture/delivery side and the
// session service. Every request is correlated by ID and receives at most
// one response; no ordering is guaranteed between concurrently outstanding
// requests from different callers.
package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Kind discriminates the operations the session service answers.
type Kind int

const (
	// KindStartLogin runs the interactive login flow.
	KindStartLogin Kind = iota
	// KindGetAccessToken fetches a credential, interactively or not.
	KindGetAccessToken
	// KindGetUserEmail fetches the cached identity, resolving it if needed.
	KindGetUserEmail
	// KindLogout revokes and clears the credential.
	KindLogout
)

// String returns a human-readable name for the request kind.
func (k Kind) String() string {
	switch k {
	case KindStartLogin:
		return "start_login"
	case KindGetAccessToken:
		return "get_access_token"
	case KindGetUserEmail:
		return "get_user_email"
	case KindLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// Request is one correlated message on the bus. Interactive is only
// meaningful for the credential and identity kinds.
type Request struct {
	ID          string
	Kind        Kind
	Interactive bool

	reply chan Response
	once  *sync.Once
}

// Response carries the outcome of a request. NoCredential is a distinct
// success variant: the caller is unauthenticated and the request was
// non-interactive, which is an expected state, not an error. Err is a
// descriptor string; empty means success.
type Response struct {
	RequestID    string
	Token        string
	Email        string
	NoCredential bool
	Err          string
}

// OK reports whether the response carries no error descriptor.
func (r Response) OK() bool { return r.Err == "" }

// Resolve delivers the response for this request. Only the first call has
// any effect; the bus guarantees at most one response per request.
func (r Request) Resolve(resp Response) {
	r.once.Do(func() {
		resp.RequestID = r.ID
		r.reply <- resp
	})
}

// Bus connects callers to the single handler context draining Requests.
type Bus struct {
	requests chan Request
}

// New creates an unbuffered bus. Sends block until the handler context picks
// the request up, mirroring message delivery between isolated contexts.
func New() *Bus {
	return &Bus{requests: make(chan Request)}
}

// Requests is the handler side of the bus. Exactly one context should drain
// it and Resolve every request it accepts.
func (b *Bus) Requests() <-chan Request {
	return b.requests
}

// Call sends a request and waits for its response. A handler that never
// resolves (an abandoned interactive login, for instance) leaves the caller
// blocked until its own context is done; callers must treat "pending
// indefinitely" as a possible outcome.
func (b *Bus) Call(ctx context.Context, kind Kind, interactive bool) (Response, error) {
	req := Request{
		ID:          uuid.NewString(),
		Kind:        kind,
		Interactive: interactive,
		reply:       make(chan Response, 1),
		once:        &sync.Once{},
	}

	select {
	case b.requests <- req:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}
