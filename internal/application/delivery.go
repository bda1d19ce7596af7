package application

import (
	"context"
	"log/slog"

	"github.com/asialea/promptwatch/internal/bus"
	"github.com/asialea/promptwatch/internal/domain/model"
	"github.com/asialea/promptwatch/internal/domain/port/driven"
)

// anonymousSender tags samples delivered without a resolved identity.
const anonymousSender = "user"

// DeliveryService posts captured samples to the analysis endpoint. It
// resolves the credential non-interactively over the bus, since background
// delivery must never surprise the user with a login prompt, and attaches
// the store-cached identity when one exists.
type DeliveryService struct {
	bus             *bus.Bus
	store           driven.StateStore
	client          driven.AnalysisClient
	defaultEndpoint string
}

// NewDeliveryService wires the pipeline. defaultEndpoint is used unless the
// store carries an endpoint override.
func NewDeliveryService(b *bus.Bus, store driven.StateStore, client driven.AnalysisClient, defaultEndpoint string) *DeliveryService {
	return &DeliveryService{
		bus:             b,
		store:           store,
		client:          client,
		defaultEndpoint: defaultEndpoint,
	}
}

// Deliver posts one sample. The returned error reports a transient delivery
// failure to the scheduler's backoff; missing credential or identity are not
// failures.
func (d *DeliveryService) Deliver(ctx context.Context, origin string, sample model.Sample) error {
	sub := driven.AnalysisSubmission{
		Sender: anonymousSender,
		Text:   sample.Text,
		Source: origin,
	}

	// A bus failure or NoCredential degrades to an unauthenticated post.
	if resp, err := d.bus.Call(ctx, bus.KindGetAccessToken, false); err == nil && resp.OK() && !resp.NoCredential {
		sub.Bearer = resp.Token
	}

	if email, err := d.store.Get(ctx, driven.KeyUserEmail); err == nil && email != "" {
		sub.Sender = email
	}

	endpoint := d.defaultEndpoint
	if override, err := d.store.Get(ctx, driven.KeyAnalyzeEndpoint); err == nil && override != "" {
		endpoint = override
	}

	if err := d.client.Submit(ctx, endpoint, sub); err != nil {
		return err
	}

	slog.Debug("sample delivered", "endpoint", endpoint, "source", origin, "authenticated", sub.Bearer != "")
	return nil
}
