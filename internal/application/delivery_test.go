package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asialea/promptwatch/internal/bus"
	"github.com/asialea/promptwatch/internal/domain/model"
	"github.com/asialea/promptwatch/internal/domain/port/driven"
)

// respondTokens drains the bus, answering every credential request with the
// given response.
func respondTokens(t *testing.T, b *bus.Bus, resp bus.Response) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-b.Requests():
				assert.Equal(t, bus.KindGetAccessToken, req.Kind)
				assert.False(t, req.Interactive, "background delivery must never request interactively")
				req.Resolve(resp)
			}
		}
	}()
}

func testSample() model.Sample {
	return model.Sample{Text: "i had a rough day today", CapturedAt: time.Now().UTC()}
}

func TestDeliver_AuthenticatedWithIdentity(t *testing.T) {
	b := bus.New()
	respondTokens(t, b, bus.Response{Token: "tok-1"})

	store := newMemStore()
	_ = store.Set(context.Background(), driven.KeyUserEmail, "kid@example.com")

	client := &fakeAnalysisClient{}
	d := NewDeliveryService(b, store, client, "http://127.0.0.1:8000/analyze")

	err := d.Deliver(context.Background(), "https://chat.example", testSample())
	require.NoError(t, err)

	endpoint, sub := client.last()
	assert.Equal(t, "http://127.0.0.1:8000/analyze", endpoint)
	assert.Equal(t, "tok-1", sub.Bearer)
	assert.Equal(t, "kid@example.com", sub.Sender)
	assert.Equal(t, "i had a rough day today", sub.Text)
	assert.Equal(t, "https://chat.example", sub.Source)
}

func TestDeliver_UnauthenticatedWhenNoCredential(t *testing.T) {
	b := bus.New()
	respondTokens(t, b, bus.Response{NoCredential: true})

	client := &fakeAnalysisClient{}
	d := NewDeliveryService(b, newMemStore(), client, "http://127.0.0.1:8000/analyze")

	err := d.Deliver(context.Background(), "https://chat.example", testSample())
	require.NoError(t, err)

	_, sub := client.last()
	assert.Empty(t, sub.Bearer)
	assert.Equal(t, anonymousSender, sub.Sender)
}

func TestDeliver_EndpointOverrideWins(t *testing.T) {
	b := bus.New()
	respondTokens(t, b, bus.Response{NoCredential: true})

	store := newMemStore()
	_ = store.Set(context.Background(), driven.KeyAnalyzeEndpoint, "http://10.0.0.5:9000/analyze")

	client := &fakeAnalysisClient{}
	d := NewDeliveryService(b, store, client, "http://127.0.0.1:8000/analyze")

	err := d.Deliver(context.Background(), "https://chat.example", testSample())
	require.NoError(t, err)

	endpoint, _ := client.last()
	assert.Equal(t, "http://10.0.0.5:9000/analyze", endpoint)
}

func TestDeliver_SubmissionFailurePropagates(t *testing.T) {
	b := bus.New()
	respondTokens(t, b, bus.Response{NoCredential: true})

	client := &fakeAnalysisClient{err: errors.New("connection refused")}
	d := NewDeliveryService(b, newMemStore(), client, "http://127.0.0.1:8000/analyze")

	err := d.Deliver(context.Background(), "https://chat.example", testSample())
	assert.Error(t, err)
}

func TestDeliver_SurvivesStorageFailure(t *testing.T) {
	b := bus.New()
	respondTokens(t, b, bus.Response{Token: "tok-1"})

	store := newMemStore()
	store.failReads = errors.New("database is locked")

	client := &fakeAnalysisClient{}
	d := NewDeliveryService(b, store, client, "http://127.0.0.1:8000/analyze")

	err := d.Deliver(context.Background(), "https://chat.example", testSample())
	require.NoError(t, err)

	endpoint, sub := client.last()
	assert.Equal(t, "http://127.0.0.1:8000/analyze", endpoint)
	assert.Equal(t, anonymousSender, sub.Sender)
}
