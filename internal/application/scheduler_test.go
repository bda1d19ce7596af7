package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/asialea/promptwatch/internal/domain/port/driven"
)

// Test timings are scaled down from the production defaults (5s idle, 20s
// base): the state machine is identical, only the durations shrink.
const (
	testIdleDelay = 40 * time.Millisecond
	testBase      = 60 * time.Millisecond
	testFloor     = 5 * time.Millisecond
)

func startScheduler(t *testing.T, source driven.TextSource, deliverer Deliverer, signals driven.DeviceSignals, store driven.StateStore) *CaptureScheduler {
	t.Helper()

	s := NewCaptureScheduler(source, signals, store, deliverer, "https://example.test", testIdleDelay, testBase, testFloor)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)

	return s
}

func TestScheduler_IdleFiresExactlyOneCapture(t *testing.T) {
	source := &fakeSource{text: "hello world"}
	deliverer := &fakeDeliverer{}
	s := startScheduler(t, source, deliverer, fakeSignals{}, newMemStore())

	s.NotifyActivity()
	s.NotifyActivity()

	assert.Eventually(t, func() bool { return deliverer.count() == 1 },
		10*testIdleDelay, time.Millisecond)

	// Unchanged text: every subsequent heartbeat drops the duplicate.
	time.Sleep(4 * testBase)
	assert.Equal(t, 1, deliverer.count())
}

func TestScheduler_ActivityDefersCapture(t *testing.T) {
	source := &fakeSource{text: "hello"}
	deliverer := &fakeDeliverer{}
	s := startScheduler(t, source, deliverer, fakeSignals{}, newMemStore())

	// Keep firing activity faster than the idle delay: no capture may fire.
	deadline := time.Now().Add(3 * testIdleDelay)
	for time.Now().Before(deadline) {
		s.NotifyActivity()
		time.Sleep(testIdleDelay / 4)
	}
	assert.Equal(t, 0, deliverer.count())

	// Silence: exactly one capture follows.
	assert.Eventually(t, func() bool { return deliverer.count() == 1 },
		10*testIdleDelay, time.Millisecond)
}

func TestScheduler_HeartbeatDeliversChangedText(t *testing.T) {
	source := &fakeSource{text: "first sample"}
	deliverer := &fakeDeliverer{}
	startScheduler(t, source, deliverer, fakeSignals{}, newMemStore())

	assert.Eventually(t, func() bool { return deliverer.count() == 1 },
		10*testIdleDelay, time.Millisecond)

	source.setText("second sample")
	assert.Eventually(t, func() bool { return deliverer.count() == 2 },
		10*testBase, time.Millisecond)
}

func TestScheduler_BackoffSequence(t *testing.T) {
	source := &fakeSource{text: "attempt one"}
	deliverer := &fakeDeliverer{failures: 2, err: errors.New("endpoint unreachable")}
	s := startScheduler(t, source, deliverer, fakeSignals{}, newMemStore())

	assert.Equal(t, 1, s.BackoffMultiplier())

	// First failure doubles the multiplier.
	assert.Eventually(t, func() bool { return s.BackoffMultiplier() == 2 },
		20*testBase, time.Millisecond)

	// Second failure doubles it again; the text must change or the
	// duplicate is dropped before reaching the pipeline.
	source.setText("attempt two")
	assert.Eventually(t, func() bool { return s.BackoffMultiplier() == 4 },
		20*testBase, time.Millisecond)

	// A success resets to 1.
	source.setText("attempt three")
	assert.Eventually(t, func() bool { return s.BackoffMultiplier() == 1 },
		20*testBase, time.Millisecond)
}

func TestScheduler_PauseStopsCapture(t *testing.T) {
	source := &fakeSource{text: "hidden page"}
	deliverer := &fakeDeliverer{}
	s := startScheduler(t, source, deliverer, fakeSignals{}, newMemStore())

	s.SetVisible(false)
	time.Sleep(4 * testIdleDelay)
	assert.Equal(t, 0, deliverer.count())

	// Returning to visible fires one immediate attempt.
	s.SetVisible(true)
	assert.Eventually(t, func() bool { return deliverer.count() == 1 },
		5*testIdleDelay, time.Millisecond)
}

func TestScheduler_EmptyTextIsDropped(t *testing.T) {
	source := &fakeSource{text: "   \n  "}
	deliverer := &fakeDeliverer{}
	startScheduler(t, source, deliverer, fakeSignals{}, newMemStore())

	time.Sleep(3 * testIdleDelay)
	assert.Equal(t, 0, deliverer.count())

	// The heartbeat keeps attempting; real text eventually goes through.
	source.setText("now something visible")
	assert.Eventually(t, func() bool { return deliverer.count() == 1 },
		10*testBase, time.Millisecond)
}

func TestScheduler_SurvivesStorageFailure(t *testing.T) {
	store := newMemStore()
	store.failWrites = errors.New("disk full")

	source := &fakeSource{text: "still captured"}
	deliverer := &fakeDeliverer{}
	startScheduler(t, source, deliverer, fakeSignals{}, store)

	// Persisting the sample for display fails, but delivery still happens.
	assert.Eventually(t, func() bool { return deliverer.count() == 1 },
		10*testIdleDelay, time.Millisecond)
}

func TestScheduler_PersistsLastCapture(t *testing.T) {
	store := newMemStore()
	source := &fakeSource{text: "persisted text"}
	deliverer := &fakeDeliverer{}
	startScheduler(t, source, deliverer, fakeSignals{}, store)

	assert.Eventually(t, func() bool { return deliverer.count() == 1 },
		10*testIdleDelay, time.Millisecond)

	assert.Equal(t, "persisted text", store.get(driven.KeyLastCapturedText))
	capturedAt, err := time.Parse(time.RFC3339, store.get(driven.KeyCapturedAt))
	assert.NoError(t, err)
	assert.WithinDuration(t, time.Now(), capturedAt, time.Minute)
}
