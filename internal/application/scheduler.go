// Package application contains the agent's use-case services: the capture
// scheduler, the session service, and the delivery pipeline.
package application

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/asialea/promptwatch/internal/domain/model"
	"github.com/asialea/promptwatch/internal/domain/port/driven"
)

// Deliverer hands a captured sample to the delivery pipeline. The returned
// error feeds the scheduler's backoff; it is never surfaced to the user.
type Deliverer interface {
	Deliver(ctx context.Context, origin string, sample model.Sample) error
}

type schedulerEventKind int

const (
	eventActivity schedulerEventKind = iota
	eventVisibility
)

type schedulerEvent struct {
	kind    schedulerEventKind
	visible bool
}

// CaptureScheduler decides when to extract and emit a text sample for one
// watched page. All state is owned by the Run goroutine; external inputs
// arrive over the events channel, so no locking is needed around timers.
type CaptureScheduler struct {
	source   driven.TextSource
	signals  driven.DeviceSignals
	store    driven.StateStore
	pipeline Deliverer
	origin   string

	idleDelay    time.Duration
	baseInterval time.Duration
	minInterval  time.Duration

	events chan schedulerEvent

	// Loop-owned state. backoff is additionally mirrored through an atomic
	// for observability and tests.
	lastFingerprint string
	visible         bool
	userActive      bool
	inFlight        bool
	backoff         atomic.Int32
}

// NewCaptureScheduler creates a scheduler for one page. Zero durations fall
// back to the defaults. The backoff multiplier always starts at 1; it is
// deliberately not persisted across restarts.
func NewCaptureScheduler(
	source driven.TextSource,
	signals driven.DeviceSignals,
	store driven.StateStore,
	pipeline Deliverer,
	origin string,
	idleDelay, baseInterval, minInterval time.Duration,
) *CaptureScheduler {
	if idleDelay <= 0 {
		idleDelay = DefaultIdleDelay
	}
	if baseInterval <= 0 {
		baseInterval = DefaultBaseInterval
	}
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}

	s := &CaptureScheduler{
		source:       source,
		signals:      signals,
		store:        store,
		pipeline:     pipeline,
		origin:       origin,
		idleDelay:    idleDelay,
		baseInterval: baseInterval,
		minInterval:  minInterval,
		events:       make(chan schedulerEvent, 16),
	}
	s.backoff.Store(1)
	return s
}

// NotifyActivity records a user-interaction signal (scroll, key press,
// pointer move, touch). Bursts are coalesced; dropping an event while the
// loop is busy is harmless because the debounce timer restarts on the next.
func (s *CaptureScheduler) NotifyActivity() {
	select {
	case s.events <- schedulerEvent{kind: eventActivity}:
	default:
	}
}

// SetVisible reports a page visibility change. Hiding pauses all capture
// scheduling; becoming visible fires one immediate attempt and restarts the
// heartbeat loop.
func (s *CaptureScheduler) SetVisible(visible bool) {
	s.events <- schedulerEvent{kind: eventVisibility, visible: visible}
}

// BackoffMultiplier exposes the current backoff multiplier for observability
// and tests.
func (s *CaptureScheduler) BackoffMultiplier() int {
	return int(s.backoff.Load())
}

// Origin returns the page origin this scheduler watches.
func (s *CaptureScheduler) Origin() string {
	return s.origin
}

// Run drives the scheduler until ctx is done. Startup counts as activity:
// the first capture fires after one idle delay of silence.
func (s *CaptureScheduler) Run(ctx context.Context) {
	s.visible = true
	s.userActive = true

	debounce := time.NewTimer(s.idleDelay)
	heartbeat := time.NewTimer(time.Hour)
	stopTimer(heartbeat)

	results := make(chan bool, 1)

	for {
		select {
		case <-ctx.Done():
			stopTimer(debounce)
			stopTimer(heartbeat)
			slog.Info("capture scheduler stopped", "origin", s.origin)
			return

		case ev := <-s.events:
			switch ev.kind {
			case eventActivity:
				if !s.visible {
					continue
				}
				s.userActive = true
				stopTimer(heartbeat)
				resetTimer(debounce, s.idleDelay)

			case eventVisibility:
				if ev.visible == s.visible {
					continue
				}
				s.visible = ev.visible
				if !s.visible {
					stopTimer(debounce)
					stopTimer(heartbeat)
					slog.Debug("capture paused", "origin", s.origin)
				} else {
					s.userActive = false
					slog.Debug("capture resumed", "origin", s.origin)
					s.capture(ctx, heartbeat, results)
				}
			}

		case <-debounce.C:
			s.userActive = false
			if s.visible {
				s.capture(ctx, heartbeat, results)
			}

		case <-heartbeat.C:
			if s.visible && !s.userActive {
				s.capture(ctx, heartbeat, results)
			}

		case delivered := <-results:
			s.inFlight = false
			s.backoff.Store(int32(nextBackoffMultiplier(s.BackoffMultiplier(), delivered)))
			if s.visible && !s.userActive {
				resetTimer(heartbeat, s.interval())
			}
		}
	}
}

// capture runs one capture attempt. Empty extractions and fingerprint
// duplicates are dropped silently with the heartbeat rescheduled; otherwise
// the sample goes to the pipeline and the heartbeat waits for the outcome.
func (s *CaptureScheduler) capture(ctx context.Context, heartbeat *time.Timer, results chan<- bool) {
	if s.inFlight {
		return
	}

	text, err := s.source.VisibleText(ctx)
	if err != nil {
		slog.Debug("text extraction failed", "origin", s.origin, "error", err)
		resetTimer(heartbeat, s.interval())
		return
	}
	if strings.TrimSpace(text) == "" {
		resetTimer(heartbeat, s.interval())
		return
	}

	fp := model.Fingerprint(text)
	if fp == s.lastFingerprint {
		resetTimer(heartbeat, s.interval())
		return
	}
	s.lastFingerprint = fp

	sample := model.Sample{Text: text, CapturedAt: time.Now().UTC()}

	// Persist the sample for UI display. Storage failure degrades to "not
	// shown"; capture and delivery proceed regardless.
	if err := s.store.Set(ctx, driven.KeyLastCapturedText, sample.Text); err != nil {
		slog.Debug("persist captured text failed", "origin", s.origin, "error", err)
	}
	if err := s.store.Set(ctx, driven.KeyCapturedAt, sample.CapturedAt.Format(time.RFC3339)); err != nil {
		slog.Debug("persist capture time failed", "origin", s.origin, "error", err)
	}

	s.inFlight = true
	go func() {
		err := s.pipeline.Deliver(ctx, s.origin, sample)
		if err != nil {
			slog.Debug("delivery failed", "origin", s.origin, "error", err)
		}
		select {
		case results <- err == nil:
		case <-ctx.Done():
		}
	}()
}

func (s *CaptureScheduler) interval() time.Duration {
	return effectiveInterval(
		s.baseInterval,
		s.minInterval,
		s.BackoffMultiplier(),
		s.signals.SaveData(),
		s.signals.LowBattery(),
	)
}

// stopTimer stops t and drains its channel so a stale tick cannot fire.
// Safe only from the goroutine that owns the timer.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
