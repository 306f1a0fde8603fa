package player

import (
	"context"
	"time"
)

// Sample is one position report from the media surface.
type Sample struct {
	Position float64
	Ended    bool
}

// Feed delivers position samples. Gating does not know whether they come
// from native timeline events or from polling.
type Feed interface {
	// Run calls fn for every sample until ctx ends. A clamped surface may
	// resume after an ended sample, so Ended does not stop the feed.
	Run(ctx context.Context, fn func(Sample)) error
}

// EventFeed relays samples pushed by a surface that emits timeline events.
type EventFeed struct {
	ch chan Sample
}

func NewEventFeed(buffer int) *EventFeed {
	if buffer <= 0 {
		buffer = 16
	}
	return &EventFeed{ch: make(chan Sample, buffer)}
}

// Push queues a position event. It blocks when the buffer is full.
func (f *EventFeed) Push(pos float64) { f.ch <- Sample{Position: pos} }

// End queues the ended event.
func (f *EventFeed) End(pos float64) { f.ch <- Sample{Position: pos, Ended: true} }

func (f *EventFeed) Run(ctx context.Context, fn func(Sample)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-f.ch:
			fn(s)
		}
	}
}

// PollingFeed samples a surface that has no position events. The interval
// bounds gating precision.
type PollingFeed struct {
	surface  MediaSurface
	interval time.Duration
	newTick  func(time.Duration) (<-chan time.Time, func())
}

// DefaultPollInterval matches a typical timeupdate cadence.
const DefaultPollInterval = 250 * time.Millisecond

func NewPollingFeed(surface MediaSurface, interval time.Duration) *PollingFeed {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollingFeed{
		surface:  surface,
		interval: interval,
		newTick: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

func (f *PollingFeed) Run(ctx context.Context, fn func(Sample)) error {
	tick, stop := f.newTick(f.interval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			fn(Sample{Position: f.surface.Position(), Ended: f.surface.Ended()})
		}
	}
}
