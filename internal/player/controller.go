package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-training/internal/assessment"
	"github.com/mind-engage/mindengage-training/internal/attempt"
)

// MediaSurface is the external player or document viewer. Positions are
// seconds for time-based media and 1-based page numbers for documents.
// The controller calls it while holding its lock, so implementations must
// not call back into the controller.
type MediaSurface interface {
	Position() float64
	Duration() float64 // 0 for paged documents
	PageCount() int
	Ended() bool
	Play() error
	Pause() error
	Seek(pos float64) error
}

// DefaultGrace delays the pause after a question appears mid-playback.
const DefaultGrace = 500 * time.Millisecond

// Stopper cancels a scheduled call. *time.Timer satisfies it.
type Stopper interface {
	Stop() bool
}

// Controller owns the gating state of one session and serializes feed
// callbacks with user actions.
type Controller struct {
	mu        sync.Mutex
	state     State
	structure assessment.Structure
	surface   MediaSurface
	collector *Collector

	grace     time.Duration
	notify    func(error)
	afterFunc func(time.Duration, func()) Stopper
	logger    *slog.Logger

	softPause Stopper
	closed    bool
	vetoed    bool // ErrMustAnswer owed to notify once mu is released
}

type ControllerOption func(*Controller)

func WithGrace(d time.Duration) ControllerOption { return func(c *Controller) { c.grace = d } }

// WithNotifier receives ErrMustAnswer whenever navigation is vetoed. It runs
// after the controller lock is released and may call back into it.
func WithNotifier(fn func(error)) ControllerOption { return func(c *Controller) { c.notify = fn } }

func WithAfterFunc(fn func(time.Duration, func()) Stopper) ControllerOption {
	return func(c *Controller) { c.afterFunc = fn }
}

func WithEpsilon(e float64) ControllerOption { return func(c *Controller) { c.state.Epsilon = e } }

func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

func NewController(st assessment.Structure, surface MediaSurface, opts ...ControllerOption) (*Controller, error) {
	if surface == nil {
		return nil, errors.New("player: nil media surface")
	}
	end := surface.Duration()
	if st.Media != nil && st.Media.Kind.Paged() {
		end = float64(surface.PageCount())
	}
	if end <= 0 {
		return nil, fmt.Errorf("player: media has no length (%v)", end)
	}
	c := &Controller{
		state:     New(st, end),
		structure: st,
		surface:   surface,
		collector: NewCollector(st.Questions),
		grace:     DefaultGrace,
		notify:    func(error) {},
		afterFunc: func(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) },
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.mu.Lock()
	c.apply(Observe(c.state, c.state.Position, 0))
	c.unlock()
	return c, nil
}

// Run feeds position samples into the controller until ctx ends.
func (c *Controller) Run(ctx context.Context, feed Feed) error {
	err := feed.Run(ctx, func(s Sample) {
		c.OnPosition(s.Position)
		if s.Ended {
			c.OnEnded()
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// OnPosition handles a position report from the surface. Repeating the same
// report changes nothing.
func (c *Controller) OnPosition(pos float64) {
	c.mu.Lock()
	defer c.unlock()
	if c.closed {
		return
	}
	// During playback a reveal, or a pending soft pause, lets the media run
	// up to grace past the ceiling before it is clamped.
	if c.state.Playing {
		d := Observe(c.state, pos, c.grace.Seconds())
		if c.softPause != nil || len(d.Revealed) > 0 {
			c.apply(d)
			return
		}
	}
	c.apply(Observe(c.state, pos, 0))
}

// OnEnded handles the surface's ended notification as playback reaching the
// end, so a duration rounded short of the end still finishes the material.
// Paged documents finish through AcknowledgeLastPage instead.
func (c *Controller) OnEnded() {
	c.mu.Lock()
	defer c.unlock()
	if c.closed || c.state.Paged {
		return
	}
	c.state.Playing = false
	c.apply(Observe(c.state, c.state.End, 0))
}

// Seek is a user navigation. Moving past the ceiling is vetoed.
func (c *Controller) Seek(pos float64) error {
	c.mu.Lock()
	defer c.unlock()
	if c.closed {
		return ErrClosed
	}
	d := RequestSeek(c.state, pos)
	if !d.Clamped {
		if err := c.surface.Seek(d.State.Position); err != nil {
			return err
		}
	}
	c.apply(d)
	return nil
}

func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.unlock()
	if c.closed {
		return ErrClosed
	}
	d := RequestPlay(c.state)
	if d.Blocked {
		c.apply(d)
		return nil
	}
	if err := c.surface.Play(); err != nil {
		return err
	}
	c.state = d.State
	return nil
}

func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelSoftPause()
	c.state.Playing = false
	return c.surface.Pause()
}

// SelectOption answers a single-choice or boolean question.
func (c *Controller) SelectOption(id, optionID string) error {
	return c.edit(id, func(col *Collector) error { return col.SelectOption(id, optionID) })
}

// PlaceAtRank places an option of an ordering question at rank.
func (c *Controller) PlaceAtRank(id string, rank int, optionID string) error {
	return c.edit(id, func(col *Collector) error { return col.PlaceAtRank(id, rank, optionID) })
}

func (c *Controller) SetText(id, text string) error {
	return c.edit(id, func(col *Collector) error { return col.SetText(id, text) })
}

func (c *Controller) ClearAnswer(id string) error {
	return c.edit(id, func(col *Collector) error { col.Clear(id); return nil })
}

func (c *Controller) edit(id string, fn func(*Collector) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	st, ok := c.state.Status(id)
	if !ok {
		return ErrUnknownQuestion
	}
	if st != Visible && st != Answered {
		return ErrNotVisible
	}
	if err := fn(c.collector); err != nil {
		return err
	}
	next, err := Answer(c.state, id, c.collector.Answered(id))
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

// Confirm locks an answered question. Confirming the last pending question
// cancels a scheduled soft pause.
func (c *Controller) Confirm(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	next, err := Confirm(c.state, id)
	if err != nil {
		return err
	}
	c.state = next
	if !c.state.Blocking() {
		c.cancelSoftPause()
	}
	return nil
}

func (c *Controller) AcknowledgeLastPage() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	next, err := AcknowledgeLastPage(c.state)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

func (c *Controller) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && CanSubmit(c.state)
}

// Submission builds the payload for attempt submission once CanSubmit holds.
func (c *Controller) Submission(participantID, proof string) (attempt.SubmitInput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return attempt.SubmitInput{}, ErrClosed
	}
	if !CanSubmit(c.state) {
		return attempt.SubmitInput{}, ErrNotReady
	}
	rs, err := c.collector.Responses()
	if err != nil {
		return attempt.SubmitInput{}, err
	}
	return attempt.SubmitInput{ParticipantID: participantID, Proof: proof, Responses: rs}, nil
}

func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ProgressOf(c.state)
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Visible lists the questions currently shown, in structure order.
func (c *Controller) Visible() []assessment.Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []assessment.Question
	for _, q := range c.structure.StudentView().Questions {
		if st, _ := c.state.Status(q.ID); st == Visible || st == Answered {
			out = append(out, q)
		}
	}
	return out
}

// Close discards all local state. Nothing is persisted.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelSoftPause()
	c.collector.Reset()
	c.closed = true
}

// apply commits a decision and drives the surface. Callers hold mu.
func (c *Controller) apply(d Decision) {
	wasPlaying := c.state.Playing
	c.state = d.State
	if d.Clamped {
		if err := c.surface.Seek(c.state.Position); err != nil {
			c.logger.Warn("clamp seek failed", "position", c.state.Position, "err", err)
		}
	}
	if d.Pause {
		c.cancelSoftPause()
		if err := c.surface.Pause(); err != nil {
			c.logger.Warn("pause failed", "err", err)
		}
	} else if len(d.Revealed) > 0 && wasPlaying && c.softPause == nil {
		c.softPause = c.afterFunc(c.grace, c.onSoftPause)
	}
	if d.Blocked {
		c.vetoed = true
	}
}

// unlock releases mu and then delivers a pending veto notification.
func (c *Controller) unlock() {
	veto := c.vetoed
	c.vetoed = false
	c.mu.Unlock()
	if veto {
		c.notify(ErrMustAnswer)
	}
}

func (c *Controller) onSoftPause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.softPause == nil || c.closed {
		return
	}
	c.softPause = nil
	if !c.state.Blocking() {
		return
	}
	c.state.Playing = false
	if err := c.surface.Pause(); err != nil {
		c.logger.Warn("soft pause failed", "err", err)
	}
	if c.state.Position > c.state.Ceiling {
		c.state.Position = c.state.Ceiling
		if err := c.surface.Seek(c.state.Position); err != nil {
			c.logger.Warn("clamp seek failed", "position", c.state.Position, "err", err)
		}
	}
}

func (c *Controller) cancelSoftPause() {
	if c.softPause != nil {
		c.softPause.Stop()
		c.softPause = nil
	}
}
