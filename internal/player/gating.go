// Package player gates an assessment against its media timeline.
//
// State is an explicit value and the functions that move it (Observe,
// RequestSeek, Answer, Confirm, AcknowledgeLastPage) are pure. Controller
// owns one State, drives a MediaSurface and schedules the soft pause.
package player

import (
	"math"

	"github.com/mind-engage/mindengage-training/internal/assessment"
)

// DefaultEpsilon is how close to the end, in seconds, playback counts as finished.
const DefaultEpsilon = 0.25

type Status int

const (
	Hidden Status = iota
	Visible
	Answered
	Confirmed
)

func (s Status) String() string {
	switch s {
	case Visible:
		return "visible"
	case Answered:
		return "answered"
	case Confirmed:
		return "confirmed"
	default:
		return "hidden"
	}
}

type gate struct {
	ID      string
	Trigger float64
	Status  Status
	Seen    bool // reached Visible at least once
}

// State is the whole gating state of one session.
type State struct {
	Paged            bool
	End              float64 // duration in seconds, or page count
	Position         float64
	Furthest         float64
	Ceiling          float64
	Playing          bool
	MaterialFinished bool
	Epsilon          float64

	gates []gate // structure order
}

// Decision is the outcome of a position report or navigation request.
type Decision struct {
	State    State
	Revealed []string // question ids that became Visible
	Clamped  bool     // position was pulled back to the ceiling
	Pause    bool     // playback must stop now
	Blocked  bool     // a user action was vetoed
}

// New builds the initial state for st played on media of length end.
func New(st assessment.Structure, end float64) State {
	s := State{
		Paged:   st.Media != nil && st.Media.Kind.Paged(),
		End:     end,
		Epsilon: DefaultEpsilon,
		gates:   make([]gate, 0, len(st.Questions)),
	}
	for _, q := range st.Questions {
		s.gates = append(s.gates, gate{ID: q.ID, Trigger: q.Trigger})
	}
	if s.Paged {
		s.Position = 1
		s.Furthest = 1
	}
	s.Ceiling = s.nextCeiling()
	return s
}

func (s State) clone() State {
	s.gates = append([]gate(nil), s.gates...)
	return s
}

// nextCeiling is min(end, nearest unconfirmed trigger).
func (s State) nextCeiling() float64 {
	c := s.End
	for _, g := range s.gates {
		if g.Status != Confirmed && g.Trigger < c {
			c = g.Trigger
		}
	}
	return c
}

// Status reports the status of question id.
func (s State) Status(id string) (Status, bool) {
	for _, g := range s.gates {
		if g.ID == id {
			return g.Status, true
		}
	}
	return Hidden, false
}

// Pending lists Visible or Answered questions, i.e. shown but unconfirmed.
func (s State) Pending() []string {
	var out []string
	for _, g := range s.gates {
		if g.Status == Visible || g.Status == Answered {
			out = append(out, g.ID)
		}
	}
	return out
}

// Blocking reports whether some question is shown but unconfirmed.
func (s State) Blocking() bool { return len(s.Pending()) > 0 }

// Observe applies a position reported by the media surface. Time-based
// questions reveal against the reported position before it is clamped;
// pages reveal against the clamped page. slack lets natural playback run
// past the ceiling while a soft pause is pending.
func Observe(s State, pos, slack float64) Decision {
	d := Decision{State: s.clone()}
	pos = d.State.bound(pos)
	if d.State.Paged {
		d.clampTo(pos, 0)
		d.reveal(func(g gate) bool { return g.Trigger == d.State.Position })
	} else {
		d.reveal(func(g gate) bool { return pos >= g.Trigger })
		d.clampTo(pos, slack)
	}
	d.State.settle()
	return d
}

// RequestSeek applies a user navigation to target. Moving past the ceiling
// is vetoed: the position is clamped, playback paused and Blocked set.
// Questions reveal against the position actually reached.
func RequestSeek(s State, target float64) Decision {
	d := Decision{State: s.clone()}
	target = d.State.bound(target)
	d.clampTo(target, 0)
	if d.Clamped {
		d.Blocked = true
	}
	at := d.State.Position
	if d.State.Paged {
		d.reveal(func(g gate) bool { return g.Trigger == at })
	} else {
		d.reveal(func(g gate) bool { return at >= g.Trigger })
	}
	d.State.settle()
	return d
}

// RequestPlay vetoes resuming playback while the position sits on a ceiling
// short of the end.
func RequestPlay(s State) Decision {
	d := Decision{State: s.clone()}
	if d.State.Position >= d.State.Ceiling && d.State.Ceiling < d.State.End && d.State.Blocking() {
		d.Pause = true
		d.Blocked = true
		d.State.Playing = false
		return d
	}
	d.State.Playing = true
	return d
}

// Answer moves a Visible question to Answered when answered is true and an
// Answered one back to Visible when the value was cleared.
func Answer(s State, id string, answered bool) (State, error) {
	out := s.clone()
	i := out.index(id)
	if i < 0 {
		return s, ErrUnknownQuestion
	}
	g := &out.gates[i]
	switch {
	case g.Status == Hidden:
		return s, ErrNotVisible
	case g.Status == Visible && answered:
		g.Status = Answered
	case g.Status == Answered && !answered:
		g.Status = Visible
	}
	return out, nil
}

// Confirm locks an Answered question and raises the ceiling to the nearest
// unconfirmed trigger. The ceiling never decreases.
func Confirm(s State, id string) (State, error) {
	out := s.clone()
	i := out.index(id)
	if i < 0 {
		return s, ErrUnknownQuestion
	}
	switch out.gates[i].Status {
	case Confirmed:
		return s, nil
	case Answered:
	default:
		return s, ErrNotAnswered
	}
	out.gates[i].Status = Confirmed
	out.Ceiling = math.Max(out.Ceiling, out.nextCeiling())
	return out, nil
}

// AcknowledgeLastPage finishes a paged document once its last page is shown.
func AcknowledgeLastPage(s State) (State, error) {
	if !s.Paged {
		return s, ErrNotPaged
	}
	if s.Position < s.End {
		return s, ErrNotLastPage
	}
	out := s.clone()
	out.MaterialFinished = true
	return out, nil
}

// CanSubmit requires the material finished, nothing pending and every
// question to have been shown at least once.
func CanSubmit(s State) bool {
	if !s.MaterialFinished {
		return false
	}
	for _, g := range s.gates {
		if !g.Seen || g.Status == Visible || g.Status == Answered {
			return false
		}
	}
	return true
}

// Progress summarizes a session for display.
type Progress struct {
	Total     int     `json:"total"`
	Revealed  int     `json:"revealed"`
	Answered  int     `json:"answered"`
	Confirmed int     `json:"confirmed"`
	Percent   float64 `json:"percent"` // of the timeline reached
	Finished  bool    `json:"finished"`
}

func ProgressOf(s State) Progress {
	p := Progress{Total: len(s.gates), Finished: s.MaterialFinished}
	for _, g := range s.gates {
		if g.Seen {
			p.Revealed++
		}
		switch g.Status {
		case Answered:
			p.Answered++
		case Confirmed:
			p.Answered++
			p.Confirmed++
		}
	}
	if s.End > 0 {
		p.Percent = math.Round(s.Furthest/s.End*1000) / 10
	}
	return p
}

func (s State) index(id string) int {
	for i, g := range s.gates {
		if g.ID == id {
			return i
		}
	}
	return -1
}

func (s State) bound(pos float64) float64 {
	lo := 0.0
	if s.Paged {
		lo = 1
		pos = math.Round(pos)
	}
	return math.Min(math.Max(pos, lo), s.End)
}

func (d *Decision) clampTo(pos, slack float64) {
	st := &d.State
	if pos > st.Ceiling+slack {
		pos = st.Ceiling
		d.Clamped = true
		d.Pause = true
		st.Playing = false
	}
	st.Position = pos
	if pos > st.Furthest {
		st.Furthest = pos
	}
}

func (d *Decision) reveal(hit func(gate) bool) {
	for i := range d.State.gates {
		g := &d.State.gates[i]
		if g.Status == Hidden && hit(*g) {
			g.Status = Visible
			g.Seen = true
			d.Revealed = append(d.Revealed, g.ID)
		}
	}
}

func (s *State) settle() {
	if !s.Paged && s.Position >= s.End-s.Epsilon {
		s.MaterialFinished = true
	}
}
