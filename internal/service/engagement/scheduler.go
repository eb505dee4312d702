// Package engagement decides when the chat window opens on its own and when
// the mini welcome bubble appears.
package engagement

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultBubbleDelay applies when the welcome bubble is enabled without a delay.
const DefaultBubbleDelay = time.Second

// Trigger names an owned timer or listener.
type Trigger string

const (
	TriggerDelayedOpen   Trigger = "delayed-open"
	TriggerScrollOpen    Trigger = "scroll-open"
	TriggerWelcomeBubble Trigger = "welcome-bubble"
)

// Cause explains a state transition.
type Cause string

const (
	CauseManual Cause = "manual"
	CauseDelay  Cause = "delay"
	CauseScroll Cause = "scroll"
	CauseBubble Cause = "bubble"
)

// Config holds the engagement inputs. Nil durations and thresholds mean "not configured".
type Config struct {
	OpenAfterDelay    bool
	OpenDelay         *time.Duration
	OpenOnScroll      bool
	ScrollThreshold   *float64
	ShowWelcomeBubble bool
	BubbleDelay       *time.Duration
}

// State is the observable window state plus the one-shot latches.
type State struct {
	Open                bool `json:"open"`
	BubbleVisible       bool `json:"bubbleVisible"`
	AutoOpenTriggered   bool `json:"autoOpenTriggered"`
	MiniBubbleTriggered bool `json:"miniBubbleTriggered"`
}

// Event is delivered after every transition.
type Event struct {
	State  State
	Cause  Cause
	Opened bool
}

// ScrollMetrics is a viewport sample.
type ScrollMetrics struct {
	ScrollTop    float64 `json:"top"`
	ScrollHeight float64 `json:"height"`
	ClientHeight float64 `json:"clientHeight"`
}

// Percent returns how far the page is scrolled, 0-100. ok is false when the
// page cannot scroll.
func (m ScrollMetrics) Percent() (pct float64, ok bool) {
	total := m.ScrollHeight - m.ClientHeight
	if total <= 0 {
		return 0, false
	}
	return m.ScrollTop / total * 100, true
}

type handle struct {
	timer *clock.Timer // nil for the scroll listener
}

// Scheduler owns the engagement timers of one mount. At most one handle per
// trigger is live; a callback whose handle was replaced or torn down is ignored.
type Scheduler struct {
	clock  clock.Clock
	notify func(Event)

	mu      sync.Mutex
	cfg     Config
	state   State
	handles map[Trigger]*handle
	stopped bool
}

// New creates a scheduler. notify runs outside the scheduler lock.
func New(clk clock.Clock, notify func(Event)) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		clock:   clk,
		notify:  notify,
		handles: make(map[Trigger]*handle),
	}
}

// Configure applies cfg. Triggers whose inputs did not change keep their
// running handle; changed ones are torn down before re-arming.
func (s *Scheduler) Configure(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	prev := s.cfg
	s.cfg = cfg
	for tr, h := range s.handles {
		if inputsChanged(tr, prev, cfg) {
			s.detach(tr, h)
		}
	}
	s.reconcile()
}

// State returns a snapshot of the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Armed reports whether trigger currently holds a live handle.
func (s *Scheduler) Armed(tr Trigger) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[tr]
	return ok
}

// Toggle flips the window. Any open hides the bubble and latches auto-open.
func (s *Scheduler) Toggle() Event {
	s.mu.Lock()
	if s.stopped {
		st := s.state
		s.mu.Unlock()
		return Event{State: st}
	}
	var ev Event
	if s.state.Open {
		ev = s.closeLocked()
	} else {
		ev = s.openLocked(CauseManual)
	}
	s.reconcile()
	s.mu.Unlock()

	s.emit(ev)
	return ev
}

// SetOpen moves the window to open. It is a no-op when already there.
func (s *Scheduler) SetOpen(open bool) (Event, bool) {
	s.mu.Lock()
	if s.state.Open == open || s.stopped {
		s.mu.Unlock()
		return Event{}, false
	}
	var ev Event
	if open {
		ev = s.openLocked(CauseManual)
	} else {
		ev = s.closeLocked()
	}
	s.reconcile()
	s.mu.Unlock()

	s.emit(ev)
	return ev, true
}

// Scroll feeds a viewport sample to the scroll listener. It reports whether
// the sample opened the window.
func (s *Scheduler) Scroll(m ScrollMetrics) bool {
	s.mu.Lock()
	if _, attached := s.handles[TriggerScrollOpen]; !attached || s.stopped {
		s.mu.Unlock()
		return false
	}
	pct, ok := m.Percent()
	if !ok || s.cfg.ScrollThreshold == nil || pct < *s.cfg.ScrollThreshold {
		s.mu.Unlock()
		return false
	}
	if s.state.Open || s.state.AutoOpenTriggered {
		s.mu.Unlock()
		return false
	}

	delete(s.handles, TriggerScrollOpen)
	ev := s.openLocked(CauseScroll)
	s.reconcile()
	s.mu.Unlock()

	s.emit(ev)
	return true
}

// Stop tears down every handle. Later calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for tr, h := range s.handles {
		s.detach(tr, h)
	}
}

func (s *Scheduler) openLocked(cause Cause) Event {
	s.state.Open = true
	s.state.BubbleVisible = false
	s.state.AutoOpenTriggered = true
	return Event{State: s.state, Cause: cause, Opened: true}
}

func (s *Scheduler) closeLocked() Event {
	s.state.Open = false
	return Event{State: s.state, Cause: CauseManual}
}

func (s *Scheduler) wanted(tr Trigger) bool {
	cfg, st := s.cfg, s.state
	switch tr {
	case TriggerDelayedOpen:
		return cfg.OpenAfterDelay && cfg.OpenDelay != nil && !st.Open && !st.AutoOpenTriggered
	case TriggerScrollOpen:
		return cfg.OpenOnScroll && cfg.ScrollThreshold != nil && !st.Open && !st.AutoOpenTriggered
	case TriggerWelcomeBubble:
		return cfg.ShowWelcomeBubble && !st.Open && !st.MiniBubbleTriggered
	}
	return false
}

// reconcile detaches handles that are no longer wanted and arms missing ones.
func (s *Scheduler) reconcile() {
	if s.stopped {
		return
	}
	for tr, h := range s.handles {
		if !s.wanted(tr) {
			s.detach(tr, h)
		}
	}

	if s.wanted(TriggerDelayedOpen) && s.handles[TriggerDelayedOpen] == nil {
		s.arm(TriggerDelayedOpen, *s.cfg.OpenDelay, s.fireDelayedOpen)
	}
	if s.wanted(TriggerScrollOpen) && s.handles[TriggerScrollOpen] == nil {
		s.handles[TriggerScrollOpen] = &handle{}
	}
	if s.wanted(TriggerWelcomeBubble) && s.handles[TriggerWelcomeBubble] == nil {
		delay := DefaultBubbleDelay
		if s.cfg.BubbleDelay != nil {
			delay = *s.cfg.BubbleDelay
		}
		s.arm(TriggerWelcomeBubble, delay, s.fireBubble)
	}
}

func (s *Scheduler) arm(tr Trigger, d time.Duration, fire func() (Event, bool)) {
	h := &handle{}
	s.handles[tr] = h
	h.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if s.stopped || s.handles[tr] != h {
			s.mu.Unlock()
			return
		}
		delete(s.handles, tr)
		ev, ok := fire()
		if ok {
			s.reconcile()
		}
		s.mu.Unlock()

		if ok {
			s.emit(ev)
		}
	})
}

func (s *Scheduler) detach(tr Trigger, h *handle) {
	if h.timer != nil {
		h.timer.Stop()
	}
	delete(s.handles, tr)
}

func (s *Scheduler) fireDelayedOpen() (Event, bool) {
	if s.state.Open || s.state.AutoOpenTriggered {
		return Event{}, false
	}
	return s.openLocked(CauseDelay), true
}

func (s *Scheduler) fireBubble() (Event, bool) {
	if s.state.Open || s.state.MiniBubbleTriggered {
		return Event{}, false
	}
	s.state.BubbleVisible = true
	s.state.MiniBubbleTriggered = true
	return Event{State: s.state, Cause: CauseBubble}, true
}

func (s *Scheduler) emit(ev Event) {
	if s.notify != nil {
		s.notify(ev)
	}
}

func inputsChanged(tr Trigger, a, b Config) bool {
	switch tr {
	case TriggerDelayedOpen:
		return a.OpenAfterDelay != b.OpenAfterDelay || !sameDuration(a.OpenDelay, b.OpenDelay)
	case TriggerScrollOpen:
		return a.OpenOnScroll != b.OpenOnScroll || !sameFloat(a.ScrollThreshold, b.ScrollThreshold)
	case TriggerWelcomeBubble:
		return a.ShowWelcomeBubble != b.ShowWelcomeBubble || !sameDuration(a.BubbleDelay, b.BubbleDelay)
	}
	return true
}

func sameDuration(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
