package engagement

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) causes() []Cause {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Cause, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Cause)
	}
	return out
}

func dur(d time.Duration) *time.Duration { return &d }
func pct(v float64) *float64             { return &v }

func newScheduler(t *testing.T) (*Scheduler, *clock.Mock, *recorder) {
	t.Helper()
	mock := clock.NewMock()
	rec := &recorder{}
	s := New(mock, rec.record)
	t.Cleanup(s.Stop)
	return s, mock, rec
}

func waitOpen(t *testing.T, s *Scheduler) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State().Open }, time.Second, time.Millisecond)
}

func TestDelayedOpenFiresAtConfiguredDelay(t *testing.T) {
	s, mock, rec := newScheduler(t)
	s.Configure(Config{OpenAfterDelay: true, OpenDelay: dur(5 * time.Second)})

	mock.Add(4900 * time.Millisecond)
	assert.False(t, s.State().Open)

	mock.Add(100 * time.Millisecond)
	waitOpen(t, s)

	st := s.State()
	assert.True(t, st.AutoOpenTriggered)
	assert.False(t, s.Armed(TriggerDelayedOpen))
	require.Eventually(t, func() bool { return len(rec.causes()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []Cause{CauseDelay}, rec.causes())
}

func TestDelayedOpenNeedsBothFlagAndDelay(t *testing.T) {
	s, mock, _ := newScheduler(t)
	s.Configure(Config{OpenAfterDelay: true})
	assert.False(t, s.Armed(TriggerDelayedOpen))

	s.Configure(Config{OpenDelay: dur(time.Second)})
	assert.False(t, s.Armed(TriggerDelayedOpen))

	mock.Add(time.Minute)
	assert.False(t, s.State().Open)
}

func TestAutoOpenNeverReopensAfterManualClose(t *testing.T) {
	s, mock, _ := newScheduler(t)
	s.Configure(Config{
		OpenAfterDelay:  true,
		OpenDelay:       dur(5 * time.Second),
		OpenOnScroll:    true,
		ScrollThreshold: pct(50),
	})

	mock.Add(2 * time.Second)
	s.Toggle()
	require.True(t, s.State().Open)
	mock.Add(time.Second)
	s.Toggle()
	require.False(t, s.State().Open)

	mock.Add(10 * time.Second)
	assert.False(t, s.Scroll(ScrollMetrics{ScrollTop: 900, ScrollHeight: 1000, ClientHeight: 100}))
	assert.False(t, s.State().Open)
	assert.False(t, s.Armed(TriggerDelayedOpen))
	assert.False(t, s.Armed(TriggerScrollOpen))
}

func TestScrollOpensAtThreshold(t *testing.T) {
	s, _, rec := newScheduler(t)
	s.Configure(Config{OpenOnScroll: true, ScrollThreshold: pct(50)})
	require.True(t, s.Armed(TriggerScrollOpen))

	// 360 / (1000-100) = 40%
	assert.False(t, s.Scroll(ScrollMetrics{ScrollTop: 360, ScrollHeight: 1000, ClientHeight: 100}))
	assert.False(t, s.State().Open)

	// 450 / 900 = 50%
	assert.True(t, s.Scroll(ScrollMetrics{ScrollTop: 450, ScrollHeight: 1000, ClientHeight: 100}))
	assert.True(t, s.State().Open)
	assert.False(t, s.Armed(TriggerScrollOpen))

	s.Toggle()
	assert.False(t, s.Scroll(ScrollMetrics{ScrollTop: 900, ScrollHeight: 1000, ClientHeight: 100}))
	assert.False(t, s.State().Open)
	assert.Equal(t, []Cause{CauseScroll, CauseManual}, rec.causes())
}

func TestScrollWithoutScrollableHeight(t *testing.T) {
	s, _, _ := newScheduler(t)
	s.Configure(Config{OpenOnScroll: true, ScrollThreshold: pct(0)})

	assert.False(t, s.Scroll(ScrollMetrics{ScrollTop: 0, ScrollHeight: 600, ClientHeight: 800}))
	assert.False(t, s.Scroll(ScrollMetrics{}))
	assert.False(t, s.State().Open)
	assert.True(t, s.Armed(TriggerScrollOpen))
}

func TestDelayAndScrollOnlyOneOpens(t *testing.T) {
	s, mock, rec := newScheduler(t)
	s.Configure(Config{
		OpenAfterDelay:  true,
		OpenDelay:       dur(5 * time.Second),
		OpenOnScroll:    true,
		ScrollThreshold: pct(10),
	})

	require.True(t, s.Scroll(ScrollMetrics{ScrollTop: 500, ScrollHeight: 1000, ClientHeight: 100}))
	assert.False(t, s.Armed(TriggerDelayedOpen))

	s.Toggle()
	mock.Add(10 * time.Second)
	assert.False(t, s.State().Open)
	assert.Equal(t, []Cause{CauseScroll, CauseManual}, rec.causes())
}

func TestWelcomeBubbleDefaultDelay(t *testing.T) {
	s, mock, _ := newScheduler(t)
	s.Configure(Config{ShowWelcomeBubble: true})

	mock.Add(900 * time.Millisecond)
	assert.False(t, s.State().BubbleVisible)

	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return s.State().BubbleVisible }, time.Second, time.Millisecond)
	assert.True(t, s.State().MiniBubbleTriggered)
}

func TestOpeningHidesBubble(t *testing.T) {
	s, mock, _ := newScheduler(t)
	s.Configure(Config{ShowWelcomeBubble: true, BubbleDelay: dur(2 * time.Second)})

	mock.Add(2 * time.Second)
	require.Eventually(t, func() bool { return s.State().BubbleVisible }, time.Second, time.Millisecond)

	s.Toggle()
	st := s.State()
	assert.True(t, st.Open)
	assert.False(t, st.BubbleVisible)

	// the bubble never comes back once shown
	s.Toggle()
	mock.Add(time.Minute)
	assert.False(t, s.State().BubbleVisible)
	assert.False(t, s.Armed(TriggerWelcomeBubble))
}

func TestBubbleRearmsAfterEarlyManualOpen(t *testing.T) {
	s, mock, _ := newScheduler(t)
	s.Configure(Config{ShowWelcomeBubble: true, BubbleDelay: dur(3 * time.Second)})

	mock.Add(time.Second)
	s.Toggle()
	assert.False(t, s.Armed(TriggerWelcomeBubble))

	mock.Add(5 * time.Second)
	assert.False(t, s.State().BubbleVisible)

	s.Toggle()
	assert.True(t, s.Armed(TriggerWelcomeBubble))
	mock.Add(3 * time.Second)
	require.Eventually(t, func() bool { return s.State().BubbleVisible }, time.Second, time.Millisecond)
}

func TestReconfigureUnchangedInputsKeepsTimer(t *testing.T) {
	s, mock, _ := newScheduler(t)
	cfg := Config{OpenAfterDelay: true, OpenDelay: dur(5 * time.Second)}
	s.Configure(cfg)

	mock.Add(3 * time.Second)
	cfg.ShowWelcomeBubble = true
	s.Configure(cfg)

	mock.Add(2 * time.Second)
	waitOpen(t, s)
}

func TestReconfigureChangedDelayRestartsTimer(t *testing.T) {
	s, mock, _ := newScheduler(t)
	s.Configure(Config{OpenAfterDelay: true, OpenDelay: dur(5 * time.Second)})

	mock.Add(3 * time.Second)
	s.Configure(Config{OpenAfterDelay: true, OpenDelay: dur(4 * time.Second)})

	mock.Add(3 * time.Second)
	assert.False(t, s.State().Open)

	mock.Add(time.Second)
	waitOpen(t, s)
}

func TestDisabledTriggerIgnoresStaleTimer(t *testing.T) {
	s, mock, _ := newScheduler(t)
	s.Configure(Config{OpenAfterDelay: true, OpenDelay: dur(time.Second)})
	s.Configure(Config{})

	mock.Add(5 * time.Second)
	assert.False(t, s.State().Open)
	assert.False(t, s.Armed(TriggerDelayedOpen))
}

func TestStopTearsDownEverything(t *testing.T) {
	s, mock, rec := newScheduler(t)
	s.Configure(Config{
		OpenAfterDelay:    true,
		OpenDelay:         dur(time.Second),
		OpenOnScroll:      true,
		ScrollThreshold:   pct(10),
		ShowWelcomeBubble: true,
	})
	s.Stop()

	mock.Add(time.Minute)
	assert.False(t, s.Scroll(ScrollMetrics{ScrollTop: 900, ScrollHeight: 1000, ClientHeight: 100}))
	s.Toggle()
	s.Configure(Config{OpenAfterDelay: true, OpenDelay: dur(time.Second)})
	mock.Add(time.Minute)

	assert.Equal(t, State{}, s.State())
	assert.Empty(t, rec.causes())
}

func TestSetOpenIsIdempotent(t *testing.T) {
	s, _, rec := newScheduler(t)

	_, changed := s.SetOpen(true)
	assert.True(t, changed)
	_, changed = s.SetOpen(true)
	assert.False(t, changed)
	_, changed = s.SetOpen(false)
	assert.True(t, changed)

	assert.Equal(t, []Cause{CauseManual, CauseManual}, rec.causes())
}

func TestPercent(t *testing.T) {
	p, ok := ScrollMetrics{ScrollTop: 250, ScrollHeight: 600, ClientHeight: 100}.Percent()
	require.True(t, ok)
	assert.InDelta(t, 50.0, p, 0.0001)

	_, ok = ScrollMetrics{ScrollHeight: 100, ClientHeight: 100}.Percent()
	assert.False(t, ok)
}
