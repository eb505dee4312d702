// Package mount runs one widget instance per page mount: it resolves gating,
// issues the session, drives engagement and relays chat traffic.
package mount

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/optinbot/widget/internal/model/widget"
	"github.com/optinbot/widget/internal/service/conversation"
	"github.com/optinbot/widget/internal/service/dispatch"
	"github.com/optinbot/widget/internal/service/engagement"
	"github.com/optinbot/widget/internal/service/render"
	"github.com/optinbot/widget/internal/service/session"
	"github.com/optinbot/widget/internal/service/transcript"
	"github.com/optinbot/widget/internal/service/webhook"
)

// ErrUnavailable is returned for chat actions on a mount whose account is inactive.
var ErrUnavailable = errors.New("chat is unavailable for this account")

// Resolver resolves the gating state of a client account.
type Resolver interface {
	Resolve(ctx context.Context, scope, clientID string) widget.GatingState
}

// Options are shared by every mount of a registry.
type Options struct {
	Poster       webhook.Poster
	Gate         Resolver
	Clock        clock.Clock
	Renderer     *render.Renderer
	FlushTimeout time.Duration
	Preview      widget.PreviewRules
	EventRate    rate.Limit
	EventBurst   int
}

// PoweredBy is the branding footer.
type PoweredBy struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Snapshot is everything a renderer needs to draw the widget.
type Snapshot struct {
	MountID           string             `json:"mountId"`
	SessionID         string             `json:"sessionId"`
	Gating            widget.GatingState `json:"gating"`
	Preview           bool               `json:"preview"`
	Open              bool               `json:"open"`
	BubbleVisible     bool               `json:"bubbleVisible"`
	BubbleText        string             `json:"bubbleText"`
	Loading           bool               `json:"loading"`
	Messages          []render.Message   `json:"messages"`
	SuggestedMessages []string           `json:"suggestedMessages"`
	Theme             widget.Theme       `json:"theme"`
	PoweredBy         *PoweredBy         `json:"poweredBy,omitempty"`
	Version           uint64             `json:"version"`
}

// Controller owns every resource of one mount.
type Controller struct {
	id      string
	tabID   string
	preview bool
	gating  widget.GatingState
	clock   clock.Clock

	sessions   *session.Manager
	store      *conversation.Store
	scheduler  *engagement.Scheduler
	dispatcher *dispatch.Dispatcher
	flusher    *transcript.Flusher
	renderer   *render.Renderer
	limiter    *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	// reconfigMu orders whole reconfigurations; it is taken before mu.
	reconfigMu sync.Mutex

	mu       sync.Mutex
	cfg      widget.Config
	version  uint64
	subs     map[uint64]chan Snapshot
	nextSub  uint64
	lastSeen time.Time
	closed   bool
}

func newController(ctx context.Context, parent context.Context, id, tabID string, cfg widget.Config, page widget.PageContext, opts Options) *Controller {
	clk := opts.Clock
	if clk == nil {
		clk = defaultClock()
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = render.New(nil)
	}
	limit := opts.EventRate
	if limit == 0 {
		limit = rate.Inf
	}

	c := &Controller{
		id:       id,
		tabID:    tabID,
		preview:  widget.DetectPreview(cfg, page, opts.Preview),
		clock:    clk,
		renderer: renderer,
		limiter:  rate.NewLimiter(limit, max(opts.EventBurst, 1)),
		cfg:      cfg,
		subs:     make(map[uint64]chan Snapshot),
		lastSeen: clk.Now(),
	}
	c.ctx, c.cancel = context.WithCancel(parent)

	c.sessions = session.NewManager(cfg.ClientID)
	c.sessions.Ensure()

	c.gating = opts.Gate.Resolve(ctx, tabID, cfg.ClientID)
	if c.gating == widget.GatingActive && c.preview {
		c.gating = widget.GatingPreview
	}

	c.store = conversation.NewStore()
	c.store.OnChange(c.publish)
	c.dispatcher = dispatch.New(opts.Poster, cfg.N8nWebhookURL, cfg.ClientID, c.sessions, c.store)
	c.flusher = transcript.New(opts.Poster, cfg.N8nWebhookURL, cfg.ClientID, c.preview, c.sessions, c.store, opts.FlushTimeout)
	c.scheduler = engagement.New(clk, c.onEngagement)
	if c.gating != widget.GatingInactive {
		c.scheduler.Configure(engagementConfig(cfg.Theme))
	}
	return c
}

func defaultClock() clock.Clock {
	return clock.New()
}

func engagementConfig(t widget.Theme) engagement.Config {
	var threshold *float64
	if t.OpenOnScrollThreshold != nil {
		v := *t.OpenOnScrollThreshold
		threshold = &v
	}
	return engagement.Config{
		OpenAfterDelay:    t.OpenAfterDelay,
		OpenDelay:         widget.Seconds(t.OpenDelaySeconds),
		OpenOnScroll:      t.OpenOnScroll,
		ScrollThreshold:   threshold,
		ShowWelcomeBubble: t.ShowWelcomeBubble,
		BubbleDelay:       widget.Seconds(t.WelcomeBubbleDelaySeconds),
	}
}

// ID returns the mount id.
func (c *Controller) ID() string { return c.id }

// SessionID returns the conversation id issued at mount.
func (c *Controller) SessionID() string { return c.sessions.ID() }

// Gating returns the UI variant.
func (c *Controller) Gating() widget.GatingState { return c.gating }

// Allow reports whether another renderer event fits in the rate budget.
func (c *Controller) Allow() bool { return c.limiter.Allow() }

// Toggle flips the chat window.
func (c *Controller) Toggle() Snapshot {
	c.touch()
	c.scheduler.Toggle()
	return c.Snapshot()
}

// SetOpen opens or closes the chat window.
func (c *Controller) SetOpen(open bool) Snapshot {
	c.touch()
	c.scheduler.SetOpen(open)
	return c.Snapshot()
}

// Scroll forwards a viewport sample to the scroll trigger.
func (c *Controller) Scroll(m engagement.ScrollMetrics) Snapshot {
	c.touch()
	c.scheduler.Scroll(m)
	return c.Snapshot()
}

// Send appends the visitor's message and dispatches it in the background.
// Replies arrive in send order. Blank text is ignored.
func (c *Controller) Send(text string) error {
	c.touch()
	if c.gating == widget.GatingInactive {
		return ErrUnavailable
	}
	if c.isClosed() {
		return nil
	}
	c.dispatcher.Enqueue(c.ctx, text)
	return nil
}

// SendSuggested sends the canned prompt at index. Out-of-range indexes are ignored.
func (c *Controller) SendSuggested(index int) error {
	c.mu.Lock()
	suggestions := c.cfg.Theme.SuggestedMessages
	c.mu.Unlock()

	if index < 0 || index >= len(suggestions) {
		return nil
	}
	return c.Send(suggestions[index])
}

// PageHide flushes the transcript notice. It reports whether a request was issued.
func (c *Controller) PageHide() bool {
	c.touch()
	return c.flusher.Flush(c.ctx)
}

// Reconfigure merges a partial theme over the current one. Engagement
// triggers are only rebuilt where their inputs changed.
func (c *Controller) Reconfigure(patch []byte) (Snapshot, error) {
	c.touch()
	c.reconfigMu.Lock()
	defer c.reconfigMu.Unlock()

	c.mu.Lock()
	theme, err := c.cfg.Theme.Merge(patch)
	if err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}
	c.cfg.Theme = theme
	c.mu.Unlock()

	if c.gating != widget.GatingInactive {
		c.scheduler.Configure(engagementConfig(theme))
	}
	c.publish()
	return c.Snapshot(), nil
}

// Wait blocks until queued exchanges and an issued transcript flush finish.
func (c *Controller) Wait() {
	c.dispatcher.Wait()
	if c.flusher.Flushed() {
		<-c.flusher.Done()
	}
}

// LastSeen returns when the renderer last interacted with the mount.
func (c *Controller) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Subscribe streams snapshots, starting with the current one. Slow readers
// only see the latest snapshot. cancel must be called when done.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Snapshot returns the current render state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close tears down timers, listeners and subscribers. It does not flush.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()

	c.scheduler.Stop()
	c.cancel()
	log.Info().Str("mount", c.id).Str("sessionId", c.SessionID()).Msg("[mount] unmounted")
}

func (c *Controller) onEngagement(ev engagement.Event) {
	if ev.Opened {
		c.mu.Lock()
		greeting := c.cfg.Theme.WelcomeMessage
		c.mu.Unlock()
		c.store.SeedGreetingIfEmpty(greeting)
	}
	log.Debug().Str("mount", c.id).Str("cause", string(ev.Cause)).Bool("open", ev.State.Open).Msg("[mount] engagement")
	c.publish()
}

func (c *Controller) publish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.version++
	snap := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	state := c.scheduler.State()
	theme := c.cfg.Theme

	snap := Snapshot{
		MountID:           c.id,
		SessionID:         c.sessions.ID(),
		Gating:            c.gating,
		Preview:           c.preview,
		Open:              state.Open,
		BubbleVisible:     state.BubbleVisible,
		BubbleText:        theme.BubbleText(),
		Loading:           c.store.Loading(),
		Messages:          c.renderer.Messages(c.store.Messages()),
		SuggestedMessages: append([]string(nil), theme.SuggestedMessages...),
		Theme:             theme,
		Version:           c.version,
	}
	if theme.ShowPoweredByBranding && theme.PoweredByText != "" {
		snap.PoweredBy = &PoweredBy{Text: theme.PoweredByText, URL: theme.PoweredByURL}
	}
	return snap
}

func (c *Controller) touch() {
	c.mu.Lock()
	c.lastSeen = c.clock.Now()
	c.mu.Unlock()
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
