package mount

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/optinbot/widget/internal/model/widget"
)

var (
	ErrMountNotFound = errors.New("mount not found")
	ErrInvalidConfig = errors.New("invalid widget config")
)

// Request describes a new mount as posted by the loader.
type Request struct {
	TabID  string             `json:"tabId"`
	Config json.RawMessage    `json:"config"`
	Page   widget.PageContext `json:"page"`
}

// Registry tracks live mounts.
type Registry struct {
	ctx      context.Context
	defaults widget.Config
	opts     Options
	idleTTL  time.Duration

	mu     sync.RWMutex
	mounts map[string]*Controller
}

// NewRegistry returns a registry whose mounts live at most as long as ctx.
// Host configs are merged over defaults.
func NewRegistry(ctx context.Context, defaults widget.Config, opts Options, idleTTL time.Duration) *Registry {
	return &Registry{
		ctx:      ctx,
		defaults: defaults,
		opts:     opts,
		idleTTL:  idleTTL,
		mounts:   make(map[string]*Controller),
	}
}

// Defaults returns a copy of the base configuration.
func (r *Registry) Defaults() widget.Config {
	return r.defaults.Clone()
}

// Mount resolves the host config and starts a controller. Configuration
// problems fail here, before anything is armed.
func (r *Registry) Mount(ctx context.Context, req Request) (*Controller, error) {
	cfg, err := widget.Resolve(r.defaults, req.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	tabID := req.TabID
	if tabID == "" {
		tabID = "tab-" + uuid.NewString()
	}

	c := newController(ctx, r.ctx, uuid.NewString(), tabID, cfg, req.Page, r.opts)

	r.mu.Lock()
	r.mounts[c.ID()] = c
	r.mu.Unlock()

	log.Info().
		Str("mount", c.ID()).
		Str("clientId", cfg.ClientID).
		Str("sessionId", c.SessionID()).
		Str("gating", string(c.Gating())).
		Msg("[mount] mounted")
	return c, nil
}

// Get looks a mount up by id.
func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.mounts[id]
	if !ok {
		return nil, ErrMountNotFound
	}
	return c, nil
}

// Unmount stops and forgets a mount.
func (r *Registry) Unmount(id string) error {
	r.mu.Lock()
	c, ok := r.mounts[id]
	delete(r.mounts, id)
	r.mu.Unlock()

	if !ok {
		return ErrMountNotFound
	}
	c.Close()
	return nil
}

// Len returns the number of live mounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mounts)
}

// Reap unmounts every mount idle since before now minus the idle TTL.
func (r *Registry) Reap(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-r.idleTTL)

	r.mu.Lock()
	var stale []*Controller
	for id, c := range r.mounts {
		if c.LastSeen().Before(cutoff) {
			stale = append(stale, c)
			delete(r.mounts, id)
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		c.Close()
	}
	if len(stale) > 0 {
		log.Info().Int("count", len(stale)).Msg("[mount] reaped idle mounts")
	}
	return len(stale)
}

// Run reaps idle mounts every interval until ctx is done, then closes all mounts.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		r.Close()
		return
	}
	clk := r.opts.Clock
	if clk == nil {
		clk = defaultClock()
	}
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case <-ticker.C:
			r.Reap(clk.Now())
		}
	}
}

// Close unmounts everything.
func (r *Registry) Close() {
	r.mu.Lock()
	mounts := r.mounts
	r.mounts = make(map[string]*Controller)
	r.mu.Unlock()

	for _, c := range mounts {
		c.Close()
	}
}
