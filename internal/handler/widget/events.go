package widget

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/optinbot/widget/internal/service/engagement"
	"github.com/optinbot/widget/internal/service/mount"
)

// Event types accepted from renderers.
const (
	EventToggle      = "toggle"
	EventOpen        = "open"
	EventClose       = "close"
	EventScroll      = "scroll"
	EventSend        = "send"
	EventSuggested   = "suggested"
	EventPageHide    = "pagehide"
	EventReconfigure = "reconfigure"
)

var errInvalidEvent = errors.New("invalid event")

// Event is one renderer interaction.
type Event struct {
	Type   string                    `json:"type"`
	Text   string                    `json:"text,omitempty"`
	Index  *int                      `json:"index,omitempty"`
	Scroll *engagement.ScrollMetrics `json:"scroll,omitempty"`
	Theme  json.RawMessage           `json:"theme,omitempty"`
}

// applyEvent routes ev to the controller and returns the resulting state.
func applyEvent(c *mount.Controller, ev Event) (mount.Snapshot, error) {
	switch ev.Type {
	case EventToggle:
		return c.Toggle(), nil
	case EventOpen:
		return c.SetOpen(true), nil
	case EventClose:
		return c.SetOpen(false), nil
	case EventScroll:
		if ev.Scroll == nil {
			return mount.Snapshot{}, fmt.Errorf("%w: scroll metrics required", errInvalidEvent)
		}
		return c.Scroll(*ev.Scroll), nil
	case EventSend:
		if err := c.Send(ev.Text); err != nil {
			return mount.Snapshot{}, err
		}
	case EventSuggested:
		if ev.Index == nil {
			return mount.Snapshot{}, fmt.Errorf("%w: index required", errInvalidEvent)
		}
		if err := c.SendSuggested(*ev.Index); err != nil {
			return mount.Snapshot{}, err
		}
	case EventPageHide:
		c.PageHide()
	case EventReconfigure:
		if len(ev.Theme) == 0 {
			return mount.Snapshot{}, fmt.Errorf("%w: theme required", errInvalidEvent)
		}
		snap, err := c.Reconfigure(ev.Theme)
		if err != nil {
			return mount.Snapshot{}, fmt.Errorf("%w: %w", errInvalidEvent, err)
		}
		return snap, nil
	default:
		return mount.Snapshot{}, fmt.Errorf("%w: unsupported type %q", errInvalidEvent, ev.Type)
	}
	return c.Snapshot(), nil
}

