package widget

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMissingClientID   = errors.New("widget config: clientId is required")
	ErrMissingWebhookURL = errors.New("widget config: n8nWebhookUrl is required")
)

// Theme carries presentation and engagement settings. Absent optional numbers stay nil.
type Theme struct {
	PrimaryColor              string   `json:"primaryColor"`
	UserBubbleColor           string   `json:"userBubbleColor"`
	BotBubbleColor            string   `json:"botBubbleColor"`
	ChatWindowBgColor         string   `json:"chatWindowBgColor"`
	ButtonPosition            string   `json:"buttonPosition"`
	WelcomeMessage            string   `json:"welcomeMessage"`
	CustomIconURL             string   `json:"customIconUrl"`
	HeaderTitle               string   `json:"headerTitle"`
	HeaderIconURL             string   `json:"headerIconUrl"`
	ShowOnlineStatus          bool     `json:"showOnlineStatus"`
	InputPlaceholder          string   `json:"inputPlaceholder"`
	SuggestedMessages         []string `json:"suggestedMessages"`
	OpenAfterDelay            bool     `json:"openAfterDelay"`
	OpenDelaySeconds          *float64 `json:"openDelaySeconds,omitempty"`
	OpenOnScroll              bool     `json:"openOnScroll"`
	OpenOnScrollThreshold     *float64 `json:"openOnScrollThreshold,omitempty"`
	ShowWelcomeBubble         bool     `json:"showWelcomeBubble"`
	WelcomeBubbleText         string   `json:"welcomeBubbleText"`
	WelcomeBubbleColor        string   `json:"welcomeBubbleColor"`
	WelcomeBubbleTextColor    string   `json:"welcomeBubbleTextColor"`
	WelcomeBubbleDelaySeconds *float64 `json:"welcomeBubbleDelaySeconds,omitempty"`
	PoweredByText             string   `json:"poweredByText"`
	PoweredByURL              string   `json:"poweredByUrl"`
	ShowPoweredByBranding     bool     `json:"showPoweredByBranding"`
}

// Config is the effective configuration of one widget mount.
type Config struct {
	N8nWebhookURL string `json:"n8nWebhookUrl"`
	ClientID      string `json:"clientId"`
	IsPreview     bool   `json:"isPreview,omitempty"`
	Theme         Theme  `json:"theme"`
}

// Default returns a fresh copy of the built-in configuration.
// The webhook URL and client id are left for the host or server config to supply.
func Default() Config {
	return Config{
		Theme: Theme{
			PrimaryColor:      "#08788bff",
			UserBubbleColor:   "#d2f2f7ff",
			BotBubbleColor:    "#e4e2e2ff",
			ChatWindowBgColor: "#ffffff",
			ButtonPosition:    "bottom-right",
			WelcomeMessage:    "Hello! How can I help you? 👋",
			HeaderTitle:       "AI Assistant",
			ShowOnlineStatus:  true,
			InputPlaceholder:  "Type your message...",
			SuggestedMessages: []string{
				"What are your pricing plans?",
				"How does the chatbot work?",
				"Can I customize the widget?",
				"Talk to a human",
			},
			OpenAfterDelay:            false,
			OpenDelaySeconds:          float(5),
			OpenOnScroll:              false,
			OpenOnScrollThreshold:     float(50),
			ShowWelcomeBubble:         true,
			WelcomeBubbleText:         "Need help?",
			WelcomeBubbleColor:        "#f0f0f0",
			WelcomeBubbleTextColor:    "#333",
			WelcomeBubbleDelaySeconds: float(1),
			PoweredByText:             "Powered by OptInBot",
			PoweredByURL:              "https://optinbot.io",
			ShowPoweredByBranding:     true,
		},
	}
}

// Clone deep-copies slices and optional numbers so merges never alias the source.
func (c Config) Clone() Config {
	out := c
	out.Theme.SuggestedMessages = append([]string(nil), c.Theme.SuggestedMessages...)
	out.Theme.OpenDelaySeconds = cloneFloat(c.Theme.OpenDelaySeconds)
	out.Theme.OpenOnScrollThreshold = cloneFloat(c.Theme.OpenOnScrollThreshold)
	out.Theme.WelcomeBubbleDelaySeconds = cloneFloat(c.Theme.WelcomeBubbleDelaySeconds)
	return out
}

// Merge overlays a partial theme object onto a private copy of t. Keys the
// patch omits keep their current value.
func (t Theme) Merge(patch []byte) (Theme, error) {
	merged := Config{Theme: t}.Clone().Theme
	if err := json.Unmarshal(patch, &merged); err != nil {
		return Theme{}, fmt.Errorf("decode theme patch: %w", err)
	}
	return merged, nil
}

// Resolve merges the host object over base. Top-level keys and theme keys
// override individually; keys the host omits keep the base value.
func Resolve(base Config, host []byte) (Config, error) {
	cfg := base.Clone()
	if trimmed := strings.TrimSpace(string(host)); trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal(host, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode host config: %w", err)
		}
	}

	cfg.N8nWebhookURL = strings.TrimSpace(cfg.N8nWebhookURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first missing required field.
func (c Config) Validate() error {
	if c.ClientID == "" {
		return ErrMissingClientID
	}
	if c.N8nWebhookURL == "" {
		return ErrMissingWebhookURL
	}
	return nil
}

// BubbleText is the text shown in the mini welcome bubble.
func (t Theme) BubbleText() string {
	if text := strings.TrimSpace(t.WelcomeBubbleText); text != "" {
		return text
	}
	return t.WelcomeMessage
}

// Seconds converts an optional seconds value to a duration. Negative values clamp to zero.
func Seconds(v *float64) *time.Duration {
	if v == nil {
		return nil
	}
	secs := *v
	if secs < 0 {
		secs = 0
	}
	d := time.Duration(secs * float64(time.Second))
	return &d
}

func float(v float64) *float64 {
	return &v
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return float(*v)
}
