package widget

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveMergesThemeKeyByKey(t *testing.T) {
	host := []byte(`{
		"n8nWebhookUrl": " https://hooks.example.com/chat ",
		"clientId": "client_1",
		"theme": {"primaryColor": "#000000", "openAfterDelay": true, "openDelaySeconds": 2.5}
	}`)

	cfg, err := Resolve(Default(), host)
	require.NoError(t, err)

	assert.Equal(t, "https://hooks.example.com/chat", cfg.N8nWebhookURL)
	assert.Equal(t, "client_1", cfg.ClientID)
	assert.Equal(t, "#000000", cfg.Theme.PrimaryColor)
	assert.True(t, cfg.Theme.OpenAfterDelay)
	require.NotNil(t, cfg.Theme.OpenDelaySeconds)
	assert.Equal(t, 2.5, *cfg.Theme.OpenDelaySeconds)

	// untouched keys keep their defaults
	assert.Equal(t, "AI Assistant", cfg.Theme.HeaderTitle)
	assert.True(t, cfg.Theme.ShowWelcomeBubble)
	assert.Len(t, cfg.Theme.SuggestedMessages, 4)
}

func TestResolveDoesNotAliasBase(t *testing.T) {
	base := Default()
	base.ClientID = "client_base"
	base.N8nWebhookURL = "https://hooks.example.com/chat"

	cfg, err := Resolve(base, []byte(`{"theme":{"suggestedMessages":["only one"],"openDelaySeconds":9}}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"only one"}, cfg.Theme.SuggestedMessages)
	assert.Len(t, base.Theme.SuggestedMessages, 4)
	assert.Equal(t, 5.0, *base.Theme.OpenDelaySeconds)
}

func TestResolveFailsFastOnMissingFields(t *testing.T) {
	_, err := Resolve(Default(), []byte(`{"n8nWebhookUrl":"https://hooks.example.com/chat"}`))
	assert.True(t, errors.Is(err, ErrMissingClientID))

	_, err = Resolve(Default(), []byte(`{"clientId":"client_1"}`))
	assert.True(t, errors.Is(err, ErrMissingWebhookURL))

	_, err = Resolve(Default(), []byte(`{"clientId":`))
	assert.Error(t, err)
}

func TestResolveNullHostKeepsBase(t *testing.T) {
	base := Default()
	base.ClientID = "client_base"
	base.N8nWebhookURL = "https://hooks.example.com/chat"

	cfg, err := Resolve(base, []byte("null"))
	require.NoError(t, err)
	assert.Equal(t, "client_base", cfg.ClientID)
}

func TestSeconds(t *testing.T) {
	assert.Nil(t, Seconds(nil))

	half := 0.5
	assert.Equal(t, 500*time.Millisecond, *Seconds(&half))

	negative := -3.0
	assert.Equal(t, time.Duration(0), *Seconds(&negative))
}

func TestBubbleTextFallsBackToWelcomeMessage(t *testing.T) {
	theme := Default().Theme
	assert.Equal(t, "Need help?", theme.BubbleText())

	theme.WelcomeBubbleText = "  "
	assert.Equal(t, theme.WelcomeMessage, theme.BubbleText())
}

func TestThemeMergeKeepsBaseIntact(t *testing.T) {
	delay := 3.0
	base := Default().Theme
	base.OpenDelaySeconds = &delay

	merged, err := base.Merge([]byte(`{"headerTitle":"Support","openDelaySeconds":7}`))
	require.NoError(t, err)

	assert.Equal(t, "Support", merged.HeaderTitle)
	assert.Equal(t, base.WelcomeMessage, merged.WelcomeMessage)
	require.NotNil(t, merged.OpenDelaySeconds)
	assert.Equal(t, 7.0, *merged.OpenDelaySeconds)
	assert.Equal(t, 3.0, *base.OpenDelaySeconds)

	_, err = base.Merge([]byte(`{"headerTitle":`))
	assert.Error(t, err)
}
