package browseragent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"scanwatch/internal/agents"
	"scanwatch/internal/scan/errkind"
	"scanwatch/internal/scan/registry"
)

// These cases are rejected before a browser is needed.
func TestAgent_RejectsBadDescriptors(t *testing.T) {
	a := New(Config{Headless: true})
	defer a.Close()

	_, err := a.Capture(context.Background(), registry.SourceDescriptor{Kind: Kind, URL: "https://x.test"})
	assert.ErrorIs(t, err, agents.ErrNoItemSelector)

	_, err = a.Capture(context.Background(), registry.SourceDescriptor{
		Kind:      Kind,
		URL:       "file:///etc/passwd",
		Selectors: map[string]string{"item": "div"},
	})
	assert.True(t, errkind.Is(err, errkind.SourceUnavailable))
}

func TestAgent_ClosedRefusesCapture(t *testing.T) {
	a := New(Config{RemoteURL: "ws://127.0.0.1:1/devtools/browser/none"})
	assert.NoError(t, a.Close())

	_, err := a.Capture(context.Background(), registry.SourceDescriptor{
		Kind:      Kind,
		URL:       "https://x.test",
		Selectors: map[string]string{"item": "div"},
	})
	assert.Error(t, err)
}
