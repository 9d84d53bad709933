package httpagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwatch/internal/agents"
	"scanwatch/internal/scan/errkind"
	"scanwatch/internal/scan/registry"
)

func TestAgent_Capture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lamps" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<ul>
			<li class="ad"><a href="/a/1">Brass lamp</a><b>30</b></li>
			<li class="ad"><a href="/a/2">Desk lamp</a><b>12</b></li>
		</ul>`))
	}))
	defer srv.Close()

	a := New(&agents.Fetcher{Client: srv.Client()})
	src := registry.SourceDescriptor{
		Kind: Kind,
		URL:  srv.URL + "/lamps",
		Selectors: map[string]string{
			"item":  "li.ad",
			"url":   "a@href",
			"title": "a",
			"price": "b",
		},
	}

	got, err := a.Capture(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, srv.URL+"/a/1", got[0].URL)
	assert.Equal(t, "Brass lamp", got[0].Fields["title"])
	assert.Equal(t, "12", got[1].Fields["price"])

	src.Options = map[string]string{"limit": "1"}
	got, err = a.Capture(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	src.URL = srv.URL + "/nowhere"
	_, err = a.Capture(context.Background(), src)
	assert.True(t, errkind.Is(err, errkind.SourceUnavailable))

	_, err = a.Capture(context.Background(), registry.SourceDescriptor{Kind: Kind, URL: srv.URL + "/lamps"})
	assert.ErrorIs(t, err, agents.ErrNoItemSelector)
}

func TestAgent_CancelledContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := New(&agents.Fetcher{Client: srv.Client()})
	_, err := a.Capture(ctx, registry.SourceDescriptor{Kind: Kind, URL: srv.URL, Selectors: map[string]string{"item": "li"}})
	assert.Error(t, err)
}
