package agents

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwatch/internal/scan/errkind"
)

const listingHTML = `<html><body>
<div class="card" data-id="101">
  <a class="title" href="/item/101">  Road bike,
     size 56 </a>
  <span class="price">450 EUR</span>
</div>
<div class="card" data-id="102">
  <a class="title" href="https://other.test/102">Gravel bike</a>
</div>
<div class="card"></div>
</body></html>`

func TestExtractHTML(t *testing.T) {
	base, _ := url.Parse("https://market.test/search?q=bike")
	sel := map[string]string{
		"item":  ".card",
		"id":    "@data-id",
		"url":   "a.title@href",
		"title": "a.title",
		"price": ".price",
	}

	got, err := ExtractHTML([]byte(listingHTML), base, sel, 0)
	require.NoError(t, err)
	require.Len(t, got, 2, "empty cards are skipped")

	assert.Equal(t, "101", got[0].Fingerprint)
	assert.Equal(t, "https://market.test/item/101", got[0].URL)
	assert.Equal(t, "Road bike, size 56", got[0].Fields["title"])
	assert.Equal(t, "450 EUR", got[0].Fields["price"])

	assert.Equal(t, "https://other.test/102", got[1].URL)
	_, hasPrice := got[1].Fields["price"]
	assert.False(t, hasPrice)

	limited, err := ExtractHTML([]byte(listingHTML), base, sel, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = ExtractHTML([]byte(listingHTML), base, map[string]string{"title": "a"}, 0)
	assert.ErrorIs(t, err, ErrNoItemSelector)
	assert.True(t, errkind.Is(err, errkind.SourceUnavailable))
}

func TestFetcher_Classifies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "scanwatch-test/1", r.UserAgent())
		_, _ = w.Write([]byte("hello"))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusGone) })
	mux.HandleFunc("/slow-down", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "90")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := &Fetcher{Client: srv.Client(), UserAgent: "default/1"}
	ctx := context.Background()

	page, err := f.Get(ctx, srv.URL+"/ok", "scanwatch-test/1")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(page.Body))
	assert.Equal(t, "/ok", page.URL.Path)

	_, err = f.Get(ctx, srv.URL+"/missing", "scanwatch-test/1")
	assert.Equal(t, errkind.SourceUnavailable, errkind.Of(err))

	_, err = f.Get(ctx, srv.URL+"/gone", "")
	assert.Equal(t, errkind.SourceUnavailable, errkind.Of(err))

	_, err = f.Get(ctx, srv.URL+"/slow-down", "")
	require.Error(t, err)
	d, ok := errkind.RetryAfterHint(err)
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, d)
	assert.Equal(t, errkind.CaptureAgentError, errkind.Of(err))

	_, err = f.Get(ctx, srv.URL+"/broken", "")
	assert.Equal(t, errkind.CaptureAgentError, errkind.Of(err))

	_, err = f.Get(ctx, "ftp://files.test/x", "")
	assert.Equal(t, errkind.SourceUnavailable, errkind.Of(err))
}

func TestIntOption(t *testing.T) {
	opts := map[string]string{"limit": " 5 ", "bad": "x", "neg": "-1"}
	assert.Equal(t, 5, IntOption(opts, "limit", 0))
	assert.Equal(t, 7, IntOption(opts, "bad", 7))
	assert.Equal(t, 7, IntOption(opts, "neg", 7))
	assert.Equal(t, 7, IntOption(nil, "limit", 7))
}
