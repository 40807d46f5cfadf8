package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInjectBaseHref(t *testing.T) {
	target, _ := url.Parse("https://example.com:8443/deep/page?q=1")

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"plain head", "<html><head><title>t</title></head></html>", `<html><head><base href="https://example.com:8443"><title>t</title></head></html>`},
		{"only the first head", "<head></head><head></head>", `<head><base href="https://example.com:8443"></head><head></head>`},
		{"no head", "<p>fragment</p>", "<p>fragment</p>"},
		{"header is not head", "<header>x</header>", "<header>x</header>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(injectBaseHref([]byte(tt.doc), target)))
		})
	}
}

func TestProxyFetch_Upstream(t *testing.T) {
	p := NewProxy(time.Second, 5, "testtheweb-test")
	httpmock.ActivateNonDefault(p.client.GetClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://example.com/page", func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(200, "<html><head></head></html>")
		resp.Header = http.Header{"Content-Type": {"text/html; charset=utf-8"}}
		return resp, nil
	})
	httpmock.RegisterResponder("GET", "https://example.com/gone",
		httpmock.NewStringResponder(410, "gone"))
	httpmock.RegisterResponder("GET", "https://example.com/down",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	target, _ := url.Parse("https://example.com/page")
	page, err := p.Fetch(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, `<html><head><base href="https://example.com"></head></html>`, string(page.Body))

	gone, _ := url.Parse("https://example.com/gone")
	_, err = p.Fetch(context.Background(), gone)
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, 410, upstream.Status)

	down, _ := url.Parse("https://example.com/down")
	_, err = p.Fetch(context.Background(), down)
	require.Error(t, err)
	assert.False(t, errors.As(err, &upstream))
}
