package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const maxProxyBody = 10 << 20

var headTag = regexp.MustCompile(`(?i)<head(\s[^>]*)?>`)

// Proxy fetches third-party pages so the UI can preview them in an iframe.
type Proxy struct {
	client *resty.Client
}

// ProxiedPage is an upstream response ready to relay.
type ProxiedPage struct {
	ContentType string
	Body        []byte
}

// UpstreamError carries a non-success status returned by the target site.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded %d %s", e.Status, http.StatusText(e.Status))
}

func NewProxy(timeout time.Duration, maxRedirects int, userAgent string) *Proxy {
	client := resty.New().
		SetTimeout(timeout).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8").
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		}))
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return &Proxy{client: client}
}

// Fetch retrieves target. HTML bodies get a <base href> pointing at the
// target's origin so relative links keep resolving inside the preview.
func (p *Proxy) Fetch(ctx context.Context, target *url.URL) (*ProxiedPage, error) {
	resp, err := p.client.R().SetContext(ctx).Get(target.String())
	if err != nil {
		return nil, err
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() >= http.StatusBadRequest {
		return nil, &UpstreamError{Status: resp.StatusCode()}
	}

	body, err := io.ReadAll(io.LimitReader(raw, maxProxyBody))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "text/html"
	}
	if strings.Contains(contentType, "text/html") {
		body = injectBaseHref(body, target)
	}
	return &ProxiedPage{ContentType: contentType, Body: body}, nil
}

// injectBaseHref inserts a base element right after the first <head> tag.
// Documents without a head are returned unchanged.
func injectBaseHref(doc []byte, target *url.URL) []byte {
	loc := headTag.FindIndex(doc)
	if loc == nil {
		return doc
	}
	base := fmt.Sprintf(`<base href="%s://%s">`, target.Scheme, target.Host)

	out := make([]byte, 0, len(doc)+len(base))
	out = append(out, doc[:loc[1]]...)
	out = append(out, base...)
	out = append(out, doc[loc[1]:]...)
	return out
}
