package internal

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const _defaultTimeout = 20 * time.Second

// browserIdentity pairs a User-Agent with the client-hint headers that a real
// browser would send alongside it. Firefox and Safari don't send Sec-Ch-Ua-*
// at all, so their hint fields stay empty.
type browserIdentity struct {
	userAgent string
	secChUa   string
	platform  string // Sec-Ch-Ua-Platform, quoted.
}

var _identities = []browserIdentity{
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		secChUa:   `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		platform:  `"Windows"`,
	},
	{
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		secChUa:   `"Chromium";v="130", "Google Chrome";v="130", "Not?A_Brand";v="99"`,
		platform:  `"macOS"`,
	},
	{
		userAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		secChUa:   `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		platform:  `"Linux"`,
	},
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	},
	{
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15",
	},
}

// identityTransport injects browser-like base headers on every request. The
// header set depends on the currently selected identity.
type identityTransport struct {
	client *upstreamClient
	http.RoundTripper
}

func (t identityTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	id := t.client.identity
	r.Header.Set("User-Agent", id.userAgent)
	r.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	if id.secChUa != "" {
		r.Header.Set("Sec-Ch-Ua", id.secChUa)
		r.Header.Set("Sec-Ch-Ua-Mobile", "?0")
		r.Header.Set("Sec-Ch-Ua-Platform", id.platform)
	}
	return t.RoundTripper.RoundTrip(r)
}

// throttledTransport rate limits requests so we look less like a bot.
type throttledTransport struct {
	http.RoundTripper
	*rate.Limiter
}

func (t throttledTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(r.Context()); err != nil {
		return nil, err
	}
	return t.RoundTripper.RoundTrip(r)
}

// upstreamClient wraps an http.Client with the session-scoped pieces of a
// browser identity: a shared cookie jar, a rotating outbound proxy, and a
// randomized User-Agent with consistent client hints.
type upstreamClient struct {
	http     *http.Client
	jar      *cookiejar.Jar
	identity browserIdentity

	proxies  []*url.URL
	proxyIdx int

	// base is swapped out in tests.
	base http.RoundTripper

	// throttle spaces out requests; negative disables it.
	throttle time.Duration
}

func newUpstreamClient(proxies []string, base http.RoundTripper, throttle time.Duration) *upstreamClient {
	c := &upstreamClient{base: base, throttle: throttle}
	if c.throttle == 0 {
		c.throttle = 300 * time.Millisecond
	}
	if c.base == nil {
		c.base = http.DefaultTransport
	}
	for _, p := range proxies {
		u, err := url.Parse(p)
		if err != nil || u.Host == "" {
			Log(context.Background()).Warn("ignoring invalid proxy url", "proxy", p)
			continue
		}
		c.proxies = append(c.proxies, u)
	}
	c.identity = _identities[rand.Intn(len(_identities))]
	c.resetJar()
	c.rebuild()
	return c
}

func (c *upstreamClient) rebuild() {
	base := c.base
	if len(c.proxies) > 0 {
		proxy := c.proxies[c.proxyIdx%len(c.proxies)]
		if t, ok := base.(*http.Transport); ok {
			t = t.Clone()
			t.Proxy = http.ProxyURL(proxy)
			base = t
		}
	}
	var transport http.RoundTripper = identityTransport{
		client:       c,
		RoundTripper: base,
	}
	if c.throttle > 0 {
		transport = throttledTransport{
			Limiter:      rate.NewLimiter(rate.Every(c.throttle), 1),
			RoundTripper: transport,
		}
	}
	c.http = &http.Client{Jar: c.jar, Transport: transport}
}

func (c *upstreamClient) resetJar() {
	jar, _ := cookiejar.New(nil) // Only errors on bad options.
	c.jar = jar
}

// rotateProxy advances the round-robin proxy index. No-op without proxies.
func (c *upstreamClient) rotateProxy() {
	if len(c.proxies) == 0 {
		return
	}
	c.proxyIdx++
	c.rebuild()
	Log(context.Background()).Debug("rotated proxy", "idx", c.proxyIdx%len(c.proxies))
}

// resetIdentity wipes the cookie jar and picks a fresh User-Agent. Called
// after captcha encounters and between sources in batch mode.
func (c *upstreamClient) resetIdentity() {
	c.identity = _identities[rand.Intn(len(_identities))]
	c.resetJar()
	c.rebuild()
}

// get issues a GET and softens every transport failure to nil. Upstream
// flakiness is an expected condition here, not an error: callers count nils
// against their stopping rules instead of propagating them.
func (c *upstreamClient) get(ctx context.Context, rawURL string, query url.Values, headers http.Header, timeout time.Duration) *http.Response {
	if timeout <= 0 {
		timeout = _defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	u := rawURL
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		Log(ctx).Warn("problem building request", "url", rawURL, "err", err)
		return nil
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		Log(ctx).Debug("upstream request failed", "url", rawURL, "err", err)
		return nil
	}
	if resp.StatusCode >= 400 {
		Log(ctx).Debug("upstream answered with an error status", "url", rawURL, "err", statusErr(resp.StatusCode))
	}
	// The cancel has to live as long as the body; tie them together.
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp
}

type cancelBody struct {
	ReadCloser interface {
		Read([]byte) (int, error)
		Close() error
	}
	cancel context.CancelFunc
}

func (b *cancelBody) Read(p []byte) (int, error) { return b.ReadCloser.Read(p) }

func (b *cancelBody) Close() error {
	b.cancel()
	return b.ReadCloser.Close()
}
