package internal

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	_fetchBudget       = 480 * time.Second
	_starPassDelay     = 2 * time.Second
	_captchaRetryDelay = 5 * time.Second
)

// EngineConfig carries everything the acquisition engine needs from the
// environment.
type EngineConfig struct {
	Proxies       []string // YANDEX_PROXIES; empty disables the proxy.
	CaptchaAPIKey string
	CaptchaAPIURL string

	// Transport overrides the outbound RoundTripper; tests script it.
	Transport http.RoundTripper
	Registry  *prometheus.Registry

	// Throttle spaces out upstream requests; negative disables it.
	Throttle time.Duration

	// Zeroed in tests to keep them fast; production uses the defaults.
	FetchBudget       time.Duration
	PageDelay         time.Duration
	StarPassDelay     time.Duration
	CaptchaRetryDelay time.Duration
}

// Engine is the review acquisition pipeline for one organization at a time.
// It owns the session, proxy, and dedup state for the duration of a fetch;
// strictly sequential, because the upstream reads parallel requests as bot
// behavior and answers with captcha.
type Engine struct {
	client  *upstreamClient
	session *session
	solver  *captchaSolver
	metrics *engineMetrics

	fetchBudget       time.Duration
	pageDelay         time.Duration
	starPassDelay     time.Duration
	captchaRetryDelay time.Duration

	deadline time.Time
}

// NewEngine creates an engine. One engine serves one sync at a time; batch
// mode reuses an instance across sources with Reset between them.
func NewEngine(cfg EngineConfig) *Engine {
	client := newUpstreamClient(cfg.Proxies, cfg.Transport, cfg.Throttle)

	solverHTTP := &http.Client{Timeout: 30 * time.Second}
	if cfg.Transport != nil {
		solverHTTP.Transport = cfg.Transport
	}

	e := &Engine{
		client:  client,
		session: newSession(client),
		solver:  newCaptchaSolver(cfg.CaptchaAPIKey, cfg.CaptchaAPIURL, solverHTTP),
		metrics: newEngineMetrics(cfg.Registry),

		fetchBudget:       cfg.FetchBudget,
		pageDelay:         cfg.PageDelay,
		starPassDelay:     cfg.StarPassDelay,
		captchaRetryDelay: cfg.CaptchaRetryDelay,
	}
	if e.fetchBudget <= 0 {
		e.fetchBudget = _fetchBudget
	}
	if cfg.PageDelay == 0 {
		e.pageDelay = _pageDelay
	}
	if cfg.StarPassDelay == 0 {
		e.starPassDelay = _starPassDelay
	}
	if cfg.CaptchaRetryDelay == 0 {
		e.captchaRetryDelay = _captchaRetryDelay
	}
	return e
}

func (e *Engine) timedOut() bool {
	return !e.deadline.IsZero() && time.Now().After(e.deadline)
}

// Reset wipes session state and rotates the proxy. Called between sources
// in batch mode; the proxy index is the only thing that carries over.
func (e *Engine) Reset() {
	e.client.rotateProxy()
	e.session.reset()
}

// FetchReviews assembles the complete review set for one organization. It
// never fails outright: on timeout or upstream hostility it returns whatever
// accumulated, and the caller decides what that's worth.
func (e *Engine) FetchReviews(ctx context.Context, ref OrgRef) *FetchResult {
	e.deadline = time.Now().Add(e.fetchBudget)
	ctx, cancel := context.WithDeadline(ctx, e.deadline)
	defer cancel()

	start := time.Now()
	acc := newAccumulator(e.metrics)

	// Strategy one: the reviews page itself, which both primes the session
	// (cookies, tokens) and embeds an initial review payload.
	if e.session.initialize(ctx, ref) {
		if doc, ok := extractEmbeddedState(e.session.pageHTML); ok {
			fr, _ := normalizeEmbedded(doc, ref.ID, time.Now())
			acc.observeMeta(fr)
			for _, r := range fr.Reviews {
				acc.absorb(r)
			}
			Log(ctx).Debug("embedded state extracted", "reviews", len(fr.Reviews), "total", fr.TotalReviews)
		}
	}
	e.session.csrf(ctx, ref.Hostname())

	// Strategy two: the internal JSON endpoints, fanned out across the
	// endpoint × sort cross product until the reported total is covered.
crossProduct:
	for _, endpoint := range _endpoints {
		for _, sort := range _sortOrders {
			if e.timedOut() || acc.complete() {
				break crossProduct
			}
			e.runPass(ctx, ref, pass{endpoint: endpoint, sort: sort}, acc)
		}
	}

	// The upstream caps unfiltered result sets (empirically around 600).
	// Filtered per-star queries each get their own cap, so their union
	// approximates full coverage when a gap remains.
	if !acc.complete() && !e.timedOut() && acc.total() > acc.fetched() {
		for stars := 1; stars <= 5; stars++ {
			if e.timedOut() {
				break
			}
			if stars > 1 && !sleepCtx(ctx, e.starPassDelay) {
				break
			}
			// Filtered queries may accept a different pagination scheme.
			e.session.workingVariant = -1
			e.runPass(ctx, ref, pass{endpoint: _endpoints[0], sort: "by_time", rating: stars}, acc)
		}
	}

	// Strategy three: scrape the DOM. Only worth it when everything else
	// came back empty.
	if acc.fetched() == 0 && e.session.pageHTML != "" {
		if fr, ok := normalizeDOM(e.session.pageHTML, time.Now()); ok {
			acc.observeMeta(fr)
			for _, r := range fr.Reviews {
				acc.absorb(r)
			}
			Log(ctx).Debug("DOM fallback extracted", "reviews", len(fr.Reviews))
		}
	}

	Log(ctx).Info("fetch finished",
		"org", ref.ID,
		"fetched", acc.fetched(),
		"reported", acc.total(),
		"duration", time.Since(start).Round(time.Second).String(),
	)

	result := acc.result
	return &result
}

// handleCaptcha runs one solve attempt. On success the returned token is
// replayed as captchaAnswer; on failure the engine rotates its identity,
// waits, refreshes the CSRF token, and lets the paginator retry bare.
func (e *Engine) handleCaptcha(ctx context.Context, ref OrgRef, challenge captchaChallenge) string {
	e.metrics.captcha("encountered")
	Log(ctx).Warn("captcha challenge", "kind", challenge.kind, "org", ref.ID)

	token := e.solver.Solve(ctx, e.deadline, challenge, ref.ReviewsURL())
	if token != "" {
		e.metrics.captcha("solved")
		return token
	}

	e.metrics.captcha("failed")
	e.client.rotateProxy()
	e.session.reset()
	sleepCtx(ctx, e.captchaRetryDelay)
	e.session.csrf(ctx, ref.Hostname())
	return ""
}
