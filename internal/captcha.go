package internal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	_captchaPollInterval = 5 * time.Second
	_captchaPollBudget   = 120 * time.Second
)

// captchaChallenge describes an anti-bot challenge found in a response.
type captchaChallenge struct {
	siteKey string
	kind    string // captchaType / type as reported.
}

// detectCaptcha inspects a parsed JSON payload for the upstream's anti-bot
// markers.
func detectCaptcha(doc any) (captchaChallenge, bool) {
	m, ok := doc.(map[string]any)
	if !ok {
		return captchaChallenge{}, false
	}
	required, _ := m["captchaRequired"].(bool)
	if t, _ := m["type"].(string); t == "captcha" {
		required = true
	}
	if !required {
		return captchaChallenge{}, false
	}
	c := captchaChallenge{
		siteKey: firstString(m, "key", "sitekey", "captchaKey", "data-sitekey"),
		kind:    firstString(m, "captchaType", "type"),
	}
	return c, true
}

// solverMethod picks the solving-service method. Yandex SmartCaptcha gets
// its dedicated method; everything else is treated as recaptcha.
func solverMethod(kind, pageURL string) string {
	k := strings.ToLower(kind)
	switch {
	case strings.Contains(k, "smart"):
		return "yandex"
	case strings.Contains(strings.ToLower(pageURL), "yandex"):
		return "yandex"
	default:
		return "userrecaptcha"
	}
}

// captchaSolver submits challenges to an external solving service and polls
// for the answer.
type captchaSolver struct {
	apiKey string
	apiURL string
	http   *http.Client
}

func newCaptchaSolver(apiKey, apiURL string, client *http.Client) *captchaSolver {
	if apiURL == "" {
		apiURL = "https://rucaptcha.com"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &captchaSolver{apiKey: apiKey, apiURL: apiURL, http: client}
}

// solverEnvelope is the {status, request} pair both solver endpoints answer
// with. request holds the task ID, the token, or an error string.
type solverEnvelope struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve runs one submit/poll cycle within min(120s, time left until
// deadline). An empty return means the challenge wasn't solved; that is not
// an error the caller can act on beyond rotating and retrying.
func (c *captchaSolver) Solve(ctx context.Context, deadline time.Time, challenge captchaChallenge, pageURL string) string {
	if c.apiKey == "" {
		Log(ctx).Warn("captcha encountered but no solver API key configured")
		return ""
	}
	if challenge.siteKey == "" {
		Log(ctx).Warn("captcha challenge without a sitekey")
		return ""
	}

	method := solverMethod(challenge.kind, pageURL)

	form := url.Values{}
	form.Set("key", c.apiKey)
	form.Set("method", method)
	if method == "yandex" {
		form.Set("sitekey", challenge.siteKey)
	} else {
		form.Set("googlekey", challenge.siteKey)
	}
	form.Set("pageurl", pageURL)
	form.Set("json", "1")

	taskID, ok := c.submit(ctx, form)
	if !ok {
		return ""
	}

	budget := _captchaPollBudget
	if remaining := time.Until(deadline); remaining < budget {
		budget = remaining
	}
	pollDeadline := time.Now().Add(budget)

	for time.Now().Before(pollDeadline) {
		select {
		case <-time.After(_captchaPollInterval):
		case <-ctx.Done():
			return ""
		}

		token, done := c.poll(ctx, taskID)
		if done {
			return token
		}
	}

	Log(ctx).Warn("captcha poll budget exhausted", "task", taskID)
	return ""
}

func (c *captchaSolver) submit(ctx context.Context, form url.Values) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		Log(ctx).Warn("captcha submit failed", "err", err)
		return "", false
	}
	defer func() { _ = resp.Body.Close() }()

	var env solverEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		Log(ctx).Warn("captcha submit returned garbage", "err", err)
		return "", false
	}
	if env.Status != 1 {
		Log(ctx).Warn("captcha submit rejected", "response", env.Request)
		return "", false
	}
	return env.Request, true
}

// poll returns (token, true) when solved and ("", true) on a terminal solver
// error. ("", false) means not ready yet.
func (c *captchaSolver) poll(ctx context.Context, taskID string) (string, bool) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("action", "get")
	q.Set("id", taskID)
	q.Set("json", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/res.php?"+q.Encode(), nil)
	if err != nil {
		return "", true
	}
	resp, err := c.http.Do(req)
	if err != nil {
		Log(ctx).Debug("captcha poll failed", "err", err)
		return "", false
	}
	defer func() { _ = resp.Body.Close() }()

	var env solverEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return "", false
	}
	if env.Status == 1 {
		return env.Request, true
	}
	if env.Request != "CAPCHA_NOT_READY" {
		Log(ctx).Warn("captcha solver error", "response", env.Request)
		return "", true
	}
	return "", false
}
