package internal

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ohler55/ojg/oj"
)

// session is the browser-like identity presented to the upstream for the
// duration of one sync: cookies, CSRF token, session and request IDs, and
// the pagination variant the endpoints last accepted. None of it survives
// across sources unless the engine explicitly reuses it.
type session struct {
	client *upstreamClient

	csrfToken string
	sessionID string
	reqID     string
	pageHTML  string

	// workingVariant caches which pagination parameter scheme the endpoint
	// accepted; -1 means still probing.
	workingVariant int
}

func newSession(client *upstreamClient) *session {
	return &session{client: client, workingVariant: -1}
}

// Several token patterns are tried because the upstream has shipped them all
// at one point or another. First match wins; none are removed without
// evidence they're gone.
var (
	_csrfREs = []*regexp.Regexp{
		regexp.MustCompile(`"csrfToken"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`csrfToken=([A-Za-z0-9%:_-]+)`),
		regexp.MustCompile(`window\.__CSRF_TOKEN__\s*=\s*"([^"]+)"`),
		regexp.MustCompile(`data-csrf="([^"]+)"`),
	}
	_sessionREs = []*regexp.Regexp{
		regexp.MustCompile(`"sessionId"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`sessionId=([0-9_]+)`),
		regexp.MustCompile(`"sessionID"\s*:\s*"([^"]+)"`),
	}
	_reqREs = []*regexp.Regexp{
		regexp.MustCompile(`"reqId"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`reqId=([A-Za-z0-9%/_-]+)`),
	}
)

func firstMatch(body string, res []*regexp.Regexp) string {
	for _, re := range res {
		if m := re.FindStringSubmatch(body); m != nil {
			return m[1]
		}
	}
	return ""
}

// navigationHeaders mimic a top-level browser navigation. The XHR endpoints
// refuse sessions that never "visited" the page.
func navigationHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

// initialize GETs the organization's reviews page, populating the cookie jar
// and caching whatever tokens the HTML carries. Up to 3 attempts with 1 s,
// 2 s back-off. Returns false when the page never loaded.
func (s *session) initialize(ctx context.Context, ref OrgRef) bool {
	url := ref.ReviewsURL()

	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return false
			}
		}

		resp := s.client.get(ctx, url, nil, navigationHeaders(), 30*time.Second)
		if resp == nil {
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		_ = resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			Log(ctx).Debug("reviews page fetch failed", "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}

		s.pageHTML = string(body)
		s.csrfToken = firstMatch(s.pageHTML, _csrfREs)
		s.sessionID = firstMatch(s.pageHTML, _sessionREs)
		s.reqID = firstMatch(s.pageHTML, _reqREs)

		Log(ctx).Debug("session initialized",
			"csrf", s.csrfToken != "",
			"sessionId", s.sessionID != "",
			"reqId", s.reqID != "",
		)
		return true
	}
	return false
}

// csrf returns the cached token, refreshing it from the dedicated endpoint
// when the page didn't carry one. The endpoint answers either a bare token
// or a small JSON object.
func (s *session) csrf(ctx context.Context, host string) string {
	if s.csrfToken != "" {
		return s.csrfToken
	}

	url := "https://" + host + "/maps/api/csrf-token"
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return ""
			}
		}

		resp := s.client.get(ctx, url, nil, nil, 10*time.Second)
		if resp == nil {
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		if err != nil {
			continue
		}

		token := strings.TrimSpace(string(body))
		if strings.HasPrefix(token, "{") {
			doc, err := oj.ParseString(token)
			if err != nil {
				continue
			}
			m, _ := doc.(map[string]any)
			token = firstString(m, "token", "csrfToken")
		}
		if token != "" {
			s.csrfToken = token
			return token
		}
	}
	return ""
}

// reset wipes everything identifying this session. Called after captcha
// encounters, on proxy rotation, and between sources.
func (s *session) reset() {
	s.csrfToken = ""
	s.sessionID = ""
	s.reqID = ""
	s.pageHTML = ""
	s.workingVariant = -1
	s.client.resetIdentity()
}
