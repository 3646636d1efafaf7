package internal

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	_pageSize  = 50
	_maxPages  = 22
	_pageDelay = 500 * time.Millisecond

	// How many consecutive bad pages we tolerate depends on whether the
	// reported total says there's more to find.
	_nullsHungry  = 4
	_nullsSated   = 2
	_emptyHungry  = 4
	_emptySated   = 2
	_dupesHungry  = 3
	_dupesSated   = 2
	_captchaTries = 5
)

// endpointSpec is one of the internal review endpoints. The widget endpoint
// names its organization parameter differently.
type endpointSpec struct {
	path    string
	idParam string
}

var _endpoints = []endpointSpec{
	{path: "/maps/api/business/fetchReviews", idParam: "businessId"},
	{path: "/maps/api/business/getBusinessReviews", idParam: "businessId"},
	{path: "/maps-reviews-widget/fetchReviews", idParam: "oid"},
}

var _sortOrders = []string{"by_time", "by_rating", "by_relevance"}

// pass is one (endpoint, sort, rating-filter) tuple the paginator walks.
type pass struct {
	endpoint endpointSpec
	sort     string
	rating   int // 0 means unfiltered.
}

// accumulator merges reviews across passes. Dedup is append-only, so a
// review seen in an earlier pass always wins over a later duplicate, and
// the reported total only ever rises.
type accumulator struct {
	result  FetchResult
	seen    *dedupe
	metrics *engineMetrics
}

func newAccumulator(metrics *engineMetrics) *accumulator {
	return &accumulator{seen: newDedupe(), metrics: metrics}
}

func (a *accumulator) absorb(r RawReview) bool {
	if !a.seen.add(r) {
		a.metrics.reviewDuped()
		return false
	}
	a.result.Reviews = append(a.result.Reviews, r)
	a.metrics.reviewKept()
	return true
}

// observeMeta folds per-page metadata in. totalCount is monotonically
// non-decreasing: a higher report is accepted, a lower one never is.
func (a *accumulator) observeMeta(fr FetchResult) {
	if a.result.OrganizationName == "" && fr.OrganizationName != "" {
		a.result.OrganizationName = fr.OrganizationName
	}
	if a.result.Rating == 0 && fr.Rating != 0 {
		a.result.Rating = fr.Rating
	}
	if fr.TotalReviews > a.result.TotalReviews {
		a.result.TotalReviews = fr.TotalReviews
	}
}

func (a *accumulator) fetched() int { return len(a.result.Reviews) }
func (a *accumulator) total() int   { return a.result.TotalReviews }

// complete reports whether we have everything the upstream claims to hold.
func (a *accumulator) complete() bool {
	return a.total() > 0 && a.fetched() >= a.total()
}

func tolerance(a *accumulator, hungry, sated int) int {
	if a.total() > 0 && a.fetched() < a.total() {
		return hungry
	}
	return sated
}

// xhrHeaders mimic the upstream client's own fetch() calls.
func xhrHeaders(host, orgID string) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Referer", "https://"+host+"/maps/org/"+orgID+"/reviews/")
	h.Set("Origin", "https://"+host)
	return h
}

// pageParams builds the query for one page. The signature goes in last,
// computed over everything else.
func (e *Engine) pageParams(ref OrgRef, p pass, page, variant int, captchaAnswer string) url.Values {
	params := url.Values{}
	params.Set("ajax", "1")
	params.Set(p.endpoint.idParam, ref.ID)
	params.Set("csrfToken", e.session.csrfToken)
	params.Set("locale", "ru_RU")
	params.Set("ranking", p.sort)
	if p.rating > 0 {
		params.Set("rating", strconv.Itoa(p.rating))
	}
	if e.session.sessionID != "" {
		params.Set("sessionId", e.session.sessionID)
	}
	if e.session.reqID != "" {
		params.Set("reqId", e.session.reqID)
	}

	switch variant {
	case 0:
		params.Set("page", strconv.Itoa(page))
		params.Set("pageSize", strconv.Itoa(_pageSize))
	case 1:
		params.Set("page", strconv.Itoa(page-1))
		params.Set("pageSize", strconv.Itoa(_pageSize))
	case 2:
		params.Set("offset", strconv.Itoa((page-1)*_pageSize))
		params.Set("limit", strconv.Itoa(_pageSize))
	}

	if captchaAnswer != "" {
		params.Set("captchaAnswer", captchaAnswer)
	}

	params.Set("s", signParams(params))
	return params
}

// fetchPage issues one page request. While the working pagination variant is
// unknown all three parameter schemes are probed in order; the first one
// whose body parses as JSON is cached for the rest of the pass.
func (e *Engine) fetchPage(ctx context.Context, ref OrgRef, p pass, page int, captchaAnswer string) (any, bool) {
	variants := []int{0, 1, 2}
	if e.session.workingVariant >= 0 {
		variants = []int{e.session.workingVariant}
	}

	endpoint := "https://" + ref.Hostname() + p.endpoint.path
	headers := xhrHeaders(ref.Hostname(), ref.ID)

	for _, variant := range variants {
		params := e.pageParams(ref, p, page, variant, captchaAnswer)
		resp := e.client.get(ctx, endpoint, params, headers, 15*time.Second)
		if resp == nil {
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		_ = resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			continue
		}
		doc, ok := parseJSONBody(body)
		if !ok {
			continue
		}
		if e.session.workingVariant != variant {
			Log(ctx).Debug("pagination variant accepted", "variant", variant, "endpoint", p.endpoint.path)
		}
		e.session.workingVariant = variant
		return doc, true
	}
	return nil, false
}

// runPass walks pages for one (endpoint, sort, rating) tuple until a
// stopping rule fires. The rules and their order come from long observation
// of the upstream's moods; see the consecutive-failure tolerances above.
func (e *Engine) runPass(ctx context.Context, ref OrgRef, p pass, acc *accumulator) {
	e.metrics.passRun(p.endpoint.path)
	log := Log(ctx).With("endpoint", p.endpoint.path, "sort", p.sort, "rating", p.rating)

	var nulls, empties, dupPages, captchaRetries int
	captchaAnswer := ""
	startFetched := acc.fetched()

	for page := 1; page <= _maxPages; page++ {
		if e.timedOut() {
			log.Debug("fetch budget exhausted mid-pass", "page", page)
			return
		}
		if page > 1 {
			if !sleepCtx(ctx, e.pageDelay) {
				return
			}
		}

		doc, ok := e.fetchPage(ctx, ref, p, page, captchaAnswer)
		e.metrics.pageFetched()

		if !ok {
			nulls++
			if nulls >= tolerance(acc, _nullsHungry, _nullsSated) {
				log.Debug("giving up after consecutive null responses", "page", page, "nulls", nulls)
				return
			}
			continue
		}
		nulls = 0

		if challenge, required := detectCaptcha(doc); required {
			captchaRetries++
			if captchaRetries > _captchaTries {
				log.Warn("captcha retry limit hit, ending pass", "page", page)
				return
			}
			captchaAnswer = e.handleCaptcha(ctx, ref, challenge)
			page-- // Retry the same page, with or without an answer.
			continue
		}

		fr, parsed := normalizeJSON(doc, time.Now())
		acc.observeMeta(fr)

		if !parsed || len(fr.Reviews) == 0 {
			empties++
			if empties >= tolerance(acc, _emptyHungry, _emptySated) {
				log.Debug("giving up after consecutive empty pages", "page", page)
				return
			}
			continue
		}
		empties = 0

		added := 0
		for _, r := range fr.Reviews {
			if acc.absorb(r) {
				added++
			}
		}

		if added == 0 {
			dupPages++
			if dupPages >= tolerance(acc, _dupesHungry, _dupesSated) {
				log.Debug("giving up after all-duplicate pages", "page", page)
				return
			}
		} else {
			dupPages = 0
		}

		if acc.complete() {
			return
		}
		if len(fr.Reviews) < _pageSize && (acc.total() <= 0 || acc.fetched() >= acc.total()) {
			return
		}
	}

	log.Debug("pass finished", "added", acc.fetched()-startFetched, "fetched", acc.fetched(), "total", acc.total())
}

// sleepCtx sleeps unless the context ends first, reporting whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
