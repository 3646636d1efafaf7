package internal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// transportFunc scripts the outbound HTTP layer, solver included.
type transportFunc func(*http.Request) (*http.Response, error)

func (f transportFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

const _navHTML = `<html><head><script>
var cfg = {"csrfToken":"tok:123","sessionId":"1712345_67890","reqId":"req/abc"};
</script></head><body><h1>Кафе на Невском</h1></body></html>`

var _testRef = OrgRef{ID: "1010501395", Host: "ru", Slug: "kafe"}

func newTestEngine(rt http.RoundTripper) *Engine {
	return NewEngine(EngineConfig{
		Transport:         rt,
		Throttle:          -1,
		PageDelay:         -1,
		StarPassDelay:     -1,
		CaptchaRetryDelay: -1,
		CaptchaAPIKey:     "test-key",
	})
}

// reviewWindowJSON renders reviews lo..hi inclusive as an endpoint payload.
// lo > hi gives a payload with an empty list.
func reviewWindowJSON(lo, hi, total int) string {
	var b strings.Builder
	b.WriteString(`{"reviews":[`)
	for i := lo; i <= hi; i++ {
		if i > lo {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b,
			`{"reviewId":"id-%d","author":{"name":"Автор %d"},"rating":{"value":%d},"text":"Отзыв номер %d","updatedTime":1700000000}`,
			i, i, i%5+1, i)
	}
	fmt.Fprintf(&b, `],"totalCount":%d,"rating":{"value":4.5},"businessName":"Кафе на Невском"}`, total)
	return b.String()
}

// pageWindow slices the id range from..to into 1-based pages.
func pageWindow(from, to, page int) (int, int) {
	lo := from + (page-1)*_pageSize
	hi := lo + _pageSize - 1
	if hi > to {
		hi = to
	}
	return lo, hi
}

func queryPage(q url.Values) int {
	page, _ := strconv.Atoi(q.Get("page"))
	return page
}

func TestFetchReviewsHappyPath(t *testing.T) {
	t.Parallel()

	otherEndpoints := 0
	rt := transportFunc(func(r *http.Request) (*http.Response, error) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/maps/org/kafe/1010501395/reviews/":
			return respond(http.StatusOK, _navHTML), nil
		case "/maps/api/business/fetchReviews":
			assert.Equal(t, "1010501395", q.Get("businessId"))
			assert.Equal(t, "tok:123", q.Get("csrfToken"))
			assert.NotEmpty(t, q.Get("s"))
			lo, hi := pageWindow(1, 137, queryPage(q))
			return respond(http.StatusOK, reviewWindowJSON(lo, hi, 137)), nil
		}
		otherEndpoints++
		return respond(http.StatusNotFound, ""), nil
	})

	fr := newTestEngine(rt).FetchReviews(context.Background(), _testRef)

	assert.Len(t, fr.Reviews, 137)
	assert.Equal(t, 137, fr.TotalReviews)
	assert.Equal(t, 4.5, fr.Rating)
	assert.Equal(t, "Кафе на Невском", fr.OrganizationName)
	// Completion on the first endpoint means the rest are never touched.
	assert.Zero(t, otherEndpoints)
}

func TestFetchReviewsCrossEndpointMerge(t *testing.T) {
	t.Parallel()

	// The first endpoint caps out at 400 of 700; the second holds an
	// overlapping 300..700 window. Their union covers everything once.
	rt := transportFunc(func(r *http.Request) (*http.Response, error) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/maps/org/kafe/1010501395/reviews/":
			return respond(http.StatusOK, _navHTML), nil
		case "/maps/api/business/fetchReviews":
			lo, hi := pageWindow(1, 400, queryPage(q))
			return respond(http.StatusOK, reviewWindowJSON(lo, hi, 700)), nil
		case "/maps/api/business/getBusinessReviews":
			lo, hi := pageWindow(300, 700, queryPage(q))
			return respond(http.StatusOK, reviewWindowJSON(lo, hi, 700)), nil
		case "/maps-reviews-widget/fetchReviews":
			return respond(http.StatusOK, `{"reviews":[],"totalCount":700}`), nil
		}
		return respond(http.StatusNotFound, ""), nil
	})

	fr := newTestEngine(rt).FetchReviews(context.Background(), _testRef)

	assert.Len(t, fr.Reviews, 700)
	assert.Equal(t, 700, fr.TotalReviews)
}

func TestFetchReviewsPerRatingFallback(t *testing.T) {
	t.Parallel()

	// Unfiltered queries cap at 600 of 1500. Each star filter exposes its own
	// 300-review window; their union restores full coverage.
	rt := transportFunc(func(r *http.Request) (*http.Response, error) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/maps/org/kafe/1010501395/reviews/":
			return respond(http.StatusOK, _navHTML), nil
		case "/maps/api/business/fetchReviews":
			from, to := 1, 600
			if star, _ := strconv.Atoi(q.Get("rating")); star > 0 {
				from, to = (star-1)*300+1, star*300
			}
			lo, hi := pageWindow(from, to, queryPage(q))
			return respond(http.StatusOK, reviewWindowJSON(lo, hi, 1500)), nil
		case "/maps/api/business/getBusinessReviews", "/maps-reviews-widget/fetchReviews":
			// Shape drift on the alternates: not JSON at all.
			return respond(http.StatusOK, "<html>временно недоступно</html>"), nil
		}
		return respond(http.StatusNotFound, ""), nil
	})

	fr := newTestEngine(rt).FetchReviews(context.Background(), _testRef)

	assert.Len(t, fr.Reviews, 1500)
	assert.Equal(t, 1500, fr.TotalReviews)
}

func TestFetchReviewsCaptchaRecovery(t *testing.T) {
	// Not parallel: shortens the solver poll interval.
	restore := _captchaPollInterval
	_captchaPollInterval = time.Millisecond
	defer func() { _captchaPollInterval = restore }()

	sawAnswer := ""
	rt := transportFunc(func(r *http.Request) (*http.Response, error) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/maps/org/kafe/1010501395/reviews/":
			return respond(http.StatusOK, _navHTML), nil
		case "/maps/api/business/fetchReviews":
			page := queryPage(q)
			if page == 2 && q.Get("captchaAnswer") == "" {
				return respond(http.StatusOK,
					`{"captchaRequired":true,"key":"sk-123","captchaType":"smartcaptcha"}`), nil
			}
			if answer := q.Get("captchaAnswer"); answer != "" {
				sawAnswer = answer
			}
			lo, hi := pageWindow(1, 100, page)
			return respond(http.StatusOK, reviewWindowJSON(lo, hi, 100)), nil
		case "/in.php":
			body, _ := io.ReadAll(r.Body)
			form, err := url.ParseQuery(string(body))
			require.NoError(t, err)
			assert.Equal(t, "yandex", form.Get("method"))
			assert.Equal(t, "sk-123", form.Get("sitekey"))
			assert.Equal(t, _testRef.ReviewsURL(), form.Get("pageurl"))
			return respond(http.StatusOK, `{"status":1,"request":"task-1"}`), nil
		case "/res.php":
			assert.Equal(t, "task-1", q.Get("id"))
			return respond(http.StatusOK, `{"status":1,"request":"TKN"}`), nil
		}
		return respond(http.StatusNotFound, ""), nil
	})

	fr := newTestEngine(rt).FetchReviews(context.Background(), _testRef)

	assert.Equal(t, "TKN", sawAnswer)
	assert.Len(t, fr.Reviews, 100)
}

func TestFetchReviewsDOMFallback(t *testing.T) {
	t.Parallel()

	// Every JSON strategy dry: the engine falls back to scraping the page it
	// already holds.
	page := `<html><body><h1 class="orgpage-header-view__header">Кафе на Невском</h1>
		<div class="business-review-view">
			<span itemprop="name">Мария</span>
			<div aria-label="Оценка 5 из 5"></div>
			<div class="business-review-view__body-text">Лучшее место в городе</div>
		</div></body></html>`

	rt := transportFunc(func(r *http.Request) (*http.Response, error) {
		if strings.HasSuffix(r.URL.Path, "/reviews/") {
			return respond(http.StatusOK, page), nil
		}
		if r.URL.Path == "/maps/api/csrf-token" {
			return respond(http.StatusOK, "tok"), nil
		}
		return respond(http.StatusOK, "<html>не json</html>"), nil
	})

	fr := newTestEngine(rt).FetchReviews(context.Background(), _testRef)

	require.Len(t, fr.Reviews, 1)
	assert.Equal(t, "Мария", fr.Reviews[0].Author)
	assert.Equal(t, 5, fr.Reviews[0].Rating)
	assert.Equal(t, "Кафе на Невском", fr.OrganizationName)
}

func TestAccumulatorMonotoneTotal(t *testing.T) {
	t.Parallel()

	acc := newAccumulator(newEngineMetrics(nil))
	acc.observeMeta(FetchResult{TotalReviews: 137})
	acc.observeMeta(FetchResult{TotalReviews: 50})
	assert.Equal(t, 137, acc.total())

	acc.observeMeta(FetchResult{TotalReviews: 200})
	assert.Equal(t, 200, acc.total())
}
