package internal

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// The upstream has shipped at least three shapes for the same data, and
// renames keys without notice. Everything here works over the untyped tree
// that oj.Parse returns and probes candidate key paths in order instead of
// relying on static declarations.

// _reviewListPaths are the places a review array has been observed, most
// common first.
var _reviewListPaths = []jp.Expr{
	jp.MustParseString("reviews"),
	jp.MustParseString("items"),
	jp.MustParseString("comments"),
	jp.MustParseString("businessReviews"),
	jp.MustParseString("data.reviews"),
	jp.MustParseString("data.items"),
	jp.MustParseString("data.comments"),
	jp.MustParseString("data.businessReviews"),
	jp.MustParseString("result.reviews"),
	jp.MustParseString("result.items"),
	jp.MustParseString("result.comments"),
	jp.MustParseString("response.reviews"),
	jp.MustParseString("response.items"),
	jp.MustParseString("response.comments"),
	jp.MustParseString("data"),
}

// _reviewSignatureKeys mark an object as review-like.
var _reviewSignatureKeys = []string{
	"text", "author", "rating", "reviewId", "comment", "body", "updatedTime", "stars",
}

var _dateKeys = []string{
	"updatedTime", "time", "date", "createdTime", "publishedTime", "created",
	"updated", "datePublished", "createdAt", "publishedAt", "dateCreated", "timestamp",
}

// _totalKeys report the full review population. "count" is deliberately
// excluded: it usually equals the page size.
var _totalKeys = []string{
	"totalCount", "reviewCount", "totalReviews", "reviewsCount", "ratingCount", "total",
}

var _totalNestPaths = []jp.Expr{
	jp.MustParseString("pager"),
	jp.MustParseString("data"),
	jp.MustParseString("meta"),
	jp.MustParseString("pagination.total"),
}

func parseJSONBody(body []byte) (any, bool) {
	doc, err := oj.Parse(body)
	if err != nil {
		return nil, false
	}
	return doc, true
}

// normalizeJSON turns a parsed endpoint payload into a FetchResult. ok is
// false when no review array could be located anywhere in the document.
func normalizeJSON(doc any, now time.Time) (FetchResult, bool) {
	out := FetchResult{}

	list, found := findReviewList(doc)
	if !found {
		list, found = deepFindReviewList(doc, 0)
	}
	if !found {
		return out, false
	}

	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out.Reviews = append(out.Reviews, normalizeReview(m, now))
	}

	out.OrganizationName = findOrgName(doc)
	out.TotalReviews = findTotalCount(doc)
	out.Rating = findOrgRating(doc)

	return out, true
}

func findReviewList(doc any) ([]any, bool) {
	for _, path := range _reviewListPaths {
		node := path.First(doc)
		if list, ok := reviewList(node); ok {
			return list, true
		}
	}
	return nil, false
}

// reviewList accepts a node only if it's a nonempty array whose first
// element looks like a review.
func reviewList(node any) ([]any, bool) {
	list, ok := node.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return nil, false
	}
	for _, key := range _reviewSignatureKeys {
		if _, ok := first[key]; ok {
			return list, true
		}
	}
	return nil, false
}

const _deepScanDepth = 6

// deepFindReviewList is the shape-drift last resort: walk the whole payload
// looking for anything with a review signature.
func deepFindReviewList(node any, depth int) ([]any, bool) {
	if depth > _deepScanDepth {
		return nil, false
	}
	if list, ok := reviewList(node); ok {
		return list, true
	}
	switch v := node.(type) {
	case map[string]any:
		for _, child := range v {
			if list, ok := deepFindReviewList(child, depth+1); ok {
				return list, true
			}
		}
	case []any:
		for _, child := range v {
			if list, ok := deepFindReviewList(child, depth+1); ok {
				return list, true
			}
		}
	}
	return nil, false
}

func normalizeReview(m map[string]any, now time.Time) RawReview {
	r := RawReview{}

	// Author: a nested object in the JSON endpoints, a bare string in the
	// widget payload.
	switch a := m["author"].(type) {
	case map[string]any:
		r.Author = firstString(a, "name", "displayName", "publicName", "login")
	case string:
		r.Author = a
	}
	if r.Author == "" {
		r.Author = firstString(m, "authorName", "userName", "displayName")
	}
	if strings.TrimSpace(r.Author) == "" {
		r.Author = _anonymousAuthor
	}

	if f, ok := ratingValue(m["rating"]); ok {
		r.Rating = normalizeRating(f)
	}
	if r.Rating == 0 {
		if f, ok := firstNumber(m, "stars", "score", "mark", "value"); ok {
			r.Rating = normalizeRating(f)
		}
	}

	r.Text = firstString(m, "text", "comment", "body", "reviewBody")
	r.Branch = firstString(m, "businessName", "branchName", "orgName")

	for _, key := range _dateKeys {
		if v, ok := m[key]; ok {
			if t, ok := anyToTime(v, now); ok {
				r.PublishedAt = t
				break
			}
		}
	}

	if id, ok := m["reviewId"]; ok {
		r.YandexID = anyToString(id)
	}
	if r.YandexID == "" {
		if id, ok := m["id"]; ok {
			r.YandexID = anyToString(id)
		}
	}

	return r
}

// ratingValue handles both a bare number and a {value: ...} object.
func ratingValue(v any) (float64, bool) {
	switch t := v.(type) {
	case map[string]any:
		return firstNumber(t, "value", "score", "stars")
	default:
		return asNumber(v)
	}
}

// normalizeRating maps whatever scale the upstream used onto 1..5. Values in
// (5, 10] are a 10-point scale and get halved before rounding.
func normalizeRating(f float64) int {
	if f > 5 && f <= 10 {
		f /= 2
	}
	n := int(math.Round(f))
	if n < 1 || n > 5 {
		return 0
	}
	return n
}

func findOrgName(doc any) string {
	if m, ok := doc.(map[string]any); ok {
		if name := firstString(m, "businessName", "orgName", "name"); name != "" {
			return name
		}
		if data, ok := m["data"].(map[string]any); ok {
			if name := firstString(data, "businessName", "orgName", "name", "title"); name != "" {
				return name
			}
		}
	}
	return ""
}

// findTotalCount takes the maximum candidate across the usual nesting spots,
// deep-scanning only when nothing else matched.
func findTotalCount(doc any) int {
	best := 0
	scanTotals := func(m map[string]any) {
		for _, key := range _totalKeys {
			if f, ok := asNumber(m[key]); ok && int(f) > best {
				best = int(f)
			}
		}
	}

	if m, ok := doc.(map[string]any); ok {
		scanTotals(m)
	}
	for _, path := range _totalNestPaths {
		switch node := path.First(doc).(type) {
		case map[string]any:
			scanTotals(node)
		default:
			if f, ok := asNumber(node); ok && int(f) > best {
				best = int(f)
			}
		}
	}

	if best == 0 {
		deepFindNumber(doc, _totalKeys, 0, &best)
	}
	return best
}

func findOrgRating(doc any) float64 {
	m, ok := doc.(map[string]any)
	if !ok {
		return 0
	}
	if f, ok := ratingValue(m["rating"]); ok {
		return normalizeOrgRating(f)
	}
	for _, key := range []string{"score", "average"} {
		if f, ok := asNumber(m[key]); ok {
			return normalizeOrgRating(f)
		}
	}
	best := 0.0
	deepFindFloat(doc, []string{"rating", "score", "average"}, 0, &best)
	return normalizeOrgRating(best)
}

func normalizeOrgRating(f float64) float64 {
	if f > 5 && f <= 10 {
		f /= 2
	}
	if f < 1 || f > 5 {
		return 0
	}
	return math.Round(f*100) / 100
}

func deepFindNumber(node any, keys []string, depth int, best *int) {
	if depth > _deepScanDepth {
		return
	}
	switch v := node.(type) {
	case map[string]any:
		for _, key := range keys {
			if f, ok := asNumber(v[key]); ok && int(f) > *best {
				*best = int(f)
			}
		}
		for _, child := range v {
			deepFindNumber(child, keys, depth+1, best)
		}
	case []any:
		for _, child := range v {
			deepFindNumber(child, keys, depth+1, best)
		}
	}
}

func deepFindFloat(node any, keys []string, depth int, best *float64) {
	if depth > _deepScanDepth || *best != 0 {
		return
	}
	switch v := node.(type) {
	case map[string]any:
		for _, key := range keys {
			if f, ok := ratingValue(v[key]); ok && f > 0 {
				*best = f
				return
			}
		}
		for _, child := range v {
			deepFindFloat(child, keys, depth+1, best)
		}
	case []any:
		for _, child := range v {
			deepFindFloat(child, keys, depth+1, best)
		}
	}
}

// anyToTime accepts Unix seconds, Unix milliseconds (anything over 1e12),
// ISO strings, and Russian-language forms.
func anyToTime(v any, now time.Time) (time.Time, bool) {
	if f, ok := asNumber(v); ok && f > 0 {
		if f > 1e12 {
			return time.UnixMilli(int64(f)), true
		}
		return time.Unix(int64(f), 0), true
	}
	if s, ok := v.(string); ok {
		return parseRussianDate(s, now)
	}
	return time.Time{}, false
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func firstNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if f, ok := asNumber(m[key]); ok {
			return f, true
		}
	}
	return 0, false
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func anyToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}
