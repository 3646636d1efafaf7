package internal

import (
	"regexp"
	"strings"
	"time"

	"github.com/ohler55/ojg/oj"
)

// The reviews page inlines its state as `window.<NAME> = {...};` script
// assignments. Review bodies contain braces and escaped quotes, so the value
// can't be pulled out with a regex alone: we locate the assignment and then
// count braces with string-aware escape tracking.

var _stateNames = []string{"__PRELOADED_STATE__", "__INITIAL_STATE__", "__INITIAL_DATA__"}

var _windowAssignRE = regexp.MustCompile(`window\.([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*\{`)

// extractEmbeddedState locates and decodes the page's embedded JSON state.
// Well-known names are tried first, then any other window assignment found
// by a lightweight scan.
func extractEmbeddedState(html string) (any, bool) {
	for _, name := range _stateNames {
		if doc, ok := decodeAssignment(html, "window."+name); ok {
			return doc, true
		}
	}
	for _, m := range _windowAssignRE.FindAllStringSubmatchIndex(html, -1) {
		// m[0] is the start of `window.NAME = {`; re-find from there.
		if doc, ok := decodeAssignment(html[m[0]:], "window."+html[m[2]:m[3]]); ok {
			return doc, true
		}
	}
	return nil, false
}

func decodeAssignment(html, prefix string) (any, bool) {
	idx := strings.Index(html, prefix)
	if idx < 0 {
		return nil, false
	}
	open := strings.Index(html[idx:], "{")
	if open < 0 {
		return nil, false
	}
	raw, ok := balancedJSON(html[idx+open:])
	if !ok {
		return nil, false
	}
	doc, err := oj.ParseString(raw)
	if err != nil {
		return nil, false
	}
	return doc, true
}

// balancedJSON returns the prefix of s covering one balanced {...} object.
// Braces inside string literals don't count, and escaped quotes don't end a
// string.
func balancedJSON(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

const _embeddedDepth = 5

var _embeddedReviewKeys = []string{
	"reviews", "reviewItems", "businessReviews", "items",
}

// normalizeEmbedded walks a decoded page state for the target organization's
// details and any review array. Depth is bounded: the state trees are huge
// and anything relevant sits near the top.
func normalizeEmbedded(doc any, orgID string, now time.Time) (FetchResult, bool) {
	out := FetchResult{}

	if biz := findBusinessNode(doc, orgID, 0); biz != nil {
		out.OrganizationName = firstString(biz, "name", "title")
		if f, ok := ratingValue(biz["rating"]); ok {
			out.Rating = normalizeOrgRating(f)
		}
		for _, key := range _totalKeys {
			if f, ok := asNumber(biz[key]); ok && int(f) > out.TotalReviews {
				out.TotalReviews = int(f)
			}
		}
	}

	list, found := findEmbeddedReviews(doc, 0)
	if found {
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out.Reviews = append(out.Reviews, normalizeReview(m, now))
			}
		}
	}
	if out.TotalReviews == 0 {
		out.TotalReviews = findTotalCount(doc)
	}

	return out, found || out.OrganizationName != ""
}

// findBusinessNode prefers an object whose id matches the target org,
// falling back to the first object carrying a name or title.
func findBusinessNode(node any, orgID string, depth int) map[string]any {
	if depth > _embeddedDepth {
		return nil
	}
	var fallback map[string]any

	var walk func(node any, depth int) map[string]any
	walk = func(node any, depth int) map[string]any {
		if depth > _embeddedDepth {
			return nil
		}
		switch v := node.(type) {
		case map[string]any:
			if anyToString(v["id"]) == orgID {
				return v
			}
			if fallback == nil && firstString(v, "name", "title") != "" {
				fallback = v
			}
			for _, child := range v {
				if m := walk(child, depth+1); m != nil {
					return m
				}
			}
		case []any:
			for _, child := range v {
				if m := walk(child, depth+1); m != nil {
					return m
				}
			}
		}
		return nil
	}

	if m := walk(node, depth); m != nil {
		return m
	}
	return fallback
}

func findEmbeddedReviews(node any, depth int) ([]any, bool) {
	if depth > _embeddedDepth {
		return nil, false
	}
	if m, ok := node.(map[string]any); ok {
		for _, key := range _embeddedReviewKeys {
			if list, ok := reviewList(m[key]); ok {
				return list, true
			}
		}
		for _, child := range m {
			if list, ok := findEmbeddedReviews(child, depth+1); ok {
				return list, true
			}
		}
	}
	if v, ok := node.([]any); ok {
		for _, child := range v {
			if list, ok := findEmbeddedReviews(child, depth+1); ok {
				return list, true
			}
		}
	}
	return nil, false
}
