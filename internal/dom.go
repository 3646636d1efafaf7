package internal

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// DOM extraction is the strategy of last resort, used when neither the JSON
// endpoints nor the embedded state yielded anything. Selector lists are
// ordered by how recently the upstream shipped the markup; old ones stay
// until there's evidence they're gone for good.

var _orgTitleXPaths = []string{
	`//h1[contains(@class, "orgpage-header-view__header")]`,
	`//h1[contains(@class, "card-title-view__title")]`,
	`//a[contains(@class, "orgpage-header-view__title-link")]`,
	`//div[contains(@class, "orgpage-header-view__header-wrapper")]//h1`,
	`//h1[@itemprop="name"]`,
	`//meta[@property="og:title"]`,
	`//title`,
}

var _reviewBlockXPaths = []string{
	`//div[contains(@class, "business-review-view")]`,
	`//div[contains(@class, "business-reviews-card-view__review")]`,
	`//li[contains(@class, "business-reviews-card-view__review")]`,
	`//div[@itemprop="review"]`,
	`//div[contains(@class, "review-card")]`,
	`//div[contains(@class, "reviews-card")]`,
	`//article[contains(@class, "review")]`,
	`//div[contains(@class, "comment-item")]`,
}

var _authorXPaths = []string{
	`.//span[@itemprop="name"]`,
	`.//div[contains(@class, "business-review-view__author")]//span`,
	`.//a[contains(@class, "business-review-view__author")]`,
	`.//div[contains(@class, "business-review-view__author-name")]`,
	`.//span[contains(@class, "business-review-view__author-name")]`,
	`.//div[contains(@class, "review-author")]`,
	`.//span[contains(@class, "review-author")]`,
	`.//div[contains(@class, "author-name")]`,
	`.//span[contains(@class, "author")]`,
	`.//a[contains(@class, "author")]`,
	`.//div[contains(@class, "user-name")]`,
}

var _textXPaths = []string{
	`.//div[contains(@class, "business-review-view__body-text")]`,
	`.//span[contains(@class, "business-review-view__body-text")]`,
	`.//div[contains(@class, "spoiler-view__text-container")]`,
	`.//div[@itemprop="reviewBody"]`,
	`.//span[@itemprop="reviewBody"]`,
	`.//div[contains(@class, "review-text")]`,
	`.//div[contains(@class, "comment-text")]`,
	`.//p[contains(@class, "review")]`,
}

var (
	_ratingOutOfRE = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:из|/)\s*5`)
)

// normalizeDOM scrapes reviews straight out of the page markup.
func normalizeDOM(page string, now time.Time) (FetchResult, bool) {
	doc, err := htmlquery.Parse(strings.NewReader(page))
	if err != nil {
		return FetchResult{}, false
	}

	out := FetchResult{OrganizationName: domOrgTitle(doc)}

	var blocks []*html.Node
	for _, xpath := range _reviewBlockXPaths {
		if blocks = htmlquery.Find(doc, xpath); len(blocks) > 0 {
			break
		}
	}
	for _, block := range blocks {
		out.Reviews = append(out.Reviews, domReview(block, now))
	}

	return out, len(out.Reviews) > 0 || out.OrganizationName != ""
}

func domOrgTitle(doc *html.Node) string {
	for _, xpath := range _orgTitleXPaths {
		n := htmlquery.FindOne(doc, xpath)
		if n == nil {
			continue
		}
		text := htmlquery.InnerText(n)
		if n.Data == "meta" {
			text = htmlquery.SelectAttr(n, "content")
		}
		text = strings.TrimSpace(text)
		if len(text) >= 2 && len(text) < 200 {
			return text
		}
	}
	return ""
}

func domReview(block *html.Node, now time.Time) RawReview {
	r := RawReview{Author: _anonymousAuthor}

	for _, xpath := range _authorXPaths {
		if n := htmlquery.FindOne(block, xpath); n != nil {
			if name := strings.TrimSpace(htmlquery.InnerText(n)); name != "" {
				r.Author = name
				break
			}
		}
	}

	r.Rating = domRating(block)
	r.PublishedAt = domDate(block, now)

	for _, xpath := range _textXPaths {
		if n := htmlquery.FindOne(block, xpath); n != nil {
			if text := strings.TrimSpace(htmlquery.InnerText(n)); len(text) > 5 {
				r.Text = text
				break
			}
		}
	}

	return r
}

// domRating tries five strategies in order; the markup for stars has been
// through several redesigns.
func domRating(block *html.Node) int {
	// 1. Count filled-star elements.
	stars := htmlquery.Find(block, `.//span[contains(@class, "business-rating-badge-view__star") and contains(@class, "_full")]`)
	if n := len(stars); n >= 1 && n <= 5 {
		return n
	}

	// 2. An aria-label or title like "Оценка 4 из 5".
	for _, attr := range []string{"aria-label", "title"} {
		for _, n := range htmlquery.Find(block, `.//*[@`+attr+`]`) {
			if m := _ratingOutOfRE.FindStringSubmatch(htmlquery.SelectAttr(n, attr)); m != nil {
				if f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64); err == nil {
					if v := normalizeRating(f); v != 0 {
						return v
					}
				}
			}
		}
	}

	// 3. Explicit data attributes.
	for _, attr := range []string{"data-value", "data-rating", "data-score"} {
		if n := htmlquery.FindOne(block, `.//*[@`+attr+`]`); n != nil {
			if f, err := strconv.ParseFloat(htmlquery.SelectAttr(n, attr), 64); err == nil {
				if v := normalizeRating(f); v != 0 {
					return v
				}
			}
		}
	}

	// 4. Microdata.
	if n := htmlquery.FindOne(block, `.//*[@itemprop="ratingValue"]`); n != nil {
		v := htmlquery.SelectAttr(n, "content")
		if v == "" {
			v = htmlquery.InnerText(n)
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			if r := normalizeRating(f); r != 0 {
				return r
			}
		}
	}

	// 5. Any _full-classed element at all, clamped.
	if n := len(htmlquery.Find(block, `.//*[contains(@class, "_full")]`)); n > 0 {
		if n > 5 {
			n = 5
		}
		return n
	}

	return 0
}

func domDate(block *html.Node, now time.Time) time.Time {
	if n := htmlquery.FindOne(block, `.//time[@datetime]`); n != nil {
		if t, err := time.Parse(time.RFC3339, htmlquery.SelectAttr(n, "datetime")); err == nil {
			return t
		}
	}
	if n := htmlquery.FindOne(block, `.//*[@itemprop="datePublished"]`); n != nil {
		v := htmlquery.SelectAttr(n, "content")
		if v == "" {
			v = htmlquery.InnerText(n)
		}
		if t, ok := parseRussianDate(v, now); ok {
			return t
		}
	}
	for _, xpath := range []string{
		`.//span[contains(@class, "business-review-view__date")]`,
		`.//div[contains(@class, "review-date")]`,
		`.//span[contains(@class, "date")]`,
	} {
		if n := htmlquery.FindOne(block, xpath); n != nil {
			if t, ok := parseRussianDate(htmlquery.InnerText(n), now); ok {
				return t
			}
		}
	}
	return now
}
