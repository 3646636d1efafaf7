package internal

import "time"

// _anonymousAuthor is the display name stored when the upstream omits or
// blanks the review author.
const _anonymousAuthor = "Аноним"

// RawReview is a review as normalized out of any of the three extraction
// strategies, before sanitization and persistence.
type RawReview struct {
	YandexID    string    // Upstream review ID, "" when absent.
	Author      string    // Display name, possibly still carrying badge text.
	Rating      int       // 1..5, 0 when absent.
	Text        string    // Review body, "" when absent.
	Branch      string    // Branch name for multi-branch organizations.
	PublishedAt time.Time // Zero when unknown.
}

// FetchResult is everything a fetch pass learned about an organization,
// accumulated across endpoints, sort orders and rating filters.
type FetchResult struct {
	OrganizationName string
	Rating           float64 // 0 when unreported; otherwise 1.00..5.00.
	TotalReviews     int     // Upstream-reported, monotonically raised.
	Reviews          []RawReview
}
