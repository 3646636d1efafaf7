package internal

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

type set[T comparable] map[T]struct{}

func newSet[T comparable](ts ...T) set[T] {
	s := set[T]{}
	for _, t := range ts {
		s[t] = struct{}{}
	}
	return s
}

func (s set[T]) has(t T) bool {
	_, ok := s[t]
	return ok
}

// fingerprint hashes a review's author and text so reviews without an
// upstream ID can still be deduplicated across passes. Case and surrounding
// whitespace don't count. Returns "" when both fields are empty, which
// suppresses fingerprint matching entirely for that review.
func fingerprint(author, text string) string {
	a := strings.ToLower(strings.TrimSpace(author))
	t := strings.ToLower(strings.TrimSpace(text))
	if a == "" && t == "" {
		return ""
	}
	sum := md5.Sum([]byte(a + "|" + t))
	return hex.EncodeToString(sum[:])
}

// dedupe tracks which reviews an accumulation has already seen, first by
// upstream ID and then by content fingerprint.
type dedupe struct {
	ids    set[string]
	prints set[string]
}

func newDedupe() *dedupe {
	return &dedupe{ids: newSet[string](), prints: newSet[string]()}
}

// add reports whether the review is new, recording it if so. A candidate is
// dropped when its upstream ID was already seen, or failing an ID match,
// when its content fingerprint was. Append-only: a later duplicate never
// replaces what was seen first.
func (d *dedupe) add(r RawReview) bool {
	if r.YandexID != "" && d.ids.has(r.YandexID) {
		return false
	}
	fp := fingerprint(r.Author, r.Text)
	if fp != "" && d.prints.has(fp) {
		return false
	}
	if r.YandexID != "" {
		d.ids[r.YandexID] = struct{}{}
	}
	if fp != "" {
		d.prints[fp] = struct{}{}
	}
	return true
}
