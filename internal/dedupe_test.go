package internal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	t.Parallel()

	// Case and surrounding whitespace don't matter.
	assert.Equal(t, fingerprint("Иван", "Отличное место"), fingerprint("  иван ", "ОТЛИЧНОЕ МЕСТО  "))

	// A one-character difference in the body does.
	assert.NotEqual(t, fingerprint("Иван", "Отличное место"), fingerprint("Иван", "Отличное место!"))

	// Fully empty reviews have no fingerprint at all.
	assert.Empty(t, fingerprint("", "   "))
}

func TestDedupeByID(t *testing.T) {
	t.Parallel()

	d := newDedupe()
	assert.True(t, d.add(RawReview{YandexID: "1", Author: "a", Text: "x"}))
	assert.False(t, d.add(RawReview{YandexID: "1", Author: "b", Text: "y"}))
	assert.True(t, d.add(RawReview{YandexID: "2", Author: "b", Text: "y"}))
}

func TestDedupeByFingerprint(t *testing.T) {
	t.Parallel()

	d := newDedupe()
	assert.True(t, d.add(RawReview{Author: "Иван", Text: "Отлично"}))
	assert.False(t, d.add(RawReview{Author: "иван ", Text: " отлично"}))
	assert.True(t, d.add(RawReview{Author: "Иван", Text: "Плохо"}))
}

func TestDedupeMergeLaw(t *testing.T) {
	t.Parallel()

	// Merging two lists keeps A's unique elements plus only those elements
	// of B whose ID and fingerprint are both unseen.
	var listA, listB []RawReview
	for i := 1; i <= 400; i++ {
		listA = append(listA, RawReview{YandexID: fmt.Sprint(i), Author: "a", Text: fmt.Sprintf("review %d", i)})
	}
	for i := 300; i <= 700; i++ {
		listB = append(listB, RawReview{YandexID: fmt.Sprint(i), Author: "a", Text: fmt.Sprintf("review %d", i)})
	}

	d := newDedupe()
	kept := 0
	for _, r := range append(listA, listB...) {
		if d.add(r) {
			kept++
		}
	}
	assert.Equal(t, 700, kept)
}
