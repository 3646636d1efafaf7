package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrganizationURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		id   string
		host string
		slug string
	}{
		{
			url:  "https://yandex.ru/maps/org/samoye_populyarnoye_kafe/1010501395/reviews/",
			id:   "1010501395",
			host: "ru",
			slug: "samoye_populyarnoye_kafe",
		},
		{
			url:  "https://yandex.com/maps/org/coffee_house/123456789",
			id:   "123456789",
			host: "com",
			slug: "coffee_house",
		},
		{
			url:  "https://yandex.ru/maps/org/98765432/",
			id:   "98765432",
			host: "ru",
		},
		{
			url:  "https://yandex.ru/maps/?oid=55555555&mode=search",
			id:   "55555555",
			host: "ru",
		},
		{
			url:  "https://yandex.ru/sprav/widget#oid=44444444",
			id:   "44444444",
			host: "ru",
		},
	}

	for _, tt := range tests {
		ref, err := ParseOrganizationURL(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.id, ref.ID, tt.url)
		assert.Equal(t, tt.host, ref.Host, tt.url)
		assert.Equal(t, tt.slug, ref.Slug, tt.url)
	}
}

func TestParseOrganizationURLRejectsJunk(t *testing.T) {
	t.Parallel()

	for _, url := range []string{
		"",
		"not a url at all",
		"https://yandex.ru/maps/org/too-short/123/",
		"https://example.com/somewhere/else",
	} {
		_, err := ParseOrganizationURL(url)
		assert.ErrorIs(t, err, errBadOrgURL, url)
	}
}

func TestParseOrganizationIDIdempotent(t *testing.T) {
	t.Parallel()

	// Feeding an extracted ID back through the parser is a no-op: the bare
	// digits don't match any recognized format, but a URL built from them
	// does.
	url := "https://yandex.ru/maps/org/kafe/1010501395/reviews/"
	id := ParseOrganizationID(url)
	assert.Equal(t, "1010501395", id)

	again := ParseOrganizationID("https://yandex.ru/maps/org/" + id)
	assert.Equal(t, id, again)
}

func TestReviewsURL(t *testing.T) {
	t.Parallel()

	ref := OrgRef{ID: "1010501395", Host: "ru", Slug: "kafe"}
	assert.Equal(t, "https://yandex.ru/maps/org/kafe/1010501395/reviews/", ref.ReviewsURL())

	ref = OrgRef{ID: "1010501395", Host: "com"}
	assert.Equal(t, "https://yandex.com/maps/org/1010501395/reviews/", ref.ReviewsURL())
}
