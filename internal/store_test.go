package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const _testDSN = "postgres://postgres@localhost:5432/test"

func testStore(t *testing.T) (*Store, *Source) {
	ctx := context.Background()

	s, err := NewStore(ctx, _testDSN)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Init(ctx))

	src, err := s.CreateSource(ctx, 1, "https://yandex.ru/maps/org/kafe/1010501395/")
	require.NoError(t, err)
	t.Cleanup(func() {
		// Cascades to the source's reviews.
		_, _ = s.db.Exec(context.Background(), `DELETE FROM yandex_sources WHERE id = $1`, src.ID)
	})

	return s, src
}

func TestApplyFullSync(t *testing.T) {
	ctx := context.Background()
	s, src := testStore(t)

	published := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	fr := &FetchResult{
		OrganizationName: "Кафе на Невском",
		Rating:           4.5,
		TotalReviews:     10, // Upstream exaggerates; the stored row count wins.
		Reviews: []RawReview{
			{YandexID: "r1", Author: "Иван", Rating: 5, Text: "Отлично", PublishedAt: published},
			{YandexID: "r2", Author: "Мария", Rating: 3, Text: "Средне"},
			{YandexID: "r2", Author: "Мария", Rating: 3, Text: "Средне"}, // In-batch duplicate.
			{Author: "Олег", Rating: 4, Text: "Отзыв без идентификатора"},
		},
	}
	require.NoError(t, s.ApplyFullSync(ctx, src, fr))

	assert.Equal(t, 3, src.TotalReviews)
	require.NotNil(t, src.OrganizationName)
	assert.Equal(t, "Кафе на Невском", *src.OrganizationName)
	require.NotNil(t, src.Rating)
	assert.InDelta(t, 4.5, *src.Rating, 0.001)
	require.NotNil(t, src.LastSyncedAt)

	rows, err := s.ReviewsBySource(ctx, src.ID, "newest", 50, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	// A later full sync replaces the whole set.
	second := &FetchResult{Reviews: []RawReview{
		{YandexID: "r9", Author: "Пётр", Rating: 2, Text: "Совсем другой набор"},
	}}
	require.NoError(t, s.ApplyFullSync(ctx, src, second))

	rows, err = s.ReviewsBySource(ctx, src.ID, "newest", 50, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].YandexID)
	assert.Equal(t, "r9", *rows[0].YandexID)
	assert.Equal(t, 1, src.TotalReviews)

	// No upstream rating this time: the stored average takes over, and the
	// previously learned name survives an empty one.
	require.NotNil(t, src.Rating)
	assert.InDelta(t, 2.0, *src.Rating, 0.001)
	require.NotNil(t, src.OrganizationName)
	assert.Equal(t, "Кафе на Невском", *src.OrganizationName)
}

func TestApplyIncrementalSync(t *testing.T) {
	ctx := context.Background()
	s, src := testStore(t)

	seed := &FetchResult{Reviews: []RawReview{
		{YandexID: "k1", Author: "Иван", Rating: 5, Text: "Отлично"},
		{Author: "Олег", Rating: 4, Text: "Отзыв без идентификатора"},
	}}
	require.NoError(t, s.ApplyFullSync(ctx, src, seed))

	incr := &FetchResult{Reviews: []RawReview{
		{YandexID: "k1", Author: "Иван", Rating: 5, Text: "Переписанный текст"}, // Known ID: skipped.
		{Author: "Олег", Rating: 4, Text: "Отзыв без идентификатора"},           // ID-less: content match skips it.
		{YandexID: "k2", Author: "Анна", Rating: 1, Text: "Совсем новый"},
	}}
	require.NoError(t, s.ApplyIncrementalSync(ctx, src, incr))

	rows, err := s.ReviewsBySource(ctx, src.ID, "newest", 50, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, 3, src.TotalReviews)

	ids := newSet[string]()
	for _, r := range rows {
		if r.YandexID == nil {
			continue
		}
		assert.False(t, ids.has(*r.YandexID), "duplicate yandex_id %s", *r.YandexID)
		ids[*r.YandexID] = struct{}{}
		if *r.YandexID == "k1" {
			// The stored review wins over the refetched duplicate.
			require.NotNil(t, r.Text)
			assert.Equal(t, "Отлично", *r.Text)
		}
	}
	assert.Len(t, ids, 2)
}

func TestTouchLastSynced(t *testing.T) {
	ctx := context.Background()
	s, src := testStore(t)

	require.Nil(t, src.LastSyncedAt)
	require.NoError(t, s.TouchLastSynced(ctx, src))
	require.NotNil(t, src.LastSyncedAt)

	reloaded, err := s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloaded.LastSyncedAt)
	assert.Equal(t, 0, reloaded.TotalReviews)
}

func TestSanitizeReview(t *testing.T) {
	t.Parallel()

	published := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	row := sanitizeReview(RawReview{
		YandexID:    "  abc-1  ",
		Author:      "Иван Знаток города 5 уровня",
		Rating:      5,
		Text:        "Отличное   место.\n\n\n\nРекомендую  всем.",
		Branch:      " Филиал на Невском ",
		PublishedAt: published,
	})

	assert.Equal(t, "Иван", row.AuthorName)
	require.NotNil(t, row.Text)
	assert.Equal(t, "Отличное место.\n\nРекомендую всем.", *row.Text)
	require.NotNil(t, row.Rating)
	assert.Equal(t, 5, *row.Rating)
	require.NotNil(t, row.BranchName)
	assert.Equal(t, "Филиал на Невском", *row.BranchName)
	require.NotNil(t, row.PublishedAt)
	assert.Equal(t, published, *row.PublishedAt)
	require.NotNil(t, row.YandexID)
	assert.Equal(t, "abc-1", *row.YandexID)

	// Never populated; the column exists for downstream enrichment.
	assert.Nil(t, row.AuthorPhone)
}

func TestSanitizeReviewEmptyFields(t *testing.T) {
	t.Parallel()

	row := sanitizeReview(RawReview{Author: "", Rating: 0, Text: "   "})

	assert.Equal(t, _anonymousAuthor, row.AuthorName)
	assert.Nil(t, row.Text)
	assert.Nil(t, row.Rating)
	assert.Nil(t, row.BranchName)
	assert.Nil(t, row.PublishedAt)
	assert.Nil(t, row.YandexID)
}

func TestSanitizeReviewRatingOutOfRange(t *testing.T) {
	t.Parallel()

	// Out-of-range ratings store as NULL rather than violating the check
	// constraint.
	assert.Nil(t, sanitizeReview(RawReview{Rating: 0}).Rating)
	assert.Nil(t, sanitizeReview(RawReview{Rating: 6}).Rating)
	assert.NotNil(t, sanitizeReview(RawReview{Rating: 1}).Rating)
}

func TestSanitizeReviewKeepsSingleNewlines(t *testing.T) {
	t.Parallel()

	row := sanitizeReview(RawReview{Text: "Первая строка\nВторая строка\n\nТретья"})
	require.NotNil(t, row.Text)
	assert.Equal(t, "Первая строка\nВторая строка\n\nТретья", *row.Text)
}
