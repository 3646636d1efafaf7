package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRussianDateRelative(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC)

	got, ok := parseRussianDate("вчера", now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), got)

	got, ok = parseRussianDate("сегодня", now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), got)

	got, ok = parseRussianDate("позавчера", now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC), got)

	got, ok = parseRussianDate("3 дня назад", now)
	require.True(t, ok)
	assert.Equal(t, now.Add(-3*24*time.Hour), got)

	got, ok = parseRussianDate("2 недели назад", now)
	require.True(t, ok)
	assert.Equal(t, now.Add(-14*24*time.Hour), got)

	got, ok = parseRussianDate("минуту назад", now)
	require.True(t, ok)
	assert.Equal(t, now.Add(-time.Minute), got)

	got, ok = parseRussianDate("день назад", now)
	require.True(t, ok)
	assert.Equal(t, now.Add(-24*time.Hour), got)

	got, ok = parseRussianDate("год назад", now)
	require.True(t, ok)
	assert.Equal(t, now.Add(-365*24*time.Hour), got)
}

func TestParseRussianDateAbsolute(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC)

	got, ok := parseRussianDate("5 января 2024", now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), got)

	// Current year assumed when omitted.
	got, ok = parseRussianDate("5 января", now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), got)

	// A month that hasn't happened yet this year must be last year's.
	february := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	got, ok = parseRussianDate("25 декабря", february)
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 12, 25, 0, 0, 0, 0, time.UTC), got)
}

func TestParseRussianDateFallbacks(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC)

	got, ok := parseRussianDate("2023-11-02", now)
	require.True(t, ok)
	assert.Equal(t, 2023, got.Year())

	_, ok = parseRussianDate("полная бессмыслица", now)
	assert.False(t, ok)

	_, ok = parseRussianDate("", now)
	assert.False(t, ok)
}
