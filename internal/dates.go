package internal

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// The upstream renders review dates in Russian: relative phrases ("3 дня
// назад"), bare day words ("вчера"), and absolute dates with genitive month
// names ("5 января 2024"). Everything lands in local time at start of day
// for absolute forms, or offset from now for relative ones.

var _months = map[string]time.Month{
	"января":   time.January,
	"февраля":  time.February,
	"марта":    time.March,
	"апреля":   time.April,
	"мая":      time.May,
	"июня":     time.June,
	"июля":     time.July,
	"августа":  time.August,
	"сентября": time.September,
	"октября":  time.October,
	"ноября":   time.November,
	"декабря":  time.December,
}

// unitDurations maps both plural stems and singular accusative forms to a
// unit length. Months and years are approximations; the upstream only shows
// those for old reviews where precision no longer matters.
var _units = []struct {
	prefix string
	d      time.Duration
}{
	{"секунд", time.Second},
	{"минут", time.Minute},
	{"час", time.Hour},
	{"дн", 24 * time.Hour},   // дня, дней
	{"день", 24 * time.Hour}, // Bare singular; "дн" doesn't cover it.
	{"недел", 7 * 24 * time.Hour},
	{"месяц", 30 * 24 * time.Hour},
	{"год", 365 * 24 * time.Hour},
	{"лет", 365 * 24 * time.Hour},
}

var (
	_agoRE      = regexp.MustCompile(`^(\d+)\s+([^\s]+)\s+назад$`)
	_absoluteRE = regexp.MustCompile(`^(\d{1,2})\s+([а-яё]+)(?:\s+(\d{4}))?(?:\s+г\.?)?$`)
)

// parseRussianDate turns an upstream date string into a timestamp. The
// second return is false only when the input was entirely unusable, in which
// case the caller should fall back to now.
func parseRussianDate(s string, now time.Time) (time.Time, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return time.Time{}, false
	}

	day := func(offset int) time.Time {
		y, m, d := now.AddDate(0, 0, offset).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	}

	switch s {
	case "сегодня":
		return day(0), true
	case "вчера":
		return day(-1), true
	case "позавчера":
		return day(-2), true
	}

	if m := _agoRE.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		for _, u := range _units {
			if strings.HasPrefix(m[2], u.prefix) {
				return now.Add(-time.Duration(n) * u.d), true
			}
		}
	}

	// Singular forms drop the number: "минуту назад", "год назад".
	if rest, ok := strings.CutSuffix(s, " назад"); ok {
		for _, u := range _units {
			if strings.HasPrefix(rest, u.prefix) {
				return now.Add(-u.d), true
			}
		}
	}

	if m := _absoluteRE.FindStringSubmatch(s); m != nil {
		if month, ok := _months[m[2]]; ok {
			dayN, _ := strconv.Atoi(m[1])
			year := now.Year()
			explicit := m[3] != ""
			if explicit {
				year, _ = strconv.Atoi(m[3])
			}
			t := time.Date(year, month, dayN, 0, 0, 0, 0, now.Location())
			// Without an explicit year, a date that lands in the future must
			// belong to the previous year.
			if !explicit && t.After(now) {
				t = t.AddDate(-1, 0, 0)
			}
			return t, true
		}
	}

	// Permissive last resorts before giving up.
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "02.01.2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}
