package internal

import (
	"regexp"
	"strings"
)

// The upstream concatenates gamification badges onto author names in some
// layouts ("Иван Знаток города 5 уровня"). These have to come off before the
// name is stored or fingerprinted, but only on word boundaries so names that
// merely contain a badge word ("Эксперт-криминалист") survive intact.
var _badgeREs = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|\s)Знаток города(?:\s+\d+\s+уровня)?(?:\s|$)`),
	regexp.MustCompile(`(?:^|\s)Активный автор(?:\s|$)`),
	regexp.MustCompile(`(?:^|\s)Местный эксперт(?:\s|$)`),
	regexp.MustCompile(`(?:^|\s)Эксперт(?:\s+\d+\s+уровня)?(?:\s|$)`),
	regexp.MustCompile(`(?:^|\s)Новичок(?:\s|$)`),
	regexp.MustCompile(`(?:^|\s)\d+\s+отзыв\S*(?:\s|$)`),
	regexp.MustCompile(`(?:^|\s)\d+\s+оцен\S*(?:\s|$)`),
	regexp.MustCompile(`(?:^|\s)\d+\s+фото\S*(?:\s|$)`),
}

var _spacesRE = regexp.MustCompile(`\s+`)

// cleanAuthorName strips badge text and normalizes whitespace. An empty
// result becomes the anonymous placeholder.
func cleanAuthorName(name string) string {
	for _, re := range _badgeREs {
		// Replace repeatedly: boundaries overlap when badges are adjacent.
		for {
			cleaned := re.ReplaceAllString(name, " ")
			if cleaned == name {
				break
			}
			name = cleaned
		}
	}
	name = strings.TrimSpace(_spacesRE.ReplaceAllString(name, " "))
	if name == "" {
		return _anonymousAuthor
	}
	return name
}
