package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanAuthorName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Иван Знаток города 5 уровня", "Иван"},
		{"Мария Активный автор", "Мария"},
		{"Пётр Местный эксперт", "Пётр"},
		{"Анна Эксперт 3 уровня", "Анна"},
		{"Олег Новичок", "Олег"},
		{"Ирина 15 отзывов", "Ирина"},
		{"Ирина 2 оценки 8 фото", "Ирина"},
		// A hyphenated word containing a badge term is not a badge.
		{"Эксперт-криминалист Петров", "Эксперт-криминалист Петров"},
		{"  Сергей   Иванов  ", "Сергей Иванов"},
		{"", _anonymousAuthor},
		{"Знаток города 10 уровня", _anonymousAuthor},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanAuthorName(tt.in), "%q", tt.in)
	}
}
