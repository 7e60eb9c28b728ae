package matching

import (
	"strings"
	"unicode"

	"github.com/bissquit/job-alerts/internal/domain"
)

// KeywordConfig controls keyword extraction from a job.
type KeywordConfig struct {
	DescriptionWords int
	MinLength        int
}

// Tokenize splits normalized text into words. Letters, digits, '+' and '#'
// form words, so "c++" and "c#" survive; '.' and '-' are kept only between
// word characters ("node.js", "front-end").
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(Normalize(text), func(r rune) bool {
		return !isWordRune(r) && r != '.' && r != '-'
	})

	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".-")
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '#'
}

// ExtractKeywords returns the distinct candidate keywords for a job: title
// words, skill words and the first DescriptionWords words of the description,
// normalized and filtered by MinLength, in first-seen order.
func ExtractKeywords(job *domain.Job, cfg KeywordConfig) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(words []string) {
		for _, w := range words {
			if len([]rune(w)) < cfg.MinLength {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}

	add(Tokenize(job.Title))
	for _, skill := range job.Skills {
		add(Tokenize(skill))
	}

	desc := Tokenize(job.Description)
	if len(desc) > cfg.DescriptionWords {
		desc = desc[:cfg.DescriptionWords]
	}
	add(desc)

	return out
}
