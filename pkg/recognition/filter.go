package recognition

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Stock phrases the remote model produces on near-silent input.
var hallucinatedPhrases = []string{
	"продолжение следует",
	"с вами был",
	"до свидания",
	"до новых встреч",
	"спасибо за внимание",
	"конец",
	"закончили",
	"субтитры",
	"я галина",
	"редактор субтитров",
}

var (
	fillerPattern   = regexp.MustCompile(`^(э+|м+|а+|у+|о+|ну|так|вот)$`)
	sentenceBreaker = regexp.MustCompile(`[.!?]`)
)

// Filter decides whether a remote transcript is real speech.
type Filter struct {
	MinLength    int
	MaxLength    int
	MaxSentences int
	Phrases      []string
}

// DefaultFilter returns the production filter.
func DefaultFilter() Filter {
	return Filter{
		MinLength:    2,
		MaxLength:    150,
		MaxSentences: 3,
		Phrases:      hallucinatedPhrases,
	}
}

// Clean returns the trimmed text and true when it should be forwarded,
// or "" and false when it looks hallucinated or meaningless.
func (f Filter) Clean(text string) (string, bool) {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n < f.MinLength || (f.MaxLength > 0 && n > f.MaxLength) {
		return "", false
	}
	if f.MaxSentences > 0 && len(sentenceBreaker.Split(text, -1)) > f.MaxSentences {
		return "", false
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return "", false
	}

	short := true
	for _, w := range words {
		if utf8.RuneCountInString(w) > 2 {
			short = false
			break
		}
	}
	if short {
		return "", false
	}
	if len(words) == 1 && fillerPattern.MatchString(words[0]) {
		return "", false
	}

	// Phrases match on whole words so "наконец" survives "конец".
	joined := " " + strings.Join(words, " ") + " "
	for _, phrase := range f.Phrases {
		if strings.Contains(joined, " "+phrase+" ") {
			return "", false
		}
	}
	return text, true
}
