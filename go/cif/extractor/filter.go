package extractor

import (
	_ "embed"
	"regexp"
	"strings"
	"unicode/utf8"
)

// TextFilterConfig is the optional "text_content_filter" member of an
// extractor configuration. It reduces fragment text to significant lowercase
// words before storage.
type TextFilterConfig struct {
	// IncludeBaseStopWords enables the built-in English stop word list.
	IncludeBaseStopWords bool `json:"include_base_stop_words"`

	// AdditionalStopWords are extra words to drop. They are matched against
	// lowercased input words exactly as configured.
	AdditionalStopWords []string `json:"additional_stop_words"`
}

//go:embed base_stop_words.txt
var baseStopWordsRaw string

var baseStopWords = parseStopWords(baseStopWordsRaw)

func parseStopWords(raw string) []string {
	ret := []string{}
	for _, line := range strings.Split(raw, "\n") {
		word := strings.TrimSpace(line)
		if word == "" {
			continue
		}
		ret = append(ret, strings.ToLower(word))
	}
	return ret
}

// wordRe tokenizes text into words, keeping single-hyphen compounds like
// "D2710-D2712" together.
var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]+\-[\p{L}\p{N}_]+|[\p{L}\p{N}_]+`)

// TextFilter drops stop words and single character words from fragment text
// and lowercases the remainder.
type TextFilter struct {
	stop map[string]bool
}

// NewTextFilter builds a TextFilter from its configuration. A nil config
// yields a nil filter, which leaves text untouched.
func NewTextFilter(cfg *TextFilterConfig) *TextFilter {
	if cfg == nil {
		return nil
	}
	stop := map[string]bool{}
	if cfg.IncludeBaseStopWords {
		for _, word := range baseStopWords {
			stop[word] = true
		}
	}
	for _, word := range cfg.AdditionalStopWords {
		stop[word] = true
	}
	return &TextFilter{stop: stop}
}

// Filter returns the significant words of text, lowercased and joined by
// single spaces.
func (f *TextFilter) Filter(text string) string {
	words := wordRe.FindAllString(text, -1)
	kept := make([]string, 0, len(words))
	for _, word := range words {
		lower := strings.ToLower(word)
		if utf8.RuneCountInString(word) <= 1 || f.stop[lower] {
			continue
		}
		kept = append(kept, lower)
	}
	return strings.Join(kept, " ")
}
