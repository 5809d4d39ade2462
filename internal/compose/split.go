// Package compose turns raw recognition text into API results: tag
// cleanup, punctuation-based sentence re-timing, subtitle rendering and
// inverse text normalization.
package compose

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Sentence is one timed piece of a transcription.
type Sentence struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

var (
	punctuationRe = regexp.MustCompile(`[，。！？；：,.!?;:]`)
	trailingPunct = regexp.MustCompile(`[，。！？；：,.!?;:]+$`)
	asrTagRe      = regexp.MustCompile(`<\|[^|>]+\|>`)
)

// CleanTags removes inline engine tags like <|zh|> and <|HAPPY|>.
func CleanTags(text string) string {
	return strings.TrimSpace(asrTagRe.ReplaceAllString(text, ""))
}

// SplitByPunctuation splits text at punctuation marks and apportions the
// [start, end] window across the sentences by character count. Trailing
// punctuation is stripped from each emitted sentence, and the last
// sentence's end is snapped to the window end so no time is lost to
// rounding.
func SplitByPunctuation(text string, start, end float64) []Sentence {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	text = CleanTags(text)
	if text == "" {
		return nil
	}

	totalDuration := end - start
	if totalDuration <= 0 {
		return []Sentence{{Text: trailingPunct.ReplaceAllString(text, ""), Start: start, End: end}}
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 || len(sentences) == 1 {
		clean := text
		if len(sentences) == 1 {
			clean = sentences[0]
		}
		return []Sentence{{Text: trailingPunct.ReplaceAllString(clean, ""), Start: start, End: end}}
	}

	totalChars := 0
	for _, s := range sentences {
		totalChars += utf8.RuneCountInString(s)
	}
	if totalChars == 0 {
		return []Sentence{{Text: trailingPunct.ReplaceAllString(text, ""), Start: start, End: end}}
	}

	result := make([]Sentence, 0, len(sentences))
	current := start
	for _, s := range sentences {
		ratio := float64(utf8.RuneCountInString(s)) / float64(totalChars)
		segEnd := current + totalDuration*ratio
		result = append(result, Sentence{
			Text:  trailingPunct.ReplaceAllString(s, ""),
			Start: round3(current),
			End:   round3(segEnd),
		})
		current = segEnd
	}

	result[len(result)-1].End = end
	return result
}

// splitSentences cuts text after each punctuation mark, keeping the mark
// with its sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if punctuationRe.MatchString(string(r)) {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
