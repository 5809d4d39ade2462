package compose

import (
	"strconv"
	"strings"
)

// ApplyITN rewrites spoken-form Chinese numerals into digits, e.g.
// 三百二十五 -> 325 and 一点五 -> 1.5. Runs it cannot parse are left
// untouched, so a failed conversion never degrades the transcript.
func ApplyITN(text string) string {
	if text == "" {
		return text
	}

	runes := []rune(text)
	var b strings.Builder
	i := 0
	for i < len(runes) {
		if !isNumeralRune(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}

		j := i
		for j < len(runes) && (isNumeralRune(runes[j]) || (runes[j] == '点' && j > i && j+1 < len(runes) && isDigitRune(runes[j+1]))) {
			j++
		}

		run := string(runes[i:j])
		if converted, ok := convertNumeral(run); ok {
			b.WriteString(converted)
		} else {
			b.WriteString(run)
		}
		i = j
	}
	return b.String()
}

var digitValues = map[rune]int64{
	'零': 0, '一': 1, '二': 2, '两': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

var unitValues = map[rune]int64{
	'十': 10, '百': 100, '千': 1000, '万': 10000, '亿': 100000000,
}

func isDigitRune(r rune) bool {
	_, ok := digitValues[r]
	return ok
}

func isNumeralRune(r rune) bool {
	if isDigitRune(r) {
		return true
	}
	_, ok := unitValues[r]
	return ok
}

// convertNumeral parses one spoken numeral run. Integer and simple
// decimal forms are supported.
func convertNumeral(run string) (string, bool) {
	intPart := run
	var fracPart string
	if idx := strings.IndexRune(run, '点'); idx >= 0 {
		intPart = run[:idx]
		fracPart = run[idx+len("点"):]
	}

	value, ok := parseInteger(intPart)
	if !ok {
		return "", false
	}
	intText := strconv.FormatInt(value, 10)

	// Digit-only runs like 二零二五 read out positionally (years, codes).
	if digits, isPlain := plainDigits(intPart); isPlain && len([]rune(intPart)) > 1 {
		intText = digits
	}

	if fracPart == "" {
		return intText, true
	}

	var frac strings.Builder
	for _, r := range fracPart {
		d, ok := digitValues[r]
		if !ok {
			return "", false
		}
		frac.WriteString(strconv.FormatInt(d, 10))
	}
	return intText + "." + frac.String(), true
}

// plainDigits reports whether the run is digit characters only and, if
// so, their positional concatenation.
func plainDigits(s string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		d, ok := digitValues[r]
		if !ok {
			return "", false
		}
		b.WriteString(strconv.FormatInt(d, 10))
	}
	return b.String(), true
}

func parseInteger(s string) (int64, bool) {
	runes := []rune(s)
	if len(runes) == 0 {
		return 0, false
	}

	// Leading 十 means ten: 十五 -> 15.
	var total, section, current int64
	for i, r := range runes {
		if d, ok := digitValues[r]; ok {
			current = d
			continue
		}
		unit := unitValues[r]
		switch unit {
		case 10000, 100000000:
			section = (section + current) * unit
			total += section
			section = 0
			current = 0
		default:
			if current == 0 && i == 0 && unit == 10 {
				current = 1
			}
			if current == 0 && unit != 10 {
				return 0, false
			}
			if current == 0 {
				current = 1
			}
			section += current * unit
			current = 0
		}
	}
	total += section + current
	return total, true
}
