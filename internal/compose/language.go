package compose

import "unicode"

// DetectLanguage reports "zh" when the text contains any CJK characters,
// "en" otherwise. The verbose response only needs this coarse signal.
func DetectLanguage(text string) string {
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			return "zh"
		}
	}
	return "en"
}
