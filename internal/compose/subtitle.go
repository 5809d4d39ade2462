package compose

import (
	"fmt"
	"strings"
	"time"
)

// FormatSRT renders sentences as an SRT document with dense 1-based cue
// numbering.
func FormatSRT(sentences []Sentence) string {
	var b strings.Builder
	for i, s := range sentences {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1,
			formatTimestamp(s.Start, ","),
			formatTimestamp(s.End, ","),
			s.Text,
		)
	}
	return b.String()
}

// FormatVTT renders sentences as a WebVTT document.
func FormatVTT(sentences []Sentence) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, s := range sentences {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			formatTimestamp(s.Start, "."),
			formatTimestamp(s.End, "."),
			s.Text,
		)
	}
	return b.String()
}

// formatTimestamp converts seconds to HH:MM:SS<sep>mmm. SRT uses a comma
// separator, WebVTT a period.
func formatTimestamp(seconds float64, sep string) string {
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, sep, ms)
}
