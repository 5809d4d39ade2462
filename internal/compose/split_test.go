package compose

import (
	"math"
	"testing"
)

func TestCleanTags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"language and emotion tags", "<|zh|><|NEUTRAL|><|Speech|>你好世界", "你好世界"},
		{"no tags", "hello world", "hello world"},
		{"tag in the middle", "前半<|EMO_UNKNOWN|>后半", "前半后半"},
		{"only tags", "<|en|><|withitn|>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanTags(tt.in); got != tt.want {
				t.Errorf("CleanTags(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitByPunctuationSingleSentence(t *testing.T) {
	got := SplitByPunctuation("今天天气不错。", 1.0, 4.0)
	if len(got) != 1 {
		t.Fatalf("got %d sentences, want 1", len(got))
	}
	if got[0].Text != "今天天气不错" {
		t.Errorf("trailing punctuation not stripped: %q", got[0].Text)
	}
	if got[0].Start != 1.0 || got[0].End != 4.0 {
		t.Errorf("single sentence should keep the full window, got [%v, %v]", got[0].Start, got[0].End)
	}
}

func TestSplitByPunctuationApportionsByRuneCount(t *testing.T) {
	// Two sentences of equal rune count (punctuation included) split the
	// window evenly.
	got := SplitByPunctuation("你好吗？我很好。", 0.0, 8.0)
	if len(got) != 2 {
		t.Fatalf("got %d sentences, want 2", len(got))
	}
	if got[0].Text != "你好吗" || got[1].Text != "我很好" {
		t.Errorf("unexpected sentences: %q, %q", got[0].Text, got[1].Text)
	}
	if math.Abs(got[0].End-4.0) > 0.001 {
		t.Errorf("first sentence end = %v, want 4.0", got[0].End)
	}
	if got[1].Start != 4.0 {
		t.Errorf("second sentence start = %v, want 4.0", got[1].Start)
	}
	if got[1].End != 8.0 {
		t.Errorf("last sentence end must snap to window end, got %v", got[1].End)
	}
}

func TestSplitByPunctuationZeroDuration(t *testing.T) {
	got := SplitByPunctuation("一句话。另一句。", 2.0, 2.0)
	if len(got) != 1 {
		t.Fatalf("zero-duration window must yield one sentence, got %d", len(got))
	}
	if got[0].Start != 2.0 || got[0].End != 2.0 {
		t.Errorf("times must pass through unchanged, got [%v, %v]", got[0].Start, got[0].End)
	}
}

func TestSplitByPunctuationEmptyAfterTags(t *testing.T) {
	if got := SplitByPunctuation("<|zh|><|NEUTRAL|>", 0, 1); got != nil {
		t.Errorf("tag-only input should yield nil, got %v", got)
	}
	if got := SplitByPunctuation("   ", 0, 1); got != nil {
		t.Errorf("blank input should yield nil, got %v", got)
	}
}

func TestSplitByPunctuationLastEndSnaps(t *testing.T) {
	got := SplitByPunctuation("短。这是一个比较长的句子。中。", 0.0, 10.0)
	if len(got) != 3 {
		t.Fatalf("got %d sentences, want 3", len(got))
	}
	if got[len(got)-1].End != 10.0 {
		t.Errorf("last end = %v, want 10.0", got[len(got)-1].End)
	}
	// Sentences are contiguous after rounding.
	for i := 1; i < len(got); i++ {
		if math.Abs(got[i].Start-got[i-1].End) > 0.0011 {
			t.Errorf("gap between sentence %d and %d: %v vs %v", i-1, i, got[i-1].End, got[i].Start)
		}
	}
}

func TestFormatSRT(t *testing.T) {
	sentences := []Sentence{
		{Text: "Hello world", Start: 0, End: 1.5},
		{Text: "第二句", Start: 1.5, End: 3661.25},
	}
	want := "1\n00:00:00,000 --> 00:00:01,500\nHello world\n\n" +
		"2\n00:00:01,500 --> 01:01:01,250\n第二句\n\n"
	if got := FormatSRT(sentences); got != want {
		t.Errorf("FormatSRT mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestFormatVTT(t *testing.T) {
	sentences := []Sentence{{Text: "hi", Start: 0.5, End: 2}}
	want := "WEBVTT\n\n00:00:00.500 --> 00:00:02.000\nhi\n\n"
	if got := FormatVTT(sentences); got != want {
		t.Errorf("FormatVTT mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestDetectLanguage(t *testing.T) {
	if got := DetectLanguage("你好 hello"); got != "zh" {
		t.Errorf("mixed text with CJK should be zh, got %q", got)
	}
	if got := DetectLanguage("plain english only"); got != "en" {
		t.Errorf("latin text should be en, got %q", got)
	}
}
