package textextract

import (
	"strings"
	"testing"
)

func TestSplitRoundTrip(t *testing.T) {
	input := "Para one sentence one. Para one sentence two.\n\nPara two is here.\n\nPara three follows after the blank line boundary."
	passages := Split(input, 1000)

	joined := strings.Join(passages, "\n\n")
	normalize := func(s string) string {
		s = strings.Join(strings.Fields(s), " ")
		return s
	}
	if normalize(joined) != normalize(input) {
		t.Fatalf("round trip mismatch:\ngot:  %q\nwant: %q", normalize(joined), normalize(input))
	}
}

func TestSplitPacksUnderTarget(t *testing.T) {
	input := strings.Repeat("word ", 50) + "\n\n" + strings.Repeat("more ", 50)
	passages := Split(input, 100)
	for i, p := range passages {
		if len(p) > 100 && len(strings.Fields(p)) > 1 {
			t.Fatalf("passage %d exceeds target and is not a single oversized token: %q", i, p)
		}
	}
	if len(passages) < 2 {
		t.Fatalf("expected at least 2 passages, got %d", len(passages))
	}
}

func TestSplitOversizedParagraphFallsBackToSentences(t *testing.T) {
	sentence := strings.Repeat("a", 60) + "."
	input := strings.Repeat(sentence+" ", 10)
	passages := Split(input, 80)
	if len(passages) < 2 {
		t.Fatalf("expected the oversized paragraph to be split into multiple sentence-packed passages, got %d", len(passages))
	}
}

func TestSplitOversizedParagraphRoundTrip(t *testing.T) {
	sentence := strings.Repeat("a", 60) + "."
	input := strings.Repeat(sentence+" ", 10)
	passages := Split(input, 80)

	joined := strings.Join(passages, " ")
	normalize := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}
	if normalize(joined) != normalize(input) {
		t.Fatalf("oversized paragraph round trip lost content:\ngot:  %q\nwant: %q", normalize(joined), normalize(input))
	}
	for _, p := range passages {
		if !strings.HasSuffix(p, ".") {
			t.Fatalf("passage lost its terminal punctuation: %q", p)
		}
	}
}

func TestSplitSentenceBoundaryKeepsCJKTerminatorWithoutSpace(t *testing.T) {
	input := "第一句。第二句。第三句。"
	sentences := splitSentences(input)
	if len(sentences) != 3 {
		t.Fatalf("expected 3 CJK sentences, got %d: %q", len(sentences), sentences)
	}
	if strings.Join(sentences, "") != input {
		t.Fatalf("CJK sentence split lost content:\ngot:  %q\nwant: %q", strings.Join(sentences, ""), input)
	}
}

func TestSplitEmptyInput(t *testing.T) {
	passages := Split("", 100)
	if len(passages) > 1 {
		t.Fatalf("expected at most one passage for empty input, got %d", len(passages))
	}
}
