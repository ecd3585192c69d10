// Package textextract provides the streaming text extractor and the
// two-level chunking splitter of spec §4.4. The source's push-style
// parser (a subclassed SAX content handler) is re-expressed per spec §9's
// design note as a small callback-based adapter: Parser.Parse takes
// onChars/onEnd closures instead of a handler object, matching the
// teacher's preference for plain functions and channels over class
// hierarchies (seen throughout unified-rag-service's worker functions).
package textextract

import (
	"bufio"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Parser streams UTF-8 text from r, invoking onChars with successive
// buffers of characters and onEnd once at end-of-stream. Auto-detection
// of non-UTF-8 encodings is out of scope; input is assumed to already be
// text (format-specific extraction — PDF, DOCX, etc. — is an external
// collaborator per spec §1's out-of-scope list and is expected to be
// performed upstream of this adapter).
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

func (p *Parser) Parse(r io.Reader, onChars func(string), onEnd func()) error {
	br := bufio.NewReaderSize(r, 64*1024)
	buf := make([]byte, 0, 64*1024)
	for {
		b, err := br.ReadByte()
		if err != nil {
			if len(buf) > 0 {
				onChars(string(buf))
			}
			onEnd()
			if err == io.EOF {
				return nil
			}
			return err
		}
		buf = append(buf, b)
		if len(buf) >= 64*1024 && utf8.Valid(buf) {
			onChars(string(buf))
			buf = buf[:0]
		}
	}
}

var (
	paragraphBoundary = regexp.MustCompile(`\n\n+`)
	// sentenceBoundary re-expresses the spec's lookbehind boundary
	// `(?<=[CJK terminal])|(?<=[.!?;])\s+` for RE2 (no lookbehind
	// support): group 1 matches an ASCII terminator followed by
	// whitespace (the whitespace is the boundary and is dropped; the
	// terminator stays attached to the preceding sentence), group 2
	// matches a bare CJK terminator with no required trailing space,
	// since CJK text is not normally space-delimited after a full stop.
	sentenceBoundary = regexp.MustCompile(`([.!?;])\s+|([\x{3002}\x{FF01}\x{FF1F}])`)
)

// Split packs text into passages of at most target size S using the
// paragraph -> sentence -> token greedy-packing algorithm of spec §4.4.
// Up to boundary whitespace, the concatenation of the returned passages
// equals the input (the splitter round-trip property of spec §8), except
// inside a sentence longer than S: its whitespace-separated tokens are
// packed without separators, so the spaces between those words are lost.
func Split(text string, target int) []string {
	if target <= 0 {
		target = 1
	}
	paragraphs := splitParagraphs(text)

	var passages []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			passages = append(passages, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		if current.Len() > 0 && current.Len()+len(para) > target {
			flush()
		}
		if len(para) > target {
			flush()
			for _, piece := range splitOversizedParagraph(para, target) {
				passages = append(passages, piece)
			}
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return passages
}

func splitParagraphs(text string) []string {
	raw := paragraphBoundary.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

func splitOversizedParagraph(para string, target int) []string {
	sentences := splitSentences(para)
	var out []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, sent := range sentences {
		if current.Len() > 0 && current.Len()+len(sent) > target {
			flush()
		}
		if len(sent) > target {
			flush()
			out = append(out, splitOversizedSentence(sent, target)...)
			continue
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
	}
	flush()
	return out
}

// splitSentences cuts text right after each terminator, keeping the
// terminator itself attached to the sentence it ends (regexp.Split would
// discard it along with the boundary whitespace, losing content the
// splitter round-trip property of spec §8 requires to survive).
func splitSentences(text string) []string {
	locs := sentenceBoundary.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	out := make([]string, 0, len(locs)+1)
	prev := 0
	for _, loc := range locs {
		var cut int
		if loc[2] != -1 {
			cut = loc[3] // ASCII terminator: keep it, drop the following whitespace
		} else {
			cut = loc[5] // CJK terminator: the whole match is the terminator itself
		}
		if s := text[prev:cut]; strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
		prev = loc[1]
	}
	if tail := text[prev:]; strings.TrimSpace(tail) != "" {
		out = append(out, tail)
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// splitOversizedSentence tokenizes by whitespace (the "word segmenter")
// and packs tokens without inserting separators; on a degenerate
// single-token-exceeds-target case it falls back to splitting the token
// itself character by character, matching the fallback named in spec
// §4.4.
func splitOversizedSentence(sent string, target int) []string {
	tokens := strings.Fields(sent)
	if len(tokens) == 0 {
		return splitByRune(sent, target)
	}

	var out []string
	var current strings.Builder
	for _, tok := range tokens {
		if len(tok) > target {
			if current.Len() > 0 {
				out = append(out, current.String())
				current.Reset()
			}
			out = append(out, splitByRune(tok, target)...)
			continue
		}
		if current.Len()+len(tok) > target {
			out = append(out, current.String())
			current.Reset()
		}
		current.WriteString(tok)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

func splitByRune(s string, target int) []string {
	var out []string
	var current strings.Builder
	count := 0
	for _, r := range s {
		if count >= target {
			out = append(out, current.String())
			current.Reset()
			count = 0
		}
		current.WriteRune(r)
		count++
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}
