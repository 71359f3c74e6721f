// Package chunk splits normalized chapter text into synthesis-sized
// segments: paragraphs, then sentences, then greedy target/max packing,
// with a final merge pass to absorb undersized segments.
package chunk

import (
	"regexp"
	"strings"
)

// Segment is one synthesis unit prior to resolution.
type Segment struct {
	Text           string
	ParagraphIndex int
}

// Options controls target/max packing sizes. Zero values fall back to the
// same defaults as the admission-time config.
type Options struct {
	TargetChars       int
	MaxChars          int
	MinSegmentChars   int
}

func (o Options) withDefaults() Options {
	if o.TargetChars <= 0 {
		o.TargetChars = 300
	}
	if o.MaxChars <= 0 {
		o.MaxChars = 500
	}
	if o.MinSegmentChars <= 0 {
		o.MinSegmentChars = 60
	}
	return o
}

var (
	blankLineRe = regexp.MustCompile(`\n\s*\n`)
	sentenceRe  = regexp.MustCompile(`(?:[.!?]+)(?:\s+|$)`)
)

// SplitParagraphs splits on blank lines, dropping empty paragraphs.
func SplitParagraphs(text string) []string {
	raw := blankLineRe.Split(strings.TrimSpace(text), -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SplitSentences splits a paragraph into sentences on terminal punctuation
// followed by whitespace, keeping the punctuation attached to the
// preceding sentence.
func SplitSentences(paragraph string) []string {
	paragraph = strings.TrimSpace(paragraph)
	if paragraph == "" {
		return nil
	}
	idxs := sentenceRe.FindAllStringIndex(paragraph, -1)
	if len(idxs) == 0 {
		return []string{paragraph}
	}
	var out []string
	start := 0
	for _, m := range idxs {
		out = append(out, strings.TrimSpace(paragraph[start:m[1]]))
		start = m[1]
	}
	if start < len(paragraph) {
		rest := strings.TrimSpace(paragraph[start:])
		if rest != "" {
			out = append(out, rest)
		}
	}
	filtered := out[:0]
	for _, s := range out {
		if s != "" {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// splitLongSentence greedily packs words of an over-long sentence into
// pieces no longer than maxChars, never splitting inside a word.
func splitLongSentence(sentence string, maxChars int) []string {
	words := strings.Fields(sentence)
	if len(words) == 0 {
		return nil
	}
	var out []string
	var cur strings.Builder
	for _, w := range words {
		if cur.Len() == 0 {
			cur.WriteString(w)
			continue
		}
		if cur.Len()+1+len(w) > maxChars {
			out = append(out, cur.String())
			cur.Reset()
			cur.WriteString(w)
			continue
		}
		cur.WriteByte(' ')
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// ChunkParagraph packs a paragraph's sentences into segments targeting
// opts.TargetChars and never exceeding opts.MaxChars, splitting any single
// sentence that alone exceeds MaxChars.
func ChunkParagraph(paragraph string, opts Options) []string {
	opts = opts.withDefaults()
	sentences := SplitSentences(paragraph)
	var pieces []string
	for _, s := range sentences {
		if len(s) > opts.MaxChars {
			pieces = append(pieces, splitLongSentence(s, opts.MaxChars)...)
		} else {
			pieces = append(pieces, s)
		}
	}

	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
	}
	for _, p := range pieces {
		if cur.Len() == 0 {
			cur.WriteString(p)
			continue
		}
		if cur.Len()+1+len(p) > opts.MaxChars {
			flush()
			cur.WriteString(p)
			continue
		}
		cur.WriteByte(' ')
		cur.WriteString(p)
		if cur.Len() >= opts.TargetChars {
			flush()
		}
	}
	flush()
	return out
}

// ChunkText runs ChunkParagraph over every paragraph of text and then
// merges undersized segments forward, then backward, within each
// paragraph. A segment below MinSegmentChars survives when it has no
// same-paragraph neighbor it can join without exceeding MaxChars;
// segments are never merged across paragraphs.
func ChunkText(text string, opts Options) []Segment {
	opts = opts.withDefaults()
	var segments []Segment
	for pIdx, para := range SplitParagraphs(text) {
		for _, piece := range ChunkParagraph(para, opts) {
			segments = append(segments, Segment{Text: piece, ParagraphIndex: pIdx})
		}
	}
	return mergeSmallSegments(segments, opts)
}

// mergeSmallSegments absorbs segments shorter than MinSegmentChars into a
// same-paragraph neighbor: first a forward merge pass, then a backward
// pass for anything still undersized (e.g. a short trailing segment with
// no following neighbor in its paragraph).
func mergeSmallSegments(segments []Segment, opts Options) []Segment {
	if len(segments) <= 1 {
		return segments
	}

	merged := make([]Segment, 0, len(segments))
	for i := 0; i < len(segments); i++ {
		cur := segments[i]
		if len(cur.Text) < opts.MinSegmentChars && i+1 < len(segments) &&
			segments[i+1].ParagraphIndex == cur.ParagraphIndex &&
			len(cur.Text)+1+len(segments[i+1].Text) <= opts.MaxChars {
			segments[i+1] = Segment{
				Text:           cur.Text + " " + segments[i+1].Text,
				ParagraphIndex: cur.ParagraphIndex,
			}
			continue
		}
		merged = append(merged, cur)
	}

	final := make([]Segment, 0, len(merged))
	for i := 0; i < len(merged); i++ {
		cur := merged[i]
		if len(cur.Text) < opts.MinSegmentChars && len(final) > 0 &&
			final[len(final)-1].ParagraphIndex == cur.ParagraphIndex &&
			len(final[len(final)-1].Text)+1+len(cur.Text) <= opts.MaxChars {
			final[len(final)-1].Text = final[len(final)-1].Text + " " + cur.Text
			continue
		}
		final = append(final, cur)
	}
	return final
}
