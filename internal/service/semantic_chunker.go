package service

import (
	"strings"
	"unicode"
)

// semanticBlock is a paragraph or header block from the source text, used by
// the semantic and hierarchical chunking strategies.
type semanticBlock struct {
	content  string
	isHeader bool
	title    string
}

// splitSemanticBlocks splits text into blocks separated by double newlines,
// classifying each as a header or paragraph.
func splitSemanticBlocks(text string) []semanticBlock {
	raw := strings.Split(text, "\n\n")
	var blocks []semanticBlock
	for _, p := range raw {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		if title := extractSectionTitle(trimmed); title != "" {
			blocks = append(blocks, semanticBlock{content: trimmed, isHeader: true, title: title})
		} else {
			blocks = append(blocks, semanticBlock{content: trimmed})
		}
	}
	return blocks
}

// buildSemanticSegments merges blocks into segments respecting meaning
// boundaries: headers always force a new segment, paragraphs merge until
// maxSize characters, oversized paragraphs split at sentence boundaries.
func buildSemanticSegments(blocks []semanticBlock, maxSize int) []segment {
	var segments []segment
	var current strings.Builder
	currentSection := ""

	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, segment{content: current.String(), sectionTitle: currentSection})
			current.Reset()
		}
	}

	for _, blk := range blocks {
		if blk.isHeader {
			flush()
			currentSection = blk.title
			current.WriteString(blk.content)
			continue
		}

		if current.Len() > 0 && current.Len()+2+len(blk.content) > maxSize {
			flush()
		}

		if len(blk.content) > maxSize {
			flush()
			for _, sub := range splitLargeBlock(blk.content, maxSize) {
				segments = append(segments, segment{content: sub, sectionTitle: currentSection})
			}
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(blk.content)
	}

	flush()
	return segments
}

// applySemanticOverlap prepends the last two sentences of the previous
// segment to each subsequent one, giving a meaning-preserving overlap
// instead of a raw character tail.
func applySemanticOverlap(segments []segment) []segment {
	if len(segments) <= 1 {
		return segments
	}

	result := make([]segment, len(segments))
	result[0] = segments[0]

	for i := 1; i < len(segments); i++ {
		prevSentences := splitSentencesSemantic(segments[i-1].content)
		if len(prevSentences) <= 1 {
			prevSentences = splitSentences(segments[i-1].content)
		}

		overlapCount := 2
		if overlapCount > len(prevSentences) {
			overlapCount = len(prevSentences)
		}

		var tail string
		if overlapCount > 0 {
			tail = strings.Join(prevSentences[len(prevSentences)-overlapCount:], " ")
		}

		if tail != "" {
			result[i] = segment{content: tail + "\n\n" + segments[i].content, sectionTitle: segments[i].sectionTitle}
		} else {
			result[i] = segments[i]
		}
	}

	return result
}

// splitSentencesSemantic splits text at sentence boundaries defined as
// ". ", "! ", or "? " followed by an uppercase letter — a stricter
// heuristic than splitSentences, tuned to avoid breaking on abbreviations.
func splitSentencesSemantic(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)

	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])
		if (runes[i] == '.' || runes[i] == '!' || runes[i] == '?') &&
			i+2 < len(runes) && runes[i+1] == ' ' && unicode.IsUpper(runes[i+2]) {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
