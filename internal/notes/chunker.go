package notes

import "strings"

// Span is a chunk of text together with its byte offsets in the cleaned
// document it was cut from.
type Span struct {
	Text  string
	Start int
	End   int
}

// sentenceDelimiters is the priority-ordered list searched (from the right)
// when a paragraph-accumulated chunk must be split further.
var sentenceDelimiters = []string{"。", "！", "？", "\n\n", ".", "!", "?"}

// Chunk splits cleaned document text into overlapping spans.
//
// A document shorter than chunkSize is emitted whole (small-file
// protection). Otherwise paragraphs (split on blank lines) are accumulated
// greedily; when the next paragraph would push the running chunk past
// chunkSize, the accumulated text is either emitted as-is or, if it grew
// past 1.5×chunkSize, split further by splitLargeText.
func Chunk(content string, chunkSize, overlap, minChunkSize int) []Span {
	if len(content) < chunkSize {
		if strings.TrimSpace(content) == "" {
			return nil
		}
		return []Span{{Text: content, Start: 0, End: len(content)}}
	}

	paragraphs := strings.Split(content, "\n\n")

	var spans []Span
	currentPos := 0
	accumulated := ""
	accumulatedStart := 0

	flush := func() {
		if len(accumulated) < minChunkSize {
			return
		}
		if float64(len(accumulated)) > float64(chunkSize)*1.5 {
			spans = append(spans, splitLargeText(accumulated, accumulatedStart, chunkSize, overlap, minChunkSize)...)
			return
		}
		spans = append(spans, Span{Text: accumulated, Start: accumulatedStart, End: accumulatedStart + len(accumulated)})
	}

	for _, paragraph := range paragraphs {
		trimmed := strings.TrimSpace(paragraph)
		if trimmed == "" {
			currentPos += len(paragraph) + 2
			continue
		}

		if accumulated == "" {
			accumulated = trimmed
			accumulatedStart = currentPos
		} else {
			test := accumulated + "\n\n" + trimmed
			if len(test) > chunkSize {
				flush()
				accumulated = trimmed
				accumulatedStart = currentPos
			} else {
				accumulated = test
			}
		}

		currentPos += len(paragraph) + 2
	}

	if accumulated != "" {
		flush()
	}

	return spans
}

// splitLargeText splits an over-long accumulated chunk at sentence
// boundaries, with overlap between consecutive emitted spans.
func splitLargeText(text string, startOffset, chunkSize, overlap, minChunkSize int) []Span {
	var spans []Span
	start := 0
	textLen := len(text)

	for start < textLen {
		idealEnd := start + chunkSize
		if idealEnd > textLen {
			idealEnd = textLen
		}

		var end int
		if idealEnd >= textLen {
			end = textLen
		} else {
			searchStart := start + minChunkSize
			if alt := idealEnd - 200; alt > searchStart {
				searchStart = alt
			}
			if searchStart < start {
				searchStart = start
			}
			searchEnd := idealEnd

			bestPos, bestLen := -1, 0
			for _, delim := range sentenceDelimiters {
				if pos := lastIndexInRange(text, delim, searchStart, searchEnd); pos != -1 {
					bestPos, bestLen = pos, len(delim)
					break
				}
			}

			if bestPos != -1 {
				end = bestPos + bestLen
			} else if spacePos := lastIndexInRange(text, " ", searchStart, searchEnd); spacePos != -1 {
				end = spacePos + 1
			} else {
				end = idealEnd
			}
		}

		chunkText := strings.TrimSpace(text[start:end])
		if len(chunkText) >= minChunkSize {
			spans = append(spans, Span{
				Text:  chunkText,
				Start: startOffset + start,
				End:   startOffset + end,
			})
		}

		nextStart := end - overlap
		lastStart := -1
		if len(spans) > 0 {
			lastStart = spans[len(spans)-1].Start - startOffset
		}
		if nextStart <= lastStart {
			nextStart = end
		}
		start = nextStart

		if textLen-start < minChunkSize {
			break
		}
	}

	return spans
}

// lastIndexInRange finds the last occurrence of sep within text[from:to],
// returning its absolute byte offset, or -1 if not found.
func lastIndexInRange(text, sep string, from, to int) int {
	if from < 0 {
		from = 0
	}
	if to > len(text) {
		to = len(text)
	}
	if from >= to {
		return -1
	}
	idx := strings.LastIndex(text[from:to], sep)
	if idx == -1 {
		return -1
	}
	return from + idx
}
