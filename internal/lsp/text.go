package lsp

import "unicode/utf8"

// applyChanges replays content changes in order. A change without a range
// replaces the whole buffer; ranged changes are spliced at UTF-16 positions
// clamped to the buffer.
func applyChanges(text string, changes []textDocumentContentChangeEvent) string {
	for _, change := range changes {
		if change.Range == nil {
			text = change.Text
			continue
		}
		start := byteOffset(text, change.Range.Start)
		end := byteOffset(text, change.Range.End)
		if end < start {
			start, end = end, start
		}
		text = text[:start] + change.Text + text[end:]
	}
	return text
}

// byteOffset converts a line/UTF-16 position into a byte offset in text.
// Positions past the end of a line clamp to the line end; lines past the
// end of the buffer clamp to len(text).
func byteOffset(text string, pos position) int {
	i := 0
	for line := uint32(0); line < pos.Line; line++ {
		nl := indexNewline(text, i)
		if nl < 0 {
			return len(text)
		}
		i = nl + 1
	}
	var units uint32
	for i < len(text) && text[i] != '\n' && units < pos.Character {
		r, size := utf8.DecodeRuneInString(text[i:])
		width := uint32(1)
		if r > 0xFFFF {
			width = 2
		}
		if units+width > pos.Character {
			break
		}
		units += width
		i += size
	}
	return i
}

func indexNewline(text string, from int) int {
	for j := from; j < len(text); j++ {
		if text[j] == '\n' {
			return j
		}
	}
	return -1
}
