package patch

import "strings"

// LineChanges represents the number of lines added and removed in a modification.
type LineChanges struct {
	LinesAdded   int
	LinesRemoved int
}

// CalculateLineChanges computes the lines added and removed when oldContent
// is replaced by newContent as a block.
func CalculateLineChanges(oldContent, newContent string) LineChanges {
	return LineChanges{
		LinesAdded:   len(splitLines(newContent)),
		LinesRemoved: len(splitLines(oldContent)),
	}
}

// splitLines splits content into lines, handling different line ending styles.
// Empty content returns an empty slice (not a slice with one empty string).
func splitLines(content string) []string {
	if content == "" {
		return []string{}
	}

	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")

	// A trailing newline does not start another line.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return lines
}
