package transcript

import "strings"

// TruncationResult mirrors format_utils.truncate_markdown_safe's return
// dict: the truncated (possibly tag-closed) text, the lengths before and
// after truncation, and which markup tags had to be closed.
type TruncationResult struct {
	Text            string
	OriginalLength  int
	TruncatedLength int
	TagsClosed      []string
}

// TruncateMarkdownSafe truncates text to maxLength runes, closing any
// emphasis/code marker left open by the cut before appending an ellipsis.
// Exact port of truncate_markdown_safe: checked markers are "**", "`", "_",
// in that order, each closed iff its count in the truncated text is odd.
// A string of length exactly maxLength is returned unchanged: no ellipsis,
// no tag closing (spec §8 boundary case).
func TruncateMarkdownSafe(text string, maxLength int) TruncationResult {
	runes := []rune(text)
	originalLength := len(runes)

	if originalLength <= maxLength {
		return TruncationResult{
			Text:            text,
			OriginalLength:  originalLength,
			TruncatedLength: originalLength,
			TagsClosed:      []string{},
		}
	}

	truncated := string(runes[:maxLength])
	var tagsClosed []string

	for _, marker := range []string{"**", "`", "_"} {
		if strings.Count(truncated, marker)%2 == 1 {
			truncated += marker
			tagsClosed = append(tagsClosed, marker)
		}
	}

	return TruncationResult{
		Text:            truncated + "...",
		OriginalLength:  originalLength,
		TruncatedLength: len([]rune(truncated)),
		TagsClosed:      tagsClosed,
	}
}
