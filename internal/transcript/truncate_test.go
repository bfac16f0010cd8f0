package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateMarkdownSafeClosesOddBold(t *testing.T) {
	result := TruncateMarkdownSafe("Hello **world", 10)
	assert.Equal(t, "Hello **wo**...", result.Text)
	assert.Equal(t, []string{"**"}, result.TagsClosed)
}

func TestTruncateMarkdownSafeExactLengthNoEllipsis(t *testing.T) {
	text := "exactly10!"
	assert.Len(t, text, 10)
	result := TruncateMarkdownSafe(text, 10)
	assert.Equal(t, text, result.Text)
	assert.Empty(t, result.TagsClosed)
}

func TestTruncateMarkdownSafeShortTextUnchanged(t *testing.T) {
	result := TruncateMarkdownSafe("short", 200)
	assert.Equal(t, "short", result.Text)
	assert.Equal(t, 5, result.OriginalLength)
	assert.Equal(t, 5, result.TruncatedLength)
}

func TestTruncateMarkdownSafeClosesMultipleMarkers(t *testing.T) {
	result := TruncateMarkdownSafe("a `code and _em and more text here", 20)
	// truncated[:20] = "a `code and _em and " -> one backtick, one underscore, both odd.
	assert.Contains(t, result.TagsClosed, "`")
	assert.Contains(t, result.TagsClosed, "_")
}
