package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTelegramHTMLRenderBoldAndEscape(t *testing.T) {
	out := TelegramHTML{}.Render("**bold** & <tag> plain")
	assert.Contains(t, out, "<b>bold</b>")
	assert.Contains(t, out, "&amp;")
	assert.Contains(t, out, "&lt;tag&gt;")
}

func TestTelegramHTMLRenderCodeBlockSurvivesEscaping(t *testing.T) {
	out := TelegramHTML{}.Render("```go\nfmt.Println(\"<x>\")\n```")
	assert.Contains(t, out, "<pre><code class=\"language-go\">")
	assert.Contains(t, out, "&lt;x&gt;")
}

func TestTelegramHTMLRenderBulletList(t *testing.T) {
	out := TelegramHTML{}.Render("- one\n- two")
	assert.Contains(t, out, "• one")
	assert.Contains(t, out, "• two")
}

func TestTelegramHTMLEscapeNeverProducesRawAngleBrackets(t *testing.T) {
	out := TelegramHTML{}.Escape("<script>alert(1)</script>")
	assert.NotContains(t, out, "<script>")
}

func TestDiscordMarkdownEscapeNeutralizesMarkupChars(t *testing.T) {
	out := DiscordMarkdown{}.Escape("*bold* _italic_ `code`")
	assert.Equal(t, `\*bold\* \_italic\_ \`+"`"+`code\`+"`"+``, out)
}

func TestDiscordMarkdownRenderStripsHTML(t *testing.T) {
	out := DiscordMarkdown{}.Render("<b>bold</b> plain")
	assert.Equal(t, "bold plain", out)
}

func TestTruncateForSendClosesOpenEmphasis(t *testing.T) {
	rendered, tagsClosed := TruncateForSend("**this is a very long bold run that gets cut", 10, DiscordMarkdown{})
	assert.NotEmpty(t, tagsClosed)
	assert.NotContains(t, rendered, "<")
}
