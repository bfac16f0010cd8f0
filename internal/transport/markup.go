package transport

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/arborist-dev/quiescebus/internal/transcript"
)

// TelegramHTML is the Dialect for the Telegram transport: it converts
// markdown-ish text to the HTML subset Telegram's ParseModeHTML accepts.
// Adapted from the teacher's format.ToTelegramHTML/EscapeHTML.
type TelegramHTML struct{}

func (TelegramHTML) Escape(s string) string { return escapeHTML(s) }

func (TelegramHTML) Render(text string) string {
	if text == "" {
		return ""
	}

	text = processTables(text)

	codeBlocks := make(map[string]string)
	codeBlockRegex := regexp.MustCompile("(?s)```([a-zA-Z]*)\n?(.*?)```")
	text = codeBlockRegex.ReplaceAllStringFunc(text, func(m string) string {
		match := codeBlockRegex.FindStringSubmatch(m)
		lang, content := match[1], match[2]
		id := fmt.Sprintf("{CB-%d}", len(codeBlocks))
		escaped := escapeHTML(content)
		if lang != "" {
			codeBlocks[id] = fmt.Sprintf("<pre><code class=\"language-%s\">%s</code></pre>", lang, escaped)
		} else {
			codeBlocks[id] = fmt.Sprintf("<pre><code>%s</code></pre>", escaped)
		}
		return id
	})

	inlineCode := make(map[string]string)
	inlineRegex := regexp.MustCompile("`([^`]+)`")
	text = inlineRegex.ReplaceAllStringFunc(text, func(m string) string {
		match := inlineRegex.FindStringSubmatch(m)
		id := fmt.Sprintf("{IL-%d}", len(inlineCode))
		inlineCode[id] = fmt.Sprintf("<code>%s</code>", escapeHTML(match[1]))
		return id
	})

	text = escapeHTML(text)

	headerRegex := regexp.MustCompile(`(?m)^(.*?)#{1,6}\s+(.*)$`)
	text = headerRegex.ReplaceAllString(text, "$1<b>$2</b>")

	boldRegex := regexp.MustCompile(`\*\*([^*]+)\*\*`)
	text = boldRegex.ReplaceAllString(text, "<b>$1</b>")

	italicRegex1 := regexp.MustCompile(`\*([^*]+)\*`)
	text = italicRegex1.ReplaceAllString(text, "<i>$1</i>")
	italicRegex2 := regexp.MustCompile(`\b_([^_]+)_\b`)
	text = italicRegex2.ReplaceAllString(text, "<i>$1</i>")

	strikeRegex := regexp.MustCompile(`~~([^~]+)~~`)
	text = strikeRegex.ReplaceAllString(text, "<s>$1</s>")

	underlineRegex := regexp.MustCompile(`__([^_]+)__`)
	text = underlineRegex.ReplaceAllString(text, "<u>$1</u>")

	spoilerRegex := regexp.MustCompile(`\|\|([^|]+)\|\|`)
	text = spoilerRegex.ReplaceAllString(text, "<tg-spoiler>$1</tg-spoiler>")

	linkRegex := regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	text = linkRegex.ReplaceAllString(text, "<a href=\"$2\">$1</a>")

	text = processBlockquotes(text)

	bulletRegex := regexp.MustCompile(`(?m)^[\s]*[-*+][\s]+(.*)$`)
	text = bulletRegex.ReplaceAllString(text, "• $1")

	for id, block := range codeBlocks {
		text = strings.ReplaceAll(text, id, block)
	}
	for id, code := range inlineCode {
		text = strings.ReplaceAll(text, id, code)
	}

	return text
}

// DiscordMarkdown is the Dialect for the Discord transport: Discord renders
// Markdown natively, so Render strips any stray HTML rather than converting
// anything, and Escape neutralizes Discord's own markup characters.
type DiscordMarkdown struct{}

var discordEscapable = regexp.MustCompile(`([*_~` + "`" + `|])`)

func (DiscordMarkdown) Escape(s string) string {
	return discordEscapable.ReplaceAllString(s, `\$1`)
}

func (DiscordMarkdown) Render(text string) string {
	stripHTML := regexp.MustCompile("<[^>]*>")
	return stripHTML.ReplaceAllString(text, "")
}

func escapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}

func processBlockquotes(text string) string {
	lines := strings.Split(text, "\n")
	var result []string
	inQuote := false
	var quoteBuffer []string

	for _, line := range lines {
		if strings.HasPrefix(line, "&gt; ") || strings.HasPrefix(line, "> ") {
			inQuote = true
			content := strings.TrimPrefix(strings.TrimPrefix(line, "&gt; "), "> ")
			quoteBuffer = append(quoteBuffer, content)
		} else {
			if inQuote {
				result = append(result, "<blockquote>"+strings.Join(quoteBuffer, "\n")+"</blockquote>")
				quoteBuffer = nil
				inQuote = false
			}
			result = append(result, line)
		}
	}
	if inQuote {
		result = append(result, "<blockquote>"+strings.Join(quoteBuffer, "\n")+"</blockquote>")
	}
	return strings.Join(result, "\n")
}

func processTables(text string) string {
	lines := strings.Split(text, "\n")
	var result []string
	var tableBuffer []string
	inTable := false
	tableSep := regexp.MustCompile(`^[|\s\-:]{3,}$`)

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|"):
			inTable = true
			tableBuffer = append(tableBuffer, line)
		case inTable && tableSep.MatchString(trimmed):
			tableBuffer = append(tableBuffer, line)
		default:
			if inTable {
				result = append(result, "```\n"+strings.Join(tableBuffer, "\n")+"\n```")
				tableBuffer = nil
				inTable = false
			}
			result = append(result, line)
		}
	}
	if inTable {
		result = append(result, "```\n"+strings.Join(tableBuffer, "\n")+"\n```")
	}
	return strings.Join(result, "\n")
}

// TruncateForSend truncates raw (pre-dialect-render) text to maxLength
// markup-safely, via transcript.TruncateMarkdownSafe, before handing it to
// dialect.Render — closing an emphasis/code run left open by the cut and
// appending an ellipsis (spec §4.6, §8 invariant 7). The returned
// TagsClosed list is what tests observe to confirm the contract.
func TruncateForSend(raw string, maxLength int, dialect Dialect) (rendered string, tagsClosed []string) {
	result := transcript.TruncateMarkdownSafe(raw, maxLength)
	return dialect.Render(result.Text), result.TagsClosed
}
