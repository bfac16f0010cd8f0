// Package transcript extracts the last user/assistant exchange from a
// session transcript and truncates it markup-safely (spec §4.7), grounded
// on format_utils.extract_conversation_from_transcript and
// truncate_markdown_safe.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// rawMessage mirrors the {message: {role, content, ...}} wrapper each line
// of a Claude-style transcript JSONL file carries.
type rawMessage struct {
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Extraction is the result of walking a transcript for its last exchange.
type Extraction struct {
	UserPrompt        string
	AssistantResponse string
	Truncated         bool
	MessageCount      int
}

// ExtractFromFile reads path as line-delimited transcript records and
// extracts the last user/assistant exchange.
func ExtractFromFile(path string) (Extraction, error) {
	f, err := os.Open(path)
	if err != nil {
		return Extraction{}, fmt.Errorf("transcript: open %s: %w", path, err)
	}
	defer f.Close()

	var messages []rawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var wrapper rawMessage
		if err := json.Unmarshal([]byte(line), &wrapper); err != nil {
			return Extraction{}, fmt.Errorf("transcript: line %d: %w", lineNo, err)
		}
		messages = append(messages, wrapper)
	}
	if err := scanner.Err(); err != nil {
		return Extraction{}, fmt.Errorf("transcript: read %s: %w", path, err)
	}
	if len(messages) == 0 {
		return Extraction{}, fmt.Errorf("transcript: empty transcript: %s", path)
	}

	return Extract(messages), nil
}

// Extract walks messages in reverse to find the last user TEXT message
// (skipping array content whose blocks are tool-results only) and the last
// assistant message's concatenated text blocks, then truncates each
// markup-safely.
func Extract(messages []rawMessage) Extraction {
	lastUserRaw := lastUserText(messages)
	lastAssistantRaw := lastAssistantText(messages)

	userResult := TruncateMarkdownSafe(lastUserRaw, 200)
	assistantResult := TruncateMarkdownSafe(lastAssistantRaw, 300)

	return Extraction{
		UserPrompt:        userResult.Text,
		AssistantResponse: assistantResult.Text,
		Truncated:         userResult.OriginalLength > 200 || assistantResult.OriginalLength > 300,
		MessageCount:      len(messages),
	}
}

func lastUserText(messages []rawMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i].Message
		if msg.Role != "user" {
			continue
		}
		if text, ok := textFromContent(msg.Content); ok {
			return text
		}
	}
	return ""
}

func lastAssistantText(messages []rawMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i].Message
		if msg.Role != "assistant" {
			continue
		}
		var blocks []contentBlock
		if err := json.Unmarshal(msg.Content, &blocks); err != nil {
			// Defensive fallback: content wasn't an array of blocks.
			var s string
			if err := json.Unmarshal(msg.Content, &s); err == nil {
				return s
			}
			return ""
		}
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// textFromContent extracts speakable text from a user message's content,
// which may be a bare string or an array of content blocks. Array content
// whose blocks are exclusively tool_result (no "text" blocks) is not user
// speech and is skipped by returning ok=false so the caller keeps walking
// backwards.
func textFromContent(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) != "" {
			return s, true
		}
		return "", false
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" {
				parts = append(parts, b.Text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " "), true
		}
		return "", false
	}

	return "", false
}
