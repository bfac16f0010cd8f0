package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(role string, content any) rawMessage {
	raw, _ := json.Marshal(content)
	var m rawMessage
	m.Message.Role = role
	m.Message.Content = raw
	return m
}

func TestExtractSkipsToolResultOnlyUserMessage(t *testing.T) {
	messages := []rawMessage{
		msg("user", "What's broken?"),
		msg("assistant", []contentBlock{{Type: "text", Text: "Let me check."}}),
		msg("user", []map[string]any{
			{"type": "tool_result", "text": "ignored"},
		}),
	}

	got := Extract(messages)
	assert.Equal(t, "What's broken?", got.UserPrompt)
	assert.Equal(t, "Let me check.", got.AssistantResponse)
	assert.Equal(t, 3, got.MessageCount)
	assert.False(t, got.Truncated)
}

func TestExtractJoinsMultipleTextBlocks(t *testing.T) {
	messages := []rawMessage{
		msg("user", []contentBlock{{Type: "text", Text: "part one"}, {Type: "text", Text: "part two"}}),
		msg("assistant", []contentBlock{{Type: "text", Text: "answer"}}),
	}
	got := Extract(messages)
	assert.Equal(t, "part one part two", got.UserPrompt)
}

func TestExtractFromFileRejectsEmptyTranscript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	_, err := ExtractFromFile(path)
	require.Error(t, err)
}
