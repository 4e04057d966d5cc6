package agent

import (
	"strings"

	"github.com/altair-labs/salesagent/internal/ai"
	"github.com/altair-labs/salesagent/internal/store"
)

// MessageText renders one stored turn's text, tagging voice transcriptions
// the way prompts expect.
func MessageText(m *store.Message) string {
	if m.IsVoice && m.VoiceTranscription != "" {
		return "[ГОЛОСОВОЕ] " + m.VoiceTranscription
	}
	return m.Text
}

// FormatConversation renders a chronological message window as the
// БОТ/КЛИЕНТ transcript used inside prompt templates.
func FormatConversation(messages []*store.Message) string {
	if len(messages) == 0 {
		return "Нет сообщений в переписке"
	}
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		speaker := "КЛИЕНТ"
		if m.FromBot {
			speaker = "БОТ"
		}
		lines = append(lines, speaker+": "+MessageText(m))
	}
	return strings.Join(lines, "\n")
}

// HistoryTurns converts a chronological message window into provider turns.
func HistoryTurns(messages []*store.Message) []ai.Turn {
	out := make([]ai.Turn, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.FromBot {
			role = "model"
		}
		out = append(out, ai.Turn{Role: role, Text: MessageText(m)})
	}
	return out
}
