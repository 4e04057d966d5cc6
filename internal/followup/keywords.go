package followup

import "strings"

// Keyword lists for reading a client's last reply. Matching is substring
// based on the lowercased text, same as the bot's call-detection check.
var (
	yesKeywords = []string{
		"да", "согласен", "готов", "давайте", "хорошо", "ок", "окей",
	}
	noKeywords = []string{
		"нет", "не надо", "не интересно", "не сейчас", "откажусь", "отказываюсь",
	}
	uncertainKeywords = []string{
		"посмотрю", "подумаю", "может быть", "возможно",
	}
)

// Follow-up reasons fed into the outreach prompt.
const (
	ReasonIgnored   = "ignored"
	ReasonUncertain = "uncertain"
	ReasonYes       = "yes"
	ReasonNo        = "no"
)

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// AnalyzeResponse buckets the client's last message into a follow-up
// reason. An empty text means the client never replied at all.
func AnalyzeResponse(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	switch {
	case text == "":
		return ReasonIgnored
	case containsAny(text, uncertainKeywords):
		return ReasonUncertain
	case containsAny(text, noKeywords):
		return ReasonNo
	case containsAny(text, yesKeywords):
		return ReasonYes
	default:
		return ReasonIgnored
	}
}

// Definitive reports whether the text is an unambiguous yes or no answer.
// Contacts whose last word was definitive are not put into outreach.
func Definitive(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return false
	}
	if containsAny(text, uncertainKeywords) {
		return false
	}
	return containsAny(text, yesKeywords) || containsAny(text, noKeywords)
}
