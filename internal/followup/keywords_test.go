package followup

import "testing"

func TestAnalyzeResponse(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"", ReasonIgnored},
		{"   ", ReasonIgnored},
		{"Да, давайте", ReasonYes},
		{"ХОРОШО", ReasonYes},
		{"Нет, не надо", ReasonNo},
		{"не интересно", ReasonNo},
		{"Я подумаю", ReasonUncertain},
		{"может быть позже", ReasonUncertain},
		{"Сколько это стоит?", ReasonIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := AnalyzeResponse(tt.text); got != tt.want {
				t.Errorf("AnalyzeResponse(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestDefinitive(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{"да", true},
		{"Нет, откажусь", true},
		{"подумаю", false},
		{"да, но может быть", false},
		{"расскажите подробнее", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := Definitive(tt.text); got != tt.want {
				t.Errorf("Definitive(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
