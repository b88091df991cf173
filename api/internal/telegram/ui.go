package telegram

import (
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"inkboard/api/internal/recognize"
)

const cbClear = "board_clear"

// maxText keeps replies under Telegram's 4096 character limit.
const maxText = 3900

func makeClearKeyboard() tgbotapi.InlineKeyboardMarkup {
	btn := tgbotapi.NewInlineKeyboardButtonData("Clear", cbClear)
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(btn))
}

func formatResult(p recognize.Prediction) string {
	var b strings.Builder
	b.WriteString("Expression: ")
	b.WriteString(esc(p.FormattedEquation))
	if s := strings.TrimSpace(p.Solution); s != "" {
		b.WriteString("\nResult: *")
		b.WriteString(esc(s))
		b.WriteString("*")
	}
	if e := strings.TrimSpace(p.EnteredEquation); e != "" && e != p.FormattedEquation {
		b.WriteString("\nRead as: ")
		b.WriteString(esc(e))
	}
	out := b.String()
	if len(out) > maxText {
		cut := maxText
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + "…"
	}
	return out
}

// esc escapes legacy Markdown control characters.
func esc(s string) string {
	s = strings.ReplaceAll(s, "`", "'")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "[", "\\[")
	return s
}
