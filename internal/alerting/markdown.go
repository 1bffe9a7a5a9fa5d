package alerting

import "strings"

var markdownEscaper = strings.NewReplacer(
	`_`, `\_`,
	`*`, `\*`,
	"`", "\\`",
	`[`, `\[`,
	`]`, `\]`,
)

// EscapeMarkdown escapes the characters Telegram's legacy Markdown treats as
// entity delimiters.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
