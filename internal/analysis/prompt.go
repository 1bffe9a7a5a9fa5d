package analysis

import (
	"fmt"
	"strings"
)

// BuildPrompt renders the single user message sent to the model.
func BuildPrompt(summary string, snippets []string, symbol string) string {
	movement := summary
	if strings.TrimSpace(movement) == "" {
		movement = "None reported now."
	}

	mentions := "None relevant found."
	if len(snippets) > 0 {
		quoted := make([]string, 0, len(snippets))
		for _, s := range snippets {
			quoted = append(quoted, fmt.Sprintf("- %q", s))
		}
		mentions = strings.Join(quoted, "\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Assess the likely %s market impact using only the data below.\n\n", symbol)
	fmt.Fprintf(&b, "Whale transaction:\n%s\n\n", movement)
	fmt.Fprintf(&b, "Recent social mentions (%s):\n%s\n\n", symbol, mentions)
	fmt.Fprintf(&b, "In under 50 words, summarise the short-term (1-4h) sentiment for %s. ", symbol)
	b.WriteString("Lead with a concise label such as Bullish pressure, Bearish risk or Mixed.")
	return b.String()
}
