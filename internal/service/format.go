package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"whale-alerts/internal/alerting"
	"whale-alerts/internal/feed"
)

// BuildSummary renders the one-line whale movement description. On
// unparseable numbers it returns the generic fallback together with the
// parse error.
func BuildSummary(alert feed.AlertRecord) (string, error) {
	amount, err := alert.AmountDecimal()
	if err != nil {
		return fallbackSummary(alert.Symbol), fmt.Errorf("parse amount %q: %w", alert.Amount, err)
	}
	value, err := alert.ValueUSDDecimal()
	if err != nil {
		return fallbackSummary(alert.Symbol), fmt.Errorf("parse value_usd %q: %w", alert.ValueUSD, err)
	}

	return fmt.Sprintf("%s %s ($%s USD) transferred from '%s' to '%s'.",
		groupDecimal(amount, 2),
		alert.Symbol,
		groupDecimal(value, 0),
		displayOwner(alert.FromOwner),
		displayOwner(alert.ToOwner),
	), nil
}

func fallbackSummary(symbol string) string {
	return fmt.Sprintf("Whale movement detected for %s (details formatting error).", symbol)
}

// groupDecimal rounds d to places and inserts thousands separators.
func groupDecimal(d decimal.Decimal, places int32) string {
	rounded := d.Round(places)
	digits := rounded.Abs().StringFixed(places)

	intPart, frac, _ := strings.Cut(digits, ".")

	var b strings.Builder
	if rounded.Sign() < 0 {
		b.WriteByte('-')
	}
	lead := len(intPart) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(intPart[:lead])
	for i := lead; i < len(intPart); i += 3 {
		b.WriteByte(',')
		b.WriteString(intPart[i : i+3])
	}
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

// displayOwner shortens raw hex addresses; labels pass through.
func displayOwner(owner string) string {
	if !common.IsHexAddress(owner) {
		return owner
	}
	hex := common.HexToAddress(owner).Hex()
	return hex[:6] + "…" + hex[len(hex)-4:]
}

// MessageParts carries everything ComposeMessage renders.
type MessageParts struct {
	Symbol        string
	Summary       string
	SocialEnabled bool
	Snippets      []string
	DisplayLength int
	ModelName     string
	Analysis      string
	Inference     time.Duration
	Total         time.Duration
}

// ComposeMessage renders the Telegram Markdown text for one alert.
func ComposeMessage(p MessageParts) string {
	query := socialQuery(p.Symbol)

	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *Real-Time %s Alert* 🚨\n\n", p.Symbol)
	fmt.Fprintf(&b, "*Whale Movement:*\n`%s`\n\n", strings.ReplaceAll(p.Summary, "`", "'"))

	if p.SocialEnabled {
		if len(p.Snippets) > 0 {
			fmt.Fprintf(&b, "*Recent Social Buzz (%s):*\n", alerting.EscapeMarkdown(query))
			for _, s := range p.Snippets {
				snippet := alerting.TruncateRunes(alerting.EscapeMarkdown(oneLine(s)), p.DisplayLength)
				fmt.Fprintf(&b, "- _%s..._\n", snippet)
			}
			b.WriteString("\n")
		} else {
			fmt.Fprintf(&b, "_(No recent social context found for %s)_\n\n", alerting.EscapeMarkdown(query))
		}
	}

	model := p.ModelName
	if model == "" {
		model = "model"
	}
	fmt.Fprintf(&b, "*Model Analysis (%s):*\n%s\n\n", alerting.EscapeMarkdown(model), alerting.EscapeMarkdown(p.Analysis))
	fmt.Fprintf(&b, "⏱️ _Inference: %.2fs | Total Processing: %.2fs_", p.Inference.Seconds(), p.Total.Seconds())
	return b.String()
}

func socialQuery(symbol string) string {
	return "#" + symbol
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
