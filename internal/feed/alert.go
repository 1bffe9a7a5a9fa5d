package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	alertMessageType  = "alert"
	subscribeType     = "subscribe_alerts"
	unknownOwner      = "unknown"
	unknownSymbol     = "UNKNOWN"
	unknownBlockchain = "unknown"
)

// AlertRecord is one normalised whale transfer taken from the feed.
type AlertRecord struct {
	Symbol     string
	Blockchain string
	Amount     json.Number
	ValueUSD   json.Number
	FromOwner  string
	ToOwner    string
	// Timestamp is forwarded exactly as the feed sent it.
	Timestamp any
}

// AmountDecimal parses the native-unit quantity.
func (a AlertRecord) AmountDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(a.Amount.String())
}

// ValueUSDDecimal parses the USD value.
func (a AlertRecord) ValueUSDDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(a.ValueUSD.String())
}

// TimestampString renders the pass-through timestamp for logs and storage.
func (a AlertRecord) TimestampString() string {
	if a.Timestamp == nil {
		return ""
	}
	return fmt.Sprint(a.Timestamp)
}

// Subscription is the immutable filter sent to the feed on every connect.
type Subscription struct {
	Blockchains []string
	Symbols     []string
	MinValueUSD int64
}

type subscribeRequest struct {
	Type        string   `json:"type"`
	Blockchains []string `json:"blockchains"`
	Symbols     []string `json:"symbols"`
	MinValueUSD int64    `json:"min_value_usd"`
}

func (s Subscription) request() subscribeRequest {
	symbols := make([]string, 0, len(s.Symbols))
	for _, sym := range s.Symbols {
		if sym = strings.TrimSpace(sym); sym != "" {
			symbols = append(symbols, strings.ToLower(sym))
		}
	}
	return subscribeRequest{
		Type:        subscribeType,
		Blockchains: s.Blockchains,
		Symbols:     symbols,
		MinValueUSD: s.MinValueUSD,
	}
}

// DisplaySymbols lists the subscribed symbols upper-cased.
func (s Subscription) DisplaySymbols() string {
	return strings.ToUpper(strings.Join(s.request().Symbols, ", "))
}

type symbolSet map[string]struct{}

func newSymbolSet(symbols []string) symbolSet {
	set := make(symbolSet, len(symbols))
	for _, sym := range symbols {
		if sym = strings.ToLower(strings.TrimSpace(sym)); sym != "" {
			set[sym] = struct{}{}
		}
	}
	return set
}

func (s symbolSet) accepts(msgType, symbol string) bool {
	if msgType != alertMessageType {
		return false
	}
	_, ok := s[strings.ToLower(symbol)]
	return ok
}

// parseFrame decodes a text frame keeping numbers as json.Number.
func parseFrame(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var msg map[string]any
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return msg, nil
}

func messageKind(msg map[string]any) (msgType, symbol string) {
	msgType, _ = msg["type"].(string)
	symbol, _ = msg["symbol"].(string)
	return msgType, symbol
}

// decodeAlert returns the record for a subscribed alert frame; ok is false for
// any other well-formed frame.
func decodeAlert(raw []byte, symbols symbolSet) (AlertRecord, bool, error) {
	msg, err := parseFrame(raw)
	if err != nil {
		return AlertRecord{}, false, err
	}
	if !symbols.accepts(messageKind(msg)) {
		return AlertRecord{}, false, nil
	}
	return newAlertRecord(msg), true, nil
}

func newAlertRecord(msg map[string]any) AlertRecord {
	symbol, _ := msg["symbol"].(string)
	if symbol == "" {
		symbol = unknownSymbol
	}
	blockchain, _ := msg["blockchain"].(string)
	if blockchain == "" {
		blockchain = unknownBlockchain
	}

	amount, value := firstAmount(msg["amounts"])

	return AlertRecord{
		Symbol:     strings.ToUpper(symbol),
		Blockchain: strings.ToUpper(blockchain),
		Amount:     amount,
		ValueUSD:   value,
		FromOwner:  resolveOwner(msg["from"]),
		ToOwner:    resolveOwner(msg["to"]),
		Timestamp:  msg["timestamp"],
	}
}

// resolveOwner accepts an owner object, a bare string, or anything else.
func resolveOwner(v any) string {
	switch owner := v.(type) {
	case map[string]any:
		if name, ok := owner["owner"].(string); ok && name != "" {
			return name
		}
		if kind, ok := owner["owner_type"].(string); ok && kind != "" {
			return kind
		}
		return unknownOwner
	case string:
		return owner
	default:
		return unknownOwner
	}
}

func firstAmount(v any) (amount, value json.Number) {
	amount, value = "0", "0"

	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return amount, value
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return amount, value
	}
	if raw, present := first["amount"]; present {
		amount = asNumber(raw)
	}
	if raw, present := first["value_usd"]; present {
		value = asNumber(raw)
	}
	return amount, value
}

// asNumber keeps unparseable values so the workflow can fall back to a
// generic summary instead of silently reporting zero.
func asNumber(v any) json.Number {
	switch n := v.(type) {
	case json.Number:
		return n
	case string:
		return json.Number(strings.TrimSpace(n))
	case nil:
		return ""
	default:
		return json.Number(fmt.Sprint(n))
	}
}

type subscriptionAck struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func decodeAck(raw []byte) (subscriptionAck, error) {
	var ack subscriptionAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return subscriptionAck{}, err
	}
	return ack, nil
}

func (a subscriptionAck) rejected() bool {
	return a.Type == "error"
}

func (a subscriptionAck) reason() string {
	if a.Message != "" {
		return a.Message
	}
	return a.Error
}
