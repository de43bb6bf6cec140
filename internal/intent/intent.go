// Package intent turns raw model output into structured decisions.
//
// The model is prompted to open every reply with a JSON object naming
// one of four intents. Models do not always comply, so the parser is
// layered: [ParseIntent] is strict and reports [ErrParse] or
// [ErrValidation]; [Decide] wraps it and falls back to [Fallback], which
// never fails. [ParseAccountInfo] handles the separate bookkeeping
// prompt whose reply is a single account object.
package intent

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the intent variant.
type Kind string

// Intent kinds.
const (
	KindReminder    Kind = "reminder"
	KindBookkeeping Kind = "bookkeeping"
	KindAssetQuery  Kind = "asset_query"
	KindNormal      Kind = "normal"
	KindError       Kind = "error"
)

// Intent is the structured decision derived from one chat turn.
type Intent struct {
	Kind Kind

	// Reminder is set for KindReminder.
	Reminder *Reminder

	// Reply is the text to send back for KindNormal, and the
	// confirmation rendered at parse time for KindReminder.
	Reply string

	// Message describes the failure for KindError.
	Message string

	// Raw is the unmodified model text. It is what gets written to chat
	// history; the variant itself is never persisted.
	Raw string
}

// Reminder is the payload of a reminder intent.
type Reminder struct {
	Content string
	Due     time.Time
}

// AccountInfo is one ledger entry recovered from free text.
type AccountInfo struct {
	AccountName     string
	Balance         decimal.Decimal
	IsPositiveAsset bool
}

// SignedBalance returns |balance| for positive assets and -|balance|
// for liabilities, whatever sign the model reported.
func (a AccountInfo) SignedBalance() decimal.Decimal {
	if a.IsPositiveAsset {
		return a.Balance.Abs()
	}
	return a.Balance.Abs().Neg()
}

var (
	// ErrParse means the model output could not be decoded into an intent.
	ErrParse = errors.New("intent parse error")

	// ErrValidation means an intent decoded but a required field was
	// missing or invalid.
	ErrValidation = errors.New("intent validation error")
)
