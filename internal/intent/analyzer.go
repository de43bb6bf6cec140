package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/hayden/internal/llm"
)

// AccountChatID is the chat id used for account extraction requests.
// These requests carry no history.
const AccountChatID = "account_analysis"

// ErrorReply is the user-facing text for a failed analysis.
const ErrorReply = "抱歉，我在处理您的请求时遇到了一些问题。请稍后再试。"

// Analyzer runs the intent and account prompts against a model.
type Analyzer struct {
	client llm.Client
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// NewAnalyzer creates an Analyzer. loc is the user's time zone, used
// in the prompt and for zone-less reminder times.
func NewAnalyzer(client llm.Client, loc *time.Location, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Analyzer{
		client: client,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the time source. Tests use it to pin "now".
func (a *Analyzer) SetClock(now func() time.Time) {
	a.now = now
}

// Location returns the analyzer's time zone.
func (a *Analyzer) Location() *time.Location { return a.loc }

// AnalyzeIntent asks the model for the intent behind text. It never
// returns an error: transport failures yield a KindError intent, a
// reminder with an invalid or past time is a KindReminder without
// details, and other unparseable replies go through Fallback.
func (a *Analyzer) AnalyzeIntent(ctx context.Context, chatID, text string, history []llm.Message) Intent {
	now := a.now()
	raw, err := a.client.Chat(ctx, llm.Request{
		ChatID:  chatID,
		System:  IntentPrompt(now, a.loc),
		History: history,
		User:    text,
	})
	if err != nil {
		a.logger.Warn("intent analysis failed", "chat_id", chatID, "error", err)
		return Intent{Kind: KindError, Message: err.Error(), Raw: ErrorReply}
	}

	in, err := ParseIntent(raw, now, a.loc)
	if err != nil {
		a.logger.Debug("model reply rejected",
			"chat_id", chatID,
			"kind", in.Kind,
			"error", err,
			"validation", errors.Is(err, ErrValidation),
		)
		return rejected(in, raw)
	}

	a.logger.Debug("intent analyzed", "chat_id", chatID, "kind", in.Kind)
	return in
}

// AnalyzeAccount extracts one ledger entry from entry text.
func (a *Analyzer) AnalyzeAccount(ctx context.Context, entry string) (AccountInfo, error) {
	raw, err := a.client.Chat(ctx, llm.Request{
		ChatID: AccountChatID,
		System: AccountPrompt,
		User:   Segment(entry),
	})
	if err != nil {
		return AccountInfo{}, fmt.Errorf("analyze account: %w", err)
	}

	info, err := ParseAccountInfo(raw)
	if err != nil {
		a.logger.Debug("account reply did not parse", "entry", entry, "error", err)
		return AccountInfo{}, fmt.Errorf("analyze account %q: %w", entry, err)
	}
	return info, nil
}
