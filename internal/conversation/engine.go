// Package conversation is Hayden's per-chat state machine. Each chat
// is either in normal mode, where messages go through intent analysis,
// or in bookkeeping mode, where each line is captured as a ledger
// entry until the user confirms.
package conversation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nugget/hayden/internal/intent"
	"github.com/nugget/hayden/internal/llm"
	"github.com/nugget/hayden/internal/persistence"
)

// Store is the subset of the persistence service the engine uses.
type Store interface {
	SaveMessage(ctx context.Context, chatID, role, content string) error
	RecentMessages(ctx context.Context, chatID string) ([]persistence.HistoryEntry, error)
	SaveReminder(ctx context.Context, chatID, content string, remindTime time.Time, userName string) error
	SaveAccount(ctx context.Context, chatID, userName, accountName string, balance decimal.Decimal) error
	NetWorth(ctx context.Context, chatID, userName string) (decimal.Decimal, error)
	LatestBalances(ctx context.Context, chatID, userName string) ([]persistence.AccountBalance, error)
}

// Analyzer turns text into intents and ledger entries.
type Analyzer interface {
	AnalyzeIntent(ctx context.Context, chatID, text string, history []llm.Message) intent.Intent
	AnalyzeAccount(ctx context.Context, entry string) (intent.AccountInfo, error)
}

// Turn is one inbound message addressed to the engine.
type Turn struct {
	ChatID   string
	UserName string
	Text     string
}

// Engine runs conversation turns.
type Engine struct {
	store    Store
	analyzer Analyzer
	sessions *SessionStore
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// NewEngine creates an Engine. loc is used to render reminder times.
func NewEngine(store Store, analyzer Analyzer, loc *time.Location, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		store:    store,
		analyzer: analyzer,
		sessions: NewSessionStore(),
		loc:      loc,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Mode returns the current mode of a chat.
func (e *Engine) Mode(chatID string) Mode {
	return e.sessions.Mode(chatID)
}

// Sessions returns the number of chats seen since startup.
func (e *Engine) Sessions() int {
	return e.sessions.Len()
}

// Handle runs one turn and returns the reply text. Turns for the same
// chat run one at a time; different chats proceed independently.
// Downstream failures become apology replies, so the only error is a
// cancelled context.
func (e *Engine) Handle(ctx context.Context, t Turn) (string, error) {
	sess, unlock := e.sessions.lock(t.ChatID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	log := e.logger.With("chat_id", t.ChatID, "user", t.UserName)

	history, err := e.store.RecentMessages(ctx, t.ChatID)
	if err != nil {
		log.Warn("failed to load chat history, continuing without it", "error", err)
		history = nil
	}

	if err := e.store.SaveMessage(ctx, t.ChatID, persistence.RoleUser, t.Text); err != nil {
		log.Warn("failed to save user message", "error", err)
	}

	mode := sess.Mode()
	log.Debug("handling turn", "mode", mode.String(), "history", len(history))

	if mode == ModeBookkeeping {
		return e.handleBookkeeping(ctx, log, sess, t), nil
	}
	return e.handleNormal(ctx, log, sess, t, toMessages(history)), nil
}

func (e *Engine) handleNormal(ctx context.Context, log *slog.Logger, sess *session, t Turn, history []llm.Message) string {
	in := e.analyzer.AnalyzeIntent(ctx, t.ChatID, t.Text, history)
	log.Info("intent routed", "kind", in.Kind)

	var reply string
	switch in.Kind {
	case intent.KindReminder:
		reply = e.saveReminder(ctx, log, t, in.Reminder)

	case intent.KindBookkeeping:
		sess.setMode(ModeBookkeeping)
		log.Info("entered bookkeeping mode")
		reply = BookkeepingPrompt

	case intent.KindAssetQuery:
		summary, err := e.assetSummary(ctx, t)
		if err != nil {
			log.Error("asset query failed", "error", err)
			reply = QueryFailedReply
		} else {
			reply = AssetQueryHeader + summary
		}

	case intent.KindError:
		log.Warn("intent analysis error", "message", in.Message)
		reply = intent.ErrorReply

	default:
		reply = in.Reply
		if reply == "" {
			reply = in.Raw
		}
	}

	raw := in.Raw
	if raw == "" {
		raw = reply
	}
	if err := e.store.SaveMessage(ctx, t.ChatID, persistence.RoleAssistant, raw); err != nil {
		log.Warn("failed to save assistant message", "error", err)
	}
	return reply
}

func (e *Engine) saveReminder(ctx context.Context, log *slog.Logger, t Turn, r *intent.Reminder) string {
	if r == nil {
		return ReminderFailedReply
	}
	now := e.now()
	if !r.Due.After(now) {
		log.Warn("reminder due time already passed", "due", r.Due)
		return ReminderFailedReply
	}
	if err := e.store.SaveReminder(ctx, t.ChatID, r.Content, r.Due, t.UserName); err != nil {
		log.Error("failed to save reminder", "error", err, "due", r.Due)
		return ReminderFailedReply
	}
	log.Info("reminder saved", "due", r.Due, "content_len", len(r.Content))
	return intent.ReminderReply(r.Content, r.Due, now, e.loc)
}

func (e *Engine) handleBookkeeping(ctx context.Context, log *slog.Logger, sess *session, t Turn) string {
	if IsCompletion(t.Text) {
		sess.setMode(ModeNormal)
		log.Info("left bookkeeping mode")

		summary, err := e.assetSummary(ctx, t)
		if err != nil {
			log.Error("bookkeeping summary failed", "error", err)
			return QueryFailedReply
		}
		return BookkeepingDoneHeader + summary
	}

	var lines []string
	for _, entry := range SplitEntries(t.Text) {
		info, err := e.analyzer.AnalyzeAccount(ctx, entry)
		if err != nil {
			log.Debug("ledger entry not understood", "entry", entry, "error", err)
			lines = append(lines, UnparsedEntryLine(entry))
			continue
		}
		if err := e.store.SaveAccount(ctx, t.ChatID, t.UserName, info.AccountName, info.SignedBalance()); err != nil {
			log.Error("failed to save account", "account", info.AccountName, "error", err)
			lines = append(lines, UnparsedEntryLine(entry))
			continue
		}
		lines = append(lines, RecordedEntryLine(info))
	}

	if len(lines) == 0 {
		return FormatHintReply
	}
	return strings.Join(lines, "\n") + ContinueTrailer
}

func (e *Engine) assetSummary(ctx context.Context, t Turn) (string, error) {
	netWorth, err := e.store.NetWorth(ctx, t.ChatID, t.UserName)
	if err != nil {
		return "", err
	}
	balances, err := e.store.LatestBalances(ctx, t.ChatID, t.UserName)
	if err != nil {
		return "", err
	}
	return FormatSummary(balances, netWorth), nil
}

// toMessages converts stored history into model turns, skipping rows
// with roles the model does not accept.
func toMessages(entries []persistence.HistoryEntry) []llm.Message {
	out := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		switch e.Role {
		case persistence.RoleUser, persistence.RoleAssistant:
			out = append(out, llm.Message{Role: e.Role, Content: e.Content})
		}
	}
	return out
}
