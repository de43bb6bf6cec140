package signal

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/nugget/hayden/internal/chat"
)

// Dispatcher is the chat side of the bridge. *chat.Dispatcher is the
// real implementation.
type Dispatcher interface {
	Admit(m chat.Message) (key, reason string)
	Dispatch(ctx context.Context, m chat.Message) error
}

// handleTimeout bounds how long a single inbound message may be
// processed (model round trip + reply send).
const handleTimeout = 3 * time.Minute

// rateWindow is the sliding window for per-sender rate limiting.
const rateWindow = time.Minute

// cleanupInterval controls how often stale rate-limit entries are
// evicted.
const cleanupInterval = 10 * time.Minute

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Client     *Client
	Directory  *Transport
	Dispatcher Dispatcher
	// Account is the bot's own number or UUID; mentions of it address
	// the bot.
	Account   string
	Logger    *slog.Logger
	RateLimit int // per sender per minute; 0 = unlimited
}

// Bridge receives Signal messages from the signal-cli client, converts
// them to chat messages and hands each one to the dispatcher on its
// own goroutine.
type Bridge struct {
	client     *Client
	directory  *Transport
	dispatcher Dispatcher
	account    string
	logger     *slog.Logger
	rateLimit  int

	wg sync.WaitGroup

	mu          sync.Mutex
	senderTimes map[string][]time.Time
	lastCleanup time.Time
}

// NewBridge creates a Signal message bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client:      cfg.Client,
		directory:   cfg.Directory,
		dispatcher:  cfg.Dispatcher,
		account:     cfg.Account,
		logger:      logger,
		rateLimit:   cfg.RateLimit,
		senderTimes: make(map[string][]time.Time),
	}
}

// Start receives messages until ctx is cancelled or the client's
// message channel closes, then waits for in-flight messages.
func (b *Bridge) Start(ctx context.Context) {
	b.logger.Info("signal bridge started")
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("signal bridge shutting down")
			return
		case env, ok := <-b.client.Messages():
			if !ok {
				b.logger.Info("signal message channel closed, bridge stopping")
				return
			}

			if env.DataMessage == nil || env.DataMessage.Reaction != nil {
				b.logger.Debug("signal ignoring non-text envelope", "sender", env.Source)
				continue
			}
			if env.Source == "" {
				b.logger.Debug("signal ignoring envelope with empty source")
				continue
			}
			if !b.allowSender(env.Source) {
				b.logger.Warn("signal message rate-limited", "sender", env.Source)
				continue
			}

			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleMessage(ctx, env)
			}()
		}
	}
}

// handleMessage processes a single inbound envelope. Messages the gate
// rejects get no receipt, no typing indicator and no reply.
func (b *Bridge) handleMessage(ctx context.Context, env *Envelope) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	m := b.toMessage(ctx, env)
	if _, reason := b.dispatcher.Admit(m); reason != "" {
		b.logger.Debug("signal message not admitted",
			"sender", m.Sender,
			"room", m.Room,
			"reason", reason,
		)
		return
	}

	b.logger.Info("signal message received",
		"sender", m.Sender,
		"room", m.Room,
		"preview", truncate(m.Text, 40),
	)

	// Prefer the data message timestamp; fall back to the envelope.
	receiptTS := env.Timestamp
	if env.DataMessage.Timestamp != 0 {
		receiptTS = env.DataMessage.Timestamp
	}
	if err := b.client.MarkRead(ctx, env.Source, receiptTS); err != nil {
		b.logger.Warn("signal read receipt failed", "sender", env.Source, "error", err)
	}

	direct := !m.IsRoom()
	if direct {
		if err := b.client.Typing(ctx, env.Source, true); err != nil {
			b.logger.Debug("signal typing indicator failed", "error", err)
		}
	}

	err := b.dispatcher.Dispatch(ctx, m)

	if direct {
		// Fresh context so the indicator is cleared even after a timeout.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		if typErr := b.client.Typing(stopCtx, env.Source, false); typErr != nil {
			b.logger.Debug("signal typing stop failed", "error", typErr)
		}
	}

	if err != nil {
		b.logger.Error("signal message handling failed",
			"sender", m.Sender,
			"room", m.Room,
			"error", err,
		)
	}
}

// toMessage converts an envelope into a chat message. The sender is
// the profile name when signal-cli knows it, otherwise the number.
func (b *Bridge) toMessage(ctx context.Context, env *Envelope) chat.Message {
	dm := env.DataMessage
	sender := env.SourceName
	if sender == "" {
		sender = env.Source
	}

	text, self := stripMentions(dm.Message, dm.Mentions, b.account)
	m := chat.Message{
		Sender:       sender,
		Text:         text,
		MentionsSelf: self,
	}

	if gi := dm.GroupInfo; gi != nil {
		m.Room = gi.GroupName
		if m.Room == "" && b.directory != nil {
			if name, ok := b.directory.GroupName(ctx, gi.GroupID); ok {
				m.Room = name
			}
		}
		if m.Room == "" {
			m.Room = gi.GroupID
		}
	}
	return m
}

// stripMentions removes mentions of account from text and renders the
// others as "@name". It reports whether account was mentioned.
func stripMentions(text string, mentions []Mention, account string) (string, bool) {
	if len(mentions) == 0 {
		return strings.TrimSpace(text), false
	}

	units := utf16.Encode([]rune(text))
	sorted := append([]Mention(nil), mentions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	self := false
	for _, mn := range sorted {
		end := mn.Start + mn.Length
		if mn.Start < 0 || end > len(units) || mn.Length <= 0 {
			continue
		}
		var repl []uint16
		if mn.Is(account) {
			self = true
		} else {
			repl = utf16.Encode([]rune("@" + mn.Name))
		}
		units = append(units[:mn.Start], append(repl, units[end:]...)...)
	}

	return strings.Join(strings.Fields(string(utf16.Decode(units))), " "), self
}

// allowSender checks whether the sender is within the per-minute rate
// limit. Returns true if the message should be processed.
func (b *Bridge) allowSender(senderID string) bool {
	if b.rateLimit <= 0 {
		return true
	}

	now := time.Now()
	cutoff := now.Add(-rateWindow)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeCleanupLocked(now)

	// Prune expired timestamps for this sender.
	timestamps := b.senderTimes[senderID]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= b.rateLimit {
		b.senderTimes[senderID] = valid
		return false
	}

	b.senderTimes[senderID] = append(valid, now)
	return true
}

// maybeCleanupLocked evicts stale sender entries. Must be called with
// b.mu held.
func (b *Bridge) maybeCleanupLocked(now time.Time) {
	if now.Sub(b.lastCleanup) < cleanupInterval {
		return
	}
	b.lastCleanup = now

	cutoff := now.Add(-2 * rateWindow)
	for sender, timestamps := range b.senderTimes {
		if len(timestamps) == 0 || timestamps[len(timestamps)-1].Before(cutoff) {
			delete(b.senderTimes, sender)
		}
	}
}

// truncate returns s truncated to maxLen runes with an ellipsis if it
// exceeds the limit.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
