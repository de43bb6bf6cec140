package signal

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/hayden/internal/chat"
)

const botAccount = "+15550009"

// replyRecorder is a chat.Responder that records what it was asked and
// answers with a canned reply.
type replyRecorder struct {
	mu    sync.Mutex
	calls []chat.Message
	keys  []string
	reply string
	got   chan struct{}
}

func newReplyRecorder(reply string) *replyRecorder {
	return &replyRecorder{reply: reply, got: make(chan struct{}, 8)}
}

func (r *replyRecorder) respond(_ context.Context, key, sender, text string) (string, error) {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.calls = append(r.calls, chat.Message{Sender: sender, Text: text})
	r.mu.Unlock()
	r.got <- struct{}{}
	return r.reply, nil
}

func (r *replyRecorder) snapshot() ([]string, []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...), append([]chat.Message(nil), r.calls...)
}

// bridgeHelper wires a Bridge to a fake signal-cli and a real
// dispatcher whose replies go out through the signal Transport.
func bridgeHelper(t *testing.T, opts ...func(*BridgeConfig)) (*Bridge, *fakeCLI, *replyRecorder) {
	t.Helper()
	client, cli := startFakeCLI(t)
	tr := NewTransport(client, slog.Default())
	rec := newReplyRecorder("好的")

	gate := chat.Gate{BotName: "Hayden", Rooms: []string{"家庭群"}, Aliases: []string{"alice"}}
	dispatcher := chat.NewDispatcher(gate, rec.respond, tr, slog.Default())

	cfg := BridgeConfig{
		Client:     client,
		Directory:  tr,
		Dispatcher: dispatcher,
		Account:    botAccount,
		Logger:     slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return NewBridge(cfg), cli, rec
}

func TestBridge_DirectMessage(t *testing.T) {
	bridge, cli, rec := bridgeHelper(t)

	env := &Envelope{
		Source:     "+15550001",
		SourceName: "alice",
		Timestamp:  1700000000000,
		DataMessage: &DataMessage{
			Timestamp: 1700000000123,
			Message:   " 提醒我喝水 ",
		},
	}
	bridge.handleMessage(t.Context(), env)

	keys, calls := rec.snapshot()
	assert.Equal(t, []string{"user_alice"}, keys)
	assert.Equal(t, "提醒我喝水", calls[0].Text)

	receipts := cli.callsTo("sendReceipt")
	require.Len(t, receipts, 1)
	assert.Equal(t, float64(1700000000123), receipts[0].Params["targetTimestamp"], "data message timestamp preferred")

	typing := cli.callsTo("sendTyping")
	require.Len(t, typing, 2)
	assert.NotContains(t, typing[0].Params, "stop")
	assert.Equal(t, true, typing[1].Params["stop"])

	sends := cli.callsTo("send")
	require.Len(t, sends, 1)
	assert.Equal(t, []any{"+15550001"}, sends[0].Params["recipient"])
	assert.Equal(t, "好的", sends[0].Params["message"])
}

func TestBridge_GroupMentionRepliesWithMention(t *testing.T) {
	bridge, cli, rec := bridgeHelper(t)

	env := &Envelope{
		Source:     "+15550001",
		SourceName: "alice",
		Timestamp:  1700000000000,
		DataMessage: &DataMessage{
			Message:   "\uFFFC 我要记账",
			GroupInfo: &GroupInfo{GroupID: "Z3JvdXA="},
			Mentions:  []Mention{{Name: botAccount, Number: botAccount, Start: 0, Length: 1}},
		},
	}
	bridge.handleMessage(t.Context(), env)

	keys, calls := rec.snapshot()
	assert.Equal(t, []string{"room_家庭群"}, keys, "group name resolved from the directory")
	assert.Equal(t, "我要记账", calls[0].Text)

	assert.Empty(t, cli.callsTo("sendTyping"), "no typing indicator in groups")

	sends := cli.callsTo("send")
	require.Len(t, sends, 1)
	assert.Equal(t, "Z3JvdXA=", sends[0].Params["groupId"])
	assert.Equal(t, "\uFFFC 好的", sends[0].Params["message"])
	assert.Equal(t, []any{"0:1:+15550001"}, sends[0].Params["mention"])
}

func TestBridge_RejectedMessagesAreSilent(t *testing.T) {
	bridge, cli, rec := bridgeHelper(t)

	tests := []struct {
		name string
		env  *Envelope
	}{
		{"stranger", &Envelope{Source: "+15559999", SourceName: "mallory", DataMessage: &DataMessage{Message: "hi"}}},
		{"group without mention", &Envelope{Source: "+15550001", SourceName: "alice", DataMessage: &DataMessage{
			Message:   "大家好",
			GroupInfo: &GroupInfo{GroupID: "Z3JvdXA=", GroupName: "家庭群"},
		}}},
		{"other group", &Envelope{Source: "+15550001", SourceName: "alice", DataMessage: &DataMessage{
			Message:   "\uFFFC hi",
			GroupInfo: &GroupInfo{GroupID: "b3RoZXI=", GroupName: "工作群"},
			Mentions:  []Mention{{Number: botAccount, Start: 0, Length: 1}},
		}}},
		{"empty text", &Envelope{Source: "+15550001", SourceName: "alice", DataMessage: &DataMessage{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge.handleMessage(t.Context(), tt.env)
		})
	}

	keys, _ := rec.snapshot()
	assert.Empty(t, keys)
	for _, m := range cli.methods() {
		assert.NotContains(t, []string{"send", "sendReceipt", "sendTyping"}, m)
	}
}

func TestBridge_StartDispatchesConcurrently(t *testing.T) {
	bridge, cli, rec := bridgeHelper(t)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		bridge.Start(ctx)
		close(done)
	}()

	cli.push(t, `{"source":"+15550001","sourceName":"alice","timestamp":1,"dataMessage":{"timestamp":1,"message":"一"}}`)
	cli.push(t, `{"source":"+15550001","sourceName":"alice","timestamp":2,"receiptMessage":{"when":2,"type":"READ","timestamps":[1]}}`)
	cli.push(t, `{"source":"+15550001","sourceName":"alice","timestamp":3,"dataMessage":{"timestamp":3,"message":"二"}}`)

	for range 2 {
		select {
		case <-rec.got:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for dispatch")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}

	_, calls := rec.snapshot()
	texts := []string{calls[0].Text, calls[1].Text}
	assert.ElementsMatch(t, []string{"一", "二"}, texts)
}

func TestBridge_RateLimitDropsMessages(t *testing.T) {
	bridge, _, _ := bridgeHelper(t, func(c *BridgeConfig) { c.RateLimit = 2 })

	assert.True(t, bridge.allowSender("+15550001"))
	assert.True(t, bridge.allowSender("+15550001"))
	assert.False(t, bridge.allowSender("+15550001"), "third message within a minute is dropped")
	assert.True(t, bridge.allowSender("+15550002"), "limit is per sender")
}

func TestBridge_RateLimitDisabledWhenZero(t *testing.T) {
	bridge, _, _ := bridgeHelper(t)
	for range 100 {
		require.True(t, bridge.allowSender("+15550001"))
	}
}

func TestToMessage(t *testing.T) {
	bridge, _, _ := bridgeHelper(t)

	m := bridge.toMessage(t.Context(), &Envelope{
		Source:      "+15550003",
		DataMessage: &DataMessage{Message: "hello"},
	})
	assert.Equal(t, chat.Message{Sender: "+15550003", Text: "hello"}, m, "number used when no profile name")

	m = bridge.toMessage(t.Context(), &Envelope{
		Source:     "+15550001",
		SourceName: "alice",
		DataMessage: &DataMessage{
			Message:   "hi",
			GroupInfo: &GroupInfo{GroupID: "bm9wZQ=="},
		},
	})
	assert.Equal(t, "bm9wZQ==", m.Room, "unresolvable group falls back to its id")
}

func TestStripMentions(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		mentions []Mention
		want     string
		wantSelf bool
	}{
		{"no mentions", "  你好  ", nil, "你好", false},
		{"self at start", "\uFFFC 记账", []Mention{{Number: botAccount, Start: 0, Length: 1}}, "记账", true},
		{"self by uuid", "查资产 \uFFFC", []Mention{{UUID: botAccount, Start: 4, Length: 1}}, "查资产", true},
		{"other person kept", "\uFFFC 提醒 \uFFFC 开会", []Mention{
			{Number: botAccount, Start: 0, Length: 1},
			{Name: "bob", Number: "+15550002", Start: 5, Length: 1},
		}, "提醒 @bob 开会", true},
		{"emoji before mention", "😀\uFFFC hi", []Mention{{Number: botAccount, Start: 2, Length: 1}}, "😀 hi", true},
		{"out of range ignored", "hi", []Mention{{Number: botAccount, Start: 5, Length: 1}}, "hi", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, self := stripMentions(tt.text, tt.mentions, botAccount)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantSelf, self)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "短", truncate("短", 5))
	assert.Equal(t, "一二三...", truncate("一二三四五", 3))
}
