package signal

import (
	"bufio"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEnvelope(t *testing.T, c *Client) *Envelope {
	t.Helper()
	select {
	case env, ok := <-c.Messages():
		require.True(t, ok, "message channel closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func TestClient_ReceivesFamilyGroupMention(t *testing.T) {
	client, cli := startFakeCLI(t)

	cli.push(t, `{"source":"+15550001","sourceName":"alice","timestamp":1,"dataMessage":{"timestamp":1,"message":"\ufffc 查资产","groupInfo":{"groupId":"Z3JvdXA=","groupName":"家庭群","type":"DELIVER"},"mentions":[{"name":"+15550009","number":"+15550009","uuid":"u-bot","start":0,"length":1}]}}`)

	env := nextEnvelope(t, client)
	assert.Equal(t, "alice", env.SourceName)
	dm := env.DataMessage
	require.NotNil(t, dm.GroupInfo)
	assert.Equal(t, "家庭群", dm.GroupInfo.GroupName)
	require.Len(t, dm.Mentions, 1)
	assert.True(t, dm.Mentions[0].Is(botAccount))
	assert.True(t, dm.Mentions[0].Is("u-bot"))
	assert.False(t, dm.Mentions[0].Is(""), "an unset account never matches")
}

func TestClient_DropsEventsWithoutText(t *testing.T) {
	client, cli := startFakeCLI(t)

	cli.push(t, `{"source":"+15550001","timestamp":1,"receiptMessage":{"when":2,"type":"READ","timestamps":[1]}}`)
	cli.push(t, `{"source":"+15550001","timestamp":2,"typingMessage":{"action":"STARTED","timestamp":2}}`)
	cli.push(t, `{"source":"+15550001","timestamp":3,"syncMessage":{}}`)
	cli.push(t, `{"source":"+15550002","sourceName":"bob","timestamp":4,"dataMessage":{"timestamp":4,"message":"提醒我喝水"}}`)

	env := nextEnvelope(t, client)
	assert.Equal(t, "bob", env.SourceName)
	assert.Equal(t, "提醒我喝水", env.DataMessage.Message)
}

func TestClient_SendDirectAndGroup(t *testing.T) {
	client, cli := startFakeCLI(t)
	ctx := t.Context()

	ts, err := client.Send(ctx, Outgoing{To: Target{Recipient: "+15550001"}, Text: "提醒：喝水"})
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000001), ts)

	_, err = client.Send(ctx, Outgoing{To: Target{GroupID: "Z3JvdXA="}, Text: "提醒：买菜", Mention: "+15550001"})
	require.NoError(t, err)

	_, err = client.Send(ctx, Outgoing{To: Target{GroupID: "Z3JvdXA="}, Text: "早报"})
	require.NoError(t, err)

	sends := cli.callsTo("send")
	require.Len(t, sends, 3)

	direct := sends[0].Params
	assert.Equal(t, []any{"+15550001"}, direct["recipient"])
	assert.Equal(t, "提醒：喝水", direct["message"])
	assert.NotContains(t, direct, "groupId")

	mentioned := sends[1].Params
	assert.Equal(t, "Z3JvdXA=", mentioned["groupId"])
	assert.Equal(t, "\uFFFC 提醒：买菜", mentioned["message"])
	assert.Equal(t, []any{"0:1:+15550001"}, mentioned["mention"])
	assert.NotContains(t, mentioned, "recipient")

	assert.Equal(t, "早报", sends[2].Params["message"])
	assert.NotContains(t, sends[2].Params, "mention")
}

func TestClient_SendRejectsBadTargets(t *testing.T) {
	client, cli := startFakeCLI(t)

	tests := []struct {
		name string
		out  Outgoing
	}{
		{"no target", Outgoing{Text: "hi"}},
		{"both targets", Outgoing{To: Target{Recipient: "+15550001", GroupID: "Z3JvdXA="}, Text: "hi"}},
		{"mention in direct chat", Outgoing{To: Target{Recipient: "+15550001"}, Text: "hi", Mention: "+15550002"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Send(t.Context(), tt.out)
			assert.Error(t, err)
		})
	}
	assert.Empty(t, cli.callsTo("send"), "invalid sends never reach signal-cli")
}

func TestClient_Directory(t *testing.T) {
	client, cli := startFakeCLI(t)

	groups, contacts, err := client.Directory(t.Context())
	require.NoError(t, err)

	require.Len(t, groups, 1)
	assert.Equal(t, "家庭群", groups[0].Name)
	require.Len(t, contacts, 2)
	assert.Equal(t, "alice", contacts[0].DisplayName())
	assert.Equal(t, "bob", contacts[1].DisplayName())
	assert.True(t, groups[0].HasMember(contacts[0]))
	assert.False(t, groups[0].HasMember(contacts[1]))

	lg := cli.callsTo("listGroups")
	require.Len(t, lg, 1)
	assert.Equal(t, true, lg[0].Params["detailed"], "members are only listed in detailed mode")
}

func TestClient_DirectoryError(t *testing.T) {
	client, cli := startFakeCLI(t)
	cli.fail("listContacts", "account not registered")

	_, _, err := client.Directory(t.Context())
	require.Error(t, err)
	var rpcErr *rpcError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "account not registered", rpcErr.Message)
	assert.Contains(t, err.Error(), "listContacts")
}

func TestClient_ReceiptAndTyping(t *testing.T) {
	client, cli := startFakeCLI(t)
	ctx := t.Context()

	require.NoError(t, client.MarkRead(ctx, "+15550001", 1700000000123))
	require.NoError(t, client.Typing(ctx, "+15550001", true))
	require.NoError(t, client.Typing(ctx, "+15550001", false))
	require.NoError(t, client.Ping(ctx))

	receipts := cli.callsTo("sendReceipt")
	require.Len(t, receipts, 1)
	assert.Equal(t, "+15550001", receipts[0].Params["recipient"])
	assert.Equal(t, float64(1700000000123), receipts[0].Params["targetTimestamp"])
	assert.Equal(t, "read", receipts[0].Params["type"])

	typing := cli.callsTo("sendTyping")
	require.Len(t, typing, 2)
	assert.NotContains(t, typing[0].Params, "stop")
	assert.Equal(t, true, typing[1].Params["stop"])

	assert.Equal(t, []string{"sendReceipt", "sendTyping", "sendTyping", "version"}, cli.methods())
}

func TestClient_CancelledContext(t *testing.T) {
	client, cli := startFakeCLI(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := client.Ping(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, cli.methods())
}

func TestClient_ExitFailsPendingCalls(t *testing.T) {
	client, stdout, stdin := pipeClient(t)

	// Swallow the request, then let signal-cli die without answering.
	go func() {
		_, _ = bufio.NewReader(stdin).ReadBytes('\n')
		stdout.Close()
	}()

	err := client.Ping(t.Context())
	assert.ErrorIs(t, err, ErrExited)

	select {
	case _, ok := <-client.Messages():
		assert.False(t, ok, "messages closed on exit")
	case <-time.After(2 * time.Second):
		t.Fatal("messages channel not closed")
	}

	err = client.Ping(t.Context())
	assert.ErrorIs(t, err, ErrExited, "calls after exit fail fast")
}

func TestClient_IgnoresNoise(t *testing.T) {
	client, cli := startFakeCLI(t)

	_, err := io.WriteString(cli.stdout, "INFO  some log line\n"+`{"jsonrpc":"2.0","id":999,"result":{}}`+"\n"+`{"jsonrpc":"2.0","method":"other"}`+"\n")
	require.NoError(t, err)

	require.NoError(t, client.Ping(t.Context()), "client keeps working after stray output")
}

func TestClient_CloseWithoutProcess(t *testing.T) {
	client, _, _ := pipeClient(t)
	assert.NoError(t, client.Close())

	err := client.Ping(t.Context())
	require.Error(t, err, "stdin is closed")
	assert.False(t, errors.Is(err, context.Canceled))
}
