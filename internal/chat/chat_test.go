package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Transport that records what it was asked to send.
type recorder struct {
	mu    sync.Mutex
	sends []sent
	err   error
}

type sent struct {
	room, user, text, mention string
}

func (r *recorder) SendToUser(_ context.Context, name, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, sent{user: name, text: text})
	return r.err
}

func (r *recorder) SendToRoom(_ context.Context, room, text, mention string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, sent{room: room, text: text, mention: mention})
	return r.err
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "room_家庭群", Key(Message{Sender: "alice", Room: "家庭群"}))
	assert.Equal(t, "user_alice", Key(Message{Sender: "alice"}))

	name, isRoom, ok := ParseKey("room_家庭群")
	assert.True(t, ok)
	assert.True(t, isRoom)
	assert.Equal(t, "家庭群", name)

	name, isRoom, ok = ParseKey("user_alice")
	assert.True(t, ok)
	assert.False(t, isRoom)
	assert.Equal(t, "alice", name)

	_, _, ok = ParseKey("account_analysis")
	assert.False(t, ok)
}

func TestGateAdmit(t *testing.T) {
	g := Gate{BotName: "Hayden", Rooms: []string{"家庭群"}, Aliases: []string{"alice"}}

	tests := []struct {
		name       string
		msg        Message
		wantKey    string
		wantReason string
	}{
		{"whitelisted dm", Message{Sender: "alice", Text: "hi"}, "user_alice", ""},
		{"unknown dm", Message{Sender: "mallory", Text: "hi"}, "", RejectAlias},
		{"self echo", Message{Sender: "Hayden", Text: "hi"}, "", RejectSelf},
		{"room mentioned", Message{Sender: "bob", Room: "家庭群", Text: "hi", MentionsSelf: true}, "room_家庭群", ""},
		{"room not mentioned", Message{Sender: "bob", Room: "家庭群", Text: "hi"}, "", RejectNotMentioned},
		{"room not whitelisted", Message{Sender: "alice", Room: "工作群", Text: "hi", MentionsSelf: true}, "", RejectRoom},
		{"empty text", Message{Sender: "alice"}, "", RejectEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, reason := g.Admit(tt.msg)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestChunk(t *testing.T) {
	assert.Equal(t, []string{""}, Chunk("", 500))
	assert.Equal(t, []string{"短消息"}, Chunk("短消息", 500))

	long := strings.Repeat("字", 1201)
	parts := Chunk(long, 500)
	require.Len(t, parts, 3)
	assert.Len(t, []rune(parts[0]), 500)
	assert.Len(t, []rune(parts[1]), 500)
	assert.Len(t, []rune(parts[2]), 201)
	assert.Equal(t, long, strings.Join(parts, ""))

	assert.Len(t, Chunk(strings.Repeat("a", 1000), 0), 2, "zero size uses default")
}

func TestChunkedTransport(t *testing.T) {
	rec := &recorder{}
	tr := Chunked(rec, 4)

	require.NoError(t, tr.SendToRoom(t.Context(), "家庭群", "一二三四五六", "alice"))
	require.Len(t, rec.sends, 2)
	assert.Equal(t, sent{room: "家庭群", text: "一二三四", mention: "alice"}, rec.sends[0])
	assert.Equal(t, sent{room: "家庭群", text: "五六"}, rec.sends[1])

	rec.err = errors.New("down")
	assert.Error(t, tr.SendToUser(t.Context(), "alice", "一二三四五六"))
	assert.Len(t, rec.sends, 3, "stops at first failure")
}

func TestDispatch(t *testing.T) {
	g := Gate{BotName: "Hayden", Rooms: []string{"家庭群"}, Aliases: []string{"alice"}}

	t.Run("direct reply", func(t *testing.T) {
		rec := &recorder{}
		var gotKey, gotSender, gotText string
		d := NewDispatcher(g, func(_ context.Context, key, sender, text string) (string, error) {
			gotKey, gotSender, gotText = key, sender, text
			return "你好！", nil
		}, rec, nil)

		require.NoError(t, d.Dispatch(t.Context(), Message{Sender: "alice", Text: "你好"}))
		assert.Equal(t, "user_alice", gotKey)
		assert.Equal(t, "alice", gotSender)
		assert.Equal(t, "你好", gotText)
		assert.Equal(t, []sent{{user: "alice", text: "你好！"}}, rec.sends)
	})

	t.Run("room reply mentions sender", func(t *testing.T) {
		rec := &recorder{}
		d := NewDispatcher(g, func(context.Context, string, string, string) (string, error) {
			return "收到", nil
		}, rec, nil)

		require.NoError(t, d.Dispatch(t.Context(), Message{Sender: "bob", Room: "家庭群", Text: "在吗", MentionsSelf: true}))
		assert.Equal(t, []sent{{room: "家庭群", text: "收到", mention: "bob"}}, rec.sends)
	})

	t.Run("rejected message has no effects", func(t *testing.T) {
		rec := &recorder{}
		called := false
		d := NewDispatcher(g, func(context.Context, string, string, string) (string, error) {
			called = true
			return "x", nil
		}, rec, nil)

		require.NoError(t, d.Dispatch(t.Context(), Message{Sender: "mallory", Text: "hi"}))
		require.NoError(t, d.Dispatch(t.Context(), Message{Sender: "bob", Room: "工作群", Text: "hi", MentionsSelf: true}))
		assert.False(t, called)
		assert.Empty(t, rec.sends)
	})

	t.Run("responder error", func(t *testing.T) {
		rec := &recorder{}
		d := NewDispatcher(g, func(context.Context, string, string, string) (string, error) {
			return "", errors.New("boom")
		}, rec, nil)

		assert.Error(t, d.Dispatch(t.Context(), Message{Sender: "alice", Text: "hi"}))
		assert.Empty(t, rec.sends)
	})
}

// strangerRoom is a room transport that cannot resolve anyone to
// mention.
type strangerRoom struct {
	recorder
}

func (r *strangerRoom) SendToRoom(ctx context.Context, room, text, mention string) error {
	if mention != "" {
		return &NotFoundError{Kind: KindMember, Name: mention}
	}
	return r.recorder.SendToRoom(ctx, room, text, mention)
}

func TestDispatch_UnresolvableSenderStillGetsReply(t *testing.T) {
	g := Gate{BotName: "Hayden", Rooms: []string{"家庭群"}}
	out := &strangerRoom{}
	d := NewDispatcher(g, func(context.Context, string, string, string) (string, error) {
		return "收到", nil
	}, out, nil)

	require.NoError(t, d.Dispatch(t.Context(), Message{Sender: "Alice Profile", Room: "家庭群", Text: "在吗", MentionsSelf: true}))
	assert.Equal(t, []sent{{room: "家庭群", text: "收到"}}, out.sends)
}

func TestDispatch_MissingRoomIsAnError(t *testing.T) {
	g := Gate{BotName: "Hayden", Rooms: []string{"家庭群"}}
	rec := &recorder{err: &NotFoundError{Kind: KindRoom, Name: "家庭群"}}
	d := NewDispatcher(g, func(context.Context, string, string, string) (string, error) {
		return "收到", nil
	}, rec, nil)

	err := d.Dispatch(t.Context(), Message{Sender: "bob", Room: "家庭群", Text: "在吗", MentionsSelf: true})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, rec.sends, 1, "no retry for a missing room")
}

func TestIsMissingMember(t *testing.T) {
	assert.True(t, IsMissingMember(fmt.Errorf("send: %w", &NotFoundError{Kind: KindMember, Name: "alice"})))
	assert.False(t, IsMissingMember(&NotFoundError{Kind: KindRoom, Name: "家庭群"}))
	assert.False(t, IsMissingMember(nil))
}

func TestNotFoundError(t *testing.T) {
	err := error(&NotFoundError{Kind: KindRoom, Name: "家庭群"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "家庭群")
}
