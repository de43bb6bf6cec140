// Package chat defines the transport-neutral side of messaging: the
// inbound message shape, the outbound Transport contract, chat keys,
// whitelist gating, and long-message chunking.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is an inbound chat message as seen by Hayden.
type Message struct {
	// Sender is the display name (alias) of the person who wrote it.
	Sender string
	// Room is the group name, empty for direct messages.
	Room string
	// Text is the message body with any mention of the bot removed.
	Text string
	// MentionsSelf reports whether the bot was @-mentioned.
	MentionsSelf bool
}

// IsRoom reports whether the message was posted in a group.
func (m Message) IsRoom() bool { return m.Room != "" }

// Transport sends outbound messages. Lookups that fail return an error
// matching ErrNotFound.
type Transport interface {
	// SendToUser sends a direct message to the named contact.
	SendToUser(ctx context.Context, name, text string) error
	// SendToRoom posts to the named group. A non-empty mention names a
	// member to @-mention.
	SendToRoom(ctx context.Context, room, text, mention string) error
}

// ErrNotFound is the class of lookup failures for users, rooms and
// room members.
var ErrNotFound = errors.New("not found")

// Lookup kinds reported by NotFoundError.
const (
	KindUser   = "user"
	KindRoom   = "room"
	KindMember = "member"
)

// NotFoundError names the entity a transport could not resolve.
type NotFoundError struct {
	Kind string
	Name string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// Unwrap places NotFoundError in the ErrNotFound class.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IsMissingMember reports whether err means the room exists but the
// person to mention could not be resolved in it.
func IsMissingMember(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.Kind == KindMember
}

// Chat key prefixes.
const (
	roomPrefix = "room_"
	userPrefix = "user_"
)

// RoomKey returns the chat key for a group.
func RoomKey(room string) string { return roomPrefix + room }

// UserKey returns the chat key for a direct conversation.
func UserKey(alias string) string { return userPrefix + alias }

// Key returns the chat key a message belongs to.
func Key(m Message) string {
	if m.IsRoom() {
		return RoomKey(m.Room)
	}
	return UserKey(m.Sender)
}

// ParseKey splits a chat key into its room or user name. isRoom is
// false for user keys; ok is false for keys with neither prefix.
func ParseKey(key string) (name string, isRoom bool, ok bool) {
	if name, found := strings.CutPrefix(key, roomPrefix); found {
		return name, true, true
	}
	if name, found := strings.CutPrefix(key, userPrefix); found {
		return name, false, true
	}
	return "", false, false
}
