package chat

import "slices"

// Gate decides which inbound messages Hayden answers.
type Gate struct {
	// BotName is the bot's own display name; its messages are ignored.
	BotName string
	// Rooms lists the groups Hayden participates in.
	Rooms []string
	// Aliases lists the people Hayden answers in direct messages.
	Aliases []string
}

// Rejection reasons returned by Admit.
const (
	RejectSelf         = "self"
	RejectEmpty        = "empty"
	RejectRoom         = "room not whitelisted"
	RejectNotMentioned = "not mentioned"
	RejectAlias        = "alias not whitelisted"
)

// Admit returns the chat key for m, or the reason it was rejected.
// Room messages must come from a whitelisted room and mention the bot;
// direct messages must come from a whitelisted alias.
func (g Gate) Admit(m Message) (key string, reason string) {
	switch {
	case g.BotName != "" && m.Sender == g.BotName:
		return "", RejectSelf
	case m.Text == "" && !m.MentionsSelf:
		return "", RejectEmpty
	}

	if m.IsRoom() {
		if !slices.Contains(g.Rooms, m.Room) {
			return "", RejectRoom
		}
		if !m.MentionsSelf {
			return "", RejectNotMentioned
		}
		return RoomKey(m.Room), ""
	}

	if !slices.Contains(g.Aliases, m.Sender) {
		return "", RejectAlias
	}
	return UserKey(m.Sender), ""
}
