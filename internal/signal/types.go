// Package signal connects Hayden to Signal through signal-cli's
// JSON-RPC mode. It provides the RPC client, a chat.Transport that
// resolves groups and contacts by display name, and the inbound bridge.
package signal

import "strings"

// Envelope is one received event. Only data messages reach callers;
// receipts, typing and sync events are dropped by the client.
type Envelope struct {
	Source       string `json:"source"`
	SourceNumber string `json:"sourceNumber"`
	SourceName   string `json:"sourceName"`
	Timestamp    int64  `json:"timestamp"`

	DataMessage *DataMessage `json:"dataMessage,omitempty"`
}

// DataMessage is a text message, possibly in a group and possibly
// mentioning people.
type DataMessage struct {
	Timestamp int64      `json:"timestamp"`
	Message   string     `json:"message"`
	GroupInfo *GroupInfo `json:"groupInfo,omitempty"`
	Mentions  []Mention  `json:"mentions,omitempty"`
	Reaction  *Reaction  `json:"reaction,omitempty"`
}

// Mention is an @-mention inside a data message. Start and Length are
// in UTF-16 code units and cover a single U+FFFC placeholder.
type Mention struct {
	Name   string `json:"name"`
	Number string `json:"number,omitempty"`
	UUID   string `json:"uuid,omitempty"`
	Start  int    `json:"start"`
	Length int    `json:"length"`
}

// Is reports whether the mention addresses account, given as a phone
// number or a UUID.
func (m Mention) Is(account string) bool {
	return account != "" && (m.Number == account || m.UUID == account)
}

// Reaction marks a data message that only carries an emoji reaction.
type Reaction struct {
	Emoji string `json:"emoji"`
}

// GroupInfo identifies the group a message was sent to.
type GroupInfo struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName,omitempty"` // newer signal-cli only
}

// Group is one entry of the listGroups result.
type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []Member `json:"members"`
}

// HasMember reports whether c belongs to the group.
func (g Group) HasMember(c Contact) bool {
	for _, m := range g.Members {
		if (c.Number != "" && m.Number == c.Number) || (c.UUID != "" && m.UUID == c.UUID) {
			return true
		}
	}
	return false
}

// Member identifies a group member.
type Member struct {
	Number string `json:"number,omitempty"`
	UUID   string `json:"uuid,omitempty"`
}

// Contact is one entry of the listContacts result.
type Contact struct {
	Number  string   `json:"number,omitempty"`
	UUID    string   `json:"uuid,omitempty"`
	Name    string   `json:"name,omitempty"`
	Profile *Profile `json:"profile,omitempty"`
}

// Profile is the contact's self-chosen Signal profile.
type Profile struct {
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
}

// DisplayName is the locally assigned contact name, falling back to
// the profile name.
func (c Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Profile != nil {
		return strings.TrimSpace(c.Profile.GivenName + " " + c.Profile.FamilyName)
	}
	return ""
}

// Recipient is the address to send to: the number when known,
// otherwise the UUID.
func (c Contact) Recipient() string {
	if c.Number != "" {
		return c.Number
	}
	return c.UUID
}
