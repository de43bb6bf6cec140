package signal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/hayden/internal/chat"
)

// DirectoryTTL is how long group and contact lists are cached before a
// lookup refreshes them.
const DirectoryTTL = 10 * time.Minute

// Transport implements chat.Transport over a signal-cli Client,
// resolving rooms and users by display name.
type Transport struct {
	client *Client
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	groups   []Group
	contacts []Contact
	loadedAt time.Time
}

// NewTransport creates a Transport backed by client.
func NewTransport(client *Client, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		client: client,
		logger: logger,
		ttl:    DirectoryTTL,
		now:    time.Now,
	}
}

// SendToUser sends a direct message to the contact with the given
// display name.
func (t *Transport) SendToUser(ctx context.Context, name, text string) error {
	var contact Contact
	found, err := t.resolve(ctx, func() bool {
		var ok bool
		contact, ok = t.contactLocked(name)
		return ok
	})
	if err != nil {
		return err
	}
	if !found {
		return &chat.NotFoundError{Kind: chat.KindUser, Name: name}
	}

	ts, err := t.client.Send(ctx, Outgoing{To: Target{Recipient: contact.Recipient()}, Text: text})
	if err != nil {
		return err
	}
	t.logger.Debug("signal message sent", "user", name, "timestamp", ts)
	return nil
}

// SendToRoom posts to the group with the given name. A non-empty
// mention must name a current member of the group.
func (t *Transport) SendToRoom(ctx context.Context, room, text, mention string) error {
	var (
		group    Group
		member   Contact
		isInRoom bool
	)
	found, err := t.resolve(ctx, func() bool {
		var ok bool
		group, ok = t.groupLocked(room)
		if !ok {
			return false
		}
		if mention == "" {
			return true
		}
		member, isInRoom = t.contactLocked(mention)
		isInRoom = isInRoom && group.HasMember(member)
		return isInRoom
	})
	if err != nil {
		return err
	}
	if group.ID == "" {
		return &chat.NotFoundError{Kind: chat.KindRoom, Name: room}
	}
	if mention != "" && (!found || !isInRoom) {
		return &chat.NotFoundError{Kind: chat.KindMember, Name: mention}
	}

	out := Outgoing{To: Target{GroupID: group.ID}, Text: text}
	if mention != "" {
		out.Mention = member.Recipient()
	}

	ts, err := t.client.Send(ctx, out)
	if err != nil {
		return err
	}
	t.logger.Debug("signal group message sent", "room", room, "mention", mention, "timestamp", ts)
	return nil
}

// GroupName returns the name of the group with the given id.
func (t *Transport) GroupName(ctx context.Context, id string) (string, bool) {
	var name string
	found, err := t.resolve(ctx, func() bool {
		for _, g := range t.groups {
			if g.ID == id {
				name = g.Name
				return true
			}
		}
		return false
	})
	if err != nil {
		t.logger.Warn("signal group lookup failed", "group_id", id, "error", err)
		return "", false
	}
	return name, found
}

// resolve runs find against the cached directory. On a miss, or when
// the cache is stale, the directory is reloaded once and find runs
// again.
func (t *Transport) resolve(ctx context.Context, find func() bool) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fresh := !t.loadedAt.IsZero() && t.now().Sub(t.loadedAt) < t.ttl
	if fresh && find() {
		return true, nil
	}
	if err := t.refreshLocked(ctx); err != nil {
		return false, err
	}
	return find(), nil
}

func (t *Transport) refreshLocked(ctx context.Context) error {
	groups, contacts, err := t.client.Directory(ctx)
	if err != nil {
		return err
	}
	t.groups = groups
	t.contacts = contacts
	t.loadedAt = t.now()
	t.logger.Debug("signal directory refreshed", "groups", len(groups), "contacts", len(contacts))
	return nil
}

func (t *Transport) groupLocked(name string) (Group, bool) {
	for _, g := range t.groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

func (t *Transport) contactLocked(name string) (Contact, bool) {
	for _, c := range t.contacts {
		if c.DisplayName() == name {
			return c, true
		}
	}
	return Contact{}, false
}
