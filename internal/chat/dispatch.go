package chat

import (
	"context"
	"fmt"
	"log/slog"
)

// Responder produces the reply to one admitted message.
type Responder func(ctx context.Context, chatKey, sender, text string) (string, error)

// Dispatcher gates inbound messages, asks the Responder for a reply and
// sends it back where the message came from.
type Dispatcher struct {
	gate    Gate
	respond Responder
	out     Transport
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(gate Gate, respond Responder, out Transport, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{gate: gate, respond: respond, out: out, logger: logger}
}

// Dispatch handles one inbound message. Rejected messages are dropped
// silently: no reply and no side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, m Message) error {
	key, reason := d.gate.Admit(m)
	if reason != "" {
		d.logger.Debug("message ignored",
			"sender", m.Sender,
			"room", m.Room,
			"reason", reason,
		)
		return nil
	}

	d.logger.Info("message received",
		"chat_key", key,
		"sender", m.Sender,
		"message_len", len(m.Text),
	)

	reply, err := d.respond(ctx, key, m.Sender, m.Text)
	if err != nil {
		return fmt.Errorf("respond to %s: %w", key, err)
	}
	if reply == "" {
		return nil
	}

	if m.IsRoom() {
		err = d.out.SendToRoom(ctx, m.Room, reply, m.Sender)
		if IsMissingMember(err) {
			d.logger.Warn("sender not resolvable for mention, replying without it",
				"chat_key", key,
				"sender", m.Sender,
			)
			err = d.out.SendToRoom(ctx, m.Room, reply, "")
		}
	} else {
		err = d.out.SendToUser(ctx, m.Sender, reply)
	}
	if err != nil {
		return fmt.Errorf("send reply to %s: %w", key, err)
	}

	d.logger.Info("reply sent", "chat_key", key, "response_len", len(reply))
	return nil
}

// Admit reports how the dispatcher's gate would treat m, without
// responding.
func (d *Dispatcher) Admit(m Message) (key, reason string) {
	return d.gate.Admit(m)
}
