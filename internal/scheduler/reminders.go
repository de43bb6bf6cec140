package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/hayden/internal/chat"
	"github.com/nugget/hayden/internal/persistence"
)

// ReminderSchedule is the fixed cadence of the reminder poll.
const ReminderSchedule = "* * * * *"

// fireWindow is how far ahead of its time a reminder may fire, as long
// as it falls in the current wall-clock minute.
const fireWindow = 60 * time.Second

// ReminderStore is the subset of the persistence service the poller
// uses.
type ReminderStore interface {
	DueReminders(ctx context.Context) ([]persistence.Reminder, error)
	CompleteReminder(ctx context.Context, id int64) error
}

// PollResult counts what one poll did.
type PollResult struct {
	Fetched   int `json:"fetched"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ReminderPoller delivers reminders whose time has come.
type ReminderPoller struct {
	store  ReminderStore
	out    chat.Transport
	loc    *time.Location
	logger *slog.Logger
}

// NewReminderPoller creates a poller. loc decides which wall-clock
// minute a reminder falls in.
func NewReminderPoller(store ReminderStore, out chat.Transport, loc *time.Location, logger *slog.Logger) *ReminderPoller {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &ReminderPoller{store: store, out: out, loc: loc, logger: logger}
}

// Due reports whether a reminder set for at should fire at now: when
// its time has passed, or when it is less than a minute away and in
// the same wall-clock minute.
func Due(at, now time.Time, loc *time.Location) bool {
	diff := at.Sub(now)
	if diff <= 0 {
		return true
	}
	return diff <= fireWindow && at.In(loc).Minute() == now.In(loc).Minute()
}

// Poll runs one reminder tick. Reminders are handled in the order the
// service returns them; an id seen twice in one tick is delivered
// once. Delivery failures are logged and the tick moves on. The only
// error is failing to fetch the due list.
func (p *ReminderPoller) Poll(ctx context.Context, now time.Time) (PollResult, error) {
	var res PollResult

	reminders, err := p.store.DueReminders(ctx)
	if err != nil {
		return res, fmt.Errorf("fetch due reminders: %w", err)
	}
	res.Fetched = len(reminders)
	p.logger.Debug("checking reminders", "count", len(reminders))

	processed := make(map[int64]bool, len(reminders))
	for _, r := range reminders {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		log := p.logger.With("reminder_id", r.ID, "chat_id", r.ChatID)

		if processed[r.ID] {
			log.Debug("reminder already processed this tick")
			res.Skipped++
			continue
		}
		if r.Completed {
			res.Skipped++
			continue
		}
		if !Due(r.RemindTime, now, p.loc) {
			log.Debug("reminder not due yet", "remind_time", r.RemindTime, "in", r.RemindTime.Sub(now).Round(time.Second))
			res.Skipped++
			continue
		}

		// Marked before sending: a send that fails client-side may
		// still have reached the user, so a duplicate row must not
		// trigger a second attempt this tick.
		processed[r.ID] = true
		sendErr := p.deliver(ctx, r)
		switch {
		case sendErr == nil:
		case errors.Is(sendErr, chat.ErrNotFound):
			// Retrying cannot help; complete it so it stops coming back.
			log.Warn("reminder recipient not found", "error", sendErr)
			res.Failed++
		default:
			log.Error("failed to deliver reminder", "error", sendErr)
			res.Failed++
			continue
		}

		if err := p.store.CompleteReminder(ctx, r.ID); err != nil {
			log.Error("failed to complete reminder", "error", err)
		}
		if sendErr == nil {
			res.Delivered++
			log.Info("reminder delivered", "remind_time", r.RemindTime.In(p.loc))
		}
	}

	return res, nil
}

// Run is Poll as a JobFunc.
func (p *ReminderPoller) Run(ctx context.Context, now time.Time) error {
	res, err := p.Poll(ctx, now)
	if err != nil {
		return err
	}
	if res.Delivered > 0 || res.Failed > 0 {
		p.logger.Info("reminder poll finished",
			"fetched", res.Fetched,
			"delivered", res.Delivered,
			"failed", res.Failed,
			"skipped", res.Skipped,
		)
	}
	return nil
}

// deliver sends one reminder. Room reminders mention the user who set
// them; if the user is no longer a member, the name is appended to
// the text instead.
func (p *ReminderPoller) deliver(ctx context.Context, r persistence.Reminder) error {
	text := "提醒：" + r.Content

	room, isRoom, _ := chat.ParseKey(r.ChatID)
	if !isRoom {
		return p.out.SendToUser(ctx, r.UserName, text)
	}

	err := p.out.SendToRoom(ctx, room, text, r.UserName)
	if chat.IsMissingMember(err) {
		return p.out.SendToRoom(ctx, room, fmt.Sprintf("%s (发送给 %s)", text, r.UserName), "")
	}
	return err
}
