package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/hayden/internal/chat"
	"github.com/nugget/hayden/internal/persistence"
	"github.com/nugget/hayden/internal/workday"
)

// ArticleSource supplies the newest digest article. A nil article with
// a nil error means there is nothing to send today.
type ArticleSource interface {
	LatestArticle(ctx context.Context) (*persistence.Article, error)
}

// DigestJob sends the latest article to the configured recipients on
// working days.
type DigestJob struct {
	source   ArticleSource
	out      chat.Transport
	calendar *workday.Calendar
	users    []string
	rooms    []string
	logger   *slog.Logger
}

// NewDigestJob creates a digest job. A nil calendar treats every
// weekday as a working day.
func NewDigestJob(source ArticleSource, out chat.Transport, calendar *workday.Calendar, users, rooms []string, logger *slog.Logger) *DigestJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &DigestJob{
		source:   source,
		out:      out,
		calendar: calendar,
		users:    users,
		rooms:    rooms,
		logger:   logger,
	}
}

// Run sends today's digest. Recipients that cannot be found are
// logged and skipped; other send failures are returned joined.
func (d *DigestJob) Run(ctx context.Context, now time.Time) error {
	if !d.calendar.IsWorkday(now) {
		d.logger.Info("not a workday, skipping digest", "date", now.Format(time.DateOnly))
		return nil
	}
	if len(d.users) == 0 && len(d.rooms) == 0 {
		d.logger.Warn("digest has no target users or rooms configured")
		return nil
	}

	article, err := d.source.LatestArticle(ctx)
	if err != nil {
		return fmt.Errorf("fetch latest article: %w", err)
	}
	if article == nil {
		d.logger.Info("no article available, skipping digest")
		return nil
	}

	text := FormatArticle(*article)
	if text == "" {
		d.logger.Info("article has no content, skipping digest")
		return nil
	}

	var errs []error
	sent := 0
	for _, user := range d.users {
		if err := d.out.SendToUser(ctx, user, text); err != nil {
			errs = d.sendFailed(errs, "user", user, err)
			continue
		}
		sent++
	}
	for _, room := range d.rooms {
		if err := d.out.SendToRoom(ctx, room, text, ""); err != nil {
			errs = d.sendFailed(errs, "room", room, err)
			continue
		}
		sent++
	}

	d.logger.Info("digest sent", "title", article.Title, "recipients", sent)
	return errors.Join(errs...)
}

func (d *DigestJob) sendFailed(errs []error, kind, name string, err error) []error {
	if errors.Is(err, chat.ErrNotFound) {
		d.logger.Warn("digest recipient not found", kind, name)
		return errs
	}
	d.logger.Error("failed to send digest", kind, name, "error", err)
	return append(errs, fmt.Errorf("send digest to %s %s: %w", kind, name, err))
}

// FormatArticle renders the digest message. Empty fields are left out.
func FormatArticle(a persistence.Article) string {
	var parts []string
	if a.Title != "" {
		parts = append(parts, a.Title)
	}
	if a.Summary != "" {
		parts = append(parts, "摘要："+a.Summary)
	}
	if a.URL != "" {
		parts = append(parts, "阅读全文："+a.URL)
	}
	if a.PublishTime != "" {
		parts = append(parts, "发布时间："+a.PublishTime)
	}
	return strings.Join(parts, "\n\n")
}
