package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Roles stored in chat history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// HistoryEntry is one stored chat turn. The service returns only role
// and content when listing history.
type HistoryEntry struct {
	ChatID    string    `json:"chat_id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"-"`
}

// Reminder is a scheduled reminder as stored by the service.
type Reminder struct {
	ID         int64
	ChatID     string
	Content    string
	RemindTime time.Time
	UserName   string
	Completed  bool
}

// reminderWire is the service's JSON shape. SQLite hands back
// is_completed as 0/1 and remind_time in whatever form it was written.
type reminderWire struct {
	ID          int64    `json:"id"`
	ChatID      string   `json:"chat_id"`
	Content     string   `json:"content"`
	RemindTime  string   `json:"remind_time"`
	UserName    string   `json:"user_name"`
	IsCompleted flexBool `json:"is_completed"`
}

// AccountBalance is the latest recorded balance of one account.
type AccountBalance struct {
	AccountName string          `json:"account_name"`
	Balance     decimal.Decimal `json:"balance"`
}

// Article is the digest source item. Every field may be empty.
type Article struct {
	Title       string `json:"title,omitempty"`
	Summary     string `json:"summary,omitempty"`
	URL         string `json:"url,omitempty"`
	PublishTime string `json:"publish_time,omitempty"`
}

// statusResponse is the envelope the service returns from writes.
type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Service write statuses.
const (
	statusSuccess = "success"
	statusIgnored = "ignored"
	statusError   = "error"
)

// ErrPersistence is the class of all persistence service failures.
var ErrPersistence = errors.New("persistence error")

// StatusError is returned when the service answers with a non-2xx
// status or reports status "error" in its body.
type StatusError struct {
	Path    string
	Code    int
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("persistence %s: status %d: %s", e.Path, e.Code, e.Message)
}

// Unwrap places StatusError in the ErrPersistence class.
func (e *StatusError) Unwrap() error { return ErrPersistence }

// flexBool decodes JSON booleans, 0/1 numbers and their string forms.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	switch strings.ToLower(s) {
	case "", "null":
		*b = false
		return nil
	}
	if v, err := strconv.ParseBool(s); err == nil {
		*b = flexBool(v)
		return nil
	}
	return fmt.Errorf("invalid boolean %s", data)
}

// Zone-less forms the service may return, read in the client's location.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
}

// parseTime parses a stored timestamp. Zoned values keep their offset.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// decodeReminders converts wire reminders, dropping any whose time
// cannot be parsed.
func decodeReminders(raw []json.RawMessage, loc *time.Location) ([]Reminder, []error) {
	out := make([]Reminder, 0, len(raw))
	var errs []error
	for _, r := range raw {
		var w reminderWire
		if err := json.Unmarshal(r, &w); err != nil {
			errs = append(errs, err)
			continue
		}
		t, err := parseTime(w.RemindTime, loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("reminder %d: %w", w.ID, err))
			continue
		}
		out = append(out, Reminder{
			ID:         w.ID,
			ChatID:     w.ChatID,
			Content:    w.Content,
			RemindTime: t,
			UserName:   w.UserName,
			Completed:  bool(w.IsCompleted),
		})
	}
	return out, errs
}
