package intent

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultNormalReply is used for a normal intent that carries no text.
const DefaultNormalReply = "好的，我已经理解了您的意图。"

// LocalTimeLayout renders reminder times for chat replies.
const LocalTimeLayout = "2006/1/2 15:04:05"

// Zone-less layouts, interpreted in the caller's location.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

type envelope struct {
	Intent  string          `json:"intent"`
	Details json.RawMessage `json:"details"`
}

type reminderDetails struct {
	Content string `json:"content"`
	Time    string `json:"time"`
}

type normalDetails struct {
	Response string `json:"response"`
}

// ParseIntent decodes raw model text. The text, after fences are
// stripped, must begin with a JSON object carrying an "intent" field.
// Errors wrap ErrParse or ErrValidation.
func ParseIntent(raw string, now time.Time, loc *time.Location) (Intent, error) {
	cleaned := StripFences(raw)

	obj, rest, ok := LeadingObject(cleaned)
	if !ok {
		return Intent{}, fmt.Errorf("%w: no leading JSON object", ErrParse)
	}

	var env envelope
	if err := json.Unmarshal([]byte(obj), &env); err != nil {
		return Intent{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if env.Intent == "" {
		return Intent{}, fmt.Errorf("%w: missing intent field", ErrParse)
	}

	in := Intent{Kind: Kind(env.Intent), Raw: raw}
	switch in.Kind {
	case KindReminder:
		// Rejected reminders keep their kind so callers can answer
		// them as a failed reminder rather than as chat.
		failed := Intent{Kind: KindReminder, Raw: raw}
		var d reminderDetails
		if err := decodeDetails(env.Details, &d); err != nil {
			return failed, err
		}
		due, err := ParseTime(d.Time, loc)
		if err != nil {
			return failed, err
		}
		if !due.After(now) {
			return failed, fmt.Errorf("%w: reminder time %s is not in the future", ErrValidation, due.In(loc).Format(LocalTimeLayout))
		}
		if strings.TrimSpace(d.Content) == "" {
			return failed, fmt.Errorf("%w: reminder has no content", ErrValidation)
		}
		in.Reminder = &Reminder{Content: d.Content, Due: due}
		in.Reply = ReminderReply(d.Content, due, now, loc)

	case KindBookkeeping, KindAssetQuery:

	default:
		var d normalDetails
		// A malformed details object still leaves the trailing text usable.
		_ = decodeDetails(env.Details, &d)
		in.Kind = KindNormal
		switch {
		case strings.TrimSpace(rest) != "":
			in.Reply = strings.TrimSpace(rest)
		case d.Response != "":
			in.Reply = d.Response
		default:
			in.Reply = DefaultNormalReply
		}
	}
	return in, nil
}

// Decide is ParseIntent that cannot fail. A reminder ParseIntent
// rejects stays KindReminder with no Reminder attached; anything else
// it rejects becomes a normal intent whose reply is Fallback(raw).
func Decide(raw string, now time.Time, loc *time.Location) Intent {
	in, err := ParseIntent(raw, now, loc)
	if err != nil {
		return rejected(in, raw)
	}
	return in
}

func rejected(in Intent, raw string) Intent {
	if in.Kind == KindReminder {
		return Intent{Kind: KindReminder, Raw: raw}
	}
	return Intent{Kind: KindNormal, Reply: Fallback(raw), Raw: raw}
}

func decodeDetails(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: details: %w", ErrValidation, err)
	}
	return nil
}

// ParseTime parses a reminder time. Zoned forms (RFC 3339) keep their
// offset; zone-less forms are read as wall-clock time in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: reminder time missing", ErrValidation)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid reminder time %q", ErrValidation, s)
}

// Delay renders the gap between now and due as a relative phrase:
// minutes under an hour, hours under a day, days beyond that, each
// rounded half away from zero. A due time already past reads "立即".
func Delay(due, now time.Time) string {
	d := due.Sub(now)
	switch {
	case d < 0:
		return "立即"
	case d < time.Hour:
		return fmt.Sprintf("%d分钟后", int(math.Round(d.Minutes())))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d小时后", int(math.Round(d.Hours())))
	default:
		return fmt.Sprintf("%d天后", int(math.Round(d.Hours()/24)))
	}
}

// ReminderReply renders the reminder confirmation.
func ReminderReply(content string, due, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return fmt.Sprintf("好的，我会在%s（%s）提醒你%s", Delay(due, now), due.In(loc).Format(LocalTimeLayout), content)
}

type accountDetails struct {
	AccountName     string              `json:"accountName"`
	Balance         decimal.NullDecimal `json:"balance"`
	IsPositiveAsset *bool               `json:"isPositiveAsset"`
}

type accountEnvelope struct {
	Intent  string          `json:"intent"`
	Details *accountDetails `json:"details"`
	accountDetails
}

// ParseAccountInfo decodes the account prompt's reply. Text outside the
// outermost braces is ignored. Both the full
// {"intent":"account_info","details":{...}} form and a bare details
// object are accepted. Balance may be a number or a numeric string and
// is rounded to two places.
func ParseAccountInfo(raw string) (AccountInfo, error) {
	cleaned := StripFences(raw)
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end < start {
		return AccountInfo{}, fmt.Errorf("%w: no JSON object in account reply", ErrParse)
	}

	var env accountEnvelope
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &env); err != nil {
		return AccountInfo{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if env.Intent != "" && env.Intent != "account_info" {
		return AccountInfo{}, fmt.Errorf("%w: unexpected intent %q", ErrValidation, env.Intent)
	}

	d := env.accountDetails
	if env.Details != nil {
		d = *env.Details
	}

	var missing []string
	if strings.TrimSpace(d.AccountName) == "" {
		missing = append(missing, "accountName")
	}
	if !d.Balance.Valid {
		missing = append(missing, "balance")
	}
	if d.IsPositiveAsset == nil {
		missing = append(missing, "isPositiveAsset")
	}
	if len(missing) > 0 {
		return AccountInfo{}, fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}

	return AccountInfo{
		AccountName:     strings.TrimSpace(d.AccountName),
		Balance:         d.Balance.Decimal.Round(2),
		IsPositiveAsset: *d.IsPositiveAsset,
	}, nil
}
