// Package persistence is the client for the Hayden persistence service,
// the HTTP service that stores chat history, reminders, account
// balances, and serves the latest digest article.
package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nugget/hayden/internal/httpkit"
)

// Client is a persistence service client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	loc        *time.Location
	logger     *slog.Logger
}

// NewClient creates a persistence client. baseURL includes the /api
// prefix, e.g. http://localhost:5000/api. loc is used for stored
// timestamps that carry no zone.
func NewClient(baseURL string, timeout time.Duration, loc *time.Location, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		loc:    loc,
		logger: logger,
	}
}

// SaveMessage appends one turn to a chat's history. The service
// silently ignores chats outside its own whitelist.
func (c *Client) SaveMessage(ctx context.Context, chatID, role, content string) error {
	body := map[string]string{"chat_id": chatID, "role": role, "content": content}
	var resp statusResponse
	if err := c.post(ctx, "/chat_history", body, &resp); err != nil {
		return err
	}
	if resp.Status == statusIgnored {
		c.logger.Debug("history write ignored by service", "chat_id", chatID, "message", resp.Message)
	}
	return checkStatus("/chat_history", resp, false)
}

// RecentMessages returns the chat's recent history, oldest first.
func (c *Client) RecentMessages(ctx context.Context, chatID string) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	if err := c.get(ctx, "/chat_history/"+url.PathEscape(chatID), nil, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].ChatID = chatID
	}
	return entries, nil
}

// SaveReminder stores a new reminder. Anything other than status
// "success" is an error.
func (c *Client) SaveReminder(ctx context.Context, chatID, content string, remindTime time.Time, userName string) error {
	body := map[string]string{
		"chat_id":     chatID,
		"content":     content,
		"remind_time": remindTime.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		"user_name":   userName,
	}
	var resp statusResponse
	if err := c.post(ctx, "/reminders", body, &resp); err != nil {
		return err
	}
	return checkStatus("/reminders", resp, true)
}

// DueReminders returns the not-yet-completed reminders the service
// considers due. Rows with unreadable times are logged and skipped.
func (c *Client) DueReminders(ctx context.Context) ([]Reminder, error) {
	var raw []json.RawMessage
	if err := c.get(ctx, "/reminders/check", nil, &raw); err != nil {
		return nil, err
	}
	reminders, errs := decodeReminders(raw, c.loc)
	for _, err := range errs {
		c.logger.Warn("skipping malformed reminder", "error", err)
	}
	return reminders, nil
}

// CompleteReminder marks a reminder as delivered.
func (c *Client) CompleteReminder(ctx context.Context, id int64) error {
	var resp statusResponse
	if err := c.post(ctx, "/reminders/complete", map[string]int64{"id": id}, &resp); err != nil {
		return err
	}
	return checkStatus("/reminders/complete", resp, false)
}

// SaveAccount records a signed balance for one account.
func (c *Client) SaveAccount(ctx context.Context, chatID, userName, accountName string, balance decimal.Decimal) error {
	body := map[string]any{
		"chat_id":      chatID,
		"user_name":    userName,
		"account_name": accountName,
		"balance":      json.Number(balance.StringFixed(2)),
	}
	var resp statusResponse
	if err := c.post(ctx, "/accounts", body, &resp); err != nil {
		return err
	}
	return checkStatus("/accounts", resp, false)
}

// NetWorth returns the sum of the user's recorded balances in a chat.
func (c *Client) NetWorth(ctx context.Context, chatID, userName string) (decimal.Decimal, error) {
	var resp struct {
		NetWorth decimal.NullDecimal `json:"net_worth"`
	}
	if err := c.get(ctx, "/accounts/net-worth", accountQuery(chatID, userName), &resp); err != nil {
		return decimal.Zero, err
	}
	if !resp.NetWorth.Valid {
		return decimal.Zero, nil
	}
	return resp.NetWorth.Decimal, nil
}

// LatestBalances returns the most recent balance of each account.
func (c *Client) LatestBalances(ctx context.Context, chatID, userName string) ([]AccountBalance, error) {
	var resp struct {
		Balances []AccountBalance `json:"balances"`
	}
	if err := c.get(ctx, "/accounts/latest-balances", accountQuery(chatID, userName), &resp); err != nil {
		return nil, err
	}
	return resp.Balances, nil
}

// LatestArticle returns the newest digest article, or nil when the
// service has none (404).
func (c *Client) LatestArticle(ctx context.Context) (*Article, error) {
	var a Article
	err := c.get(ctx, "/latest-article", nil, &a)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a == (Article{}) {
		return nil, nil
	}
	return &a, nil
}

func accountQuery(chatID, userName string) url.Values {
	q := url.Values{}
	q.Set("chat_id", chatID)
	q.Set("user_name", userName)
	return q
}

// checkStatus validates a write envelope. An empty status passes
// unless strict is set.
func checkStatus(path string, resp statusResponse, strict bool) error {
	switch resp.Status {
	case statusSuccess, statusIgnored:
		return nil
	case "":
		if !strict {
			return nil
		}
	}
	msg := resp.Message
	if msg == "" {
		msg = fmt.Sprintf("unexpected status %q", resp.Status)
	}
	return &StatusError{Path: path, Code: http.StatusOK, Message: msg}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrPersistence, err)
	}
	return c.do(req, path, result)
}

func (c *Client) post(ctx context.Context, path string, data any, result any) error {
	reqBody, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: marshal data: %w", ErrPersistence, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrPersistence, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, result)
}

func (c *Client) do(req *http.Request, path string, result any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request %s: %w", ErrPersistence, path, err)
	}
	// Drain and close to ensure connection reuse even when result is nil.
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Path: path, Code: resp.StatusCode, Message: httpkit.ReadErrorBody(resp.Body, 512)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: decode %s: %w", ErrPersistence, path, err)
		}
	}
	return nil
}
