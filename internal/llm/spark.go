package llm

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// sparkStatusLast marks the final frame of a Spark response.
const sparkStatusLast = 2

// SparkConfig configures a SparkClient.
type SparkConfig struct {
	// URL is the websocket endpoint, e.g. wss://spark-api.xf-yun.com/v4.0/chat.
	URL       string
	AppID     string
	APIKey    string
	APISecret string

	Domain      string
	Temperature float64
	MaxTokens   int

	// Timeout bounds one Chat call from dial to final frame.
	Timeout time.Duration
	// CloseGrace is the pause between the final frame and closing the
	// connection, giving the close handshake time to settle.
	CloseGrace time.Duration
	// Budget is the context budget in characters; zero means DefaultBudget.
	Budget int
}

// SparkClient talks to the iFlytek Spark chat API over a signed
// websocket. Each Chat call opens its own connection.
type SparkClient struct {
	cfg    SparkConfig
	dialer *websocket.Dialer
	logger *slog.Logger
	now    func() time.Time
}

// NewSparkClient creates a Spark client.
func NewSparkClient(cfg SparkConfig, logger *slog.Logger) *SparkClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &SparkClient{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   64 * 1024,
		},
		logger: logger.With("provider", "spark"),
		now:    time.Now,
	}
}

// Spark wire types.

type sparkRequest struct {
	Header struct {
		AppID string `json:"app_id"`
		UID   string `json:"uid"`
	} `json:"header"`
	Parameter struct {
		Chat sparkChatParams `json:"chat"`
	} `json:"parameter"`
	Payload struct {
		Message struct {
			Text []Message `json:"text"`
		} `json:"message"`
	} `json:"payload"`
}

type sparkChatParams struct {
	Domain      string  `json:"domain"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type sparkFrame struct {
	Header struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		SID     string `json:"sid"`
		Status  int    `json:"status"`
	} `json:"header"`
	Payload struct {
		Choices struct {
			Status int `json:"status"`
			Seq    int `json:"seq"`
			Text   []struct {
				Content string `json:"content"`
				Role    string `json:"role"`
				Index   int    `json:"index"`
			} `json:"text"`
		} `json:"choices"`
	} `json:"payload"`
}

// SignURL builds the authenticated websocket URL. The signature is an
// HMAC-SHA256 over the host, the RFC 1123 date and the request line,
// keyed by the API secret.
func (c *SparkClient) SignURL(now time.Time) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse spark url: %w", err)
	}

	date := now.UTC().Format(http.TimeFormat)
	origin := fmt.Sprintf("host: %s\ndate: %s\nGET %s HTTP/1.1", u.Host, date, u.Path)

	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(origin))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	authOrigin := fmt.Sprintf(`api_key="%s", algorithm="hmac-sha256", headers="host date request-line", signature="%s"`,
		c.cfg.APIKey, signature)

	q := url.Values{}
	q.Set("authorization", base64.StdEncoding.EncodeToString([]byte(authOrigin)))
	q.Set("date", date)
	q.Set("host", u.Host)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connState tracks one Chat call's connection lifecycle.
type connState int

const (
	stateConnecting connState = iota
	stateAuthenticated
	stateStreaming
	stateComplete
	stateFailed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthenticated:
		return "authenticated"
	case stateStreaming:
		return "streaming"
	case stateComplete:
		return "complete"
	default:
		return "failed"
	}
}

// exchange is the state of a single request/response cycle.
type exchange struct {
	id     string
	state  connState
	conn   *websocket.Conn
	text   strings.Builder
	chunks int
	logger *slog.Logger
}

func (x *exchange) transition(to connState) {
	x.logger.Log(context.Background(), LevelTrace, "spark state",
		"from", x.state.String(),
		"to", to.String(),
	)
	x.state = to
}

// Chat sends one request and blocks until the full reply has streamed
// in, the server reports an error, the connection drops, or the
// timeout fires.
func (c *SparkClient) Chat(ctx context.Context, req Request) (string, error) {
	x := &exchange{id: uuid.NewString()}
	x.logger = c.logger.With("request_id", x.id, "chat_id", req.ChatID)

	turns := req.Turns()
	before := len(turns)
	turns = TrimToBudget(turns, c.cfg.Budget)
	if len(turns) != before {
		x.logger.Debug("trimmed history to budget",
			"dropped", before-len(turns),
			"length", ContentLength(turns),
		)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	text, err := c.run(ctx, x, turns)
	if err != nil {
		x.transition(stateFailed)
		x.logger.Warn("spark request failed", "error", err, "chunks", x.chunks)
		return "", err
	}

	x.logger.Debug("spark request complete", "chunks", x.chunks, "response_len", len(text))
	return text, nil
}

func (c *SparkClient) run(ctx context.Context, x *exchange, turns []Message) (string, error) {
	signed, err := c.SignURL(c.now())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}

	conn, resp, err := c.dialer.DialContext(ctx, signed, nil)
	if err != nil {
		if resp != nil {
			return "", fmt.Errorf("%w: handshake rejected: %s", ErrTransport, resp.Status)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: dial: %w", ErrTransport, err)
	}
	x.conn = conn
	defer conn.Close()
	x.transition(stateAuthenticated)

	// Closing the connection unblocks the read loop when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(c.buildRequest(x.id, turns)); err != nil {
		return "", c.readFailure(ctx, fmt.Errorf("send request: %w", err))
	}
	x.transition(stateStreaming)

	for {
		var frame sparkFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return "", c.readFailure(ctx, err)
		}
		x.logger.Log(ctx, LevelTrace, "spark frame",
			"code", frame.Header.Code,
			"status", frame.Header.Status,
			"seq", frame.Payload.Choices.Seq,
		)

		if frame.Header.Code != 0 {
			return "", &APIError{Code: frame.Header.Code, Message: frame.Header.Message, SID: frame.Header.SID}
		}

		if len(frame.Payload.Choices.Text) > 0 {
			x.text.WriteString(frame.Payload.Choices.Text[0].Content)
			x.chunks++
		}

		if frame.Header.Status == sparkStatusLast {
			x.transition(stateComplete)
			c.closeGracefully(ctx, conn)
			return x.text.String(), nil
		}
	}
}

// readFailure classifies an error seen before the final frame.
func (c *SparkClient) readFailure(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ErrTimeout
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrIncomplete
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// closeGracefully waits out the grace period, then sends a normal
// close frame. The deferred Close in run tears down the socket.
func (c *SparkClient) closeGracefully(ctx context.Context, conn *websocket.Conn) {
	if c.cfg.CloseGrace > 0 {
		timer := time.NewTimer(c.cfg.CloseGrace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (c *SparkClient) buildRequest(id string, turns []Message) *sparkRequest {
	var r sparkRequest
	r.Header.AppID = c.cfg.AppID
	// Spark caps uid at 32 characters.
	r.Header.UID = strings.ReplaceAll(id, "-", "")
	r.Parameter.Chat = sparkChatParams{
		Domain:      c.cfg.Domain,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	r.Payload.Message.Text = turns
	return &r
}
