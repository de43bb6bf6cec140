package signal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// ErrExited is returned for calls that were pending, or issued, after
// the signal-cli process went away.
var ErrExited = errors.New("signal-cli exited")

// mentionPlaceholder is the character a mention replaces in message
// text. signal-cli offsets are in UTF-16 units and it is one unit.
const mentionPlaceholder = "\uFFFC"

// closeGrace is how long Close waits for signal-cli to exit on its own
// before killing it.
const closeGrace = 5 * time.Second

// rpcError is a JSON-RPC error returned by signal-cli.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("signal-cli rpc error %d: %s", e.Code, e.Message)
}

// rpcLine is any line signal-cli writes: a response when ID is set,
// otherwise a notification.
type rpcLine struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcResult struct {
	raw json.RawMessage
	err error
}

// Target is where an outgoing message goes: a contact's number or
// UUID, or a group ID. Exactly one is set.
type Target struct {
	Recipient string
	GroupID   string
}

// Outgoing is one message to send. When Mention names a recipient the
// text is prefixed with a mention of them; mentions only work in
// groups.
type Outgoing struct {
	To      Target
	Text    string
	Mention string
}

// sendParams is the "send" request for both direct and group messages.
type sendParams struct {
	Recipient []string `json:"recipient,omitempty"`
	GroupID   string   `json:"groupId,omitempty"`
	Message   string   `json:"message"`
	Mention   []string `json:"mention,omitempty"`
}

func (o Outgoing) params() (sendParams, error) {
	p := sendParams{Message: o.Text}
	switch {
	case o.To.GroupID != "" && o.To.Recipient != "":
		return p, errors.New("signal send: target has both recipient and group")
	case o.To.GroupID != "":
		p.GroupID = o.To.GroupID
	case o.To.Recipient != "":
		p.Recipient = []string{o.To.Recipient}
	default:
		return p, errors.New("signal send: empty target")
	}

	if o.Mention != "" {
		if p.GroupID == "" {
			return p, errors.New("signal send: mentions need a group")
		}
		p.Message = mentionPlaceholder + " " + o.Text
		p.Mention = []string{"0:1:" + o.Mention}
	}
	return p, nil
}

type receiptParams struct {
	Recipient       string `json:"recipient"`
	TargetTimestamp int64  `json:"targetTimestamp"`
	Type            string `json:"type"`
}

type typingParams struct {
	Recipient string `json:"recipient"`
	Stop      bool   `json:"stop,omitempty"`
}

// Client drives one signal-cli process in jsonRpc mode. Requests are
// matched to responses by id; received data messages are queued on
// Messages.
type Client struct {
	command string
	args    []string
	logger  *slog.Logger

	cmd     *exec.Cmd
	exitErr chan error // cmd.Wait result, sent once

	nextID  atomic.Int64
	mu      sync.Mutex // guards w and pending
	w       io.WriteCloser
	pending map[int64]chan rpcResult

	messages chan *Envelope
	done     chan struct{} // closed when the read loop ends
}

// NewClient returns a client for the given signal-cli command line.
// Nothing runs until Start.
func NewClient(command string, args []string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		command:  command,
		args:     args,
		logger:   logger,
		exitErr:  make(chan error, 1),
		pending:  make(map[int64]chan rpcResult),
		messages: make(chan *Envelope, 64),
		done:     make(chan struct{}),
	}
}

// Start launches signal-cli. It must be called once.
func (c *Client) Start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.command, c.args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("signal-cli stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("signal-cli stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("signal-cli stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start signal-cli: %w", err)
	}
	c.cmd = cmd
	c.logger.Info("signal-cli started", "command", c.command, "args", c.args, "pid", cmd.Process.Pid)

	go c.logStderr(stderr)
	go func() {
		err := cmd.Wait()
		c.logger.Info("signal-cli exited", "error", err)
		c.exitErr <- err
	}()
	c.attach(stdin, stdout)
	return nil
}

// attach starts talking JSON-RPC over w and r.
func (c *Client) attach(w io.WriteCloser, r io.Reader) {
	c.mu.Lock()
	c.w = w
	c.mu.Unlock()
	go c.readLoop(bufio.NewReaderSize(r, 1<<20))
}

// Messages delivers received data messages. It is closed when
// signal-cli exits.
func (c *Client) Messages() <-chan *Envelope {
	return c.messages
}

// Send delivers one message and returns its Signal timestamp.
func (c *Client) Send(ctx context.Context, out Outgoing) (int64, error) {
	p, err := out.params()
	if err != nil {
		return 0, err
	}
	res, err := invoke[struct {
		Timestamp int64 `json:"timestamp"`
	}](ctx, c, "send", p)
	if err != nil {
		return 0, fmt.Errorf("signal send: %w", err)
	}
	return res.Timestamp, nil
}

// Directory returns the account's groups, with members, and contacts.
func (c *Client) Directory(ctx context.Context) ([]Group, []Contact, error) {
	groups, err := invoke[[]Group](ctx, c, "listGroups", struct {
		Detailed bool `json:"detailed"`
	}{true})
	if err != nil {
		return nil, nil, fmt.Errorf("signal listGroups: %w", err)
	}
	contacts, err := invoke[[]Contact](ctx, c, "listContacts", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("signal listContacts: %w", err)
	}
	return groups, contacts, nil
}

// MarkRead sends a read receipt for the message sent at timestamp.
func (c *Client) MarkRead(ctx context.Context, recipient string, timestamp int64) error {
	_, err := invoke[json.RawMessage](ctx, c, "sendReceipt", receiptParams{
		Recipient:       recipient,
		TargetTimestamp: timestamp,
		Type:            "read",
	})
	if err != nil {
		return fmt.Errorf("signal sendReceipt: %w", err)
	}
	return nil
}

// Typing shows or clears the typing indicator in a direct chat.
func (c *Client) Typing(ctx context.Context, recipient string, typing bool) error {
	_, err := invoke[json.RawMessage](ctx, c, "sendTyping", typingParams{Recipient: recipient, Stop: !typing})
	if err != nil {
		return fmt.Errorf("signal sendTyping: %w", err)
	}
	return nil
}

// Ping asks signal-cli for its version. It backs the health check.
func (c *Client) Ping(ctx context.Context) error {
	_, err := invoke[json.RawMessage](ctx, c, "version", nil)
	return err
}

// Close ends the session by closing signal-cli's stdin, killing the
// process if it has not exited within closeGrace.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.w != nil {
		c.w.Close()
	}
	c.mu.Unlock()

	if c.cmd == nil {
		return nil
	}
	select {
	case err := <-c.exitErr:
		return err
	case <-time.After(closeGrace):
		c.logger.Warn("signal-cli still running, killing", "pid", c.cmd.Process.Pid)
		_ = c.cmd.Process.Kill()
		<-c.exitErr
		return nil
	}
}

// invoke performs one call and decodes its result into T.
func invoke[T any](ctx context.Context, c *Client, method string, params any) (T, error) {
	var out T
	raw, err := c.call(ctx, method, params)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", method, err)
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-c.done:
		return nil, ErrExited
	default:
	}

	id := c.nextID.Add(1)
	line, err := json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int64  `json:"id"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{"2.0", id, method, params})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	ch := make(chan rpcResult, 1)
	c.mu.Lock()
	if c.w == nil {
		c.mu.Unlock()
		return nil, errors.New("signal-cli not started")
	}
	c.pending[id] = ch
	_, err = c.w.Write(append(line, '\n'))
	if err != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	select {
	case res := <-ch:
		return res.raw, res.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		c.forget(id)
		return nil, ErrExited
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop(r *bufio.Reader) {
	defer close(c.done)
	defer close(c.messages)
	defer c.failPending()

	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			c.route(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				c.logger.Error("signal-cli read failed", "error", err)
			}
			return
		}
	}
}

// route hands a response to its waiting caller, or queues a received
// data message.
func (c *Client) route(line []byte) {
	var msg rpcLine
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Debug("signal-cli non-JSON output", "line", string(line))
		return
	}

	if msg.ID != nil {
		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		delete(c.pending, *msg.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("signal-cli response nobody is waiting for", "id", *msg.ID)
			return
		}
		res := rpcResult{raw: msg.Result}
		if msg.Error != nil {
			res.err = msg.Error
		}
		ch <- res
		return
	}

	if msg.Method != "receive" {
		c.logger.Debug("signal-cli notification ignored", "method", msg.Method)
		return
	}
	var n struct {
		Envelope Envelope `json:"envelope"`
	}
	if err := json.Unmarshal(msg.Params, &n); err != nil {
		c.logger.Warn("signal-cli receive notification malformed", "error", err)
		return
	}
	// Receipts, typing and sync events carry nothing to answer.
	if n.Envelope.DataMessage == nil {
		return
	}
	select {
	case c.messages <- &n.Envelope:
	default:
		c.logger.Warn("signal inbound queue full, dropping message", "sender", n.Envelope.Source)
	}
}

func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- rpcResult{err: ErrExited}
		delete(c.pending, id)
	}
}

func (c *Client) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for sc.Scan() {
		c.logger.Debug("signal-cli stderr", "line", sc.Text())
	}
}
