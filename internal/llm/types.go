// Package llm provides the language-model clients Hayden talks to: the
// iFlytek Spark streaming websocket client and an Ollama HTTP client.
// Both present the same single-shot [Client] contract.
package llm

import (
	"errors"
	"fmt"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Roles used in conversation turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single chat-completion request.
type Request struct {
	// ChatID identifies the conversation for logging.
	ChatID string
	// System is the optional system prompt.
	System string
	// History holds prior turns, oldest first.
	History []Message
	// User is the new user turn.
	User string
}

// Turns flattens the request into the ordered turn list: system (if
// any), history, then the new user turn.
func (r Request) Turns() []Message {
	turns := make([]Message, 0, len(r.History)+2)
	if r.System != "" {
		turns = append(turns, Message{Role: RoleSystem, Content: r.System})
	}
	turns = append(turns, r.History...)
	return append(turns, Message{Role: RoleUser, Content: r.User})
}

// ErrTransport is the class of all model connection failures: dial
// errors, server-reported errors, timeouts and truncated responses.
var ErrTransport = errors.New("model transport error")

var (
	// ErrIncomplete means the connection closed before the server
	// signalled the final chunk.
	ErrIncomplete = fmt.Errorf("%w: response was not complete", ErrTransport)

	// ErrTimeout means no complete response arrived within the
	// configured timeout.
	ErrTimeout = fmt.Errorf("%w: timed out waiting for response", ErrTransport)
)

// APIError is an error reported by the model server inside a response
// frame.
type APIError struct {
	Code    int
	Message string
	SID     string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("model API error %d: %s", e.Code, e.Message)
}

// Unwrap places APIError in the ErrTransport class.
func (e *APIError) Unwrap() error { return ErrTransport }
