package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/hayden/internal/httpkit"
)

// OllamaClient is a client for the Ollama chat API. It streams
// newline-delimited JSON and accumulates the reply like the Spark
// client does.
type OllamaClient struct {
	baseURL     string
	model       string
	temperature float64
	budget      int
	httpClient  *http.Client
	logger      *slog.Logger
}

// OllamaConfig configures an OllamaClient.
type OllamaConfig struct {
	URL         string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Budget      int
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(cfg OllamaConfig, logger *slog.Logger) *OllamaClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	return &OllamaClient{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		budget:      cfg.Budget,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(cfg.Timeout),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger.With("provider", "ollama"),
	}
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
}

type ollamaChunk struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`

	EvalCount       int `json:"eval_count,omitempty"`
	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
}

// Chat sends a streaming chat request and returns the accumulated reply.
func (c *OllamaClient) Chat(ctx context.Context, req Request) (string, error) {
	turns := TrimToBudget(req.Turns(), c.budget)

	body := ollamaRequest{
		Model:    c.model,
		Messages: turns,
		Stream:   true,
	}
	if c.temperature > 0 {
		body.Options = &ollamaOptions{Temperature: c.temperature}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Log(ctx, LevelTrace, "ollama request", "chat_id", req.ChatID, "body", string(jsonData))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: API error %d: %s", ErrTransport, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 1024))
	}

	var sb strings.Builder
	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaChunk
		if err := decoder.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return "", ErrIncomplete
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return "", ErrTimeout
			}
			return "", fmt.Errorf("%w: decode stream chunk: %w", ErrTransport, err)
		}
		if chunk.Error != "" {
			return "", &APIError{Message: chunk.Error}
		}

		sb.WriteString(chunk.Message.Content)

		if chunk.Done {
			c.logger.Debug("ollama request complete",
				"chat_id", req.ChatID,
				"model", chunk.Model,
				"input_tokens", chunk.PromptEvalCount,
				"output_tokens", chunk.EvalCount,
			)
			return sb.String(), nil
		}
	}
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: API error %d", ErrTransport, resp.StatusCode)
	}
	return nil
}
