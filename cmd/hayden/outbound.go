package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/hayden/internal/chat"
	"github.com/nugget/hayden/internal/config"
	sigcli "github.com/nugget/hayden/internal/signal"
)

// logTransport stands in for the chat transport when Signal is
// disabled. Outbound messages are logged and dropped.
type logTransport struct {
	logger *slog.Logger
}

func (t logTransport) SendToUser(_ context.Context, name, text string) error {
	t.logger.Info("outbound message (no transport)", "user", name, "text", text)
	return nil
}

func (t logTransport) SendToRoom(_ context.Context, room, text, mention string) error {
	t.logger.Info("outbound message (no transport)", "room", room, "mention", mention, "text", text)
	return nil
}

// signalArgs returns the signal-cli arguments, defaulting to JSON-RPC
// mode on stdio for the configured account.
func signalArgs(cfg config.SignalConfig) []string {
	if len(cfg.Args) > 0 {
		return cfg.Args
	}
	return []string{"-a", cfg.Account, "jsonRpc"}
}

// outbound is the chat transport plus the Signal pieces behind it, if
// any.
type outbound struct {
	transport chat.Transport
	client    *sigcli.Client
	directory *sigcli.Transport
}

// Close stops the signal-cli subprocess, if one was started.
func (o *outbound) Close() error {
	if o.client == nil {
		return nil
	}
	return o.client.Close()
}

// newOutbound starts signal-cli when enabled and wraps its transport in
// the chunking decorator. With Signal disabled, messages are logged.
func newOutbound(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*outbound, error) {
	if !cfg.Signal.Enabled {
		logger.Warn("signal disabled, outbound messages will only be logged")
		return &outbound{transport: logTransport{logger: logger.With("component", "outbound")}}, nil
	}

	client := sigcli.NewClient(cfg.Signal.Command, signalArgs(cfg.Signal), logger.With("component", "signal"))
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("start signal-cli: %w", err)
	}
	directory := sigcli.NewTransport(client, logger.With("component", "signal"))
	return &outbound{
		transport: chat.Chunked(directory, chat.DefaultChunkSize),
		client:    client,
		directory: directory,
	}, nil
}
