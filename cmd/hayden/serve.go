package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nugget/hayden/internal/api"
	"github.com/nugget/hayden/internal/article"
	"github.com/nugget/hayden/internal/buildinfo"
	"github.com/nugget/hayden/internal/chat"
	"github.com/nugget/hayden/internal/config"
	"github.com/nugget/hayden/internal/conversation"
	"github.com/nugget/hayden/internal/persistence"
	"github.com/nugget/hayden/internal/scheduler"
	sigcli "github.com/nugget/hayden/internal/signal"
	"github.com/nugget/hayden/internal/workday"
)

// Job names as shown in scheduler stats and the manual run endpoint.
const (
	reminderJob = "reminders"
	digestJob   = "digest"
)

// shutdownTimeout bounds draining the API server on exit.
const shutdownTimeout = 10 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat bot, scheduler and operator API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), flags.configPath)
		},
	}
}

// runServe is the primary operating mode. It wires the conversation
// engine to Signal, starts the reminder and digest jobs and the
// operator API, and blocks until SIGINT/SIGTERM or a fatal component
// error.
//
// The shutdown sequence is:
//  1. The signal (or a failing component) cancels the group context
//  2. The bridge stops reading and waits for in-flight replies
//  3. The API server drains in-flight requests
//  4. The scheduler and signal-cli are stopped via defers
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	a, cfgPath, err := newApp(configPath, stdout)
	if err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger
	logger.Info("starting Hayden", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)
	logger.Info("config loaded",
		"path", cfgPath,
		"timezone", cfg.Timezone,
		"provider", cfg.Model.Provider,
		"persistence", cfg.Persistence.URL,
		"rooms", len(cfg.RoomWhitelist),
		"aliases", len(cfg.AliasWhitelist),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Chat transport ---
	out, err := newOutbound(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer out.Close()

	// --- Scheduler ---
	calendar, err := workday.New(cfg.Holidays.Dates, cfg.Holidays.Workdays)
	if err != nil {
		return fmt.Errorf("holidays: %w", err)
	}
	logger.Info("workday calendar loaded", "overrides", calendar.Len())

	poller := scheduler.NewReminderPoller(a.store, out.transport, a.loc, logger.With("component", "reminders"))
	digest := scheduler.NewDigestJob(
		digestSource(cfg, a.store, logger),
		out.transport,
		calendar,
		cfg.Digest.TargetUsers,
		cfg.Digest.TargetRooms,
		logger.With("component", "digest"),
	)

	sched := scheduler.New(a.loc, logger.With("component", "scheduler"))
	if err := sched.AddJob(reminderJob, scheduler.ReminderSchedule, poller.Run); err != nil {
		return err
	}
	if err := sched.AddJob(digestJob, cfg.Digest.Schedule, digest.Run); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	// --- Operator API ---
	server := api.NewServer(api.Config{
		Address:   cfg.Listen.Address,
		Port:      cfg.Listen.Port,
		Scheduler: sched,
		Poller:    poller,
		Engine:    a.engine,
		Gate:      newGate(cfg),
		Checks:    healthChecks(a, out),
		Logger:    logger.With("component", "api"),
	})

	g, gctx := errgroup.WithContext(ctx)

	// --- Signal bridge ---
	if out.client != nil {
		bridge := sigcli.NewBridge(sigcli.BridgeConfig{
			Client:     out.client,
			Directory:  out.directory,
			Dispatcher: newDispatcher(cfg, a.engine, out.transport, logger),
			Account:    cfg.Signal.Account,
			Logger:     logger.With("component", "signal"),
			RateLimit:  cfg.Signal.RateLimit,
		})
		g.Go(func() error {
			bridge.Start(gctx)
			if gctx.Err() == nil {
				return errors.New("signal bridge stopped: signal-cli exited")
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("Hayden stopped")
	return nil
}

// newDispatcher gates inbound chat messages and routes admitted ones
// through the conversation engine.
// newGate builds the whitelist gate shared by inbound chat and the
// loopback chat endpoint.
func newGate(cfg *config.Config) chat.Gate {
	return chat.Gate{
		BotName: cfg.BotName,
		Rooms:   cfg.RoomWhitelist,
		Aliases: cfg.AliasWhitelist,
	}
}

func newDispatcher(cfg *config.Config, engine *conversation.Engine, out chat.Transport, logger *slog.Logger) *chat.Dispatcher {
	gate := newGate(cfg)
	respond := func(ctx context.Context, chatKey, sender, text string) (string, error) {
		return engine.Handle(ctx, conversation.Turn{ChatID: chatKey, UserName: sender, Text: text})
	}
	return chat.NewDispatcher(gate, respond, out, logger.With("component", "dispatch"))
}

// digestSource picks where the daily digest article comes from.
func digestSource(cfg *config.Config, store *persistence.Client, logger *slog.Logger) scheduler.ArticleSource {
	if cfg.Digest.Source == "scrape" {
		logger.Info("digest articles scraped directly", "url", cfg.Digest.ScrapeURL)
		return article.New(cfg.Digest.ScrapeURL, logger.With("component", "article"))
	}
	return store
}

// healthChecks returns the dependency checks for /health.
func healthChecks(a *app, out *outbound) map[string]api.HealthCheck {
	checks := make(map[string]api.HealthCheck)
	if out.client != nil {
		checks["signal"] = out.client.Ping
	}
	if a.ollama != nil {
		checks["ollama"] = a.ollama.Ping
	}
	return checks
}
