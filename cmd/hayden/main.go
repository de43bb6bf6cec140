// Hayden is a conversational household assistant. It answers chat
// messages through an LLM, keeps reminders and a simple asset ledger in
// the persistence service, and pushes a daily article digest.
//
// Usage:
//
//	hayden serve              Run the bot, scheduler and operator API
//	hayden ask <message>      Run one conversation turn and print the reply
//	hayden poll               Run one reminder tick
//	hayden version            Print version and build information
//	hayden -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/hayden/internal/buildinfo"
	"github.com/nugget/hayden/internal/config"
	"github.com/nugget/hayden/internal/conversation"
	"github.com/nugget/hayden/internal/intent"
	"github.com/nugget/hayden/internal/llm"
	"github.com/nugget/hayden/internal/persistence"
)

// main builds the OS-level environment and hands off to [run] so the
// whole command surface can be driven from tests.
func main() {
	if err := run(context.Background(), os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	output     string
}

// run executes the hayden command line. The command tree is built
// fresh on every call so concurrent tests never share flag state.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "hayden",
		Short:         "Hayden - conversational household assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch flags.output {
			case "text", "json":
				return nil
			default:
				return fmt.Errorf("unknown output format: %q (expected text or json)", flags.output)
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config file (default: auto-discover)")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServeCmd(flags),
		newAskCmd(flags),
		newPollCmd(flags),
		newVersionCmd(flags),
	)
	return root
}

func newVersionCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd.OutOrStdout(), flags.output)
		},
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// loadConfig locates and parses the YAML configuration file. Returns
// the parsed config and the path that was loaded.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// newLogger builds the configured logger. Config has been validated,
// so the level always parses.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return config.NewLogger(w, level, cfg.LogFormat)
}

// app is the core dependency graph shared by every command that talks
// to the model or the persistence service.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	loc    *time.Location

	model  llm.Client
	ollama *llm.OllamaClient // nil unless provider is ollama
	store  *persistence.Client
	engine *conversation.Engine
}

// newApp loads configuration and wires the model client, persistence
// client and conversation engine.
func newApp(configPath string, logw io.Writer) (*app, string, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, cfgPath, err
	}
	logger := newLogger(logw, cfg)

	loc, err := cfg.Location()
	if err != nil {
		return nil, cfgPath, fmt.Errorf("timezone: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, loc: loc}
	a.model, a.ollama = newLLMClient(cfg, logger)
	a.store = persistence.NewClient(cfg.Persistence.URL, time.Duration(cfg.Persistence.TimeoutSec)*time.Second, loc, logger.With("component", "persistence"))

	analyzer := intent.NewAnalyzer(a.model, loc, logger.With("component", "intent"))
	a.engine = conversation.NewEngine(a.store, analyzer, loc, logger.With("component", "conversation"))
	return a, cfgPath, nil
}

// newLLMClient builds the configured model client. The Ollama client
// is also returned on its own so callers can health-check it.
func newLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, *llm.OllamaClient) {
	m := cfg.Model
	if m.Provider == "ollama" {
		c := llm.NewOllamaClient(llm.OllamaConfig{
			URL:     m.Ollama.URL,
			Model:   m.Ollama.Model,
			Timeout: time.Duration(m.Ollama.TimeoutSec) * time.Second,
		}, logger)
		logger.Info("LLM client initialized", "provider", "ollama", "model", m.Ollama.Model, "url", m.Ollama.URL)
		return c, c
	}

	if !cfg.SparkCredentialsSet() {
		logger.Warn("Spark credentials incomplete, model requests will be rejected",
			"app_id_set", m.Spark.AppID != "",
			"api_key_set", m.Spark.APIKey != "",
			"api_secret_set", m.Spark.APISecret != "",
		)
	}
	c := llm.NewSparkClient(llm.SparkConfig{
		URL:         m.Spark.URL,
		AppID:       m.Spark.AppID,
		APIKey:      m.Spark.APIKey,
		APISecret:   m.Spark.APISecret,
		Domain:      m.Spark.Domain,
		Temperature: m.Spark.Temperature,
		MaxTokens:   m.Spark.MaxTokens,
		Timeout:     time.Duration(m.Spark.TimeoutSec) * time.Second,
		CloseGrace:  time.Duration(m.Spark.CloseGraceMs) * time.Millisecond,
	}, logger)
	logger.Info("LLM client initialized", "provider", "spark", "domain", m.Spark.Domain, "url", m.Spark.URL)
	return c, nil
}
