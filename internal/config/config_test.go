package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "bot_name: Hayden\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "bot_name: Hayden\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Timezone != "Asia/Shanghai" {
		t.Errorf("timezone = %q, want Asia/Shanghai", cfg.Timezone)
	}
	if cfg.Digest.Schedule != "0 8 * * *" {
		t.Errorf("digest schedule = %q, want 0 8 * * *", cfg.Digest.Schedule)
	}
	if cfg.Model.Spark.Temperature != 0.5 || cfg.Model.Spark.MaxTokens != 8192 {
		t.Errorf("spark params = %v/%d, want 0.5/8192", cfg.Model.Spark.Temperature, cfg.Model.Spark.MaxTokens)
	}
	if cfg.Persistence.URL != "http://localhost:5000/api" {
		t.Errorf("persistence url = %q", cfg.Persistence.URL)
	}
	if cfg.Listen.Address != "127.0.0.1" || cfg.Listen.Port != 8080 {
		t.Errorf("listen = %s:%d, want 127.0.0.1:8080", cfg.Listen.Address, cfg.Listen.Port)
	}
}

func TestLoad_ListenAddressOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, "listen:\n  address: 0.0.0.0\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Address != "0.0.0.0" {
		t.Errorf("listen address = %q, want 0.0.0.0", cfg.Listen.Address)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("HAYDEN_TEST_SECRET", "secret123")
	path := writeConfig(t, "model:\n  spark:\n    api_secret: ${HAYDEN_TEST_SECRET}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Model.Spark.APISecret != "secret123" {
		t.Errorf("api_secret = %q, want %q", cfg.Model.Spark.APISecret, "secret123")
	}
}

func TestLoad_DotEnvBesideConfig(t *testing.T) {
	path := writeConfig(t, "room_whitelist: ${HAYDEN_TEST_ROOMS}\n")
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envPath, []byte("HAYDEN_TEST_ROOMS=家庭群, 工作群\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("HAYDEN_TEST_ROOMS") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	want := []string{"家庭群", "工作群"}
	if len(cfg.RoomWhitelist) != 2 || cfg.RoomWhitelist[0] != want[0] || cfg.RoomWhitelist[1] != want[1] {
		t.Errorf("room_whitelist = %v, want %v", cfg.RoomWhitelist, want)
	}
}

func TestStringList_Sequence(t *testing.T) {
	cfg, err := Load(writeConfig(t, "alias_whitelist:\n  - alice\n  - ' bob '\n  - ''\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(cfg.AliasWhitelist) != 2 || !cfg.AliasWhitelist.Contains("bob") {
		t.Errorf("alias_whitelist = %v", cfg.AliasWhitelist)
	}
	if cfg.AliasWhitelist.Contains("carol") {
		t.Error("Contains(carol) = true, want false")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"bad log level", "log_level: loud\n", "log_level"},
		{"bad cron", "digest:\n  schedule: every morning\n", "digest.schedule"},
		{"bad provider", "model:\n  provider: gpt\n", "model.provider"},
		{"ollama without model", "model:\n  provider: ollama\n", "model.ollama.model"},
		{"bad timezone", "timezone: Mars/Olympus\n", "timezone"},
		{"bad holiday", "holidays:\n  dates: [2024-13-01]\n", "holidays"},
		{"bad source", "digest:\n  source: rss\n", "digest.source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("Load(%q) succeeded, want error", tt.body)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"TRACE", LevelTrace},
		{" debug ", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLogLevel(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_TraceName(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace, "text")
	logger.Log(t.Context(), LevelTrace, "wire")
	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("log output %q missing level=TRACE", buf.String())
	}
}
