package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/auth"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/logging"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/state"
)

const testSecret = "test-secret-for-development-only-32chars"

// writeConfig writes a config pointing every file into a temp dir and sets
// WTM_CONFIG to it. Port 1 on loopback refuses connections, so no broker is
// reached.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := `
site:
  id: test-site

gateway:
  host: "127.0.0.1"
  port: 1
  access_token: "test-token"
  connect_timeout: 1

state:
  backend: file
  path: "` + filepath.Join(dir, "state.json") + `"

telemetry:
  interval: 1

database:
  enabled: true
  path: "` + filepath.Join(dir, "audit.db") + `"
  wal_mode: true
  busy_timeout: 5

security:
  jwt_secret: "` + testSecret + `"

logging:
  level: error
  format: text
  output: stderr
`

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("WTM_CONFIG", path)
	return dir
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("WTM_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingAccessToken verifies platform credentials are required.
func TestRun_MissingAccessToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("gateway:\n  host: \"127.0.0.1\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WTM_CONFIG", path)
	t.Setenv("WTM_GATEWAY_ACCESS_TOKEN", "")

	err := run(context.Background())
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("run() error = %v, want ErrInvalidConfig", err)
	}
}

// TestRun_StartsWithoutBroker verifies an unreachable platform is not fatal
// and that run shuts down cleanly when its context ends.
func TestRun_StartsWithoutBroker(t *testing.T) {
	dir := writeConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "audit.db")); err != nil {
		t.Errorf("audit database not created: %v", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("WTM_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("WTM_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestOpenState_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	log := logging.New(config.LoggingConfig{Level: "error", Output: "stderr"}, "test")

	cfg := config.StateConfig{Backend: "file", Path: path}
	if _, err := openState(cfg, log); !errors.Is(err, state.ErrStateLoad) {
		t.Fatalf("openState() error = %v, want ErrStateLoad", err)
	}

	cfg.ResetOnCorrupt = true
	store, err := openState(cfg, log)
	if err != nil {
		t.Fatalf("openState(reset) error = %v", err)
	}
	defer store.Close()

	if store.Len() != 0 {
		t.Errorf("Len() = %d, want empty store", store.Len())
	}
	moved, _ := filepath.Glob(path + ".corrupt-*")
	if len(moved) != 1 {
		t.Errorf("corrupt file not moved aside, found %v", moved)
	}
}

func TestOpenState_RestoresBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	log := logging.New(config.LoggingConfig{Level: "error", Output: "stderr"}, "test")
	cfg := config.StateConfig{Backend: "file", Path: path, ResetOnCorrupt: true}

	store, err := openState(cfg, log)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set("setpoint", 7.5); err != nil {
		t.Fatal(err)
	}
	store.Close()

	// The second start copies the saved setpoint into the backup.
	store, err = openState(cfg, log)
	if err != nil {
		t.Fatal(err)
	}
	store.Close()
	if _, err := os.Stat(path + stateBackupSuffix); err != nil {
		t.Fatalf("backup not written: %v", err)
	}

	if err := os.WriteFile(path, []byte("{truncated"), 0o600); err != nil {
		t.Fatal(err)
	}
	store, err = openState(cfg, log)
	if err != nil {
		t.Fatalf("openState(corrupt) error = %v", err)
	}
	defer store.Close()

	if got := store.Get("setpoint", nil); got != 7.5 {
		t.Errorf("setpoint = %v, want 7.5 restored from backup", got)
	}
}

func TestOpenState_Bolt(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Output: "stderr"}, "test")
	cfg := config.StateConfig{Backend: "bolt", Path: filepath.Join(t.TempDir(), "state.db")}

	store, err := openState(cfg, log)
	if err != nil {
		t.Fatalf("openState() error = %v", err)
	}
	if err := store.Set("mode", "auto"); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = openState(cfg, log)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer store.Close()
	if got := store.Get("mode", nil); got != "auto" {
		t.Errorf("Get(mode) = %v, want auto", got)
	}
}

func TestRunToken(t *testing.T) {
	writeConfig(t)

	var out bytes.Buffer
	if err := runToken([]string{"-subject", "scada", "-role", "operator", "-ttl", "1h"}, &out); err != nil {
		t.Fatalf("runToken() error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "scada" || claims.Role != auth.RoleOperator {
		t.Errorf("claims = %+v, want scada/operator", claims)
	}
	if ttl := time.Until(claims.ExpiresAt.Time); ttl > time.Hour || ttl < 59*time.Minute {
		t.Errorf("expires in %v, want about 1h", ttl)
	}
}

func TestRunToken_Errors(t *testing.T) {
	writeConfig(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing subject", []string{"-role", "viewer"}},
		{"unknown role", []string{"-subject", "x", "-role", "admin"}},
		{"unknown flag", []string{"-subject", "x", "-scope", "all"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := runToken(tt.args, &out); err == nil {
				t.Errorf("runToken(%v) succeeded, want error", tt.args)
			}
		})
	}
}

func TestRunMigrate(t *testing.T) {
	writeConfig(t)
	ctx := context.Background()

	steps := []struct {
		args []string
		want string
	}{
		{[]string{"status"}, "pending  20261018_090000  gateway_audit"},
		{[]string{"up"}, "applied  20261018_090000"},
		{[]string{"down"}, "pending  20261018_090000"},
	}
	for _, step := range steps {
		var out bytes.Buffer
		if err := runMigrate(ctx, step.args, &out); err != nil {
			t.Fatalf("runMigrate(%v) error = %v", step.args, err)
		}
		if !strings.Contains(out.String(), step.want) {
			t.Errorf("runMigrate(%v) output = %q, want %q", step.args, out.String(), step.want)
		}
	}
}

func TestRunMigrate_Errors(t *testing.T) {
	writeConfig(t)

	for _, args := range [][]string{nil, {"sideways"}, {"up", "extra"}} {
		if err := runMigrate(context.Background(), args, &bytes.Buffer{}); err == nil {
			t.Errorf("runMigrate(%v) succeeded, want error", args)
		}
	}
}
