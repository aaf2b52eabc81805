package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cheezy/kanban/internal/config"
	"github.com/cheezy/kanban/internal/orchestrator"
	"github.com/cheezy/kanban/internal/persistence"
	"github.com/cheezy/kanban/internal/task"
)

// seedBoard creates a file-backed board with a two-task chain.
func seedBoard(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kanban.db")
	ctx := context.Background()

	store, err := persistence.NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	e := orchestrator.New(store, orchestrator.Config{})
	ops := task.Caller{ID: "ops", BoardID: "b1", Operator: true}
	first, err := e.CreateTask(ctx, ops, orchestrator.NewTask{Title: "first"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if _, err := e.CreateTask(ctx, ops, orchestrator.NewTask{Title: "second", Dependencies: []string{first.ID}}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// Keep LoadDefault away from the developer's own config.
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	db := seedBoard(t)
	out, err := run(t, "check", "--board", "b1", "--db", db, "--log-level", "error")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !strings.Contains(out, "2 task(s)") || !strings.Contains(out, "order: W1 W2") {
		t.Errorf("check output = %q", out)
	}
}

func TestCheckRequiresBoard(t *testing.T) {
	if _, err := run(t, "check"); err == nil {
		t.Fatal("check without --board succeeded")
	}
}

func TestSweepCommand(t *testing.T) {
	db := seedBoard(t)
	out, err := run(t, "sweep", "--db", db)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if !strings.Contains(out, "released 0 task(s)") {
		t.Errorf("sweep output = %q", out)
	}
}

func TestOptionsLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := config.Save(&config.Config{
		Database: config.DatabaseConfig{Path: "from-file.db"},
		Server:   config.ServerConfig{Addr: ":9999"},
		Claim:    config.ClaimConfig{TTLMinutes: 15, MaxAttempts: 3},
		Sweep:    config.SweepConfig{IntervalSeconds: 5},
		Notify:   config.NotifyConfig{TimeoutSeconds: 2},
		Log:      config.LogConfig{Level: "info", Format: "text"},
	}, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	opts := &options{configPath: path, dbPath: "override.db", logFormat: "json"}
	cfg, err := opts.load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Database.Path != "override.db" || cfg.Server.Addr != ":9999" || cfg.Log.Format != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
	ecfg := engineConfig(cfg, nil)
	if ecfg.ClaimTTL.Minutes() != 15 || ecfg.Retry.MaxAttempts != 3 {
		t.Errorf("engine config = %+v", ecfg)
	}

	bad := &options{configPath: path, logFormat: "xml"}
	if _, err := bad.load(); err == nil {
		t.Error("load accepted log format xml")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger, err := newLogger(cfg, &buf)
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "task", "W1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("logged %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["task"] != "W1" {
		t.Errorf("record = %v", rec)
	}
}

func TestOpenStoreInMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Path = ":memory:"
	store, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStore failed: %v", err)
	}
	defer store.Close()
	if _, err := os.Stat(":memory:"); err == nil {
		t.Error("in-memory store created a file")
	}
}

func TestWatchRejectsInMemoryStore(t *testing.T) {
	_, err := run(t, "watch", "--board", "b1", "--db", ":memory:")
	if err == nil || !strings.Contains(err.Error(), "database file") {
		t.Errorf("watch with in-memory store error = %v", err)
	}
}
