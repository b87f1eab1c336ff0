package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/querynox/internal/auth"
	"github.com/2389/querynox/internal/config"
)

func TestInitWritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "gateway.yaml")
	dbPath := filepath.Join(dir, "data", "querynox.db")

	// Answers: path, http, grpc, db, auth, 4 providers, search, level, format
	answers := strings.Join([]string{
		"", "127.0.0.1:9090", "", dbPath, "yes",
		"yes", "no", "no", "no",
		"no", "debug", "json",
	}, "\n") + "\n"

	if err := runInit(strings.NewReader(answers), configPath); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("loading generated config: %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("http_addr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Path != dbPath {
		t.Errorf("database.path = %q", cfg.Database.Path)
	}
	if len(cfg.Auth.JWTSecret) < auth.MinSecretLength {
		t.Errorf("jwt_secret too short: %d bytes", len(cfg.Auth.JWTSecret))
	}
	if _, ok := cfg.Providers["openai"]; !ok || len(cfg.Providers) != 1 {
		t.Errorf("providers = %v, want only openai", cfg.Providers)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestTokenCommand(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "gateway.yaml")
	secret := "token-command-test-secret-0123456789"
	writeFile(t, configPath, "server:\n  http_addr: \"127.0.0.1:0\"\ndatabase:\n  path: \"x.db\"\nauth:\n  jwt_secret: \""+secret+"\"\n")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", configPath, "token", "alice", "--ttl", "1h"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("token command: %v", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	subject, err := verifier.Verify(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if subject != "alice" {
		t.Errorf("subject = %q, want alice", subject)
	}
}

func TestMintTokenErrors(t *testing.T) {
	dir := t.TempDir()
	noSecret := filepath.Join(dir, "nosecret.yaml")
	writeFile(t, noSecret, "server:\n  http_addr: \"127.0.0.1:0\"\ndatabase:\n  path: \"x.db\"\n")

	if _, _, err := mintToken(noSecret, "alice", time.Hour); err == nil {
		t.Error("expected error without jwt_secret")
	}
	if _, _, err := mintToken(noSecret, "alice", 0); err == nil {
		t.Error("expected error for zero ttl")
	}
	if _, _, err := mintToken(filepath.Join(dir, "missing.yaml"), "alice", time.Hour); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("QUERYNOX_CONFIG", "/etc/querynox.yaml")
	if got := getConfigPath(); got != "/etc/querynox.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}

	t.Setenv("QUERYNOX_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := getConfigPath(); got != filepath.Join("/xdg", "querynox", "gateway.yaml") {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}
