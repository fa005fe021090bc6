package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIncludesSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "secrets.yaml", `
api:
  token: "from-include"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "secrets.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Token != "from-include" {
		t.Errorf("token not loaded from include: %q", cfg.API.Token)
	}
}

func TestIncludesGlobPattern(t *testing.T) {
	dir := t.TempDir()
	subdir := filepath.Join(dir, "conf.d")
	if err := os.Mkdir(subdir, 0755); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, subdir, "logger.yaml", `
logger:
  level: "debug"
`)
	writeConfigFile(t, subdir, "batch.yaml", `
batch:
  concurrency: 9
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "conf.d/*.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Level != "debug" || cfg.Batch.Concurrency != 9 {
		t.Errorf("glob includes not applied: level=%q concurrency=%d", cfg.Logger.Level, cfg.Batch.Concurrency)
	}
}

func TestIncludesMainFileWins(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "base.yaml", `
logger:
  level: "debug"
  format: "json"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "base.yaml"
logger:
  level: "error"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Level != "error" {
		t.Errorf("Level = %q, want main file value %q", cfg.Logger.Level, "error")
	}
	if cfg.Logger.Format != "json" {
		t.Errorf("Format = %q, want included value %q", cfg.Logger.Format, "json")
	}
}

func TestIncludesNested(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "leaf.yaml", `
api:
  version: "5.199"
`)
	writeConfigFile(t, dir, "middle.yaml", `
includes:
  - "leaf.yaml"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "middle.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Version != "5.199" {
		t.Errorf("Version = %q, want 5.199", cfg.API.Version)
	}
}

func TestIncludesCircular(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.yaml", `
includes:
  - "b.yaml"
`)
	writeConfigFile(t, dir, "b.yaml", `
includes:
  - "a.yaml"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "a.yaml"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "circular") {
		t.Fatalf("expected circular include error, got %v", err)
	}
}

func TestIncludesEscapeRejected(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, dir, "outside.yaml", "logger:\n  level: debug\n")
	path := writeConfigFile(t, sub, "config.yaml", `
includes:
  - "../outside.yaml"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Fatalf("expected escape error, got %v", err)
	}
}

func TestIncludesMissingLiteral(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "nope.yaml"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing literal include")
	}
}

func TestIncludesGlobNoMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "conf.d/*.yaml"
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("glob with no matches should not fail: %v", err)
	}
}
