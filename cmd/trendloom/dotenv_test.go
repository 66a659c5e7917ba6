// ABOUTME: Tests for .env loading: parsing, quoting, comments, and no-clobber behavior.
// ABOUTME: Uses t.Setenv for isolation so the process environment is restored after each case.
package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	return path
}

func TestLoadDotEnvParsesAssignments(t *testing.T) {
	t.Setenv("TREND_ENV_A", "")
	os.Unsetenv("TREND_ENV_A")
	t.Setenv("TREND_ENV_B", "")
	os.Unsetenv("TREND_ENV_B")
	t.Setenv("TREND_ENV_C", "")
	os.Unsetenv("TREND_ENV_C")

	path := writeEnvFile(t, `
# comment
TREND_ENV_A=plain
export TREND_ENV_B="quoted=value"
TREND_ENV_C='single'
not-an-assignment
`)
	loadDotEnv(path)

	if got := os.Getenv("TREND_ENV_A"); got != "plain" {
		t.Errorf("TREND_ENV_A = %q", got)
	}
	if got := os.Getenv("TREND_ENV_B"); got != "quoted=value" {
		t.Errorf("TREND_ENV_B = %q", got)
	}
	if got := os.Getenv("TREND_ENV_C"); got != "single" {
		t.Errorf("TREND_ENV_C = %q", got)
	}
}

func TestLoadDotEnvDoesNotClobber(t *testing.T) {
	t.Setenv("TREND_ENV_SET", "original")
	path := writeEnvFile(t, "TREND_ENV_SET=overridden\n")
	loadDotEnv(path)
	if got := os.Getenv("TREND_ENV_SET"); got != "original" {
		t.Errorf("TREND_ENV_SET = %q, want original preserved", got)
	}
}

func TestLoadDotEnvIgnoresMissingFile(t *testing.T) {
	loadDotEnv(filepath.Join(t.TempDir(), "does-not-exist"))
}

func TestResolveDataDirHonorsXDG(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_DATA_HOME", base)
	dir, err := resolveDataDir("")
	if err != nil {
		t.Fatalf("resolveDataDir: %v", err)
	}
	if dir != filepath.Join(base, "trendloom") {
		t.Errorf("dir = %q", dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("data dir not created: %v", err)
	}
}

func TestResolveDataDirOverride(t *testing.T) {
	want := filepath.Join(t.TempDir(), "custom")
	dir, err := resolveDataDir(want)
	if err != nil {
		t.Fatalf("resolveDataDir: %v", err)
	}
	if dir != want {
		t.Errorf("dir = %q, want %q", dir, want)
	}
}
