package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnv(t *testing.T) {
	for _, key := range []string{"HK_TEST_PLAIN", "HK_TEST_QUOTED", "HK_TEST_SINGLE"} {
		key := key
		t.Cleanup(func() { _ = os.Unsetenv(key) })
		_ = os.Unsetenv(key)
	}
	path := filepath.Join(t.TempDir(), ".env")
	content := "# credentials\n" +
		"HK_TEST_PLAIN=abc\n" +
		"HK_TEST_QUOTED=\"with spaces\"\n" +
		"HK_TEST_SINGLE='single'\n" +
		"malformed line\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("HK_TEST_PLAIN"); got != "abc" {
		t.Fatalf("plain: %q", got)
	}
	if got := os.Getenv("HK_TEST_QUOTED"); got != "with spaces" {
		t.Fatalf("double quoted: %q", got)
	}
	if got := os.Getenv("HK_TEST_SINGLE"); got != "single" {
		t.Fatalf("single quoted: %q", got)
	}
}

func TestLoadEnvKeepsExisting(t *testing.T) {
	t.Setenv("HK_TEST_PLAIN", "from-process")
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("HK_TEST_PLAIN=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("HK_TEST_PLAIN"); got != "from-process" {
		t.Fatalf("process env must win, got %q", got)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing env file must not error, got %v", err)
	}
}
