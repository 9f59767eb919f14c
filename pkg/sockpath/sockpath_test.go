package sockpath

import (
	"path/filepath"
	"testing"
)

func TestDefaultSocketPathXDG(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got := DefaultSocketPath(); got != "/run/user/1000/exoswitch/exoswitchd.sock" {
		t.Fatalf("DefaultSocketPath = %q", got)
	}
}

func TestDefaultSocketPathHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", "")
	t.Setenv("HOME", home)
	want := filepath.Join(home, ".config", "exoswitch", "exoswitchd.sock")
	if got := DefaultSocketPath(); got != want {
		t.Fatalf("DefaultSocketPath = %q, want %q", got, want)
	}
}

func TestResolve(t *testing.T) {
	t.Setenv(EnvSocket, "/tmp/env.sock")
	if got := Resolve("/tmp/flag.sock"); got != "/tmp/flag.sock" {
		t.Errorf("flag should win, got %q", got)
	}
	if got := Resolve(""); got != "/tmp/env.sock" {
		t.Errorf("env should be used, got %q", got)
	}
	t.Setenv(EnvSocket, "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/x")
	if got := Resolve(""); got != "/run/x/exoswitch/exoswitchd.sock" {
		t.Errorf("default expected, got %q", got)
	}
}
