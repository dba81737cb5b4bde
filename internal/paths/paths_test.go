package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBaseDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got, want := BaseDir(), filepath.Join(home, ".courier"); got != want {
		t.Errorf("BaseDir() = %q, want %q", got, want)
	}
}

func TestExpand(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct{ in, want string }{
		{"~", home},
		{"~/data", filepath.Join(home, "data")},
		{"/var/lib/courier", "/var/lib/courier"},
		{"relative/~dir", "relative/~dir"},
	}
	for _, tt := range tests {
		if got := Expand(tt.in); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	if got := Resolve("/flag", "/config"); got != "/flag" {
		t.Errorf("flag should win, got %q", got)
	}
	if got := Resolve("", "/config"); got != "/config" {
		t.Errorf("config should win over default, got %q", got)
	}
	if got := Resolve("", ""); got != BaseDir() {
		t.Errorf("default = %q, want %q", got, BaseDir())
	}
}

func TestLayout(t *testing.T) {
	dir := "/data"
	if got := SocketPath(dir); got != "/data/courierd.sock" {
		t.Errorf("SocketPath = %q", got)
	}
	if got := DBPath(dir); got != "/data/courier.db" {
		t.Errorf("DBPath = %q", got)
	}
	if got := LogPath(dir); got != "/data/logs/courierd.log" {
		t.Errorf("LogPath = %q", got)
	}
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "courier")
	if err := EnsureDir(dir); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(LogDir(dir))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("log dir is not a directory")
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("log dir permission = %o, want 0700", perm)
	}
}
