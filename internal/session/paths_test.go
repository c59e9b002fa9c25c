package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	t.Setenv("BOLECHAT_HOME", "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".bolechat", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestBaseDirOverride(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("BOLECHAT_HOME", tmp)
	if got := BaseDir(); got != tmp {
		t.Errorf("BaseDir() = %q, want %q", got, tmp)
	}
	if got := ConfigPath(); got != filepath.Join(tmp, "config.toml") {
		t.Errorf("ConfigPath() = %q", got)
	}
}

func TestSessionFiles(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"socket", SocketPath("test"), filepath.Join("sessions", "test", "daemon.sock")},
		{"lock", LockPath("test"), filepath.Join("sessions", "test", "LOCK")},
		{"cache", CachePath("test"), filepath.Join("sessions", "test", "cache.db")},
		{"token", TokenPath("test"), filepath.Join("sessions", "test", "token")},
		{"log", LogPath("test"), filepath.Join("sessions", "test", "logs", "bolechatd.log")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasSuffix(tt.got, tt.want) {
				t.Errorf("path = %q, want suffix %q", tt.got, tt.want)
			}
		})
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("BOLECHAT_HOME", t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	for _, dir := range []string{Dir("test"), LogDir("test")} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("%s not created: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s permission = %o, want 0700", dir, perm)
		}
	}
}

func TestList(t *testing.T) {
	t.Setenv("BOLECHAT_HOME", t.TempDir())

	names, err := List()
	if err != nil || len(names) != 0 {
		t.Fatalf("List() on a fresh home = %v, %v", names, err)
	}

	for _, n := range []string{"work", "main"} {
		if err := EnsureDir(n); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(BaseDir(), "sessions", "Not.Valid"), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(BaseDir(), "sessions", "stray"), nil, 0600); err != nil {
		t.Fatal(err)
	}

	names, err = List()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "main,work" {
		t.Errorf("List() = %v, want [main work]", names)
	}
}

func TestResolve(t *testing.T) {
	t.Setenv("BOLECHAT_HOME", t.TempDir())
	t.Setenv(EnvSession, "")

	if got := Resolve(""); got != DefaultSessionName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultSessionName)
	}
	if err := os.WriteFile(ConfigPath(), []byte("default_session = \"work\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve() from config = %q, want work", got)
	}
	t.Setenv(EnvSession, "staging")
	if got := Resolve(""); got != "staging" {
		t.Errorf("Resolve() from env = %q, want staging", got)
	}
	if got := Resolve("cli"); got != "cli" {
		t.Errorf("Resolve(flag) = %q, want cli", got)
	}
}
