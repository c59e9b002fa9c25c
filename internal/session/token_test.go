package session

import (
	"errors"
	"os"
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	t.Setenv("BOLECHAT_HOME", t.TempDir())

	if _, err := LoadToken("main"); !errors.Is(err, ErrNoToken) {
		t.Fatalf("LoadToken() before save error = %v, want ErrNoToken", err)
	}

	if err := SaveToken("main", "abc.def.ghi"); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}
	got, err := LoadToken("main")
	if err != nil {
		t.Fatalf("LoadToken() error = %v", err)
	}
	if got != "abc.def.ghi" {
		t.Errorf("LoadToken() = %q, want %q", got, "abc.def.ghi")
	}

	info, err := os.Stat(TokenPath("main"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("token permission = %o, want 0600", perm)
	}

	if err := DeleteToken("main"); err != nil {
		t.Fatalf("DeleteToken() error = %v", err)
	}
	if err := DeleteToken("main"); err != nil {
		t.Errorf("second DeleteToken() error = %v", err)
	}
	if _, err := LoadToken("main"); !errors.Is(err, ErrNoToken) {
		t.Errorf("LoadToken() after delete error = %v, want ErrNoToken", err)
	}
}

func TestLoadTokenBlank(t *testing.T) {
	t.Setenv("BOLECHAT_HOME", t.TempDir())
	if err := SaveToken("main", "  "); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadToken("main"); !errors.Is(err, ErrNoToken) {
		t.Errorf("LoadToken() error = %v, want ErrNoToken", err)
	}
}
