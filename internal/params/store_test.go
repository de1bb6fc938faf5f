package params

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "params", "parameters.toml")
	return NewStore(path), path
}

func TestNewStoreDefaultPath(t *testing.T) {
	if got := NewStore("").Path(); got != "parameters.toml" {
		t.Errorf("Path() = %q, want parameters.toml", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	s, _ := setupStore(t)
	if err := s.Load(); err != nil {
		t.Fatalf("Load() on a missing file error = %v", err)
	}
	if len(s.Serials()) != 0 {
		t.Errorf("Serials() = %v, want none", s.Serials())
	}
}

func TestSaveAndReload(t *testing.T) {
	s, path := setupStore(t)

	values := map[string]any{
		"exposure_time": 12500.5,
		"analog_gain":   8,
		"media_type":    "mono8",
		"auto_exposure": false,
	}
	if err := s.Save("SIM00001", 2, values); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if !strings.Contains(string(raw), "[cameras.SIM00001.teams.2]") {
		t.Errorf("unexpected layout:\n%s", raw)
	}

	reloaded := NewStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got, err := reloaded.Get("SIM00001", 2)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if got["exposure_time"] != 12500.5 {
		t.Errorf("exposure_time = %v", got["exposure_time"])
	}
	if got["analog_gain"] != int64(8) {
		t.Errorf("analog_gain = %v (%T), want int64 8", got["analog_gain"], got["analog_gain"])
	}
	if got["media_type"] != "mono8" || got["auto_exposure"] != false {
		t.Errorf("got %v", got)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s, _ := setupStore(t)
	if err := s.Save("A", 0, map[string]any{"gamma": 100}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get("A", 0)
	got["gamma"] = 1

	again, _ := s.Get("A", 0)
	if again["gamma"] != 100 {
		t.Errorf("stored set modified through Get(): %v", again["gamma"])
	}
}

func TestTeamsAreIndependent(t *testing.T) {
	s, _ := setupStore(t)
	if err := s.Save("A", 0, map[string]any{"gamma": 100}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("A", 1, map[string]any{"gamma": 200}); err != nil {
		t.Fatal(err)
	}

	zero, _ := s.Get("A", 0)
	one, _ := s.Get("A", 1)
	if zero["gamma"] != 100 || one["gamma"] != 200 {
		t.Errorf("team 0 = %v, team 1 = %v", zero, one)
	}
}

func TestErrors(t *testing.T) {
	s, _ := setupStore(t)

	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"save team -1", s.Save("A", -1, nil), ErrInvalidTeam},
		{"save team 4", s.Save("A", Teams, nil), ErrInvalidTeam},
		{"unknown serial", func() error { _, err := s.Get("nope", 0); return err }(), ErrNotFound},
		{"get team 9", func() error { _, err := s.Get("A", 9); return err }(), ErrInvalidTeam},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.target) {
			t.Errorf("%s: error = %v, want %v", tt.name, tt.err, tt.target)
		}
	}

	if err := s.Save("A", 0, map[string]any{"gamma": 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("A", 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("unsaved team error = %v, want ErrNotFound", err)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	s, path := setupStore(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("cameras = [[["), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(); err == nil {
		t.Error("Load() accepted a malformed file")
	}
}
