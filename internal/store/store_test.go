package store

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jbweber/bellows/internal/config"
)

func testRecord(name string) *config.Record {
	return &config.Record{
		Name:      name,
		OSFamily:  "debian",
		OSRelease: "trixie",
		ImageURL:  "https://cloud.debian.org/images/cloud/trixie.qcow2",
		Hostname:  name,
		DiskSize:  "10G",
		MemoryMB:  2048,
		CPUs:      2,
		SSHPort:   2222,
		GUI:       false,
		AutoLogin: true,
		AutoStart: false,
		DiskPath:  "/tmp/" + name + ".qcow2",
		SeedPath:  "/tmp/" + name + "-seed.iso",
		CreatedAt: "2026-08-28 10:00:00",
		StartupActions: map[string]string{
			"deploy": "echo hi",
			"odd":    `echo "quoted" \ and @@;;@@ tokens`,
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(t.TempDir())

	want := testRecord("web1")
	if err := s.Save(want); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got, err := s.Load("web1")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\n got:  %#v\n want: %#v", got, want)
	}
}

func TestLoadNotFound(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.Load("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(missing) error = %v, want ErrNotFound", err)
	}
}

func TestLoadInvalidName(t *testing.T) {
	s := New(t.TempDir())

	if _, err := s.Load("../escape"); err == nil {
		t.Error("Load with path traversal name must fail validation")
	}
}

func TestLoadAppliesDefaultsForMissingFields(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	// A minimal old-format file with no auto_login field: the documented
	// default (true) must apply, not the zero value.
	content := "name: old1\nhostname: old1\nmemory_mb: 1024\n"
	if err := os.WriteFile(filepath.Join(dir, "old1.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Load("old1")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !rec.AutoLogin {
		t.Error("auto_login default must be true when field is absent")
	}
	if rec.AutoStart {
		t.Error("auto_start default must be false when field is absent")
	}
	if rec.StartupActions == nil || len(rec.StartupActions) != 0 {
		t.Errorf("startup actions must default to an empty mapping, got %#v", rec.StartupActions)
	}
}

func TestLoadLegacySingleCommandPromoted(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	content := "name: leg1\nhostname: leg1\nstartup_command: systemctl restart app\n"
	if err := os.WriteFile(filepath.Join(dir, "leg1.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Load("leg1")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(rec.StartupActions) != 1 {
		t.Fatalf("expected mapping of size 1, got %#v", rec.StartupActions)
	}
	if rec.StartupActions["default"] != "systemctl restart app" {
		t.Errorf("legacy command not promoted under \"default\": %#v", rec.StartupActions)
	}
	if rec.LegacyCommand != "" {
		t.Error("legacy field must be cleared after migration")
	}
}

func TestLoadLegacyEncodedMapping(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	content := "name: leg2\nhostname: leg2\n" +
		"startup_actions_raw: \"deploy@@==@@echo hi@@;;@@migrate@@==@@./migrate up\"\n"
	if err := os.WriteFile(filepath.Join(dir, "leg2.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Load("leg2")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := map[string]string{"deploy": "echo hi", "migrate": "./migrate up"}
	if !reflect.DeepEqual(rec.StartupActions, want) {
		t.Errorf("decoded mapping = %#v, want %#v", rec.StartupActions, want)
	}
}

func TestLoadCurrentMappingTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	content := "name: both\nhostname: both\n" +
		"startup_command: legacy-wins-not\n" +
		"startup_actions_raw: \"old@@==@@stale\"\n" +
		"startup_actions:\n  current: echo current\n"
	if err := os.WriteFile(filepath.Join(dir, "both.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Load("both")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := map[string]string{"current": "echo current"}
	if !reflect.DeepEqual(rec.StartupActions, want) {
		t.Errorf("mapping = %#v, want only the current-format entries", rec.StartupActions)
	}
}

func TestSaveNeverEmitsLegacyFields(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	rec := testRecord("clean")
	rec.LegacyCommand = "stale"
	rec.LegacyActions = "a@@==@@b"
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	data, err := os.ReadFile(s.RecordPath("clean"))
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"startup_command", "startup_actions_raw"} {
		if containsLine(string(data), field) {
			t.Errorf("saved record contains legacy field %q:\n%s", field, data)
		}
	}
}

func containsLine(doc, field string) bool {
	for _, line := range splitLines(doc) {
		if len(line) > len(field) && line[:len(field)] == field {
			return true
		}
	}
	return false
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func TestDelete(t *testing.T) {
	s := New(t.TempDir())

	rec := testRecord("gone")
	if err := s.Save(rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if s.Exists("gone") {
		t.Error("record still exists after delete")
	}
	if err := s.Delete("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestListSortedLexicographically(t *testing.T) {
	s := New(t.TempDir())

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := s.Save(testRecord(name)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestListEmptyRoot(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist"))
	names, err := s.List()
	if err != nil {
		t.Fatalf("List on missing root returned error: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("List on missing root = %v, want empty", names)
	}
}
