package settings

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tkd-scorelink/referee/internal/endpoint"
)

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }
func boolp(v bool) *bool    { return &v }

func TestNewStore_DefaultDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	s := NewStore("")
	if s.dir != filepath.Join("/tmp/xdg", appDirName) {
		t.Errorf("dir = %q", s.dir)
	}
}

func TestStore_Path(t *testing.T) {
	s := NewStore("/tmp/test-dir")
	want := "/tmp/test-dir/settings.yaml"
	if got := s.Path(); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	st, err := NewStore(t.TempDir()).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	def := Default()
	if *st != *def {
		t.Errorf("Load() = %+v, want defaults %+v", st, def)
	}
	if st.Configured() {
		t.Error("default settings should not have a server configured")
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := NewStore(t.TempDir())

	st := Default()
	st.RefereeID = 3
	st.Server = Server{Host: "10.0.0.5", Port: 9000, Secure: true}
	st.Points.HeadSwipe = 6
	if err := s.Save(st); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if *got != *st {
		t.Errorf("round trip = %+v, want %+v", got, st)
	}

	entries, _ := os.ReadDir(s.dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestStore_LoadPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	data := "referee_id: 2\nserver:\n  host: mat-a.local\npoints:\n  punch: 2\n"
	if err := os.WriteFile(filepath.Join(dir, settingsFileName), []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	st, err := NewStore(dir).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if st.RefereeID != 2 || st.Server.Host != "mat-a.local" || st.Server.Port != endpoint.DefaultPort {
		t.Errorf("loaded = %+v", st)
	}
	if st.Points.Punch != 2 || st.Points.HeadTap != 3 {
		t.Errorf("points = %+v", st.Points)
	}
}

func TestStore_LoadRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, settingsFileName), []byte("referee_id: ["), 0o600)
	_, err := NewStore(dir).Load()
	if err == nil {
		t.Fatal("Load() should fail")
	}
	if !strings.Contains(err.Error(), filepath.Join(dir, settingsFileName)) {
		t.Errorf("error %q should name the file", err)
	}
}

func TestStore_LoadRepairsInvalidFields(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		check func(*Settings) bool
		field string
	}{
		{
			name:  "referee out of range",
			data:  "referee_id: 7\nserver:\n  host: 10.0.0.5\n",
			check: func(s *Settings) bool { return s.RefereeID == MinRefereeID && s.Server.Host == "10.0.0.5" },
			field: "referee_id",
		},
		{
			name:  "negative points",
			data:  "points:\n  punch: -1\n  head_tap: 4\n",
			check: func(s *Settings) bool { return s.Points.Punch == 1 && s.Points.HeadTap == 4 },
			field: "points.punch",
		},
		{
			name:  "port out of range",
			data:  "server:\n  port: 70000\n",
			check: func(s *Settings) bool { return s.Server.Port == endpoint.DefaultPort },
			field: "server.port",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			os.WriteFile(filepath.Join(dir, settingsFileName), []byte(tt.data), 0o600)
			core, logs := observer.New(zap.WarnLevel)

			st, err := NewStore(dir).WithLogger(zap.New(core)).Load()
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if !tt.check(st) {
				t.Errorf("Load() = %+v", st)
			}
			if err := st.Validate(); err != nil {
				t.Errorf("repaired settings invalid: %v", err)
			}
			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("warnings = %d, want 1", len(entries))
			}
			if got := entries[0].ContextMap()["field"]; got != tt.field {
				t.Errorf("warned about %v, want %s", got, tt.field)
			}
		})
	}
}

func TestStore_Update(t *testing.T) {
	s := NewStore(t.TempDir())

	got, err := s.Update(Patch{
		RefereeID: intp(2),
		Host:      strp("192.168.1.20"),
		Points:    map[string]int{"head_tap": 4},
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if got.RefereeID != 2 || got.Server.Host != "192.168.1.20" || got.Points.HeadTap != 4 {
		t.Errorf("Update() = %+v", got)
	}

	got, err = s.Update(Patch{Port: intp(9001), Secure: boolp(true)})
	if err != nil {
		t.Fatalf("second Update() error: %v", err)
	}
	if got.Server.Host != "192.168.1.20" || got.Server.Port != 9001 || !got.Server.Secure {
		t.Errorf("second Update() lost fields: %+v", got)
	}

	loaded, _ := s.Load()
	if *loaded != *got {
		t.Errorf("persisted = %+v, want %+v", loaded, got)
	}
}

func TestStore_UpdateRejectsInvalid(t *testing.T) {
	s := NewStore(t.TempDir())

	if _, err := s.Update(Patch{RefereeID: intp(0)}); !errors.Is(err, ErrInvalid) {
		t.Errorf("referee 0: err = %v, want ErrInvalid", err)
	}
	if _, err := s.Update(Patch{Points: map[string]int{"spinning_kick": 5}}); !errors.Is(err, ErrInvalid) {
		t.Errorf("unknown technique: err = %v, want ErrInvalid", err)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Error("invalid update should not write the file")
	}
}

func TestPointsFor(t *testing.T) {
	p := Default().Points
	tests := []struct {
		technique string
		want      int
		ok        bool
	}{
		{"head_tap", 3, true},
		{"head_swipe", 5, true},
		{"body_tap", 2, true},
		{"body_swipe", 4, true},
		{"punch", 1, true},
		{"head_kick", 0, false},
	}
	for _, tt := range tests {
		got, ok := p.For(tt.technique)
		if got != tt.want || ok != tt.ok {
			t.Errorf("For(%q) = %d, %v; want %d, %v", tt.technique, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSettingsEndpoint(t *testing.T) {
	st := Default()
	if _, err := st.Endpoint(); !errors.Is(err, endpoint.ErrEmptyHost) {
		t.Errorf("unconfigured Endpoint() err = %v", err)
	}
	st.Server.Host = "10.0.0.5"
	ep, err := st.Endpoint()
	if err != nil || ep.Address() != "10.0.0.5:8080" {
		t.Errorf("Endpoint() = %v, %v", ep, err)
	}
}

func TestPatchEmpty(t *testing.T) {
	if !(Patch{}).Empty() {
		t.Error("zero Patch should be empty")
	}
	if (Patch{Secure: boolp(false)}).Empty() {
		t.Error("Patch with Secure set is not empty")
	}
}
