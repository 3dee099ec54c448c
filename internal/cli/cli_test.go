package cli

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tkd-scorelink/referee/internal/settings"
)

// setup parses args against a fresh root command, then applies the config
// file and environment the way PersistentPreRunE does.
func setup(t *testing.T, args ...string) (*cobra.Command, *rootOptions) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	opts := &rootOptions{}
	v := viper.New()
	cmd := newRootCmd(opts, v)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v): %v", args, err)
	}
	opts.given = changedFlags(cmd.Flags())
	if err := initConfig(cmd, v, opts.configFile); err != nil {
		t.Fatalf("initConfig: %v", err)
	}
	return cmd, opts
}

func TestFlagPatchOnlyChangedFlags(t *testing.T) {
	cmd, opts := setup(t, "--referee", "3")
	p, err := flagPatch(cmd.Flags(), opts, opts.onCommandLine)
	if err != nil {
		t.Fatal(err)
	}
	if p.RefereeID == nil || *p.RefereeID != 3 {
		t.Errorf("RefereeID = %v, want 3", p.RefereeID)
	}
	if p.Host != nil || p.Port != nil || p.Secure != nil {
		t.Errorf("unexpected fields in %+v", p)
	}
}

func TestFlagPatchHostWithPort(t *testing.T) {
	cmd, opts := setup(t, "--host", "10.0.0.5:9000")
	p, err := flagPatch(cmd.Flags(), opts, opts.onCommandLine)
	if err != nil {
		t.Fatal(err)
	}
	if *p.Host != "10.0.0.5" || p.Port == nil || *p.Port != 9000 {
		t.Errorf("patch = host %v port %v", p.Host, p.Port)
	}
}

func TestFlagPatchExplicitPortWins(t *testing.T) {
	cmd, opts := setup(t, "--host", "10.0.0.5:9000", "--port", "7000")
	p, _ := flagPatch(cmd.Flags(), opts, opts.onCommandLine)
	if *p.Port != 7000 {
		t.Errorf("port = %d, want 7000", *p.Port)
	}
}

func TestFlagPatchBadHost(t *testing.T) {
	cmd, opts := setup(t, "--host", "10.0.0.5:http")
	if _, err := flagPatch(cmd.Flags(), opts, opts.onCommandLine); err == nil {
		t.Error("expected an error for a non-numeric port")
	}
}

func TestEnvironmentSetsFlags(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TKD_REFEREE", "2")
	t.Setenv("TKD_SETTINGS_DIR", dir)

	cmd, opts := setup(t)
	if opts.referee != 2 {
		t.Errorf("referee = %d, want 2", opts.referee)
	}
	if opts.settingsDir != dir {
		t.Errorf("settings dir = %q, want %q", opts.settingsDir, dir)
	}
	if p, _ := flagPatch(cmd.Flags(), opts, opts.onCommandLine); !p.Empty() {
		t.Errorf("environment values must not be persisted: %+v", p)
	}
	if p, _ := flagPatch(cmd.Flags(), opts, cmd.Flags().Changed); p.RefereeID == nil || *p.RefereeID != 2 {
		t.Errorf("run patch referee = %v, want 2", p.RefereeID)
	}
}

func TestLoadSettingsPersistsOnlyCommandLine(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TKD_REFEREE", "2")
	cmd, opts := setup(t, "--settings-dir", dir, "--host", "10.0.0.5")

	store := settings.NewStore(opts.settingsDir)
	st, err := loadSettings(store, cmd.Flags(), opts)
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if st.RefereeID != 2 || st.Server.Host != "10.0.0.5" {
		t.Errorf("run settings = referee %d host %q", st.RefereeID, st.Server.Host)
	}

	saved, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if saved.Server.Host != "10.0.0.5" {
		t.Errorf("saved host = %q, want 10.0.0.5", saved.Server.Host)
	}
	if saved.RefereeID != settings.MinRefereeID {
		t.Errorf("saved referee = %d; the environment value was persisted", saved.RefereeID)
	}
}

func TestLoadSettingsRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("TKD_REFEREE", "9")
	cmd, opts := setup(t, "--settings-dir", t.TempDir())
	if _, err := loadSettings(settings.NewStore(opts.settingsDir), cmd.Flags(), opts); err == nil {
		t.Error("an out-of-range referee from the environment should be rejected")
	}
}

func TestCommandLineBeatsEnvironment(t *testing.T) {
	t.Setenv("TKD_REFEREE", "2")
	_, opts := setup(t, "--referee", "1")
	if opts.referee != 1 {
		t.Errorf("referee = %d, want 1", opts.referee)
	}
}

func TestConfigFile(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "referee.yml")
	if err := os.WriteFile(cfg, []byte("host: 10.0.0.9\nsecure: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cmd, opts := setup(t, "--config", cfg)
	if opts.host != "10.0.0.9" || !opts.secure {
		t.Errorf("host = %q secure = %v", opts.host, opts.secure)
	}
	p, _ := flagPatch(cmd.Flags(), opts, cmd.Flags().Changed)
	if p.Host == nil || *p.Host != "10.0.0.9" {
		t.Errorf("patch host = %v", p.Host)
	}
	if p, _ := flagPatch(cmd.Flags(), opts, opts.onCommandLine); !p.Empty() {
		t.Errorf("config file values must not be persisted: %+v", p)
	}
}

func TestMissingConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	opts := &rootOptions{}
	v := viper.New()
	cmd := newRootCmd(opts, v)
	if err := cmd.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "nope.yml")}); err != nil {
		t.Fatal(err)
	}
	if err := initConfig(cmd, v, opts.configFile); err == nil {
		t.Error("an explicit config file that does not exist is an error")
	}
}

func TestDefaults(t *testing.T) {
	_, opts := setup(t)
	if opts.port != 8080 || opts.referee != settings.MinRefereeID || opts.secure || opts.noConnect {
		t.Errorf("defaults = %+v", opts)
	}
}

func TestServeFlags(t *testing.T) {
	cmd := NewServeCmd()
	if err := cmd.ParseFlags([]string{"--listen", "127.0.0.1:0", "--silent-heartbeats"}); err != nil {
		t.Fatal(err)
	}
	if got, _ := cmd.Flags().GetString("listen"); got != "127.0.0.1:0" {
		t.Errorf("listen = %q", got)
	}
	if got, _ := cmd.Flags().GetBool("silent-heartbeats"); !got {
		t.Error("silent-heartbeats should be set")
	}
	if got, _ := cmd.Flags().GetInt("max-clients"); got != 3 {
		t.Errorf("max-clients = %d, want 3", got)
	}
}

func TestSimulationTarget(t *testing.T) {
	tests := []struct {
		name string
		addr net.Addr
		want string
	}{
		{"specific ipv4", &net.TCPAddr{IP: net.ParseIP("192.168.1.5"), Port: 8080}, "192.168.1.5:8080"},
		{"all ipv4", &net.TCPAddr{IP: net.IPv4zero, Port: 8080}, "127.0.0.1:8080"},
		{"all ipv6", &net.TCPAddr{IP: net.IPv6unspecified, Port: 9000}, "127.0.0.1:9000"},
		{"no ip", &net.TCPAddr{Port: 8080}, "127.0.0.1:8080"},
		{"ipv6 loopback", &net.TCPAddr{IP: net.IPv6loopback, Port: 8080}, "[::1]:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := simulationTarget(tt.addr)
			if err != nil {
				t.Fatalf("simulationTarget: %v", err)
			}
			if got := ep.Address(); got != tt.want {
				t.Errorf("target = %s, want %s", got, tt.want)
			}
			if err := ep.Validate(); err != nil {
				t.Errorf("target invalid: %v", err)
			}
		})
	}

	if _, err := simulationTarget(&net.UnixAddr{Name: "/tmp/x.sock", Net: "unix"}); err == nil {
		t.Error("a non-TCP listener should be rejected")
	}
}
