// Package cli wires the cobra commands for the referee terminal and the
// development scoring server.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tkd-scorelink/referee/internal/app"
	"github.com/tkd-scorelink/referee/internal/conn"
	"github.com/tkd-scorelink/referee/internal/endpoint"
	"github.com/tkd-scorelink/referee/internal/logging"
	"github.com/tkd-scorelink/referee/internal/settings"
	"github.com/tkd-scorelink/referee/internal/transport"
)

const envPrefix = "TKD"

// Version is overridden at build time with -ldflags.
var Version = "dev"

type rootOptions struct {
	configFile  string
	settingsDir string
	host        string
	port        int
	referee     int
	secure      bool
	logFile     string
	debug       bool
	noConnect   bool

	// given holds the flags set on the command line itself, before the
	// config file and environment fill in the rest.
	given map[string]bool
}

func (o *rootOptions) onCommandLine(name string) bool { return o.given[name] }

// changedFlags snapshots which flags were set so far.
func changedFlags(fs *pflag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) { set[f.Name] = true })
	return set
}

// NewRootCmd builds the tkd-referee command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{}, viper.New())
}

func newRootCmd(opts *rootOptions, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "tkd-referee",
		Short:        "Referee scoring terminal for a TKD scoring server",
		Version:      Version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts.given = changedFlags(cmd.Flags())
			return initConfig(cmd, v, opts.configFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTerminal(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "",
		"config file (default is $HOME/.tkd-referee.yml)")

	f := cmd.Flags()
	f.StringVar(&opts.settingsDir, "settings-dir", settings.DefaultDir(),
		"Directory holding settings.yaml")
	f.StringVar(&opts.host, "host", "",
		"Scoring server host, optionally host:port; saved to settings")
	f.IntVar(&opts.port, "port", endpoint.DefaultPort,
		"Scoring server port; saved to settings")
	f.IntVar(&opts.referee, "referee", settings.MinRefereeID,
		"Referee number (1-3); saved to settings")
	f.BoolVar(&opts.secure, "secure", false,
		"Use wss:// for non-loopback servers; saved to settings")
	f.StringVar(&opts.logFile, "log-file", "",
		"Log file (default is $XDG_STATE_HOME/tkd-referee/referee.log)")
	f.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	f.BoolVar(&opts.noConnect, "no-connect", false,
		"Do not connect on start")

	cmd.AddCommand(NewServeCmd())
	return cmd
}

// initConfig reads the optional config file and environment, then applies
// them to any flag not given on the command line.
func initConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".tkd-referee")
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	return bindFlags(cmd, v)
}

// bindFlags binds each cobra flag to its viper key and environment
// variable, e.g. --settings-dir to TKD_SETTINGS_DIR.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var errs []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if strings.Contains(f.Name, "-") {
			envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if err := v.BindEnv(f.Name, fmt.Sprintf("%s_%s", envPrefix, envVarSuffix)); err != nil {
				errs = append(errs, fmt.Errorf("binding env for %s: %w", f.Name, err))
			}
		}
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
				errs = append(errs, fmt.Errorf("setting %s from config: %w", f.Name, err))
			}
		}
	})
	return errors.Join(errs...)
}

// flagPatch turns the settings flags selected by include into a Patch.
// runTerminal persists the command-line ones like an edit in the settings
// form and applies the environment and config file ones to this run only.
func flagPatch(fs *pflag.FlagSet, o *rootOptions, include func(name string) bool) (settings.Patch, error) {
	var p settings.Patch
	if include("host") {
		host := strings.TrimSpace(o.host)
		if host != "" {
			ep, err := endpoint.Parse(host)
			if err != nil {
				return p, fmt.Errorf("--host: %w", err)
			}
			host = ep.Host
			if !fs.Changed("port") && ep.Port != endpoint.DefaultPort {
				port := ep.Port
				p.Port = &port
			}
		}
		p.Host = &host
	}
	if include("port") {
		port := o.port
		p.Port = &port
	}
	if include("referee") {
		ref := o.referee
		p.RefereeID = &ref
	}
	if include("secure") {
		secure := o.secure
		p.Secure = &secure
	}
	return p, nil
}

// loadSettings reads the stored settings, saves the command-line overrides
// and layers the environment and config file values on top for this run.
func loadSettings(store *settings.Store, fs *pflag.FlagSet, o *rootOptions) (*settings.Settings, error) {
	persist, err := flagPatch(fs, o, o.onCommandLine)
	if err != nil {
		return nil, err
	}
	session, err := flagPatch(fs, o, fs.Changed)
	if err != nil {
		return nil, err
	}

	var st *settings.Settings
	if persist.Empty() {
		st, err = store.Load()
	} else {
		st, err = store.Update(persist)
	}
	if err != nil {
		return nil, err
	}
	if session.Empty() {
		return st, nil
	}
	if st, err = st.Apply(session); err != nil {
		return nil, err
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return st, nil
}

func runTerminal(cmd *cobra.Command, opts *rootOptions) error {
	logFile := opts.logFile
	if logFile == "" {
		logFile = logging.DefaultFile()
	}
	tap := logging.NewTap(256)
	logger, flush, err := logging.New(logging.Options{File: logFile, Debug: opts.debug, Tap: tap})
	if err != nil {
		return err
	}
	defer flush()

	store := settings.NewStore(opts.settingsDir).WithLogger(logger)
	st, err := loadSettings(store, cmd.Flags(), opts)
	if err != nil {
		return err
	}
	logger.Info("starting",
		zap.String("version", Version),
		zap.String("settings", store.Path()),
		zap.Int("referee", st.RefereeID),
	)

	mgr := conn.New(conn.Config{
		Identity: st.RefereeID,
		Secure:   st.Server.Secure,
		Dialer:   transport.NewWSDialer(transport.DefaultConfig(), logger),
		Logger:   logger,
	})
	defer mgr.Close()

	model := app.New(app.Options{
		Link:                 mgr,
		Store:                store,
		Settings:             st,
		Logs:                 tap.Entries(),
		Logger:               logger,
		MaxReconnectAttempts: conn.DefaultMaxReconnectAttempts,
		AutoConnect:          !opts.noConnect,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running terminal: %w", err)
	}
	return nil
}
