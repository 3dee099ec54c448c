// Package settings persists the referee terminal's configuration: referee
// number, scoring server address and the point value of each technique.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tkd-scorelink/referee/internal/endpoint"
	"github.com/tkd-scorelink/referee/internal/protocol"
)

const (
	settingsFileName = "settings.yaml"
	appDirName       = "tkd-referee"

	MinRefereeID = 1
	MaxRefereeID = 3
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid settings")

// Settings is the persisted configuration.
type Settings struct {
	RefereeID int    `yaml:"referee_id"`
	Server    Server `yaml:"server"`
	Points    Points `yaml:"points"`
}

// Server is the scoring server address. An empty host means "not
// configured yet".
type Server struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Secure bool   `yaml:"secure"`
}

// Points maps each technique to the value it awards.
type Points struct {
	HeadTap   int `yaml:"head_tap"`
	HeadSwipe int `yaml:"head_swipe"`
	BodyTap   int `yaml:"body_tap"`
	BodySwipe int `yaml:"body_swipe"`
	Punch     int `yaml:"punch"`
}

// Default returns the out-of-the-box configuration.
func Default() *Settings {
	return &Settings{
		RefereeID: MinRefereeID,
		Server:    Server{Port: endpoint.DefaultPort},
		Points: Points{
			HeadTap:   3,
			HeadSwipe: 5,
			BodyTap:   2,
			BodySwipe: 4,
			Punch:     1,
		},
	}
}

// For returns the value of a technique label.
func (p Points) For(technique string) (int, bool) {
	switch technique {
	case protocol.TechniqueHeadTap:
		return p.HeadTap, true
	case protocol.TechniqueHeadSwipe:
		return p.HeadSwipe, true
	case protocol.TechniqueBodyTap:
		return p.BodyTap, true
	case protocol.TechniqueBodySwipe:
		return p.BodySwipe, true
	case protocol.TechniquePunch:
		return p.Punch, true
	}
	return 0, false
}

func (p *Points) set(technique string, v int) error {
	switch technique {
	case protocol.TechniqueHeadTap:
		p.HeadTap = v
	case protocol.TechniqueHeadSwipe:
		p.HeadSwipe = v
	case protocol.TechniqueBodyTap:
		p.BodyTap = v
	case protocol.TechniqueBodySwipe:
		p.BodySwipe = v
	case protocol.TechniquePunch:
		p.Punch = v
	default:
		return fmt.Errorf("%w: unknown technique %q", ErrInvalid, technique)
	}
	return nil
}

// Validate checks every field.
func (s *Settings) Validate() error {
	if s.RefereeID < MinRefereeID || s.RefereeID > MaxRefereeID {
		return fmt.Errorf("%w: referee_id %d must be between %d and %d", ErrInvalid, s.RefereeID, MinRefereeID, MaxRefereeID)
	}
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d must be between 1 and 65535", ErrInvalid, s.Server.Port)
	}
	for name, v := range map[string]int{
		protocol.TechniqueHeadTap:   s.Points.HeadTap,
		protocol.TechniqueHeadSwipe: s.Points.HeadSwipe,
		protocol.TechniqueBodyTap:   s.Points.BodyTap,
		protocol.TechniqueBodySwipe: s.Points.BodySwipe,
		protocol.TechniquePunch:     s.Points.Punch,
	} {
		if v < 0 {
			return fmt.Errorf("%w: points for %s must not be negative", ErrInvalid, name)
		}
	}
	return nil
}

// repair resets every field that fails validation to its default and returns
// the names of the fields it changed.
func (s *Settings) repair() []string {
	def := Default()
	var fixed []string
	if s.RefereeID < MinRefereeID || s.RefereeID > MaxRefereeID {
		s.RefereeID = def.RefereeID
		fixed = append(fixed, "referee_id")
	}
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		s.Server.Port = def.Server.Port
		fixed = append(fixed, "server.port")
	}
	points := []struct {
		name string
		v    *int
		def  int
	}{
		{"points.head_tap", &s.Points.HeadTap, def.Points.HeadTap},
		{"points.head_swipe", &s.Points.HeadSwipe, def.Points.HeadSwipe},
		{"points.body_tap", &s.Points.BodyTap, def.Points.BodyTap},
		{"points.body_swipe", &s.Points.BodySwipe, def.Points.BodySwipe},
		{"points.punch", &s.Points.Punch, def.Points.Punch},
	}
	for _, p := range points {
		if *p.v < 0 {
			*p.v = p.def
			fixed = append(fixed, p.name)
		}
	}
	return fixed
}

// Configured reports whether a server host has been set.
func (s *Settings) Configured() bool { return s.Server.Host != "" }

// Endpoint returns the configured server address.
func (s *Settings) Endpoint() (endpoint.Endpoint, error) {
	ep := endpoint.New(s.Server.Host, s.Server.Port)
	return ep, ep.Validate()
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	RefereeID *int
	Host      *string
	Port      *int
	Secure    *bool
	Points    map[string]int // technique label -> value
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.RefereeID == nil && p.Host == nil && p.Port == nil && p.Secure == nil && len(p.Points) == 0
}

// Apply returns a copy of s with p applied. The result is not validated.
func (s *Settings) Apply(p Patch) (*Settings, error) {
	cp := *s
	if p.RefereeID != nil {
		cp.RefereeID = *p.RefereeID
	}
	if p.Host != nil {
		cp.Server.Host = *p.Host
	}
	if p.Port != nil {
		cp.Server.Port = *p.Port
	}
	if p.Secure != nil {
		cp.Server.Secure = *p.Secure
	}
	for technique, v := range p.Points {
		if err := cp.Points.set(technique, v); err != nil {
			return nil, err
		}
	}
	return &cp, nil
}

// Store loads and saves Settings as YAML.
type Store struct {
	dir string // directory containing settings.yaml
	log *zap.Logger
}

// NewStore creates a Store in dir. The directory is created on the first
// Save. Pass an empty string to use the default XDG config path.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Store{dir: dir, log: zap.NewNop()}
}

// WithLogger sets the logger that reports repaired fields.
func (s *Store) WithLogger(l *zap.Logger) *Store {
	if l != nil {
		s.log = l.Named("settings")
	}
	return s
}

// Path returns the full path to the settings file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, settingsFileName)
}

// Load reads settings from disk. A missing file yields Default(). Fields
// absent from the file keep their default values, and fields holding invalid
// values are replaced by their defaults with a warning.
func (s *Store) Load() (*Settings, error) {
	st := Default()
	path := s.Path()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if err := yaml.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	if st.Server.Port == 0 {
		st.Server.Port = endpoint.DefaultPort
	}
	for _, field := range st.repair() {
		s.log.Warn("invalid setting replaced by its default",
			zap.String("file", path),
			zap.String("field", field),
		)
	}
	return st, nil
}

// Save validates st and writes it using an atomic temp-file-then-rename.
func (s *Store) Save(st *Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}

	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("renaming settings file: %w", err)
	}
	committed = true
	return nil
}

// Update loads the current settings, applies p and saves the result.
func (s *Store) Update(p Patch) (*Settings, error) {
	cur, err := s.Load()
	if err != nil {
		return nil, err
	}
	next, err := cur.Apply(p)
	if err != nil {
		return nil, err
	}
	if err := s.Save(next); err != nil {
		return nil, err
	}
	return next, nil
}

// DefaultDir returns ~/.config/tkd-referee, respecting XDG_CONFIG_HOME.
func DefaultDir() string {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", appDirName)
}
