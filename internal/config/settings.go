package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings can be changed by operators while the service runs. Workflows
// copy them when they start.
type Settings struct {
	ProofWindow    time.Duration `yaml:"proof_window" json:"proofWindow"`
	InboundChannel string        `yaml:"inbound_channel" json:"inboundChannel"`
	ReviewChannel  string        `yaml:"review_channel" json:"reviewChannel"`
	SupervisorRole string        `yaml:"supervisor_role" json:"supervisorRole"`
	TicketCategory string        `yaml:"ticket_category" json:"ticketCategory"`
}

func (s Settings) Validate() error {
	if s.ProofWindow <= 0 {
		return errors.New("settings: proof_window must be positive")
	}
	return nil
}

// SettingsStore serves the current settings and persists updates.
type SettingsStore struct {
	current atomic.Pointer[Settings]
	mu      sync.Mutex
	path    string
}

// OpenSettings starts from defaults and applies the overrides stored at path,
// if that file exists.
func OpenSettings(path string, defaults Settings) (*SettingsStore, error) {
	s := &SettingsStore{path: path}
	current := defaults

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read settings: %w", err)
		default:
			if err := yaml.Unmarshal(data, &current); err != nil {
				return nil, fmt.Errorf("parse settings %s: %w", path, err)
			}
		}
	}

	if err := current.Validate(); err != nil {
		return nil, err
	}
	s.current.Store(&current)
	return s, nil
}

// Current returns a copy of the active settings.
func (s *SettingsStore) Current() Settings {
	return *s.current.Load()
}

// Update applies fn to a copy of the settings, validates and persists the
// result, then makes it current.
func (s *SettingsStore) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.Current()
	fn(&next)
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}

	if s.path != "" {
		data, err := yaml.Marshal(next)
		if err != nil {
			return Settings{}, fmt.Errorf("encode settings: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return Settings{}, fmt.Errorf("write settings: %w", err)
		}
		if err := os.WriteFile(s.path, data, 0o644); err != nil {
			return Settings{}, fmt.Errorf("write settings: %w", err)
		}
	}

	s.current.Store(&next)
	return next, nil
}
