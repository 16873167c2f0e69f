package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/balatrobot/internal/game"
	"github.com/pelletier/go-toml/v2"
)

var ErrProfileNotFound = errors.New("config: run profile not found")

// RunProfile is one named way to start a run.
type RunProfile struct {
	Name  string `toml:"name"`
	Deck  string `toml:"deck"`
	Stake string `toml:"stake"`
	Seed  string `toml:"seed"`
}

// RunProfiles is the runs file: a default profile name and the profile list.
type RunProfiles struct {
	Default  string       `toml:"default"`
	Profiles []RunProfile `toml:"profiles"`
}

// RunParams are the resolved start_run arguments.
type RunParams struct {
	Deck  game.Deck
	Stake game.Stake
	Seed  *game.Seed
}

func LoadRunProfiles(path string) (RunProfiles, error) {
	var cfg RunProfiles
	if err := loadToml(path, &cfg); err != nil {
		return RunProfiles{}, err
	}
	if cfg.Default == "" && len(cfg.Profiles) > 0 {
		cfg.Default = cfg.Profiles[0].Name
	}
	if err := ValidateRunProfiles(cfg); err != nil {
		return RunProfiles{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateRunProfiles(cfg RunProfiles) error {
	seen := make(map[string]struct{}, len(cfg.Profiles))
	for i, p := range cfg.Profiles {
		if err := ValidateRunProfile(p); err != nil {
			return fmt.Errorf("profiles[%d] invalid: %w", i, err)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("profiles[%d] duplicate name %q", i, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	if cfg.Default != "" {
		if _, ok := seen[cfg.Default]; !ok {
			return fmt.Errorf("%w: default %q", ErrProfileNotFound, cfg.Default)
		}
	}
	return nil
}

func ValidateRunProfile(p RunProfile) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	_, err := p.Resolve()
	return err
}

// Lookup returns the named profile, or the default one when name is empty.
func (c RunProfiles) Lookup(name string) (RunProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.Default
	}
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return RunProfile{}, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
}

// Resolve parses deck and stake names. An empty stake means white.
func (p RunProfile) Resolve() (RunParams, error) {
	deck, err := game.ParseDeck(p.Deck)
	if err != nil {
		return RunParams{}, err
	}
	stake := game.StakeWhite
	if strings.TrimSpace(p.Stake) != "" {
		stake, err = game.ParseStake(p.Stake)
		if err != nil {
			return RunParams{}, err
		}
	}
	params := RunParams{Deck: deck, Stake: stake}
	if seed := strings.TrimSpace(p.Seed); seed != "" {
		s := game.Seed(seed)
		params.Seed = &s
	}
	return params, nil
}
