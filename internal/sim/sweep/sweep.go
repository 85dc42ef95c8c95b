// Package sweep describes a batch of independent runs: a base tuning plus
// named override sets, each optionally replicated over several seeds.
package sweep

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"iftsim.dev/internal/sim/tuning"
)

type Config struct {
	Base map[string]any `yaml:"base,omitempty"`
	Runs []RunSpec      `yaml:"runs"`
}

type RunSpec struct {
	Name      string         `yaml:"name"`
	Seeds     []int64        `yaml:"seeds,omitempty"`
	Overrides map[string]any `yaml:"overrides,omitempty"`
}

// Run is one fully resolved simulation.
type Run struct {
	ID     string
	Name   string
	Seed   int64
	Tuning tuning.Tuning
}

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg = Config{}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("sweep.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("sweep.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{Runs: []RunSpec{{Name: "default"}}}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	if len(c.Runs) == 0 {
		c.Runs = defaults().Runs
	}
	for i := range c.Runs {
		name := strings.ToLower(strings.TrimSpace(c.Runs[i].Name))
		if name == "" {
			name = fmt.Sprintf("run_%d", i)
		}
		c.Runs[i].Name = name
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if _, err := tuning.Apply(tuning.Defaults(), c.Base); err != nil {
		return fmt.Errorf("base: %w", err)
	}
	seen := map[string]bool{}
	for _, r := range c.Runs {
		if !namePattern.MatchString(r.Name) {
			return fmt.Errorf("run name %q must match %s", r.Name, namePattern)
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate run name: %s", r.Name)
		}
		seen[r.Name] = true
		dup := map[int64]bool{}
		for _, s := range r.Seeds {
			if dup[s] {
				return fmt.Errorf("run %s repeats seed %d", r.Name, s)
			}
			dup[s] = true
		}
	}
	_, err := c.Resolve()
	return err
}

// Resolve expands every run over its seeds. Without explicit seeds a run
// uses the seed of its merged tuning.
func (c Config) Resolve() ([]Run, error) {
	c.Normalize()
	base, err := tuning.Apply(tuning.Defaults(), c.Base)
	if err != nil {
		return nil, fmt.Errorf("base: %w", err)
	}
	var out []Run
	for _, r := range c.Runs {
		t, err := tuning.Apply(base, r.Overrides)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", r.Name, err)
		}
		seeds := r.Seeds
		if len(seeds) == 0 {
			seeds = []int64{t.Seed}
		}
		for _, s := range seeds {
			rt := t
			rt.Seed = s
			if err := rt.Validate(); err != nil {
				return nil, fmt.Errorf("run %s seed %d: %w", r.Name, s, err)
			}
			out = append(out, Run{
				ID:     fmt.Sprintf("%s-s%d", r.Name, s),
				Name:   r.Name,
				Seed:   s,
				Tuning: rt,
			})
		}
	}
	return out, nil
}
