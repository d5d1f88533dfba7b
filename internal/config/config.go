// Package config loads kiln's configuration from YAML or CUE files.
//
// YAML is decoded strictly onto the defaults. CUE files are unified with
// the embedded #Config schema, which supplies the same defaults, and must
// be concrete. Either way Validate runs last and reports every problem at
// once.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/kiln/internal/fit"
	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/verify"
)

//go:embed schema.cue
var schemaSource string

// Defaults.
const (
	DefaultTarget  = "linux-x86_64"
	DefaultProfile = "balanced"
	DefaultRigor   = "integration"
)

// Config selects presets, declares custom targets and profiles, and wires
// the caches, the solver and the fitter.
type Config struct {
	Target  string `json:"target" yaml:"target"`
	Profile string `json:"profile" yaml:"profile"`
	Rigor   string `json:"rigor" yaml:"rigor"`

	// Targets and Profiles extend the built-in presets. A custom entry
	// shadows a preset of the same name.
	Targets  []ir.Target  `json:"targets,omitempty" yaml:"targets,omitempty"`
	Profiles []ir.Profile `json:"profiles,omitempty" yaml:"profiles,omitempty"`

	// Store is the SQLite file holding witnesses and reports. Empty keeps
	// both in memory.
	Store string `json:"store,omitempty" yaml:"store,omitempty"`
	// BuildCache is the badger directory of the incremental build cache.
	// Empty disables incremental builds.
	BuildCache string `json:"build_cache,omitempty" yaml:"build_cache,omitempty"`
	// Waivers is a YAML file of waivers applied to every run.
	Waivers string `json:"waivers,omitempty" yaml:"waivers,omitempty"`

	Solver *Solver `json:"solver,omitempty" yaml:"solver,omitempty"`

	Workers     int      `json:"workers" yaml:"workers"`
	MaxAttempts int      `json:"max_attempts" yaml:"max_attempts"`
	Priority    []string `json:"priority,omitempty" yaml:"priority,omitempty"`
	// Simulate runs the reference simulator as the post-verification
	// harness.
	Simulate bool `json:"simulate" yaml:"simulate"`
}

// Solver configures the external SMT solver process.
type Solver struct {
	Path          string   `json:"path" yaml:"path"`
	Args          []string `json:"args,omitempty" yaml:"args,omitempty"`
	Version       string   `json:"version" yaml:"version"`
	MaxConcurrent int      `json:"max_concurrent" yaml:"max_concurrent"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Target == "" {
		c.Target = DefaultTarget
	}
	if c.Profile == "" {
		c.Profile = DefaultProfile
	}
	if c.Rigor == "" {
		c.Rigor = DefaultRigor
	}
	if c.Workers == 0 {
		c.Workers = verify.DefaultWorkers
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = fit.DefaultMaxAttempts
	}
	if s := c.Solver; s != nil {
		if s.Version == "" {
			s.Version = "unknown"
		}
		if s.MaxConcurrent == 0 {
			s.MaxConcurrent = 1
		}
	}
}

// Load reads a configuration file. The format follows the extension:
// .cue is CUE, anything else YAML (and therefore JSON).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c *Config
	if filepath.Ext(path) == ".cue" {
		c, err = parseCUE(path, data)
	} else {
		c, err = parseYAML(data)
	}
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseYAML(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	c.applyDefaults()
	return c, nil
}

func parseCUE(path string, data []byte) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, cueProblems(err)
	}
	v = schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueProblems(err)
	}
	c := &Config{}
	if err := v.Decode(c); err != nil {
		return nil, cueProblems(err)
	}
	c.applyDefaults()
	return c, nil
}

func cueProblems(err error) *ValidationError {
	var problems []string
	for _, e := range cueerrors.Errors(err) {
		msg := e.Error()
		if pos := e.Position(); pos.IsValid() {
			msg = fmt.Sprintf("%s:%d:%d: %s", filepath.Base(pos.Filename()), pos.Line(), pos.Column(), msg)
		}
		problems = append(problems, msg)
	}
	if len(problems) == 0 {
		problems = []string{err.Error()}
	}
	return &ValidationError{Problems: problems}
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid config: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid config (%d problems):\n  %s", len(e.Problems), strings.Join(e.Problems, "\n  "))
}

// Validate checks that every name resolves and every custom entry is well
// formed.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	seen := map[string]bool{}
	for i, t := range c.Targets {
		switch {
		case t.Name == "":
			add("targets[%d]: name is required", i)
		case seen[t.Name]:
			add("targets[%d]: duplicate target %q", i, t.Name)
		}
		seen[t.Name] = true
		if t.Micro.ClockHz <= 0 {
			add("targets[%d]: micro.clock_hz must be positive", i)
		}
		if t.Env.FlashBytes <= 0 || t.Env.RAMBytes <= 0 {
			add("targets[%d]: env.flash_bytes and env.ram_bytes must be positive", i)
		}
	}
	seen = map[string]bool{}
	for i, p := range c.Profiles {
		if seen[p.Name] {
			add("profiles[%d]: duplicate profile %q", i, p.Name)
		}
		seen[p.Name] = true
		if err := p.Validate(); err != nil {
			add("profiles[%d]: %v", i, err)
		}
	}

	if _, err := c.ResolveTarget(c.Target); err != nil {
		add("%v", err)
	}
	if _, err := c.ResolveProfile(c.Profile); err != nil {
		add("%v", err)
	}
	if _, err := c.ResolveRigor(c.Rigor); err != nil {
		add("%v", err)
	}
	if c.Workers < 1 {
		add("workers must be at least 1")
	}
	if c.MaxAttempts < 1 {
		add("max_attempts must be at least 1")
	}
	for _, p := range c.Priority {
		if !slices.Contains(fit.DefaultPriority, fit.Class(p)) {
			add("priority: unknown constraint class %q", p)
		}
	}
	if s := c.Solver; s != nil {
		if s.Path == "" {
			add("solver.path is required")
		}
		if s.MaxConcurrent < 1 {
			add("solver.max_concurrent must be at least 1")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ResolveTarget returns a custom target or a preset.
func (c *Config) ResolveTarget(name string) (ir.Target, error) {
	for _, t := range c.Targets {
		if t.Name == name {
			return t, nil
		}
	}
	if t, ok := ir.TargetPreset(name); ok {
		return t, nil
	}
	return ir.Target{}, fmt.Errorf("unknown target %q (presets: %s)", name, strings.Join(ir.TargetPresetNames(), ", "))
}

// ResolveProfile returns a custom profile or a preset.
func (c *Config) ResolveProfile(name string) (ir.Profile, error) {
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, nil
		}
	}
	if p, ok := ir.ProfilePreset(name); ok {
		return p, nil
	}
	return ir.Profile{}, fmt.Errorf("unknown profile %q (presets: %s)", name, strings.Join(ir.ProfilePresetNames(), ", "))
}

// ResolveRigor returns a rigor preset.
func (c *Config) ResolveRigor(name string) (ir.Rigor, error) {
	if r, ok := ir.RigorPreset(name); ok {
		return r, nil
	}
	return ir.Rigor{}, fmt.Errorf("unknown rigor %q (presets: development, integration, certification)", name)
}

// PriorityClasses returns the configured constraint priority, or nil for
// the fitter's default.
func (c *Config) PriorityClasses() []fit.Class {
	if len(c.Priority) == 0 {
		return nil
	}
	out := make([]fit.Class, len(c.Priority))
	for i, p := range c.Priority {
		out[i] = fit.Class(p)
	}
	return out
}
