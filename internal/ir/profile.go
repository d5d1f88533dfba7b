package ir

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// Strategy is the code-size vs speed trade point.
type Strategy string

const (
	StrategySpeed          Strategy = "speed"
	StrategySize           Strategy = "size"
	StrategyPredictability Strategy = "predictability"
	StrategyBalanced       Strategy = "balanced"
)

// Inlining is the inlining aggressiveness.
type Inlining string

const (
	InlineNone       Inlining = "none"
	InlineMinimal    Inlining = "minimal"
	InlineSelective  Inlining = "selective"
	InlineModerate   Inlining = "moderate"
	InlineAggressive Inlining = "aggressive"
)

var inliningLevels = []Inlining{InlineNone, InlineMinimal, InlineSelective, InlineModerate, InlineAggressive}

// Level returns the position of i in the aggressiveness order, or -1.
func (i Inlining) Level() int { return slices.Index(inliningLevels, i) }

// Vectorization is the vectorization mode.
type Vectorization string

const (
	VectorNone        Vectorization = "none"
	VectorAuto        Vectorization = "auto"
	VectorFixedLength Vectorization = "fixed-length"
)

// Unrolling is the loop-unrolling policy.
type Unrolling string

const (
	UnrollNone       Unrolling = "none"
	UnrollSelective  Unrolling = "selective"
	UnrollFull       Unrolling = "full"
	UnrollAggressive Unrolling = "aggressive"
)

// Profile is the optimization profile: a closed set of named option
// effects.
type Profile struct {
	Name          string        `json:"name" yaml:"name"`
	Strategy      Strategy      `json:"strategy" yaml:"strategy"`
	Inlining      Inlining      `json:"inlining" yaml:"inlining"`
	Vectorization Vectorization `json:"vectorization" yaml:"vectorization"`
	Unrolling     Unrolling     `json:"loop_unrolling" yaml:"loop_unrolling"`
	BranchFree    bool          `json:"branch_free,omitempty" yaml:"branch_free,omitempty"`
	CacheLocking  bool          `json:"cache_locking,omitempty" yaml:"cache_locking,omitempty"`
}

// Validate rejects values outside the closed enumerations.
func (p Profile) Validate() error {
	switch p.Strategy {
	case StrategySpeed, StrategySize, StrategyPredictability, StrategyBalanced:
	default:
		return fmt.Errorf("profile %q: unknown strategy %q", p.Name, p.Strategy)
	}
	if p.Inlining.Level() < 0 {
		return fmt.Errorf("profile %q: unknown inlining %q", p.Name, p.Inlining)
	}
	switch p.Vectorization {
	case VectorNone, VectorAuto, VectorFixedLength:
	default:
		return fmt.Errorf("profile %q: unknown vectorization %q", p.Name, p.Vectorization)
	}
	switch p.Unrolling {
	case UnrollNone, UnrollSelective, UnrollFull, UnrollAggressive:
	default:
		return fmt.Errorf("profile %q: unknown loop unrolling %q", p.Name, p.Unrolling)
	}
	return nil
}

// Canonical returns the hashed form. Name is a label and is excluded.
func (p Profile) Canonical() IRValue {
	return IRObject{
		"strategy":       IRString(p.Strategy),
		"inlining":       IRString(p.Inlining),
		"vectorization":  IRString(p.Vectorization),
		"loop_unrolling": IRString(p.Unrolling),
		"branch_free":    IRBool(p.BranchFree),
		"cache_locking":  IRBool(p.CacheLocking),
	}
}

// Fingerprint is the profile's content hash, used in cache keys.
func (p Profile) Fingerprint() string { return MustHash(DomainProfile, p) }

var profilePresets = map[string]Profile{
	"throughput": {Name: "throughput", Strategy: StrategySpeed, Inlining: InlineAggressive,
		Vectorization: VectorAuto, Unrolling: UnrollAggressive},
	"minimal-size": {Name: "minimal-size", Strategy: StrategySize, Inlining: InlineNone,
		Vectorization: VectorNone, Unrolling: UnrollNone},
	"deterministic-timing": {Name: "deterministic-timing", Strategy: StrategyPredictability, Inlining: InlineSelective,
		Vectorization: VectorFixedLength, Unrolling: UnrollFull, BranchFree: true, CacheLocking: true},
	"balanced": {Name: "balanced", Strategy: StrategyBalanced, Inlining: InlineModerate,
		Vectorization: VectorAuto, Unrolling: UnrollSelective},
	"debug": {Name: "debug", Strategy: StrategyBalanced, Inlining: InlineNone,
		Vectorization: VectorNone, Unrolling: UnrollNone},
}

// ProfilePreset returns a built-in optimization profile.
func ProfilePreset(name string) (Profile, bool) {
	p, ok := profilePresets[name]
	return p, ok
}

// ProfilePresetNames lists built-in optimization profiles.
func ProfilePresetNames() []string {
	names := make([]string, 0, len(profilePresets))
	for n := range profilePresets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Severity of a finding.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Rigor is the verification profile: engine time budgets, exploration
// depth, waiver policy, cache reuse and how hard model-fidelity findings
// fail.
type Rigor struct {
	Name             string                   `json:"name" yaml:"name"`
	EngineTimeouts   map[string]time.Duration `json:"engine_timeouts" yaml:"engine_timeouts"`
	DefaultTimeout   time.Duration            `json:"default_timeout" yaml:"default_timeout"`
	ExploreDepth     int                      `json:"explore_depth" yaml:"explore_depth"`
	PropagationDepth int                      `json:"propagation_depth" yaml:"propagation_depth"`
	MaxWaivers       int                      `json:"max_waivers" yaml:"max_waivers"`
	ReuseCommitted   bool                     `json:"reuse_committed" yaml:"reuse_committed"`
	FidelitySeverity Severity                 `json:"fidelity_severity" yaml:"fidelity_severity"`
	SizeTolerancePct int                      `json:"size_tolerance_pct" yaml:"size_tolerance_pct"`
}

// Timeout returns the time budget for one engine invocation.
func (r Rigor) Timeout(engine string) time.Duration {
	if d, ok := r.EngineTimeouts[engine]; ok && d > 0 {
		return d
	}
	if r.DefaultTimeout > 0 {
		return r.DefaultTimeout
	}
	return 5 * time.Second
}

var rigorPresets = map[string]Rigor{
	"development": {
		Name:             "development",
		EngineTimeouts:   map[string]time.Duration{"solver": 2 * time.Second, "explore": time.Second},
		DefaultTimeout:   time.Second,
		ExploreDepth:     16,
		PropagationDepth: 4,
		MaxWaivers:       10,
		ReuseCommitted:   true,
		FidelitySeverity: SeverityWarning,
		SizeTolerancePct: 25,
	},
	"integration": {
		Name:             "integration",
		EngineTimeouts:   map[string]time.Duration{"solver": 10 * time.Second, "explore": 5 * time.Second},
		DefaultTimeout:   5 * time.Second,
		ExploreDepth:     64,
		PropagationDepth: 4,
		MaxWaivers:       3,
		ReuseCommitted:   true,
		FidelitySeverity: SeverityWarning,
		SizeTolerancePct: 10,
	},
	"certification": {
		Name:             "certification",
		EngineTimeouts:   map[string]time.Duration{"solver": 60 * time.Second, "explore": 30 * time.Second},
		DefaultTimeout:   30 * time.Second,
		ExploreDepth:     256,
		PropagationDepth: 8,
		MaxWaivers:       0,
		ReuseCommitted:   false,
		FidelitySeverity: SeverityError,
		SizeTolerancePct: 5,
	},
}

// RigorPreset returns a built-in verification profile.
func RigorPreset(name string) (Rigor, bool) {
	r, ok := rigorPresets[name]
	if ok {
		timeouts := make(map[string]time.Duration, len(r.EngineTimeouts))
		for k, v := range r.EngineTimeouts {
			timeouts[k] = v
		}
		r.EngineTimeouts = timeouts
	}
	return r, ok
}
