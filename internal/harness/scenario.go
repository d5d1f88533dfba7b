package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/kiln/internal/ir"
)

// Scenario is one materialization run with its expected outcome.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Graph is the path of the graph file, relative to the scenario.
	Graph string `yaml:"graph"`

	Target  string `yaml:"target"`
	Profile string `yaml:"profile"`
	Rigor   string `yaml:"rigor"`

	Waivers []ir.Waiver `yaml:"waivers,omitempty"`

	// Simulate selects the reference simulator as post-verification
	// harness.
	Simulate bool `yaml:"simulate,omitempty"`

	// RunID is the fixed run id. Empty defaults to "scenario-<name>".
	RunID string `yaml:"run_id,omitempty"`

	Expect Expect `yaml:"expect"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Expect is the expected run outcome.
type Expect struct {
	// Outcome is materialized, failed or cancelled.
	Outcome string `yaml:"outcome"`

	// ErrorCode is the diagnostic code of a failed run.
	ErrorCode string `yaml:"error_code,omitempty"`

	// Selected is the fit strategy that produced the artifact.
	Selected string `yaml:"selected,omitempty"`

	// Attempts is the number of fit attempts. Zero skips the check.
	Attempts int `yaml:"attempts,omitempty"`
}

// Assertion checks one property of the report.
type Assertion struct {
	Type string `yaml:"type"`

	// Status is the obligation status (verification_count) or finding
	// severity (fidelity_count).
	Status string `yaml:"status,omitempty"`
	Count  int    `yaml:"count,omitempty"`

	Section     string `yaml:"section,omitempty"`
	MinMarginNS int64  `yaml:"min_margin_ns,omitempty"`

	Resource string `yaml:"resource,omitempty"`

	Strategy string `yaml:"strategy,omitempty"`
}

// Assertion types.
const (
	AssertVerificationCount = "verification_count"
	AssertTimingMargin      = "timing_margin"
	AssertResourceWithin    = "resource_within"
	AssertFidelityCount     = "fidelity_count"
	AssertStrategyApplied   = "strategy_applied"
	AssertArtifact          = "artifact"
)

// LoadScenario reads a scenario file and resolves its graph path against
// the file's directory. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if s.Graph != "" && !filepath.IsAbs(s.Graph) {
		s.Graph = filepath.Join(filepath.Dir(path), s.Graph)
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// LoadScenarios loads every *.yaml scenario in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Graph == "" {
		return fmt.Errorf("graph is required")
	}
	if _, err := os.Stat(s.Graph); os.IsNotExist(err) {
		return fmt.Errorf("graph file not found: %s", s.Graph)
	}
	switch s.Expect.Outcome {
	case ir.OutcomeMaterialized, ir.OutcomeFailed, ir.OutcomeCancelled:
	case "":
		return fmt.Errorf("expect.outcome is required")
	default:
		return fmt.Errorf("expect.outcome: unknown outcome %q", s.Expect.Outcome)
	}
	if s.Expect.ErrorCode != "" && s.Expect.Outcome == ir.OutcomeMaterialized {
		return fmt.Errorf("expect.error_code requires a failed outcome")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertVerificationCount:
		switch a.Status {
		case "total", "verified", "waived", "failed", "inconclusive":
		default:
			return fmt.Errorf("assertions[%d]: unknown status %q for verification_count", index, a.Status)
		}
	case AssertTimingMargin:
		if a.Section == "" {
			return fmt.Errorf("assertions[%d]: section is required for timing_margin", index)
		}
	case AssertResourceWithin:
		if a.Resource == "" {
			return fmt.Errorf("assertions[%d]: resource is required for resource_within", index)
		}
	case AssertFidelityCount:
		switch ir.Severity(a.Status) {
		case ir.SeverityWarning, ir.SeverityError:
		default:
			return fmt.Errorf("assertions[%d]: unknown severity %q for fidelity_count", index, a.Status)
		}
	case AssertStrategyApplied:
		if a.Strategy == "" {
			return fmt.Errorf("assertions[%d]: strategy is required for strategy_applied", index)
		}
	case AssertArtifact:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
