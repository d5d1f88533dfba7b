package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/kiln/internal/ir"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against rep and returns the
// failure messages.
func EvaluateAssertions(rep *ir.Report, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(rep, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(rep *ir.Report, a Assertion) error {
	switch a.Type {
	case AssertVerificationCount:
		return assertVerificationCount(rep.Verification, a)
	case AssertTimingMargin:
		return assertTimingMargin(rep.Timing, a)
	case AssertResourceWithin:
		return assertResourceWithin(rep.Resources, a)
	case AssertFidelityCount:
		return assertFidelityCount(rep.Fidelity, a)
	case AssertStrategyApplied:
		if slices.Contains(rep.Fit.Applied, a.Strategy) {
			return nil
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: "strategy " + a.Strategy + " applied",
			Actual:   fmt.Sprintf("applied %v", rep.Fit.Applied),
		}
	case AssertArtifact:
		if rep.Artifact != nil {
			return nil
		}
		return &AssertionError{Type: a.Type, Expected: "an emitted artifact", Actual: "none"}
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertVerificationCount(v ir.VerificationSummary, a Assertion) error {
	var got int
	switch a.Status {
	case "total":
		got = v.Total
	case "verified":
		got = v.Verified
	case "waived":
		got = v.Waived
	case "failed":
		got = v.Failed
	case "inconclusive":
		got = v.Inconclusive
	}
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d %s obligations", a.Count, a.Status),
		Actual:   fmt.Sprintf("%d", got),
	}
}

func assertTimingMargin(timing []ir.SectionTiming, a Assertion) error {
	for _, s := range timing {
		if s.Section != a.Section {
			continue
		}
		if s.MarginNS >= a.MinMarginNS {
			return nil
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("section %s margin >= %dns", a.Section, a.MinMarginNS),
			Actual:   fmt.Sprintf("margin %dns (wcet %dns, budget %dns)", s.MarginNS, s.WCETNS, s.BudgetNS),
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: "section " + a.Section,
		Actual:   "not in report",
	}
}

func assertResourceWithin(resources []ir.ResourceUsage, a Assertion) error {
	for _, r := range resources {
		if r.Resource != a.Resource {
			continue
		}
		if r.Used <= r.Available {
			return nil
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s within %d", a.Resource, r.Available),
			Actual:   fmt.Sprintf("%d used (%s)", r.Used, r.Percent()),
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: "resource " + a.Resource,
		Actual:   "not in report",
	}
}

func assertFidelityCount(findings []ir.Finding, a Assertion) error {
	got := 0
	for _, f := range findings {
		if f.Severity == ir.Severity(a.Status) {
			got++
		}
	}
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d %s findings", a.Count, a.Status),
		Actual:   fmt.Sprintf("%d", got),
	}
}
