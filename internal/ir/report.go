package ir

import (
	"fmt"
	"time"
)

// Report is the materialization summary. It is append-only once produced:
// the store rejects updates and deletes.
type Report struct {
	RunID      string    `json:"run_id"`
	Outcome    string    `json:"outcome"`
	Target     string    `json:"target"`
	Profile    string    `json:"profile"`
	Rigor      string    `json:"rigor"`
	GraphHash  string    `json:"graph_hash"`
	Generator  string    `json:"generator"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`

	Canonicalization CanonStats          `json:"canonicalization"`
	Verification     VerificationSummary `json:"verification"`
	Fit              FitSummary          `json:"fit"`
	Resources        []ResourceUsage     `json:"resources,omitempty"`
	Timing           []SectionTiming     `json:"timing,omitempty"`
	Schedule         ScheduleSummary     `json:"schedule"`
	Artifact         *ArtifactSummary    `json:"artifact,omitempty"`
	Fidelity         []Finding           `json:"fidelity,omitempty"`
	Incremental      IncrementalStats    `json:"incremental"`
}

// Run outcomes.
const (
	OutcomeMaterialized = "materialized"
	OutcomeFailed       = "failed"
	OutcomeCancelled    = "cancelled"
)

// CanonStats summarizes canonicalization.
type CanonStats struct {
	InitialNodes    int `json:"initial_nodes"`
	FinalNodes      int `json:"final_nodes"`
	Deduplicated    int `json:"deduplicated"`
	Inlined         int `json:"inlined"`
	Flattened       int `json:"flattened"`
	ResolvedModules int `json:"resolved_modules"`
}

// ObligationReport is one obligation's outcome.
type ObligationReport struct {
	ID             string       `json:"id"`
	Kind           string       `json:"kind"`
	Round          Round        `json:"round"`
	Context        string       `json:"context"`
	Predicate      string       `json:"predicate"`
	Status         ResultStatus `json:"status"`
	Critical       bool         `json:"critical,omitempty"`
	Engine         string       `json:"engine,omitempty"`
	Cached         bool         `json:"cached,omitempty"`
	Counterexample string       `json:"counterexample,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	Remediations   []string     `json:"remediations,omitempty"`
}

// WaiverUse records a waiver that let an obligation pass the gate.
type WaiverUse struct {
	Obligation    string    `json:"obligation"`
	Justification string    `json:"justification"`
	Author        string    `json:"author"`
	Approver      string    `json:"approver"`
	Expires       time.Time `json:"expires"`
}

// VerificationSummary counts obligation outcomes across both rounds.
type VerificationSummary struct {
	Total        int                `json:"total"`
	Verified     int                `json:"verified"`
	Waived       int                `json:"waived"`
	Failed       int                `json:"failed"`
	Inconclusive int                `json:"inconclusive"`
	Cached       int                `json:"cached"`
	Obligations  []ObligationReport `json:"obligations,omitempty"`
	Waivers      []WaiverUse        `json:"waivers,omitempty"`
}

// Add counts one obligation outcome.
func (v *VerificationSummary) Add(r ObligationReport) {
	v.Total++
	switch r.Status {
	case ResultVerified:
		v.Verified++
	case ResultWaived:
		v.Waived++
	case ResultFailed:
		v.Failed++
	default:
		v.Inconclusive++
	}
	if r.Cached {
		v.Cached++
	}
	v.Obligations = append(v.Obligations, r)
}

// FitSummary records the transform/fit backtracking loop. Violations is set
// only when no attempt fit.
type FitSummary struct {
	Attempts   int            `json:"attempts"`
	Applied    []string       `json:"applied,omitempty"`
	Reverted   []string       `json:"reverted,omitempty"`
	Selected   string         `json:"selected"`
	Violations []FitViolation `json:"violations,omitempty"`
}

// FitViolation is one constraint the best attempt still exceeded. Margin is
// Limit - Used and negative.
type FitViolation struct {
	Class      string `json:"class"`
	Resource   string `json:"resource"`
	Section    string `json:"section,omitempty"`
	Obligation string `json:"obligation,omitempty"`
	Used       int64  `json:"used"`
	Limit      int64  `json:"limit"`
	Margin     int64  `json:"margin"`
}

// ResourceUsage is one budget line. PercentBP is in basis points.
type ResourceUsage struct {
	Resource  string `json:"resource"`
	Used      int64  `json:"used"`
	Available int64  `json:"available"`
	PercentBP int64  `json:"percent_bp"`
}

// NewResourceUsage computes the percentage for a budget line.
func NewResourceUsage(resource string, used, available int64) ResourceUsage {
	u := ResourceUsage{Resource: resource, Used: used, Available: available}
	if available > 0 {
		u.PercentBP = used * 10000 / available
	}
	return u
}

// Percent renders the usage percentage with two decimals.
func (u ResourceUsage) Percent() string {
	return fmt.Sprintf("%d.%02d%%", u.PercentBP/100, u.PercentBP%100)
}

// SectionTiming is the timing of one named critical section.
type SectionTiming struct {
	Section  string `json:"section"`
	Node     string `json:"node,omitempty"`
	WCETNS   int64  `json:"wcet_ns"`
	BudgetNS int64  `json:"budget_ns"`
	MarginNS int64  `json:"margin_ns"`
	Source   string `json:"source"`
}

// ScheduleSummary describes the chosen schedule.
type ScheduleSummary struct {
	Cores          int `json:"cores"`
	Depth          int `json:"depth"`
	MaxParallelism int `json:"max_parallelism"`
	Tasks          int `json:"tasks"`
	TimeWindows    int `json:"time_windows,omitempty"`
}

// SectionSize is one artifact section.
type SectionSize struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ArtifactSummary describes the emitted artifact.
type ArtifactSummary struct {
	Digest    string        `json:"digest"`
	Size      int64         `json:"size"`
	Estimated int64         `json:"estimated"`
	Sections  []SectionSize `json:"sections"`
	Symbols   int           `json:"symbols"`
}

// Finding is a post-emission model-fidelity finding.
type Finding struct {
	Kind     string   `json:"kind"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Expected int64    `json:"expected,omitempty"`
	Measured int64    `json:"measured,omitempty"`
}

// IncrementalStats reports build-cache reuse.
type IncrementalStats struct {
	Reused      int `json:"reused"`
	Rebuilt     int `json:"rebuilt"`
	Changed     int `json:"changed"`
	Affected    int `json:"affected"`
	Invalidated int `json:"invalidated"`
}
