package ir

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ObligationKind classifies a proof obligation.
type ObligationKind string

const (
	ObRefinement    ObligationKind = "refinement"
	ObPrecondition  ObligationKind = "precondition"
	ObPostcondition ObligationKind = "postcondition"
	ObResource      ObligationKind = "resource"
	ObLinearity     ObligationKind = "linearity"
	ObTermination   ObligationKind = "termination"
	ObProtocol      ObligationKind = "protocol"
)

// Round is the verification round an obligation belongs to. Round A runs
// right after canonicalization; round B needs a concrete layout.
type Round string

const (
	RoundA Round = "A"
	RoundB Round = "B"
)

// Measure is the quantity a resource obligation bounds.
type Measure string

const (
	MeasureWCET   Measure = "wcet_ns"
	MeasureStack  Measure = "stack_bytes"
	MeasureMemory Measure = "memory_bytes"
	MeasureEnergy Measure = "energy_nj"
)

// ObligationContext ties an obligation to the graph element it speaks
// about.
type ObligationContext struct {
	Node    string `json:"node,omitempty"`
	Edge    string `json:"edge,omitempty"`
	Region  string `json:"region,omitempty"`
	Section string `json:"section,omitempty"`
}

// String renders the context for diagnostics.
func (c ObligationContext) String() string {
	var parts []string
	if c.Node != "" {
		parts = append(parts, "node "+Short(c.Node))
	}
	if c.Edge != "" {
		parts = append(parts, "edge "+c.Edge)
	}
	if c.Region != "" {
		parts = append(parts, "region "+c.Region)
	}
	if c.Section != "" {
		parts = append(parts, "section "+c.Section)
	}
	return strings.Join(parts, ", ")
}

func (c ObligationContext) canonical() IRValue {
	return IRObject{
		"node":    IRString(c.Node),
		"edge":    IRString(c.Edge),
		"region":  IRString(c.Region),
		"section": IRString(c.Section),
	}
}

// Obligation is a machine-checkable claim. Its ID hashes the context, goal,
// assumptions and facts; Description, Critical and resolution fields are
// not part of identity.
type Obligation struct {
	ID          string            `json:"id"`
	Kind        ObligationKind    `json:"kind"`
	Round       Round             `json:"round"`
	Context     ObligationContext `json:"context"`
	Goal        Expr              `json:"goal"`
	Assumptions []Expr            `json:"assumptions,omitempty"`
	Vars        map[string]Type   `json:"vars,omitempty"`

	// resource obligations
	Measure Measure          `json:"measure,omitempty"`
	Bound   int64            `json:"bound,omitempty"`
	Facts   map[string]int64 `json:"facts,omitempty"`

	// linearity obligations
	Linearity Linearity `json:"linearity,omitempty"`
	Uses      int       `json:"uses,omitempty"`

	// termination obligations
	StaticBound int64 `json:"static_bound,omitempty"`

	// protocol obligations
	Protocol *Protocol `json:"protocol,omitempty"`

	Critical    bool   `json:"critical,omitempty"`
	Description string `json:"description,omitempty"`
}

// Canonical returns the identity-bearing content.
func (o Obligation) Canonical() IRValue {
	obj := IRObject{
		"kind":        IRString(o.Kind),
		"context":     o.Context.canonical(),
		"goal":        o.Goal.Canonical(),
		"assumptions": Exprs(o.Assumptions).Canonical(),
	}
	if len(o.Vars) > 0 {
		vars := make(IRObject, len(o.Vars))
		for k, t := range o.Vars {
			vars[k] = t.Canonical()
		}
		obj["vars"] = vars
	}
	if o.Measure != "" {
		obj["measure"] = IRString(o.Measure)
		obj["bound"] = IRInt(o.Bound)
	}
	if len(o.Facts) > 0 {
		obj["facts"] = Ints(o.Facts)
	}
	if o.Linearity != Unrestricted {
		obj["linearity"] = IRString(o.Linearity)
		obj["uses"] = IRInt(int64(o.Uses))
	}
	if o.StaticBound != 0 {
		obj["static_bound"] = IRInt(o.StaticBound)
	}
	if o.Protocol != nil {
		obj["protocol"] = o.Protocol.Canonical()
	}
	return obj
}

// Seal computes and stores the obligation's content hash.
func (o *Obligation) Seal() error {
	id, err := Hash(DomainObligation, *o)
	if err != nil {
		return fmt.Errorf("seal obligation: %w", err)
	}
	o.ID = id
	return nil
}

// Predicate renders the goal under its assumptions.
func (o Obligation) Predicate() string {
	if len(o.Assumptions) == 0 {
		return o.Goal.String()
	}
	as := make([]string, len(o.Assumptions))
	for i, a := range o.Assumptions {
		as[i] = a.String()
	}
	return strings.Join(as, ", ") + " ⊢ " + o.Goal.String()
}

// Bind returns a copy of a deferred resource obligation instantiated with
// layout facts. The copy gets a fresh identity.
func (o Obligation) Bind(facts map[string]int64) (Obligation, error) {
	b := o
	b.Facts = make(map[string]int64, len(facts))
	for k, v := range facts {
		b.Facts[k] = v
	}
	b.Assumptions = slices.Clone(o.Assumptions)
	if v, ok := facts[string(o.Measure)]; ok {
		b.Assumptions = append(b.Assumptions, Eq(Var(string(o.Measure)), Const(v)))
	}
	if err := b.Seal(); err != nil {
		return Obligation{}, err
	}
	return b, nil
}

// Verdict is a definitive engine result.
type Verdict string

const (
	VerdictProven    Verdict = "proven"
	VerdictDisproven Verdict = "disproven"
)

// Witness is an independently checkable certificate for an obligation, or
// the counterexample refuting it.
type Witness struct {
	ID            string   `json:"id"`
	Obligation    string   `json:"obligation"`
	Engine        string   `json:"engine"`
	EngineVersion string   `json:"engine_version"`
	Verdict       Verdict  `json:"verdict"`
	Evidence      IRObject `json:"evidence"`
}

// NewWitness builds a content-addressed witness.
func NewWitness(obligation, engine, version string, verdict Verdict, evidence IRObject) (Witness, error) {
	if evidence == nil {
		evidence = IRObject{}
	}
	w := Witness{
		Obligation:    obligation,
		Engine:        engine,
		EngineVersion: version,
		Verdict:       verdict,
		Evidence:      evidence,
	}
	id, err := Hash(DomainWitness, IRObject{
		"obligation":     IRString(obligation),
		"engine":         IRString(engine),
		"engine_version": IRString(version),
		"verdict":        IRString(verdict),
		"evidence":       evidence,
	})
	if err != nil {
		return Witness{}, fmt.Errorf("witness: %w", err)
	}
	w.ID = id
	return w, nil
}

// Counterexample is a concrete refutation: a variable assignment, or a
// trace for protocol obligations.
type Counterexample struct {
	Assignment map[string]int64 `json:"assignment,omitempty"`
	Trace      []string         `json:"trace,omitempty"`
	Note       string           `json:"note,omitempty"`
}

// Evidence converts the counterexample to witness evidence.
func (c Counterexample) Evidence() IRObject {
	obj := IRObject{}
	if len(c.Assignment) > 0 {
		obj["assignment"] = Ints(c.Assignment)
	}
	if len(c.Trace) > 0 {
		obj["trace"] = Strings(c.Trace)
	}
	if c.Note != "" {
		obj["note"] = IRString(c.Note)
	}
	return obj
}

// String renders the counterexample deterministically.
func (c Counterexample) String() string {
	var parts []string
	keys := make([]string, 0, len(c.Assignment))
	for k := range c.Assignment {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, c.Assignment[k]))
	}
	if len(c.Trace) > 0 {
		parts = append(parts, "trace "+strings.Join(c.Trace, " -> "))
	}
	if c.Note != "" {
		parts = append(parts, c.Note)
	}
	return strings.Join(parts, ", ")
}

// CounterexampleFrom decodes counterexample evidence.
func CounterexampleFrom(ev IRObject) Counterexample {
	var c Counterexample
	if a, ok := ev["assignment"].(IRObject); ok {
		c.Assignment = make(map[string]int64, len(a))
		for k, v := range a {
			if n, ok := v.(IRInt); ok {
				c.Assignment[k] = int64(n)
			}
		}
	}
	if t, ok := ev["trace"].(IRArray); ok {
		for _, s := range t {
			if str, ok := s.(IRString); ok {
				c.Trace = append(c.Trace, string(str))
			}
		}
	}
	if n, ok := ev["note"].(IRString); ok {
		c.Note = string(n)
	}
	return c
}

// ResultStatus is the user-visible outcome of one obligation.
type ResultStatus string

const (
	ResultVerified            ResultStatus = "verified"
	ResultWaived              ResultStatus = "waived"
	ResultFailed              ResultStatus = "failed-with-counterexample"
	ResultInconclusive        ResultStatus = "inconclusive"
	ResultInconclusiveTimeout ResultStatus = "inconclusive-timeout"
)

// Passing reports whether the status lets the gate pass.
func (s ResultStatus) Passing() bool {
	return s == ResultVerified || s == ResultWaived
}

// Waiver is a human-authorized, time-bounded exception for one obligation.
type Waiver struct {
	Obligation    string    `json:"obligation" yaml:"obligation"`
	Justification string    `json:"justification" yaml:"justification"`
	Author        string    `json:"author" yaml:"author"`
	Approver      string    `json:"approver" yaml:"approver"`
	Issued        time.Time `json:"issued" yaml:"issued"`
	Expires       time.Time `json:"expires" yaml:"expires"`
}

// Expired reports whether the waiver no longer applies at now.
func (w Waiver) Expired(now time.Time) bool {
	return !now.Before(w.Expires)
}

// Problems lists policy violations in the waiver record itself.
func (w Waiver) Problems() []string {
	var out []string
	if strings.TrimSpace(w.Obligation) == "" {
		out = append(out, "missing obligation")
	}
	if strings.TrimSpace(w.Justification) == "" {
		out = append(out, "missing justification")
	}
	if strings.TrimSpace(w.Author) == "" {
		out = append(out, "missing author")
	}
	if strings.TrimSpace(w.Approver) == "" {
		out = append(out, "missing approver")
	}
	if w.Expires.IsZero() {
		out = append(out, "missing expiration")
	} else if !w.Issued.IsZero() && !w.Expires.After(w.Issued) {
		out = append(out, "expires before issue date")
	}
	return out
}
