package ir

import "slices"

// ProofStatus is a contract's verification state. Exactly one holds.
type ProofStatus string

const (
	StatusPending  ProofStatus = "pending"
	StatusVerified ProofStatus = "verified"
	StatusFailed   ProofStatus = "failed"
	StatusWaived   ProofStatus = "waived"
)

// Effect is a side effect a node may perform.
type Effect string

const (
	EffectPure    Effect = "pure"
	EffectAlloc   Effect = "alloc"
	EffectIO      Effect = "io"
	EffectAtomic  Effect = "atomic"
	EffectFFI     Effect = "ffi"
	EffectDiverge Effect = "diverge"
	EffectPanic   Effect = "panic"
)

// TimeBound bounds the worst-case latency to produce a node's output,
// measured from the start of the enclosing activation.
type TimeBound struct {
	WCETNS   int64  `json:"wcet_ns" yaml:"wcet_ns"`
	Section  string `json:"section,omitempty" yaml:"section,omitempty"`
	Critical bool   `json:"critical,omitempty" yaml:"critical,omitempty"`
}

// MemoryBound bounds the memory a node may hold (static + stack + heap).
type MemoryBound struct {
	MaxBytes int64 `json:"max_bytes" yaml:"max_bytes"`
}

// EnergyBound bounds energy per activation in nanojoules.
type EnergyBound struct {
	MaxNJ int64 `json:"max_nj" yaml:"max_nj"`
}

// StackBound bounds the stack a node's frame may use.
type StackBound struct {
	MaxBytes int64 `json:"max_bytes" yaml:"max_bytes"`
}

// RecoveryKind names a recovery strategy.
type RecoveryKind string

const (
	RecoverAbort     RecoveryKind = "abort"
	RecoverRetry     RecoveryKind = "retry"
	RecoverDegrade   RecoveryKind = "degrade"
	RecoverPropagate RecoveryKind = "propagate"
)

// Recovery says what happens when a failure mode triggers.
type Recovery struct {
	Kind    RecoveryKind `json:"kind" yaml:"kind"`
	Retries int          `json:"retries,omitempty" yaml:"retries,omitempty"`
}

// FailureMode is a declared way a node can fail.
type FailureMode struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Recovery    Recovery `json:"recovery" yaml:"recovery"`
}

// Termination describes why an iterate/recurse/fixpoint node terminates.
// Bound is a static bound on iterations or recursion depth; Metric is a
// measure over "i" (the iteration index) that must stay non-negative and
// strictly decrease.
type Termination struct {
	Bound  int64 `json:"bound,omitempty" yaml:"bound,omitempty"`
	Metric *Expr `json:"metric,omitempty" yaml:"metric,omitempty"`
}

// Transition is one edge of a protocol state machine.
type Transition struct {
	From  string `json:"from" yaml:"from"`
	To    string `json:"to" yaml:"to"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Protocol is a finite state machine a node's interaction must follow.
// Reaching a Bad state or a non-final state without successors violates it.
type Protocol struct {
	States      []string     `json:"states" yaml:"states"`
	Initial     string       `json:"initial" yaml:"initial"`
	Final       []string     `json:"final,omitempty" yaml:"final,omitempty"`
	Bad         []string     `json:"bad,omitempty" yaml:"bad,omitempty"`
	Transitions []Transition `json:"transitions" yaml:"transitions"`
}

// Canonical returns the hashed form of the protocol.
func (p Protocol) Canonical() IRValue {
	ts := make(IRArray, len(p.Transitions))
	for i, t := range p.Transitions {
		ts[i] = IRObject{"from": IRString(t.From), "to": IRString(t.To), "label": IRString(t.Label)}
	}
	return IRObject{
		"states":      Strings(p.States),
		"initial":     IRString(p.Initial),
		"final":       Strings(p.Final),
		"bad":         Strings(p.Bad),
		"transitions": ts,
	}
}

// Contract is the behavioural and resource specification of a node.
type Contract struct {
	Pre         []Expr        `json:"pre,omitempty" yaml:"pre,omitempty"`
	Post        []Expr        `json:"post,omitempty" yaml:"post,omitempty"`
	Time        *TimeBound    `json:"time,omitempty" yaml:"time,omitempty"`
	Memory      *MemoryBound  `json:"memory,omitempty" yaml:"memory,omitempty"`
	Energy      *EnergyBound  `json:"energy,omitempty" yaml:"energy,omitempty"`
	Stack       *StackBound   `json:"stack,omitempty" yaml:"stack,omitempty"`
	Effects     []Effect      `json:"effects,omitempty" yaml:"effects,omitempty"`
	Failures    []FailureMode `json:"failures,omitempty" yaml:"failures,omitempty"`
	Recovery    *Recovery     `json:"recovery,omitempty" yaml:"recovery,omitempty"`
	Termination *Termination  `json:"termination,omitempty" yaml:"termination,omitempty"`
	Protocol    *Protocol     `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Status      ProofStatus   `json:"status,omitempty" yaml:"status,omitempty"`
}

// HasEffect reports whether the contract declares e.
func (c Contract) HasEffect(e Effect) bool {
	return slices.Contains(c.Effects, e)
}

// Pure reports whether the contract declares no effects besides pure.
func (c Contract) Pure() bool {
	for _, e := range c.Effects {
		if e != EffectPure {
			return false
		}
	}
	return true
}

// Canonical returns the hashed form. Status is excluded: verifying a node
// never changes its identity.
func (c Contract) Canonical() IRValue {
	obj := IRObject{
		"pre":  Exprs(c.Pre).Canonical(),
		"post": Exprs(c.Post).Canonical(),
	}
	if c.Time != nil {
		obj["time"] = IRObject{"wcet_ns": IRInt(c.Time.WCETNS), "section": IRString(c.Time.Section), "critical": IRBool(c.Time.Critical)}
	}
	if c.Memory != nil {
		obj["memory"] = IRInt(c.Memory.MaxBytes)
	}
	if c.Energy != nil {
		obj["energy"] = IRInt(c.Energy.MaxNJ)
	}
	if c.Stack != nil {
		obj["stack"] = IRInt(c.Stack.MaxBytes)
	}
	if len(c.Effects) > 0 {
		effects := make([]string, len(c.Effects))
		for i, e := range c.Effects {
			effects[i] = string(e)
		}
		slices.Sort(effects)
		obj["effects"] = Strings(slices.Compact(effects))
	}
	if len(c.Failures) > 0 {
		fs := make(IRArray, len(c.Failures))
		for i, f := range c.Failures {
			fs[i] = IRObject{"name": IRString(f.Name), "recovery": recoveryCanonical(f.Recovery)}
		}
		obj["failures"] = fs
	}
	if c.Recovery != nil {
		obj["recovery"] = recoveryCanonical(*c.Recovery)
	}
	if c.Termination != nil {
		t := IRObject{"bound": IRInt(c.Termination.Bound)}
		if c.Termination.Metric != nil {
			t["metric"] = c.Termination.Metric.Canonical()
		}
		obj["termination"] = t
	}
	if c.Protocol != nil {
		obj["protocol"] = c.Protocol.Canonical()
	}
	return obj
}

func recoveryCanonical(r Recovery) IRValue {
	return IRObject{"kind": IRString(r.Kind), "retries": IRInt(int64(r.Retries))}
}
