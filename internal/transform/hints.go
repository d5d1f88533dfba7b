package transform

import (
	"maps"
	"slices"

	"github.com/roach88/kiln/internal/ir"
)

// Hints constrain lowering beyond the profile. The fitter produces them;
// the zero value means "follow the profile".
type Hints struct {
	// Variants forces a variant per kind.
	Variants map[ir.Kind]string `json:"variants,omitempty"`
	// Inlining overrides the profile's inlining level.
	Inlining ir.Inlining `json:"inlining,omitempty"`
	// Strategy overrides the profile's speed/size trade point.
	Strategy ir.Strategy `json:"strategy,omitempty"`
	// Windows splits named critical sections across time windows.
	Windows map[string]int `json:"windows,omitempty"`
}

// Clone returns a deep copy.
func (h Hints) Clone() Hints {
	return Hints{
		Variants: maps.Clone(h.Variants),
		Inlining: h.Inlining,
		Strategy: h.Strategy,
		Windows:  maps.Clone(h.Windows),
	}
}

// Empty reports whether h changes nothing.
func (h Hints) Empty() bool {
	return len(h.Variants) == 0 && h.Inlining == "" && h.Strategy == "" && len(h.Windows) == 0
}

// Canonical implements ir.Canonicaler.
func (h Hints) Canonical() ir.IRValue {
	variants := ir.IRObject{}
	for _, k := range slices.Sorted(maps.Keys(h.Variants)) {
		variants[string(k)] = ir.IRString(h.Variants[k])
	}
	windows := ir.IRObject{}
	for k, v := range h.Windows {
		windows[k] = ir.IRInt(v)
	}
	return ir.IRObject{
		"variants": variants,
		"inlining": ir.IRString(h.Inlining),
		"strategy": ir.IRString(h.Strategy),
		"windows":  windows,
	}
}

// Settings are the effective knobs of one transformation: the profile with
// hints applied.
type Settings struct {
	Strategy      ir.Strategy      `json:"strategy"`
	Inlining      ir.Inlining      `json:"inlining"`
	Vectorization ir.Vectorization `json:"vectorization"`
	Unrolling     ir.Unrolling     `json:"loop_unrolling"`
	BranchFree    bool             `json:"branch_free,omitempty"`
	CacheLocking  bool             `json:"cache_locking,omitempty"`
}

// Effective applies h to p.
func Effective(p ir.Profile, h Hints) Settings {
	s := Settings{
		Strategy:      p.Strategy,
		Inlining:      p.Inlining,
		Vectorization: p.Vectorization,
		Unrolling:     p.Unrolling,
		BranchFree:    p.BranchFree,
		CacheLocking:  p.CacheLocking,
	}
	if h.Strategy != "" {
		s.Strategy = h.Strategy
	}
	if h.Inlining != "" {
		s.Inlining = h.Inlining
	}
	return s
}

// lowerKey fingerprints everything a fragment depends on besides the node.
// Time windows only affect section estimates and are left out.
func lowerKey(target ir.Target, p ir.Profile, h Hints) string {
	h = h.Clone()
	h.Windows = nil
	return ir.MustHash(ir.DomainFragment, ir.IRObject{
		"target":  ir.IRString(target.Fingerprint()),
		"profile": p.Canonical(),
		"hints":   h.Canonical(),
	})
}
