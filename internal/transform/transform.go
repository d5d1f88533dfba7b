package transform

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/kiln/internal/ir"
)

// FragmentCache stores lowered fragments across runs. Fetch returns the
// cached bytes for key, or calls build and stores its result; reused says
// which happened.
type FragmentCache interface {
	Fetch(ctx context.Context, key string, build func(context.Context) ([]byte, error)) (data []byte, reused bool, err error)
}

// FragmentKey is the cache key of one node's fragment. Keys are prefixed by
// the node ID so a changed node's entries can be dropped by prefix.
func FragmentKey(node, lower string) string {
	return "frag/" + node + "/" + lower
}

// TargetIR is the target-specific form of a graph: lowered fragments, a
// schedule, a storage layout, ABI adapters and the estimates derived from
// them.
type TargetIR struct {
	Graph     *ir.Graph
	Target    ir.Target
	Profile   ir.Profile
	Hints     Hints
	Settings  Settings
	Fragments []Fragment
	Routines  []Routine
	Schedule  Schedule
	Layout    Layout
	Adapters  []Adapter
	Estimates Estimates
	// Specialized counts generic types made concrete.
	Specialized int
	Reused      int
	Rebuilt     int
}

// Fragment returns the fragment lowered for node.
func (t *TargetIR) Fragment(node string) (Fragment, bool) {
	for _, f := range t.Fragments {
		if f.Node == node {
			return f, true
		}
	}
	return Fragment{}, false
}

// Section returns the named critical section.
func (t *TargetIR) Section(name string) (Section, bool) {
	for _, s := range t.Estimates.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// Windows is the total number of time windows across sections.
func (t *TargetIR) Windows() int {
	var n int
	for _, s := range t.Estimates.Sections {
		if s.Windows > 1 {
			n += s.Windows
		}
	}
	return n
}

// Measure evaluates a resource measure for an obligation context: a
// section, a region or a single node. ok is false when the context names
// nothing this transformation knows about.
func (t *TargetIR) Measure(ctx ir.ObligationContext, m ir.Measure) (int64, bool) {
	section := ctx.Section
	if section == "" && ctx.Node != "" && m == ir.MeasureWCET {
		section = ctx.Node
	}
	if _, ok := t.Section(section); !ok && ctx.Section == "" {
		section = ""
	}
	switch {
	case section != "":
		s, ok := t.Section(section)
		if !ok {
			return 0, false
		}
		return t.measureNodes(s.Nodes, m, &s)
	case ctx.Region != "":
		r, ok := t.Graph.Region(ctx.Region)
		if !ok {
			return 0, false
		}
		var sec *Section
		if s, ok := t.Section(r.ID); ok {
			sec = &s
		}
		return t.measureNodes(r.Nodes, m, sec)
	case ctx.Node != "":
		if _, ok := t.Fragment(ctx.Node); !ok {
			return 0, false
		}
		return t.measureNodes([]string{ctx.Node}, m, nil)
	}
	switch m {
	case ir.MeasureWCET:
		return t.Estimates.WCETNS, true
	case ir.MeasureStack:
		return t.Estimates.StackBytes, true
	case ir.MeasureMemory:
		return t.Estimates.RAMBytes(), true
	case ir.MeasureEnergy:
		return t.Estimates.EnergyNJ, true
	}
	return 0, false
}

func (t *TargetIR) measureNodes(nodes []string, m ir.Measure, sec *Section) (int64, bool) {
	if m == ir.MeasureWCET && sec != nil {
		return sec.WCETNS, true
	}
	slots := make(map[string]int64, len(t.Layout.Slots))
	for _, s := range t.Layout.Slots {
		if s.Class == StorageStack || s.Class == StorageStatic || s.Class == StorageHeap {
			slots[s.Value] = s.Size
		}
	}
	var v int64
	found := false
	for _, id := range nodes {
		f, ok := t.Fragment(id)
		if !ok {
			continue
		}
		found = true
		switch m {
		case ir.MeasureWCET:
			// Without a section, a node's latency is its finish time.
			for _, task := range t.Schedule.Tasks {
				if task.Node == id {
					v = max(v, t.Target.CyclesToNS(task.Finish))
				}
			}
		case ir.MeasureStack:
			v = max(v, t.Layout.FrameBytes+f.Frame*int64(max(f.Depth, 1)))
		case ir.MeasureMemory:
			v += slots[id] + f.Scratch + f.Heap
		case ir.MeasureEnergy:
			v += ceilDiv(f.Cycles*t.Target.Micro.EnergyPJPerCycle, 1000)
		default:
			return 0, false
		}
	}
	return v, found
}

// Transformer lowers canonical graphs for a target.
type Transformer struct {
	cache  FragmentCache
	logger *zap.Logger
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Transformer) { t.logger = l }
}

// WithFragmentCache reuses fragments across runs.
func WithFragmentCache(c FragmentCache) Option {
	return func(t *Transformer) { t.cache = c }
}

// New creates a Transformer.
func New(opts ...Option) *Transformer {
	t := &Transformer{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transform specializes, lowers, schedules and lays out g for target. The
// input graph is not modified. The result depends only on its arguments.
func (tr *Transformer) Transform(ctx context.Context, g *ir.Graph, target ir.Target, profile ir.Profile, hints Hints) (*TargetIR, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := profile.Validate(); err != nil {
		return nil, &TransformError{Reason: err.Error()}
	}
	settings := Effective(profile, hints)
	if settings.Inlining.Level() < 0 {
		return nil, &TransformError{Reason: fmt.Sprintf("unknown inlining %q", settings.Inlining)}
	}

	g = g.Clone()
	order, err := g.TopoOrder()
	if err != nil {
		return nil, &TransformError{Reason: err.Error()}
	}
	out := &TargetIR{
		Graph:       g,
		Target:      target,
		Profile:     profile,
		Hints:       hints.Clone(),
		Settings:    settings,
		Specialized: specialize(g, order),
	}

	l := &lowering{g: g, target: target, settings: settings, hints: hints}
	key := lowerKey(target, profile, hints)
	idx := g.Index()
	frags := make(map[string]Fragment, len(order))
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, reused, err := tr.fragment(ctx, l, g.Nodes[idx[id]], key)
		if err != nil {
			return nil, err
		}
		if reused {
			out.Reused++
		} else {
			out.Rebuilt++
		}
		frags[id] = f
		out.Fragments = append(out.Fragments, f)
	}

	adps, err := adapters(g, order, target)
	if err != nil {
		return nil, err
	}
	cycles := make(map[string]int64, len(order))
	for id, f := range frags {
		cycles[id] = f.Cycles
	}
	for _, a := range adps {
		cycles[a.Node] += a.Cycles
	}

	out.Schedule = schedule(g, order, cycles, target)
	out.Layout = layout(g, out.Schedule.Order, frags, target)
	out.Adapters = adps
	out.Routines = routines(out.Fragments)
	est := &estimator{g: g, target: target, settings: settings, hints: hints, order: order, frags: frags, cycles: cycles}
	out.Estimates = est.estimate(out.Schedule, out.Layout, adps, out.Routines)

	tr.logger.Debug("transformed",
		zap.String("target", target.Name),
		zap.String("strategy", string(settings.Strategy)),
		zap.String("inlining", string(settings.Inlining)),
		zap.Int("fragments", len(out.Fragments)),
		zap.Int("reused", out.Reused),
		zap.Int64("code_bytes", out.Estimates.CodeBytes),
		zap.Int64("wcet_ns", out.Estimates.WCETNS),
	)
	return out, nil
}

func (tr *Transformer) fragment(ctx context.Context, l *lowering, n ir.Node, key string) (Fragment, bool, error) {
	if tr.cache == nil {
		f, err := l.lower(n)
		return f, false, err
	}
	data, reused, err := tr.cache.Fetch(ctx, FragmentKey(n.ID, key), func(context.Context) ([]byte, error) {
		f, err := l.lower(n)
		if err != nil {
			return nil, err
		}
		return json.Marshal(f)
	})
	if err != nil {
		return Fragment{}, false, err
	}
	var f Fragment
	if err := json.Unmarshal(data, &f); err != nil {
		return Fragment{}, false, fmt.Errorf("decode fragment %s: %w", ir.Short(n.ID), err)
	}
	return f, reused, nil
}
