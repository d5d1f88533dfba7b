package transform

import (
	"fmt"

	"github.com/roach88/kiln/internal/ir"
)

// callStubBytes is the code at a call site of an out-of-line routine.
const callStubBytes = 8

// Fragment is one node lowered for a target. It depends only on the node,
// its (specialized) signature, the target and the effective settings.
type Fragment struct {
	Node    string  `json:"node"`
	Kind    ir.Kind `json:"kind"`
	Variant string  `json:"variant"`
	// Routine names the shared out-of-line body; empty when the node is
	// inlined or is a single instruction.
	Routine  string `json:"routine,omitempty"`
	Inline   bool   `json:"inline"`
	Elements int64  `json:"elements"`
	Lanes    int64  `json:"lanes"`
	Unroll   int64  `json:"unroll"`
	// BodyCode is one copy of the implementation; SiteCode is what the
	// node's site adds (the body when inlined, a stub otherwise).
	BodyCode int64  `json:"body_code"`
	SiteCode int64  `json:"site_code"`
	ROData   int64  `json:"rodata,omitempty"`
	ROKey    string `json:"rokey,omitempty"`
	// Cycles per execution, including call overhead.
	Cycles   int64 `json:"cycles"`
	Scratch  int64 `json:"scratch,omitempty"`
	Heap     int64 `json:"heap,omitempty"`
	Frame    int64 `json:"frame,omitempty"`
	Depth    int   `json:"depth,omitempty"`
	Branches int   `json:"branches,omitempty"`
	IOBytes  int64 `json:"io_bytes,omitempty"`
}

// lowering is the per-transformation context shared by every node.
type lowering struct {
	g        *ir.Graph
	target   ir.Target
	settings Settings
	hints    Hints
}

// elements is the number of elements a node processes.
func elements(n ir.Node) int64 {
	var t ir.Type
	switch {
	case len(n.Sig.Inputs) > 0:
		t = n.Sig.Inputs[0]
	default:
		t = n.Sig.Output
	}
	if (t.Base == ir.BaseArray || t.Base == ir.BaseBytes) && t.Len > 0 {
		return t.Len
	}
	return 1
}

func firstInput(n ir.Node) ir.Type {
	if len(n.Sig.Inputs) > 0 {
		return n.Sig.Inputs[0]
	}
	return ir.Type{Base: ir.BaseUnit}
}

func elemBytes(t ir.Type, word int64) int64 {
	if t.Base == ir.BaseArray && t.Elem != nil {
		return t.Elem.SizeBytes(word)
	}
	return 1
}

// iterations bounds a designated-cycle node.
func iterations(n ir.Node) int64 {
	if t := n.Contract.Termination; t != nil && t.Bound > 0 {
		return t.Bound
	}
	return n.Param("max_iterations", 16)
}

// callOverhead is the cycle cost of calling and returning from a routine.
func (l *lowering) callOverhead() int64 {
	return int64(2*l.target.Micro.PipelineStages + 2)
}

// routineFrame is the stack frame of an out-of-line routine.
func (l *lowering) routineFrame(scratch int64) int64 {
	word := l.target.WordBytes()
	return alignUp(2*word+scratch, int64(l.target.ISA.Convention.StackAlign))
}

func (l *lowering) lower(n ir.Node) (Fragment, error) {
	v, ok := selectVariant(n.Kind, l.settings, l.hints)
	if !ok {
		return Fragment{}, &TransformError{Node: n.ID, Reason: fmt.Sprintf("no lowering for kind %q", n.Kind)}
	}
	word := l.target.WordBytes()
	f := Fragment{Node: n.ID, Kind: n.Kind, Variant: v.Name, Lanes: 1, Unroll: 1, Branches: v.Branches}
	f.Elements = elements(n)

	if v.Loop {
		f.Unroll = unrollFactor(l.settings.Unrolling, f.Elements)
	}
	work := v.Work(f.Elements)
	if v.Vectorizable {
		if f.Lanes = vectorLanes(l.target, l.settings.Vectorization, f.Elements); f.Lanes > 1 {
			work = ceilDiv(work, f.Lanes)
		}
	}
	if v.Loop {
		work += 2 * ceilDiv(f.Elements, f.Unroll)
	}
	f.BodyCode = v.Code(f.Elements, f.Unroll)
	if f.Lanes > 1 {
		f.BodyCode += 16
	}
	if v.ROData > 0 {
		f.ROData = v.ROData
		f.ROKey = string(n.Kind) + "." + v.Name
	}
	if v.Scratch != nil {
		f.Scratch = v.Scratch(f.Elements, elemBytes(firstInput(n), word))
	}
	if l.settings.BranchFree && f.Branches > 0 && v.BranchFree {
		f.Branches = 0
	}

	if err := l.kindSpecific(n, &f, &work); err != nil {
		return Fragment{}, err
	}

	switch {
	case routineKinds[n.Kind] && f.BodyCode <= inlineLimit(l.settings.Inlining):
		f.Inline = true
		f.SiteCode = f.BodyCode
		f.Cycles = work
	case routineKinds[n.Kind] || runtimeKinds[n.Kind]:
		f.Routine = fmt.Sprintf("%s.%s/%d", n.Kind, v.Name, f.Elements)
		f.SiteCode = callStubBytes
		f.Cycles = work + l.callOverhead()
		f.Frame = l.routineFrame(f.Scratch)
		f.Depth = max(f.Depth, 1)
	default:
		f.Inline = true
		f.SiteCode = f.BodyCode
		f.Cycles = work
	}
	return f, nil
}

// kindSpecific adds the costs that depend on a node's parameters rather
// than its variant.
func (l *lowering) kindSpecific(n ir.Node, f *Fragment, work *int64) error {
	word := l.target.WordBytes()
	switch n.Kind {
	case ir.KindLiteral:
		if size := n.Sig.Output.SizeBytes(word); size > word {
			f.ROData = size
			f.ROKey = "literal." + n.ID
		}
	case ir.KindIterate, ir.KindFixpoint:
		body, err := l.bodyCost(n)
		if err != nil {
			return err
		}
		iters := iterations(n)
		f.BodyCode += body.code
		*work = iters * (*work + body.cycles)
	case ir.KindRecurse:
		body, err := l.bodyCost(n)
		if err != nil {
			return err
		}
		f.BodyCode += body.code
		depth := iterations(n)
		*work = depth * (*work + body.cycles + l.callOverhead())
		f.Depth = int(depth)
	case ir.KindCall:
		f.BodyCode += n.Param("callee_code", 64)
		*work += n.Param("callee_cycles", 32)
	case ir.KindRead, ir.KindWrite:
		t := n.Sig.Output
		if n.Kind == ir.KindWrite {
			t = firstInput(n)
		}
		f.IOBytes = t.SizeBytes(word)
		*work += ceilDiv(f.IOBytes, int64(max(l.target.Micro.BusBytes, 1)))
	case ir.KindAlloc:
		size := n.Sig.Output.SizeBytes(word)
		if size == 0 {
			size = n.Param("size", 0)
		}
		if size == 0 && !l.target.Env.HasHeap {
			return &TransformError{Node: n.ID, Reason: "unbounded allocation on a target without a heap"}
		}
		f.Heap = size
	case ir.KindFFICall:
		*work = n.Param("cycles", *work)
	}
	return nil
}

type cost struct{ code, cycles int64 }

// bodyCost lowers a designated node's body subgraph with the same settings.
// Bodies are small; their nodes are costed but not scheduled separately.
func (l *lowering) bodyCost(n ir.Node) (cost, error) {
	body := l.g.Bodies[n.Body]
	if body == nil {
		return cost{}, nil
	}
	sub := &lowering{g: body, target: l.target, settings: l.settings, hints: l.hints}
	var c cost
	for _, bn := range body.Nodes {
		f, err := sub.lower(bn)
		if err != nil {
			return cost{}, err
		}
		c.code += f.SiteCode
		c.cycles += f.Cycles
	}
	return c, nil
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

func alignUp(v, align int64) int64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}
