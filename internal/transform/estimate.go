package transform

import (
	"maps"
	"slices"

	"github.com/roach88/kiln/internal/ir"
)

// instrBytes is the fetch size of one instruction in the fetch model.
const instrBytes = 4

// Section is a named critical section: the nodes that declare it in their
// time bound, or the nodes of a time-constrained region with that ID.
type Section struct {
	Name     string   `json:"name"`
	Nodes    []string `json:"nodes"`
	BudgetNS int64    `json:"budget_ns,omitempty"`
	Critical bool     `json:"critical,omitempty"`
	// Cycles is the scheduled span of the section.
	Cycles       int64 `json:"cycles"`
	BranchCycles int64 `json:"branch_cycles"`
	FetchCycles  int64 `json:"fetch_cycles"`
	HotCode      int64 `json:"hot_code"`
	Windows      int   `json:"windows"`
	// WCETNS is the worst case of one window.
	WCETNS int64 `json:"wcet_ns"`
}

// MarginNS is the signed timing margin; negative means over budget.
func (s Section) MarginNS() int64 { return s.BudgetNS - s.WCETNS }

// Estimates are the predicted resource and timing figures of a
// transformation.
type Estimates struct {
	CodeBytes      int64 `json:"code_bytes"`
	RODataBytes    int64 `json:"rodata_bytes"`
	StaticBytes    int64 `json:"static_bytes"`
	StackBytes     int64 `json:"stack_bytes"`
	HeapBytes      int64 `json:"heap_bytes"`
	CallDepth      int   `json:"call_depth"`
	Cycles         int64 `json:"cycles"`
	MakespanCycles int64 `json:"makespan_cycles"`
	WCETNS         int64 `json:"wcet_ns"`
	EnergyNJ       int64 `json:"energy_nj"`
	IOBytes        int64 `json:"io_bytes"`
	// IORequired is the throughput demanded by bandwidth-constrained I/O
	// edges, in bytes per second.
	IORequired int64     `json:"io_required"`
	Sections   []Section `json:"sections,omitempty"`
}

// FlashBytes is code plus constant data.
func (e Estimates) FlashBytes() int64 { return e.CodeBytes + e.RODataBytes }

// RAMBytes is peak memory: static data, stack and heap.
func (e Estimates) RAMBytes() int64 { return e.StaticBytes + e.StackBytes + e.HeapBytes }

// Routine is a shared out-of-line implementation.
type Routine struct {
	Name      string  `json:"name"`
	Kind      ir.Kind `json:"kind"`
	Variant   string  `json:"variant"`
	CodeBytes int64   `json:"code_bytes"`
	Calls     int     `json:"calls"`
}

func routines(frags []Fragment) []Routine {
	byName := map[string]*Routine{}
	for _, f := range frags {
		if f.Routine == "" {
			continue
		}
		r, ok := byName[f.Routine]
		if !ok {
			r = &Routine{Name: f.Routine, Kind: f.Kind, Variant: f.Variant, CodeBytes: f.BodyCode}
			byName[f.Routine] = r
		}
		r.Calls++
	}
	out := make([]Routine, 0, len(byName))
	for _, name := range slices.Sorted(maps.Keys(byName)) {
		out = append(out, *byName[name])
	}
	return out
}

type estimator struct {
	g        *ir.Graph
	target   ir.Target
	settings Settings
	hints    Hints
	order    []string
	frags    map[string]Fragment
	cycles   map[string]int64
	sched    Schedule
}

func (e *estimator) estimate(sched Schedule, lay Layout, adps []Adapter, rts []Routine) Estimates {
	e.sched = sched
	var est Estimates
	rodata := map[string]int64{}
	for _, id := range e.order {
		f := e.frags[id]
		est.CodeBytes += f.SiteCode
		est.Cycles += e.cycles[id]
		est.IOBytes += f.IOBytes
		if f.ROKey != "" {
			rodata[f.ROKey] = f.ROData
		}
	}
	for _, r := range rts {
		est.CodeBytes += r.CodeBytes
	}
	for _, v := range rodata {
		est.RODataBytes += v
	}

	var callPeak, irqPeak int64
	depth := 0
	for _, f := range e.frags {
		callPeak = max(callPeak, f.Frame*int64(max(f.Depth, 1)))
		depth = max(depth, f.Depth)
	}
	irq := 0
	for _, a := range adps {
		est.CodeBytes += a.CodeBytes
		if a.Kind == ir.KindInterrupt {
			irqPeak = max(irqPeak, a.FrameBytes)
			irq = 1
			continue
		}
		callPeak = max(callPeak, a.FrameBytes)
	}
	est.StackBytes = lay.FrameBytes + callPeak + irqPeak
	est.CallDepth = 1 + depth + irq
	est.StaticBytes = lay.StaticBytes
	est.HeapBytes = lay.HeapBytes

	est.MakespanCycles = sched.Makespan
	est.WCETNS = e.target.CyclesToNS(sched.Makespan)
	est.EnergyNJ = ceilDiv(est.Cycles*e.target.Micro.EnergyPJPerCycle, 1000)

	for _, edge := range e.g.Edges {
		if edge.Bandwidth == nil || edge.Bandwidth.MinBytesPerSec == 0 {
			continue
		}
		if e.isIO(edge.From.Node) || e.isIO(edge.To.Node) {
			est.IORequired += edge.Bandwidth.MinBytesPerSec
		}
	}

	est.Sections = e.sections()
	return est
}

func (e *estimator) isIO(id string) bool {
	f, ok := e.frags[id]
	return ok && (f.Kind == ir.KindRead || f.Kind == ir.KindWrite)
}

// ancestors returns id and every node it transitively depends on. A time
// bound runs from the start of the activation, so all of them count.
func (e *estimator) ancestors(id string) []string {
	seen := map[string]bool{id: true}
	out := []string{id}
	for i := 0; i < len(out); i++ {
		for _, edge := range e.g.Inputs(out[i]) {
			if p := edge.From.Node; !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// sections collects critical sections from node time bounds and
// time-constrained regions, then costs each one. A node bound without a
// section name forms a section named by the node.
func (e *estimator) sections() []Section {
	byName := map[string]*Section{}
	get := func(name string) *Section {
		s, ok := byName[name]
		if !ok {
			s = &Section{Name: name}
			byName[name] = s
		}
		return s
	}
	budget := func(s *Section, b int64) {
		if s.BudgetNS == 0 || b < s.BudgetNS {
			s.BudgetNS = b
		}
	}
	for _, n := range e.g.Nodes {
		t := n.Contract.Time
		if t == nil {
			continue
		}
		name := t.Section
		if name == "" {
			name = n.ID
		}
		s := get(name)
		s.Nodes = append(s.Nodes, e.ancestors(n.ID)...)
		s.Critical = s.Critical || t.Critical
		budget(s, t.WCETNS)
	}
	for _, r := range e.g.Regions {
		if r.Constraints.MaxTimeNS == 0 {
			continue
		}
		s := get(r.ID)
		s.Nodes = append(s.Nodes, r.Nodes...)
		s.Critical = s.Critical || r.Kind == ir.RegionAtomic
		budget(s, r.Constraints.MaxTimeNS)
	}
	for _, s := range byName {
		slices.Sort(s.Nodes)
		s.Nodes = slices.Compact(s.Nodes)
	}

	out := make([]Section, 0, len(byName))
	for _, name := range slices.Sorted(maps.Keys(byName)) {
		s := byName[name]
		e.cost(s)
		out = append(out, *s)
	}
	return out
}

func (e *estimator) cost(s *Section) {
	in := make(map[string]bool, len(s.Nodes))
	for _, id := range s.Nodes {
		in[id] = true
	}

	// The section spans its earliest start to its latest finish, including
	// whatever the schedule interleaves with it.
	start, finish := int64(-1), int64(0)
	for _, t := range e.sched.Tasks {
		if !in[t.Node] {
			continue
		}
		if start < 0 || t.Start < start {
			start = t.Start
		}
		finish = max(finish, t.Finish)
	}
	if start >= 0 {
		s.Cycles = finish - start
	}

	conditional := map[string]bool{}
	for _, r := range e.g.Regions {
		if r.Kind == ir.RegionConditional {
			for _, id := range r.Nodes {
				conditional[id] = true
			}
		}
	}
	routinesSeen := map[string]bool{}
	for _, id := range s.Nodes {
		f, ok := e.frags[id]
		if !ok {
			continue
		}
		branches := f.Branches
		if conditional[id] && !e.settings.BranchFree {
			branches++
		}
		s.BranchCycles += int64(branches * e.target.Micro.BranchPenalty)
		s.HotCode += f.SiteCode
		if f.Routine != "" && !routinesSeen[f.Routine] {
			routinesSeen[f.Routine] = true
			s.HotCode += f.BodyCode
		}
	}
	s.FetchCycles = e.fetchPenalty(s.HotCode, s.Cycles)

	total := s.Cycles + s.BranchCycles + s.FetchCycles
	s.Windows = max(e.hints.Windows[s.Name], 1)
	if s.Windows > 1 {
		// Each window boundary saves and restores the register file.
		total = ceilDiv(total, int64(s.Windows)) + 2*int64(e.target.ISA.Registers)
	}
	s.WCETNS = e.target.CyclesToNS(total)
}

// fetchPenalty models flash wait states. Code that fits the fetch buffer
// fills it once; code that does not pays the wait states on every fetch.
func (e *estimator) fetchPenalty(hot, cycles int64) int64 {
	ws := int64(e.target.Micro.FlashWaitStates)
	if ws == 0 || hot == 0 {
		return 0
	}
	bus := int64(max(e.target.Micro.BusBytes, 1))
	if hot <= e.target.Micro.FetchBufferBytes {
		if e.settings.CacheLocking {
			return 0
		}
		return ceilDiv(hot, bus) * ws
	}
	return ceilDiv(cycles*ws*instrBytes, bus)
}
