package transform

import (
	"cmp"
	"slices"

	"github.com/roach88/kiln/internal/ir"
)

// Task is one scheduled node.
type Task struct {
	Node   string `json:"node"`
	Core   int    `json:"core"`
	Level  int    `json:"level"`
	Start  int64  `json:"start"`
	Finish int64  `json:"finish"`
}

// Schedule is an execution order. On a single core it is one sequential
// order; on several cores it is a task graph with core affinity.
type Schedule struct {
	Order          []string `json:"order"`
	Tasks          []Task   `json:"tasks"`
	Cores          int      `json:"cores"`
	Depth          int      `json:"depth"`
	MaxParallelism int      `json:"max_parallelism"`
	Makespan       int64    `json:"makespan_cycles"`
}

// Summary converts the schedule for the report.
func (s Schedule) Summary(windows int) ir.ScheduleSummary {
	return ir.ScheduleSummary{
		Cores:          s.Cores,
		Depth:          s.Depth,
		MaxParallelism: s.MaxParallelism,
		Tasks:          len(s.Tasks),
		TimeWindows:    windows,
	}
}

// levels assigns each node its distance from the sources.
func levels(g *ir.Graph, order []string) map[string]int {
	lv := make(map[string]int, len(order))
	for _, id := range order {
		l := 0
		for _, e := range g.Inputs(id) {
			if pl, ok := lv[e.From.Node]; ok && pl+1 > l {
				l = pl + 1
			}
		}
		lv[id] = l
	}
	return lv
}

// pinnedRegions maps nodes of sequential and atomic regions to their
// region. Those nodes share one core.
func pinnedRegions(g *ir.Graph) map[string]string {
	pins := map[string]string{}
	for _, r := range g.Regions {
		if r.Kind != ir.RegionSequential && r.Kind != ir.RegionAtomic {
			continue
		}
		for _, n := range r.Nodes {
			if _, ok := pins[n]; !ok {
				pins[n] = r.ID
			}
		}
	}
	return pins
}

func schedule(g *ir.Graph, order []string, cycles map[string]int64, target ir.Target) Schedule {
	lv := levels(g, order)
	s := Schedule{Cores: max(target.Micro.Cores, 1)}
	width := map[int]int{}
	for _, id := range order {
		width[lv[id]]++
		s.Depth = max(s.Depth, lv[id]+1)
	}
	for _, w := range width {
		s.MaxParallelism = max(s.MaxParallelism, w)
	}

	if s.Cores == 1 {
		var clock int64
		for _, id := range order {
			t := Task{Node: id, Level: lv[id], Start: clock, Finish: clock + cycles[id]}
			clock = t.Finish
			s.Tasks = append(s.Tasks, t)
		}
		s.Order = slices.Clone(order)
		s.Makespan = clock
		return s
	}

	// List scheduling by level, then node ID.
	byLevel := slices.Clone(order)
	slices.SortStableFunc(byLevel, func(a, b string) int {
		if c := cmp.Compare(lv[a], lv[b]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	pins := pinnedRegions(g)
	regionCore := map[string]int{}
	free := make([]int64, s.Cores)
	finish := make(map[string]int64, len(order))
	for _, id := range byLevel {
		var ready int64
		for _, e := range g.Inputs(id) {
			ready = max(ready, finish[e.From.Node])
		}
		core := -1
		if r, ok := pins[id]; ok {
			if c, ok := regionCore[r]; ok {
				core = c
			}
		}
		if core < 0 {
			core = 0
			for c := 1; c < s.Cores; c++ {
				if max(free[c], ready) < max(free[core], ready) {
					core = c
				}
			}
			if r, ok := pins[id]; ok {
				regionCore[r] = core
			}
		}
		start := max(free[core], ready)
		t := Task{Node: id, Core: core, Level: lv[id], Start: start, Finish: start + cycles[id]}
		free[core] = t.Finish
		finish[id] = t.Finish
		s.Tasks = append(s.Tasks, t)
		s.Makespan = max(s.Makespan, t.Finish)
	}
	s.Order = byLevel
	return s
}
