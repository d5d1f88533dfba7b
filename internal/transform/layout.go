package transform

import (
	"cmp"
	"slices"

	"github.com/roach88/kiln/internal/ir"
)

// StorageClass says where a value lives.
type StorageClass string

const (
	StorageRegister  StorageClass = "register"
	StorageStack     StorageClass = "stack"
	StorageStatic    StorageClass = "static"
	StorageHeap      StorageClass = "heap"
	StorageConstant  StorageClass = "rodata"
	StorageImmediate StorageClass = "immediate"
	// StorageCaller values are passed by reference and owned by the caller.
	StorageCaller StorageClass = "caller"
)

// reservedRegisters are the stack pointer, link register and program
// counter.
const reservedRegisters = 3

// Slot is the storage of one node's output value. Start and End are the
// schedule positions of its definition and last use.
type Slot struct {
	Value    string       `json:"value"`
	Class    StorageClass `json:"class"`
	Register int          `json:"register,omitempty"`
	Offset   int64        `json:"offset,omitempty"`
	Size     int64        `json:"size"`
	Start    int          `json:"start"`
	End      int          `json:"end"`
}

// Layout is the storage assignment of one transformation.
type Layout struct {
	Slots       []Slot `json:"slots"`
	FrameBytes  int64  `json:"frame_bytes"`
	StaticBytes int64  `json:"static_bytes"`
	HeapBytes   int64  `json:"heap_bytes"`
	Spills      int    `json:"spills"`
	// Released counts linear, affine and unique values whose storage is
	// released at their single consumer.
	Released int `json:"released"`
}

type interval struct {
	slot int
	end  int
}

func layout(g *ir.Graph, order []string, frags map[string]Fragment, target ir.Target) Layout {
	word := target.WordBytes()
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	idx := g.Index()

	var l Layout
	for i, id := range order {
		n := g.Nodes[idx[id]]
		size := n.Sig.Output.SizeBytes(word)
		consumers := g.Consumers(id)
		end := len(order)
		if len(consumers) > 0 {
			end = i
			static := false
			for _, e := range consumers {
				end = max(end, pos[e.To.Node])
				static = static || e.Lifetime.Kind == ir.LifetimeStatic
			}
			if n.Sig.Output.Linearity != ir.Unrestricted && len(consumers) == 1 {
				l.Released++
			}
			if static && size > 0 {
				l.Slots = append(l.Slots, Slot{Value: id, Class: StorageStatic, Size: size, Start: i, End: end})
				continue
			}
		}
		if size == 0 {
			continue
		}
		s := Slot{Value: id, Size: size, Start: i, End: end}
		switch {
		case n.Kind == ir.KindLiteral && size <= word:
			s.Class = StorageImmediate
		case n.Kind == ir.KindLiteral:
			s.Class = StorageConstant
		case n.Kind == ir.KindInput && size > word:
			s.Class = StorageCaller
		case n.Kind == ir.KindAlloc && target.Env.HasHeap:
			s.Class = StorageHeap
		case n.Kind == ir.KindAlloc:
			s.Class = StorageStatic
		case size <= word:
			s.Class = StorageRegister
		default:
			s.Class = StorageStack
		}
		l.Slots = append(l.Slots, s)
	}

	l.Spills = assignRegisters(l.Slots, max(target.ISA.Registers-reservedRegisters, 1))
	frame := assignStack(l.Slots, word)

	var scratch int64
	for _, f := range frags {
		if f.Inline {
			scratch = max(scratch, f.Scratch)
		}
	}
	saved := int64(target.ISA.Convention.CalleeSaved) * word
	l.FrameBytes = alignUp(frame+scratch+saved+word, int64(target.ISA.Convention.StackAlign))

	for _, s := range l.Slots {
		switch s.Class {
		case StorageStatic:
			l.StaticBytes += s.Size
		case StorageHeap:
			l.HeapBytes += s.Size
		}
	}
	return l
}

// assignRegisters runs linear scan over register-class slots, spilling the
// interval that ends last when registers run out. Spilled slots become
// stack slots. It returns the number of spills.
func assignRegisters(slots []Slot, regs int) int {
	var active []interval
	free := make([]bool, regs)
	for i := range free {
		free[i] = true
	}
	spills := 0
	for i := range slots {
		s := &slots[i]
		if s.Class != StorageRegister {
			continue
		}
		kept := active[:0]
		for _, a := range active {
			if a.end < s.Start {
				free[slots[a.slot].Register] = true
				continue
			}
			kept = append(kept, a)
		}
		active = kept

		if r := slices.Index(free, true); r >= 0 {
			free[r] = false
			s.Register = r
			active = append(active, interval{slot: i, end: s.End})
			continue
		}
		spills++
		victim := slices.MaxFunc(active, func(a, b interval) int {
			if c := cmp.Compare(a.end, b.end); c != 0 {
				return c
			}
			return cmp.Compare(a.slot, b.slot)
		})
		if victim.end > s.End {
			v := &slots[victim.slot]
			s.Register = v.Register
			v.Class, v.Register = StorageStack, 0
			active = slices.DeleteFunc(active, func(a interval) bool { return a.slot == victim.slot })
			active = append(active, interval{slot: i, end: s.End})
			continue
		}
		s.Class = StorageStack
	}
	return spills
}

// assignStack gives stack-class slots frame offsets, reusing the slots of
// dead values first-fit. It returns the bytes used.
func assignStack(slots []Slot, word int64) int64 {
	type hole struct {
		offset, size int64
		owner        int
	}
	var holes []hole
	var top int64
	for i := range slots {
		s := &slots[i]
		if s.Class != StorageStack {
			continue
		}
		reused := false
		for h := range holes {
			if slots[holes[h].owner].End < s.Start && holes[h].size >= s.Size {
				s.Offset = holes[h].offset
				holes[h].owner = i
				reused = true
				break
			}
		}
		if reused {
			continue
		}
		align := min(s.Size, word)
		s.Offset = alignUp(top, align)
		top = s.Offset + s.Size
		holes = append(holes, hole{offset: s.Offset, size: s.Size, owner: i})
	}
	return top
}
