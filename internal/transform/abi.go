package transform

import (
	"fmt"

	"github.com/roach88/kiln/internal/ir"
)

// Adapter is calling-convention glue at a foreign-call, system-call or
// interrupt boundary.
type Adapter struct {
	Node       string  `json:"node"`
	Kind       ir.Kind `json:"kind"`
	RegArgs    int     `json:"reg_args"`
	StackArgs  int     `json:"stack_args"`
	SavedRegs  int     `json:"saved_regs"`
	CodeBytes  int64   `json:"code_bytes"`
	Cycles     int64   `json:"cycles"`
	FrameBytes int64   `json:"frame_bytes"`
}

// adapters inserts calling-convention adapters in schedule order.
func adapters(g *ir.Graph, order []string, target ir.Target) ([]Adapter, error) {
	word := target.WordBytes()
	cc := target.ISA.Convention
	align := int64(cc.StackAlign)
	idx := g.Index()
	var out []Adapter
	for _, id := range order {
		n := g.Nodes[idx[id]]
		args := len(n.Sig.Inputs)
		a := Adapter{Node: id, Kind: n.Kind, RegArgs: min(args, cc.ArgRegs)}
		a.StackArgs = args - a.RegArgs
		switch n.Kind {
		case ir.KindFFICall:
			// Caller-saved registers may be clobbered by foreign code.
			a.SavedRegs = max(target.ISA.Registers-reservedRegisters-cc.CalleeSaved, 0)
			a.CodeBytes = 8 + 4*int64(args) + 8*int64(a.SavedRegs)
			a.Cycles = 4 + int64(args) + 2*int64(a.SavedRegs)
		case ir.KindSyscall:
			if !target.Env.HasOS {
				return nil, &TransformError{Node: id, Reason: fmt.Sprintf("system call on %s, which has no operating system", target.Name)}
			}
			a.CodeBytes = 8 + 4*int64(args)
			a.Cycles = 20 + int64(args)
		case ir.KindInterrupt:
			a.SavedRegs = target.ISA.Registers
			a.CodeBytes = 8 + 8*int64(a.SavedRegs)
			a.Cycles = 12 + 2*int64(a.SavedRegs)
		default:
			continue
		}
		a.FrameBytes = alignUp(int64(a.StackArgs+a.SavedRegs)*word, align)
		out = append(out, a)
	}
	return out, nil
}
