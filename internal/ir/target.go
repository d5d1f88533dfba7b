package ir

import (
	"slices"
	"sort"
)

// CallingConvention is the ISA-level calling convention.
type CallingConvention struct {
	ArgRegs     int `json:"arg_regs" yaml:"arg_regs"`
	ReturnRegs  int `json:"return_regs" yaml:"return_regs"`
	CalleeSaved int `json:"callee_saved" yaml:"callee_saved"`
	StackAlign  int `json:"stack_align" yaml:"stack_align"`
}

// ISA is the instruction-set layer of a platform.
type ISA struct {
	Name       string            `json:"name" yaml:"name"`
	WordBits   int               `json:"word_bits" yaml:"word_bits"`
	Registers  int               `json:"registers" yaml:"registers"`
	Convention CallingConvention `json:"convention" yaml:"convention"`
	Features   []string          `json:"features,omitempty" yaml:"features,omitempty"`
}

// Microarch is the micro-architecture layer of a platform.
type Microarch struct {
	Cores               int   `json:"cores" yaml:"cores"`
	ClockHz             int64 `json:"clock_hz" yaml:"clock_hz"`
	PipelineStages      int   `json:"pipeline_stages" yaml:"pipeline_stages"`
	BranchPenalty       int   `json:"branch_penalty" yaml:"branch_penalty"`
	FlashWaitStates     int   `json:"flash_wait_states,omitempty" yaml:"flash_wait_states,omitempty"`
	SRAMWaitStates      int   `json:"sram_wait_states,omitempty" yaml:"sram_wait_states,omitempty"`
	BusBytes            int   `json:"bus_bytes" yaml:"bus_bytes"`
	DeterministicTiming bool  `json:"deterministic_timing,omitempty" yaml:"deterministic_timing,omitempty"`
	EnergyPJPerCycle    int64 `json:"energy_pj_per_cycle,omitempty" yaml:"energy_pj_per_cycle,omitempty"`
	// FetchBufferBytes is the instruction prefetch buffer or cache that hides
	// flash wait states for code that fits in it.
	FetchBufferBytes int64 `json:"fetch_buffer_bytes,omitempty" yaml:"fetch_buffer_bytes,omitempty"`
}

// Environment is the deployment layer of a platform.
type Environment struct {
	FlashBytes    int64 `json:"flash_bytes" yaml:"flash_bytes"`
	RAMBytes      int64 `json:"ram_bytes" yaml:"ram_bytes"`
	MaxStackBytes int64 `json:"max_stack_bytes" yaml:"max_stack_bytes"`
	MaxCallDepth  int   `json:"max_call_depth" yaml:"max_call_depth"`
	IOBytesPerSec int64 `json:"io_bytes_per_sec,omitempty" yaml:"io_bytes_per_sec,omitempty"`
	HasOS         bool  `json:"has_os,omitempty" yaml:"has_os,omitempty"`
	HasHeap       bool  `json:"has_heap,omitempty" yaml:"has_heap,omitempty"`
	HasMMU        bool  `json:"has_mmu,omitempty" yaml:"has_mmu,omitempty"`
}

// Target is the read-only platform model: ISA, micro-architecture and
// environment layers composed upstream.
type Target struct {
	Name  string      `json:"name" yaml:"name"`
	ISA   ISA         `json:"isa" yaml:"isa"`
	Micro Microarch   `json:"micro" yaml:"micro"`
	Env   Environment `json:"env" yaml:"env"`
}

// WordBytes returns the machine word size in bytes.
func (t Target) WordBytes() int64 {
	if t.ISA.WordBits <= 0 {
		return 4
	}
	return int64(t.ISA.WordBits / 8)
}

// HasFeature reports whether the ISA advertises a feature.
func (t Target) HasFeature(f string) bool {
	return slices.Contains(t.ISA.Features, f)
}

// Multicore reports whether more than one core is available.
func (t Target) Multicore() bool { return t.Micro.Cores > 1 }

// CyclesToNS converts cycles to nanoseconds, rounding up.
func (t Target) CyclesToNS(cycles int64) int64 {
	if t.Micro.ClockHz <= 0 {
		return cycles
	}
	return (cycles*1_000_000_000 + t.Micro.ClockHz - 1) / t.Micro.ClockHz
}

// Canonical returns the hashed form of the target.
func (t Target) Canonical() IRValue {
	features := slices.Clone(t.ISA.Features)
	slices.Sort(features)
	return IRObject{
		"name": IRString(t.Name),
		"isa": IRObject{
			"name": IRString(t.ISA.Name), "word_bits": IRInt(t.ISA.WordBits),
			"registers": IRInt(t.ISA.Registers), "features": Strings(features),
			"arg_regs": IRInt(t.ISA.Convention.ArgRegs), "return_regs": IRInt(t.ISA.Convention.ReturnRegs),
			"callee_saved": IRInt(t.ISA.Convention.CalleeSaved), "stack_align": IRInt(t.ISA.Convention.StackAlign),
		},
		"micro": IRObject{
			"cores": IRInt(t.Micro.Cores), "clock_hz": IRInt(t.Micro.ClockHz),
			"pipeline_stages": IRInt(t.Micro.PipelineStages), "branch_penalty": IRInt(t.Micro.BranchPenalty),
			"flash_wait_states": IRInt(t.Micro.FlashWaitStates), "sram_wait_states": IRInt(t.Micro.SRAMWaitStates),
			"bus_bytes": IRInt(t.Micro.BusBytes), "deterministic_timing": IRBool(t.Micro.DeterministicTiming),
			"energy_pj_per_cycle": IRInt(t.Micro.EnergyPJPerCycle), "fetch_buffer_bytes": IRInt(t.Micro.FetchBufferBytes),
		},
		"env": IRObject{
			"flash_bytes": IRInt(t.Env.FlashBytes), "ram_bytes": IRInt(t.Env.RAMBytes),
			"max_stack_bytes": IRInt(t.Env.MaxStackBytes), "max_call_depth": IRInt(t.Env.MaxCallDepth),
			"io_bytes_per_sec": IRInt(t.Env.IOBytesPerSec), "has_os": IRBool(t.Env.HasOS),
			"has_heap": IRBool(t.Env.HasHeap), "has_mmu": IRBool(t.Env.HasMMU),
		},
	}
}

// Fingerprint is the target's content hash, used in cache keys.
func (t Target) Fingerprint() string { return MustHash(DomainTarget, t) }

var targetPresets = map[string]Target{
	"linux-x86_64": {
		Name: "linux-x86_64",
		ISA: ISA{Name: "x86_64", WordBits: 64, Registers: 16,
			Convention: CallingConvention{ArgRegs: 6, ReturnRegs: 2, CalleeSaved: 6, StackAlign: 16},
			Features:   []string{"sse2", "avx2"}},
		Micro: Microarch{Cores: 8, ClockHz: 3_000_000_000, PipelineStages: 14, BranchPenalty: 15, BusBytes: 64, EnergyPJPerCycle: 300, FetchBufferBytes: 32 << 10},
		Env: Environment{FlashBytes: 1 << 30, RAMBytes: 8 << 30, MaxStackBytes: 8 << 20, MaxCallDepth: 10000,
			IOBytesPerSec: 1 << 30, HasOS: true, HasHeap: true, HasMMU: true},
	},
	"linux-aarch64": {
		Name: "linux-aarch64",
		ISA: ISA{Name: "aarch64", WordBits: 64, Registers: 31,
			Convention: CallingConvention{ArgRegs: 8, ReturnRegs: 2, CalleeSaved: 10, StackAlign: 16},
			Features:   []string{"neon"}},
		Micro: Microarch{Cores: 4, ClockHz: 1_800_000_000, PipelineStages: 11, BranchPenalty: 11, BusBytes: 64, EnergyPJPerCycle: 120, FetchBufferBytes: 32 << 10},
		Env: Environment{FlashBytes: 1 << 30, RAMBytes: 4 << 30, MaxStackBytes: 8 << 20, MaxCallDepth: 10000,
			IOBytesPerSec: 1 << 29, HasOS: true, HasHeap: true, HasMMU: true},
	},
	"stm32f407": {
		Name: "stm32f407",
		ISA: ISA{Name: "thumbv7em", WordBits: 32, Registers: 13,
			Convention: CallingConvention{ArgRegs: 4, ReturnRegs: 2, CalleeSaved: 8, StackAlign: 8},
			Features:   []string{"dsp", "fpv4-sp"}},
		Micro: Microarch{Cores: 1, ClockHz: 168_000_000, PipelineStages: 3, BranchPenalty: 3,
			FlashWaitStates: 5, BusBytes: 16, DeterministicTiming: true, EnergyPJPerCycle: 200, FetchBufferBytes: 1024},
		Env: Environment{FlashBytes: 1 << 20, RAMBytes: 192 << 10, MaxStackBytes: 16 << 10, MaxCallDepth: 32,
			IOBytesPerSec: 10_000_000},
	},
}

// TargetPreset returns a built-in platform model.
func TargetPreset(name string) (Target, bool) {
	t, ok := targetPresets[name]
	if ok {
		t.ISA.Features = slices.Clone(t.ISA.Features)
	}
	return t, ok
}

// TargetPresetNames lists built-in platform models.
func TargetPresetNames() []string {
	names := make([]string, 0, len(targetPresets))
	for n := range targetPresets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
