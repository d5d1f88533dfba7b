// Package transform lowers a canonical graph onto one target under one
// optimization profile.
//
// A transformation runs five steps in order:
//
//   - lowering picks an implementation variant per node, decides inlining,
//     unrolling and vectorization, and costs the result
//   - specialization gives generic and unsized values the concrete shape of
//     their inputs
//   - scheduling orders the nodes, on one core or as a task graph
//   - layout traces ownership and assigns registers, stack slots, static
//     and heap storage
//   - ABI conformance wraps foreign calls, system calls and interrupt
//     handlers in calling-convention adapters
//
// The output, a TargetIR, carries the estimates the fitter checks against
// the target's budgets.
//
// # Critical Patterns
//
// Determinism: Transform is a pure function of (graph, target, profile,
// hints). Every map is iterated in sorted key order and every tie is broken
// by node ID, so two runs produce identical TargetIRs.
//
// Fragment reuse: each node's lowered fragment is keyed by the node's
// content hash plus the target and profile/hints fingerprints. A fragment
// never depends on a node's consumers, so an unchanged node can reuse its
// fragment even when the graph around it changes.
//
// Cost model: costs are integer cycles and bytes. Code that does not fit
// the target's fetch buffer pays flash wait states on every fetch, which is
// how inlining can make a critical section slower.
package transform
