// Package harness runs materialization scenarios and checks their reports.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: control-loop-deadline
//	description: "Aggressive inlining misses the deadline and is reduced"
//	graph: ../graphs/control-loop.yaml
//	target: stm32f407
//	profile: throughput
//	rigor: integration
//	expect:
//	  outcome: materialized
//	  selected: reduce-inlining
//	  attempts: 2
//	assertions:
//	  - type: timing_margin
//	    section: control
//	    min_margin_ns: 0
//	  - type: resource_within
//	    resource: flash
//
// The graph path is relative to the scenario file.
//
// # Assertion Types
//
//   - verification_count: the number of obligations with a status
//   - timing_margin: a critical section meets its budget with a margin
//   - resource_within: a resource stays within its budget
//   - fidelity_count: the number of fidelity findings of a severity
//   - strategy_applied: the fitter applied a strategy
//   - artifact: an artifact was emitted
//
// # Deterministic Runs
//
// Every scenario runs with a frozen clock, a fixed run id and a fresh
// in-memory store, so reports are reproducible and can be compared against
// golden snapshots in testdata/golden.
package harness
