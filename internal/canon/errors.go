package canon

import (
	"fmt"
	"strings"

	"github.com/roach88/kiln/internal/diag"
)

// Well-formedness violation codes (E200-E299)
const (
	// Node errors (E200-E204)
	ErrUnknownKind      = "E200" // kind tag is not defined
	ErrDuplicateNode    = "E201" // two nodes share a local id
	ErrMissingConst     = "E202" // literal node without a constant
	ErrMissingBody      = "E203" // designated node without a resolvable body
	ErrUnresolvedModule = "E204" // call references a module the resolver cannot supply

	// Edge errors (E210-E216)
	ErrDanglingEdge   = "E210" // edge endpoint names no node
	ErrDuplicatePort  = "E211" // two edges drive the same input port
	ErrMissingPort    = "E212" // declared input port has no edge
	ErrPortRange      = "E213" // edge uses a port the signature does not declare
	ErrTypeMismatch   = "E214" // edge type disagrees with producer or consumer
	ErrRegionCrossing = "E215" // edge crosses a region boundary without an interface port
	ErrCycle          = "E216" // cycle through plain edges

	// Ownership and effects (E220-E223)
	ErrLinearity      = "E220" // linear/affine/unique value consumed the wrong number of times
	ErrMissingEffect  = "E221" // effect kind without its effect declared
	ErrEffectConflict = "E222" // pure declared together with another effect
	ErrAtomicEffect   = "E223" // forbidden effect inside an atomic region

	// Region errors (E230-E233)
	ErrDuplicateRegion = "E230" // two regions share an id
	ErrUnknownParent   = "E231" // region parent does not exist
	ErrRegionCycle     = "E232" // region parent chain loops
	ErrRegionMember    = "E233" // region lists an unknown node
)

// Violation is one well-formedness problem. It names the offending node,
// edge or region and the violation kind.
type Violation struct {
	Code    string `json:"code"`
	Node    string `json:"node,omitempty"`
	Edge    string `json:"edge,omitempty"`
	Region  string `json:"region,omitempty"`
	Message string `json:"message"`
}

func (v Violation) Error() string {
	var where []string
	if v.Node != "" {
		where = append(where, "node "+v.Node)
	}
	if v.Edge != "" {
		where = append(where, "edge "+v.Edge)
	}
	if v.Region != "" {
		where = append(where, "region "+v.Region)
	}
	if len(where) == 0 {
		return fmt.Sprintf("[%s] %s", v.Code, v.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", v.Code, strings.Join(where, ", "), v.Message)
}

// WellFormednessError reports every violation found in a graph. It is fatal
// and never retried.
type WellFormednessError struct {
	Graph      string
	Violations []Violation
}

func (e *WellFormednessError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("graph %q is not well-formed: %s", e.Graph, e.Violations[0].Error())
	}
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("graph %q is not well-formed (%d violations):\n  %s",
		e.Graph, len(e.Violations), strings.Join(msgs, "\n  "))
}

// DiagCode implements diag.Coded.
func (e *WellFormednessError) DiagCode() diag.Code { return diag.WellFormedness }

// Has reports whether any violation carries code.
func (e *WellFormednessError) Has(code string) bool {
	for _, v := range e.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}
