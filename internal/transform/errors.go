package transform

import (
	"errors"
	"fmt"

	"github.com/roach88/kiln/internal/diag"
	"github.com/roach88/kiln/internal/ir"
)

// TransformError reports a node that cannot be lowered for the target.
type TransformError struct {
	Node   string
	Reason string
}

func (e *TransformError) Error() string {
	if e.Node == "" {
		return "transform: " + e.Reason
	}
	return fmt.Sprintf("transform: node %s: %s", ir.Short(e.Node), e.Reason)
}

// DiagCode implements diag.Coded.
func (e *TransformError) DiagCode() diag.Code { return diag.Transform }

// IsTransformError reports whether err is or wraps a TransformError.
func IsTransformError(err error) bool {
	var te *TransformError
	return errors.As(err, &te)
}
