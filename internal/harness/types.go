package harness

import "github.com/roach88/kiln/internal/ir"

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when the expectation and every assertion held.
	Pass bool `json:"pass"`

	Report *ir.Report `json:"report"`

	// ErrorCode is the diagnostic code of the run error, if any.
	ErrorCode string `json:"error_code,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true, Errors: []string{}}
}

// AddError records a failed check and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
