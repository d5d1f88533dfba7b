package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/kiln/internal/ir"
)

// marshalEvidence converts witness evidence to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON so the stored text rehashes to the witness ID.
func marshalEvidence(ev ir.IRObject) (string, error) {
	if ev == nil {
		ev = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(ev)
	if err != nil {
		return "", fmt.Errorf("marshal evidence: %w", err)
	}
	return string(data), nil
}

// unmarshalEvidence parses canonical JSON TEXT to IRObject.
// Uses ir.IRObject.UnmarshalJSON which properly handles large integers via json.Number
// to avoid float64 precision loss for values > 2^53.
func unmarshalEvidence(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal evidence: %w", err)
	}
	return obj, nil
}

// marshalReport converts a report to JSON TEXT.
// Report is a struct (not IRValue) and may carry predicates with '<' and '&',
// so HTML escaping is disabled to keep the stored body readable.
func marshalReport(r ir.Report) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalReport(data string) (ir.Report, error) {
	var r ir.Report
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return ir.Report{}, fmt.Errorf("unmarshal report: %w", err)
	}
	return r, nil
}
