package testutil

// FixedRunID generates the same run id every time.
//
// Runs stamped with a fixed id produce byte-identical reports, which golden
// comparisons rely on. Safe for concurrent use.
type FixedRunID struct {
	id string
}

// NewFixedRunID creates a fixed run id generator. An empty id becomes
// "run-test".
func NewFixedRunID(id string) *FixedRunID {
	if id == "" {
		id = "run-test"
	}
	return &FixedRunID{id: id}
}

// Generate returns the fixed id.
func (g *FixedRunID) Generate() string {
	return g.id
}
