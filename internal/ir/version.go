package ir

const (
	// IRVersion is the graph schema version.
	IRVersion = "1"

	// Generator identifies this materializer in report provenance.
	Generator = "kiln/0.3.0"
)
