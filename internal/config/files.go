package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/kiln/internal/ir"
)

// LoadGraph reads a graph from a YAML or JSON file.
func LoadGraph(path string) (*ir.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	return ParseGraph(data)
}

// ParseGraph decodes a graph document. Unknown fields are rejected.
func ParseGraph(data []byte) (*ir.Graph, error) {
	var g ir.Graph
	if err := decodeStrict(data, &g); err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}
	if g.Name == "" {
		return nil, errors.New("parse graph: name is required")
	}
	// An explicit empty list decodes to a non-nil slice; builders leave nil.
	if len(g.Regions) == 0 {
		g.Regions = nil
	}
	if len(g.Bodies) == 0 {
		g.Bodies = nil
	}
	return &g, nil
}

// LoadWaivers reads a YAML list of waivers. A missing path yields none.
func LoadWaivers(path string) ([]ir.Waiver, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read waivers: %w", err)
	}
	var ws []ir.Waiver
	if err := decodeStrict(data, &ws); err != nil {
		return nil, fmt.Errorf("parse waivers: %w", err)
	}
	return ws, nil
}

func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
