// Package persist serializes a trial's configuration and outcomes to
// disk (§6.4): a JSON results document plus, for any entangled or
// purified state it references, a companion binary density-matrix
// file carrying the payload the JSON only names by filename.
package persist

import (
	"encoding/json"
	"os"

	"github.com/iti/qns/kernel"
)

// EntangledResult records one generated, purified, or swapped pair at
// the time it was recorded (§6.4 "results" list entries).
type EntangledResult struct {
	Kind       string      `json:"kind"` // "entangled", "purified", "ghz"
	NodeA      string      `json:"node_a"`
	MemoryA    string      `json:"memory_a"`
	NodeB      string      `json:"node_b"`
	MemoryB    string      `json:"memory_b"`
	Fidelity   float64     `json:"fidelity"`
	Time       kernel.Time `json:"time"`
	DensityMat string      `json:"density_matrix_file,omitempty"`
}

// Document is the top-level JSON shape a trial writes (§6.4).
type Document struct {
	SimulationConfig map[string]any    `json:"simulation_config"`
	NetworkConfig    map[string]any    `json:"network_config"`
	Results          []EntangledResult `json:"results"`
}

// WriteResults writes doc as indented JSON to filename.
func WriteResults(filename string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}

// ReadResults reads and deserializes a results document previously
// written by WriteResults, the inverse used by round-trip tests and
// any downstream analysis tooling.
func ReadResults(filename string) (*Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
