package persist

import (
	"path/filepath"
	"testing"

	"github.com/iti/qns/kernel"
	"github.com/stretchr/testify/assert"
)

func TestResults_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.json")

	doc := &Document{
		SimulationConfig: map[string]any{"seed": 7},
		NetworkConfig:    map[string]any{"nodes": 3},
		Results: []EntangledResult{
			{Kind: "entangled", NodeA: "r1", MemoryA: "r1/mem0", NodeB: "r2", MemoryB: "r2/mem0", Fidelity: 0.9, Time: kernel.Time(1000)},
		},
	}
	assert.NoError(t, WriteResults(path, doc))

	got, err := ReadResults(path)
	assert.NoError(t, err)
	assert.Equal(t, doc.Results, got.Results)
	assert.Equal(t, float64(7), got.SimulationConfig["seed"])
}

func TestDensityMatrix_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.qu")

	rows := []complex128{1, 0, 0, 0}
	assert.NoError(t, WriteDensityMatrix(path, 2, rows))

	dim, got, err := ReadDensityMatrix(path)
	assert.NoError(t, err)
	assert.Equal(t, 2, dim)
	assert.Equal(t, rows, got)
}

func TestDensityMatrix_RejectsWrongLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.qu")
	err := WriteDensityMatrix(path, 2, []complex128{1, 0})
	assert.Error(t, err)
}

func TestDensityMatrix_RejectsForeignFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notaqu.txt")
	assert.NoError(t, writeGarbage(path))

	_, _, err := ReadDensityMatrix(path)
	assert.Error(t, err)
}

func writeGarbage(path string) error {
	return WriteResults(path, &Document{})
}
