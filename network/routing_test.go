package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildLinearRouter() *StaticRouter {
	r := NewStaticRouter()
	r.AddEdge("r1", "r2", 10)
	r.AddEdge("r2", "r3", 10)
	return r
}

func TestStaticRouter_ShortestPathThroughLinearTopology(t *testing.T) {
	r := buildLinearRouter()
	p, err := r.Path("r1", "r3")
	assert.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3"}, p)
}

func TestStaticRouter_PathIsSymmetric(t *testing.T) {
	r := buildLinearRouter()
	fwd, err := r.Path("r1", "r3")
	assert.NoError(t, err)
	back, err := r.Path("r3", "r1")
	assert.NoError(t, err)

	reversed := make([]string, len(back))
	for i, n := range back {
		reversed[len(back)-1-i] = n
	}
	assert.Equal(t, fwd, reversed)
}

func TestStaticRouter_UnknownNodeFails(t *testing.T) {
	r := buildLinearRouter()
	_, err := r.Path("r1", "ghost")
	assert.Error(t, err)
}

func TestStaticRouter_SameNodeIsTrivialPath(t *testing.T) {
	r := buildLinearRouter()
	p, err := r.Path("r2", "r2")
	assert.NoError(t, err)
	assert.Equal(t, []string{"r2"}, p)
}

func TestStaticRouter_PrefersShorterDistanceOverFewerHops(t *testing.T) {
	r := NewStaticRouter()
	r.AddEdge("a", "b", 100)
	r.AddEdge("a", "c", 1)
	r.AddEdge("c", "b", 1)

	p, err := r.Path("a", "b")
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, p)
}

func TestStaticRouter_TiesBreakAlphabetically(t *testing.T) {
	r := NewStaticRouter()
	r.AddEdge("a", "z", 1)
	r.AddEdge("a", "m", 1)
	r.AddEdge("z", "dst", 1)
	r.AddEdge("m", "dst", 1)

	p, err := r.Path("a", "dst")
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "m", "dst"}, p)
}
