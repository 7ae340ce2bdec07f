package qstate

import "math/cmplx"

// Gate is a named quantum operation together with its unitary matrix,
// expressed over its own arity (1 for single-qubit gates, 2 for
// two-qubit gates such as CNOT). The state manager embeds the matrix
// into the full joint-state space before applying it.
type Gate struct {
	Name   string
	Arity  int
	Matrix [][]complex128
}

// gateTable is the registered set of gates run_circuit accepts. An
// unrecognized gate name fails with ErrUnknownGate (§4.2 failure modes).
var gateTable = map[string]Gate{
	"I":    {Name: "I", Arity: 1, Matrix: identity(2)},
	"X":    {Name: "X", Arity: 1, Matrix: [][]complex128{{0, 1}, {1, 0}}},
	"Y":    {Name: "Y", Arity: 1, Matrix: [][]complex128{{0, -1i}, {1i, 0}}},
	"Z":    {Name: "Z", Arity: 1, Matrix: [][]complex128{{1, 0}, {0, -1}}},
	"H":    {Name: "H", Arity: 1, Matrix: hadamard()},
	"S":    {Name: "S", Arity: 1, Matrix: [][]complex128{{1, 0}, {0, 1i}}},
	"CNOT": {Name: "CNOT", Arity: 2, Matrix: cnot()},
	"CZ":   {Name: "CZ", Arity: 2, Matrix: cz()},
	"SWAP": {Name: "SWAP", Arity: 2, Matrix: swap()},
}

// LookupGate resolves a gate name through the registered table.
func LookupGate(name string) (Gate, bool) {
	g, ok := gateTable[name]
	return g, ok
}

func identity(n int) [][]complex128 {
	m := make([][]complex128, n)
	for i := range m {
		m[i] = make([]complex128, n)
		m[i][i] = 1
	}
	return m
}

func hadamard() [][]complex128 {
	c := complex(1/sqrt2, 0)
	return [][]complex128{{c, c}, {c, -c}}
}

var sqrt2 = real(cmplx.Sqrt(2))

func cnot() [][]complex128 {
	m := identity(4)
	m[2], m[3] = m[3], m[2]
	return m
}

func cz() [][]complex128 {
	m := identity(4)
	m[3][3] = -1
	return m
}

func swap() [][]complex128 {
	m := identity(4)
	m[1], m[2] = m[2], m[1]
	return m
}

// Circuit is an ordered list of gate applications plus the set of
// qubits to measure at the end, expressed in the caller's own local
// qubit-index space (0..len(keys)-1), mirroring run_circuit's contract
// in §4.2.
type Circuit struct {
	Ops      []GateOp
	Measure  []int // local indices to measure, may be empty
}

// GateOp applies Gate to the qubits at the given local indices, in
// order (Qubits[0] is the control for two-qubit gates).
type GateOp struct {
	Gate   string
	Qubits []int
}

// AddGate appends a gate application to the circuit and returns it for
// chaining, matching the builder style used by the teacher's config
// list-building helpers (e.g. DevExecList.AddTiming).
func (c *Circuit) AddGate(name string, qubits ...int) *Circuit {
	c.Ops = append(c.Ops, GateOp{Gate: name, Qubits: qubits})
	return c
}

// AddMeasure marks local qubit indices for measurement.
func (c *Circuit) AddMeasure(qubits ...int) *Circuit {
	c.Measure = append(c.Measure, qubits...)
	return c
}
