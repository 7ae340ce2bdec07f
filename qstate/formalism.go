package qstate

import "fmt"

// Variant names the formalisms selectable at startup (§4.2: "formalism
// variants register themselves through an internal factory table").
const (
	VariantKet           = "ket"
	VariantDensityMatrix = "density"
	VariantBellDiagonal  = "bell-diagonal"
)

// formalismOps is the function table a formalism variant registers: the
// manager dispatches every operation through these pointers once the
// variant is selected and frozen by NewManager.
type formalismOps struct {
	newFromAmplitudes func(amps []complex128) stateValue
	numQubits         func(stateValue) int
	compose           func(a, b stateValue) stateValue
	permute           func(s stateValue, perm []int) stateValue
	applyGate         func(s stateValue, gate Gate, qubits []int) stateValue
	measureBranches   func(s stateValue, qubits []int) []measureBranch
	amplitudes        func(stateValue) []complex128 // best-effort view for get(); may approximate for mixed formalisms
	cacheKey          func(stateValue) string        // canonical encoding used as the LRU cache key
}

// measureBranch is one possible classical outcome of measuring a set of
// qubits: its probability, the outcome bits, and the renormalized
// remainder state over the qubits not measured. A formalism's
// measureBranches enumerates every branch up front so the result is
// independent of any particular sample and can be cached keyed on
// (qubits, state) alone (§4.2, §5); picking the branch a given sample
// lands in is the cheap, uncached part of measurement.
type measureBranch struct {
	prob           float64
	bits           []int
	remainder      stateValue
	remainingLocal []int
}

// pickBranch selects the branch sample falls into by cumulative
// probability, the same rule every formalism's old per-sample measure
// used: the last branch catches a sample that rounding left unclaimed.
func pickBranch(branches []measureBranch, sample float64) measureBranch {
	cum := 0.0
	for _, b := range branches {
		cum += b.prob
		if sample < cum {
			return b
		}
	}
	return branches[len(branches)-1]
}

// stateValue is the opaque per-formalism state representation a joint
// qsm entry holds. Each formalism's repr type satisfies it.
type stateValue interface {
	numQubitsOf() int
}

func (k *ketRepr) numQubitsOf() int      { return k.n }
func (d *densityRepr) numQubitsOf() int  { return d.n }
func (b *bellDiagRepr) numQubitsOf() int { return 2 }

// RegisterFormalism adds a new formalism variant to the startup
// factory table. Must be called before any NewManager(variant, ...)
// call for that name; the registered table is otherwise immutable
// during a run (§4.2: "formalism variants register themselves through
// an internal factory table").
func RegisterFormalism(name string, ops *formalismOps) {
	registry[name] = ops
}

var registry = map[string]*formalismOps{
	VariantKet: {
		newFromAmplitudes: func(amps []complex128) stateValue { return newKetRepr(amps) },
		numQubits:         func(s stateValue) int { return s.(*ketRepr).n },
		compose: func(a, b stateValue) stateValue {
			ka, kb := a.(*ketRepr), b.(*ketRepr)
			return newKetRepr(tensorKet(ka.amps, kb.amps))
		},
		permute: func(s stateValue, perm []int) stateValue {
			k := s.(*ketRepr)
			return &ketRepr{amps: permuteKet(k.amps, k.n, perm), n: k.n}
		},
		applyGate: func(s stateValue, gate Gate, qubits []int) stateValue {
			k := s.(*ketRepr)
			return &ketRepr{amps: applyGateKet(k.amps, k.n, gate, qubits), n: k.n}
		},
		measureBranches: func(s stateValue, qubits []int) []measureBranch {
			k := s.(*ketRepr)
			return measureKetBranches(k.amps, k.n, qubits)
		},
		amplitudes: func(s stateValue) []complex128 { return s.(*ketRepr).amps },
		cacheKey:   func(s stateValue) string { return encodeComplex(s.(*ketRepr).amps) },
	},
	VariantDensityMatrix: {
		newFromAmplitudes: func(amps []complex128) stateValue { return newDensityFromKet(amps) },
		numQubits:         func(s stateValue) int { return s.(*densityRepr).n },
		compose: func(a, b stateValue) stateValue {
			return tensorDensity(a.(*densityRepr), b.(*densityRepr))
		},
		permute: func(s stateValue, perm []int) stateValue {
			return permuteDensity(s.(*densityRepr), perm)
		},
		applyGate: func(s stateValue, gate Gate, qubits []int) stateValue {
			return applyGateDensity(s.(*densityRepr), gate, qubits)
		},
		measureBranches: func(s stateValue, qubits []int) []measureBranch {
			return measureDensityBranches(s.(*densityRepr), qubits)
		},
		amplitudes: func(s stateValue) []complex128 {
			d := s.(*densityRepr)
			dim := len(d.rho)
			out := make([]complex128, dim)
			for i := range out {
				out[i] = d.rho[i][i] // diagonal as the best-effort amplitude view
			}
			return out
		},
		cacheKey: func(s stateValue) string {
			d := s.(*densityRepr)
			flat := make([]complex128, 0, len(d.rho)*len(d.rho))
			for _, row := range d.rho {
				flat = append(flat, row...)
			}
			return encodeComplex(flat)
		},
	},
	VariantBellDiagonal: {
		newFromAmplitudes: func(amps []complex128) stateValue {
			// a bipartite pure ket can be converted to its Bell-diagonal
			// form by projecting onto the Bell basis populations; for any
			// other length this formalism cannot represent the state.
			if len(amps) != 4 {
				panic(fmt.Errorf("qstate: bell-diagonal formalism requires exactly 2 qubits, got amplitude vector of length %d", len(amps)))
			}
			return ketToBellDiag(amps)
		},
		numQubits: func(stateValue) int { return 2 },
		compose: func(a, b stateValue) stateValue {
			panic(fmt.Errorf("qstate: bell-diagonal formalism supports only directly constructed bipartite pairs, not composition"))
		},
		permute: func(s stateValue, perm []int) stateValue { return s },
		applyGate: func(s stateValue, gate Gate, qubits []int) stateValue {
			return applyPauliBellDiag(s.(*bellDiagRepr), gate.Name)
		},
		measureBranches: func(s stateValue, qubits []int) []measureBranch {
			return measureBellDiagBranches(s.(*bellDiagRepr))
		},
		amplitudes: func(s stateValue) []complex128 {
			b := s.(*bellDiagRepr)
			return []complex128{complex(b.p[0], 0), complex(b.p[1], 0), complex(b.p[2], 0), complex(b.p[3], 0)}
		},
		cacheKey: func(s stateValue) string {
			b := s.(*bellDiagRepr)
			return fmt.Sprintf("%.12g,%.12g,%.12g,%.12g", b.p[0], b.p[1], b.p[2], b.p[3])
		},
	},
}

// encodeComplex produces a canonical string encoding of a complex128
// slice for use as an LRU cache key.
func encodeComplex(amps []complex128) string {
	s := make([]byte, 0, len(amps)*24)
	for _, a := range amps {
		s = append(s, fmt.Sprintf("%.12g+%.12gi,", real(a), imag(a))...)
	}
	return string(s)
}

// ketToBellDiag projects a 2-qubit pure ket onto the Bell-basis
// population vector; used when a caller hands the Bell-diagonal
// manager raw amplitudes instead of going through werner.
func ketToBellDiag(amps []complex128) *bellDiagRepr {
	const inv = 0.7071067811865476
	phiPlus := complex(inv, 0) * (amps[0] + amps[3])
	phiMinus := complex(inv, 0) * (amps[0] - amps[3])
	psiPlus := complex(inv, 0) * (amps[1] + amps[2])
	psiMinus := complex(inv, 0) * (amps[1] - amps[2])
	sq := func(c complex128) float64 { return real(c)*real(c) + imag(c)*imag(c) }
	return newBellDiagonal(sq(phiPlus), sq(phiMinus), sq(psiPlus), sq(psiMinus))
}
