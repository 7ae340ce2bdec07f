package qstate

// bellDiagRepr is the Bell-diagonal formalism: a length-4 tuple of real
// probabilities over the four Bell states, valid only for a bipartite
// state where both qubits are known co-held (§3.6). Index convention:
//
//	0: |Phi+>  1: |Phi->  2: |Psi+>  3: |Psi->
//
// i.e. bit0 (value/value) of the index is the phase-flip component,
// bit1 is the bit-flip component: index = 2*bitFlip + phaseFlip.
type bellDiagRepr struct {
	p [4]float64
}

// newBellDiagonal constructs a Bell-diagonal state from four
// probabilities that must sum to 1 (the caller is responsible for
// normalization; the manager does not renormalize on construction).
func newBellDiagonal(p0, p1, p2, p3 float64) *bellDiagRepr {
	return &bellDiagRepr{p: [4]float64{p0, p1, p2, p3}}
}

// werner builds the standard Werner-diagonal state of fidelity f
// against |Phi+>: the remaining 1-f weight is split evenly over the
// other three Bell states. Heralded generation does not build it: that
// protocol records the pair's fidelity only in the resource manager's
// MemoryInfo.
func werner(f float64) *bellDiagRepr {
	rest := (1 - f) / 3
	return newBellDiagonal(f, rest, rest, rest)
}

// applyPauliBellDiag applies a single local Pauli to either qubit of a
// Bell-diagonal pair; the effect is independent of which of the two
// qubits it is applied to, so the manager does not track which side.
func applyPauliBellDiag(b *bellDiagRepr, pauli string) *bellDiagRepr {
	p := b.p
	switch pauli {
	case "I":
		return newBellDiagonal(p[0], p[1], p[2], p[3])
	case "X": // bit flip: toggles bit1
		return newBellDiagonal(p[2], p[3], p[0], p[1])
	case "Z": // phase flip: toggles bit0
		return newBellDiagonal(p[1], p[0], p[3], p[2])
	case "Y": // both
		return newBellDiagonal(p[3], p[2], p[1], p[0])
	default:
		return newBellDiagonal(p[0], p[1], p[2], p[3])
	}
}

// measureBellDiagBranches enumerates the four Bell-basis outcomes, each
// carrying its population as probability and its two classical outcome
// bits (phaseFlip, bitFlip) in the index convention documented on
// bellDiagRepr. A Bell-diagonal pair is always fully consumed by
// measurement (no remainder, unlike ket/density formalisms): both
// qubits are this pair's only members.
func measureBellDiagBranches(b *bellDiagRepr) []measureBranch {
	branches := make([]measureBranch, 4)
	for i, p := range b.p {
		branches[i] = measureBranch{prob: p, bits: []int{i % 2, i / 2}}
	}
	return branches
}

// fidelityBellDiag returns the weight on |Phi+>, the formalism's
// convention for "fidelity against the target maximally-entangled
// state". hardware.Memory's Fidelity is a stored field and is not
// computed from it.
func fidelityBellDiag(b *bellDiagRepr) float64 {
	return b.p[0]
}
