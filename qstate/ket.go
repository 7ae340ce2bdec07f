package qstate

import "math"

// ketRepr is the pure-state formalism: a complex amplitude vector over
// 2^n basis states, n = number of co-owning keys (§3.6).
type ketRepr struct {
	amps []complex128 // length 2^n
	n    int
}

func newKetRepr(amps []complex128) *ketRepr {
	n := 0
	for 1<<n < len(amps) {
		n++
	}
	return &ketRepr{amps: amps, n: n}
}

// tensorKet returns the amplitude vector of a ⊗ b, a's qubits ordered
// before b's.
func tensorKet(a, b []complex128) []complex128 {
	out := make([]complex128, len(a)*len(b))
	for i, av := range a {
		for j, bv := range b {
			out[i*len(b)+j] = av * bv
		}
	}
	return out
}

// applyGateKet embeds gate.Matrix into the n-qubit space at the given
// local qubit positions and applies it to amps, returning the new
// amplitude vector. qubits[0] occupies the matrix's most-significant
// row/column slot, matching the gate tables in gate.go.
func applyGateKet(amps []complex128, n int, gate Gate, qubits []int) []complex128 {
	k := len(qubits)
	dim := len(amps)
	shifts := make([]int, k)
	targetMask := 0
	for idx, q := range qubits {
		shifts[idx] = n - 1 - q
		targetMask |= 1 << shifts[idx]
	}

	out := make([]complex128, dim)
	subDim := 1 << k
	for i := 0; i < dim; i++ {
		if i&targetMask != 0 {
			continue // only visit the env representative where target bits are zero
		}
		env := i
		idxs := make([]int, subDim)
		sub := make([]complex128, subDim)
		for s := 0; s < subDim; s++ {
			full := env
			for bitpos := 0; bitpos < k; bitpos++ {
				if (s>>(k-1-bitpos))&1 == 1 {
					full |= 1 << shifts[bitpos]
				}
			}
			idxs[s] = full
			sub[s] = amps[full]
		}
		newSub := make([]complex128, subDim)
		for r := 0; r < subDim; r++ {
			var acc complex128
			row := gate.Matrix[r]
			for c := 0; c < subDim; c++ {
				acc += row[c] * sub[c]
			}
			newSub[r] = acc
		}
		for s := 0; s < subDim; s++ {
			out[idxs[s]] = newSub[s]
		}
	}
	return out
}

// permuteKet reorders the n qubits of amps according to perm, where
// perm[i] is the local index that should end up at position i. It is
// realized as a chain of SWAP gates on the underlying representation,
// per §4.2's composition/ordering contract.
func permuteKet(amps []complex128, n int, perm []int) []complex128 {
	cur := append([]complex128(nil), amps...)
	// current[pos] tracks which original qubit now sits at pos
	current := make([]int, n)
	for i := range current {
		current[i] = i
	}
	for target := 0; target < n; target++ {
		want := perm[target]
		// find where `want` currently sits
		at := -1
		for pos, who := range current {
			if who == want {
				at = pos
				break
			}
		}
		if at == target {
			continue
		}
		swapGate, _ := LookupGate("SWAP")
		cur = applyGateKet(cur, n, swapGate, []int{target, at})
		current[target], current[at] = current[at], current[target]
	}
	return cur
}

// measureKetBranches enumerates every classical outcome of measuring
// the qubits at local indices `qubits`, each with its probability and
// renormalized amplitude vector over the qubits NOT measured, in their
// original relative order, per §4.2 "split into product of measured
// singletons and the unmeasured remainder". Computing all branches up
// front (rather than just the one a particular sample lands in) is what
// lets the result be cached independent of the sample (§4.2, §5).
func measureKetBranches(amps []complex128, n int, qubits []int) []measureBranch {
	k := len(qubits)
	shifts := make([]int, k)
	isTarget := make([]bool, n)
	for idx, q := range qubits {
		shifts[idx] = n - 1 - q
		isTarget[q] = true
	}

	subDim := 1 << k
	probs := make([]float64, subDim)
	for i, a := range amps {
		s := subIndex(i, shifts, k)
		probs[s] += real(a)*real(a) + imag(a)*imag(a)
	}

	remainingLocal := make([]int, 0, n-k)
	for q := 0; q < n; q++ {
		if !isTarget[q] {
			remainingLocal = append(remainingLocal, q)
		}
	}
	remShifts := make([]int, len(remainingLocal))
	for idx, q := range remainingLocal {
		remShifts[idx] = n - 1 - q
	}
	remDim := 1 << len(remainingLocal)

	branches := make([]measureBranch, subDim)
	for outcome := 0; outcome < subDim; outcome++ {
		remainder := make([]complex128, remDim)
		norm := math.Sqrt(probs[outcome])
		if norm == 0 {
			norm = 1 // degenerate (zero-probability branch): avoid division by zero
		}
		for i, a := range amps {
			if subIndex(i, shifts, k) != outcome {
				continue
			}
			pos := subIndex(i, remShifts, len(remainingLocal))
			remainder[pos] = a / complex(norm, 0)
		}

		bits := make([]int, k)
		for bitpos := 0; bitpos < k; bitpos++ {
			bits[bitpos] = (outcome >> (k - 1 - bitpos)) & 1
		}
		branches[outcome] = measureBranch{
			prob:           probs[outcome],
			bits:           bits,
			remainder:      newKetRepr(remainder),
			remainingLocal: remainingLocal,
		}
	}
	return branches
}

// subIndex extracts the k bits of i at the given shifts, in shift order
// (shifts[0] is the most significant bit of the result).
func subIndex(i int, shifts []int, k int) int {
	s := 0
	for bitpos, sh := range shifts {
		bit := (i >> sh) & 1
		s |= bit << (k - 1 - bitpos)
	}
	return s
}
