package qstate

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// densityRepr is the Fock/decoherence formalism: a 2^n x 2^n density
// matrix, row-major, used when the Fock or decoherence formalism is
// selected (§3.6). Internal arithmetic uses plain complex128 matrices;
// mat.CDense is used only at the presentation boundary (Dense), which
// is what the persistence layer snapshots into a .qu file (§6.4).
type densityRepr struct {
	rho [][]complex128 // dim x dim
	n   int
}

func newDensityFromKet(amps []complex128) *densityRepr {
	dim := len(amps)
	n := 0
	for 1<<n < dim {
		n++
	}
	rho := make([][]complex128, dim)
	for i := range rho {
		rho[i] = make([]complex128, dim)
		for j := range rho[i] {
			rho[i][j] = amps[i] * cconj(amps[j])
		}
	}
	return &densityRepr{rho: rho, n: n}
}

func cconj(c complex128) complex128 { return complex(real(c), -imag(c)) }

// Dense converts the density matrix to a gonum mat.CDense snapshot.
func (d *densityRepr) Dense() *mat.CDense {
	dim := len(d.rho)
	flat := make([]complex128, dim*dim)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			flat[i*dim+j] = d.rho[i][j]
		}
	}
	return mat.NewCDense(dim, dim, flat)
}

// tensorDensity returns a ⊗ b as a new density matrix, a's qubits
// ordered before b's.
func tensorDensity(a, b *densityRepr) *densityRepr {
	da, db := len(a.rho), len(b.rho)
	dim := da * db
	rho := make([][]complex128, dim)
	for i := range rho {
		rho[i] = make([]complex128, dim)
	}
	for i1 := 0; i1 < da; i1++ {
		for j1 := 0; j1 < da; j1++ {
			av := a.rho[i1][j1]
			if av == 0 {
				continue
			}
			for i2 := 0; i2 < db; i2++ {
				for j2 := 0; j2 < db; j2++ {
					rho[i1*db+i2][j1*db+j2] = av * b.rho[i2][j2]
				}
			}
		}
	}
	return &densityRepr{rho: rho, n: a.n + b.n}
}

// embedGateDense builds the full dim x dim unitary representing gate
// acting on the given local qubit positions, identity elsewhere.
func embedGateDense(n int, gate Gate, qubits []int) [][]complex128 {
	k := len(qubits)
	dim := 1 << n
	shifts := make([]int, k)
	targetMask := 0
	for idx, q := range qubits {
		shifts[idx] = n - 1 - q
		targetMask |= 1 << shifts[idx]
	}
	subDim := 1 << k
	U := make([][]complex128, dim)
	for i := range U {
		U[i] = make([]complex128, dim)
	}
	for env := 0; env < dim; env++ {
		if env&targetMask != 0 {
			continue
		}
		for si := 0; si < subDim; si++ {
			fi := insertBits(env, shifts, si, k)
			for sj := 0; sj < subDim; sj++ {
				fj := insertBits(env, shifts, sj, k)
				U[fi][fj] = gate.Matrix[si][sj]
			}
		}
	}
	return U
}

func insertBits(env int, shifts []int, s, k int) int {
	full := env
	for bitpos := 0; bitpos < k; bitpos++ {
		if (s>>(k-1-bitpos))&1 == 1 {
			full |= 1 << shifts[bitpos]
		}
	}
	return full
}

func matMulC(a, b [][]complex128) [][]complex128 {
	n := len(a)
	out := make([][]complex128, n)
	for i := range out {
		out[i] = make([]complex128, n)
		for j := 0; j < n; j++ {
			var acc complex128
			for kk := 0; kk < n; kk++ {
				acc += a[i][kk] * b[kk][j]
			}
			out[i][j] = acc
		}
	}
	return out
}

func conjTranspose(a [][]complex128) [][]complex128 {
	n := len(a)
	out := make([][]complex128, n)
	for i := range out {
		out[i] = make([]complex128, n)
		for j := 0; j < n; j++ {
			out[i][j] = cconj(a[j][i])
		}
	}
	return out
}

// applyGateDensity computes U rho U^dagger.
func applyGateDensity(d *densityRepr, gate Gate, qubits []int) *densityRepr {
	U := embedGateDense(d.n, gate, qubits)
	Udag := conjTranspose(U)
	out := matMulC(matMulC(U, d.rho), Udag)
	return &densityRepr{rho: out, n: d.n}
}

// permuteDensity reorders qubits via the SWAP-conjugation U rho U^dagger
// with U built from a chain of embedded SWAP gates, mirroring the ket
// formalism's permutation contract in §4.2.
func permuteDensity(d *densityRepr, perm []int) *densityRepr {
	cur := d
	current := make([]int, d.n)
	for i := range current {
		current[i] = i
	}
	swapGate, _ := LookupGate("SWAP")
	for target := 0; target < d.n; target++ {
		want := perm[target]
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
		cur = applyGateDensity(cur, swapGate, []int{target, at})
		current[target], current[at] = current[at], current[target]
	}
	return cur
}

// measureDensityBranches enumerates every classical outcome of
// measuring the given qubits, each with its probability and the
// renormalized remainder density matrix over the unmeasured qubits (a
// partial trace of the projected state), mirroring
// measureKetBranches's contract and cacheability (§4.2, §5).
func measureDensityBranches(d *densityRepr, qubits []int) []measureBranch {
	k := len(qubits)
	n := d.n
	shifts := make([]int, k)
	isTarget := make([]bool, n)
	for idx, q := range qubits {
		shifts[idx] = n - 1 - q
		isTarget[q] = true
	}
	dim := len(d.rho)
	subDim := 1 << k

	probs := make([]float64, subDim)
	for i := 0; i < dim; i++ {
		s := subIndex(i, shifts, k)
		probs[s] += real(d.rho[i][i])
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
		rem := make([][]complex128, remDim)
		for i := range rem {
			rem[i] = make([]complex128, remDim)
		}
		norm := probs[outcome]
		if norm <= 0 {
			norm = 1
		}
		for i := 0; i < dim; i++ {
			if subIndex(i, shifts, k) != outcome {
				continue
			}
			pi := subIndex(i, remShifts, len(remainingLocal))
			for j := 0; j < dim; j++ {
				if subIndex(j, shifts, k) != outcome {
					continue
				}
				pj := subIndex(j, remShifts, len(remainingLocal))
				rem[pi][pj] = d.rho[i][j] / complex(norm, 0)
			}
		}

		bits := make([]int, k)
		for bitpos := 0; bitpos < k; bitpos++ {
			bits[bitpos] = (outcome >> (k - 1 - bitpos)) & 1
		}
		branches[outcome] = measureBranch{
			prob:           probs[outcome],
			bits:           bits,
			remainder:      &densityRepr{rho: rem, n: len(remainingLocal)},
			remainingLocal: remainingLocal,
		}
	}
	return branches
}

// ApplyDecoherence mixes rho toward the fully-mixed state by factor
// gamma in [0,1] (gamma=0: no decay, gamma=1: fully mixed). Memory.expire
// does not call it.
func (d *densityRepr) ApplyDecoherence(gamma float64) {
	dim := len(d.rho)
	mixedDiag := complex(1/float64(dim), 0)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			target := complex(0, 0)
			if i == j {
				target = mixedDiag
			}
			d.rho[i][j] = complex(1-gamma, 0)*d.rho[i][j] + complex(gamma, 0)*target
		}
	}
}

// Fidelity returns <psi|rho|psi> for a reference pure ket psi.
// hardware.Memory's Fidelity is a stored field and is not computed
// from it.
func (d *densityRepr) Fidelity(psi []complex128) float64 {
	dim := len(d.rho)
	var acc complex128
	for i := 0; i < dim; i++ {
		var rowAcc complex128
		for j := 0; j < dim; j++ {
			rowAcc += d.rho[i][j] * psi[j]
		}
		acc += cconj(psi[i]) * rowAcc
	}
	return math.Max(0, real(acc))
}
