package qstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptyCircuit_IsNoOp(t *testing.T) {
	m, err := NewManager(VariantKet, 16)
	assert.NoError(t, err)

	k := m.New([]complex128{1, 0})
	before, _ := m.Get(k)

	outcomes, err := m.RunCircuit(&Circuit{}, []Key{k}, 0.5)
	assert.NoError(t, err)
	assert.Empty(t, outcomes)

	after, _ := m.Get(k)
	assert.Equal(t, before.Amplitudes, after.Amplitudes)
}

func TestDoubleX_IsIdentity(t *testing.T) {
	m, err := NewManager(VariantKet, 16)
	assert.NoError(t, err)

	k := m.New([]complex128{0.6, 0.8})
	before, _ := m.Get(k)

	c := (&Circuit{}).AddGate("X", 0).AddGate("X", 0)
	_, err = m.RunCircuit(c, []Key{k}, 0.5)
	assert.NoError(t, err)

	after, _ := m.Get(k)
	assert.Equal(t, before.Amplitudes, after.Amplitudes)
}

func TestUnknownKey_Fails(t *testing.T) {
	m, _ := NewManager(VariantKet, 16)
	_, err := m.Get(Key(999))
	assert.ErrorIs(t, err, ErrUnknownState)

	_, err = m.RunCircuit(&Circuit{}, []Key{999}, 0.5)
	assert.ErrorIs(t, err, ErrUnknownState)
}

func TestUnknownGate_Fails(t *testing.T) {
	m, _ := NewManager(VariantKet, 16)
	k := m.New([]complex128{1, 0})
	c := (&Circuit{}).AddGate("NOT-A-GATE", 0)
	_, err := m.RunCircuit(c, []Key{k}, 0.5)
	assert.ErrorIs(t, err, ErrUnknownGate)
}

func TestBellPairMeasurement_CorrelatedOutcomes(t *testing.T) {
	m, err := NewManager(VariantKet, 16)
	assert.NoError(t, err)

	a := m.New([]complex128{1, 0})
	b := m.New([]complex128{1, 0})

	c := (&Circuit{}).AddGate("H", 0).AddGate("CNOT", 0, 1).AddMeasure(0, 1)
	outcomes, err := m.RunCircuit(c, []Key{a, b}, 0.1)
	assert.NoError(t, err)
	assert.Equal(t, outcomes[a], outcomes[b])
}

func TestSetUnbindsPriorCoOwners(t *testing.T) {
	m, _ := NewManager(VariantKet, 16)
	a := m.New([]complex128{1, 0})
	b := m.New([]complex128{1, 0})
	c := (&Circuit{}).AddGate("H", 0).AddGate("CNOT", 0, 1)
	_, err := m.RunCircuit(c, []Key{a, b}, 0.1)
	assert.NoError(t, err)

	// a and b are now jointly bound; Set(a) must unbind b too.
	m.Set([]Key{a}, []complex128{1, 0})
	_, err = m.Get(b)
	assert.ErrorIs(t, err, ErrUnknownState)
}

func TestBellDiagonal_WernerFidelityRoundTrip(t *testing.T) {
	b := werner(0.9)
	assert.InDelta(t, 0.9, fidelityBellDiag(b), 1e-9)

	flipped := applyPauliBellDiag(applyPauliBellDiag(b, "X"), "X")
	assert.Equal(t, b.p, flipped.p)
}

func TestDensityMatrix_ComposeAndMeasureAgreesWithKet(t *testing.T) {
	m, err := NewManager(VariantDensityMatrix, 16)
	assert.NoError(t, err)

	a := m.New([]complex128{1, 0})
	b := m.New([]complex128{1, 0})
	c := (&Circuit{}).AddGate("H", 0).AddGate("CNOT", 0, 1).AddMeasure(0, 1)
	outcomes, err := m.RunCircuit(c, []Key{a, b}, 0.9)
	assert.NoError(t, err)
	assert.Equal(t, outcomes[a], outcomes[b])
}

func TestDensityMatrix_SnapshotMatchesKetOuterProduct(t *testing.T) {
	m, err := NewManager(VariantDensityMatrix, 16)
	assert.NoError(t, err)

	k := m.New([]complex128{1, 0})
	snap, err := m.DensityMatrixSnapshot(k)
	assert.NoError(t, err)

	r, c := snap.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, complex(1, 0), snap.At(0, 0))
	assert.Equal(t, complex(0, 0), snap.At(1, 1))
}

func TestDensityMatrix_SnapshotRejectsOtherFormalisms(t *testing.T) {
	m, err := NewManager(VariantKet, 16)
	assert.NoError(t, err)

	k := m.New([]complex128{1, 0})
	_, err = m.DensityMatrixSnapshot(k)
	assert.Error(t, err)
}

// TestCachedMeasure_KeyIsSampleIndependent pins §4.2/§5's cache contract:
// the measurement LRU is keyed on (qubits, state), not the sample, so two
// different samples against the same structural state share one cached
// branch table and each still gets the outcome its own sample selects.
func TestCachedMeasure_KeyIsSampleIndependent(t *testing.T) {
	m, err := NewManager(VariantKet, 16)
	assert.NoError(t, err)

	amps := []complex128{0.6, 0.8} // prob(0)=0.36, prob(1)=0.64
	s := newKetRepr(amps)

	bits0, _, _ := m.cachedMeasure(s, []int{0}, 0.1)
	assert.Equal(t, []int{0}, bits0)
	assert.Equal(t, 1, m.measureCache.order.Len(), "first sample should populate the branch-table cache")

	bits1, _, _ := m.cachedMeasure(s, []int{0}, 0.9)
	assert.Equal(t, []int{1}, bits1)
	assert.Equal(t, 1, m.measureCache.order.Len(), "a different sample against the same (qubits, state) must hit, not add a new entry")
}
