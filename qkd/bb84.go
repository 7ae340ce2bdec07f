// Package qkd implements the key-agreement stack layered over the
// same kernel the entanglement protocols run on (§4.10): BB84 bit
// sifting and cascade error correction. Both protocols expose the
// push(keysize, num_keys)/pop(key) interface described in the spec;
// cascade sits on top of BB84 and is optional, a QKDNode may run BB84
// alone.
package qkd

import (
	"github.com/iti/qns/hardware"
	"github.com/iti/qns/kernel"
	"github.com/iti/qns/qstate"
	"github.com/sirupsen/logrus"
)

// Role distinguishes the two BB84 end-points: Alice prepares and
// sends qubits, Bob measures them.
type Role int

const (
	RoleAlice Role = iota
	RoleBob
)

// KeyConsumer receives a key (as a slice of 0/1 bits) from the layer
// below it. BB84 delivers sifted keys to its upper layer; cascade
// delivers corrected keys to its own.
type KeyConsumer interface {
	Pop(tl *kernel.Timeline, key []int)
}

// KeyConsumerFunc adapts a plain function to KeyConsumer.
type KeyConsumerFunc func(tl *kernel.Timeline, key []int)

func (f KeyConsumerFunc) Pop(tl *kernel.Timeline, key []int) { f(tl, key) }

type keyRequest struct {
	keySize int
	numKeys int
}

// beginPulseMsg opens a batch: Alice tells Bob how many pulses to
// expect and the key parameters driving this batch.
type beginPulseMsg struct {
	NumPulses int
	KeySize   int
	NumKeys   int
	StartTime kernel.Time
}

type receivedQubitsMsg struct{}

type basisListMsg struct {
	Bases []int
}

type matchingIndicesMsg struct {
	Indices []int
}

// BB84 implements one end-node's half of the BB84 protocol (§4.10).
// The same type runs in both roles; Role selects which half of the
// exchange an instance performs.
type BB84 struct {
	node       *hardware.Node
	entity     *kernel.Entity
	qsm        *qstate.Manager
	role       Role
	remoteNode string

	lightSource *hardware.LightSource

	// PolarizationFidelity is the per-photon chance that Bob's measured
	// bit is kept as measured; with probability 1-PolarizationFidelity
	// the bit is flipped (§8 scenario 3).
	PolarizationFidelity float64
	PhotonInterval       kernel.Time

	Upper KeyConsumer

	requests []keyRequest
	working  bool

	// per-round scratch state
	basisBuf    []int
	bitBuf      []int
	pulseIndex  int
	numPulses   int
	keySize     int
	keysLeft    int
	keyBits     []int

	log *logrus.Entry
}

// NewBB84 constructs a BB84 instance bound to node, registered as its
// own kernel entity for a private RNG stream (§5). lightSource is only
// used in the Alice role and may be nil for Bob.
func NewBB84(tl *kernel.Timeline, node *hardware.Node, qsm *qstate.Manager, role Role, remoteNode string, lightSource *hardware.LightSource) (*BB84, error) {
	ent, err := kernel.NewEntity(tl, node.Name+"/bb84", node.Entity)
	if err != nil {
		return nil, err
	}
	b := &BB84{
		node:                 node,
		entity:               ent,
		qsm:                  qsm,
		role:                 role,
		remoteNode:           remoteNode,
		lightSource:          lightSource,
		PolarizationFidelity: 1.0,
		PhotonInterval:       kernel.Time(1e5),
		log:                  logrus.WithField("component", "bb84").WithField("node", node.Name),
	}
	node.SetQubitHandler(b.onPhoton)
	return b, nil
}

// Push implements bb84.push (§4.10): only the Alice role may request a
// batch of keys, since Alice drives the pulse schedule.
func (b *BB84) Push(tl *kernel.Timeline, keySize, numKeys int) {
	if b.role != RoleAlice {
		return
	}
	b.requests = append(b.requests, keyRequest{keySize: keySize, numKeys: numKeys})
	if !b.working {
		b.startNextRequest(tl)
	}
}

func (b *BB84) startNextRequest(tl *kernel.Timeline) {
	if len(b.requests) == 0 {
		b.working = false
		return
	}
	b.working = true
	req := b.requests[0]
	b.keySize = req.keySize
	b.keysLeft = req.numKeys
	b.keyBits = nil
	b.startRound(tl)
}

// oversampleFactor accounts for basis mismatch (about half survive
// sifting) plus a margin for per-photon loss.
const oversampleFactor = 4

func (b *BB84) startRound(tl *kernel.Timeline) {
	b.numPulses = b.keySize * oversampleFactor
	b.basisBuf = make([]int, b.numPulses)
	b.bitBuf = make([]int, b.numPulses)
	for i := range b.basisBuf {
		b.basisBuf[i] = b.coin()
		b.bitBuf[i] = b.coin()
	}
	b.pulseIndex = 0

	_ = b.node.SendMessage(tl, b.remoteNode, hardware.Message{
		Content: beginPulseMsg{
			NumPulses: b.numPulses,
			KeySize:   b.keySize,
			NumKeys:   b.keysLeft,
			StartTime: tl.Now(),
		},
		Priority: hardware.PriorityMessageArrival,
	})
	// delay the first emission so the begin-pulse message has time to
	// arrive and reset Bob's buffers before any photon does (§5 ordering:
	// classical and quantum channels carry independent delays).
	b.schedule(tl, b.PhotonInterval, b.emitNext)
}

func (b *BB84) emitNext(tl *kernel.Timeline) {
	if b.pulseIndex >= b.numPulses {
		return
	}
	i := b.pulseIndex
	amp := encode(b.basisBuf[i], b.bitBuf[i])
	photon := b.lightSource.Emit(amp)
	_ = b.node.SendQubit(tl, b.remoteNode, photon)
	b.pulseIndex++
	if b.pulseIndex < b.numPulses {
		b.schedule(tl, b.PhotonInterval, b.emitNext)
	}
}

// encode returns the computational-basis amplitudes for basis (0 =
// rectilinear, 1 = diagonal) and bit.
func encode(basis, bit int) []complex128 {
	if basis == 0 {
		if bit == 0 {
			return []complex128{1, 0}
		}
		return []complex128{0, 1}
	}
	c := complex(sqrtHalf, 0)
	if bit == 0 {
		return []complex128{c, c}
	}
	return []complex128{c, -c}
}

const sqrtHalf = 0.7071067811865476

// onPhoton is Bob's quantum-channel receive path: sample a measurement
// basis, measure in it, and apply the polarization-fidelity noise model.
func (b *BB84) onPhoton(tl *kernel.Timeline, src string, photon hardware.Photon) {
	if b.role != RoleBob || src != b.remoteNode {
		return
	}
	basis := b.coin()
	b.basisBuf = append(b.basisBuf, basis)
	if photon.Null {
		b.bitBuf = append(b.bitBuf, -1)
		b.maybeSignalReceived(tl)
		return
	}
	circuit := &qstate.Circuit{}
	if basis == 1 {
		circuit.AddGate("H", 0)
	}
	circuit.AddMeasure(0)
	outcomes, err := b.qsm.RunCircuit(circuit, []qstate.Key{photon.QSMKey}, b.entity.Rng().RandU01())
	if err != nil {
		b.bitBuf = append(b.bitBuf, -1)
		b.maybeSignalReceived(tl)
		return
	}
	bit := outcomes[photon.QSMKey]
	if b.entity.Rng().RandU01() > b.PolarizationFidelity {
		bit ^= 1
	}
	b.bitBuf = append(b.bitBuf, bit)
	b.maybeSignalReceived(tl)
}

// OnMessage handles the classical handshake driving sifting (§4.10).
func (b *BB84) OnMessage(tl *kernel.Timeline, src string, content any) {
	if src != b.remoteNode {
		return
	}
	switch msg := content.(type) {
	case beginPulseMsg:
		b.numPulses = msg.NumPulses
		b.keySize = msg.KeySize
		b.keysLeft = msg.NumKeys
		b.basisBuf = nil
		b.bitBuf = nil
	case receivedQubitsMsg:
		_ = b.node.SendMessage(tl, b.remoteNode, hardware.Message{
			Content:  basisListMsg{Bases: b.basisBuf},
			Priority: hardware.PriorityMessageArrival,
		})
	case basisListMsg:
		b.onBasisList(tl, msg.Bases)
	case matchingIndicesMsg:
		b.onMatchingIndices(tl, msg.Indices)
	}
}

// maybeSignalReceived tells Alice, in the Bob role only, that every one
// of numPulses photons (null or measured) has been recorded.
func (b *BB84) maybeSignalReceived(tl *kernel.Timeline) {
	if b.role == RoleBob && len(b.bitBuf) == b.numPulses {
		_ = b.node.SendMessage(tl, b.remoteNode, hardware.Message{
			Content:  receivedQubitsMsg{},
			Priority: hardware.PriorityMessageArrival,
		})
	}
}

func (b *BB84) onBasisList(tl *kernel.Timeline, remoteBases []int) {
	var indices []int
	for i, ab := range remoteBases {
		if i >= len(b.bitBuf) {
			break
		}
		if b.bitBuf[i] != -1 && b.basisBuf[i] == ab {
			indices = append(indices, i)
			b.keyBits = append(b.keyBits, b.bitBuf[i])
		}
	}
	_ = b.node.SendMessage(tl, b.remoteNode, hardware.Message{
		Content:  matchingIndicesMsg{Indices: indices},
		Priority: hardware.PriorityMessageArrival,
	})
	b.drainKeys(tl)
}

func (b *BB84) onMatchingIndices(tl *kernel.Timeline, indices []int) {
	for _, i := range indices {
		if i < len(b.bitBuf) {
			b.keyBits = append(b.keyBits, b.bitBuf[i])
		}
	}
	b.drainKeys(tl)
}

// drainKeys pops as many key-sized chunks as are available, delivers
// them upward, and either starts another round or the next request.
func (b *BB84) drainKeys(tl *kernel.Timeline) {
	for len(b.keyBits) >= b.keySize && b.keysLeft > 0 {
		key := append([]int(nil), b.keyBits[:b.keySize]...)
		b.keyBits = b.keyBits[b.keySize:]
		b.keysLeft--
		if b.Upper != nil {
			b.Upper.Pop(tl, key)
		}
	}
	if b.keysLeft <= 0 {
		if b.role == RoleAlice && len(b.requests) > 0 {
			b.requests = b.requests[1:]
		}
		b.schedule(tl, b.PhotonInterval, b.startNextRequest)
		return
	}
	if b.role == RoleAlice {
		b.schedule(tl, b.PhotonInterval, b.startRound)
	}
}

func (b *BB84) coin() int {
	if b.entity.Rng().RandU01() < 0.5 {
		return 0
	}
	return 1
}

func (b *BB84) schedule(tl *kernel.Timeline, delay kernel.Time, fn func(tl *kernel.Timeline)) {
	_, _ = tl.Schedule(tl.Now()+delay, hardware.PriorityMessageArrival, kernel.Process{
		Owner:     kernel.HandlerFunc(func(tl *kernel.Timeline, operation string, args any) any { fn(tl); return nil }),
		Operation: "bb84_continue",
	})
}
