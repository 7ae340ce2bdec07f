package hardware

import (
	"math"

	"github.com/iti/qns/kernel"
	"github.com/sirupsen/logrus"
)

// Message is the payload of a classical transmission (§4.3). Content is
// left opaque to hardware: protocols decode it by type-switching.
type Message struct {
	Content  any
	Priority int64
}

// ClassicalChannel delivers Messages reliably and in order, at a fixed
// per-link delay (§4.3).
type ClassicalChannel struct {
	baseComponent
	Sender       *Node
	ReceiverName string
	LengthMeters float64
	Delay        kernel.Time

	log *logrus.Entry
}

// NewClassicalChannel constructs a channel with an explicit delay. If
// delay is zero and lengthMeters is nonzero, the delay is derived from
// propagation at CFiberPsPerMeter via exact rational arithmetic (§4.1
// high-precision helper), matching how quantum channels compute theirs.
func NewClassicalChannel(name string, sender *Node, receiverName string, lengthMeters float64, delay kernel.Time) *ClassicalChannel {
	if delay == 0 && lengthMeters > 0 {
		delay = kernel.PropagationDelay(lengthMeters)
	}
	return &ClassicalChannel{
		baseComponent: baseComponent{name: name, typ: "ClassicalChannel"},
		Sender:        sender,
		ReceiverName:  receiverName,
		LengthMeters:  lengthMeters,
		Delay:         delay,
		log:           logrus.WithField("component", "cchannel").WithField("name", name),
	}
}

// Transmit schedules a deliver(src, message) event on the receiver at
// now + delay, with priority propagated unchanged (§4.3). Delivery is
// reliable and in order per channel because delay is constant and
// priorities flow through untouched.
func (c *ClassicalChannel) Transmit(tl *kernel.Timeline, msg Message) error {
	node, ok := nodeRegistry[c.ReceiverName]
	if !ok {
		return nil
	}
	_, err := tl.Schedule(tl.Now()+c.Delay, msg.Priority, kernel.Process{
		Owner:     node,
		Operation: "receive_message",
		Args:      receiveMessageArgs{Src: c.Sender.Name, Msg: msg},
	})
	return err
}

type receiveMessageArgs struct {
	Src string
	Msg Message
}

// QuantumChannel additionally models attenuation and carries photons
// (§4.3).
type QuantumChannel struct {
	baseComponent
	Sender            *Node
	ReceiverName      string
	LengthMeters      float64
	AttenuationDbPerM float64
	Frequency         float64

	log *logrus.Entry
}

// NewQuantumChannel constructs a quantum channel.
func NewQuantumChannel(name string, sender *Node, receiverName string, lengthMeters, attenuationDbPerM, frequency float64) *QuantumChannel {
	return &QuantumChannel{
		baseComponent:     baseComponent{name: name, typ: "QuantumChannel"},
		Sender:            sender,
		ReceiverName:      receiverName,
		LengthMeters:      lengthMeters,
		AttenuationDbPerM: attenuationDbPerM,
		Frequency:         frequency,
		log:               logrus.WithField("component", "qchannel").WithField("name", name),
	}
}

// LossProbability returns 1 - 10^(-attenuation*length/10) (§4.3).
func (c *QuantumChannel) LossProbability() float64 {
	return 1 - math.Pow(10, -c.AttenuationDbPerM*c.LengthMeters/10)
}

// Transmit schedules a receive_qubit event on the destination at
// now + length/c_fiber, unless the photon is lost to attenuation, in
// which case no delivery event is scheduled at all (the qubit, if
// entangled, remains in the QSM but unreferenced by this edge) (§4.3).
func (c *QuantumChannel) Transmit(tl *kernel.Timeline, rng RandSource, photon Photon) error {
	if rng.RandU01() < c.LossProbability() {
		c.log.Debug("photon lost to attenuation")
		return nil
	}
	node, ok := nodeRegistry[c.ReceiverName]
	if !ok {
		return nil
	}
	delay := kernel.PropagationDelay(c.LengthMeters)
	_, err := tl.Schedule(tl.Now()+delay, PriorityQubitArrival, kernel.Process{
		Owner:     node,
		Operation: "receive_qubit",
		Args:      receiveQubitArgs{Src: c.Sender.Name, Photon: photon},
	})
	return err
}

type receiveQubitArgs struct {
	Src    string
	Photon Photon
}

// RandSource is the minimal RNG surface hardware needs from a caller's
// entity (typically (*kernel.Entity).Rng()), kept as an interface so
// tests can substitute a deterministic stub.
type RandSource interface {
	RandU01() float64
}

// nodeRegistry is a process-wide lookup from node name to *Node, the
// one "pointer by name" table the hardware layer needs to schedule
// cross-node deliveries without nodes holding owning references to
// each other (Design Note: cyclic object graphs are represented as
// name lookups through the timeline, never owning pointers).
var nodeRegistry = make(map[string]*Node)
