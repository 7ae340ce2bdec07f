package hardware

import (
	"fmt"

	"github.com/iti/qns/kernel"
	"github.com/sirupsen/logrus"
)

// MessageHandler is invoked when a Node receives a classical message.
type MessageHandler func(tl *kernel.Timeline, src string, msg Message)

// QubitHandler is invoked when a Node receives a photon.
type QubitHandler func(tl *kernel.Timeline, src string, photon Photon)

// Node owns a map from component name to Component (memory, detector,
// light source, BSM, channel endpoints) and the classical/quantum
// channels reaching its neighbors (§3.4). The resource manager, network
// manager, and application that sit above hardware are wired in by the
// layers that own those types (via SetMessageHandler/SetQubitHandler)
// rather than held as typed fields here, which would otherwise force an
// import cycle between hardware and resource/network.
type Node struct {
	Name string

	Entity *kernel.Entity

	components map[string]Component
	cchannels  map[string]*ClassicalChannel // keyed by receiver node name
	qchannels  map[string]*QuantumChannel

	onMessage MessageHandler
	onQubit   QubitHandler

	log *logrus.Entry
}

// NewNode registers a Node as a kernel entity named name and adds it
// to the process-wide node registry used by channel delivery.
func NewNode(tl *kernel.Timeline, name string) (*Node, error) {
	ent, err := kernel.NewEntity(tl, name, nil)
	if err != nil {
		return nil, err
	}
	n := &Node{
		Name:       name,
		Entity:     ent,
		components: make(map[string]Component),
		cchannels:  make(map[string]*ClassicalChannel),
		qchannels:  make(map[string]*QuantumChannel),
		log:        logrus.WithField("component", "node").WithField("name", name),
	}
	nodeRegistry[name] = n
	return n, nil
}

// AddComponent registers a hardware component under its own name.
func (n *Node) AddComponent(c Component) {
	c.SetOwner(n)
	n.components[c.ComponentName()] = c
}

// GetComponentByName looks up a component by name (§3.4).
func (n *Node) GetComponentByName(name string) (Component, bool) {
	c, ok := n.components[name]
	return c, ok
}

// GetComponentsByType returns every component of the given type tag.
func (n *Node) GetComponentsByType(typ string) []Component {
	var out []Component
	for _, c := range n.components {
		if c.ComponentType() == typ {
			out = append(out, c)
		}
	}
	return out
}

// AddClassicalChannel registers an outgoing classical channel to dst.
func (n *Node) AddClassicalChannel(c *ClassicalChannel) { n.cchannels[c.ReceiverName] = c }

// AddQuantumChannel registers an outgoing quantum channel to dst.
func (n *Node) AddQuantumChannel(c *QuantumChannel) { n.qchannels[c.ReceiverName] = c }

// SetMessageHandler wires the classical-message receiver (typically the
// resource manager's dispatch or the reservation protocol).
func (n *Node) SetMessageHandler(h MessageHandler) { n.onMessage = h }

// SetQubitHandler wires the photon receiver (typically a BSM node or a
// detector-bearing component's trigger path).
func (n *Node) SetQubitHandler(h QubitHandler) { n.onQubit = h }

// SendMessage transmits msg to dstName over the registered classical
// channel, failing if no such channel is configured (a dangling
// channel endpoint is a configuration error per §7).
func (n *Node) SendMessage(tl *kernel.Timeline, dstName string, msg Message) error {
	ch, ok := n.cchannels[dstName]
	if !ok {
		return fmt.Errorf("hardware: node %s has no classical channel to %s", n.Name, dstName)
	}
	return ch.Transmit(tl, msg)
}

// SendQubit transmits photon to dstName over the registered quantum
// channel.
func (n *Node) SendQubit(tl *kernel.Timeline, dstName string, photon Photon) error {
	ch, ok := n.qchannels[dstName]
	if !ok {
		return fmt.Errorf("hardware: node %s has no quantum channel to %s", n.Name, dstName)
	}
	return ch.Transmit(tl, n.Entity.Rng(), photon)
}

// Handle implements kernel.Handler, dispatching the two operations
// channels schedule against a node (§3.4).
func (n *Node) Handle(tl *kernel.Timeline, operation string, args any) any {
	switch operation {
	case "receive_message":
		a := args.(receiveMessageArgs)
		if n.onMessage != nil {
			n.onMessage(tl, a.Src, a.Msg)
		}
	case "receive_qubit":
		a := args.(receiveQubitArgs)
		if n.onQubit != nil {
			n.onQubit(tl, a.Src, a.Photon)
		}
	}
	return nil
}
