package qkd

import (
	"github.com/iti/qns/hardware"
	"github.com/iti/qns/kernel"
)

// NodeHandler builds the combined classical-message handler a topology
// installs on a QKDNode: the sifting handshake routes to bb84, and
// everything else (cascade's parity/search exchange) routes to cascade
// if present. Kept here, not in the topology package, because the
// message types it switches on are unexported.
func NodeHandler(bb84 *BB84, cascade *Cascade) hardware.MessageHandler {
	return func(tl *kernel.Timeline, src string, msg hardware.Message) {
		switch msg.Content.(type) {
		case beginPulseMsg, receivedQubitsMsg, basisListMsg, matchingIndicesMsg:
			bb84.OnMessage(tl, src, msg.Content)
		default:
			if cascade != nil {
				cascade.OnMessage(tl, src, msg.Content)
			}
		}
	}
}
