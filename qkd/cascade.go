package qkd

import (
	"github.com/iti/qns/hardware"
	"github.com/iti/qns/kernel"
	"github.com/sirupsen/logrus"
)

// Cascade implements the cascade error-correction layer above BB84
// (§4.10): it divides a sifted key into blocks, exchanges block
// parities, and performs a binary search within any mismatched block
// to locate and flip the single bad bit. One pass, no permutation
// between passes; deterministic given the sifted key and block size.
type Cascade struct {
	node       *hardware.Node
	bb84       *BB84
	role       Role
	remoteNode string
	blockSize  int

	Upper KeyConsumer

	pendingKey     []int
	blocks         [][]int
	activeSearches int
	busy           bool
	queue          [][]int

	log *logrus.Entry
}

// parityMsg carries one side's per-block parities for the key
// currently under correction.
type parityMsg struct {
	Parities []int
}

// searchMsg asks the peer (who holds the known-correct block) for the
// parity of the first half of the current search range [Lo,Hi) within
// Block, during binary search for the single bad bit.
type searchMsg struct {
	Block  int
	Lo, Hi int
}

// searchReplyMsg answers with the parity of [Lo,Mid); the requester
// narrows to [Lo,Mid) or [Mid,Hi) depending on whether its own parity
// of that half agrees.
type searchReplyMsg struct {
	Block       int
	Lo, Mid, Hi int
	Parity      int
}

type doneMsg struct{}

// NewCascade wraps bb84 with block-parity correction. blockSize
// controls how finely the key is divided; smaller blocks correct more
// errors per pass at the cost of more classical round trips.
func NewCascade(node *hardware.Node, bb84 *BB84, role Role, remoteNode string, blockSize int) *Cascade {
	if blockSize < 1 {
		blockSize = 8
	}
	c := &Cascade{
		node:       node,
		bb84:       bb84,
		role:       role,
		remoteNode: remoteNode,
		blockSize:  blockSize,
		log:        logrus.WithField("component", "cascade").WithField("node", node.Name),
	}
	bb84.Upper = KeyConsumerFunc(c.onRawKey)
	return c
}

// Push implements qkd.push (§4.10): cascade needs no extra bits beyond
// the sifted key itself, so it simply forwards the request to BB84.
func (c *Cascade) Push(tl *kernel.Timeline, keySize, numKeys int) {
	c.bb84.Push(tl, keySize, numKeys)
}

// onRawKey receives a freshly sifted key from BB84. Corrections run one
// key at a time (a batch can sift enough bits for several keys before
// any round-trip completes), so a key arriving mid-correction is queued.
func (c *Cascade) onRawKey(tl *kernel.Timeline, key []int) {
	if c.busy {
		c.queue = append(c.queue, key)
		return
	}
	c.busy = true
	c.beginCorrection(tl, key)
}

func (c *Cascade) beginCorrection(tl *kernel.Timeline, key []int) {
	c.pendingKey = key
	c.blocks = partition(key, c.blockSize)
	c.activeSearches = 0

	if c.role == RoleAlice {
		_ = c.node.SendMessage(tl, c.remoteNode, hardware.Message{
			Content:  parityMsg{Parities: blockParities(c.blocks)},
			Priority: hardware.PriorityMessageArrival,
		})
	}
}

func partition(key []int, blockSize int) [][]int {
	var blocks [][]int
	for i := 0; i < len(key); i += blockSize {
		end := i + blockSize
		if end > len(key) {
			end = len(key)
		}
		blocks = append(blocks, key[i:end])
	}
	return blocks
}

func blockParities(blocks [][]int) []int {
	out := make([]int, len(blocks))
	for i, blk := range blocks {
		out[i] = parityOf(blk)
	}
	return out
}

func parityOf(bits []int) int {
	p := 0
	for _, b := range bits {
		p ^= b
	}
	return p
}

// OnMessage handles the classical exchange driving correction.
func (c *Cascade) OnMessage(tl *kernel.Timeline, src string, content any) {
	if src != c.remoteNode {
		return
	}
	switch msg := content.(type) {
	case parityMsg:
		c.onPeerParities(tl, msg.Parities)
	case searchMsg:
		mid := msg.Lo + (msg.Hi-msg.Lo)/2
		_ = c.node.SendMessage(tl, c.remoteNode, hardware.Message{
			Content: searchReplyMsg{
				Block: msg.Block, Lo: msg.Lo, Mid: mid, Hi: msg.Hi,
				Parity: parityOf(c.blocks[msg.Block][msg.Lo:mid]),
			},
			Priority: hardware.PriorityMessageArrival,
		})
	case searchReplyMsg:
		c.onSearchReply(tl, msg)
	case doneMsg:
		c.finish(tl)
	}
}

// onPeerParities runs on Bob: compares the peer's (Alice's) block
// parities against its own and opens a binary search for every
// mismatched block.
func (c *Cascade) onPeerParities(tl *kernel.Timeline, peerParities []int) {
	var mismatched []int
	for i, blk := range c.blocks {
		if i < len(peerParities) && parityOf(blk) != peerParities[i] {
			mismatched = append(mismatched, i)
		}
	}
	if len(mismatched) == 0 {
		_ = c.node.SendMessage(tl, c.remoteNode, hardware.Message{Content: doneMsg{}, Priority: hardware.PriorityMessageArrival})
		c.finish(tl)
		return
	}
	c.activeSearches = len(mismatched)
	for _, i := range mismatched {
		c.beginSearch(tl, i, 0, len(c.blocks[i]))
	}
}

// beginSearch narrows the known-mismatched range [lo,hi) within block
// by one more step, or (once the range is a single bit) flips it and
// retires this block's search.
func (c *Cascade) beginSearch(tl *kernel.Timeline, block, lo, hi int) {
	if hi-lo <= 1 {
		c.blocks[block][lo] ^= 1
		c.activeSearches--
		c.maybeFinish(tl)
		return
	}
	_ = c.node.SendMessage(tl, c.remoteNode, hardware.Message{
		Content:  searchMsg{Block: block, Lo: lo, Hi: hi},
		Priority: hardware.PriorityMessageArrival,
	})
}

// onSearchReply runs on Bob, resuming the binary search once the
// peer's parity of the first half [Lo,Mid) arrives.
func (c *Cascade) onSearchReply(tl *kernel.Timeline, msg searchReplyMsg) {
	blk := c.blocks[msg.Block]
	localParity := parityOf(blk[msg.Lo:msg.Mid])
	if localParity != msg.Parity {
		c.beginSearch(tl, msg.Block, msg.Lo, msg.Mid)
	} else {
		c.beginSearch(tl, msg.Block, msg.Mid, msg.Hi)
	}
}

func (c *Cascade) maybeFinish(tl *kernel.Timeline) {
	if c.activeSearches == 0 {
		_ = c.node.SendMessage(tl, c.remoteNode, hardware.Message{Content: doneMsg{}, Priority: hardware.PriorityMessageArrival})
		c.finish(tl)
	}
}

func (c *Cascade) finish(tl *kernel.Timeline) {
	corrected := make([]int, 0, len(c.pendingKey))
	for _, blk := range c.blocks {
		corrected = append(corrected, blk...)
	}
	if c.Upper != nil {
		c.Upper.Pop(tl, corrected)
	}
	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.beginCorrection(tl, next)
		return
	}
	c.busy = false
}
