package topology

import (
	"fmt"

	"github.com/iti/qns/hardware"
	"github.com/iti/qns/kernel"
	"github.com/iti/qns/network"
	"github.com/iti/qns/qkd"
	"github.com/iti/qns/qstate"
	"github.com/iti/qns/resource"
	"golang.org/x/exp/slices"
)

// Node type tags recognized in NodeConfig.Type (§6.1, closed set).
const (
	TypeQuantumRouter = "QuantumRouter"
	TypeBSMNode       = "BSMNode"
	TypeQKDNode       = "QKDNode"
	TypeDQCNode       = "DQCNode"
)

// Options groups the physical/run parameters a topology file itself
// does not carry (§6.1 only describes node/link structure; detector
// efficiency, memory physics, and entanglement-protocol knobs are
// supplied by the caller, mirroring ITI-mrnes's separate ExpCfg
// dictionary of run-time parameters layered over the topology dict).
type Options struct {
	Seed         int64
	QSMCacheSize int
	// QSMVariant selects the qstate formalism (qstate.VariantKet,
	// VariantDensityMatrix, or VariantBellDiagonal); defaults to
	// VariantKet.
	QSMVariant string

	Entanglement network.EntanglementParams

	DetectorEfficiency float64
	DetectorDarkCount  float64
	BSMHeraldAmbiguity float64

	MemoryFrequency  float64
	MemoryEfficiency float64
	CoherenceTime    kernel.Time
	Wavelength       float64

	LightSourceEfficiency float64
	LightSourceFrequency  float64

	// CascadeBlockSize, if nonzero, layers cascade error correction
	// over every QKDNode pair's BB84 stack.
	CascadeBlockSize   int
	BB84PhotonInterval kernel.Time
}

func (o Options) withDefaults() Options {
	if o.QSMCacheSize == 0 {
		o.QSMCacheSize = 256
	}
	if o.QSMVariant == "" {
		o.QSMVariant = qstate.VariantKet
	}
	if o.DetectorEfficiency == 0 {
		o.DetectorEfficiency = 1.0
	}
	if o.MemoryFrequency == 0 {
		o.MemoryFrequency = 1e6
	}
	if o.MemoryEfficiency == 0 {
		o.MemoryEfficiency = 1.0
	}
	if o.CoherenceTime == 0 {
		o.CoherenceTime = kernel.Infinity
	}
	if o.Wavelength == 0 {
		o.Wavelength = 1550
	}
	if o.LightSourceEfficiency == 0 {
		o.LightSourceEfficiency = 1.0
	}
	if o.LightSourceFrequency == 0 {
		o.LightSourceFrequency = 1e9
	}
	if o.BB84PhotonInterval == 0 {
		o.BB84PhotonInterval = kernel.Time(1e5)
	}
	return o
}

// Topology is the constructed, running network: every node plus the
// stacks installed on it, indexed by node name for an experiment
// driver (cmd/qns-run) to reach into.
type Topology struct {
	Timeline *kernel.Timeline
	QSM      *qstate.Manager
	Router   *network.StaticRouter

	NodeTypes map[string]string
	Nodes     map[string]*hardware.Node

	Managers       map[string]*network.NetworkManager
	Engines        map[string]*resource.RuleEngine
	MemoryManagers map[string]*resource.MemoryManager

	BB84     map[string]*qkd.BB84
	Cascades map[string]*qkd.Cascade
}

// Build constructs a Topology from cfg (§6.1): nodes first, then
// channels, then per-type component/protocol-stack wiring, mirroring
// ITI-mrnes's BuildExperimentNet two-phase (parse dicts, then
// construct) pattern.
func Build(cfg *Config, opts Options) (*Topology, error) {
	opts = opts.withDefaults()

	tl := kernel.NewTimeline(opts.Seed, kernel.Time(cfg.StopTime))
	qsm, err := qstate.NewManager(opts.QSMVariant, opts.QSMCacheSize)
	if err != nil {
		return nil, fmt.Errorf("topology: building qsm: %w", err)
	}

	top := &Topology{
		Timeline:       tl,
		QSM:            qsm,
		Router:         network.NewStaticRouter(),
		NodeTypes:      make(map[string]string),
		Nodes:          make(map[string]*hardware.Node),
		Managers:       make(map[string]*network.NetworkManager),
		Engines:        make(map[string]*resource.RuleEngine),
		MemoryManagers: make(map[string]*resource.MemoryManager),
		BB84:           make(map[string]*qkd.BB84),
		Cascades:       make(map[string]*qkd.Cascade),
	}

	for _, nc := range cfg.Nodes {
		if _, exists := top.Nodes[nc.Name]; exists {
			return nil, fmt.Errorf("topology: duplicate node name %q", nc.Name)
		}
		node, err := hardware.NewNode(tl, nc.Name)
		if err != nil {
			return nil, fmt.Errorf("topology: node %q: %w", nc.Name, err)
		}
		top.Nodes[nc.Name] = node
		top.NodeTypes[nc.Name] = nc.Type
	}

	qlinks := cfg.QuantumLinks()
	for _, qc := range qlinks {
		if err := top.wireQuantumLink(qc, opts); err != nil {
			return nil, err
		}
	}
	for _, cc := range cfg.ClassicalLinks() {
		if err := top.wireClassicalLink(cc); err != nil {
			return nil, err
		}
	}

	middle, bsmEnds, edgeDistance, err := deriveBSMTopology(top.NodeTypes, qlinks)
	if err != nil {
		return nil, err
	}

	for _, nc := range cfg.Nodes {
		switch nc.Type {
		case TypeQuantumRouter, TypeDQCNode:
			if err := top.buildRouter(nc, middle[nc.Name], edgeDistance, opts); err != nil {
				return nil, err
			}
		case TypeBSMNode:
			ends, ok := bsmEnds[nc.Name]
			if !ok {
				return nil, fmt.Errorf("topology: BSMNode %q has no two quantum-channel neighbors", nc.Name)
			}
			if err := top.buildBSM(nc, ends, opts); err != nil {
				return nil, err
			}
		case TypeQKDNode:
			// wired in a second pass below, once every node's quantum
			// link partner is known, so role assignment (by name order)
			// only has to look at one side of the pair.
		default:
			return nil, fmt.Errorf("topology: unrecognized node type %q for %q", nc.Type, nc.Name)
		}
	}

	if err := top.buildQKDPairs(cfg, opts); err != nil {
		return nil, err
	}

	routerNames := make([]string, 0, len(top.Managers))
	for name := range top.Managers {
		routerNames = append(routerNames, name)
	}
	slices.Sort(routerNames)
	for _, name := range routerNames {
		top.Managers[name].RecomputeForwarding(routerNames)
	}

	return top, nil
}

func (top *Topology) wireQuantumLink(qc QConnConfig, opts Options) error {
	n1, ok := top.Nodes[qc.Node1]
	if !ok {
		return fmt.Errorf("topology: qconnection references unknown node %q", qc.Node1)
	}
	n2, ok := top.Nodes[qc.Node2]
	if !ok {
		return fmt.Errorf("topology: qconnection references unknown node %q", qc.Node2)
	}
	freq := opts.LightSourceFrequency
	ch12 := hardware.NewQuantumChannel(qc.Node1+"->"+qc.Node2, n1, qc.Node2, qc.Distance, qc.Attenuation, freq)
	n1.AddQuantumChannel(ch12)
	ch21 := hardware.NewQuantumChannel(qc.Node2+"->"+qc.Node1, n2, qc.Node1, qc.Distance, qc.Attenuation, freq)
	n2.AddQuantumChannel(ch21)
	return nil
}

func (top *Topology) wireClassicalLink(cc CConnConfig) error {
	n1, ok := top.Nodes[cc.Node1]
	if !ok {
		return fmt.Errorf("topology: cconnection references unknown node %q", cc.Node1)
	}
	n2, ok := top.Nodes[cc.Node2]
	if !ok {
		return fmt.Errorf("topology: cconnection references unknown node %q", cc.Node2)
	}
	ch12 := hardware.NewClassicalChannel(cc.Node1+"->"+cc.Node2, n1, cc.Node2, 0, cc.Delay)
	n1.AddClassicalChannel(ch12)
	ch21 := hardware.NewClassicalChannel(cc.Node2+"->"+cc.Node1, n2, cc.Node1, 0, cc.Delay)
	n2.AddClassicalChannel(ch21)
	return nil
}

// deriveBSMTopology finds, for every BSMNode, its two quantum-channel
// neighbor routers, and builds each router's LinkMiddle map (the
// network manager's view: "the other router reachable through
// middle-node m") plus a direct router-graph edge between them (the
// routing layer's view: m never appears as a hop, §4.9 Design Notes).
// The router-graph edge's length is the sum of its two quantum-channel
// distances, since a BSM node is a physical splice point, not a router
// hop, and the router graph needs a length to weight that edge by.
func deriveBSMTopology(nodeTypes map[string]string, qlinks []QConnConfig) (map[string]network.LinkMiddle, map[string][2]string, map[string]float64, error) {
	middle := make(map[string]network.LinkMiddle)
	bsmEnds := make(map[string][2]string)
	edgeDistance := make(map[string]float64)

	neighbors := make(map[string][]string)
	linkDistance := make(map[string]float64)
	for _, qc := range qlinks {
		neighbors[qc.Node1] = append(neighbors[qc.Node1], qc.Node2)
		neighbors[qc.Node2] = append(neighbors[qc.Node2], qc.Node1)
		linkDistance[pairKey(qc.Node1, qc.Node2)] = qc.Distance
	}

	for name, typ := range nodeTypes {
		if typ != TypeBSMNode {
			continue
		}
		ns := neighbors[name]
		if len(ns) != 2 {
			return nil, nil, nil, fmt.Errorf("topology: BSMNode %q must have exactly 2 quantum-channel neighbors, has %d", name, len(ns))
		}
		a, b := ns[0], ns[1]
		bsmEnds[name] = [2]string{a, b}

		if middle[a] == nil {
			middle[a] = network.LinkMiddle{}
		}
		middle[a][b] = name
		if middle[b] == nil {
			middle[b] = network.LinkMiddle{}
		}
		middle[b][a] = name

		edgeDistance[pairKey(a, b)] = linkDistance[pairKey(a, name)] + linkDistance[pairKey(name, b)]
	}

	return middle, bsmEnds, edgeDistance, nil
}

// pairKey canonicalizes an unordered node-name pair for use as a map key.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func (top *Topology) buildRouter(nc NodeConfig, middle network.LinkMiddle, edgeDistance map[string]float64, opts Options) error {
	node := top.Nodes[nc.Name]
	tl := top.Timeline

	memNames := make([]string, nc.MemoSize)
	for i := range memNames {
		memNames[i] = fmt.Sprintf("%s/mem%d", nc.Name, i)
	}
	for _, mn := range memNames {
		mem, err := hardware.NewMemory(tl, node.Entity, top.QSM, hardware.MemoryParams{
			Name:          mn,
			RawFidelity:   opts.Entanglement.RawFidelity,
			Frequency:     opts.MemoryFrequency,
			Efficiency:    opts.MemoryEfficiency,
			CoherenceTime: opts.CoherenceTime,
			Wavelength:    opts.Wavelength,
		})
		if err != nil {
			return fmt.Errorf("topology: memory %q: %w", mn, err)
		}
		mem.PhysState = hardware.PhysExcited
		node.AddComponent(mem)
	}

	if nc.Type == TypeDQCNode {
		dataMem, err := hardware.NewMemory(tl, node.Entity, top.QSM, hardware.MemoryParams{
			Name:          nc.Name + "/data",
			RawFidelity:   opts.Entanglement.RawFidelity,
			Frequency:     opts.MemoryFrequency,
			Efficiency:    opts.MemoryEfficiency,
			CoherenceTime: opts.CoherenceTime,
			Wavelength:    opts.Wavelength,
		})
		if err != nil {
			return fmt.Errorf("topology: data memory for %q: %w", nc.Name, err)
		}
		node.AddComponent(dataMem)
	}

	mm := resource.NewMemoryManager(nc.Name, memNames)
	mm.SetCoherenceTime(opts.CoherenceTime)
	engine := resource.NewRuleEngine(node)
	mm.AttachEngine(engine)

	nm := network.NewNetworkManager(node, mm, engine, top.QSM, top.Router, middle, nc.MemoSize, opts.Entanglement)

	top.MemoryManagers[nc.Name] = mm
	top.Engines[nc.Name] = engine
	top.Managers[nc.Name] = nm

	for neighbor := range middle {
		top.Router.AddEdge(nc.Name, neighbor, edgeDistance[pairKey(nc.Name, neighbor)])
	}

	node.SetMessageHandler(routerHandler(nm, engine))
	return nil
}

// routerHandler routes reservation-protocol content to the network
// manager and everything else (pairing handshakes, BSM heralds,
// distillation/swap exchanges) to the rule engine.
func routerHandler(nm *network.NetworkManager, engine *resource.RuleEngine) hardware.MessageHandler {
	return func(tl *kernel.Timeline, src string, msg hardware.Message) {
		switch msg.Content.(type) {
		case network.ReservationRequest, network.ReservationApprove, network.ReservationReject:
			nm.HandleMessage(tl, src, msg.Content)
		default:
			engine.Dispatch(tl, src, msg)
		}
	}
}

func (top *Topology) buildBSM(nc NodeConfig, ends [2]string, opts Options) error {
	node := top.Nodes[nc.Name]
	tl := top.Timeline

	detA, err := hardware.NewDetector(tl, node.Entity, nc.Name+"/detA", opts.DetectorEfficiency, opts.DetectorDarkCount)
	if err != nil {
		return fmt.Errorf("topology: detector for %q: %w", nc.Name, err)
	}
	detB, err := hardware.NewDetector(tl, node.Entity, nc.Name+"/detB", opts.DetectorEfficiency, opts.DetectorDarkCount)
	if err != nil {
		return fmt.Errorf("topology: detector for %q: %w", nc.Name, err)
	}

	left, right := ends[0], ends[1]
	apparatus, err := hardware.NewBSMApparatus(tl, node.Entity, top.QSM, nc.Name+"/bsm", left, right, detA, detB, opts.BSMHeraldAmbiguity)
	if err != nil {
		return fmt.Errorf("topology: BSM apparatus %q: %w", nc.Name, err)
	}
	node.AddComponent(apparatus)
	node.SetQubitHandler(apparatus.OnPhotonArrive)
	return nil
}

// buildQKDPairs wires BB84 (and, if configured, cascade) onto every
// pair of QKDNodes joined by a direct quantum link. Alice/Bob role
// assignment is by alphabetical node name, the same deterministic
// tie-break convention used elsewhere in the entanglement stack
// (generation.go's phase-correction side, routing.go's lexLess
// tie-break among equal-length paths).
func (top *Topology) buildQKDPairs(cfg *Config, opts Options) error {
	tl := top.Timeline
	seen := make(map[string]bool)

	for _, qc := range cfg.QuantumLinks() {
		t1, t2 := top.NodeTypes[qc.Node1], top.NodeTypes[qc.Node2]
		if t1 != TypeQKDNode || t2 != TypeQKDNode {
			continue
		}
		pairKey := qc.Node1 + "|" + qc.Node2
		if qc.Node2 < qc.Node1 {
			pairKey = qc.Node2 + "|" + qc.Node1
		}
		if seen[pairKey] {
			continue
		}
		seen[pairKey] = true

		aliceName, bobName := qc.Node1, qc.Node2
		if bobName < aliceName {
			aliceName, bobName = bobName, aliceName
		}
		alice, bob := top.Nodes[aliceName], top.Nodes[bobName]

		ls, err := hardware.NewLightSource(tl, alice.Entity, top.QSM, aliceName+"/laser", opts.LightSourceEfficiency, opts.LightSourceFrequency, opts.Wavelength)
		if err != nil {
			return fmt.Errorf("topology: light source for %q: %w", aliceName, err)
		}

		aBB84, err := qkd.NewBB84(tl, alice, top.QSM, qkd.RoleAlice, bobName, ls)
		if err != nil {
			return fmt.Errorf("topology: bb84 for %q: %w", aliceName, err)
		}
		bBB84, err := qkd.NewBB84(tl, bob, top.QSM, qkd.RoleBob, aliceName, nil)
		if err != nil {
			return fmt.Errorf("topology: bb84 for %q: %w", bobName, err)
		}
		if qc.PolarizationFidelity > 0 {
			aBB84.PolarizationFidelity = qc.PolarizationFidelity
			bBB84.PolarizationFidelity = qc.PolarizationFidelity
		}
		if opts.BB84PhotonInterval > 0 {
			aBB84.PhotonInterval = opts.BB84PhotonInterval
			bBB84.PhotonInterval = opts.BB84PhotonInterval
		}
		top.BB84[aliceName] = aBB84
		top.BB84[bobName] = bBB84

		var aCascade, bCascade *qkd.Cascade
		if opts.CascadeBlockSize > 0 {
			aCascade = qkd.NewCascade(alice, aBB84, qkd.RoleAlice, bobName, opts.CascadeBlockSize)
			bCascade = qkd.NewCascade(bob, bBB84, qkd.RoleBob, aliceName, opts.CascadeBlockSize)
			top.Cascades[aliceName] = aCascade
			top.Cascades[bobName] = bCascade
		}

		alice.SetMessageHandler(qkd.NodeHandler(aBB84, aCascade))
		bob.SetMessageHandler(qkd.NodeHandler(bBB84, bCascade))
	}
	return nil
}
