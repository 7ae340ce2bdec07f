// Command qns-run loads a topology file (§6.1) and runs a single
// entanglement-reservation trial against it, writing a results document
// (§6.4).
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iti/qns/hardware"
	"github.com/iti/qns/kernel"
	"github.com/iti/qns/network"
	"github.com/iti/qns/persist"
	"github.com/iti/qns/qstate"
	"github.com/iti/qns/topology"
)

var (
	topoFile      string
	outFile       string
	logLevel      string
	seed          int64
	requester     string
	responder     string
	memorySize    int
	fidelity      float64
	rawFidelity   float64
	formalism     string
	densityOutDir string
)

var rootCmd = &cobra.Command{
	Use:   "qns-run",
	Short: "Discrete-event simulator for quantum networks",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build a topology and run a reservation trial",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)

		cfg, err := topology.LoadConfig(topoFile)
		if err != nil {
			return err
		}

		opts := topology.Options{
			Seed:       seed,
			QSMVariant: formalism,
			Entanglement: network.EntanglementParams{
				RawFidelity:       rawFidelity,
				SwapSuccessProb:   1.0,
				SwapDegradation:   1.0,
				GenerationRetries: 3,
			},
			DetectorEfficiency: 1.0,
		}

		top, err := topology.Build(cfg, opts)
		if err != nil {
			return err
		}

		if requester != "" && responder != "" {
			nm, ok := top.Managers[requester]
			if !ok {
				logrus.Fatalf("requester %q is not a QuantumRouter or DQCNode in this topology", requester)
			}
			if err := nm.Request(top.Timeline, responder, top.Timeline.Now(), kernel.Infinity, memorySize, fidelity); err != nil {
				return err
			}
		}

		top.Timeline.Run()

		doc := &persist.Document{
			SimulationConfig: map[string]any{"seed": seed},
			NetworkConfig:    map[string]any{"topology_file": topoFile},
		}
		for name, mm := range top.MemoryManagers {
			for _, mi := range mm.All() {
				if mi.RemoteNode == "" {
					continue
				}
				result := persist.EntangledResult{
					Kind:     stateKind(mi.State.String()),
					NodeA:    name,
					MemoryA:  mi.MemoryName,
					NodeB:    mi.RemoteNode,
					MemoryB:  mi.RemoteMemo,
					Fidelity: mi.DecayedFidelity(top.Timeline.Now()),
					Time:     top.Timeline.Now(),
				}
				if densityOutDir != "" && top.QSM.Variant() == qstate.VariantDensityMatrix {
					qu, err := writeDensitySnapshot(top, name, mi.MemoryName)
					if err != nil {
						return fmt.Errorf("writing density matrix for %s/%s: %w", name, mi.MemoryName, err)
					}
					result.DensityMat = qu
				}
				doc.Results = append(doc.Results, result)
			}
		}

		if outFile != "" {
			if err := persist.WriteResults(outFile, doc); err != nil {
				return err
			}
			logrus.Infof("wrote results to %s", outFile)
		}
		return nil
	},
}

func stateKind(s string) string {
	switch s {
	case "PURIFIED":
		return "purified"
	default:
		return "entangled"
	}
}

// writeDensitySnapshot writes node/memory's current joint state to a
// .qu file under densityOutDir (§6.4), returning the path recorded in
// the results document.
func writeDensitySnapshot(top *topology.Topology, node, memory string) (string, error) {
	comp, ok := top.Nodes[node].GetComponentByName(memory)
	if !ok {
		return "", fmt.Errorf("no such component %q on node %q", memory, node)
	}
	mem, ok := comp.(*hardware.Memory)
	if !ok {
		return "", fmt.Errorf("component %q on node %q is not a Memory", memory, node)
	}

	snap, err := top.QSM.DensityMatrixSnapshot(mem.QSMKey)
	if err != nil {
		return "", err
	}
	dim, _ := snap.Dims()
	rows := make([]complex128, dim*dim)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			rows[i*dim+j] = snap.At(i, j)
		}
	}

	if err := os.MkdirAll(densityOutDir, 0o755); err != nil {
		return "", err
	}
	fname := strings.ReplaceAll(node+"_"+memory, "/", "_") + ".qu"
	path := filepath.Join(densityOutDir, fname)
	if err := persist.WriteDensityMatrix(path, dim, rows); err != nil {
		return "", err
	}
	return path, nil
}

func init() {
	runCmd.Flags().StringVar(&topoFile, "topology", "", "topology file (.json/.yaml)")
	runCmd.Flags().StringVar(&outFile, "out", "", "results output file (.json)")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().Int64Var(&seed, "seed", 1, "timeline RNG seed")
	runCmd.Flags().StringVar(&requester, "requester", "", "node requesting entanglement")
	runCmd.Flags().StringVar(&responder, "responder", "", "node to entangle with")
	runCmd.Flags().IntVar(&memorySize, "memory-size", 1, "number of entangled pairs requested")
	runCmd.Flags().Float64Var(&fidelity, "target-fidelity", 0.5, "minimum acceptable fidelity")
	runCmd.Flags().Float64Var(&rawFidelity, "raw-fidelity", 0.95, "raw fidelity generation protocols produce before purification")
	runCmd.Flags().StringVar(&formalism, "formalism", qstate.VariantKet, "qstate formalism (ket, density, bell-diagonal)")
	runCmd.Flags().StringVar(&densityOutDir, "density-out-dir", "", "directory to write per-memory .qu density-matrix snapshots (formalism=density only)")
	_ = runCmd.MarkFlagRequired("topology")

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
