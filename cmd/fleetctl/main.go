// fleetctl is a read-only operational CLI over the coordination store:
// it opens a store replica against an existing data directory and
// prints nodes, runs, and routing policies. Every mutating operation
// the store offers (write/remove/lock) is deliberately absent — this
// binary only ever reads.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ridgeline-cloud/controlplane/pkg/store"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "Read-only inspection CLI for the control plane's coordination store",
	Long: `fleetctl inspects nodes, deployment runs, and routing policies held
in the coordination store. It never writes: a replica opened for
inspection must not be running the same data directory as a live
process, since both hold an exclusive lock on the underlying bolt
file.`,
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "./controlplane-data", "Coordination store data directory to inspect")
	rootCmd.PersistentFlags().String("node-id", "fleetctl", "Node ID to open the replica under")
	rootCmd.PersistentFlags().String("bind-addr", "127.0.0.1:0", "Raft bind address for this inspection session")

	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(routingCmd)
}

// openStore opens a non-bootstrapping replica against the configured
// data directory for the lifetime of a single command invocation.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")

	s, err := store.Open(store.Config{
		NodeID:    nodeID,
		DataDir:   dataDir,
		BindAddr:  bindAddr,
		Bootstrap: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", dataDir, err)
	}
	return s, nil
}
