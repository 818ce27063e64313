package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ridgeline-cloud/controlplane/pkg/types"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect nodes",
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes, optionally filtered by state",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		stateFlag, _ := cmd.Flags().GetString("state")
		var states []types.State
		if stateFlag != "" {
			states = []types.State{types.State(stateFlag)}
		}

		nodes, err := s.ReadNodes(states...)
		if err != nil {
			return fmt.Errorf("failed to list nodes: %w", err)
		}

		if len(nodes) == 0 {
			fmt.Println("No nodes found")
			return nil
		}

		fmt.Printf("%-30s %-12s %-12s %-20s\n", "HOSTNAME", "TYPE", "STATE", "ALLOCATION")
		for _, n := range nodes {
			allocation := "<none>"
			if n.Allocation != nil {
				allocation = fmt.Sprintf("%s/%s#%d", n.Allocation.OwnerApplication, n.Allocation.Cluster, n.Allocation.MembershipIndex)
			}
			fmt.Printf("%-30s %-12s %-12s %-20s\n", n.Hostname, n.Type, n.State, allocation)
		}
		return nil
	},
}

var nodeGetCmd = &cobra.Command{
	Use:   "get HOSTNAME",
	Short: "Show one node's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.ReadNode(args[0])
		if err != nil {
			return fmt.Errorf("failed to read node %s: %w", args[0], err)
		}

		fmt.Printf("Hostname: %s\n", n.Hostname)
		fmt.Printf("Type: %s\n", n.Type)
		fmt.Printf("State: %s\n", n.State)
		if n.ParentHostname != "" {
			fmt.Printf("Parent: %s\n", n.ParentHostname)
		}
		if n.Allocation != nil {
			fmt.Printf("Allocation: application=%s cluster=%s index=%d removable=%t retired=%t\n",
				n.Allocation.OwnerApplication, n.Allocation.Cluster, n.Allocation.MembershipIndex,
				n.Allocation.Removable, n.Allocation.Retired)
		}
		fmt.Printf("Status: wantToRetire=%t wantToDeprovision=%t wantToRebuild=%t wantToFail=%t failCount=%d\n",
			n.Status.WantToRetire, n.Status.WantToDeprovision, n.Status.WantToRebuild, n.Status.WantToFail, n.Status.FailCount)
		if n.IPConfig != nil {
			fmt.Printf("IPConfig: ipv4=%s ipv6=%s pool=%v\n", n.IPConfig.PrimaryIPv4, n.IPConfig.PrimaryIPv6, n.IPConfig.PoolIPs)
		}
		fmt.Printf("History entries: %d\n", len(n.History))
		return nil
	},
}

func init() {
	nodeListCmd.Flags().String("state", "", "Filter by node state (empty lists every state)")
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeGetCmd)
}
