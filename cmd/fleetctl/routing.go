package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var routingCmd = &cobra.Command{
	Use:   "routing",
	Short: "Inspect routing policies",
}

var routingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List routing policies owned by an application",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		if owner == "" {
			return fmt.Errorf("--owner is required")
		}

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		policies, err := s.ReadRoutingPolicies(owner)
		if err != nil {
			return fmt.Errorf("failed to list routing policies: %w", err)
		}

		if len(policies) == 0 {
			fmt.Println("No routing policies found")
			return nil
		}

		fmt.Printf("%-20s %-15s %-10s %-8s %-8s\n", "OWNER", "CLUSTER", "ZONE", "ACTIVE", "STATUS")
		for _, p := range policies {
			fmt.Printf("%-20s %-15s %-10s %-8t %-8s\n",
				p.ID.Owner, p.ID.Cluster, p.ID.Zone, p.Status.Active, p.Status.RoutingStatus.Value)
		}
		return nil
	},
}

var routingZoneCmd = &cobra.Command{
	Use:   "zone ZONE",
	Short: "Show a zone's operator-level routing override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		zp, err := s.ReadZoneRoutingPolicy(args[0])
		if err != nil {
			return fmt.Errorf("failed to read zone routing policy for %s: %w", args[0], err)
		}

		fmt.Printf("Zone: %s\n", zp.Zone)
		fmt.Printf("RoutingStatus: %s\n", zp.RoutingStatus.Value)
		if zp.RoutingStatus.Agent != "" {
			fmt.Printf("SetBy: %s at %s\n", zp.RoutingStatus.Agent, zp.RoutingStatus.Instant.Format("2006-01-02T15:04:05Z"))
		}
		return nil
	},
}

func init() {
	routingListCmd.Flags().String("owner", "", "Owning application (required)")
	routingCmd.AddCommand(routingListCmd)
	routingCmd.AddCommand(routingZoneCmd)
}
