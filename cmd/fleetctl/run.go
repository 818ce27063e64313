package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Inspect deployment pipeline runs",
}

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs for an application and job type",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, _ := cmd.Flags().GetString("application")
		jobType, _ := cmd.Flags().GetString("job-type")
		if application == "" || jobType == "" {
			return fmt.Errorf("--application and --job-type are required")
		}

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		runs, err := s.ReadRuns(application, jobType)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		if len(runs) == 0 {
			fmt.Println("No runs found")
			return nil
		}

		fmt.Printf("%-8s %-12s %-10s %-20s\n", "NUMBER", "STATUS", "DRY-RUN", "START")
		for _, r := range runs {
			fmt.Printf("%-8d %-12s %-10t %-20s\n", r.ID.Number, r.Status, r.IsDryRun, r.Start.Format("2006-01-02T15:04:05Z"))
		}
		return nil
	},
}

var runGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show one run's full record",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, _ := cmd.Flags().GetString("application")
		jobType, _ := cmd.Flags().GetString("job-type")
		number, _ := cmd.Flags().GetInt("number")
		if application == "" || jobType == "" {
			return fmt.Errorf("--application and --job-type are required")
		}

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		runs, err := s.ReadRuns(application, jobType)
		if err != nil {
			return fmt.Errorf("failed to read runs: %w", err)
		}

		for _, r := range runs {
			if r.ID.Number != number {
				continue
			}
			fmt.Printf("Application: %s\n", r.ID.Application)
			fmt.Printf("JobType: %s\n", r.ID.JobType)
			fmt.Printf("Number: %d\n", r.ID.Number)
			fmt.Printf("Status: %s\n", r.Status)
			fmt.Printf("IsRedeployment: %t\n", r.IsRedeployment)
			fmt.Printf("IsDryRun: %t\n", r.IsDryRun)
			fmt.Printf("Start: %s\n", r.Start.Format("2006-01-02T15:04:05Z"))
			if r.End != nil {
				fmt.Printf("End: %s\n", r.End.Format("2006-01-02T15:04:05Z"))
			}
			fmt.Printf("Steps: %d\n", len(r.Steps))
			return nil
		}
		return fmt.Errorf("run %s/%s#%d not found", application, jobType, number)
	},
}

func init() {
	for _, c := range []*cobra.Command{runListCmd, runGetCmd} {
		c.Flags().String("application", "", "Application name (required)")
		c.Flags().String("job-type", "", "Job type (required)")
	}
	runGetCmd.Flags().Int("number", 0, "Run number (required)")

	runCmd.AddCommand(runListCmd)
	runCmd.AddCommand(runGetCmd)
}
