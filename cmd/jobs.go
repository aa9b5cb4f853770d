package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	jobsOwner  string
	jobsOutput string

	leadsOwner  string
	leadsOutput string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage collection jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		jobs, err := e.Store.ListJobs(cmd.Context(), jobsOwner)
		if err != nil {
			return err
		}

		switch jobsOutput {
		case "yaml":
			out, err := yaml.Marshal(jobs)
			if err != nil {
				return err
			}
			cmd.Print(string(out))
		case "json":
			out, err := json.MarshalIndent(jobs, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
		default:
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOWNER\tSTATUS\tSEEDS\tLEADS\tPROGRESS")
			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d/%d\n",
					job.ID, job.OwnerID, job.Status,
					len(job.Config.Seeds),
					job.Stats.LeadsCreated+job.Stats.LeadsUpdated,
					job.Checkpoint.ProcessedUpTo, len(job.Checkpoint.PostURLs))
			}
			w.Flush()
		}
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		job, err := e.Store.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(job)
		if err != nil {
			return err
		}
		cmd.Print(string(out))
		return nil
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a terminal or paused job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Store.DeleteJob(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("job %s deleted\n", args[0])
		return nil
	},
}

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Export the lead set for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		leads, err := e.Store.ListLeads(cmd.Context(), leadsOwner)
		if err != nil {
			return err
		}
		if leadsOutput == "yaml" {
			out, err := yaml.Marshal(leads)
			if err != nil {
				return err
			}
			cmd.Print(string(out))
			return nil
		}
		out, err := json.MarshalIndent(leads, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	},
}

func init() {
	jobsCmd.PersistentFlags().StringVar(&jobsOwner, "owner", "", "filter by owner")
	jobsCmd.PersistentFlags().StringVar(&jobsOutput, "output", "table", "output format: table, json, yaml")
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsDeleteCmd)
	leadsCmd.Flags().StringVar(&leadsOwner, "owner", "default", "owner whose leads to export")
	leadsCmd.Flags().StringVar(&leadsOutput, "output", "json", "output format: json, yaml")
	rootCmd.AddCommand(jobsCmd, leadsCmd)
}
