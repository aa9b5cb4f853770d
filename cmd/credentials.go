package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scoutline/leadharvest/internal/model"
)

var credOwner string

var credentialsCmd = &cobra.Command{
	Use:     "credentials",
	Aliases: []string{"creds"},
	Short:   "Manage the pooled task-service tokens",
}

var credentialsAddCmd = &cobra.Command{
	Use:   "add <token>",
	Short: "Add an active token to the pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}
		cred := &model.CredentialToken{
			OwnerID: credOwner,
			Value:   args[0],
			Status:  model.CredentialActive,
		}
		if err := st.CreateCredential(cmd.Context(), cred); err != nil {
			return err
		}
		cmd.Printf("credential %s added for owner %s\n", cred.ID, cred.OwnerID)
		return nil
	},
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pooled tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		creds, err := st.ListCredentials(cmd.Context(), credOwner)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tOWNER\tSTATUS\tUSES\tLAST USED\tLAST ERROR")
		for _, c := range creds {
			lastUsed := "never"
			if c.LastUsedAt != nil {
				lastUsed = c.LastUsedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				c.ID, c.OwnerID, c.Status, c.UseCount, lastUsed, c.LastError)
		}
		return w.Flush()
	},
}

func init() {
	credentialsCmd.PersistentFlags().StringVar(&credOwner, "owner", "default", "owner the tokens belong to")
	credentialsCmd.AddCommand(credentialsAddCmd, credentialsListCmd)
	rootCmd.AddCommand(credentialsCmd)
}
