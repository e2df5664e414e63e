package main

import (
	"fmt"
	"os"

	"github.com/jmerrifield20/renderledger/internal/ledger"
	"github.com/jmerrifield20/renderledger/pkg/client"
	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage owner-scoped project ledgers (requires --token)",
}

var (
	projFile        string
	projHash        string
	projTitle       string
	projDescription string
	projTags        []string
)

var projectStartCmd = &cobra.Command{
	Use:   "start <project-id>",
	Short: "Register a project and log its GENESIS entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash := projHash
		if projFile != "" {
			data, err := os.ReadFile(projFile)
			if err != nil {
				return err
			}
			hash = ledger.Sum(data)
		}
		if hash == "" {
			return fmt.Errorf("--file or --hash is required")
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		err = c.StartProject(cmd.Context(), client.StartProjectRequest{
			ProjectID:   args[0],
			FileHash:    hash,
			Title:       projTitle,
			Description: projDescription,
			Tags:        projTags,
		})
		if err != nil {
			return err
		}
		fmt.Printf("project %s created (genesis file hash %s)\n", args[0], hash)
		return nil
	},
}

var projectAppendCmd = &cobra.Command{
	Use:   "append <project-id> <action>",
	Short: "Append an action to a project ledger",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.AppendAction(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(res)
		}
		fmt.Printf("entry %d %s\n", res.EntryIndex, res.Hash)
		return nil
	},
}

var projectLogsCmd = &cobra.Command{
	Use:   "logs <project-id>",
	Short: "List a project's ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		logs, err := c.ProjectLogs(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(logs)
		}
		printEvents(logs)
		return nil
	},
}

var projectVerifyCmd = &cobra.Command{
	Use:   "verify <project-id>",
	Short: "Ask the registry to replay a project's chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		v, err := c.VerifyProject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(v)
		}
		fmt.Printf("Project: %s\n", v.ProjectID)
		fmt.Printf("Entries: %d\n", v.Count)
		fmt.Printf("Valid:   %t\n", v.Valid)
		if !v.Valid {
			return fmt.Errorf("project chain invalid: %s", v.Error)
		}
		return nil
	},
}

func init() {
	projectStartCmd.Flags().StringVar(&projFile, "file", "", "file whose SHA-256 anchors the genesis entry")
	projectStartCmd.Flags().StringVar(&projHash, "hash", "", "precomputed genesis file hash")
	projectStartCmd.Flags().StringVar(&projTitle, "title", "", "project title")
	projectStartCmd.Flags().StringVar(&projDescription, "description", "", "project description")
	projectStartCmd.Flags().StringSliceVar(&projTags, "tag", nil, "project tag (repeatable)")

	projectCmd.AddCommand(projectStartCmd)
	projectCmd.AddCommand(projectAppendCmd)
	projectCmd.AddCommand(projectLogsCmd)
	projectCmd.AddCommand(projectVerifyCmd)
}
