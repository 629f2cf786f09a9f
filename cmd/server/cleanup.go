package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Evict expired bodies, attachment files and old sync logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeEngine(e)

		report, err := e.Cleanup(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(report)
		}
		fmt.Printf("%s %d bodies, %d attachments (%d files), %d log rows\n",
			success.Render("✓ Evicted"),
			report.BodiesExpired, report.AttachmentsEvicted, report.FilesDeleted, report.LogsPruned)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
