package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "Show account sync state and folder checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeEngine(e)

		status, err := e.SyncStatus(ctx)
		if err != nil {
			return err
		}
		folders, err := e.Folders(ctx, "")
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]interface{}{"status": status, "folders": folders})
		}

		if len(status.Accounts) == 0 {
			fmt.Println(muted.Render("No active accounts configured."))
			return nil
		}

		rows := make([][]string, 0, len(status.Accounts))
		for _, a := range status.Accounts {
			rows = append(rows, []string{
				a.Name,
				a.Email,
				statusLabel(a.Status, a.AuthFailed),
				timeAgo(a.LastSync),
				errStyle.Render(truncate(a.ErrorMessage, 50)),
			})
		}
		fmt.Println(table([]string{"ACCOUNT", "EMAIL", "STATUS", "LAST SYNC", "ERROR"}, rows))
		fmt.Println()

		rows = rows[:0]
		for _, f := range folders {
			errMsg := ""
			if f.ErrorMessage != "" {
				errMsg = errStyle.Render(truncate(f.ErrorMessage, 40))
			}
			rows = append(rows, []string{
				f.AccountName,
				f.Name,
				f.Path,
				fmt.Sprintf("%d", f.MessageCount),
				fmt.Sprintf("%d", f.LastUIDSynced),
				timeAgo(f.LastSynced),
				errMsg,
			})
		}
		fmt.Println(table([]string{"ACCOUNT", "FOLDER", "PATH", "MESSAGES", "CHECKPOINT", "SYNCED", "ERROR"}, rows))
		fmt.Println(muted.Render(fmt.Sprintf("%d on-demand task(s) queued", status.QueueSize)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
