package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/brandon/mailsync/internal/coordinator"
)

var (
	syncAccount string
	syncDeep    bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync accounts once and exit",
	Long: `Run one sync cycle in the foreground.

Examples:
  server sync                   # quick cycle over every active account
  server sync --deep            # deep cycle with body prefetch
  server sync --account work    # one account only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeEngine(e)

		cycle := coordinator.CycleQuick
		if syncDeep {
			cycle = coordinator.CycleDeep
		}

		if syncAccount != "" {
			res, err := e.SyncAccount(ctx, syncAccount, cycle)
			if errors.Is(err, coordinator.ErrAlreadySyncing) {
				fmt.Println(warning.Render(syncAccount + " is already syncing"))
				return nil
			}
			if res == nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			printResult(*res)
			return err
		}

		summary, err := e.SyncNow(ctx, cycle)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(summary)
		}
		for _, res := range summary.Accounts {
			printResult(res)
		}
		fmt.Println(muted.Render(fmt.Sprintf("%s cycle: %d new, %d skipped, %d busy",
			summary.Cycle, summary.Synced, summary.Skipped, summary.Busy)))
		return nil
	},
}

func printResult(res coordinator.AccountResult) {
	mark := success.Render("✓")
	if res.FoldersFailed > 0 {
		mark = errStyle.Render("✗")
	}
	fmt.Printf("%s %s  %d new of %d, %d folder(s) ok\n", mark, bold.Render(res.Account), res.Synced, res.Total, res.FoldersOK)
	if res.Error != "" {
		fmt.Println("  " + errStyle.Render(res.Error))
	}
}

func init() {
	syncCmd.Flags().StringVar(&syncAccount, "account", "", "Sync only this account")
	syncCmd.Flags().BoolVar(&syncDeep, "deep", false, "Run a deep cycle with the deep limit and body prefetch")
	rootCmd.AddCommand(syncCmd)
}
