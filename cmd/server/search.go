package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brandon/mailsync/internal/cache"
)

var (
	searchUser    string
	searchAccount string
	searchFolder  string
	searchLimit   int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search cached email headers",
	Long: `Full-text search over cached headers. An empty query lists the
newest mail, optionally filtered by account and folder.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeEngine(e)

		opts := cache.SearchOptions{
			UserID: searchUser,
			Query:  strings.Join(args, " "),
			Folder: searchFolder,
			Limit:  searchLimit,
		}
		if searchAccount != "" {
			id, err := e.AccountID(ctx, searchAccount)
			if err != nil {
				return fmt.Errorf("unknown account %q: %w", searchAccount, err)
			}
			opts.AccountID = id
		}

		res, err := e.Search(ctx, searchUser, opts)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		if len(res.Results) == 0 {
			fmt.Println(muted.Render("No matching email."))
			return nil
		}

		rows := make([][]string, 0, len(res.Results))
		for _, r := range res.Results {
			sender := r.SenderName
			if sender == "" {
				sender = r.SenderEmail
			}
			subject := truncate(r.Subject, 60)
			if !r.Read {
				subject = bold.Render(subject)
			}
			rows = append(rows, []string{
				fmt.Sprintf("%d", r.ID),
				r.Date.Local().Format("2006-01-02 15:04"),
				truncate(sender, 24),
				subject,
				muted.Render(r.AccountName + "/" + r.FolderName),
			})
		}
		fmt.Println(table([]string{"ID", "DATE", "FROM", "SUBJECT", "FOLDER"}, rows))
		fmt.Println(muted.Render(fmt.Sprintf("%d of %d match(es)", len(res.Results), res.Total)))
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchUser, "user", "", "Restrict to accounts of this user and record the search")
	searchCmd.Flags().StringVar(&searchAccount, "account", "", "Restrict to one account")
	searchCmd.Flags().StringVar(&searchFolder, "folder", "", "Restrict to one folder name")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum number of results")
	rootCmd.AddCommand(searchCmd)
}
