package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var bodyCmd = &cobra.Command{
	Use:   "body <email-id>",
	Short: "Print the body of a cached email",
	Long:  "Print an email body, fetching it from the server when the cached copy is missing or expired.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid email id %q", args[0])
		}

		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeEngine(e)

		hdr, body, err := e.GetEmail(ctx, id)
		if err != nil && hdr == nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]interface{}{"email": hdr, "body": body})
		}

		fmt.Println(bold.Render(hdr.Subject))
		fmt.Println(muted.Render(fmt.Sprintf("From %s <%s>, %s", hdr.SenderName, hdr.SenderEmail, hdr.Date.Local().Format("2006-01-02 15:04"))))
		fmt.Println()
		if err != nil {
			fmt.Println(errStyle.Render("Body unavailable: " + err.Error()))
			return nil
		}
		fmt.Println(body.Text)
		for _, a := range body.Attachments {
			fmt.Println(muted.Render(fmt.Sprintf("[attachment] %s (%s, %d bytes)", a.Filename, a.ContentType, a.Size)))
		}
		if body.FromCache {
			fmt.Println(muted.Render("(served from cache)"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bodyCmd)
}
