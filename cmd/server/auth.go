package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize OAuth mail accounts",
	Long: `Run the OAuth authorization-code flow for a provider.

  server auth url google                        # prints consent URL and verifier
  server auth exchange google <code> <verifier> # stores the token set`,
}

var authURLCmd = &cobra.Command{
	Use:   "url <provider>",
	Short: "Print the consent URL of a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeEngine(e)

		a, err := e.BeginAuthorization(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(a)
		}
		fmt.Println(bold.Render("Open this URL and approve access:"))
		fmt.Println(a.URL)
		fmt.Println()
		fmt.Println(muted.Render("Verifier (needed for the exchange step):"))
		fmt.Println(a.Verifier)
		return nil
	},
}

var authExchangeCmd = &cobra.Command{
	Use:   "exchange <provider> <code> <verifier>",
	Short: "Exchange an authorization code and store the tokens",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeEngine(e)

		tok, err := e.CompleteAuthorization(ctx, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(tok)
		}
		fmt.Printf("%s %s authorized for %s\n", success.Render("✓"), tok.Email, tok.Provider)
		fmt.Println(muted.Render("Add an account with this address and provider to the config to start syncing."))
		return nil
	},
}

func init() {
	authCmd.AddCommand(authURLCmd, authExchangeCmd)
	rootCmd.AddCommand(authCmd)
}
