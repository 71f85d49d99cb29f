package command

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"panelbridge/cmd/cli/authentication"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Panel token commands",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a token for a panel (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		panel, _ := cmd.Flags().GetString("panel")
		save, _ := cmd.Flags().GetBool("save")

		c, err := adminClient()
		if err != nil {
			return err
		}
		resp, err := c.IssueToken(panel)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}

		fmt.Println(resp.Token)
		color.HiBlack("panel %s, expires %s", resp.Panel, resp.ExpiresAt.Format(time.RFC3339))

		if save {
			if err := authentication.StoreToken(&authentication.StoredToken{
				Token:     resp.Token,
				Panel:     resp.Panel,
				ExpiresAt: resp.ExpiresAt.Unix(),
			}); err != nil {
				return fmt.Errorf("store token: %w", err)
			}
			color.Green("✓ Token saved to keyring")
		}
		return nil
	},
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored panel token",
	RunE: func(cmd *cobra.Command, args []string) error {
		stored, err := authentication.GetToken()
		if err != nil {
			return err
		}
		if stored == nil {
			color.Yellow("no token stored")
			return nil
		}
		expires := time.Unix(stored.ExpiresAt, 0)
		fmt.Printf("panel:   %s\nexpires: %s\n", stored.Panel, expires.Format(time.RFC3339))
		if time.Now().After(expires) {
			color.Red("token has expired")
		}
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenShowCmd)
	rootCmd.AddCommand(tokenCmd)

	tokenIssueCmd.Flags().String("panel", "", "panel name the token is for")
	tokenIssueCmd.Flags().Bool("save", false, "store the token in the keyring for this machine")
	tokenIssueCmd.MarkFlagRequired("panel")
}
