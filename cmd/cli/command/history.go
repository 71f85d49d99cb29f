package command

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"panelbridge/cmd/cli/command/client"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the newest commands from the audit log (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		c, err := adminClient()
		if err != nil {
			return err
		}
		resp, err := c.RecentCommands(limit)
		if err != nil {
			if client.IsStatus(err, http.StatusNotFound) {
				return fmt.Errorf("the relay runs without a command log (DATABASE_URL is unset)")
			}
			return err
		}

		for _, entry := range resp.Commands {
			status := color.GreenString("ok")
			if !entry.Accepted {
				status = color.RedString(entry.Error)
			}
			fmt.Printf("%s  %-4s %-10s %-32s %s\n",
				entry.CreatedAt.Local().Format(time.TimeOnly),
				entry.Source,
				shortID(entry.SessionID),
				entry.Raw,
				status,
			)
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "number of entries")
}
