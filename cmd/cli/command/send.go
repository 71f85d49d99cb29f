package command

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"panelbridge/cmd/cli/command/client"
	"panelbridge/internal/microservices/http-api/dto"
)

// sendCmd posts one command over REST, e.g. panelctl send 'displays|display_1|power_off'
var sendCmd = &cobra.Command{
	Use:   "send <command>",
	Short: "Send one command to the relay",
	Long: `Send one command through the REST API. Panels connected over WebSocket
receive the resulting feedback exactly as if another panel had sent it.

Pipe commands:
  name|<text>
  counter|<n>  counter|increment  counter|decrement
  displays|<id>|power_on  displays|<id>|power_off

With --json the argument is a JSON envelope instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		c := panelClient()
		var (
			resp *dto.CommandResponse
			err  error
		)
		if asJSON {
			if !json.Valid([]byte(args[0])) {
				return fmt.Errorf("argument is not valid JSON")
			}
			resp, err = c.SendEnvelope(json.RawMessage(args[0]))
		} else {
			resp, err = c.SendCommand(args[0])
		}
		if err != nil {
			if client.IsStatus(err, http.StatusUnauthorized) {
				return fmt.Errorf("relay wants a panel token, pass --token or run 'panelctl token issue --save': %w", err)
			}
			return fmt.Errorf("command rejected: %w", err)
		}

		if len(resp.Feedback) == 0 {
			color.Yellow("accepted, nothing changed")
			return nil
		}
		for _, fb := range resp.Feedback {
			color.Green("✓ %s", fb)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Bool("json", false, "argument is a JSON envelope")
}
