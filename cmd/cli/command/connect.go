package command

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"panelbridge/cmd/cli/command/client"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Open an interactive panel console",
	Long: `Connect to the relay over WebSocket as a panel. The console keeps a local
mirror of the shared state, prints feedback as it arrives and reconnects
when the link drops. Type help for the console commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		codec, _ := cmd.Flags().GetString("codec")

		target, err := wsURL()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return client.RunConsole(ctx, client.ConsoleOptions{
			URL:   target,
			Token: panelToken(),
			Codec: codec,
			In:    os.Stdin,
			Out:   os.Stdout,
		})
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
	connectCmd.Flags().String("codec", "pipe", "wire format: pipe or json")
}
