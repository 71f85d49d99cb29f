package command

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the relay's shared state",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := panelClient().State()
		if err != nil {
			return fmt.Errorf("fetch state: %w", err)
		}

		color.New(color.Bold).Println(st.SystemName)
		fmt.Printf("  counter: %d\n", st.Counter)
		for _, d := range st.Displays {
			power := color.RedString("off")
			if d.Power {
				power = color.GreenString("on")
			}
			fmt.Printf("  %-12s %-20s %s\n", d.ID, d.Name, power)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show relay counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := panelClient()
		health, err := c.Health()
		if err != nil {
			return fmt.Errorf("relay unreachable: %w", err)
		}
		stats, err := c.Stats()
		if err != nil {
			return fmt.Errorf("fetch stats: %w", err)
		}

		fmt.Printf("status:              %s\n", color.GreenString(health.Status))
		fmt.Printf("sessions:            %d\n", stats.Sessions)
		fmt.Printf("connects total:      %d\n", stats.Connects)
		fmt.Printf("frames in / out:     %d / %d\n", stats.FramesIn, stats.FramesOut)
		fmt.Printf("unknown frames:      %d\n", stats.Unknown)
		fmt.Printf("rate limited frames: %d\n", stats.RateLimited)
		fmt.Printf("dropped frames:      %d\n", stats.Dropped)
		fmt.Printf("injected commands:   %d\n", stats.Injected)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(statsCmd)
}
