package command

// root.go defines the root command for panelctl and its global flags.

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"panelbridge/cmd/cli/authentication"
	"panelbridge/cmd/cli/command/client"
)

var (
	apiURL string // relay base URL
	wsPath string // WebSocket path on the relay
	token  string // panel token, overrides the stored one
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "panelctl",
	Short: "panelctl - operator tool for the panel relay",
	Long: `panelctl talks to a running panel relay. It can:
- Show the shared state and relay counters
- Send commands the way a panel would
- Open an interactive panel console over WebSocket
- Issue panel tokens and read the command log (admin)

Use "panelctl command --help" to see the flags of a command.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("PANELCTL_API", "http://localhost:5620"), "relay base URL")
	rootCmd.PersistentFlags().StringVar(&wsPath, "ws-path", "/app", "WebSocket path on the relay")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "panel token (defaults to the stored one)")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// panelClient returns an HTTP client carrying the panel token, if any
func panelClient() *client.HTTPClient {
	c := client.NewHTTPClient(apiURL)
	if t := panelToken(); t != "" {
		c.SetToken(t)
	}
	return c
}

// adminClient returns an HTTP client with the stored admin credentials
func adminClient() (*client.HTTPClient, error) {
	creds, err := authentication.GetAdmin()
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	if creds == nil {
		return nil, fmt.Errorf("not logged in, run 'panelctl auth login' first")
	}
	c := client.NewHTTPClient(apiURL)
	c.SetAdmin(creds.Username, creds.Password)
	return c, nil
}

func panelToken() string {
	if token != "" {
		return token
	}
	stored, err := authentication.GetToken()
	if err != nil || stored == nil {
		return ""
	}
	return stored.Token
}

// wsURL turns the API base URL into the relay's WebSocket URL
func wsURL() (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid --api: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	if !strings.HasPrefix(wsPath, "/") {
		wsPath = "/" + wsPath
	}
	u.Path = strings.TrimRight(u.Path, "/") + wsPath
	return u.String(), nil
}
