package cmd

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/tessia-project/baselib/pkg/terminal"
)

var (
	consoleEndpoint string
	consoleHost     string
	consolePassword string
)

var consoleCmd = &cobra.Command{
	Use:   "console <guest>",
	Short: "Attach to a guest console",
	Long:  "Open an interactive session on the guest's console through the attach service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		guest := args[0]

		attachURL := url.URL{
			Scheme:   "ws",
			Host:     consoleEndpoint,
			Path:     "/console/" + guest,
			RawQuery: url.Values{"host": {consoleHost}}.Encode(),
		}

		header := http.Header{}
		if consolePassword != "" {
			credentials := base64.StdEncoding.EncodeToString([]byte(guest + ":" + consolePassword))
			header.Set("Authorization", "Basic "+credentials)
		}

		conn, _, err := websocket.DefaultDialer.Dial(attachURL.String(), header)
		if err != nil {
			return fmt.Errorf("failed to attach to console: %w", err)
		}

		console := terminal.NewConsole(conn)
		defer console.Close()
		return console.Start(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)

	consoleCmd.Flags().StringVar(&consoleEndpoint, "endpoint", "localhost:8490", "attach service address")
	consoleCmd.Flags().StringVar(&consoleHost, "host", "", "console host name (required)")
	consoleCmd.Flags().StringVar(&consolePassword, "password", "", "guest password")
	consoleCmd.MarkFlagRequired("host")
}
