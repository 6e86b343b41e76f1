// Command refsyncctl is an operator/debugging CLI against a running
// refsyncd: create events, manage invitations, inspect replica state, and
// export incidents. It is not the referee-facing mobile UI; this talks
// the same signed HTTP surface any referee client would.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "refsyncctl",
	Short: "Operator CLI for a refsync event-log sync server",
}

var (
	configPath string
	serverURL  string
	keyFile    string
	storePath  string
	peerName   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to refsync.yaml (overrides the default search path)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "override client.server_url")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key-file", "", "override client.key_file")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "override client.store_path")
	rootCmd.PersistentFlags().StringVar(&peerName, "name", "referee", "display name to present as")

	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(inviteCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(acceptCmd)
	rootCmd.AddCommand(codeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(incidentCmd)
	rootCmd.AddCommand(scratchpadCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(exportCmd)
}
