// Command refsyncd runs the authoritative sync server for one or more
// robotics-competition events: the §6.2 HTTP surface and §6.3 websocket
// hub backing every referee's replica.
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
	Use:   "refsyncd",
	Short: "Run the refsync event-log sync server",
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to refsync.yaml (overrides the default search path)")
	rootCmd.AddCommand(serveCmd)
}
