// Package commands implements the tablerpc command line.
package commands

import (
	"github.com/marmos91/tablerpc/cmd/tablerpc/commands/config"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "tablerpc",
	Short: "tablerpc - authenticated table catalog over ONC RPC",
	Long: `tablerpc serves a table catalog over ONC RPC. Connections may be
authenticated with Kerberos; every call runs with the caller's identity
(authenticated principal or peer address) available to the handlers.

Use "tablerpc [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/tablerpc/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(config.Cmd)
}

// GetConfigFile returns the --config flag value.
func GetConfigFile() string {
	return cfgFile
}
