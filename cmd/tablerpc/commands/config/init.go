package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/marmos91/tablerpc/internal/cli/prompt"
	"github.com/marmos91/tablerpc/pkg/config"
	"github.com/spf13/cobra"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file",
	Long: `Write a tablerpc configuration file with every default filled in.

The file is created at $XDG_CONFIG_HOME/tablerpc/config.yaml unless --config
is given. --interactive asks for the most common settings first.

Examples:
  tablerpc config init
  tablerpc config init --config /etc/tablerpc/config.yaml --force
  tablerpc config init --interactive`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for common settings")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	cfg := config.GetDefaultConfig()
	if initInteractive {
		if err := promptSettings(cfg); err != nil {
			if prompt.IsAborted(err) {
				return errors.New("aborted")
			}
			return err
		}
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := config.SaveConfig(cfg, path); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Add tables under catalog.tables")
	_, _ = fmt.Fprintf(out, "  2. Start the server with: tablerpc start --config %s\n", path)
	return nil
}

// promptSettings asks for the settings most deployments change.
func promptSettings(cfg *config.Config) error {
	port, err := prompt.InputPort("RPC port", cfg.Server.Port)
	if err != nil {
		return err
	}
	cfg.Server.Port = port

	level, err := prompt.Select("Log level", []string{"INFO", "DEBUG", "WARN", "ERROR"})
	if err != nil {
		return err
	}
	cfg.Logging.Level = level

	name, err := prompt.Input("Catalog name", cfg.Catalog.Name)
	if err != nil {
		return err
	}
	cfg.Catalog.Name = strings.TrimSpace(name)

	cfg.Authentication.Enabled, err = prompt.Confirm("Require Kerberos authentication", false)
	if err != nil {
		return err
	}
	if cfg.Authentication.Enabled {
		if cfg.Authentication.Principal, err = prompt.Input("Service principal", cfg.Authentication.Principal); err != nil {
			return err
		}
		if cfg.Authentication.CredentialPath, err = prompt.InputValidated("Keytab path", "", nonEmpty); err != nil {
			return err
		}
	}

	cfg.Metrics.Enabled, err = prompt.Confirm("Expose Prometheus metrics", false)
	if err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port, err = prompt.InputPort("Metrics port", cfg.Metrics.Port); err != nil {
			return err
		}
	}
	return nil
}

func nonEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("value is required")
	}
	return nil
}
