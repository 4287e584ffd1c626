package config

import (
	"fmt"

	"github.com/marmos91/tablerpc/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the tablerpc configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  tablerpc config validate
  tablerpc config validate --config /etc/tablerpc/config.yaml`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", path)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := warningsFor(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}
	return nil
}

// warningsFor reports settings that are valid but probably unintended.
func warningsFor(cfg *config.Config) []string {
	var warnings []string
	if len(cfg.Catalog.Tables) == 0 {
		warnings = append(warnings, "catalog has no tables")
	}
	if cfg.Authentication.Enabled && cfg.Authentication.CredentialPath == "" {
		warnings = append(warnings, "authentication enabled without credential_path; TABLERPC_KERBEROS_KEYTAB must be set at start")
	}
	if !cfg.Authentication.Enabled {
		warnings = append(warnings, "authentication disabled; callers are identified by peer address only")
	}
	return warnings
}
