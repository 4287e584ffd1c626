package config

import (
	"fmt"
	"strconv"

	"github.com/marmos91/tablerpc/internal/cli/output"
	"github.com/marmos91/tablerpc/pkg/config"
	"github.com/spf13/cobra"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective tablerpc configuration, after defaults and
environment overrides are applied.

Examples:
  # Full configuration as YAML
  tablerpc config show

  # Summary table
  tablerpc config show --output table`,
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json|table)")
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(configPath(cmd))
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(out, cfg)
	case output.FormatTable:
		if err := output.KeyValueTable(out, summary(cfg)); err != nil {
			return err
		}
		if len(cfg.Catalog.Tables) == 0 {
			return nil
		}
		_, _ = fmt.Fprintln(out)
		tables := output.NewTableData("Database", "Table", "Location", "Owner")
		for _, t := range cfg.Catalog.Tables {
			tables.AddRow(t.Database, t.Table, t.Location, t.Owner)
		}
		return output.PrintTable(out, tables)
	default:
		return output.PrintYAML(out, cfg)
	}
}

func summary(cfg *config.Config) [][2]string {
	listen := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	pairs := [][2]string{
		{"Listen", listen},
		{"Workers", strconv.Itoa(cfg.Server.Workers)},
		{"Max message size", cfg.Server.MaxMessageSize.String()},
		{"Log level", cfg.Logging.Level},
		{"Authentication", strconv.FormatBool(cfg.Authentication.Enabled)},
	}
	if cfg.Authentication.Enabled {
		pairs = append(pairs, [2]string{"Service principal", cfg.Authentication.Principal})
	}
	pairs = append(pairs,
		[2]string{"Metrics", strconv.FormatBool(cfg.Metrics.Enabled)},
		[2]string{"Catalog", cfg.Catalog.Name},
		[2]string{"Tables", strconv.Itoa(len(cfg.Catalog.Tables))},
	)
	return pairs
}
