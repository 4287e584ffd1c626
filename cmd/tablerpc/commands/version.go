package commands

import (
	"fmt"
	"runtime"

	"github.com/marmos91/tablerpc/internal/cli/output"
	"github.com/spf13/cobra"
)

var (
	versionShort  bool
	versionOutput string
)

// buildInfo describes the running binary. The same build serves the catalog
// and acts as its client, so both sides report it when debugging mismatches.
type buildInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

func currentBuild() buildInfo {
	return buildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tablerpc build",
	Long: `Print the build of this tablerpc binary, which serves the table catalog
and also acts as its client.

Examples:
  tablerpc version
  tablerpc version --short
  tablerpc version -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		info := currentBuild()
		if versionShort {
			_, _ = fmt.Fprintln(out, info.Version)
			return nil
		}

		format, err := output.ParseFormat(versionOutput)
		if err != nil {
			return err
		}
		if format != output.FormatTable {
			return output.NewPrinter(out, format).Print(info)
		}

		_, _ = fmt.Fprintf(out, "tablerpc catalog server %s\n", info.Version)
		return output.KeyValueTable(out, [][2]string{
			{"Commit", info.Commit},
			{"Build date", info.BuildDate},
			{"Go", info.GoVersion},
			{"Platform", info.Platform},
		})
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print the version string only")
	versionCmd.Flags().StringVarP(&versionOutput, "output", "o", "table", "Output format (table|json|yaml)")
}
