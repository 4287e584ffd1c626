package commands

import (
	"github.com/marmos91/tablerpc/pkg/catalog"
	"github.com/spf13/cobra"
)

var tablesFlags clientFlags

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the tables served by a running server",
	Long: `Call LIST_TABLES on a running server.

Examples:
  tablerpc tables --address db1:10051
  tablerpc tables -o json`,
	RunE: runTables,
}

func init() {
	tablesFlags.register(tablesCmd)
}

func runTables(cmd *cobra.Command, args []string) error {
	printer, err := tablesFlags.printer(cmd)
	if err != nil {
		return err
	}

	ctx, cancel, c, err := tablesFlags.dial(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer func() { _ = c.Close() }()

	tables, err := c.ListTables(ctx)
	if err != nil {
		return err
	}
	return printer.Print(tableList(tables))
}

type tableList []catalog.TableEntry

func (l tableList) Headers() []string {
	return []string{"Catalog", "Database", "Table", "Location", "Owner"}
}

func (l tableList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, t := range l {
		rows = append(rows, []string{t.Catalog, t.Database, t.Table, t.Location, dash(t.Owner)})
	}
	return rows
}
