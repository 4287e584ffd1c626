package commands

import (
	"strconv"

	"github.com/marmos91/tablerpc/pkg/catalog"
	"github.com/spf13/cobra"
)

var whoamiFlags clientFlags

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the identity the server sees for this connection",
	Long: `Call WHOAMI on a running server and print the identity it attached to
the call: the authenticated principal when Kerberos is used, otherwise the
peer address.

Examples:
  # Anonymous connection
  tablerpc whoami --address db1:10051

  # Kerberos with a keytab
  tablerpc whoami --principal alice@EXAMPLE.COM --keytab ~/alice.keytab`,
	RunE: runWhoami,
}

func init() {
	whoamiFlags.register(whoamiCmd)
}

func runWhoami(cmd *cobra.Command, args []string) error {
	printer, err := whoamiFlags.printer(cmd)
	if err != nil {
		return err
	}

	ctx, cancel, c, err := whoamiFlags.dial(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer func() { _ = c.Close() }()

	res, err := c.WhoAmI(ctx)
	if err != nil {
		return err
	}
	return printer.Print(whoamiView(*res))
}

type whoamiView catalog.WhoAmIResult

func (v whoamiView) Headers() []string {
	return []string{"Authenticated", "Username", "Peer"}
}

func (v whoamiView) Rows() [][]string {
	return [][]string{{strconv.FormatBool(v.Authenticated), dash(v.Username), dash(v.PeerAddress)}}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
