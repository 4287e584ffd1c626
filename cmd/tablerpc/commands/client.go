package commands

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/marmos91/tablerpc/internal/cli/output"
	"github.com/marmos91/tablerpc/internal/cli/prompt"
	"github.com/marmos91/tablerpc/pkg/client"
	"github.com/spf13/cobra"
)

// clientFlags are shared by commands that call a running server.
type clientFlags struct {
	address          string
	timeout          time.Duration
	output           string
	principal        string
	keytab           string
	askPassword      bool
	krb5Conf         string
	servicePrincipal string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.address, "address", "a", "localhost:10051", "Server address (host:port)")
	fs.DurationVar(&f.timeout, "timeout", 10*time.Second, "Dial and call timeout")
	fs.StringVarP(&f.output, "output", "o", "table", "Output format (table|json|yaml)")
	fs.StringVar(&f.principal, "principal", "", "Kerberos client principal; enables authentication")
	fs.StringVar(&f.keytab, "keytab", "", "Keytab for the client principal")
	fs.BoolVar(&f.askPassword, "ask-password", false, "Prompt for the client principal's password")
	fs.StringVar(&f.krb5Conf, "krb5-conf", "", "Kerberos configuration (default: /etc/krb5.conf)")
	fs.StringVar(&f.servicePrincipal, "service-principal", "", "Server SPN (default: tablerpc/<host of --address>)")
}

// options translates the flags into client options, prompting for a password
// when asked to.
func (f *clientFlags) options() ([]client.Option, error) {
	opts := []client.Option{client.WithDialTimeout(f.timeout)}
	if f.principal == "" {
		return opts, nil
	}

	krb := client.KerberosConfig{
		Principal:        f.principal,
		KeytabPath:       f.keytab,
		Krb5Conf:         f.krb5Conf,
		ServicePrincipal: f.servicePrincipal,
	}
	if krb.ServicePrincipal == "" {
		krb.ServicePrincipal = defaultServicePrincipal(f.address)
	}
	if krb.KeytabPath == "" {
		if !f.askPassword {
			return nil, fmt.Errorf("--principal requires --keytab or --ask-password")
		}
		password, err := prompt.Password(fmt.Sprintf("Password for %s", f.principal))
		if err != nil {
			return nil, err
		}
		krb.Password = password
	}
	return append(opts, client.WithKerberos(krb)), nil
}

func (f *clientFlags) printer(cmd *cobra.Command) (*output.Printer, error) {
	format, err := output.ParseFormat(f.output)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(cmd.OutOrStdout(), format), nil
}

// dial connects to the server named by the flags. The returned context carries
// the call timeout.
func (f *clientFlags) dial(cmd *cobra.Command) (context.Context, context.CancelFunc, *client.Client, error) {
	opts, err := f.options()
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	c, err := client.Dial(ctx, f.address, opts...)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("failed to connect to %s: %w", f.address, err)
	}
	return ctx, cancel, c, nil
}

func defaultServicePrincipal(address string) string {
	host := address
	if h, _, err := net.SplitHostPort(address); err == nil {
		host = h
	}
	return "tablerpc/" + host
}
