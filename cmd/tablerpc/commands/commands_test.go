package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/marmos91/tablerpc/pkg/catalog"
	"github.com/marmos91/tablerpc/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersion(t *testing.T) {
	Version = "1.2.3"
	t.Cleanup(func() { Version = "dev" })

	t.Cleanup(func() { versionShort, versionOutput = false, "table" })

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tablerpc catalog server 1.2.3")
	assert.Contains(t, out, "Platform")

	out, err = execute(t, "version", "--output", "json")
	require.NoError(t, err)
	var info buildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)

	out, err = execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", out)
}

func TestDefaultServicePrincipal(t *testing.T) {
	assert.Equal(t, "tablerpc/db1.example.com", defaultServicePrincipal("db1.example.com:10051"))
	assert.Equal(t, "tablerpc/db1", defaultServicePrincipal("db1"))
}

func TestClientFlagsOptions(t *testing.T) {
	anonymous := clientFlags{timeout: time.Second}
	opts, err := anonymous.options()
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	withKeytab := clientFlags{timeout: time.Second, principal: "alice@EXAMPLE.COM", keytab: "/tmp/alice.keytab"}
	opts, err = withKeytab.options()
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	noSecret := clientFlags{principal: "alice@EXAMPLE.COM"}
	_, err = noSecret.options()
	assert.ErrorContains(t, err, "--keytab or --ask-password")
}

func TestTableListRows(t *testing.T) {
	l := tableList{
		{Catalog: "default", Database: "sales", Table: "orders", Location: "/data/orders", Owner: "alice"},
		{Catalog: "default", Database: "sales", Table: "items", Location: "s3://lake/items"},
	}

	rows := l.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"default", "sales", "orders", "/data/orders", "alice"}, rows[0])
	assert.Equal(t, "-", rows[1][4])
	assert.Len(t, l.Headers(), 5)
}

func TestWhoamiViewRows(t *testing.T) {
	v := whoamiView(catalog.WhoAmIResult{PeerAddress: "10.0.0.7"})
	assert.Equal(t, [][]string{{"false", "-", "10.0.0.7"}}, v.Rows())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	tableDir := filepath.Join(dir, "orders")
	require.NoError(t, os.MkdirAll(filepath.Join(tableDir, "metadata"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tableDir, "metadata", "current.json"), []byte(`{"format-version":2}`), 0644))

	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = "ERROR"
	cfg.Server.BindAddress = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.Workers = 2
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Catalog.Tables = []config.TableConfig{
		{Database: "sales", Table: "orders", Location: "file://" + tableDir, Owner: "alice"},
	}
	return cfg
}

func TestAppServesCatalog(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, InitLogger(cfg))

	a, err := newApp(cfg)
	require.NoError(t, err)
	t.Cleanup(a.close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	select {
	case <-a.server.ListenerReady:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	addr := a.server.Addr()

	out, err := execute(t, "tables", "--address", addr, "--output", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "alice")

	out, err = execute(t, "whoami", "--address", addr, "--output", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"Authenticated": false`)
	assert.Contains(t, out, `"PeerAddress": "127.0.0.1"`)
}

func TestAppKerberosSetupError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Authentication.Enabled = true
	cfg.Authentication.Principal = "tablerpc/host.example.com@EXAMPLE.COM"
	cfg.Authentication.CredentialPath = filepath.Join(t.TempDir(), "missing.keytab")

	_, err := newApp(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create kerberos transport factory")
}
