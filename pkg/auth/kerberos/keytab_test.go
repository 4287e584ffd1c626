package kerberos

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/tablerpc/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKeytabPath(t *testing.T) {
	t.Setenv(EnvKeytab, "/env/service.keytab")
	assert.Equal(t, "/env/service.keytab", resolveKeytabPath("/config/service.keytab"))

	t.Setenv(EnvKeytab, "")
	assert.Equal(t, "/config/service.keytab", resolveKeytabPath("/config/service.keytab"))
	assert.Empty(t, resolveKeytabPath(""))
}

func TestResolveServicePrincipal(t *testing.T) {
	t.Setenv(EnvPrincipal, "tablerpc/env.example.com@EXAMPLE.COM")
	assert.Equal(t, "tablerpc/env.example.com@EXAMPLE.COM", resolveServicePrincipal("tablerpc/_HOST@EXAMPLE.COM"))

	t.Setenv(EnvPrincipal, "")
	assert.Equal(t, "tablerpc/_HOST@EXAMPLE.COM", resolveServicePrincipal("tablerpc/_HOST@EXAMPLE.COM"))
}

func TestResolveKrb5ConfPath(t *testing.T) {
	t.Setenv(EnvKrb5Conf, "/env/krb5.conf")
	assert.Equal(t, "/env/krb5.conf", resolveKrb5ConfPath("/config/krb5.conf"))

	t.Setenv(EnvKrb5Conf, "")
	assert.Equal(t, "/config/krb5.conf", resolveKrb5ConfPath("/config/krb5.conf"))
	assert.Equal(t, config.DefaultKrb5Conf, resolveKrb5ConfPath(""))
}

func TestLoadKeytab(t *testing.T) {
	dir := t.TempDir()

	kt, err := loadKeytab(createTestKeytab(t, dir))
	require.NoError(t, err)
	assert.NotNil(t, kt)

	_, err = loadKeytab(filepath.Join(dir, "missing.keytab"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.keytab")
	require.NoError(t, os.WriteFile(bad, []byte("not a keytab"), 0600))
	_, err = loadKeytab(bad)
	assert.Error(t, err)
}

func TestReloadKeytabSwapsAndKeepsOldOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := createTestKeytab(t, dir)

	kt, err := loadKeytab(path)
	require.NoError(t, err)
	p := &Provider{keytabPath: path, keytab: kt}
	original := p.Keytab()

	writeKeytab(t, dir, filepath.Base(path), newTestKeytab(t, testSPN, "rotated-secret", 2))
	require.NoError(t, p.ReloadKeytab())
	rotated := p.Keytab()
	assert.NotSame(t, original, rotated)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0600))
	assert.Error(t, p.ReloadKeytab())
	assert.Same(t, rotated, p.Keytab())
}

type countingReloader struct {
	n atomic.Int32
}

func (c *countingReloader) ReloadKeytab() error {
	c.n.Add(1)
	return nil
}

func TestKeytabManagerReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := createTestKeytab(t, dir)

	r := &countingReloader{}
	km := NewKeytabManager(path, r, 20*time.Millisecond)
	require.NoError(t, km.Start())
	defer km.Stop()

	// Replace the keytab the way key management tools do: write then rename.
	tmp := writeKeytab(t, dir, "service.keytab.new", newTestKeytab(t, testSPN, "next", 2))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(tmp, future, future))
	require.NoError(t, os.Rename(tmp, path))

	assert.Eventually(t, func() bool { return r.n.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestKeytabManagerStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	km := NewKeytabManager(createTestKeytab(t, dir), &countingReloader{}, time.Minute)
	require.NoError(t, km.Start())

	km.Stop()
	km.Stop()

	select {
	case <-km.done:
	case <-time.After(time.Second):
		t.Fatal("keytab manager loop did not exit")
	}
}

func TestKeytabManagerStopWaitsForLoop(t *testing.T) {
	dir := t.TempDir()
	km := NewKeytabManager(createTestKeytab(t, dir), &countingReloader{}, 10*time.Millisecond)
	require.NoError(t, km.Start())

	stopped := make(chan struct{})
	go func() {
		km.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	// Stop returned, so the loop has already exited.
	select {
	case <-km.done:
	default:
		t.Fatal("Stop returned before the loop exited")
	}
	km.Stop()
}

func TestKeytabManagerStartFailsForMissingFile(t *testing.T) {
	km := NewKeytabManager("/nonexistent/service.keytab", &countingReloader{}, time.Minute)
	assert.Error(t, km.Start())
	km.Stop()
}
