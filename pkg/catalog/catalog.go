// Package catalog serves table metadata over RPC program 0x20000A51.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/marmos91/tablerpc/internal/logger"
	"github.com/marmos91/tablerpc/pkg/config"
	"github.com/marmos91/tablerpc/pkg/fileio"
)

// ErrTableNotFound is returned for tables the catalog does not list.
var ErrTableNotFound = errors.New("table not found")

// Table is one catalog entry.
type Table struct {
	Database string
	Table    string
	Location string
	Owner    string
}

type tableKey struct {
	database string
	table    string
}

// Catalog maps tables to their locations and reads their metadata through
// a shared FileIO cache.
type Catalog struct {
	name         string
	metadataFile string
	tables       map[tableKey]Table
	cache        *fileio.Cache
	ioOptions    fileio.Options
}

// New builds a catalog from configuration. cache may be shared with other
// catalogs; its lifetime belongs to the caller.
func New(cfg config.CatalogConfig, cache *fileio.Cache, opts fileio.Options) *Catalog {
	c := &Catalog{
		name:         cfg.Name,
		metadataFile: cfg.MetadataFile,
		tables:       make(map[tableKey]Table, len(cfg.Tables)),
		cache:        cache,
		ioOptions:    opts,
	}
	if c.metadataFile == "" {
		c.metadataFile = config.DefaultMetadataFile
	}
	for _, t := range cfg.Tables {
		c.tables[tableKey{t.Database, t.Table}] = Table{
			Database: t.Database,
			Table:    t.Table,
			Location: t.Location,
			Owner:    t.Owner,
		}
	}
	return c
}

// Name returns the catalog name.
func (c *Catalog) Name() string {
	return c.name
}

// Tables returns every entry ordered by database then table.
func (c *Catalog) Tables() []Table {
	out := make([]Table, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Database != out[j].Database {
			return out[i].Database < out[j].Database
		}
		return out[i].Table < out[j].Table
	})
	return out
}

// Lookup resolves id. An empty catalog component means this catalog.
func (c *Catalog) Lookup(id fileio.TableIdentifier) (Table, error) {
	if id.Catalog != "" && id.Catalog != c.name {
		return Table{}, fmt.Errorf("%w: %s", ErrTableNotFound, id)
	}
	t, ok := c.tables[tableKey{id.Database, id.Table}]
	if !ok {
		return Table{}, fmt.Errorf("%w: %s", ErrTableNotFound, c.identifier(id.Database, id.Table))
	}
	return t, nil
}

func (c *Catalog) identifier(database, table string) fileio.TableIdentifier {
	return fileio.TableIdentifier{Catalog: c.name, Database: database, Table: table}
}

// FileIO returns the cached FileIO for t.
func (c *Catalog) FileIO(ctx context.Context, t Table) (fileio.FileIO, error) {
	key, err := fileio.NewCacheKey(c.identifier(t.Database, t.Table), t.Location)
	if err != nil {
		return nil, err
	}
	return c.cache.Get(ctx, key, func(ctx context.Context, key fileio.CacheKey) (fileio.FileIO, error) {
		return fileio.New(ctx, key.Location(), c.ioOptions)
	})
}

// ReadMetadata returns the metadata document of t.
func (c *Catalog) ReadMetadata(ctx context.Context, t Table) ([]byte, error) {
	fio, err := c.FileIO(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("open table location %s: %w", t.Location, err)
	}

	rc, err := fio.Open(ctx, c.metadataFile)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.metadataFile, err)
	}

	logger.DebugCtx(ctx, "Read table metadata",
		logger.Table(c.identifier(t.Database, t.Table).String()),
		logger.Location(t.Location),
		logger.Bytes(len(data)))
	return data, nil
}

// Invalidate drops the cached FileIO of t so the next read reopens it.
func (c *Catalog) Invalidate(t Table) bool {
	key, err := fileio.NewCacheKey(c.identifier(t.Database, t.Table), t.Location)
	if err != nil {
		return false
	}
	return c.cache.Invalidate(key)
}
