package catalog

import (
	"context"
	"errors"

	"github.com/marmos91/tablerpc/internal/logger"
	"github.com/marmos91/tablerpc/internal/telemetry"
	"github.com/marmos91/tablerpc/pkg/fileio"
	"github.com/marmos91/tablerpc/pkg/identity"
	"github.com/marmos91/tablerpc/pkg/rpc"
)

// Program identity.
const (
	Program uint32 = 0x20000A51
	Version uint32 = 1
)

// Procedures.
const (
	ProcNull       uint32 = 0
	ProcWhoAmI     uint32 = 1
	ProcListTables uint32 = 2
	ProcLoadTable  uint32 = 3
)

// WhoAmIResult is the WHOAMI reply.
type WhoAmIResult struct {
	Authenticated bool
	Username      string
	PeerAddress   string
}

// TableEntry is one LIST_TABLES row.
type TableEntry struct {
	Catalog  string
	Database string
	Table    string
	Location string
	Owner    string
}

// ListTablesResult is the LIST_TABLES reply.
type ListTablesResult struct {
	Tables []TableEntry
}

// LoadTableResult is the LOAD_TABLE reply.
type LoadTableResult struct {
	Location string
	Metadata []byte
	Owner    string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRequireAuthentication makes LOAD_TABLE reject callers without an
// authenticated username.
func WithRequireAuthentication(required bool) ServiceOption {
	return func(s *Service) {
		s.requireAuth = required
	}
}

// Service implements the catalog procedures.
type Service struct {
	catalog     *Catalog
	requireAuth bool
}

// NewService wraps c.
func NewService(c *Catalog, opts ...ServiceOption) *Service {
	s := &Service{catalog: c}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mux returns the procedure table for this service.
func (s *Service) Mux() *rpc.Mux {
	mux := rpc.NewMux(Program, Version)
	mux.HandleFunc(ProcNull, "NULL", s.null)
	mux.HandleFunc(ProcWhoAmI, "WHOAMI", s.whoAmI)
	mux.HandleFunc(ProcListTables, "LIST_TABLES", s.listTables)

	var load rpc.Processor = rpc.ProcessorFunc(s.loadTable)
	if s.requireAuth {
		load = RequireAuthenticated(load)
	}
	mux.Handle(ProcLoadTable, "LOAD_TABLE", load)
	return mux
}

// RequireAuthenticated rejects exchanges whose identity slots carry no
// username with an AuthError reply.
func RequireAuthenticated(next rpc.Processor) rpc.Processor {
	return rpc.ProcessorFunc(func(ctx context.Context, ex *rpc.Exchange) error {
		if _, ok := identity.Username(ctx); !ok {
			return rpc.NewError(rpc.AuthError, "authentication required")
		}
		return next.Process(ctx, ex)
	})
}

func (s *Service) null(context.Context, *rpc.Exchange) error {
	return nil
}

func (s *Service) whoAmI(ctx context.Context, ex *rpc.Exchange) error {
	snap := identity.FromContext(ctx).Snapshot()
	return ex.ReplyXDR(&WhoAmIResult{
		Authenticated: snap.HasUsername,
		Username:      snap.Username,
		PeerAddress:   snap.PeerAddress,
	})
}

func (s *Service) listTables(_ context.Context, ex *rpc.Exchange) error {
	tables := s.catalog.Tables()
	res := ListTablesResult{Tables: make([]TableEntry, 0, len(tables))}
	for _, t := range tables {
		res.Tables = append(res.Tables, TableEntry{
			Catalog:  s.catalog.Name(),
			Database: t.Database,
			Table:    t.Table,
			Location: t.Location,
			Owner:    t.Owner,
		})
	}
	return ex.ReplyXDR(&res)
}

func (s *Service) loadTable(ctx context.Context, ex *rpc.Exchange) error {
	var id fileio.TableIdentifier
	if err := ex.DecodeArgs(&id); err != nil {
		return err
	}

	t, err := s.catalog.Lookup(id)
	if err != nil {
		return rpc.NewError(rpc.SystemError, "%w", err)
	}
	telemetry.SetAttributes(ctx, telemetry.Table(id.String()), telemetry.Location(t.Location))

	metadata, err := s.catalog.ReadMetadata(ctx, t)
	if err != nil {
		if errors.Is(err, fileio.ErrNotFound) {
			logger.WarnCtx(ctx, "Table metadata missing",
				logger.Table(id.String()), logger.Location(t.Location), logger.Err(err))
		}
		return rpc.NewError(rpc.SystemError, "load table %s.%s: %w", t.Database, t.Table, err)
	}

	return ex.ReplyXDR(&LoadTableResult{
		Location: t.Location,
		Metadata: metadata,
		Owner:    t.Owner,
	})
}
