package fileio

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ErrNilTableIdentifier is returned by NewCacheKey for a zero identifier.
var ErrNilTableIdentifier = errors.New("tableIdentifier cannot be null")

// TableIdentifier names a table within a catalog.
type TableIdentifier struct {
	Catalog  string
	Database string
	Table    string
}

// String returns "catalog.database.table".
func (id TableIdentifier) String() string {
	return id.Catalog + "." + id.Database + "." + id.Table
}

// IsZero reports whether every component is empty.
func (id TableIdentifier) IsZero() bool {
	return id == TableIdentifier{}
}

// CacheKey identifies one cached FileIO: the table together with the
// location it was opened at.
//
// CacheKey is comparable. Two keys are equal exactly when all their fields
// are equal, so it can be used directly as a map key.
type CacheKey struct {
	table    TableIdentifier
	location string
}

// NewCacheKey builds the key for table id stored at location. An empty
// location is a valid value.
func NewCacheKey(id TableIdentifier, location string) (CacheKey, error) {
	if id.IsZero() {
		return CacheKey{}, ErrNilTableIdentifier
	}
	return CacheKey{table: id, location: location}, nil
}

// Table returns the table identifier component.
func (k CacheKey) Table() TableIdentifier {
	return k.table
}

// Location returns the table location component.
func (k CacheKey) Location() string {
	return k.location
}

// Equal reports whether both components match.
func (k CacheKey) Equal(other CacheKey) bool {
	return k == other
}

// Hash returns a 64-bit hash consistent with Equal.
//
// Every field is length-prefixed before hashing, so moving characters
// between adjacent fields changes the hashed input: ("T", "1/x") and
// ("T1", "/x") hash different byte streams.
func (k CacheKey) Hash() uint64 {
	d := xxhash.New()
	for _, field := range [...]string{k.table.Catalog, k.table.Database, k.table.Table, k.location} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		_, _ = d.Write(n[:])
		_, _ = d.WriteString(field)
	}
	return d.Sum64()
}

// String renders the key for logs.
func (k CacheKey) String() string {
	var b strings.Builder
	b.WriteString("CacheKey{tableIdentifier=")
	b.WriteString(k.table.String())
	b.WriteString(", tableLocation='")
	b.WriteString(k.location)
	b.WriteString("'}")
	return b.String()
}
