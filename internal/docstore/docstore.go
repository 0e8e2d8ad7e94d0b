// Package docstore defines the remote multi-tenant document store the sync
// engine talks to, along with an HTTP client implementation. Documents live
// in collections addressed as tenants/{tenantId}/{collection}. Writes are
// grouped into atomic batches; reads are incremental by updatedAt.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

// MaxBatchWrites is the largest number of writes a single atomic commit may
// carry.
const MaxBatchWrites = 500

// Store is the remote document store contract.
type Store interface {
	// NewDocumentID reserves a fresh document id in the collection without
	// writing anything.
	NewDocumentID(ctx context.Context, path CollectionPath) (string, error)

	// Commit applies every write in the batch atomically: all or none.
	Commit(ctx context.Context, batch *Batch) error

	// QuerySince returns the documents of a collection whose updatedAt is
	// strictly after since.
	QuerySince(ctx context.Context, path CollectionPath, since time.Time) ([]Document, error)
}

// CollectionPath addresses one collection of one tenant.
type CollectionPath struct {
	Tenant     string
	Collection string
}

// PathFor returns the collection path holding records of kind for tenant.
func PathFor(tenant string, kind ledger.Kind) CollectionPath {
	return CollectionPath{Tenant: tenant, Collection: kind.Collection()}
}

func (p CollectionPath) String() string {
	return "tenants/" + p.Tenant + "/" + p.Collection
}

// Validate rejects paths with empty or slash-containing segments.
func (p CollectionPath) Validate() error {
	if strings.TrimSpace(p.Tenant) == "" || strings.Contains(p.Tenant, "/") {
		return fmt.Errorf("%w: tenant %q", ErrInvalidPath, p.Tenant)
	}

	if strings.TrimSpace(p.Collection) == "" || strings.Contains(p.Collection, "/") {
		return fmt.Errorf("%w: collection %q", ErrInvalidPath, p.Collection)
	}

	return nil
}

// Document is one remote document as returned by a query.
type Document struct {
	ID        string
	UpdatedAt time.Time
	Fields    json.RawMessage
}

// Write is a single upsert staged in a Batch.
type Write struct {
	Path      CollectionPath
	ID        string
	UpdatedAt time.Time
	Fields    json.RawMessage
}

// Batch accumulates writes for one atomic commit. The zero value is an empty
// batch ready to use.
type Batch struct {
	writes []Write
}

// Set stages an upsert of the document id in path. It fails once the batch
// holds MaxBatchWrites writes.
func (b *Batch) Set(path CollectionPath, id string, updatedAt time.Time, fields json.RawMessage) error {
	if len(b.writes) >= MaxBatchWrites {
		return ErrBatchTooLarge
	}

	if id == "" {
		return errors.New("docstore: staging write with empty document id")
	}

	b.writes = append(b.writes, Write{Path: path, ID: id, UpdatedAt: updatedAt, Fields: fields})

	return nil
}

// Len returns the number of staged writes.
func (b *Batch) Len() int {
	return len(b.writes)
}

// Writes returns the staged writes in insertion order.
func (b *Batch) Writes() []Write {
	return b.writes
}

// CheckBatch validates a batch before commit: size limit and paths.
// Store implementations call it first thing in Commit.
func CheckBatch(b *Batch) error {
	if b == nil {
		return errors.New("docstore: nil batch")
	}

	if len(b.writes) > MaxBatchWrites {
		return fmt.Errorf("%w: %d writes", ErrBatchTooLarge, len(b.writes))
	}

	for i := range b.writes {
		if err := b.writes[i].Path.Validate(); err != nil {
			return err
		}
	}

	return nil
}
