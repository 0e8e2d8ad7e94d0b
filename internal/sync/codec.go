package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tonimelisma/ledgersync/internal/docstore"
	"github.com/tonimelisma/ledgersync/internal/ledger"
)

// Codec converts between local entities and remote document payloads.
// Encode and Decode report unresolvable references or malformed payloads
// as a SkipReason with a nil error; errors are reserved for lookup failures.
type Codec[E any] interface {
	Encode(ctx context.Context, e E) (json.RawMessage, SkipReason, error)
	Decode(ctx context.Context, tenant string, doc docstore.Document) (E, SkipReason, error)
}

// remoteState builds the sync bookkeeping for an entity decoded from doc.
func remoteState(tenant, localID string, isDeleted bool, doc docstore.Document) ledger.SyncState {
	return ledger.SyncState{
		LocalID:   localID,
		RemoteID:  doc.ID,
		TenantID:  tenant,
		UpdatedAt: doc.UpdatedAt.UnixMilli(),
		IsDeleted: isDeleted,
	}
}

func marshalDoc(kind ledger.Kind, v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("sync: encoding %s document: %w", kind, err)
	}

	return data, nil
}

// CategoryCodec maps categories. Categories reference nothing.
type CategoryCodec struct{}

func (CategoryCodec) Encode(_ context.Context, c *ledger.Category) (json.RawMessage, SkipReason, error) {
	data, err := marshalDoc(ledger.KindCategory, ledger.CategoryDoc{
		LocalID:            c.LocalID,
		Name:               c.Name,
		Color:              c.Color,
		IsExpenseCategory:  c.IsExpenseCategory,
		Icon:               c.Icon,
		Description:        c.Description,
		ExpectedPersonType: c.ExpectedPersonType,
		IsDeleted:          c.IsDeleted,
	})

	return data, "", err
}

func (CategoryCodec) Decode(_ context.Context, tenant string, doc docstore.Document) (*ledger.Category, SkipReason, error) {
	d, err := ledger.DecodeCategoryDoc(doc.Fields)
	if errors.Is(err, ledger.ErrMalformedDocument) {
		return nil, SkipMalformed, nil
	}

	if err != nil {
		return nil, "", err
	}

	return &ledger.Category{
		SyncState:          remoteState(tenant, d.LocalID, d.IsDeleted, doc),
		Name:               d.Name,
		Color:              d.Color,
		IsExpenseCategory:  d.IsExpenseCategory,
		Icon:               d.Icon,
		Description:        d.Description,
		ExpectedPersonType: d.ExpectedPersonType,
	}, "", nil
}

// PersonCodec maps persons. Persons reference nothing.
type PersonCodec struct{}

func (PersonCodec) Encode(_ context.Context, p *ledger.Person) (json.RawMessage, SkipReason, error) {
	data, err := marshalDoc(ledger.KindPerson, ledger.PersonDoc{
		LocalID:    p.LocalID,
		Name:       p.Name,
		PersonType: p.PersonType,
		Contact:    p.Contact,
		IsDeleted:  p.IsDeleted,
	})

	return data, "", err
}

func (PersonCodec) Decode(_ context.Context, tenant string, doc docstore.Document) (*ledger.Person, SkipReason, error) {
	d, err := ledger.DecodePersonDoc(doc.Fields)
	if errors.Is(err, ledger.ErrMalformedDocument) {
		return nil, SkipMalformed, nil
	}

	if err != nil {
		return nil, "", err
	}

	return &ledger.Person{
		SyncState:  remoteState(tenant, d.LocalID, d.IsDeleted, doc),
		Name:       d.Name,
		PersonType: d.PersonType,
		Contact:    d.Contact,
	}, "", nil
}

// TransactionCodec maps expenses or incomes, translating category and
// person references through the identity mapper.
type TransactionCodec struct {
	kind   ledger.Kind
	mapper *IdentityMapper
}

// NewTransactionCodec returns a codec for kind (expense or income).
func NewTransactionCodec(kind ledger.Kind, mapper *IdentityMapper) *TransactionCodec {
	return &TransactionCodec{kind: kind, mapper: mapper}
}

func (c *TransactionCodec) Encode(ctx context.Context, t *ledger.Transaction) (json.RawMessage, SkipReason, error) {
	categoryRemote, ok, err := c.mapper.LocalToRemote(ctx, ledger.KindCategory, t.CategoryID)
	if err != nil {
		return nil, "", err
	}

	if !ok {
		return nil, SkipCategoryUnresolved, nil
	}

	var personRemote string

	if t.HasPerson() {
		personRemote, ok, err = c.mapper.LocalToRemote(ctx, ledger.KindPerson, t.PersonID)
		if err != nil {
			return nil, "", err
		}

		if !ok {
			return nil, SkipPersonUnresolved, nil
		}
	}

	data, err := marshalDoc(c.kind, ledger.TransactionDoc{
		LocalID:          t.LocalID,
		CategoryRemoteID: categoryRemote,
		PersonRemoteID:   personRemote,
		Amount:           t.Amount,
		AmountPaid:       t.AmountPaid,
		Date:             t.Date,
		Description:      t.Description,
		TransactionType:  t.TransactionType,
		IsDeleted:        t.IsDeleted,
	})

	return data, "", err
}

func (c *TransactionCodec) Decode(ctx context.Context, tenant string, doc docstore.Document) (*ledger.Transaction, SkipReason, error) {
	d, err := ledger.DecodeTransactionDoc(doc.Fields)
	if errors.Is(err, ledger.ErrMalformedDocument) {
		return nil, SkipMalformed, nil
	}

	if err != nil {
		return nil, "", err
	}

	categoryID, ok, err := c.mapper.RemoteToLocal(ctx, ledger.KindCategory, d.CategoryRemoteID)
	if err != nil {
		return nil, "", err
	}

	if !ok {
		return nil, SkipCategoryUnresolved, nil
	}

	var personID int64

	if d.PersonRemoteID != "" {
		personID, ok, err = c.mapper.RemoteToLocal(ctx, ledger.KindPerson, d.PersonRemoteID)
		if err != nil {
			return nil, "", err
		}

		if !ok {
			return nil, SkipPersonUnresolved, nil
		}
	}

	return &ledger.Transaction{
		SyncState:       remoteState(tenant, d.LocalID, d.IsDeleted, doc),
		Kind:            c.kind,
		CategoryID:      categoryID,
		PersonID:        personID,
		Amount:          d.Amount,
		AmountPaid:      d.AmountPaid,
		Date:            d.Date,
		Description:     d.Description,
		TransactionType: d.TransactionType,
	}, "", nil
}
