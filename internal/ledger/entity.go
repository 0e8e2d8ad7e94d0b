package ledger

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SyncState is the bookkeeping every synchronizable record carries.
// ID is the local surrogate key and never leaves the device. LocalID is the
// client-generated natural key used to match records across stores.
type SyncState struct {
	ID           int64
	LocalID      string
	RemoteID     string
	TenantID     string
	UpdatedAt    int64 // ms since epoch
	IsSynced     bool
	NeedsSync    bool
	LastSyncedAt int64 // ms since epoch, 0 = never
	IsDeleted    bool
}

// HasRemoteID reports whether a usable remote document id is assigned.
// Blank or whitespace-only ids count as unassigned.
func (s *SyncState) HasRemoteID() bool {
	return strings.TrimSpace(s.RemoteID) != ""
}

// Pending reports whether the record must be uploaded.
func (s *SyncState) Pending() bool {
	return s.NeedsSync || !s.HasRemoteID()
}

// Touch records a local edit at now. UpdatedAt never moves backwards, even
// when the wall clock does.
func (s *SyncState) Touch(now int64) {
	if now <= s.UpdatedAt {
		now = s.UpdatedAt + 1
	}

	s.UpdatedAt = now
	s.NeedsSync = true
	s.IsSynced = false
}

// MarkSynced flips the record to synced with the given remote id.
func (s *SyncState) MarkSynced(remoteID string, at int64) {
	s.RemoteID = remoteID
	s.IsSynced = true
	s.NeedsSync = false
	s.LastSyncedAt = at
}

// SyncMark records that the version of a local row with the given
// UpdatedAt was committed remotely under RemoteID at SyncedAt.
type SyncMark struct {
	ID        int64
	RemoteID  string
	UpdatedAt int64
	SyncedAt  int64
}

// sameExceptSyncTime compares two states ignoring LastSyncedAt.
func (s SyncState) sameExceptSyncTime(o SyncState) bool {
	s.LastSyncedAt, o.LastSyncedAt = 0, 0
	return s == o
}

// Entity is implemented by pointer types of every synchronizable record.
// Clone returns a deep copy so conflict resolution never aliases its inputs.
// Equivalent reports whether two records would be stored identically apart
// from LastSyncedAt.
type Entity[E any] interface {
	State() *SyncState
	Clone() E
	Equivalent(other E) bool
}

// Category groups transactions. Expense and income categories share a table.
type Category struct {
	SyncState
	Name               string
	Color              string
	IsExpenseCategory  bool
	Icon               string
	Description        string
	ExpectedPersonType string
}

func (c *Category) State() *SyncState { return &c.SyncState }

func (c *Category) Clone() *Category {
	cp := *c
	return &cp
}

func (c *Category) Equivalent(o *Category) bool {
	a, b := *c, *o
	a.LastSyncedAt, b.LastSyncedAt = 0, 0

	return a == b
}

// Person is a counterparty optionally referenced by transactions.
type Person struct {
	SyncState
	Name       string
	PersonType string
	Contact    string
}

func (p *Person) State() *SyncState { return &p.SyncState }

func (p *Person) Clone() *Person {
	cp := *p
	return &cp
}

func (p *Person) Equivalent(o *Person) bool {
	a, b := *p, *o
	a.LastSyncedAt, b.LastSyncedAt = 0, 0

	return a == b
}

// Transaction is an expense or income record. CategoryID and PersonID are
// local surrogate ids; PersonID 0 means no person is referenced.
type Transaction struct {
	SyncState
	Kind            Kind
	CategoryID      int64
	PersonID        int64
	Amount          decimal.Decimal
	AmountPaid      decimal.Decimal
	Date            int64 // ms since epoch
	Description     string
	TransactionType string
}

func (t *Transaction) State() *SyncState { return &t.SyncState }

func (t *Transaction) Clone() *Transaction {
	cp := *t
	return &cp
}

// Equivalent compares amounts by value, so 1.5 and 1.50 are equal.
func (t *Transaction) Equivalent(o *Transaction) bool {
	return t.SyncState.sameExceptSyncTime(o.SyncState) &&
		t.Kind == o.Kind &&
		t.CategoryID == o.CategoryID &&
		t.PersonID == o.PersonID &&
		t.Amount.Equal(o.Amount) &&
		t.AmountPaid.Equal(o.AmountPaid) &&
		t.Date == o.Date &&
		t.Description == o.Description &&
		t.TransactionType == o.TransactionType
}

// HasPerson reports whether the transaction references a person.
func (t *Transaction) HasPerson() bool {
	return t.PersonID != 0
}

// NewLocalID generates a fresh client-side natural key.
func NewLocalID() string {
	return uuid.NewString()
}

func newState(tenantID string, now int64) SyncState {
	return SyncState{
		LocalID:   NewLocalID(),
		TenantID:  tenantID,
		UpdatedAt: now,
		NeedsSync: true,
	}
}

// NewCategory builds an unsynced category owned by tenantID.
func NewCategory(tenantID, name string, isExpense bool, now int64) *Category {
	return &Category{
		SyncState:         newState(tenantID, now),
		Name:              name,
		IsExpenseCategory: isExpense,
	}
}

// NewPerson builds an unsynced person owned by tenantID.
func NewPerson(tenantID, name, personType string, now int64) *Person {
	return &Person{
		SyncState:  newState(tenantID, now),
		Name:       name,
		PersonType: personType,
	}
}

// NewTransaction builds an unsynced expense or income referencing the
// category with local id categoryID.
func NewTransaction(kind Kind, tenantID string, categoryID int64, amount decimal.Decimal, now int64) *Transaction {
	return &Transaction{
		SyncState:  newState(tenantID, now),
		Kind:       kind,
		CategoryID: categoryID,
		Amount:     amount,
		AmountPaid: decimal.Zero,
		Date:       now,
	}
}
