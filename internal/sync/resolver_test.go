package sync

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

func testExpense(id int64, localID, remoteID string, updatedAt int64, amount int64) *ledger.Transaction {
	t := ledger.NewTransaction(ledger.KindExpense, testTenant, 1, decimal.NewFromInt(amount), updatedAt)
	t.ID = id
	t.LocalID = localID
	t.RemoteID = remoteID

	return t
}

func TestResolve_RemoteNewer(t *testing.T) {
	local := testExpense(7, "a1", "", 100, 10)
	remote := testExpense(0, "a1", "doc-a1", 200, 99)
	remote.Description = "from remote"

	got := Resolve(local, remote, 1000)

	assert.Equal(t, int64(7), got.ID, "surrogate id preserved")
	assert.Equal(t, "a1", got.LocalID)
	assert.Equal(t, "doc-a1", got.RemoteID)
	assert.Equal(t, int64(200), got.UpdatedAt)
	assert.True(t, decimal.NewFromInt(99).Equal(got.Amount))
	assert.Equal(t, "from remote", got.Description)
	assert.True(t, got.IsSynced)
	assert.False(t, got.NeedsSync)
	assert.Equal(t, int64(1000), got.LastSyncedAt)
}

func TestResolve_LocalNewer(t *testing.T) {
	local := testExpense(7, "b1", "", 300, 10)
	remote := testExpense(0, "b1", "doc-b1", 250, 1)

	got := Resolve(local, remote, 1000)

	assert.Equal(t, int64(300), got.UpdatedAt)
	assert.True(t, decimal.NewFromInt(10).Equal(got.Amount))
	assert.Equal(t, "doc-b1", got.RemoteID, "remote id adopted when local has none")
	assert.True(t, got.IsSynced)
	assert.False(t, got.NeedsSync)
}

func TestResolve_TieFavorsLocal(t *testing.T) {
	local := testExpense(7, "c1", "doc-c1", 500, 10)
	remote := testExpense(0, "c1", "doc-other", 500, 20)

	got := Resolve(local, remote, 1000)

	assert.True(t, decimal.NewFromInt(10).Equal(got.Amount))
	assert.Equal(t, "doc-c1", got.RemoteID, "local remote id is kept")
}

func TestResolve_BlankLocalRemoteIDFallsBack(t *testing.T) {
	local := testExpense(7, "c1", "   ", 500, 10)
	remote := testExpense(0, "c1", "doc-c1", 400, 20)

	got := Resolve(local, remote, 1000)
	assert.Equal(t, "doc-c1", got.RemoteID)
}

func TestResolve_Idempotent(t *testing.T) {
	local := testExpense(7, "d1", "", 100, 10)
	remote := testExpense(0, "d1", "doc-d1", 200, 99)

	once := Resolve(local, remote, 1000)
	twice := Resolve(once, remote, 1000)

	assert.Equal(t, once, twice)
}

func TestResolve_NeverRegressesUpdatedAt(t *testing.T) {
	for _, tc := range []struct{ local, remote int64 }{
		{100, 200}, {200, 100}, {150, 150},
	} {
		got := Resolve(testExpense(1, "e1", "", tc.local, 1), testExpense(0, "e1", "r", tc.remote, 2), 0)
		assert.Equal(t, max(tc.local, tc.remote), got.UpdatedAt)
	}
}

func TestResolve_DoesNotModifyInputs(t *testing.T) {
	local := testExpense(7, "f1", "", 100, 10)
	remote := testExpense(0, "f1", "doc-f1", 200, 99)

	Resolve(local, remote, 1000)

	assert.True(t, local.NeedsSync)
	assert.Empty(t, local.RemoteID)
	assert.Equal(t, int64(0), remote.ID)
	assert.True(t, decimal.NewFromInt(99).Equal(remote.Amount))
}

func TestResolve_Categories(t *testing.T) {
	local := ledger.NewCategory(testTenant, "Old name", true, 100)
	local.ID = 3

	remote := ledger.NewCategory(testTenant, "New name", true, 200)
	remote.LocalID = local.LocalID
	remote.RemoteID = "cat-r"

	got := Resolve(local, remote, 1000)
	assert.Equal(t, int64(3), got.ID)
	assert.Equal(t, "New name", got.Name)
	assert.Equal(t, "cat-r", got.RemoteID)
}
