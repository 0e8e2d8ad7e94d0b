package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/ledgersync/internal/docstore"
)

var path = docstore.CollectionPath{Tenant: "t1", Collection: "expenses"}

func TestStore_CommitAndQuery(t *testing.T) {
	s := New()
	ctx := context.Background()

	var b docstore.Batch
	require.NoError(t, b.Set(path, "b", time.UnixMilli(200), json.RawMessage(`{"n":2}`)))
	require.NoError(t, b.Set(path, "a", time.UnixMilli(100), json.RawMessage(`{"n":1}`)))
	require.NoError(t, s.Commit(ctx, &b))

	docs, err := s.QuerySince(ctx, path, time.UnixMilli(0))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)

	docs, err = s.QuerySince(ctx, path, time.UnixMilli(100))
	require.NoError(t, err)
	require.Len(t, docs, 1, "query is strictly after the watermark")
	assert.Equal(t, "b", docs[0].ID)

	assert.Equal(t, []int{2}, s.Commits())
}

func TestStore_CollectionsAreIsolated(t *testing.T) {
	s := New()
	other := docstore.CollectionPath{Tenant: "t2", Collection: "expenses"}

	require.NoError(t, s.Put(path, "x", time.UnixMilli(5), map[string]string{"localId": "L"}))

	docs, err := s.QuerySince(context.Background(), other, time.UnixMilli(0))
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, 1, s.Count(path))
}

func TestStore_FailCommitsFrom(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("network down")

	s.FailCommitsFrom(2, boom)

	var b1, b2 docstore.Batch
	require.NoError(t, b1.Set(path, "a", time.UnixMilli(1), json.RawMessage(`{}`)))
	require.NoError(t, b2.Set(path, "b", time.UnixMilli(1), json.RawMessage(`{}`)))

	require.NoError(t, s.Commit(ctx, &b1))
	assert.ErrorIs(t, s.Commit(ctx, &b2), boom)

	_, ok := s.Get(path, "b")
	assert.False(t, ok, "failed commit must write nothing")
	assert.Equal(t, []int{1}, s.Commits())

	s.FailCommitsFrom(0, nil)
	require.NoError(t, s.Commit(ctx, &b2))
	assert.Equal(t, 2, s.Count(path))
}

func TestStore_PutRawFields(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(path, "raw", time.UnixMilli(1), []byte(`not json`)))

	d, ok := s.Get(path, "raw")
	require.True(t, ok)
	assert.Equal(t, "not json", string(d.Fields))
}

func TestStore_NewDocumentIDUnique(t *testing.T) {
	s := New()

	a, err := s.NewDocumentID(context.Background(), path)
	require.NoError(t, err)
	b, err := s.NewDocumentID(context.Background(), path)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 0, s.Count(path))
}
