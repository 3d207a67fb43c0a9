package catalog

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/cubefs/docdb/errors"
	"github.com/cubefs/docdb/proto"
	"github.com/cubefs/docdb/store"
	"github.com/cubefs/docdb/util"
)

func testFS(t *testing.T) *store.FS {
	t.Helper()
	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	fs, err := store.NewFS(dir)
	require.NoError(t, err)
	return fs
}

func doc(t *testing.T, raw string) *proto.Value {
	t.Helper()
	v, err := proto.DecodeValue([]byte(raw))
	require.NoError(t, err)
	return v
}

func TestCollectionInsertFind(t *testing.T) {
	ctx := context.Background()
	coll, err := OpenCollection(ctx, testFS(t), "users", false)
	require.NoError(t, err)

	id, err := coll.Insert(ctx, doc(t, `{"name":"Alice","age":25}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	res, err := coll.Find(ctx, doc(t, `{"name":"Alice"}`))
	require.NoError(t, err)
	require.Len(t, res, 1)
	got, ok := res[0].Field(proto.IDField)
	require.True(t, ok)
	require.Equal(t, id, got.String())

	_, err = coll.Insert(ctx, proto.Number(5))
	require.ErrorIs(t, err, apierrors.ErrInvalidDocument)

	_, err = coll.Find(ctx, nil)
	require.ErrorIs(t, err, apierrors.ErrMissingQuery)
}

func TestCollectionIDsUnique(t *testing.T) {
	ctx := context.Background()
	coll, err := OpenCollection(ctx, testFS(t), "users", false)
	require.NoError(t, err)

	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		id, err := coll.Insert(ctx, doc(t, `{"n":1}`))
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
	require.Equal(t, 200, coll.Len())
}

func TestCreateIndexKindSelection(t *testing.T) {
	ctx := context.Background()
	coll, err := OpenCollection(ctx, testFS(t), "users", false)
	require.NoError(t, err)

	_, err = coll.Insert(ctx, doc(t, `{"name":"Alice","age":25}`))
	require.NoError(t, err)
	_, err = coll.Insert(ctx, doc(t, `{"name":"Bob","age":31}`))
	require.NoError(t, err)

	require.NoError(t, coll.CreateIndex(ctx, "name"))
	require.True(t, coll.HasHash("name"))
	require.False(t, coll.HasBTree("name"))

	require.NoError(t, coll.CreateIndex(ctx, "age"))
	require.True(t, coll.HasBTree("age"))
	require.False(t, coll.HasHash("age"))

	require.ErrorIs(t, coll.CreateIndex(ctx, ""), apierrors.ErrMissingField)
}

func TestIndexMaintainedOnInsertAndDelete(t *testing.T) {
	ctx := context.Background()
	coll, err := OpenCollection(ctx, testFS(t), "users", false)
	require.NoError(t, err)

	require.NoError(t, coll.CreateIndex(ctx, "name"))

	_, err = coll.Insert(ctx, doc(t, `{"name":"A"}`))
	require.NoError(t, err)
	_, err = coll.Insert(ctx, doc(t, `{"name":"B"}`))
	require.NoError(t, err)

	res, err := coll.Find(ctx, doc(t, `{"name":"A"}`))
	require.NoError(t, err)
	require.Len(t, res, 1)

	cnt, err := coll.Delete(ctx, doc(t, `{"name":"A"}`))
	require.NoError(t, err)
	require.Equal(t, 1, cnt)

	res, err = coll.Find(ctx, doc(t, `{"name":"A"}`))
	require.NoError(t, err)
	require.Empty(t, res)

	res, err = coll.Find(ctx, doc(t, `{"name":"B"}`))
	require.NoError(t, err)
	require.Len(t, res, 1)
}

func TestBTreeRangeQuery(t *testing.T) {
	ctx := context.Background()
	coll, err := OpenCollection(ctx, testFS(t), "nums", false)
	require.NoError(t, err)

	for v := 1; v <= 4; v++ {
		_, err = coll.Insert(ctx, doc(t, fmt.Sprintf(`{"v":%d}`, v)))
		require.NoError(t, err)
	}
	require.NoError(t, coll.CreateIndex(ctx, "v"))

	res, err := coll.Find(ctx, doc(t, `{"v":{"$gt":1,"$lt":4}}`))
	require.NoError(t, err)
	require.Len(t, res, 2)
	// ascending by key
	v0, _ := res[0].Field("v")
	v1, _ := res[1].Field("v")
	require.Equal(t, 2.0, v0.Number())
	require.Equal(t, 3.0, v1.Number())

	res, err = coll.Find(ctx, doc(t, `{"v":{"$gt":2}}`))
	require.NoError(t, err)
	require.Len(t, res, 2)

	res, err = coll.Find(ctx, doc(t, `{"v":{"$lt":2}}`))
	require.NoError(t, err)
	require.Len(t, res, 1)

	res, err = coll.Find(ctx, doc(t, `{"v":{"$eq":3}}`))
	require.NoError(t, err)
	require.Len(t, res, 1)
}

func TestMixedTypeFieldFallsBackToScan(t *testing.T) {
	ctx := context.Background()
	coll, err := OpenCollection(ctx, testFS(t), "mixed", false)
	require.NoError(t, err)

	_, err = coll.Insert(ctx, doc(t, `{"x":1}`))
	require.NoError(t, err)
	_, err = coll.Insert(ctx, doc(t, `{"x":"one"}`))
	require.NoError(t, err)

	// one numeric occurrence is enough for a B-tree
	require.NoError(t, coll.CreateIndex(ctx, "x"))
	require.True(t, coll.HasBTree("x"))

	res, err := coll.Find(ctx, doc(t, `{"x":"one"}`))
	require.NoError(t, err)
	require.Len(t, res, 1)

	res, err = coll.Find(ctx, doc(t, `{"x":{"$eq":1}}`))
	require.NoError(t, err)
	require.Len(t, res, 1)
}

func TestCommittedEmptyIndexResult(t *testing.T) {
	ctx := context.Background()
	coll, err := OpenCollection(ctx, testFS(t), "nums", false)
	require.NoError(t, err)

	_, err = coll.Insert(ctx, doc(t, `{"v":1}`))
	require.NoError(t, err)
	require.NoError(t, coll.CreateIndex(ctx, "v"))

	res, err := coll.Find(ctx, doc(t, `{"v":{"$eq":99}}`))
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestPlannerEquivalence(t *testing.T) {
	ctx := context.Background()
	indexed, err := OpenCollection(ctx, testFS(t), "a", false)
	require.NoError(t, err)
	plain, err := OpenCollection(ctx, testFS(t), "b", false)
	require.NoError(t, err)

	rows := []string{
		`{"v":1,"name":"a"}`, `{"v":2,"name":"b"}`, `{"v":2,"name":"c"}`,
		`{"v":3,"name":"a"}`, `{"name":"d"}`, `{"v":"str","name":"e"}`,
	}
	for _, r := range rows {
		_, err = indexed.Insert(ctx, doc(t, r))
		require.NoError(t, err)
		_, err = plain.Insert(ctx, doc(t, r))
		require.NoError(t, err)
	}
	require.NoError(t, indexed.CreateIndex(ctx, "v"))
	require.NoError(t, indexed.CreateIndex(ctx, "name"))

	queries := []string{
		`{"v":{"$eq":2}}`, `{"v":{"$gt":1}}`, `{"v":{"$lt":3}}`,
		`{"v":{"$gt":1,"$lt":3}}`, `{"name":"a"}`, `{"name":{"$in":["a","d"]}}`,
		`{"name":{"$eq":"e"}}`, `{"v":{"$eq":99}}`,
	}
	for _, q := range queries {
		a, err := indexed.Find(ctx, doc(t, q))
		require.NoError(t, err)
		b, err := plain.Find(ctx, doc(t, q))
		require.NoError(t, err)
		require.Equal(t, len(b), len(a), "query %s", q)

		// same multiset of names, order aside
		count := func(res []*proto.Value) map[string]int {
			m := map[string]int{}
			for _, d := range res {
				if n, ok := d.Field("name"); ok {
					m[n.String()]++
				}
			}
			return m
		}
		require.Equal(t, count(b), count(a), "query %s", q)
	}
}

func TestIndexFidelityAfterChurn(t *testing.T) {
	ctx := context.Background()
	coll, err := OpenCollection(ctx, testFS(t), "churn", false)
	require.NoError(t, err)

	require.NoError(t, coll.CreateIndex(ctx, "tag"))

	for i := 0; i < 50; i++ {
		_, err = coll.Insert(ctx, doc(t, fmt.Sprintf(`{"tag":"t%d"}`, i%5)))
		require.NoError(t, err)
	}
	cnt, err := coll.Delete(ctx, doc(t, `{"tag":"t0"}`))
	require.NoError(t, err)
	require.Equal(t, 10, cnt)

	// indexed lookups agree with a scan for every remaining tag
	for i := 0; i < 5; i++ {
		q := doc(t, fmt.Sprintf(`{"tag":"t%d"}`, i))
		res, err := coll.Find(ctx, q)
		require.NoError(t, err)

		scanned := 0
		all, err := coll.Find(ctx, doc(t, `{}`))
		require.NoError(t, err)
		for _, d := range all {
			if tag, ok := d.Field("tag"); ok && tag.String() == fmt.Sprintf("t%d", i) {
				scanned++
			}
		}
		require.Equal(t, scanned, len(res), "tag t%d", i)
	}
	require.Equal(t, 40, coll.Len())
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := testFS(t)

	coll, err := OpenCollection(ctx, fs, "users", false)
	require.NoError(t, err)

	_, err = coll.Insert(ctx, doc(t, `{"name":"Alice","age":25}`))
	require.NoError(t, err)
	_, err = coll.Insert(ctx, doc(t, `{"name":"Bob","age":31}`))
	require.NoError(t, err)
	require.NoError(t, coll.CreateIndex(ctx, "name"))
	require.NoError(t, coll.CreateIndex(ctx, "age"))
	_, err = coll.Delete(ctx, doc(t, `{"name":"Bob"}`))
	require.NoError(t, err)
	require.NoError(t, coll.Save(ctx))

	// a second save of a clean collection is a no-op
	require.False(t, coll.Dirty())
	require.NoError(t, coll.Save(ctx))

	reopened, err := OpenCollection(ctx, fs, "users", false)
	require.NoError(t, err)
	require.Equal(t, 1, reopened.Len())
	require.True(t, reopened.HasHash("name"))
	require.True(t, reopened.HasBTree("age"))

	res, err := reopened.Find(ctx, doc(t, `{"name":"Alice"}`))
	require.NoError(t, err)
	require.Len(t, res, 1)

	res, err = reopened.Find(ctx, doc(t, `{"name":"Bob"}`))
	require.NoError(t, err)
	require.Empty(t, res)

	res, err = reopened.Find(ctx, doc(t, `{"age":{"$gt":20}}`))
	require.NoError(t, err)
	require.Len(t, res, 1)
}

func TestCorruptArtifactSurfacesEngineError(t *testing.T) {
	ctx := context.Background()
	fs := testFS(t)

	require.NoError(t, fs.WriteArtifact(store.CollectionArtifact("bad"), []byte(`{"id": [broken`)))
	_, err := OpenCollection(ctx, fs, "bad", false)
	require.Error(t, err)
	require.Equal(t, apierrors.KindEngine, apierrors.KindOf(err))

	require.NoError(t, fs.WriteArtifact(store.CollectionArtifact("badidx"), []byte(`{}`)))
	require.NoError(t, fs.WriteArtifact(store.BTreeIndexArtifact("badidx", "v"), []byte(`{"leaf":true,"keys":[1],"ids":[]}`)))
	_, err = OpenCollection(ctx, fs, "badidx", false)
	require.ErrorIs(t, err, apierrors.ErrPersistenceCorrupt)
}

func TestCatalogMaterialiseOnce(t *testing.T) {
	ctx := context.Background()
	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cat, err := NewCatalog(ctx, &Config{Path: dir})
	require.NoError(t, err)

	a, err := cat.GetCollection(ctx, "users")
	require.NoError(t, err)
	b, err := cat.GetCollection(ctx, "users")
	require.NoError(t, err)
	require.Same(t, a, b)

	_, err = a.Insert(ctx, doc(t, `{"name":"Alice"}`))
	require.NoError(t, err)
	require.NoError(t, cat.Close(ctx))

	// a fresh catalog over the same directory sees the saved state
	cat2, err := NewCatalog(ctx, &Config{Path: dir})
	require.NoError(t, err)
	c, err := cat2.GetCollection(ctx, "users")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
}

func TestPlannerParityFallsBackToScan(t *testing.T) {
	ctx := context.Background()
	coll, err := OpenCollection(ctx, testFS(t), "nums", true)
	require.NoError(t, err)

	_, err = coll.Insert(ctx, doc(t, `{"v":1}`))
	require.NoError(t, err)
	require.NoError(t, coll.CreateIndex(ctx, "v"))

	// an empty index result triggers the historical scan fallback,
	// which still finds nothing here
	res, err := coll.Find(ctx, doc(t, `{"v":{"$eq":99}}`))
	require.NoError(t, err)
	require.Empty(t, res)

	res, err = coll.Find(ctx, doc(t, `{"v":{"$eq":1}}`))
	require.NoError(t, err)
	require.Len(t, res, 1)
}
