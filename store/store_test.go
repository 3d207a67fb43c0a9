package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/docdb/proto"
	"github.com/cubefs/docdb/util"
)

func testDoc(t *testing.T, raw string) *proto.Value {
	t.Helper()
	v, err := proto.DecodeValue([]byte(raw))
	require.NoError(t, err)
	return v
}

func TestStoreBasics(t *testing.T) {
	s := New()
	require.Equal(t, 0, s.Len())

	s.Put("a", testDoc(t, `{"x":1}`))
	s.Put("b", testDoc(t, `{"x":2}`))

	doc, ok := s.Get("a")
	require.True(t, ok)
	x, _ := doc.Field("x")
	require.Equal(t, 1.0, x.Number())

	_, ok = s.Get("missing")
	require.False(t, ok)

	// overwrite keeps a single entry
	s.Put("a", testDoc(t, `{"x":3}`))
	require.Equal(t, 2, s.Len())

	require.True(t, s.Remove("a"))
	require.False(t, s.Remove("a"))
	require.Equal(t, 1, s.Len())
}

func TestStoreItemsSorted(t *testing.T) {
	s := New()
	s.Put("c", testDoc(t, `{}`))
	s.Put("a", testDoc(t, `{}`))
	s.Put("b", testDoc(t, `{}`))

	items := s.Items()
	require.Len(t, items, 3)
	require.Equal(t, "a", items[0].ID)
	require.Equal(t, "b", items[1].ID)
	require.Equal(t, "c", items[2].ID)
}

func TestStoreEncodeDecode(t *testing.T) {
	s := New()
	s.Put("id1", testDoc(t, `{"name":"Alice","age":25}`))
	s.Put("id2", testDoc(t, `{"name":"Bob"}`))

	data, err := s.Encode()
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, 2, back.Len())
	doc, ok := back.Get("id1")
	require.True(t, ok)
	name, _ := doc.Field("name")
	require.Equal(t, "Alice", name.String())

	_, err = Decode([]byte(`{"id1": [1,2,`))
	require.Error(t, err)
}

func TestFSArtifacts(t *testing.T) {
	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	fs, err := NewFS(dir)
	require.NoError(t, err)

	require.NoError(t, fs.WriteArtifact(CollectionArtifact("users"), []byte(`{}`)))
	data, err := fs.ReadArtifact(CollectionArtifact("users"))
	require.NoError(t, err)
	require.Equal(t, `{}`, string(data))

	// the write is tmp plus rename, no temp residue stays behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp")
	}

	_, err = fs.ReadArtifact(CollectionArtifact("missing"))
	require.True(t, os.IsNotExist(err))
}

func TestFSListIndexArtifacts(t *testing.T) {
	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	fs, err := NewFS(dir)
	require.NoError(t, err)

	require.NoError(t, fs.WriteArtifact(HashIndexArtifact("users", "name"), []byte(`{}`)))
	require.NoError(t, fs.WriteArtifact(BTreeIndexArtifact("users", "age"), []byte(`{}`)))
	require.NoError(t, fs.WriteArtifact(HashIndexArtifact("events", "severity"), []byte(`{}`)))

	artifacts, err := fs.ListIndexArtifacts("users")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	fields := map[string]bool{}
	for _, a := range artifacts {
		fields[a.Field] = a.BTree
		require.Equal(t, filepath.Join("indexes", filepath.Base(a.Name)), a.Name)
	}
	require.Equal(t, map[string]bool{"name": false, "age": true}, fields)
}
