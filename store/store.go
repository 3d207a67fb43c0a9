// Package store holds the per-collection primary document store and
// the on-disk artifact layer beneath it.
package store

import (
	"sort"

	"github.com/buger/jsonparser"

	apierrors "github.com/cubefs/docdb/errors"
	"github.com/cubefs/docdb/proto"
)

type Item struct {
	ID  string
	Doc *proto.Value
}

// Store maps document identifiers to documents. The hand-rolled hash
// map of early prototypes carries no design-level semantics, so the
// built-in map serves here; iteration goes through a sorted snapshot
// to keep scan order deterministic between mutations.
type Store struct {
	docs map[string]*proto.Value
}

func New() *Store {
	return &Store{docs: make(map[string]*proto.Value)}
}

func (s *Store) Put(id string, doc *proto.Value) {
	s.docs[id] = doc
}

func (s *Store) Get(id string) (*proto.Value, bool) {
	doc, ok := s.docs[id]
	return doc, ok
}

func (s *Store) Remove(id string) bool {
	if _, ok := s.docs[id]; !ok {
		return false
	}
	delete(s.docs, id)
	return true
}

func (s *Store) Len() int { return len(s.docs) }

func (s *Store) Items() []Item {
	items := make([]Item, 0, len(s.docs))
	for id, doc := range s.docs {
		items = append(items, Item{ID: id, Doc: doc})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// Encode renders the whole store as one object mapping identifier to
// document.
func (s *Store) Encode() ([]byte, error) {
	items := s.Items()
	members := make([]proto.Member, 0, len(items))
	for _, it := range items {
		members = append(members, proto.Member{Key: it.ID, Value: it.Doc})
	}
	return proto.Object(members...).MarshalJSON()
}

// Decode replaces the store contents from a persisted artifact.
func Decode(data []byte) (*Store, error) {
	s := New()
	err := jsonparser.ObjectEach(data, func(key, elem []byte, vt jsonparser.ValueType, _ int) error {
		id, err := jsonparser.ParseString(key)
		if err != nil {
			return err
		}
		doc, err := proto.DecodeValue(elem)
		if err != nil {
			return err
		}
		s.docs[id] = doc
		return nil
	})
	if err != nil {
		return nil, apierrors.WithCause(apierrors.KindEngine, err, "persisted state corrupted")
	}
	return s, nil
}
