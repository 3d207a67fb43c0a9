package index

import (
	"sort"

	"github.com/buger/jsonparser"

	apierrors "github.com/cubefs/docdb/errors"
	"github.com/cubefs/docdb/proto"
)

// Hash maps value-keys to ordered identifier lists. The collection
// invariant guarantees one document contributes at most one entry per
// key, so Remove drops the first occurrence only.
type Hash struct {
	slots map[string][]string
}

func NewHash() *Hash {
	return &Hash{slots: make(map[string][]string)}
}

func (h *Hash) Add(v *proto.Value, id string) {
	key := KeyForValue(v)
	h.slots[key] = append(h.slots[key], id)
}

// Remove deletes the first occurrence of id under the value-key and
// drops the slot once its list empties.
func (h *Hash) Remove(v *proto.Value, id string) {
	key := KeyForValue(v)
	ids, ok := h.slots[key]
	if !ok {
		return
	}
	for i, cur := range ids {
		if cur == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(h.slots, key)
		return
	}
	h.slots[key] = ids
}

func (h *Hash) Lookup(v *proto.Value) []string {
	return h.slots[KeyForValue(v)]
}

func (h *Hash) Len() int { return len(h.slots) }

// Encode renders the index as an object mapping value-key to an array
// of identifiers.
func (h *Hash) Encode() ([]byte, error) {
	keys := make([]string, 0, len(h.slots))
	for k := range h.slots {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	members := make([]proto.Member, 0, len(keys))
	for _, k := range keys {
		ids := h.slots[k]
		elems := make([]*proto.Value, 0, len(ids))
		for _, id := range ids {
			elems = append(elems, proto.String(id))
		}
		members = append(members, proto.Member{Key: k, Value: proto.Array(elems...)})
	}
	return proto.Object(members...).MarshalJSON()
}

func DecodeHash(data []byte) (*Hash, error) {
	h := NewHash()
	err := jsonparser.ObjectEach(data, func(key, elem []byte, vt jsonparser.ValueType, _ int) error {
		k, err := jsonparser.ParseString(key)
		if err != nil {
			return err
		}
		if vt != jsonparser.Array {
			return apierrors.ErrPersistenceCorrupt
		}
		var ids []string
		var inner error
		_, err = jsonparser.ArrayEach(elem, func(idRaw []byte, it jsonparser.ValueType, _ int, errCb error) {
			if inner != nil {
				return
			}
			if errCb != nil {
				inner = errCb
				return
			}
			if it != jsonparser.String {
				inner = apierrors.ErrPersistenceCorrupt
				return
			}
			id, err := jsonparser.ParseString(idRaw)
			if err != nil {
				inner = err
				return
			}
			ids = append(ids, id)
		})
		if err != nil {
			return err
		}
		if inner != nil {
			return inner
		}
		h.slots[k] = ids
		return nil
	})
	if err != nil {
		return nil, apierrors.WithCause(apierrors.KindEngine, err, "persisted state corrupted")
	}
	return h, nil
}
