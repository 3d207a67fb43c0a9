package index

import (
	"encoding/json"

	apierrors "github.com/cubefs/docdb/errors"
)

// DefaultDegree is the B-tree minimum degree t.
const DefaultDegree = 3

// BTree is an order-t B-tree keyed on doubles, each key carrying the
// identifier list of the documents holding that key. Nodes live in an
// arena and reference each other by dense handles; the arena owns all
// node storage.
type BTree struct {
	t     int
	nodes []btreeNode
	root  int32
}

type btreeNode struct {
	leaf     bool
	keys     []float64
	ids      [][]string
	children []int32
}

func NewBTree(t int) *BTree {
	if t < 2 {
		t = DefaultDegree
	}
	b := &BTree{t: t}
	b.root = b.alloc(true)
	return b
}

func (b *BTree) alloc(leaf bool) int32 {
	b.nodes = append(b.nodes, btreeNode{leaf: leaf})
	return int32(len(b.nodes) - 1)
}

// Insert adds id under key k, splitting full nodes on the way down so
// no descent ever lands in a full node. A duplicate key appends to its
// identifier list in arrival order.
func (b *BTree) Insert(k float64, id string) {
	if len(b.nodes[b.root].keys) == 2*b.t-1 {
		old := b.root
		s := b.alloc(false)
		b.nodes[s].children = append(b.nodes[s].children, old)
		b.root = s
		b.splitChild(s, 0)
	}
	b.insertNonFull(b.root, k, id)
}

// splitChild splits the full i-th child of x around its median key.
// Handles are re-read after alloc since growing the arena may move it.
func (b *BTree) splitChild(x int32, i int) {
	t := b.t
	y := b.nodes[x].children[i]
	z := b.alloc(b.nodes[y].leaf)

	zn := &b.nodes[z]
	yn := &b.nodes[y]
	zn.keys = append(zn.keys, yn.keys[t:]...)
	zn.ids = append(zn.ids, yn.ids[t:]...)
	if !yn.leaf {
		zn.children = append(zn.children, yn.children[t:]...)
		yn.children = yn.children[:t]
	}
	midKey := yn.keys[t-1]
	midIDs := yn.ids[t-1]
	yn.keys = yn.keys[:t-1]
	yn.ids = yn.ids[:t-1]

	xn := &b.nodes[x]
	xn.children = append(xn.children, 0)
	copy(xn.children[i+2:], xn.children[i+1:])
	xn.children[i+1] = z
	xn.keys = append(xn.keys, 0)
	copy(xn.keys[i+1:], xn.keys[i:])
	xn.keys[i] = midKey
	xn.ids = append(xn.ids, nil)
	copy(xn.ids[i+1:], xn.ids[i:])
	xn.ids[i] = midIDs
}

func (b *BTree) insertNonFull(h int32, k float64, id string) {
	for {
		n := &b.nodes[h]
		i := len(n.keys) - 1
		if n.leaf {
			for i >= 0 && k < n.keys[i] {
				i--
			}
			if i >= 0 && n.keys[i] == k {
				n.ids[i] = append(n.ids[i], id)
				return
			}
			pos := i + 1
			n.keys = append(n.keys, 0)
			copy(n.keys[pos+1:], n.keys[pos:])
			n.keys[pos] = k
			n.ids = append(n.ids, nil)
			copy(n.ids[pos+1:], n.ids[pos:])
			n.ids[pos] = []string{id}
			return
		}

		// a key promoted into an internal node keeps its single slot;
		// appending here preserves one slot per key tree-wide
		for i >= 0 && k < n.keys[i] {
			i--
		}
		if i >= 0 && n.keys[i] == k {
			n.ids[i] = append(n.ids[i], id)
			return
		}
		i++
		child := n.children[i]
		if len(b.nodes[child].keys) == 2*b.t-1 {
			b.splitChild(h, i)
			n = &b.nodes[h]
			if k == n.keys[i] {
				n.ids[i] = append(n.ids[i], id)
				return
			}
			if k > n.keys[i] {
				i++
			}
			child = n.children[i]
		}
		h = child
	}
}

// Search returns the identifier list at k, empty when absent.
func (b *BTree) Search(k float64) []string {
	h := b.root
	for {
		n := &b.nodes[h]
		i := 0
		for i < len(n.keys) && k > n.keys[i] {
			i++
		}
		if i < len(n.keys) && k == n.keys[i] {
			return append([]string(nil), n.ids[i]...)
		}
		if n.leaf {
			return nil
		}
		h = n.children[i]
	}
}

// Range collects identifiers with keys inside [low, high] modulated by
// the inclusivity flags, ascending by key, insertion order within one
// key. Use ±Inf for an open side.
func (b *BTree) Range(low, high float64, includeLow, includeHigh bool) []string {
	var out []string
	b.rangeNode(b.root, low, high, includeLow, includeHigh, &out)
	return out
}

func (b *BTree) rangeNode(h int32, low, high float64, includeLow, includeHigh bool, out *[]string) {
	n := &b.nodes[h]
	var i int
	for i = 0; i < len(n.keys); i++ {
		if !n.leaf {
			b.rangeNode(n.children[i], low, high, includeLow, includeHigh, out)
		}
		k := n.keys[i]
		inRange := (k > low || (includeLow && k == low)) && (k < high || (includeHigh && k == high))
		if inRange {
			*out = append(*out, n.ids[i]...)
		}
	}
	if !n.leaf {
		b.rangeNode(n.children[i], low, high, includeLow, includeHigh, out)
	}
}

// Remove deletes the first occurrence of id under k. The key slot
// stays in place even when its list empties; an empty slot contributes
// nothing to searches.
func (b *BTree) Remove(k float64, id string) bool {
	h := b.root
	for {
		n := &b.nodes[h]
		i := 0
		for i < len(n.keys) && k > n.keys[i] {
			i++
		}
		if i < len(n.keys) && k == n.keys[i] {
			for j, cur := range n.ids[i] {
				if cur == id {
					n.ids[i] = append(n.ids[i][:j], n.ids[i][j+1:]...)
					return true
				}
			}
			return false
		}
		if n.leaf {
			return false
		}
		h = n.children[i]
	}
}

type btreeNodeJSON struct {
	Leaf     bool             `json:"leaf"`
	Keys     []float64        `json:"keys"`
	IDs      [][]string       `json:"ids"`
	Children []*btreeNodeJSON `json:"children,omitempty"`
}

// Encode renders the tree as the recursive persisted form, a
// depth-first walk over handles.
func (b *BTree) Encode() ([]byte, error) {
	return json.Marshal(b.encodeNode(b.root))
}

func (b *BTree) encodeNode(h int32) *btreeNodeJSON {
	n := &b.nodes[h]
	j := &btreeNodeJSON{
		Leaf: n.leaf,
		Keys: n.keys,
		IDs:  n.ids,
	}
	if j.Keys == nil {
		j.Keys = []float64{}
	}
	if j.IDs == nil {
		j.IDs = [][]string{}
	}
	if !n.leaf {
		for _, c := range n.children {
			j.Children = append(j.Children, b.encodeNode(c))
		}
	}
	return j
}

// DecodeBTree rebuilds a tree from its persisted form. A shape that
// violates the node invariants surfaces as a persistence-corrupt
// error.
func DecodeBTree(data []byte) (*BTree, error) {
	var root btreeNodeJSON
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, apierrors.WithCause(apierrors.KindEngine, err, "persisted state corrupted")
	}
	b := &BTree{t: DefaultDegree}
	h, err := b.loadNode(&root)
	if err != nil {
		return nil, err
	}
	b.root = h
	return b, nil
}

func (b *BTree) loadNode(j *btreeNodeJSON) (int32, error) {
	if len(j.Keys) != len(j.IDs) {
		return 0, apierrors.ErrPersistenceCorrupt
	}
	if j.Leaf && len(j.Children) != 0 {
		return 0, apierrors.ErrPersistenceCorrupt
	}
	if !j.Leaf && len(j.Children) != len(j.Keys)+1 {
		return 0, apierrors.ErrPersistenceCorrupt
	}
	for i := 1; i < len(j.Keys); i++ {
		if j.Keys[i-1] >= j.Keys[i] {
			return 0, apierrors.ErrPersistenceCorrupt
		}
	}

	h := b.alloc(j.Leaf)
	b.nodes[h].keys = append([]float64(nil), j.Keys...)
	ids := make([][]string, len(j.IDs))
	for i, l := range j.IDs {
		ids[i] = append([]string(nil), l...)
	}
	b.nodes[h].ids = ids

	for _, c := range j.Children {
		ch, err := b.loadNode(c)
		if err != nil {
			return 0, err
		}
		b.nodes[h].children = append(b.nodes[h].children, ch)
	}
	return h, nil
}
