package catalog

import (
	"context"
	"os"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/cubefs/docdb/errors"
	"github.com/cubefs/docdb/index"
	"github.com/cubefs/docdb/proto"
	"github.com/cubefs/docdb/query"
	"github.com/cubefs/docdb/store"
	"github.com/cubefs/docdb/util"
)

// Collection composes one primary store with the hash and B-tree index
// registries of a named document container. It carries no internal
// locking; callers serialise access through the per-collection gate.
type Collection struct {
	name string
	fs   *store.FS

	docs  *store.Store
	hash  map[string]*index.Hash
	btree map[string]*index.BTree

	dirty  bool
	parity bool
}

// OpenCollection materialises a collection from its on-disk artifacts,
// starting empty when none exist yet.
func OpenCollection(ctx context.Context, fs *store.FS, name string, parity bool) (*Collection, error) {
	c := &Collection{
		name:   name,
		fs:     fs,
		docs:   store.New(),
		hash:   make(map[string]*index.Hash),
		btree:  make(map[string]*index.BTree),
		parity: parity,
	}
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Len() int { return c.docs.Len() }

func (c *Collection) Dirty() bool { return c.dirty }

func (c *Collection) HasBTree(field string) bool {
	_, ok := c.btree[field]
	return ok
}

func (c *Collection) HasHash(field string) bool {
	_, ok := c.hash[field]
	return ok
}

// Insert assigns a fresh identifier, stores the document, and updates
// every index whose field the document carries.
func (c *Collection) Insert(ctx context.Context, doc *proto.Value) (string, error) {
	if doc == nil || !doc.IsObject() {
		return "", apierrors.ErrInvalidDocument
	}

	id := util.GenID()
	doc.SetField(proto.IDField, proto.String(id))
	c.docs.Put(id, doc)

	for field, h := range c.hash {
		if v, ok := doc.Field(field); ok {
			h.Add(v, id)
		}
	}
	for field, bt := range c.btree {
		if v, ok := doc.Field(field); ok && v.IsNumber() {
			bt.Insert(v.Number(), id)
		}
	}

	c.dirty = true
	return id, nil
}

// Find evaluates a query, through an index when the planner commits to
// one and by a full scan otherwise.
func (c *Collection) Find(ctx context.Context, q *proto.Value) ([]*proto.Value, error) {
	if q == nil {
		return nil, apierrors.ErrMissingQuery
	}

	plan := query.Analyze(q, c)
	res := c.execute(plan, q)

	// historical planner behaviour: an empty index result does not
	// commit and falls back to scanning
	if c.parity && len(res) == 0 && (plan.Kind == query.PlanBTreeEq || plan.Kind == query.PlanBTreeRange) {
		res = c.execute(query.Plan{Kind: query.PlanScan}, q)
	}
	return res, nil
}

func (c *Collection) execute(plan query.Plan, q *proto.Value) []*proto.Value {
	var ids []string
	switch plan.Kind {
	case query.PlanBTreeEq:
		ids = c.btree[plan.Field].Search(plan.Eq)
	case query.PlanBTreeRange:
		ids = c.btree[plan.Field].Range(plan.Low, plan.High, plan.IncludeLow, plan.IncludeHigh)
	case query.PlanHashKeys:
		h := c.hash[plan.Field]
		seen := make(map[string]struct{})
		for _, key := range plan.Keys {
			for _, id := range h.Lookup(key) {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
	default:
		var res []*proto.Value
		for _, it := range c.docs.Items() {
			if query.Matches(it.Doc, q) {
				res = append(res, it.Doc)
			}
		}
		return res
	}

	res := make([]*proto.Value, 0, len(ids))
	for _, id := range ids {
		if d, ok := c.docs.Get(id); ok {
			res = append(res, d)
		}
	}
	return res
}

// Delete removes every document matching the query together with its
// index contributions. It reports how many documents went away.
func (c *Collection) Delete(ctx context.Context, q *proto.Value) (int, error) {
	found, err := c.Find(ctx, q)
	if err != nil {
		return 0, err
	}

	cnt := 0
	for _, d := range found {
		idVal, ok := d.Field(proto.IDField)
		if !ok || !idVal.IsString() {
			continue
		}
		id := idVal.String()
		if !c.docs.Remove(id) {
			continue
		}
		cnt++

		for field, h := range c.hash {
			if v, ok := d.Field(field); ok {
				h.Remove(v, id)
			}
		}
		for field, bt := range c.btree {
			if v, ok := d.Field(field); ok && v.IsNumber() {
				bt.Remove(v.Number(), id)
			}
		}
	}

	if cnt > 0 {
		c.dirty = true
	}
	return cnt, nil
}

// CreateIndex scans the store once and builds a B-tree index when the
// field is numeric anywhere, a hash index otherwise. Non-numeric
// documents stay invisible to a B-tree index; the planner covers them
// through the fallback scan.
func (c *Collection) CreateIndex(ctx context.Context, field string) error {
	if field == "" {
		return apierrors.ErrMissingField
	}
	span := trace.SpanFromContextSafe(ctx)

	items := c.docs.Items()
	numeric := false
	for _, it := range items {
		if v, ok := it.Doc.Field(field); ok && v.IsNumber() {
			numeric = true
			break
		}
	}

	if numeric {
		bt := index.NewBTree(index.DefaultDegree)
		for _, it := range items {
			if v, ok := it.Doc.Field(field); ok && v.IsNumber() {
				bt.Insert(v.Number(), it.ID)
			}
		}
		c.btree[field] = bt
		span.Infof("b-tree index created on numeric field %s of %s", field, c.name)
	} else {
		h := index.NewHash()
		for _, it := range items {
			if v, ok := it.Doc.Field(field); ok {
				h.Add(v, it.ID)
			}
		}
		c.hash[field] = h
		span.Infof("hash index created on field %s of %s", field, c.name)
	}

	c.dirty = true
	return nil
}

// Save rewrites the collection artifact and every index artifact. A
// clean collection is left untouched.
func (c *Collection) Save(ctx context.Context) error {
	if !c.dirty {
		return nil
	}

	data, err := c.docs.Encode()
	if err != nil {
		return apierrors.WithCause(apierrors.KindEngine, err, "encode collection "+c.name)
	}
	if err := c.fs.WriteArtifact(store.CollectionArtifact(c.name), data); err != nil {
		return apierrors.WithCause(apierrors.KindEngine, err, "persist collection "+c.name)
	}

	for field, h := range c.hash {
		data, err := h.Encode()
		if err != nil {
			return apierrors.WithCause(apierrors.KindEngine, err, "encode index "+field)
		}
		if err := c.fs.WriteArtifact(store.HashIndexArtifact(c.name, field), data); err != nil {
			return apierrors.WithCause(apierrors.KindEngine, err, "persist index "+field)
		}
	}
	for field, bt := range c.btree {
		data, err := bt.Encode()
		if err != nil {
			return apierrors.WithCause(apierrors.KindEngine, err, "encode btree index "+field)
		}
		if err := c.fs.WriteArtifact(store.BTreeIndexArtifact(c.name, field), data); err != nil {
			return apierrors.WithCause(apierrors.KindEngine, err, "persist btree index "+field)
		}
	}

	c.dirty = false
	return nil
}

func (c *Collection) load(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)

	data, err := c.fs.ReadArtifact(store.CollectionArtifact(c.name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apierrors.WithCause(apierrors.KindEngine, err, "read collection "+c.name)
	}
	docs, err := store.Decode(data)
	if err != nil {
		return err
	}
	c.docs = docs

	artifacts, err := c.fs.ListIndexArtifacts(c.name)
	if err != nil {
		return apierrors.WithCause(apierrors.KindEngine, err, "list indexes of "+c.name)
	}
	for _, a := range artifacts {
		data, err := c.fs.ReadArtifact(a.Name)
		if err != nil {
			return apierrors.WithCause(apierrors.KindEngine, err, "read index artifact "+a.Name)
		}
		if a.BTree {
			bt, err := index.DecodeBTree(data)
			if err != nil {
				return err
			}
			c.btree[a.Field] = bt
		} else {
			h, err := index.DecodeHash(data)
			if err != nil {
				return err
			}
			c.hash[a.Field] = h
		}
	}

	span.Debugf("collection %s loaded: %d documents, %d hash indexes, %d btree indexes",
		c.name, c.docs.Len(), len(c.hash), len(c.btree))
	return nil
}
