// Package catalog owns the open collections of one database
// directory: materialisation on first reference, the registry, and
// flush on shutdown.
package catalog

import (
	"context"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/singleflight"

	"github.com/cubefs/docdb/store"
)

type Config struct {
	Path string `json:"path"`

	// PlannerParity restores the historical planner behaviour where an
	// empty B-tree result fell back to a full scan instead of being
	// authoritative.
	PlannerParity bool `json:"planner_parity"`
}

type Catalog struct {
	cfg *Config
	fs  *store.FS

	mu          sync.Mutex
	collections map[string]*Collection
	singleRun   singleflight.Group
}

func NewCatalog(ctx context.Context, cfg *Config) (*Catalog, error) {
	if cfg.Path == "" {
		cfg.Path = "./run/db"
	}
	fs, err := store.NewFS(cfg.Path)
	if err != nil {
		return nil, err
	}
	return &Catalog{
		cfg:         cfg,
		fs:          fs,
		collections: make(map[string]*Collection),
	}, nil
}

// GetCollection returns the resident collection, materialising it once
// on first reference. The registry mutex covers only lookup and
// insertion; artifact I/O runs outside it under singleflight.
func (c *Catalog) GetCollection(ctx context.Context, name string) (*Collection, error) {
	c.mu.Lock()
	coll, ok := c.collections[name]
	c.mu.Unlock()
	if ok {
		return coll, nil
	}

	v, err, _ := c.singleRun.Do(name, func() (interface{}, error) {
		coll, err := OpenCollection(ctx, c.fs, name, c.cfg.PlannerParity)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.collections[name] = coll
		c.mu.Unlock()
		return coll, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Collection), nil
}

// Collections snapshots the resident collections.
func (c *Catalog) Collections() []*Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make([]*Collection, 0, len(c.collections))
	for _, coll := range c.collections {
		ret = append(ret, coll)
	}
	return ret
}

// Close flushes every dirty collection. The first failure is returned
// after the remaining collections still got their chance to persist.
func (c *Catalog) Close(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)

	var firstErr error
	for _, coll := range c.Collections() {
		if err := coll.Save(ctx); err != nil {
			span.Errorf("save collection %s failed: %s", coll.Name(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
