package agent

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/google/uuid"

	"github.com/cubefs/docdb/proto"
)

const defaultMaxMemoryEvents = 1000

type BufferConfig struct {
	MaxMemoryEvents int    `json:"max_memory_events"`
	DiskBackup      bool   `json:"disk_backup"`
	DiskPath        string `json:"disk_path"`
}

// Buffer queues rendered event documents between the collector and the
// sender. When the memory bound is exceeded and disk backup is on, the
// whole buffer spills to a dump file which is reloaded on startup.
type Buffer struct {
	cfg BufferConfig

	mu      sync.Mutex
	events  []*proto.Value
	notifyC chan struct{}
}

func NewBuffer(cfg BufferConfig) (*Buffer, error) {
	if cfg.MaxMemoryEvents <= 0 {
		cfg.MaxMemoryEvents = defaultMaxMemoryEvents
	}
	b := &Buffer{cfg: cfg, notifyC: make(chan struct{}, 1)}
	if cfg.DiskBackup {
		if err := os.MkdirAll(cfg.DiskPath, 0o755); err != nil {
			return nil, err
		}
		b.loadFromDisk()
	}
	return b, nil
}

func (b *Buffer) Add(doc *proto.Value) {
	b.mu.Lock()
	b.events = append(b.events, doc)
	if len(b.events) > b.cfg.MaxMemoryEvents && b.cfg.DiskBackup {
		b.saveToDiskLocked()
		b.events = b.events[:0]
	}
	b.mu.Unlock()

	select {
	case b.notifyC <- struct{}{}:
	default:
	}
}

// GetBatch returns up to batchSize events, waiting up to one second
// for a full batch before settling for what is there.
func (b *Buffer) GetBatch(ctx context.Context, batchSize int) []*proto.Value {
	b.mu.Lock()
	if len(b.events) < batchSize {
		timer := time.NewTimer(time.Second)
		defer timer.Stop()
	wait:
		for len(b.events) < batchSize {
			b.mu.Unlock()
			select {
			case <-b.notifyC:
				b.mu.Lock()
			case <-timer.C:
				b.mu.Lock()
				break wait
			case <-ctx.Done():
				return nil
			}
		}
	}
	defer b.mu.Unlock()

	count := batchSize
	if len(b.events) < count {
		count = len(b.events)
	}
	if count == 0 {
		return nil
	}
	batch := make([]*proto.Value, count)
	copy(batch, b.events[:count])
	b.events = append(b.events[:0], b.events[count:]...)
	return batch
}

func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Flush spills whatever is left to disk, for shutdown.
func (b *Buffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.DiskBackup && len(b.events) > 0 {
		b.saveToDiskLocked()
		b.events = b.events[:0]
	}
}

func (b *Buffer) saveToDiskLocked() {
	name := filepath.Join(b.cfg.DiskPath,
		"buffer_"+time.Now().UTC().Format("20060102_150405")+"_"+uuid.NewString()[:8]+".json")
	data, err := proto.Array(b.events...).MarshalJSON()
	if err != nil {
		log.Errorf("encode buffer dump failed: %s", err)
		return
	}
	if err := os.WriteFile(name, data, 0o644); err != nil {
		log.Errorf("save buffer to disk failed: %s", err)
		return
	}
	log.Infof("saved %d events to %s", len(b.events), name)
}

func (b *Buffer) loadFromDisk() {
	entries, err := os.ReadDir(b.cfg.DiskPath)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "buffer_") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(b.cfg.DiskPath, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		v, err := proto.DecodeValue(data)
		if err != nil || !v.IsArray() {
			log.Warnf("skipping corrupt buffer dump %s", name)
			continue
		}
		b.events = append(b.events, v.Elems()...)
		os.Remove(path)
	}
	if len(b.events) > 0 {
		log.Infof("loaded %d buffered events from disk", len(b.events))
	}
}
