package agent

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/taskpool"
)

const (
	defaultPollIntervalMs = 1000
	collectorPoolSize     = 8
)

type CollectorConfig struct {
	Files          []string `json:"files"`
	PositionFile   string   `json:"position_file"`
	PollIntervalMs uint32   `json:"poll_interval_ms"`
	Severity       string   `json:"severity"`
}

// Collector polls the watched files and feeds parsed events into the
// buffer. One tail task per file runs on the pool each tick; the tick
// waits for all of them before persisting positions.
type Collector struct {
	cfg       *CollectorConfig
	parser    Parser
	buffer    *Buffer
	positions *Positions
	taskPool  taskpool.TaskPool

	done chan struct{}
	wg   sync.WaitGroup
}

func NewCollector(cfg *CollectorConfig, parser Parser, buffer *Buffer) (*Collector, error) {
	if cfg.PollIntervalMs == 0 {
		cfg.PollIntervalMs = defaultPollIntervalMs
	}
	if cfg.PositionFile == "" {
		cfg.PositionFile = "./run/agent/positions.json"
	}
	if err := os.MkdirAll(dirOf(cfg.PositionFile), 0o755); err != nil {
		return nil, err
	}
	positions, err := NewPositions(cfg.PositionFile)
	if err != nil {
		return nil, err
	}
	if parser == nil {
		parser = &RawParser{Severity: cfg.Severity}
	}
	return &Collector{
		cfg:       cfg,
		parser:    parser,
		buffer:    buffer,
		positions: positions,
		taskPool:  taskpool.New(collectorPoolSize, collectorPoolSize),
		done:      make(chan struct{}),
	}, nil
}

func dirOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return "."
}

func (c *Collector) Start() {
	c.wg.Add(1)
	go c.loop()
}

func (c *Collector) Stop() {
	close(c.done)
	c.wg.Wait()
	c.taskPool.Close()
	c.positions.Save()
}

func (c *Collector) loop() {
	defer c.wg.Done()
	span, ctx := trace.StartSpanFromContext(context.Background(), "collector")

	ticker := time.NewTicker(time.Duration(c.cfg.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			var tick sync.WaitGroup
			for _, path := range c.cfg.Files {
				path := path
				tick.Add(1)
				c.taskPool.Run(func() {
					defer tick.Done()
					c.pollFile(ctx, path)
				})
			}
			tick.Wait()
			if err := c.positions.Save(); err != nil {
				span.Warnf("save positions failed: %s", err)
			}
		}
	}
}

// pollFile reads lines appended since the recorded position. Rotation
// and truncation restart from zero; a trailing partial line stays
// unconsumed until its newline arrives.
func (c *Collector) pollFile(ctx context.Context, path string) {
	span := trace.SpanFromContextSafe(ctx)

	fi, err := os.Stat(path)
	if err != nil {
		return
	}
	inode := inodeOf(fi)
	mod := fi.ModTime().Unix()

	pos, known := c.positions.Get(path)
	offset := pos.Position
	if !known || pos.Inode != inode || fi.Size() < offset {
		offset = 0
	}
	if fi.Size() == offset && known && pos.Modification == mod {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		span.Warnf("open %s failed: %s", path, err)
		return
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return
	}

	br := bufio.NewReader(f)
	consumed := offset
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			break
		}
		consumed += int64(len(line))
		if ev, ok := c.parser.Parse(path, strings.TrimRight(line, "\r\n")); ok {
			c.buffer.Add(ev.Document())
		}
	}

	c.positions.Set(path, Position{Inode: inode, Position: consumed, Modification: mod})
}
