package agent

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/docdb/proto"
	"github.com/cubefs/docdb/util"
)

func TestBufferBatching(t *testing.T) {
	b, err := NewBuffer(BufferConfig{})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.Add(NewEvent("test.log", "info", "line").Document())
	}
	require.Equal(t, 5, b.Size())

	batch := b.GetBatch(ctx, 3)
	require.Len(t, batch, 3)
	require.Equal(t, 2, b.Size())

	// fewer events than the batch size arrive after the short wait
	start := time.Now()
	batch = b.GetBatch(ctx, 10)
	require.Len(t, batch, 2)
	require.Less(t, time.Since(start), 3*time.Second)

	// nothing buffered and nothing arriving yields an empty batch
	batch = b.GetBatch(ctx, 10)
	require.Empty(t, batch)
}

func TestBufferCancelledContext(t *testing.T) {
	b, err := NewBuffer(BufferConfig{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Empty(t, b.GetBatch(ctx, 10))
}

func TestBufferSpillAndReload(t *testing.T) {
	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	cfg := BufferConfig{MaxMemoryEvents: 2, DiskBackup: true, DiskPath: dir}
	b, err := NewBuffer(cfg)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		b.Add(NewEvent("test.log", "warn", "overflow").Document())
	}
	// exceeding the memory bound spilled everything to disk
	require.Equal(t, 0, b.Size())

	reloaded, err := NewBuffer(cfg)
	require.NoError(t, err)
	require.Equal(t, 3, reloaded.Size())

	batch := reloaded.GetBatch(context.Background(), 10)
	require.Len(t, batch, 3)
	sev, ok := batch[0].Field("severity")
	require.True(t, ok)
	require.Equal(t, "warn", sev.String())

	// dumps are consumed on reload
	third, err := NewBuffer(cfg)
	require.NoError(t, err)
	require.Equal(t, 0, third.Size())
}

func TestBufferFlush(t *testing.T) {
	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	cfg := BufferConfig{DiskBackup: true, DiskPath: dir}
	b, err := NewBuffer(cfg)
	require.NoError(t, err)
	b.Add(NewEvent("a.log", "info", "x").Document())
	b.Flush()
	require.Equal(t, 0, b.Size())

	reloaded, err := NewBuffer(cfg)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Size())
}

func TestEventDocument(t *testing.T) {
	ev := NewEvent("/var/log/auth.log", "alert", "failed login")
	ev.Fields = append(ev.Fields, proto.Member{Key: "user", Value: proto.String("root")})

	doc := ev.Document()
	require.True(t, doc.IsObject())
	src, _ := doc.Field("source")
	require.Equal(t, "/var/log/auth.log", src.String())
	user, ok := doc.Field("user")
	require.True(t, ok)
	require.Equal(t, "root", user.String())
	id, _ := doc.Field("event_id")
	require.NotEmpty(t, id.String())
}
