package agent

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/docdb/catalog"
	"github.com/cubefs/docdb/client"
	"github.com/cubefs/docdb/proto"
	"github.com/cubefs/docdb/server"
	"github.com/cubefs/docdb/util"
)

func startServer(t *testing.T) string {
	t.Helper()
	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := server.NewServer(context.Background(), &server.Config{
		CatalogConfig: catalog.Config{Path: dir},
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	require.NoError(t, s.Serve(addr))
	t.Cleanup(s.Stop)
	return addr
}

func TestSenderDeliversBatches(t *testing.T) {
	addr := startServer(t)

	buffer, err := NewBuffer(BufferConfig{})
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		buffer.Add(NewEvent("auth.log", "alert", "failed login").Document())
	}

	sender := NewSender(&SenderConfig{Address: addr, BatchSize: 3}, buffer)
	sender.Start()
	defer sender.Stop()

	cli, err := client.NewClient(&client.Config{Address: addr})
	require.NoError(t, err)
	defer cli.Close()

	q, err := proto.DecodeValue([]byte(`{"severity":"alert"}`))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		docs, err := cli.Find(context.Background(), "security_events", q)
		return err == nil && len(docs) == 7
	}, 10*time.Second, 100*time.Millisecond)
}

func TestSenderRetriesAfterServerComesUp(t *testing.T) {
	// reserve an address that nothing listens on yet
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	buffer, err := NewBuffer(BufferConfig{})
	require.NoError(t, err)
	buffer.Add(NewEvent("sys.log", "info", "boot").Document())

	sender := NewSender(&SenderConfig{Address: addr, BatchSize: 1, RetryDelayMs: 100, MaxRetries: 30}, buffer)
	sender.Start()
	defer sender.Stop()

	// give the sender a head start so the first attempts fail
	time.Sleep(300 * time.Millisecond)

	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	s, err := server.NewServer(context.Background(), &server.Config{
		CatalogConfig: catalog.Config{Path: dir},
	})
	require.NoError(t, err)
	require.NoError(t, s.Serve(addr))
	t.Cleanup(s.Stop)

	cli, err := client.NewClient(&client.Config{Address: addr})
	require.NoError(t, err)
	defer cli.Close()

	q, err := proto.DecodeValue([]byte(`{}`))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		docs, err := cli.Find(context.Background(), "security_events", q)
		return err == nil && len(docs) == 1
	}, 15*time.Second, 200*time.Millisecond)
}

func TestAgentPipeline(t *testing.T) {
	addr := startServer(t)

	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	logFile := dir + "/audit.log"
	require.NoError(t, os.WriteFile(logFile, []byte("sshd: accepted publickey\nsshd: session opened\n"), 0o644))

	ag, err := NewAgent(&Config{
		CollectorConfig: CollectorConfig{
			Files:          []string{logFile},
			PositionFile:   dir + "/positions.json",
			PollIntervalMs: 50,
		},
		SenderConfig: SenderConfig{Address: addr, BatchSize: 2},
	})
	require.NoError(t, err)
	ag.Start()
	defer ag.Stop()

	cli, err := client.NewClient(&client.Config{Address: addr})
	require.NoError(t, err)
	defer cli.Close()

	q, err := proto.DecodeValue([]byte(`{"source":"` + logFile + `"}`))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		docs, err := cli.Find(context.Background(), "security_events", q)
		return err == nil && len(docs) == 2
	}, 10*time.Second, 100*time.Millisecond)
}
