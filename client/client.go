// Package client speaks the line-framed request/response protocol.
// The agent's batch sender and the integration tests go through it.
package client

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	apierrors "github.com/cubefs/docdb/errors"
	"github.com/cubefs/docdb/proto"
)

const defaultDialTimeout = 5 * time.Second

type Config struct {
	Address       string `json:"address"`
	DialTimeoutMs uint32 `json:"dial_timeout_ms"`
}

// Client owns one connection. Requests on it are serialised: the
// protocol answers every frame before the next one is read.
type Client struct {
	cfg *Config

	mu   sync.Mutex
	conn net.Conn
	br   *bufio.Reader
}

func NewClient(cfg *Config) (*Client, error) {
	timeout := defaultDialTimeout
	if cfg.DialTimeoutMs > 0 {
		timeout = time.Duration(cfg.DialTimeoutMs) * time.Millisecond
	}
	conn, err := net.DialTimeout("tcp", cfg.Address, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, conn: conn, br: bufio.NewReader(conn)}, nil
}

func (c *Client) Address() string { return c.cfg.Address }

func (c *Client) Close() error { return c.conn.Close() }

// Do sends one frame and reads the matching response frame.
func (c *Client) Do(ctx context.Context, req *proto.Request) (*proto.DecodedResponse, error) {
	out, err := proto.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	if _, err := c.conn.Write(out); err != nil {
		return nil, err
	}
	line, err := c.br.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return proto.DecodeResponse(line)
}

func (c *Client) Insert(ctx context.Context, database string, docs []*proto.Value) ([]string, error) {
	resp, err := c.Do(ctx, &proto.Request{Database: database, Operation: proto.OpInsert, Data: docs})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apierrors.New(apierrors.KindEngine, resp.Message)
	}
	return resp.IDs(), nil
}

func (c *Client) Find(ctx context.Context, database string, query *proto.Value) ([]*proto.Value, error) {
	resp, err := c.Do(ctx, &proto.Request{Database: database, Operation: proto.OpFind, Query: query})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apierrors.New(apierrors.KindEngine, resp.Message)
	}
	return resp.Data, nil
}

func (c *Client) Delete(ctx context.Context, database string, query *proto.Value) (int, error) {
	resp, err := c.Do(ctx, &proto.Request{Database: database, Operation: proto.OpDelete, Query: query})
	if err != nil {
		return 0, err
	}
	if !resp.OK() {
		return 0, apierrors.New(apierrors.KindEngine, resp.Message)
	}
	return resp.Count, nil
}

func (c *Client) CreateIndex(ctx context.Context, database, field string) error {
	resp, err := c.Do(ctx, &proto.Request{Database: database, Operation: proto.OpCreateIndex, Field: field})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return apierrors.New(apierrors.KindEngine, resp.Message)
	}
	return nil
}
