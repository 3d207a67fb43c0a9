package agent

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/time/rate"

	"github.com/cubefs/docdb/client"
	"github.com/cubefs/docdb/proto"
)

const (
	defaultDatabase     = "security_events"
	defaultBatchSize    = 50
	defaultMaxRetries   = 3
	defaultRetryDelayMs = 1000
	defaultBatchPerSec  = 10
)

type SenderConfig struct {
	Address      string  `json:"address"`
	Database     string  `json:"database"`
	BatchSize    int     `json:"batch_size"`
	MaxRetries   int     `json:"max_retries"`
	RetryDelayMs uint32  `json:"retry_delay_ms"`
	BatchPerSec  float64 `json:"batch_per_sec"`
}

// Sender drains batches from the buffer and posts them as insert
// requests, with exponential backoff per batch and rate pacing across
// batches. A delivery failure drops the connection so the next attempt
// redials.
type Sender struct {
	cfg     *SenderConfig
	buffer  *Buffer
	limiter *rate.Limiter

	mu  sync.Mutex
	cli *client.Client

	done chan struct{}
	wg   sync.WaitGroup
}

func NewSender(cfg *SenderConfig, buffer *Buffer) *Sender {
	if cfg.Database == "" {
		cfg.Database = defaultDatabase
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelayMs == 0 {
		cfg.RetryDelayMs = defaultRetryDelayMs
	}
	if cfg.BatchPerSec <= 0 {
		cfg.BatchPerSec = defaultBatchPerSec
	}
	return &Sender{
		cfg:     cfg,
		buffer:  buffer,
		limiter: rate.NewLimiter(rate.Limit(cfg.BatchPerSec), 1),
		done:    make(chan struct{}),
	}
}

func (s *Sender) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Sender) Stop() {
	close(s.done)
	s.wg.Wait()
	s.dropClient()
}

func (s *Sender) run() {
	defer s.wg.Done()
	span, ctx := trace.StartSpanFromContext(context.Background(), "sender")
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-s.done
		cancel()
	}()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		batch := s.buffer.GetBatch(ctx, s.cfg.BatchSize)
		if len(batch) == 0 {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		if err := s.deliver(ctx, batch); err != nil {
			span.Errorf("batch of %d events lost after %d attempts: %s",
				len(batch), s.cfg.MaxRetries+1, err)
			continue
		}
		span.Debugf("batch of %d events delivered to %s", len(batch), s.cfg.Database)
	}
}

func (s *Sender) deliver(ctx context.Context, batch []*proto.Value) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(s.cfg.RetryDelayMs) * time.Millisecond

	return backoff.Retry(func() error {
		cli, err := s.client()
		if err != nil {
			return err
		}
		if _, err := cli.Insert(ctx, s.cfg.Database, batch); err != nil {
			s.dropClient()
			return err
		}
		return nil
	}, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(s.cfg.MaxRetries)))
}

func (s *Sender) client() (*client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cli != nil {
		return s.cli, nil
	}
	cli, err := client.NewClient(&client.Config{Address: s.cfg.Address})
	if err != nil {
		return nil, err
	}
	s.cli = cli
	return cli, nil
}

func (s *Sender) dropClient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cli != nil {
		s.cli.Close()
		s.cli = nil
	}
}
