package server

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	apierrors "github.com/cubefs/docdb/errors"
)

const (
	gateWeight = 1 << 30

	// writeLockTimeout bounds the wait for the write side of a gate.
	writeLockTimeout = 5 * time.Second
)

// Gate is the per-collection reader/writer coordination primitive:
// any number of concurrent readers or a single writer, never both.
// A writer takes the full semaphore weight, so it waits for readers
// to drain and keeps new ones out while it runs.
type Gate struct {
	sem *semaphore.Weighted
}

func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(gateWeight)}
}

func (g *Gate) AcquireRead(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

func (g *Gate) ReleaseRead() {
	g.sem.Release(1)
}

// AcquireWrite bound-waits for writer exclusivity and fails with the
// lock-timeout error once the deadline passes.
func (g *Gate) AcquireWrite(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, writeLockTimeout)
	defer cancel()
	if err := g.sem.Acquire(ctx, gateWeight); err != nil {
		return apierrors.ErrLockTimeout
	}
	return nil
}

func (g *Gate) ReleaseWrite() {
	g.sem.Release(gateWeight)
}
