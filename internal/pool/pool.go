// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pool holds the fixed set of pre-built Orchestrator instances
// one process serves requests from, and the concurrency limiter gating
// access to them.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/relaymind/agentcore/internal/metrics"
	"github.com/relaymind/agentcore/internal/orchestrator"
)

// Factory builds one fresh Orchestrator instance for the pool's free
// list. What instances share is up to the factory: cmd/agentcore's
// factory gives every instance the same *tools.Client, so instances do
// not hold separate tool-server connections.
type Factory func() (*orchestrator.Orchestrator, error)

// Pool is a fixed-size free list of Orchestrator instances guarded by
// a global concurrency limiter. Acquire takes a semaphore slot before
// claiming a free instance; Release gives the instance back before
// releasing the slot — the reverse order — per spec.md §4.10's
// acquire/release protocol. The free list itself is a buffered
// channel rather than a mutex + condition variable, grounded on the
// teacher's channel-as-semaphore idiom used for lifecycle signaling in
// services/orchestrator/ttl/scheduler.go, generalized from a done-
// channel to a free-list channel.
type Pool struct {
	sem  *semaphore.Weighted
	free chan *orchestrator.Orchestrator
	size int

	active int64
	closed atomic.Bool
}

// New builds size instances via factory and returns a Pool that admits
// up to maxConcurrent simultaneous acquisitions. maxConcurrent must be
// >= size (config.Config.Validate enforces this at load time).
func New(size, maxConcurrent int, factory Factory) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool: size must be > 0")
	}
	if maxConcurrent < size {
		return nil, fmt.Errorf("pool: maxConcurrent (%d) must be >= size (%d)", maxConcurrent, size)
	}

	p := &Pool{
		sem:  semaphore.NewWeighted(int64(maxConcurrent)),
		free: make(chan *orchestrator.Orchestrator, size),
		size: size,
	}
	for i := 0; i < size; i++ {
		o, err := factory()
		if err != nil {
			return nil, fmt.Errorf("pool: building instance %d: %w", i, err)
		}
		p.free <- o
	}
	metrics.PoolSize.Set(float64(size))
	return p, nil
}

// ErrClosed is returned by Acquire once Shutdown has been called.
var ErrClosed = fmt.Errorf("pool: closed for new acquisitions")

// Acquire blocks until a semaphore slot and a free instance are both
// available, or ctx is cancelled first. The caller must pass the
// returned Orchestrator to Release exactly once.
func (p *Pool) Acquire(ctx context.Context) (*orchestrator.Orchestrator, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	select {
	case o := <-p.free:
		atomic.AddInt64(&p.active, 1)
		metrics.PoolActive.Set(float64(atomic.LoadInt64(&p.active)))
		return o, nil
	case <-ctx.Done():
		p.sem.Release(1)
		return nil, ctx.Err()
	}
}

// Release returns o to the free list, then releases its semaphore
// slot — the reverse of Acquire's order, per spec.md §4.10.
func (p *Pool) Release(o *orchestrator.Orchestrator) {
	p.free <- o
	atomic.AddInt64(&p.active, -1)
	metrics.PoolActive.Set(float64(atomic.LoadInt64(&p.active)))
	p.sem.Release(1)
}

// Stats is the health-probe snapshot spec.md §6's GET /health reports.
type Stats struct {
	ActiveRequests int
	PoolSize       int
}

// Stats reports current utilization.
func (p *Pool) Stats() Stats {
	return Stats{ActiveRequests: int(atomic.LoadInt64(&p.active)), PoolSize: p.size}
}

// Shutdown rejects new acquisitions immediately, then waits up to
// grace for in-flight requests to finish releasing their instances.
// It does not itself cancel in-flight tasks — the HTTP server's own
// request contexts do that, per spec.md §5's cancellation model — it
// only bounds how long the process waits before exiting anyway.
func (p *Pool) Shutdown(ctx context.Context, grace time.Duration) error {
	p.closed.Store(true)

	deadline := time.Now().Add(grace)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if atomic.LoadInt64(&p.active) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			slog.Warn("pool shutdown grace period elapsed with active requests still outstanding",
				"active", atomic.LoadInt64(&p.active))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
