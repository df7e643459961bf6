/************************************************************************************
 *
 * ember, A Lightweight Go library for Discord-style gateway/HTTP clients
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 Marouane Souiri
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package ember

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// bucketState is a single-slot channel used as a context-aware mutex: the
// channel holds one token when the bucket is free. acquire blocks on a
// receive; release schedules a send after the given delay.
type bucketState struct {
	token chan struct{}
}

func newBucketState() *bucketState {
	b := &bucketState{token: make(chan struct{}, 1)}
	b.token <- struct{}{}
	return b
}

func (b *bucketState) acquire(ctx context.Context) error {
	select {
	case <-b.token:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *bucketState) release(after time.Duration) {
	if after <= 0 {
		b.token <- struct{}{}
		return
	}
	time.AfterFunc(after, func() {
		b.token <- struct{}{}
	})
}

// globalGate is a one-shot waitable latch (§3 GlobalGate): open, or
// closed-until-t. reopenAtNano == 0 means open.
type globalGate struct {
	reopenAtNano atomic.Int64
}

func (g *globalGate) wait(ctx context.Context) error {
	for {
		v := g.reopenAtNano.Load()
		if v == 0 {
			return nil
		}
		until := time.Unix(0, v)
		now := time.Now()
		if !until.After(now) {
			g.reopenAtNano.CompareAndSwap(v, 0)
			return nil
		}
		timer := time.NewTimer(until.Sub(now))
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// lock closes the gate until duration from now. Concurrent calls extend to
// the maximum scheduled re-open time; they never shorten it.
func (g *globalGate) lock(duration time.Duration) {
	target := time.Now().Add(duration).UnixNano()
	for {
		cur := g.reopenAtNano.Load()
		if cur >= target {
			return
		}
		if g.reopenAtNano.CompareAndSwap(cur, target) {
			return
		}
	}
}

// RateLimitCoordinator serializes HTTP requests per bucket and honors a
// process-wide global throttle (§4.B). Bucket creation on first use is
// deduplicated with singleflight so concurrent first-acquires on a new
// bucket key construct exactly one bucketState.
type RateLimitCoordinator struct {
	buckets sync.Map // string -> *bucketState
	sf      singleflight.Group
	global  globalGate
	metrics *Metrics
}

// NewRateLimitCoordinator creates an empty coordinator. metrics may be nil.
func NewRateLimitCoordinator(metrics *Metrics) *RateLimitCoordinator {
	return &RateLimitCoordinator{metrics: metrics}
}

func (c *RateLimitCoordinator) bucket(key string) *bucketState {
	if v, ok := c.buckets.Load(key); ok {
		return v.(*bucketState)
	}
	v, _, _ := c.sf.Do(key, func() (any, error) {
		if v, ok := c.buckets.Load(key); ok {
			return v, nil
		}
		b := newBucketState()
		c.buckets.Store(key, b)
		return b, nil
	})
	return v.(*bucketState)
}

// Acquire suspends the caller until both the per-bucket slot is held by it
// and the global gate is open. Acquisitions on distinct buckets proceed in
// parallel; within a bucket they are strictly serial and FIFO.
func (c *RateLimitCoordinator) Acquire(ctx context.Context, bucketKey string) error {
	if c.metrics != nil {
		start := time.Now()
		defer func() { c.metrics.observeRateLimitWait(time.Since(start)) }()
	}
	if err := c.global.wait(ctx); err != nil {
		return err
	}
	return c.bucket(bucketKey).acquire(ctx)
}

// Release schedules release of the per-bucket slot `after` into the future
// (0 or less means immediate). Callers guarantee one Acquire pairs with one
// Release.
func (c *RateLimitCoordinator) Release(bucketKey string, after time.Duration) {
	c.bucket(bucketKey).release(after)
}

// LockGlobal closes the global gate for duration, extending any pending
// re-open rather than shortening it.
func (c *RateLimitCoordinator) LockGlobal(duration time.Duration) {
	if c.metrics != nil {
		c.metrics.observeGlobalLock(duration)
	}
	c.global.lock(duration)
}
