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
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"
)

type fatalShardEvent struct {
	shardID int
	code    GatewayCloseCode
}

// Controller is the Gateway Controller (§4.H): it resolves the shard count
// and session-start budget from GET /gateway/bot, spawns one Shard per
// index under an errgroup, and escalates a panic-classified disconnect on
// any shard into a process-wide ErrFatal that cancels every other shard.
type Controller struct {
	requester       *Requester
	logger          Logger
	dispatcher      *dispatcher
	metrics         *Metrics
	token           string
	intents         GatewayIntent
	identifyLimiter ShardsIdentifyRateLimiter

	// configuredShardIDs/configuredShardCount come from Config (§6);
	// when unset, Run falls back to the server-reported bot.Shards and
	// the default [0..shard_count) id set (§4.H).
	configuredShardIDs   []int
	configuredShardCount int

	mu     sync.Mutex
	shards []*Shard

	fatalCh chan fatalShardEvent
}

// NewController wires a Controller from the Client's already-constructed
// collaborators. shardIDs/shardCount come from Config and may be left nil/0
// to default to the server-reported shard count.
func NewController(requester *Requester, logger Logger, dispatcher *dispatcher, metrics *Metrics, token string, intents GatewayIntent, identifyLimiter ShardsIdentifyRateLimiter, shardIDs []int, shardCount int) *Controller {
	return &Controller{
		requester:            requester,
		logger:               logger,
		dispatcher:           dispatcher,
		metrics:              metrics,
		token:                token,
		intents:              intents,
		identifyLimiter:      identifyLimiter,
		configuredShardIDs:   shardIDs,
		configuredShardCount: shardCount,
		fatalCh:              make(chan fatalShardEvent, 1),
	}
}

// Run fetches GET /gateway/bot, connects every shard, and blocks until ctx
// is cancelled or a shard escalates a fatal (panic-class) disconnect. It
// always shuts every shard down before returning.
func (c *Controller) Run(ctx context.Context) error {
	raw, err := c.requester.Do(ctx, RequestOptions{
		Method: "GET",
		Route:  NewRoute("GET", "/gateway/bot", RouteParams{}),
		Expect: ExpectRaw,
	})
	if err != nil {
		return err
	}
	var bot GatewayBot
	rawBytes, _ := raw.([]byte)
	if err := sonic.Unmarshal(rawBytes, &bot); err != nil {
		return err
	}

	if c.identifyLimiter == nil {
		c.identifyLimiter = NewDefaultShardsRateLimiter(bot.SessionStartLimit.MaxConcurrency, 5*time.Second)
	}

	shardCount := c.configuredShardCount
	if shardCount == 0 {
		shardCount = bot.Shards
	}
	shardIDs := c.configuredShardIDs
	if len(shardIDs) == 0 {
		shardIDs = make([]int, shardCount)
		for i := range shardIDs {
			shardIDs[i] = i
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case f := <-c.fatalCh:
			return &ErrFatal{ShardID: f.shardID, Code: f.code}
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	for _, id := range shardIDs {
		shard := newShard(id, shardCount, c.token, c.intents, c.requester, c.logger, c.dispatcher, c.identifyLimiter, c.metrics)
		shard.onFatal = c.onShardFatal

		c.mu.Lock()
		c.shards = append(c.shards, shard)
		c.mu.Unlock()

		g.Go(func() error { return shard.connect(gctx) })
	}

	err = g.Wait()
	c.Shutdown()
	return err
}

func (c *Controller) onShardFatal(shardID int, code GatewayCloseCode) {
	select {
	case c.fatalCh <- fatalShardEvent{shardID: shardID, code: code}:
	default:
	}
}

// Latency returns the heartbeat round-trip time of a given shard, or -1 if
// the shard id is unknown.
func (c *Controller) Latency(shardID int) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.shards {
		if s.id == shardID {
			return s.Latency()
		}
	}
	return -1
}

// Shutdown closes every managed shard's connection.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	shards := c.shards
	c.shards = nil
	c.mu.Unlock()
	for _, s := range shards {
		s.Shutdown()
	}
}
