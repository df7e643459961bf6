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
	"log"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

/*****************************
 *          Client
 *****************************/

// Client is the top-level handle for an ember-based bot process. It wires
// together the Requester (REST + rate limiting), the Dispatcher (event
// fanout), and the Controller (shard supervision).
//
// Create a Client with New() and desired options, then call Start().
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	Logger     Logger
	workerPool WorkerPool
	metrics    *Metrics

	token   string
	intents GatewayIntent

	identifyLimiter ShardsIdentifyRateLimiter

	requester  *Requester
	dispatcher *dispatcher
	controller *Controller
}

// clientOption configures a Client during construction.
type clientOption func(*Client)

/*****************************
 *       Options
 *****************************/

// WithToken sets the bot token for your client.
//
// Logs fatal and exits if token is empty or obviously invalid (< 50 chars).
// Removes a "Bot " prefix automatically if provided.
func WithToken(token string) clientOption {
	if token == "" {
		log.Fatal("WithToken: token must not be empty")
	}
	if len(token) < 50 {
		log.Fatal("WithToken: token invalid")
	}
	if strings.HasPrefix(token, "Bot ") {
		token = strings.SplitN(token, " ", 2)[1]
	}
	return func(c *Client) {
		c.token = token
	}
}

// WithLogger sets a custom Logger implementation for your client.
func WithLogger(logger Logger) clientOption {
	if logger == nil {
		log.Fatal("WithLogger: logger must not be nil")
	}
	return func(c *Client) {
		c.Logger = logger
	}
}

// WithWorkerPool sets a custom WorkerPool implementation for your client.
func WithWorkerPool(workerPool WorkerPool) clientOption {
	if workerPool == nil {
		log.Fatal("WithWorkerPool: workerPool must not be nil")
	}
	return func(c *Client) {
		c.workerPool = workerPool
	}
}

// WithShardsIdentifyRateLimiter sets a custom ShardsIdentifyRateLimiter
// implementation for your client.
func WithShardsIdentifyRateLimiter(rateLimiter ShardsIdentifyRateLimiter) clientOption {
	if rateLimiter == nil {
		log.Fatal("WithShardsIdentifyRateLimiter: rateLimiter must not be nil")
	}
	return func(c *Client) {
		c.identifyLimiter = rateLimiter
	}
}

// WithIntents sets Gateway intents for the client's shards. Accepts either
// individual flags or a pre-combined bitmask.
func WithIntents(intents ...GatewayIntent) clientOption {
	var total GatewayIntent
	for _, intent := range intents {
		total |= intent
	}
	return func(c *Client) {
		c.intents = total
	}
}

// WithMetricsRegisterer registers ember's prometheus collectors against reg
// instead of the default registry.
func WithMetricsRegisterer(reg prometheus.Registerer) clientOption {
	return func(c *Client) {
		c.metrics = NewMetrics(reg)
	}
}

/*****************************
 *       Constructor
 *****************************/

// New creates a new Client from the given Config and options. Options
// override values loaded via Config.
//
// Defaults:
//   - Logger: stdout logger at Info level.
//   - Intents: DefaultIntents()
//   - Metrics: registered against prometheus.DefaultRegisterer
func New(ctx context.Context, cfg Config, options ...clientOption) *Client {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	client := &Client{
		ctx:     ctx,
		cancel:  cancel,
		Logger:  NewDefaultLogger(os.Stdout, LogLevelInfoLevel),
		token:   cfg.Token,
		intents: cfg.Intents,
	}
	if client.intents == 0 {
		client.intents = DefaultIntents()
	}

	for _, option := range options {
		option(client)
	}

	if client.workerPool == nil {
		client.workerPool = NewDefaultWorkerPool(client.Logger)
	}
	if client.metrics == nil {
		client.metrics = NewMetrics(prometheus.DefaultRegisterer)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://discord.com/api/v10"
	}
	client.requester = NewRequester(client.token, baseURL, client.Logger, client.metrics)
	client.dispatcher = newDispatcher(client.Logger, client.workerPool, client.metrics)
	client.controller = NewController(
		client.requester, client.Logger, client.dispatcher, client.metrics,
		client.token, client.intents, client.identifyLimiter,
		cfg.ShardIDs, cfg.ShardCount,
	)

	return client
}

// On registers a listener for the named dispatch event (e.g. "message_create").
func (c *Client) On(eventName string, listener EventListener) {
	c.dispatcher.RegisterListener(eventName, listener)
}

// Use registers a middleware applied, in registration order, to every
// event before it reaches listeners.
func (c *Client) Use(mw Middleware) {
	c.dispatcher.RegisterMiddleware(mw)
}

/*****************************
 *       Start
 *****************************/

// Start connects every shard and blocks until the client's context is
// cancelled or a shard reports a fatal (panic-class) disconnect.
//
//	ctx, cancel := context.WithCancel(context.Background())
//	client := New(ctx, cfg)
//	go func() {
//	    time.Sleep(time.Hour)
//	    cancel()
//	}()
//	err := client.Start()
func (c *Client) Start() error {
	err := c.controller.Run(c.ctx)
	c.Shutdown()
	return err
}

/*****************************
 *       Shutdown
 *****************************/

// Shutdown cleanly shuts down the Client: cancels its context, shuts down
// every shard, and closes idle REST connections.
func (c *Client) Shutdown() {
	c.Logger.Info("client shutting down")
	c.cancel()
	if c.controller != nil {
		c.controller.Shutdown()
	}
	if c.requester != nil {
		c.requester.Shutdown()
	}
}
