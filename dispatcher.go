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
	"runtime/debug"
	"strings"
	"sync"
)

// EventListener receives a dispatched GatewayEvent. Panics inside a
// listener are recovered and logged; they never affect other listeners.
type EventListener func(GatewayEvent)

// MiddlewareResult is the tagged Keep/Drop result of a Middleware (Design
// Notes: "use a tagged variant Keep(event) | Drop rather than overloading
// a nil return"). Because the result only ever carries a valid GatewayEvent
// or nothing, a middleware can never hand the dispatcher a malformed event
// - the InvalidArgument case from §7 is prevented at the type level rather
// than checked at runtime.
type MiddlewareResult struct {
	kept  bool
	event GatewayEvent
}

// Keep wraps an event to be passed (possibly rewritten) to the next stage.
func Keep(e GatewayEvent) MiddlewareResult { return MiddlewareResult{kept: true, event: e} }

// Drop signals that the event should not reach any listener.
func Drop() MiddlewareResult { return MiddlewareResult{} }

// Middleware transforms or filters an event before listener fanout.
type Middleware func(GatewayEvent) MiddlewareResult

// dispatcher applies a middleware chain and fans out to registered
// listeners (§4.E). Listener registration is append-only during
// operation: dispatch takes a consistent snapshot under a read lock.
type dispatcher struct {
	logger     Logger
	workerPool WorkerPool
	metrics    *Metrics

	mu         sync.RWMutex
	listeners  map[string][]EventListener
	middleware []Middleware
}

func newDispatcher(logger Logger, workerPool WorkerPool, metrics *Metrics) *dispatcher {
	return &dispatcher{
		logger:     logger,
		workerPool: workerPool,
		metrics:    metrics,
		listeners:  make(map[string][]EventListener, 32),
	}
}

// RegisterListener appends a listener for eventName. Event names are
// normalized to lowercase. The special names "gateway_send",
// "gateway_receive", and "*" receive all outbound, all inbound, and all
// events respectively.
func (d *dispatcher) RegisterListener(eventName string, listener EventListener) {
	name := strings.ToLower(eventName)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[name] = append(d.listeners[name], listener)
}

// RegisterMiddleware appends fn to the ordered middleware chain.
func (d *dispatcher) RegisterMiddleware(fn Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middleware = append(d.middleware, fn)
}

// dispatch applies the middleware chain in registration order, then fans
// out concurrently to direct, directional, and wildcard listeners.
// Listener invocations are independent; a panic in one is recovered and
// logged without affecting the others.
func (d *dispatcher) dispatch(event GatewayEvent) {
	d.mu.RLock()
	chain := make([]Middleware, len(d.middleware))
	copy(chain, d.middleware)
	d.mu.RUnlock()

	cur := event
	for _, mw := range chain {
		result := mw(cur)
		if !result.kept {
			return
		}
		cur = result.event
	}

	directionalName := "gateway_receive"
	if cur.Direction == DirectionOutbound {
		directionalName = "gateway_send"
	}

	d.mu.RLock()
	direct := snapshotListeners(d.listeners[cur.DispatchName()])
	directional := snapshotListeners(d.listeners[directionalName])
	wildcard := snapshotListeners(d.listeners["*"])
	d.mu.RUnlock()

	d.submitAll(cur, direct)
	d.submitAll(cur, directional)
	d.submitAll(cur, wildcard)
}

func snapshotListeners(ls []EventListener) []EventListener {
	if len(ls) == 0 {
		return nil
	}
	out := make([]EventListener, len(ls))
	copy(out, ls)
	return out
}

func (d *dispatcher) submitAll(event GatewayEvent, listeners []EventListener) {
	for _, listener := range listeners {
		listener := listener
		if !d.workerPool.Submit(func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.WithField("event", event.DispatchName()).
						WithField("shard_id", event.ShardID).
						WithField("panic", r).
						WithField("stack", string(debug.Stack())).
						Error("Recovered from panic in event listener")
				}
			}()
			listener(event)
		}) {
			d.logger.WithField("event", event.DispatchName()).Warn("Dispatcher: dropped listener invocation due to full queue")
		}
	}
}
