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
	"encoding/json"
	"strconv"
	"strings"
)

// EventDirection classifies a GatewayEvent by the way it crossed the wire.
type EventDirection int

const (
	// DirectionInbound marks an event the shard received from the gateway.
	DirectionInbound EventDirection = iota
	// DirectionOutbound marks an event the shard is about to send.
	DirectionOutbound
)

func (d EventDirection) String() string {
	if d == DirectionOutbound {
		return "outbound"
	}
	return "inbound"
}

// GatewayEvent is the event value object (§3). D is always the raw `d`
// field of the gateway frame — never decoded into a typed Discord entity,
// consistent with the core's opaque-payload scope. Inbound events carry Op
// and D exactly as received; outbound events are constructed by the shard
// immediately before transmission.
type GatewayEvent struct {
	ShardID   int
	Direction EventDirection
	Op        int
	D         json.RawMessage
	S         *int64
	T         string
}

// DispatchName derives the fanout key for an event: the lowercased event
// name when present, else "op_<op>".
func (e GatewayEvent) DispatchName() string {
	if e.T != "" {
		return strings.ToLower(e.T)
	}
	return "op_" + strconv.Itoa(e.Op)
}

func newInboundEvent(shardID int, payload gatewayPayload) GatewayEvent {
	ev := GatewayEvent{
		ShardID:   shardID,
		Direction: DirectionInbound,
		Op:        int(payload.Op),
		D:         payload.D,
		T:         payload.T,
	}
	if payload.Op == gatewayOpcodeDispatch {
		s := payload.S
		ev.S = &s
	}
	return ev
}

func newOutboundEvent(shardID int, op gatewayOpcode, d json.RawMessage) GatewayEvent {
	return GatewayEvent{
		ShardID:   shardID,
		Direction: DirectionOutbound,
		Op:        int(op),
		D:         d,
	}
}
