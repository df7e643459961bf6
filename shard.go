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
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v5"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/tidwall/gjson"
)

const defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// ShardState is one state of the shard state machine (§4.G).
type ShardState int32

const (
	ShardStateIdle ShardState = iota
	ShardStateConnecting
	ShardStateHandshaking
	ShardStateRunning
	ShardStateResuming
	ShardStateReconnecting
	ShardStateClosed
)

// ShardsIdentifyRateLimiter controls the frequency of IDENTIFY payloads
// sent per shard, sized by the controller from SessionStartLimit.
type ShardsIdentifyRateLimiter interface {
	Wait()
}

// DefaultShardsRateLimiter is a token-bucket limiter backed by a buffered
// channel, refilled to capacity on a fixed interval.
type DefaultShardsRateLimiter struct {
	tokens chan struct{}
}

var _ ShardsIdentifyRateLimiter = (*DefaultShardsRateLimiter)(nil)

// NewDefaultShardsRateLimiter creates a limiter admitting r identifies,
// refilled once per interval.
func NewDefaultShardsRateLimiter(r int, interval time.Duration) *DefaultShardsRateLimiter {
	rl := &DefaultShardsRateLimiter{tokens: make(chan struct{}, r)}
	for range r {
		rl.tokens <- struct{}{}
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			for range r {
				select {
				case rl.tokens <- struct{}{}:
				default:
				}
			}
		}
	}()
	return rl
}

func (rl *DefaultShardsRateLimiter) Wait() { <-rl.tokens }

// Shard owns one websocket connection and its pacemaker (§3 ShardState,
// §4.G). session_id, taken from the READY dispatch, survives transient
// (non-session-fatal) disconnects, letting the next connect resume instead
// of re-identify. last_seq is kept across RECONNECT frames and missed
// heartbeat acks, and cleared by handleDisconnect on every close.
type Shard struct {
	id          int
	shardCount  int
	token       string
	intents     GatewayIntent
	requester   *Requester
	logger      Logger
	dispatcher  *dispatcher
	identifyLim ShardsIdentifyRateLimiter
	sendLimiter *SendLimiter
	metrics     *Metrics

	// onFatal escalates a panic-classified close code to the Controller.
	// The shard terminates without reconnecting once this is called.
	onFatal func(shardID int, code GatewayCloseCode)

	connMu sync.Mutex
	conn   net.Conn

	state ShardState

	url       string
	sessionID string
	lastSeq   int64

	lastHeartbeatSentAt int64
	ackReceived         atomic.Bool
	failedHeartbeats    int64
	latencyMs           int64

	pacemakerMu     sync.Mutex
	pacemakerCancel context.CancelFunc

	closed atomic.Bool
}

func newShard(
	id, shardCount int, token string, intents GatewayIntent,
	requester *Requester, logger Logger, dispatcher *dispatcher,
	identifyLim ShardsIdentifyRateLimiter, metrics *Metrics,
) *Shard {
	return &Shard{
		id:          id,
		shardCount:  shardCount,
		token:       token,
		intents:     intents,
		requester:   requester,
		logger:      logger.WithField("shard_id", id),
		dispatcher:  dispatcher,
		identifyLim: identifyLim,
		sendLimiter: NewSendLimiter(120, 60*time.Second),
		metrics:     metrics,
	}
}

func (s *Shard) setState(st ShardState) {
	atomic.StoreInt32((*int32)(&s.state), int32(st))
	s.metrics.setShardState(s.id, st)
}

// Latency returns the most recent heartbeat round-trip time in milliseconds.
func (s *Shard) Latency() int64 { return atomic.LoadInt64(&s.latencyMs) }

// connect dials the gateway (resolving /gateway if no URL is cached yet),
// transitioning IDLE/RECONNECTING -> CONNECTING -> HANDSHAKING. The reader
// loop drives the rest of the handshake once HELLO arrives.
func (s *Shard) connect(ctx context.Context) error {
	s.setState(ShardStateConnecting)

	url := s.url
	if url == "" {
		resolved, err := s.fetchGatewayURL(ctx)
		if err != nil {
			return err
		}
		url = resolved
	}

	ctxSpan, span := startShardSpan(ctx, s.id, "connect")
	defer span.End()

	dialer := ws.Dialer{}
	conn, _, _, err := dialer.Dial(ctxSpan, url)
	if err != nil {
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.url = url
	s.connMu.Unlock()

	s.ackReceived.Store(true)
	s.setState(ShardStateHandshaking)
	s.logger.Info("shard connected")

	go s.readLoop()
	return nil
}

func (s *Shard) fetchGatewayURL(ctx context.Context) (string, error) {
	if s.requester == nil {
		return defaultGatewayURL, nil
	}
	body, err := s.requester.Do(ctx, RequestOptions{
		Method: "GET",
		Route:  NewRoute("GET", "/gateway", RouteParams{}),
		Expect: ExpectRaw,
	})
	if err != nil {
		return "", err
	}
	raw, _ := body.([]byte)
	var resolved gatewayURL
	if err := sonic.Unmarshal(raw, &resolved); err != nil || resolved.URL == "" {
		return defaultGatewayURL, nil
	}
	return resolved.URL + "/?v=10&encoding=json", nil
}

// readLoop is one of the shard's two long-lived tasks. Each inbound frame's
// op is peeked with gjson before committing to a full sonic decode, so
// heartbeat-ack frames never pay for a full unmarshal; every other frame is
// decoded in full.
func (s *Shard) readLoop() {
	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return
		}

		msg, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			s.connMu.Lock()
			current := s.conn
			s.connMu.Unlock()
			if current != conn {
				// The socket was closed on purpose (closeAndReconnect or
				// Shutdown), which already handles what follows.
				return
			}
			s.logger.WithField("err", err).Warn("shard read error")
			s.handleDisconnect(closeCodeFromErr(err))
			return
		}
		if op != ws.OpText {
			continue
		}

		opcode := gatewayOpcode(gjson.GetBytes(msg, "op").Int())

		if opcode == gatewayOpcodeHeartbeatACK {
			s.onHeartbeatAck()
			s.dispatcher.dispatch(newInboundEvent(s.id, gatewayPayload{Op: gatewayOpcodeHeartbeatACK}))
			continue
		}

		var payload gatewayPayload
		if err := sonic.Unmarshal(msg, &payload); err != nil {
			s.logger.WithField("err", err).Warn("shard frame decode error")
			continue
		}

		if payload.Op == gatewayOpcodeDispatch {
			atomic.StoreInt64(&s.lastSeq, payload.S)
		}

		s.dispatcher.dispatch(newInboundEvent(s.id, payload))

		switch payload.Op {
		case gatewayOpcodeDispatch:
			if payload.T == "READY" {
				s.sessionID = gjson.GetBytes(payload.D, "session_id").String()
			}

		case gatewayOpcodeHello:
			var hello helloData
			sonic.Unmarshal(payload.D, &hello)
			interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
			s.startPacemaker(interval)

			if s.sessionID != "" {
				s.setState(ShardStateResuming)
				s.sendResume()
			} else {
				s.sendIdentify()
			}
			s.setState(ShardStateRunning)

		case gatewayOpcodeReconnect:
			s.logger.Info("shard received RECONNECT, resuming")
			s.closeAndReconnect(ShardStateResuming)
			return
		}
	}
}

func (s *Shard) onHeartbeatAck() {
	sentAt := atomic.LoadInt64(&s.lastHeartbeatSentAt)
	if sentAt != 0 {
		atomic.StoreInt64(&s.latencyMs, MonotonicSinceMs(sentAt))
		s.metrics.setHeartbeatLatency(s.id, s.Latency())
	}
	s.ackReceived.Store(true)
}

// startPacemaker spawns the heartbeat task. It never mutates last_seq:
// the sequence counter is owned exclusively by readLoop, driven only by
// inbound `s` values.
func (s *Shard) startPacemaker(interval time.Duration) {
	s.pacemakerMu.Lock()
	if s.pacemakerCancel != nil {
		s.pacemakerCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.pacemakerCancel = cancel
	s.pacemakerMu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if !s.ackReceived.Load() {
				atomic.AddInt64(&s.failedHeartbeats, 1)
				s.logger.Warn("heartbeat not acked, reconnecting")
				s.closeAndReconnect(ShardStateResuming)
				return
			}

			atomic.StoreInt64(&s.lastHeartbeatSentAt, MonotonicNow())
			if err := s.sendHeartbeat(); err != nil {
				s.logger.WithField("err", err).Warn("heartbeat send failed, reconnecting")
				s.closeAndReconnect(ShardStateResuming)
				return
			}
			s.ackReceived.Store(false)
		}
	}()
}

func (s *Shard) cancelPacemaker() {
	s.pacemakerMu.Lock()
	if s.pacemakerCancel != nil {
		s.pacemakerCancel()
		s.pacemakerCancel = nil
	}
	s.pacemakerMu.Unlock()
}

// send applies send-limiter pacing, emits the outbound GatewayEvent to the
// dispatcher, then serializes the frame on the wire (§4.G send discipline).
func (s *Shard) send(op gatewayOpcode, d any) error {
	payload, err := sonic.Marshal(d)
	if err != nil {
		return err
	}
	if err := s.sendLimiter.Wait(context.Background()); err != nil {
		return err
	}
	s.dispatcher.dispatch(newOutboundEvent(s.id, op, payload))

	frame, err := sonic.Marshal(gatewayPayload{Op: op, D: payload})
	if err != nil {
		return err
	}

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	return wsutil.WriteClientMessage(conn, ws.OpText, frame)
}

func (s *Shard) sendIdentify() error {
	if s.identifyLim != nil {
		s.identifyLim.Wait()
	}
	return s.send(gatewayOpcodeIdentify, identifyData{
		Token: s.token,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: LIB_NAME,
			Device:  LIB_NAME,
		},
		Intents: s.intents,
		Shard:   [2]int{s.id, s.shardCount},
	})
}

func (s *Shard) sendResume() error {
	return s.send(gatewayOpcodeResume, resumeData{
		Token:     s.token,
		SessionID: s.sessionID,
		Seq:       atomic.LoadInt64(&s.lastSeq),
	})
}

func (s *Shard) sendHeartbeat() error {
	seq := atomic.LoadInt64(&s.lastSeq)
	var seqPtr *int64
	if seq != 0 {
		seqPtr = &seq
	}
	return s.send(gatewayOpcodeHeartbeat, heartbeatData{Seq: seqPtr})
}

// closeAndReconnect closes the socket and reconnects preserving
// session_id/last_seq (RESUMING), used for RECONNECT frames and pacemaker
// failure.
func (s *Shard) closeAndReconnect(next ShardState) {
	s.cancelPacemaker()
	s.closeConn()
	s.setState(next)
	go s.reconnect()
}

func (s *Shard) closeConn() {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// closeCodeFromErr extracts the gateway's reported close code from a
// ReadServerData error. wsutil surfaces a real close frame as a
// wsutil.ClosedError carrying the ws.StatusCode the server sent; any other
// error (a dropped TCP connection, a read timeout, ...) carries no close
// code, so it falls back to GatewayCloseCodeUnknownError.
func closeCodeFromErr(err error) GatewayCloseCode {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return GatewayCloseCode(closed.Code)
	}
	return GatewayCloseCodeUnknownError
}

// handleDisconnect classifies the close code and reacts per §4.G. Panic
// codes escalate to the controller and the shard terminates without
// reconnecting; session-fatal codes clear session_id (and, for
// RATE_LIMITED, the cached url) so the next connect sends IDENTIFY instead
// of RESUME. Every non-panic path clears last_seq, cancels the pacemaker,
// closes the socket, and reconnects - ported as-is from the source
// implementation's handle_disconnect.
func (s *Shard) handleDisconnect(code GatewayCloseCode) {
	if s.closed.Load() {
		return
	}

	switch classifyDisconnect(code) {
	case disconnectClassPanic:
		s.cancelPacemaker()
		s.closeConn()
		s.setState(ShardStateClosed)
		if s.onFatal != nil {
			s.onFatal(s.id, code)
		}
		return

	case disconnectClassSessionFatal:
		s.sessionID = ""
		if code == GatewayCloseCodeRateLimited {
			s.url = ""
		}
	}

	atomic.StoreInt64(&s.lastSeq, 0)
	s.closeAndReconnect(ShardStateReconnecting)
}

// reconnect retries connect with exponential backoff until it succeeds.
func (s *Shard) reconnect() {
	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return struct{}{}, s.connect(dialCtx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		s.logger.WithField("err", err).Error("shard giving up reconnecting")
	}
}

// Shutdown closes the shard's websocket connection and stops its
// pacemaker. It does not attempt to reconnect.
func (s *Shard) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("shard shutting down")
	s.cancelPacemaker()
	s.closeConn()
	s.setState(ShardStateClosed)
}

func shardIDString(id int) string { return strconv.Itoa(id) }
