package ember

import (
	"io"
	"net"
	"sync/atomic"
	"testing"

	"github.com/gobwas/ws/wsutil"
	"github.com/tidwall/gjson"
)

func newTestShard(conn net.Conn) *Shard {
	logger := NewDefaultLogger(io.Discard, LogLevelErrorLevel)
	disp := newDispatcher(logger, NewDefaultWorkerPool(logger), nil)
	s := newShard(0, 1, "test-token-that-is-long-enough-to-pass-validation-000000", 0, nil, logger, disp, nil, nil)
	s.conn = conn
	return s
}

// The pacemaker, and sendHeartbeat in particular, must read last_seq but
// never write it - only readLoop (driven by inbound dispatch frames) owns
// that field.
func TestShardSendHeartbeatDoesNotMutateSeq(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	s := newTestShard(clientConn)
	atomic.StoreInt64(&s.lastSeq, 42)

	done := make(chan struct{})
	go func() {
		defer close(done)
		msg, _, err := wsutil.ReadClientData(serverConn)
		if err != nil {
			return
		}
		if op := gjson.GetBytes(msg, "op").Int(); op != int64(gatewayOpcodeHeartbeat) {
			t.Errorf("op = %d, want %d", op, gatewayOpcodeHeartbeat)
		}
		if seq := gjson.GetBytes(msg, "d").Int(); seq != 42 {
			t.Errorf("d = %d, want 42", seq)
		}
	}()

	if err := s.sendHeartbeat(); err != nil {
		t.Fatalf("sendHeartbeat: %v", err)
	}
	<-done

	if got := atomic.LoadInt64(&s.lastSeq); got != 42 {
		t.Fatalf("last_seq mutated by sendHeartbeat: got %d, want 42", got)
	}
}

func TestShardSendHeartbeatNilSeqBeforeFirstDispatch(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	s := newTestShard(clientConn)

	done := make(chan struct{})
	go func() {
		defer close(done)
		msg, _, err := wsutil.ReadClientData(serverConn)
		if err != nil {
			return
		}
		if d := gjson.GetBytes(msg, "d"); d.Type != gjson.Null {
			t.Errorf("d = %v, want null", d.Raw)
		}
	}()

	if err := s.sendHeartbeat(); err != nil {
		t.Fatalf("sendHeartbeat: %v", err)
	}
	<-done
}

func TestShardIdentifyCarriesShardIDAndCount(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	s := newTestShard(clientConn)
	s.shardCount = 4
	s.id = 2

	done := make(chan struct{})
	go func() {
		defer close(done)
		msg, _, err := wsutil.ReadClientData(serverConn)
		if err != nil {
			return
		}
		if op := gjson.GetBytes(msg, "op").Int(); op != int64(gatewayOpcodeIdentify) {
			t.Errorf("op = %d, want %d", op, gatewayOpcodeIdentify)
		}
		shardArr := gjson.GetBytes(msg, "d.shard").Array()
		if len(shardArr) != 2 || shardArr[0].Int() != 2 || shardArr[1].Int() != 4 {
			t.Errorf("d.shard = %v, want [2, 4]", shardArr)
		}
	}()

	if err := s.sendIdentify(); err != nil {
		t.Fatalf("sendIdentify: %v", err)
	}
	<-done
}

func TestClassifyDisconnectTable(t *testing.T) {
	cases := []struct {
		code GatewayCloseCode
		want disconnectClass
	}{
		{GatewayCloseCodeNotAuthenticated, disconnectClassPanic},
		{GatewayCloseCodeAuthenticationFailed, disconnectClassPanic},
		{GatewayCloseCodeInvalidAPIVersion, disconnectClassPanic},
		{GatewayCloseCodeInvalidIntents, disconnectClassPanic},
		{GatewayCloseCodeDisallowedIntents, disconnectClassPanic},
		{GatewayCloseCodeInvalidSeq, disconnectClassSessionFatal},
		{GatewayCloseCodeRateLimited, disconnectClassSessionFatal},
		{GatewayCloseCodeSessionTimedOut, disconnectClassSessionFatal},
		{GatewayCloseCodeUnknownError, disconnectClassOther},
		{GatewayCloseCodeInvalidShard, disconnectClassOther},
	}
	for _, c := range cases {
		if got := classifyDisconnect(c.code); got != c.want {
			t.Errorf("classifyDisconnect(%d) = %d, want %d", c.code, got, c.want)
		}
	}
}

func TestShardHandleDisconnectClearsSessionOnRateLimited(t *testing.T) {
	clientConn, _ := net.Pipe()
	defer clientConn.Close()

	s := newTestShard(clientConn)
	s.sessionID = "abc"
	s.url = "wss://cached"
	atomic.StoreInt64(&s.lastSeq, 7)

	s.handleDisconnect(GatewayCloseCodeRateLimited)

	if s.sessionID != "" {
		t.Fatalf("sessionID = %q, want empty after RATE_LIMITED", s.sessionID)
	}
	if s.url != "" {
		t.Fatalf("url = %q, want empty after RATE_LIMITED", s.url)
	}
}
