package chat

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
)

// newMemConn builds a socketless connection and registers it.
func newMemConn(t *testing.T, reg *Registry, id, user string) *Connection {
	t.Helper()
	c := NewConnection(id, user, nil, 64, time.Second)
	c.setState(StateOpen)
	if _, err := reg.Register(c); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return c
}

// drain returns every frame queued on c without blocking.
func drain(c *Connection) [][]byte {
	var out [][]byte
	for {
		select {
		case p := <-c.send:
			out = append(out, p)
		default:
			return out
		}
	}
}

func decodeEnvelopes(t *testing.T, frames [][]byte) []Envelope {
	t.Helper()
	out := make([]Envelope, 0, len(frames))
	for _, f := range frames {
		var e Envelope
		if err := json.Unmarshal(f, &e); err != nil {
			t.Fatalf("decode %s: %v", f, err)
		}
		out = append(out, e)
	}
	return out
}

func strp(s string) *string { return &s }

func nopLog() *zap.Logger { return zap.NewNop() }

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
