package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PPRelay/middleware"
	"PPRelay/module/message"
	"PPRelay/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var testSecret = []byte("relay-test-secret")

type countingVerifier struct {
	inner TokenVerifier
	calls atomic.Int32
}

func (v *countingVerifier) Verify(ctx context.Context, token string) (security.Identity, error) {
	v.calls.Add(1)
	return v.inner.Verify(ctx, token)
}

type gateway struct {
	srv      *Server
	ts       *httptest.Server
	verifier *countingVerifier
}

func newGateway(t *testing.T, hooks Hooks, mutate func(*Options)) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jv, err := security.NewJWTVerifier(security.DefaultOptions(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	v := &countingVerifier{inner: jv}
	opts := Options{
		GatewayID:         "gw-test",
		SweepInterval:     time.Hour, // tests drive sweeps by hand
		WriteWait:         time.Second,
		AnnounceDeparture: true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv := NewServer(opts, v, hooks, nopLog())

	engine := gin.New()
	middleware.GET(engine, "/ws", srv.HandleWS, middleware.RouteOpt{IsAuth: true})
	engine.GET("/healthz", srv.HandleHealth)
	engine.GET("/stats", srv.HandleStats)
	ts := httptest.NewServer(engine)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})
	return &gateway{srv: srv, ts: ts, verifier: v}
}

func token(t *testing.T, secret []byte, user string) string {
	t.Helper()
	tok, _, err := security.Generate(security.DefaultOptions(secret), user, nil)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (g *gateway) wsURL(tok string) string {
	u := "ws" + strings.TrimPrefix(g.ts.URL, "http") + "/ws"
	if tok != "" {
		u += "?token=" + url.QueryEscape(tok)
	}
	return u
}

func (g *gateway) dialRaw(t *testing.T, tok string, header http.Header) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(g.wsURL(tok), header)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// dial connects as user and waits until the gateway has registered it.
func (g *gateway) dial(t *testing.T, user string) (*websocket.Conn, *Connection) {
	t.Helper()
	ws := g.dialRaw(t, token(t, testSecret, user), nil)
	return ws, g.connOf(t, user)
}

func (g *gateway) connOf(t *testing.T, user string) *Connection {
	t.Helper()
	var found *Connection
	eventually(t, "registration of "+user, func() bool {
		for _, c := range g.srv.Registry().Snapshot() {
			if c.UserID == user {
				found = c
				return true
			}
		}
		return false
	})
	return found
}

func sendEvent(t *testing.T, ws *websocket.Conn, event, room string, text *string) {
	t.Helper()
	f := InboundFrame{Type: FrameTypeEvent, Event: event, RoomID: room, Message: text}
	if err := ws.WriteJSON(f); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readRaw(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, p, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(p)
}

func readEnvelope(t *testing.T, ws *websocket.Conn) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal([]byte(readRaw(t, ws)), &env); err != nil {
		t.Fatal(err)
	}
	return env
}

// expectNothing fails if ws receives a frame within a short window. The
// connection is unusable for reads afterwards.
func expectNothing(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, p, err := ws.ReadMessage()
	var ne net.Error
	if err == nil {
		t.Fatalf("unexpected frame %s", p)
	}
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("unexpected read error %v", err)
	}
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) *websocket.CloseError {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) || ce.Code != code {
			t.Fatalf("want close %d, got %v", code, err)
		}
		return ce
	}
}

func TestHandshakeRejection(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		header string
	}{
		{name: "no credential"},
		{name: "garbage query token", query: "not-a-jwt"},
		{name: "wrong signing key", query: "wrong-key"},
		{name: "bad bearer", header: "Bearer nope"},
		// query wins even when the header would have been valid
		{name: "bad query beats good header", query: "not-a-jwt", header: "valid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGateway(t, Hooks{}, nil)
			q := tt.query
			if q == "wrong-key" {
				q = token(t, []byte("some-other-secret"), "mallory")
			}
			h := http.Header{}
			switch tt.header {
			case "":
			case "valid":
				h.Set("Authorization", "Bearer "+token(t, testSecret, "alice"))
			default:
				h.Set("Authorization", tt.header)
			}

			ws := g.dialRaw(t, q, h)
			ce := expectClose(t, ws, 4001)
			if ce.Text != "Unauthorized" {
				t.Fatalf("close reason = %q", ce.Text)
			}
			if n := g.verifier.calls.Load(); n != 1 {
				t.Fatalf("verifier called %d times", n)
			}
			if st := g.srv.Registry().Stats(); st.Connections != 0 {
				t.Fatalf("rejected connection registered: %+v", st)
			}
		})
	}
}

func TestHandshakeAccepted(t *testing.T) {
	t.Run("query", func(t *testing.T) {
		g := newGateway(t, Hooks{}, nil)
		_, c := g.dial(t, "alice")
		if c.State() != StateOpen {
			t.Fatalf("state = %v", c.State())
		}
	})
	t.Run("bearer header", func(t *testing.T) {
		g := newGateway(t, Hooks{}, nil)
		h := http.Header{"Authorization": {"Bearer " + token(t, testSecret, "bob")}}
		g.dialRaw(t, "", h)
		g.connOf(t, "bob")
	})
	t.Run("good query beats bad header", func(t *testing.T) {
		g := newGateway(t, Hooks{}, nil)
		h := http.Header{"Authorization": {"Bearer nope"}}
		g.dialRaw(t, token(t, testSecret, "carol"), h)
		g.connOf(t, "carol")
		if n := g.verifier.calls.Load(); n != 1 {
			t.Fatalf("verifier called %d times", n)
		}
	})
}

func TestLobbyScenario(t *testing.T) {
	g := newGateway(t, Hooks{}, nil)
	a, _ := g.dial(t, "A")
	b, _ := g.dial(t, "B")
	c, _ := g.dial(t, "C")

	sendEvent(t, a, EventJoinRoom, "lobby", nil)
	if env := readEnvelope(t, a); env.Event != EventJoinRoom || env.From != "A" {
		t.Fatalf("a got %+v", env)
	}
	sendEvent(t, b, EventJoinRoom, "lobby", nil)
	for _, ws := range []*websocket.Conn{a, b} {
		if env := readEnvelope(t, ws); env.Event != EventJoinRoom || env.From != "B" {
			t.Fatalf("got %+v", env)
		}
	}

	sendEvent(t, a, EventSendMessage, "lobby", strp("hi"))
	want := `{"type":"event","event":"new_message","from":"A","message":"hi","roomId":"lobby"}`
	for _, ws := range []*websocket.Conn{a, b} {
		if got := readRaw(t, ws); got != want {
			t.Fatalf("got %s", got)
		}
	}
	expectNothing(t, c)
}

func TestInvalidFrameKeepsConnectionOpen(t *testing.T) {
	g := newGateway(t, Hooks{}, nil)
	a, _ := g.dial(t, "A")

	for raw, want := range map[string]string{
		`hello`: `{"type":"error","message":"Invalid JSON"}`,
		`{"type":"typing"}`: `{"type":"error","message":"Invalid message type"}`,
		`{"type":"event","event":"wave","roomId":"x"}`: `{"type":"error","message":"Unknown event"}`,
	} {
		if err := a.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
		if got := readRaw(t, a); got != want {
			t.Fatalf("%s: got %s", raw, got)
		}
	}

	sendEvent(t, a, EventJoinRoom, "lobby", nil)
	if env := readEnvelope(t, a); env.Event != EventJoinRoom {
		t.Fatalf("got %+v", env)
	}
}

func TestSilentPeerEvictedAfterTwoSweeps(t *testing.T) {
	g := newGateway(t, Hooks{}, nil)
	a, ca := g.dial(t, "A") // never reads, so never answers pings
	b, cb := g.dial(t, "B")

	frames := make(chan Envelope, 16)
	go func() {
		defer close(frames)
		for {
			_, p, err := b.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if json.Unmarshal(p, &env) == nil {
				frames <- env
			}
		}
	}()
	next := func() Envelope {
		t.Helper()
		select {
		case env, ok := <-frames:
			if !ok {
				t.Fatal("b reader stopped")
			}
			return env
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for b")
		}
		return Envelope{}
	}

	sendEvent(t, b, EventJoinRoom, "lobby", nil)
	next()
	sendEvent(t, a, EventJoinRoom, "lobby", nil)
	if env := next(); env.From != "A" {
		t.Fatalf("got %+v", env)
	}

	mon := g.srv.Monitor()
	if ev, pr := mon.SweepOnce(); ev != 0 || pr != 2 {
		t.Fatalf("first sweep evicted=%d probed=%d", ev, pr)
	}
	eventually(t, "pong from b", func() bool { return g.srv.Registry().Alive(cb.ID) })
	if ev, _ := mon.SweepOnce(); ev != 1 {
		t.Fatalf("second sweep evicted %d", ev)
	}

	if env := next(); env.Event != EventLeaveRoom || env.From != "A" || env.RoomID != "lobby" {
		t.Fatalf("departure = %+v", env)
	}
	reg := g.srv.Registry()
	if reg.IsMember(ca.ID, "lobby") {
		t.Fatal("evicted connection still in lobby")
	}
	if !reg.IsMember(cb.ID, "lobby") {
		t.Fatal("live connection lost membership")
	}
	eventually(t, "a closed", func() bool { return ca.State() == StateClosed })
}

func TestReadDeadlineClosesSilentPeer(t *testing.T) {
	g := newGateway(t, Hooks{}, func(o *Options) {
		o.SweepInterval = 40 * time.Millisecond
		o.WriteWait = 20 * time.Millisecond
	})
	_, ca := g.dial(t, "A")
	// monitor not started: only the read deadline can end the connection
	eventually(t, "deadline teardown", func() bool { return ca.State() == StateClosed })
	if n := g.srv.Stats().Connections; n != 0 {
		t.Fatalf("connections = %d", n)
	}
}

func TestPongExtendsReadDeadline(t *testing.T) {
	g := newGateway(t, Hooks{}, func(o *Options) {
		o.SweepInterval = 40 * time.Millisecond
		o.WriteWait = 20 * time.Millisecond
	})
	a, ca := g.dial(t, "A")
	go func() {
		// reading lets the client answer pings
		for {
			if _, _, err := a.ReadMessage(); err != nil {
				return
			}
		}
	}()
	g.srv.Start()

	time.Sleep(300 * time.Millisecond)
	if st := ca.State(); st != StateOpen {
		t.Fatalf("state = %v, want open", st)
	}
}

func TestDisconnectAnnouncesDeparture(t *testing.T) {
	g := newGateway(t, Hooks{}, nil)
	a, ca := g.dial(t, "A")
	b, _ := g.dial(t, "B")
	sendEvent(t, a, EventJoinRoom, "lobby", nil)
	readEnvelope(t, a)
	sendEvent(t, b, EventJoinRoom, "lobby", nil)
	readEnvelope(t, a)
	readEnvelope(t, b)

	_ = a.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = a.Close()

	if env := readEnvelope(t, b); env.Event != EventLeaveRoom || env.From != "A" {
		t.Fatalf("got %+v", env)
	}
	eventually(t, "deregistration", func() bool {
		_, ok := g.srv.Registry().Get(ca.ID)
		return !ok
	})
	if st := g.srv.Registry().Stats(); st.Connections != 1 || st.Rooms != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDepartureAnnouncementCanBeDisabled(t *testing.T) {
	g := newGateway(t, Hooks{}, func(o *Options) { o.AnnounceDeparture = false })
	a, ca := g.dial(t, "A")
	b, _ := g.dial(t, "B")
	sendEvent(t, a, EventJoinRoom, "lobby", nil)
	readEnvelope(t, a)
	sendEvent(t, b, EventJoinRoom, "lobby", nil)
	readEnvelope(t, a)
	readEnvelope(t, b)

	_ = a.Close()
	eventually(t, "deregistration", func() bool {
		_, ok := g.srv.Registry().Get(ca.ID)
		return !ok
	})
	expectNothing(t, b)
}

func TestPerUserLimit(t *testing.T) {
	g := newGateway(t, Hooks{}, func(o *Options) { o.MaxPerUser = 1 })
	g.dial(t, "A")
	second := g.dialRaw(t, token(t, testSecret, "A"), nil)
	expectClose(t, second, websocket.ClosePolicyViolation)
	if st := g.srv.Registry().Stats(); st.Connections != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	g := newGateway(t, Hooks{}, nil)
	a, ca := g.dial(t, "A")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := g.srv.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	expectClose(t, a, websocket.CloseGoingAway)
	if ca.State() != StateClosed {
		t.Fatalf("state = %v", ca.State())
	}

	_, resp, err := websocket.DefaultDialer.Dial(g.wsURL(token(t, testSecret, "B")), nil)
	if err == nil {
		t.Fatal("dial after shutdown should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("resp = %v", resp)
	}
}

func TestHealthAndStats(t *testing.T) {
	g := newGateway(t, Hooks{}, nil)
	a, _ := g.dial(t, "A")
	sendEvent(t, a, EventJoinRoom, "lobby", nil)
	readEnvelope(t, a)

	resp, err := http.Get(g.ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	resp, err = http.Get(g.ts.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Code int         `json:"code"`
		Data ServerStats `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Code != 200 || body.Data.GatewayID != "gw-test" || body.Data.Connections != 1 || body.Data.Rooms != 1 {
		t.Fatalf("stats = %+v", body)
	}
}

type recordingHooks struct {
	mu        sync.Mutex
	presence  []string
	history   []*message.Record
	published []*message.Record
}

func (h *recordingHooks) note(op, user string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.presence = append(h.presence, op+":"+user)
	return nil
}

func (h *recordingHooks) Online(_ context.Context, u, _ string) error  { return h.note("online", u) }
func (h *recordingHooks) Refresh(_ context.Context, u, _ string) error { return h.note("refresh", u) }
func (h *recordingHooks) Offline(_ context.Context, u, _ string) error { return h.note("offline", u) }

func (h *recordingHooks) Append(_ context.Context, rec *message.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, rec)
	return nil
}

func (h *recordingHooks) Publish(_ context.Context, rec *message.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published = append(h.published, rec)
	return nil
}

func TestHooksReceiveRecords(t *testing.T) {
	rec := &recordingHooks{}
	g := newGateway(t, Hooks{Presence: rec, History: rec, Publisher: rec}, func(o *Options) { o.HookWorkers = 1 })
	a, ca := g.dial(t, "A")
	sendEvent(t, a, EventJoinRoom, "lobby", nil)
	readEnvelope(t, a)
	sendEvent(t, a, EventSendMessage, "lobby", strp("hi"))
	readEnvelope(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := g.srv.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.history) != 1 {
		t.Fatalf("history = %d records", len(rec.history))
	}
	h := rec.history[0]
	if h.Event != EventNewMessage || h.From != "A" || h.RoomID != "lobby" || h.Text() != "hi" ||
		h.ConnID != ca.ID || h.GatewayID != "gw-test" || h.ID == "" {
		t.Fatalf("history record = %+v", h)
	}
	// join, message, and the departure announced on shutdown
	var events []string
	for _, p := range rec.published {
		events = append(events, p.Event)
	}
	if strings.Join(events, ",") != "join_room,new_message,leave_room" {
		t.Fatalf("published = %v", events)
	}
	if len(rec.presence) < 2 || rec.presence[0] != "online:A" || rec.presence[len(rec.presence)-1] != "offline:A" {
		t.Fatalf("presence = %v", rec.presence)
	}
}
