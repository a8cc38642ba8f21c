package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/jweaver-ca/stock-ticker/internal/game"
	"github.com/jweaver-ca/stock-ticker/internal/wire"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startTestServer runs a server with one registered game on an ephemeral
// port and returns the server, the game and the dial address.
func startTestServer(t *testing.T) (*Server, *game.Game, string) {
	t.Helper()
	logger := quietLogger()
	srv := New(logger)
	var g *game.Game
	g = game.New("default-game", game.Options{
		TickEvery: time.Hour,
		GameLen:   time.Hour,
	}, logger, func(n game.Notice) {
		srv.Deliver(g, n)
	})
	srv.AddGame(g)
	t.Cleanup(g.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, "127.0.0.1:0")
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Log("server did not stop in time")
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server never started listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv, g, srv.Addr().String()
}

// testClient is a minimal game client speaking the framed protocol.
type testClient struct {
	t    *testing.T
	conn net.Conn
	dec  *wire.Decoder
	held []wire.Envelope
}

func rawConnect(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := &testClient{t: t, conn: conn, dec: wire.NewDecoder()}
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

// connect dials and completes the handshake as name.
func connect(t *testing.T, addr, name string) *testClient {
	t.Helper()
	c := rawConnect(t, addr)
	c.send(wire.TypeInitConn, name)
	c.expect(wire.TypeConnAccept)
	return c
}

func (c *testClient) send(msgType string, data any) {
	c.t.Helper()
	env, err := wire.New(msgType, data)
	if err != nil {
		c.t.Fatalf("build %s: %v", msgType, err)
	}
	raw, err := wire.Encode(env)
	if err != nil {
		c.t.Fatalf("encode %s: %v", msgType, err)
	}
	if _, err := c.conn.Write(raw); err != nil {
		c.t.Fatalf("write %s: %v", msgType, err)
	}
}

// expect reads until a message of the wanted type arrives, holding any
// other messages aside for later expectations.
func (c *testClient) expect(msgType string) wire.Envelope {
	c.t.Helper()
	for i, env := range c.held {
		if env.Type == msgType {
			c.held = append(c.held[:i], c.held[i+1:]...)
			return env
		}
	}
	buf := make([]byte, 1024)
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		n, err := c.conn.Read(buf)
		if err != nil {
			c.t.Fatalf("waiting for %s: %v (held: %v)", msgType, err, c.heldTypes())
		}
		results, ferr := c.dec.Feed(buf[:n])
		if ferr != nil {
			c.t.Fatalf("feed: %v", ferr)
		}
		var found *wire.Envelope
		for _, res := range results {
			if res.Err != nil {
				c.t.Fatalf("decode: %v", res.Err)
			}
			if found == nil && res.Env.Type == msgType {
				env := res.Env
				found = &env
				continue
			}
			c.held = append(c.held, res.Env)
		}
		if found != nil {
			return *found
		}
	}
}

func (c *testClient) heldTypes() []string {
	out := make([]string, len(c.held))
	for i, env := range c.held {
		out[i] = env.Type
	}
	return out
}

// expectClosed asserts the server hangs up on this connection.
func (c *testClient) expectClosed() {
	c.t.Helper()
	buf := make([]byte, 64)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return
		}
		if _, ferr := c.dec.Feed(buf[:n]); ferr != nil {
			return
		}
	}
}

func (c *testClient) join(g *game.Game) {
	c.t.Helper()
	c.send(wire.TypeJoinGame, wire.JoinRequest{Name: g.Name, ID: g.ID})
	c.expect(wire.TypeInitGame)
	c.expect(wire.TypeGameStat)
	c.expect(wire.TypePlayerList)
}

func TestJoinBroadcastsPlayerList(t *testing.T) {
	_, g, addr := startTestServer(t)

	a := connect(t, addr, "A")
	a.send(wire.TypeJoinGame, wire.JoinRequest{Name: g.Name, ID: g.ID})

	var info wire.GameInfo
	if err := a.expect(wire.TypeInitGame).DecodeData(&info); err != nil {
		t.Fatalf("initgame: %v", err)
	}
	if info.Cash != game.InitCash || len(info.Portfolio) != game.NumStocks || len(info.Market) != game.NumStocks {
		t.Fatalf("initgame payload: %+v", info)
	}
	a.expect(wire.TypeGameStat)
	var joined wire.Joined
	if err := a.expect(wire.TypeJoined).DecodeData(&joined); err != nil {
		t.Fatalf("joined: %v", err)
	}
	if joined.NewPlayer != "A" {
		t.Fatalf("joined = %+v", joined)
	}
	a.expect(wire.TypePlayerList)

	b := connect(t, addr, "B")
	b.join(g)

	// A hears about B, and both ultimately see the same list.
	if err := a.expect(wire.TypeJoined).DecodeData(&joined); err != nil {
		t.Fatalf("joined: %v", err)
	}
	if joined.NewPlayer != "B" || len(joined.All) != 2 || joined.All[0] != "A" || joined.All[1] != "B" {
		t.Fatalf("joined = %+v", joined)
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	_, _, addr := startTestServer(t)

	connect(t, addr, "A")

	dup := rawConnect(t, addr)
	dup.send(wire.TypeInitConn, "A")
	var reason string
	if err := dup.expect(wire.TypeError).DecodeData(&reason); err != nil {
		t.Fatalf("error payload: %v", err)
	}
	dup.expectClosed()
}

func TestFirstMessageMustBeHandshake(t *testing.T) {
	_, _, addr := startTestServer(t)

	c := rawConnect(t, addr)
	c.send(wire.TypeMsg, "hello")
	c.expect(wire.TypeError)
	c.expectClosed()
}

func TestBuySellApproval(t *testing.T) {
	_, g, addr := startTestServer(t)

	a := connect(t, addr, "A")
	a.join(g)

	lines := make([]wire.OrderLine, game.NumStocks)
	for i := range lines {
		lines[i] = wire.OrderLine{Price: game.InitVal}
	}
	lines[0] = wire.OrderLine{Shares: 500, Price: game.InitVal}
	a.send(wire.TypeBuySell, wire.BuySellRequest{ReqID: "req-1", Lines: lines})

	var approval wire.Approval
	if err := a.expect(wire.TypeApprove).DecodeData(&approval); err != nil {
		t.Fatalf("approve payload: %v", err)
	}
	if !approval.Approved || approval.ReqID != "req-1" {
		t.Fatalf("approval = %+v", approval)
	}
	if approval.Cost != 500 || approval.Cash != game.InitCash-500 || approval.Portfolio[0] != 500 {
		t.Fatalf("approval = %+v", approval)
	}
}

func TestChatBroadcast(t *testing.T) {
	_, _, addr := startTestServer(t)

	a := connect(t, addr, "A")
	b := connect(t, addr, "B")

	a.send(wire.TypeMsg, "hello there")
	for _, c := range []*testClient{a, b} {
		var chat wire.ChatMsg
		if err := c.expect(wire.TypeChatMsg).DecodeData(&chat); err != nil {
			t.Fatalf("chat payload: %v", err)
		}
		if chat.PlayerName != "A" || chat.Message != "hello there" {
			t.Fatalf("chat = %+v", chat)
		}
	}
}

func TestUnknownTypeKeepsSessionAlive(t *testing.T) {
	_, _, addr := startTestServer(t)

	a := connect(t, addr, "A")
	a.send("no-such-type", nil)
	a.expect(wire.TypeError)

	// Still connected and serviced.
	a.send(wire.TypeMsg, "still here")
	a.expect(wire.TypeChatMsg)
}

func TestDisconnectCleanup(t *testing.T) {
	srv, g, addr := startTestServer(t)

	a := connect(t, addr, "A")
	a.join(g)
	b := connect(t, addr, "B")
	b.join(g)
	a.expect(wire.TypeJoined)

	_ = a.conn.Close()

	var gone string
	if err := b.expect(wire.TypeDisconnect).DecodeData(&gone); err != nil {
		t.Fatalf("disconnect payload: %v", err)
	}
	if gone != "A" {
		t.Fatalf("disconnect = %q", gone)
	}
	var list []string
	if err := b.expect(wire.TypePlayerList).DecodeData(&list); err != nil {
		t.Fatalf("playerlist payload: %v", err)
	}
	if len(list) != 1 || list[0] != "B" {
		t.Fatalf("playerlist = %v", list)
	}

	deadline := time.Now().Add(2 * time.Second)
	for g.HasPlayer("A") || srv.SessionCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("cleanup incomplete: players=%v sessions=%d", g.PlayerNames(), srv.SessionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReadyStartBeginsGame(t *testing.T) {
	_, g, addr := startTestServer(t)

	a := connect(t, addr, "A")
	a.join(g)
	b := connect(t, addr, "B")
	b.join(g)

	a.send(wire.TypeReadyStart, nil)
	var note string
	if err := a.expect(wire.TypeServerMsg).DecodeData(&note); err != nil {
		t.Fatalf("servermsg payload: %v", err)
	}
	if note != "A is ready to start" {
		t.Fatalf("servermsg = %q", note)
	}
	if g.Status() != game.StatusWaitingStart {
		t.Fatalf("game started early")
	}

	b.send(wire.TypeReadyStart, nil)
	var start wire.GameStart
	if err := a.expect(wire.TypeGameStart).DecodeData(&start); err != nil {
		t.Fatalf("gamestart payload: %v", err)
	}
	if start.GameLen != 60 {
		t.Fatalf("gamelen = %v", start.GameLen)
	}
	var stat string
	if err := a.expect(wire.TypeGameStat).DecodeData(&stat); err != nil {
		t.Fatalf("gamestat payload: %v", err)
	}
	if stat != "RUNNING" {
		t.Fatalf("gamestat = %q", stat)
	}
	// The roll timer announces its countdown once play begins.
	b.expect(wire.TypeActionTime)
}

func TestExitMessageDisconnects(t *testing.T) {
	srv, g, addr := startTestServer(t)

	a := connect(t, addr, "A")
	a.join(g)
	a.send(wire.TypeExit, nil)

	deadline := time.Now().Add(2 * time.Second)
	for srv.SessionCount() != 0 || g.HasPlayer("A") {
		if time.Now().After(deadline) {
			t.Fatalf("exit did not clean up: sessions=%d", srv.SessionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
