// Package server accepts Stock Ticker client connections, performs the
// name handshake, and routes decoded messages between sessions and the
// game engine. All game mutation initiated here funnels through the game's
// own lock; the server only guards its session registry.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jweaver-ca/stock-ticker/internal/game"
	"github.com/jweaver-ca/stock-ticker/internal/wire"
)

const handshakeTimeout = 5 * time.Second

// Server owns the listener, the session registry and the set of joinable
// games. One Server hosts one process-lifetime set of games; games are
// registered before Serve and never removed.
type Server struct {
	log   *slog.Logger
	games map[string]*game.Game

	mu       sync.Mutex
	sessions map[string]*Session
	listener net.Listener
	shutdown bool
}

// New creates a server with an empty session registry.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		log:      logger,
		games:    make(map[string]*game.Game),
		sessions: make(map[string]*Session),
	}
}

// AddGame registers a joinable game. Not safe to call once Serve has
// started.
func (s *Server) AddGame(g *game.Game) {
	s.games[g.Name] = g
}

// Game returns a registered game by name.
func (s *Server) Game(name string) (*game.Game, bool) {
	g, ok := s.games[name]
	return g, ok
}

// SessionCount reports the number of connected clients.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Serve accepts connections until the context is canceled, then notifies
// all clients the server is going away and closes every session.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.log.Info("server listening", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		if tl, ok := listener.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now())
		} else {
			_ = listener.Close()
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			done := s.shutdown
			s.mu.Unlock()
			if done {
				s.closeAll()
				_ = listener.Close()
				s.log.Info("server stopped")
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		go s.handleConn(ctx, conn)
	}
}

// Addr returns the listener address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConn performs the handshake and, if accepted, registers the session
// and runs its loops until the peer goes away.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	sess, err := s.handshake(conn)
	if err != nil {
		s.log.Info("connection rejected", "remote", conn.RemoteAddr(), "reason", err)
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	s.sessions[sess.name] = sess
	total := len(s.sessions)
	s.mu.Unlock()
	s.log.Info("client connected", "player", sess.name, "remote", conn.RemoteAddr(), "clients", total)

	refs := make([]wire.GameRef, 0, len(s.games))
	for _, g := range s.games {
		refs = append(refs, wire.GameRef{Name: g.Name, ID: g.ID})
	}
	if env, err := wire.New(wire.TypeConnAccept, refs); err == nil {
		_ = sess.sendEnvelope(env)
	}

	err = sess.run(ctx, s.handleMessage)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug("session ended", "player", sess.name, "error", err)
	}
	s.dropSession(sess)
}

// handshake reads the distinguished first message. It must be an initconn
// carrying a nonempty, unused display name; anything else rejects the
// connection before it is registered anywhere.
func (s *Server) handshake(conn net.Conn) (*Session, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	dec := wire.NewDecoder()
	buf := make([]byte, readChunkSize)
	var first *wire.Result
	for first == nil {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("handshake read: %w", err)
		}
		results, ferr := dec.Feed(buf[:n])
		if ferr != nil {
			return nil, ferr
		}
		if len(results) > 0 {
			first = &results[0]
		}
	}
	if first.Err != nil {
		return nil, first.Err
	}
	if first.Env.Type != wire.TypeInitConn {
		s.rejectConn(conn, fmt.Sprintf("expected %s, got %s", wire.TypeInitConn, first.Env.Type))
		return nil, fmt.Errorf("first message type %q", first.Env.Type)
	}
	var name string
	if err := first.Env.DecodeData(&name); err != nil {
		s.rejectConn(conn, "initconn payload must be a name")
		return nil, err
	}
	if name == "" {
		s.rejectConn(conn, "empty name")
		return nil, errors.New("empty name")
	}

	s.mu.Lock()
	_, taken := s.sessions[name]
	s.mu.Unlock()
	if taken {
		s.rejectConn(conn, fmt.Sprintf("Client %s already connected", name))
		return nil, fmt.Errorf("name %q already connected", name)
	}
	return newSession(name, conn, s.log), nil
}

// rejectConn makes a best-effort error reply on a connection that never
// became a session.
func (s *Server) rejectConn(conn net.Conn, reason string) {
	env, err := wire.New(wire.TypeError, reason)
	if err != nil {
		return
	}
	data, err := wire.Encode(env)
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, _ = conn.Write(data)
}

// dropSession runs the disconnect cleanup path once: remove the player from
// its game, tell the others, unregister and close.
func (s *Server) dropSession(sess *Session) {
	s.mu.Lock()
	if _, ok := s.sessions[sess.name]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sess.name)
	g := sess.joined
	sess.joined = nil
	s.mu.Unlock()

	sess.close()
	if g != nil {
		g.RemovePlayer(sess.name)
		s.broadcastGame(g, wire.TypeDisconnect, sess.name)
		s.broadcastGame(g, wire.TypePlayerList, g.PlayerNames())
	}
	s.log.Info("client disconnected", "player", sess.name)
}

// closeAll notifies every client the server is going away, then closes all
// sessions.
func (s *Server) closeAll() {
	s.broadcastAll(wire.TypeServerExit, nil)
	s.mu.Lock()
	open := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	// Give the writer goroutines a moment to flush the exit notice.
	time.Sleep(100 * time.Millisecond)
	for _, sess := range open {
		sess.close()
	}
}

// Deliver routes an engine notice: directed notices go to one player,
// undirected ones to every session joined to the game. Engine callbacks
// land here from the roll timer goroutine.
func (s *Server) Deliver(g *game.Game, n game.Notice) {
	env, err := wire.New(n.Type, n.Data)
	if err != nil {
		s.log.Error("notice not encodable", "type", n.Type, "error", err)
		return
	}
	if n.To != "" {
		s.sendTo(n.To, env)
		return
	}
	s.broadcastGameEnv(g, env)
}

// broadcastAll sends one message to every connected session, serialized
// once. A session that cannot take it is dropped.
func (s *Server) broadcastAll(msgType string, data any) {
	env, err := wire.New(msgType, data)
	if err != nil {
		s.log.Error("broadcast not encodable", "type", msgType, "error", err)
		return
	}
	raw, err := wire.Encode(env)
	if err != nil {
		s.log.Error("broadcast not encodable", "type", msgType, "error", err)
		return
	}
	for _, sess := range s.snapshot(nil) {
		s.deliverRaw(sess, raw)
	}
}

// broadcastGame sends one message to every session joined to g.
func (s *Server) broadcastGame(g *game.Game, msgType string, data any) {
	env, err := wire.New(msgType, data)
	if err != nil {
		s.log.Error("broadcast not encodable", "type", msgType, "error", err)
		return
	}
	s.broadcastGameEnv(g, env)
}

func (s *Server) broadcastGameEnv(g *game.Game, env wire.Envelope) {
	raw, err := wire.Encode(env)
	if err != nil {
		s.log.Error("broadcast not encodable", "type", env.Type, "error", err)
		return
	}
	for _, sess := range s.snapshot(g) {
		s.deliverRaw(sess, raw)
	}
}

// sendTo delivers one message to one named session, if connected.
func (s *Server) sendTo(name string, env wire.Envelope) {
	s.mu.Lock()
	sess := s.sessions[name]
	s.mu.Unlock()
	if sess == nil {
		return
	}
	raw, err := wire.Encode(env)
	if err != nil {
		s.log.Error("message not encodable", "type", env.Type, "error", err)
		return
	}
	s.deliverRaw(sess, raw)
}

// snapshot copies the matching sessions out of the registry so sends never
// hold the server lock. A nil game matches every session.
func (s *Server) snapshot(g *game.Game) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if g == nil || sess.joined == g {
			out = append(out, sess)
		}
	}
	return out
}

// deliverRaw queues bytes on one session; failure is an implicit
// disconnect, never fatal to the broadcast.
func (s *Server) deliverRaw(sess *Session, raw []byte) {
	if err := sess.enqueue(raw); err != nil {
		s.log.Warn("send failed, dropping session", "player", sess.name, "error", err)
		go s.dropSession(sess)
	}
}
