package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/jweaver-ca/stock-ticker/internal/game"
	"github.com/jweaver-ca/stock-ticker/internal/wire"
)

// handleMessage dispatches one decoded message from a session. A failing
// handler answers the client with an error message; it never ends the
// session or the accept loop.
func (s *Server) handleMessage(sess *Session, env wire.Envelope) {
	var err error
	switch env.Type {
	case wire.TypeMsg:
		err = s.handleChat(sess, env)
	case wire.TypeJoinGame:
		err = s.handleJoinGame(sess, env)
	case wire.TypeReadyStart:
		err = s.handleReadyStart(sess)
	case wire.TypeBuySell:
		err = s.handleBuySell(sess, env)
	case wire.TypeExit:
		s.log.Info("exit requested", "player", sess.name)
		s.dropSession(sess)
		return
	default:
		s.log.Warn("unrecognized message type", "player", sess.name, "type", env.Type)
		sess.sendError(fmt.Sprintf("Unrecognized message type: %s", env.Type))
		return
	}
	if err != nil {
		s.log.Warn("message handling failed", "player", sess.name, "type", env.Type, "error", err)
		sess.sendError(fmt.Sprintf("%s failed: %v", env.Type, err))
	}
}

// handleChat relays a chat line to every connected client.
func (s *Server) handleChat(sess *Session, env wire.Envelope) error {
	var line string
	if err := env.DecodeData(&line); err != nil {
		return err
	}
	s.broadcastAll(wire.TypeChatMsg, wire.ChatMsg{
		Time:       time.Now().UTC().Format(time.RFC3339),
		PlayerName: sess.name,
		Message:    line,
	})
	return nil
}

// handleJoinGame admits the session's player into the named game and sends
// the opening position. Failures answer with joinfail and leave the session
// connected.
func (s *Server) handleJoinGame(sess *Session, env wire.Envelope) error {
	var req wire.JoinRequest
	if err := env.DecodeData(&req); err != nil {
		return err
	}

	fail := func(reason string) error {
		failEnv, err := wire.New(wire.TypeJoinFail, wire.JoinFail{Reason: reason})
		if err != nil {
			return err
		}
		return sess.sendEnvelope(failEnv)
	}

	s.mu.Lock()
	already := sess.joined != nil
	s.mu.Unlock()
	if already {
		return fail("already in a game")
	}
	g, ok := s.games[req.Name]
	if !ok {
		return fail("game not found")
	}
	if req.ID != g.ID {
		return fail("wrong game id")
	}
	if _, err := g.AddPlayer(sess.name); err != nil {
		if errors.Is(err, game.ErrDuplicatePlayer) {
			return fail("already in this game")
		}
		return err
	}
	s.mu.Lock()
	sess.joined = g
	s.mu.Unlock()

	info, err := g.InitGameInfo(sess.name)
	if err != nil {
		return err
	}
	if infoEnv, err := wire.New(wire.TypeInitGame, info); err == nil {
		_ = sess.sendEnvelope(infoEnv)
	}
	if statEnv, err := wire.New(wire.TypeGameStat, g.Status().String()); err == nil {
		_ = sess.sendEnvelope(statEnv)
	}
	s.broadcastAll(wire.TypeJoined, wire.Joined{NewPlayer: sess.name, All: g.PlayerNames()})
	listEnv, err := wire.New(wire.TypePlayerList, g.PlayerNames())
	if err != nil {
		return err
	}
	return sess.sendEnvelope(listEnv)
}

// handleReadyStart marks the player ready; once everyone is, the game
// starts and the start of play is broadcast.
func (s *Server) handleReadyStart(sess *Session) error {
	g := s.joinedGame(sess)
	if g == nil {
		return errors.New("not in a game")
	}
	first, allReady, err := g.Ready(sess.name)
	if err != nil {
		return err
	}
	if first {
		s.broadcastAll(wire.TypeServerMsg, fmt.Sprintf("%s is ready to start", sess.name))
	}
	if !allReady || g.Status() != game.StatusWaitingStart {
		return nil
	}
	if err := g.StartGame(); err != nil {
		// A concurrent readystart may have started the game first.
		if errors.Is(err, game.ErrInvalidState) {
			return nil
		}
		return err
	}
	s.broadcastAll(wire.TypeGameStart, wire.GameStart{
		GameLen:  g.GameLen(),
		StopTime: g.EndTime().Format(time.RFC3339),
	})
	s.broadcastAll(wire.TypeGameStat, g.Status().String())
	return nil
}

// handleBuySell validates and applies an order, answering the requester
// with the approval record.
func (s *Server) handleBuySell(sess *Session, env wire.Envelope) error {
	g := s.joinedGame(sess)
	if g == nil {
		return errors.New("not in a game")
	}
	var req wire.BuySellRequest
	if err := env.DecodeData(&req); err != nil {
		return err
	}
	approval, err := g.ProcessOrder(sess.name, req)
	if err != nil {
		return err
	}
	approveEnv, err := wire.New(wire.TypeApprove, approval)
	if err != nil {
		return err
	}
	return sess.sendEnvelope(approveEnv)
}

func (s *Server) joinedGame(sess *Session) *game.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sess.joined
}
