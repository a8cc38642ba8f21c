package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jweaver-ca/stock-ticker/internal/game"
	"github.com/jweaver-ca/stock-ticker/internal/wire"
)

const (
	// sendBufferSize is the outbound queue depth per session. A session
	// that cannot drain this is treated as gone.
	sendBufferSize = 64
	readChunkSize  = 1024
	writeTimeout   = 10 * time.Second
)

// errSendBufferFull reports backpressure on the outbound queue; the server
// treats it as an implicit disconnect.
var errSendBufferFull = errors.New("server: session send buffer full")
var errSessionClosed = errors.New("server: session closed")

// Session wraps one accepted client connection after its handshake. It owns
// the frame decoder and a buffered outbound queue drained by a writer
// goroutine; completed inbound messages are dispatched to the server's
// handler with the session's identity.
type Session struct {
	name string
	conn net.Conn
	log  *slog.Logger
	dec  *wire.Decoder

	send   chan []byte
	closed atomic.Bool
	cancel context.CancelFunc

	// joined is the game this session's player belongs to, nil until a
	// successful join-game. Guarded by the server mutex.
	joined *game.Game
}

func newSession(name string, conn net.Conn, logger *slog.Logger) *Session {
	return &Session{
		name: name,
		conn: conn,
		log:  logger,
		dec:  wire.NewDecoder(),
		send: make(chan []byte, sendBufferSize),
	}
}

// Name is the display name accepted at handshake.
func (s *Session) Name() string { return s.name }

// run drives the session's read and write loops until either fails or the
// context is canceled. The connection is closed when run returns.
func (s *Session) run(ctx context.Context, onMessage func(*Session, wire.Envelope)) error {
	ctx, s.cancel = context.WithCancel(ctx)
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error { return s.readLoop(child, onMessage) })
	group.Go(func() error { return s.writeLoop(child) })

	// A blocked Read only returns once the connection closes, so tie the
	// connection's life to the group context.
	go func() {
		<-child.Done()
		_ = s.conn.Close()
	}()

	err := group.Wait()
	s.close()
	return err
}

// readLoop feeds raw reads into the decoder. A decode failure of one
// message is answered with an error message and the loop continues; a
// framing violation or peer loss ends the session.
func (s *Session) readLoop(ctx context.Context, onMessage func(*Session, wire.Envelope)) error {
	buf := make([]byte, readChunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := s.conn.Read(buf)
		if n > 0 {
			results, ferr := s.dec.Feed(buf[:n])
			for _, res := range results {
				if res.Err != nil {
					s.log.Warn("undecodable message", "player", s.name, "error", res.Err)
					s.sendError(fmt.Sprintf("could not decode message: %v", res.Err))
					continue
				}
				onMessage(s, res.Env)
			}
			if ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := s.conn.Write(data); err != nil {
				return err
			}
		}
	}
}

// enqueue queues pre-encoded bytes for sending without blocking.
func (s *Session) enqueue(data []byte) error {
	if s.closed.Load() {
		return errSessionClosed
	}
	select {
	case s.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// sendEnvelope encodes and queues a message for this session alone.
func (s *Session) sendEnvelope(env wire.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		return err
	}
	return s.enqueue(data)
}

// sendError reports a per-message failure to the client without ending the
// session.
func (s *Session) sendError(reason string) {
	env, err := wire.New(wire.TypeError, reason)
	if err != nil {
		return
	}
	if err := s.sendEnvelope(env); err != nil {
		s.log.Debug("error message not delivered", "player", s.name, "error", err)
	}
}

func (s *Session) close() {
	if s.closed.Swap(true) {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.conn.Close()
}
