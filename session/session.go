// Package session implements the latency session: a long-lived WebSocket
// connection on which clients measure round-trip times.
//
// Every session runs a receiver goroutine and a sender loop. The receiver
// reads frames, answers text frames through the message package and queues
// the replies; the sender writes them in the order they were queued. Binary
// frames are counted and dropped.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
	"github.com/m-lab/netprobe-server/logging"
	"github.com/m-lab/netprobe-server/spec"
)

// State is the lifecycle state of a Session.
type State int32

const (
	// Open sessions may still exchange frames.
	Open = State(iota)
	// Closed is terminal.
	Closed
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// Config bounds the resources used by a session.
type Config struct {
	// IdleTimeout closes the session when no frame arrives for this long.
	IdleTimeout time.Duration
	// WriteTimeout bounds the time spent writing a single reply.
	WriteTimeout time.Duration
	// MaxMessageSize is the largest frame accepted from the peer.
	MaxMessageSize int64
	// QueueSize is the number of replies waiting for the sender.
	QueueSize int
}

// DefaultConfig returns the configuration used by the server.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:    spec.DefaultSessionIdleTimeout,
		WriteTimeout:   spec.SessionWriteTimeout,
		MaxMessageSize: spec.MaxSessionMessageSize,
		QueueSize:      spec.SessionReplyQueue,
	}
}

// Session owns one upgraded connection. Closing the session closes the
// connection and vice versa.
type Session struct {
	ID string

	conn   *websocket.Conn
	config Config
	logger *log.Entry

	writeMu   sync.Mutex
	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error

	// readErr is written by the receiver before it closes its output channel.
	readErr error
}

// New creates an open session for conn. The session takes ownership of conn.
func New(conn *websocket.Conn, id string, config Config) *Session {
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	return &Session{
		ID:     id,
		conn:   conn,
		config: config,
		logger: logging.ForProbe("session", id),
	}
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Close moves the session to Closed and closes the connection. It is safe to
// call Close more than once and from any goroutine.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(Closed))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// startClosing sends a close frame to the peer. The connection is not closed.
func (s *Session) startClosing(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	d := time.Now().Add(time.Second) // Liveness!
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, d); err != nil {
		s.logger.WithError(err).Debug("session: conn.WriteControl failed")
	}
}

// Run serves the session until the peer closes it, a transport error
// occurs, or ctx is done. The session is Closed when Run returns. A nil
// error means the peer closed the session cleanly.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Debug("session: start")
	defer s.logger.Debug("session: stop")
	defer s.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.startClosing(websocket.CloseGoingAway, "server going away")
			s.Close()
		case <-stop:
		}
	}()

	replies := s.startReceiver(ctx)
	if err := s.send(replies); err != nil {
		return err
	}
	return s.readErr
}
