package session

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-lab/netprobe-server/metrics"
	"github.com/m-lab/netprobe-server/session/message"
)

type reply struct {
	messageType int
	data        []byte
}

// startReceiver starts the receiver in a background goroutine. Replies are
// emitted on the returned channel, which is closed when the receiver stops.
//
// Liveness guarantees:
// 1) every read is bounded by the idle timeout;
// 2) the receiver stops when ctx is done, even while the queue is full.
func (s *Session) startReceiver(ctx context.Context) <-chan reply {
	out := make(chan reply, s.config.QueueSize)
	go func() {
		s.readErr = s.receive(ctx, out)
		close(out)
	}()
	return out
}

func (s *Session) extendReadDeadline() error {
	if s.config.IdleTimeout <= 0 {
		return nil
	}
	return s.conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout)) // Liveness!
}

func (s *Session) receive(ctx context.Context, out chan<- reply) error {
	s.logger.Debug("receiver: start")
	defer s.logger.Debug("receiver: stop")
	if s.config.MaxMessageSize > 0 {
		s.conn.SetReadLimit(s.config.MaxMessageSize)
	}
	s.conn.SetPongHandler(func(string) error {
		return s.extendReadDeadline()
	})
	for ctx.Err() == nil {
		if err := s.extendReadDeadline(); err != nil {
			metrics.SessionErrors.WithLabelValues("set-read-deadline").Inc()
			return s.readFailed(ctx, err)
		}
		// NextReader lets us discard binary frames without buffering them.
		mtype, r, err := s.conn.NextReader()
		if err != nil {
			return s.readFailed(ctx, err)
		}
		switch mtype {
		case websocket.BinaryMessage:
			n, err := io.Copy(io.Discard, r)
			if err != nil {
				return s.readFailed(ctx, err)
			}
			s.logger.WithField("bytes", n).Debug("receiver: binary frame")
			metrics.SessionFrames.WithLabelValues("binary").Inc()
			metrics.ProbeBytes.WithLabelValues("session").Add(float64(n))
		case websocket.TextMessage:
			data, err := io.ReadAll(r)
			if err != nil {
				return s.readFailed(ctx, err)
			}
			kind, payload := message.Reply(data)
			metrics.SessionFrames.WithLabelValues(kind.String()).Inc()
			select {
			case out <- reply{messageType: websocket.TextMessage, data: payload}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return ctx.Err()
}

// readFailed classifies a read error. Clean closes by the peer are not
// errors.
func (s *Session) readFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure,
		websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		s.logger.Debug("receiver: peer closed the session")
		return nil
	}
	if s.State() == Closed {
		return err
	}
	var netErr net.Error
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		metrics.SessionErrors.WithLabelValues("read-limit").Inc()
	case errors.As(err, &netErr) && netErr.Timeout():
		metrics.SessionErrors.WithLabelValues("idle-timeout").Inc()
	default:
		metrics.SessionErrors.WithLabelValues("read").Inc()
	}
	s.logger.WithError(err).Warn("receiver: read failed")
	return err
}
