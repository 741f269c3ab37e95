package session

import (
	"time"

	"github.com/m-lab/netprobe-server/metrics"
)

// write sends a single frame. Writes are serialized so that frames never
// interleave on the wire.
func (s *Session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.config.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil { // Liveness!
			return err
		}
	}
	return s.conn.WriteMessage(messageType, data)
}

// send writes replies in order until the channel is closed. On a write error
// the session is closed, which stops the receiver, and the channel is drained.
func (s *Session) send(replies <-chan reply) error {
	s.logger.Debug("sender: start")
	defer s.logger.Debug("sender: stop")
	for r := range replies {
		if err := s.write(r.messageType, r.data); err != nil {
			s.logger.WithError(err).Warn("sender: write failed")
			metrics.SessionErrors.WithLabelValues("write").Inc()
			s.Close()
			for range replies {
				// make sure the receiver is not stuck on a full queue
			}
			return err
		}
	}
	return nil
}
