package chat

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type session struct {
	id       uuid.UUID
	username string
	joined   time.Time
	conn     Conn

	outbox   chan string
	done     chan struct{}
	stopOnce sync.Once
	kicked   atomic.Bool
}

// send queues text without blocking. It returns false if outbox is full.
func (s *session) send(text string) bool {
	select {
	case s.outbox <- text:
		return true
	default:
		return false
	}
}

// writeLoop writes queued messages until stop is called or write fails.
// Failed write closes the connection, which in turn stops the reader.
func (s *session) writeLoop() {
	for {
		select {
		case text := <-s.outbox:
			if err := s.conn.WriteText(text); err != nil {
				s.conn.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// kick closes connection of a session which can not keep up with incoming
// messages. Must be called after the session is removed from the hub.
func (s *session) kick() {
	s.kicked.Store(true)
	s.conn.Close()
}

// readError converts the error which has ended the read loop into the result
// of the session.
func (s *session) readError(err error) error {
	switch {
	case s.kicked.Load():
		return ErrSlowConsumer
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return nil
	}
	return err
}
