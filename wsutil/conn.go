package wsutil

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/pool/pbufio"

	"github.com/textws/ws"
)

const readBufferSize = 4096

// Config holds options of server side connection.
type Config struct {
	// Upgrader is used to perform the opening handshake.
	Upgrader ws.Upgrader

	// MaxMessageSize limits the payload size of both received and sent
	// messages. Zero means no limit.
	MaxMessageSize int64

	// HandshakeTimeout limits the time of the opening handshake.
	// Zero means no limit.
	HandshakeTimeout time.Duration

	// ReadTimeout limits the time of waiting for each next message.
	// Zero means no limit.
	ReadTimeout time.Duration

	// WriteTimeout limits the time of writing each message.
	// Zero means no limit.
	WriteTimeout time.Duration

	// CheckUTF8 makes ReadText reject text which is not valid UTF-8.
	CheckUTF8 bool
}

// Conn is a server side websocket connection exchanging text messages.
//
// Only one goroutine may call ReadText at a time. WriteText and Close are
// safe for concurrent use.
//
// Any error returned by ReadText or WriteText is final for the connection;
// the caller must Close it.
type Conn struct {
	conn net.Conn
	cfg  Config
	hs   ws.Handshake

	br *bufio.Reader

	wmu sync.Mutex
}

// Accept performs the opening handshake on conn. On failure the rejection
// response (if any) is already sent and the caller must close conn.
func Accept(conn net.Conn, cfg Config) (*Conn, error) {
	if t := cfg.HandshakeTimeout; t > 0 {
		if err := conn.SetDeadline(time.Now().Add(t)); err != nil {
			return nil, err
		}
	}

	br := pbufio.GetReader(conn, readBufferSize)
	hs, err := cfg.Upgrader.Upgrade(br, conn)
	if err != nil {
		pbufio.PutReader(br)
		return nil, fmt.Errorf("upgrade: %w", err)
	}

	if cfg.HandshakeTimeout > 0 {
		if err := conn.SetDeadline(time.Time{}); err != nil {
			pbufio.PutReader(br)
			return nil, err
		}
	}

	return &Conn{
		conn: conn,
		cfg:  cfg,
		hs:   hs,
		br:   br,
	}, nil
}

// Handshake returns the negotiated handshake.
func (c *Conn) Handshake() ws.Handshake { return c.hs }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// ReadText blocks until next text message is received.
func (c *Conn) ReadText() (string, error) {
	if c.br == nil {
		return "", net.ErrClosed
	}
	if t := c.cfg.ReadTimeout; t > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(t)); err != nil {
			return "", err
		}
	}

	text, err := ReadClientText(c.br, c.cfg.MaxMessageSize)
	if err == nil && c.cfg.CheckUTF8 {
		err = CheckText(text)
	}
	if err != nil {
		// Reader is not needed anymore and is owned by the reading
		// goroutine, so it is safe to release it here.
		pbufio.PutReader(c.br)
		c.br = nil
		return "", err
	}

	return text, nil
}

// WriteText sends text as a single frame.
func (c *Conn) WriteText(text string) error {
	if max := c.cfg.MaxMessageSize; max > 0 && int64(len(text)) > max {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ws.ErrOversizedPayload, len(text), max)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if t := c.cfg.WriteTimeout; t > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(t)); err != nil {
			return err
		}
	}
	return WriteServerText(c.conn, text)
}

// Close closes underlying connection. Blocked ReadText and WriteText calls
// are unblocked with an error.
func (c *Conn) Close() error {
	return c.conn.Close()
}
