// Command echo is a websocket server which sends every received text message
// back to the client.
//
// Mode flag selects the API used to serve connections:
//
//	raw     ws.Negotiate, ws.DecodeText and ws.EncodeText over plain buffers;
//	frames  ws.Upgrade with ws.ReadHeader and ws.WriteHeader;
//	conn    wsutil.Accept and wsutil.Conn.
package main

import (
	"bufio"
	"bytes"
	"errors"
	"flag"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/textws/ws"
	"github.com/textws/ws/wsutil"
)

var (
	addr    = flag.String("listen", ":9001", "addr to listen")
	mode    = flag.String("mode", "conn", "serving mode: raw, frames or conn")
	maxSize = flag.Int64("max", 1<<20, "max message size")
)

func main() {
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var handler func(net.Conn) error
	switch *mode {
	case "raw":
		handler = serveRaw
	case "frames":
		handler = serveFrames
	case "conn":
		handler = serveConn
	default:
		logger.Fatal("unknown mode", zap.String("mode", *mode))
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatal("listen error", zap.String("addr", *addr), zap.Error(err))
	}
	logger.Info("listening", zap.Stringer("addr", ln.Addr()), zap.String("mode", *mode))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, os.Interrupt)
	go func() {
		s := <-sig
		logger.Info("signal received; shutting down", zap.Stringer("signal", s))
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Error("accept error", zap.Error(err))
			}
			return
		}
		go func() {
			defer conn.Close()
			log := logger.With(zap.Stringer("remote", conn.RemoteAddr()))
			if err := handler(conn); err != nil && !errors.Is(err, io.EOF) {
				log.Info("connection closed", zap.Error(err))
			}
		}()
	}
}

// serveRaw does all buffering by hand. Frames are decoded only when fully
// received.
func serveRaw(conn net.Conn) error {
	var (
		buf = make([]byte, 0, 4096)
		tmp = make([]byte, 4096)
	)
	read := func() error {
		n, err := conn.Read(tmp)
		buf = append(buf, tmp[:n]...)
		return err
	}

	// Handshake.
	for {
		if i := bytes.Index(buf, []byte("\r\n\r\n")); i != -1 {
			resp, err := ws.Negotiate(buf[:i+4])
			if err != nil {
				return err
			}
			if _, err = conn.Write(resp); err != nil {
				return err
			}
			buf = append(buf[:0], buf[i+4:]...)
			break
		}
		if len(buf) > ws.DefaultMaxRequestSize {
			return ws.ErrRequestTooLarge
		}
		if err := read(); err != nil {
			return err
		}
	}

	out := make([]byte, 0, 4096)
	for {
		h, n, err := ws.DecodeHeader(buf)
		if errors.Is(err, ws.ErrTruncatedFrame) {
			if err = read(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if h.Length > *maxSize {
			return ws.ErrOversizedPayload
		}
		size := n + int(h.Length)
		if len(buf) < size {
			if err = read(); err != nil {
				return err
			}
			continue
		}

		text, err := ws.DecodeText(buf[:size], *maxSize)
		if err != nil {
			return err
		}
		buf = append(buf[:0], buf[size:]...)

		out = ws.AppendText(out[:0], text)
		if _, err = conn.Write(out); err != nil {
			return err
		}
	}
}

// serveFrames reads frame headers and payloads from the buffered stream and
// writes frames back with the reused header.
func serveFrames(conn net.Conn) error {
	br := bufio.NewReader(conn)
	if _, err := ws.Upgrade(br, conn); err != nil {
		return err
	}
	for {
		h, err := ws.ReadHeader(br)
		if err != nil {
			return err
		}
		if err = ws.CheckHeader(h, ws.StateServerSide); err != nil {
			return err
		}
		if h.Length > *maxSize {
			return ws.ErrOversizedPayload
		}

		payload := make([]byte, h.Length)
		if _, err = io.ReadFull(br, payload); err != nil {
			return err
		}
		ws.Cipher(payload, h.Mask, 0)

		h.Masked = false
		h.Mask = [4]byte{}
		if err = ws.WriteFrame(conn, ws.Frame{Header: h, Payload: payload}); err != nil {
			return err
		}
	}
}

func serveConn(conn net.Conn) error {
	c, err := wsutil.Accept(conn, wsutil.Config{
		Upgrader:       ws.Upgrader{Strict: true},
		MaxMessageSize: *maxSize,
		CheckUTF8:      true,
	})
	if err != nil {
		return err
	}
	for {
		text, err := c.ReadText()
		if err != nil {
			return err
		}
		if err = c.WriteText(text); err != nil {
			return err
		}
	}
}
