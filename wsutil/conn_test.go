package wsutil

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"nhooyr.io/websocket"

	"github.com/textws/ws"
)

/*************************************************************************************************/
/* TEST SUITES                                                                                   */
/*************************************************************************************************/

// Test suite for Conn over in-memory pipe.
type ConnUnitTestSuite struct {
	suite.Suite
}

// Run ConnUnitTestSuite test suite
func TestConnUnitTestSuite(t *testing.T) {
	suite.Run(t, new(ConnUnitTestSuite))
}

// Test suite for Conn talking to third party websocket clients.
type ConnInteropTestSuite struct {
	suite.Suite
	ln   net.Listener
	addr string
}

// Run ConnInteropTestSuite test suite
func TestConnInteropTestSuite(t *testing.T) {
	suite.Run(t, new(ConnInteropTestSuite))
}

// ConnInteropTestSuite - Before all tests: start echo server.
func (suite *ConnInteropTestSuite) SetupSuite() {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(suite.T(), err)
	suite.ln = ln
	suite.addr = ln.Addr().String()

	cfg := Config{
		Upgrader:         ws.Upgrader{Strict: true},
		MaxMessageSize:   1 << 20,
		HandshakeTimeout: 5 * time.Second,
		CheckUTF8:        true,
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go echo(conn, cfg)
		}
	}()
}

// ConnInteropTestSuite - After all tests
func (suite *ConnInteropTestSuite) TearDownSuite() {
	suite.ln.Close()
}

func echo(conn net.Conn, cfg Config) {
	defer conn.Close()
	c, err := Accept(conn, cfg)
	if err != nil {
		return
	}
	for {
		text, err := c.ReadText()
		if err != nil {
			return
		}
		if err = c.WriteText(text); err != nil {
			return
		}
	}
}

/*************************************************************************************************/
/* CONN - UNIT TESTS                                                                             */
/*************************************************************************************************/

// # Description
//
// Accept a connection over net.Pipe, exchange text messages both ways and check the handshake.
func (suite *ConnUnitTestSuite) TestAcceptReadWrite() {
	server, client := net.Pipe()
	defer client.Close()

	type result struct {
		conn *Conn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		c, err := Accept(server, Config{Upgrader: ws.Upgrader{Strict: true}})
		accepted <- result{c, err}
	}()

	_, err := client.Write([]byte(
		"GET /chat HTTP/1.1\r\n" +
			"Host: example.com\r\n" +
			"Upgrade: websocket\r\n" +
			"Connection: Upgrade\r\n" +
			"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
			"Sec-WebSocket-Version: 13\r\n" +
			"\r\n",
	))
	require.NoError(suite.T(), err)

	br := bufio.NewReader(client)
	resp, err := http.ReadResponse(br, nil)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), http.StatusSwitchingProtocols, resp.StatusCode)
	require.Equal(suite.T(), "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", resp.Header.Get("Sec-WebSocket-Accept"))

	res := <-accepted
	require.NoError(suite.T(), res.err)
	c := res.conn
	defer c.Close()

	hs := c.Handshake()
	require.Equal(suite.T(), "/chat", hs.URI)
	require.Equal(suite.T(), "dGhlIHNhbXBsZSBub25jZQ==", hs.Key)
	require.Equal(suite.T(), "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", hs.Accept)

	// Client to server.
	go WriteClientText(client, "ping")
	text, err := c.ReadText()
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "ping", text)

	// Server to client.
	go c.WriteText("pong")
	text, err = ReadServerText(br, 0)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "pong", text)
}

// # Description
//
// Rejected handshake must be reported by Accept and answered with an error response.
func (suite *ConnUnitTestSuite) TestAcceptRejected() {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	accepted := make(chan error, 1)
	go func() {
		_, err := Accept(server, Config{})
		accepted <- err
	}()

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	require.NoError(suite.T(), err)

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), http.StatusBadRequest, resp.StatusCode)

	err = <-accepted
	require.ErrorIs(suite.T(), err, ws.ErrMissingHandshakeKey)
}

// # Description
//
// After ReadText fails, subsequent calls must fail too without touching the connection.
func (suite *ConnUnitTestSuite) TestReadTextAfterError() {
	server, client := net.Pipe()
	defer client.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		c, _ := Accept(server, Config{MaxMessageSize: 4})
		accepted <- c
	}()
	_, err := client.Write([]byte("GET / HTTP/1.1\r\nSec-WebSocket-Key: " + ws.NewKey() + "\r\n\r\n"))
	require.NoError(suite.T(), err)
	_, err = http.ReadResponse(bufio.NewReader(client), nil)
	require.NoError(suite.T(), err)

	c := <-accepted
	require.NotNil(suite.T(), c)
	defer c.Close()

	go WriteClientText(client, "too long")
	_, err = c.ReadText()
	require.ErrorIs(suite.T(), err, ws.ErrOversizedPayload)

	_, err = c.ReadText()
	require.ErrorIs(suite.T(), err, net.ErrClosed)
}

// # Description
//
// WriteText must refuse text longer than MaxMessageSize.
func (suite *ConnUnitTestSuite) TestWriteTextOversized() {
	server, client := net.Pipe()
	defer client.Close()
	c := &Conn{conn: server, cfg: Config{MaxMessageSize: 3}}
	defer c.Close()

	err := c.WriteText("four")
	require.ErrorIs(suite.T(), err, ws.ErrOversizedPayload)
}

/*************************************************************************************************/
/* CONN - INTEROP TESTS                                                                          */
/*************************************************************************************************/

// # Description
//
// gorilla/websocket client connects to the echo server and gets its messages back.
func (suite *ConnInteropTestSuite) TestGorillaEcho() {
	conn, resp, err := gorilla.DefaultDialer.Dial("ws://"+suite.addr+"/echo", nil)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), http.StatusSwitchingProtocols, resp.StatusCode)
	defer conn.Close()

	// Gorilla client splits messages longer than its write buffer into
	// fragments, so keep them short.
	for _, text := range []string{"", "Hello", "Привет", strings.Repeat("x", 126), strings.Repeat("y", 2048)} {
		require.NoError(suite.T(), conn.WriteMessage(gorilla.TextMessage, []byte(text)))
		mt, p, err := conn.ReadMessage()
		require.NoError(suite.T(), err)
		require.Equal(suite.T(), gorilla.TextMessage, mt)
		require.Equal(suite.T(), text, string(p))
	}
}

// # Description
//
// nhooyr.io/websocket client connects to the echo server and gets its messages back. The client
// sends the key header in its MIME canonical form.
func (suite *ConnInteropTestSuite) TestNhooyrEcho() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, "ws://"+suite.addr+"/echo", nil)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), http.StatusSwitchingProtocols, resp.StatusCode)
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	for _, text := range []string{"Hello", strings.Repeat("z", 65535), strings.Repeat("w", 70000)} {
		require.NoError(suite.T(), conn.Write(ctx, websocket.MessageText, []byte(text)))
		mt, p, err := conn.Read(ctx)
		require.NoError(suite.T(), err)
		require.Equal(suite.T(), websocket.MessageText, mt)
		require.Equal(suite.T(), text, string(p))
	}
}

// # Description
//
// Binary messages are not supported: the server drops the connection.
func (suite *ConnInteropTestSuite) TestGorillaBinaryRejected() {
	conn, _, err := gorilla.DefaultDialer.Dial("ws://"+suite.addr+"/echo", nil)
	require.NoError(suite.T(), err)
	defer conn.Close()

	require.NoError(suite.T(), conn.WriteMessage(gorilla.BinaryMessage, []byte{1, 2, 3}))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(suite.T(), err)
	var netErr net.Error
	if errors.As(err, &netErr) {
		require.False(suite.T(), netErr.Timeout(), "server did not close the connection")
	}
}

// # Description
//
// Plain HTTP request without websocket headers is rejected by the strict upgrader.
func (suite *ConnInteropTestSuite) TestPlainHTTPRejected() {
	resp, err := http.Get("http://" + suite.addr + "/echo")
	require.NoError(suite.T(), err)
	defer resp.Body.Close()
	require.Equal(suite.T(), http.StatusBadRequest, resp.StatusCode)
}
