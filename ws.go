/*
Package ws implements a minimal server side of the WebSocket protocol as
specified in RFC 6455: the opening handshake and the framing of single text
messages.

Overview.

The handshake is a pure function of the raw request head:

  resp, err := ws.Negotiate(request)
  if err != nil {
	  // close the connection, nothing must be sent.
  }
  conn.Write(resp)

Or, reading the head from the connection itself:

  br := bufio.NewReader(conn)
  hs, err := ws.Upgrade(br, conn)
  if err != nil {
	  // handle error
  }

After the upgrade, client frames are decoded and server frames are encoded
from plain byte slices:

  text, err := ws.DecodeText(frame, maxMessageSize)
  if err != nil {
	  // handle error
  }

  buf := make([]byte, ws.TextFrameSize(len(reply)))
  n, err := ws.EncodeText(buf, reply)

For stream oriented use there are ReadHeader, ReadFrame, WriteHeader and
WriteFrame. See the wsutil package for connection helpers.

Only final (unfragmented) text frames are supported. Binary, continuation,
control and reserved frames are rejected with ErrUnsupportedOpcode.
*/
package ws
