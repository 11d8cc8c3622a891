// Package wschannel carries reflex frames over a WebSocket connection.
package wschannel

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/reflex/internal/channel"
	"github.com/louisbranch/reflex/internal/protocol"
)

// Conn adapts a WebSocket connection to the channel interface. Writes are
// serialized with a mutex so concurrent senders cannot interleave frames.
type Conn struct {
	ws      *websocket.Conn
	decoder *json.Decoder

	writeMu sync.Mutex
	encoder *json.Encoder
}

// New wraps an established WebSocket connection.
func New(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:      ws,
		decoder: json.NewDecoder(ws),
		encoder: json.NewEncoder(ws),
	}
}

// Dial connects to a reflex WebSocket endpoint. The cookie, when non-empty,
// is sent with the handshake so the server can recover the session.
func Dial(wsURL, origin, cookie string) (*Conn, error) {
	config, err := websocket.NewConfig(wsURL, origin)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cookie) != "" {
		config.Header = make(http.Header)
		config.Header.Set("Cookie", cookie)
	}
	ws, err := websocket.DialConfig(config)
	if err != nil {
		return nil, err
	}
	return New(ws), nil
}

// Send writes one frame to the peer.
func (c *Conn) Send(frame protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.encoder.Encode(frame); err != nil {
		return translateErr(err)
	}
	return nil
}

// Receive blocks until the next frame arrives.
func (c *Conn) Receive() (protocol.Frame, error) {
	var frame protocol.Frame
	if err := c.decoder.Decode(&frame); err != nil {
		return protocol.Frame{}, translateErr(err)
	}
	return frame, nil
}

// Close closes the underlying WebSocket connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return channel.ErrClosed
	}
	return err
}
