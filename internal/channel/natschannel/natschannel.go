// Package natschannel carries reflex frames over NATS subjects for
// deployments that put a broker between client edges and reflex servers.
//
// Each connection uses a subject pair: frames sent on one end are published
// to its send subject and received from its receive subject. NATS preserves
// publish order per subject, which satisfies the channel ordering contract.
package natschannel

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/louisbranch/reflex/internal/channel"
	"github.com/louisbranch/reflex/internal/protocol"
)

const recvBuffer = 64

// Conn adapts a NATS subject pair to the channel interface.
type Conn struct {
	nc       *nats.Conn
	sendSubj string
	sub      *nats.Subscription
	incoming chan *nats.Msg

	closeOnce sync.Once
	done      chan struct{}
}

// Connect dials a NATS server and opens a channel on the subject pair.
func Connect(url, name, sendSubj, recvSubj string) (*Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	conn, err := New(nc, sendSubj, recvSubj)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return conn, nil
}

// New opens a channel over an existing NATS connection. The caller keeps
// ownership of nc; Close only drops the subscription.
func New(nc *nats.Conn, sendSubj, recvSubj string) (*Conn, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	sendSubj = strings.TrimSpace(sendSubj)
	recvSubj = strings.TrimSpace(recvSubj)
	if sendSubj == "" || recvSubj == "" {
		return nil, fmt.Errorf("send and receive subjects are required")
	}

	incoming := make(chan *nats.Msg, recvBuffer)
	sub, err := nc.ChanSubscribe(recvSubj, incoming)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", recvSubj, err)
	}

	return &Conn{
		nc:       nc,
		sendSubj: sendSubj,
		sub:      sub,
		incoming: incoming,
		done:     make(chan struct{}),
	}, nil
}

// Send publishes one frame to the send subject.
func (c *Conn) Send(frame protocol.Frame) error {
	select {
	case <-c.done:
		return channel.ErrClosed
	default:
	}
	if c.nc.IsClosed() {
		return channel.ErrClosed
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := c.nc.Publish(c.sendSubj, data); err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}

// Receive blocks until the next frame arrives on the receive subject.
func (c *Conn) Receive() (protocol.Frame, error) {
	select {
	case msg, ok := <-c.incoming:
		if !ok {
			return protocol.Frame{}, channel.ErrClosed
		}
		var frame protocol.Frame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			return protocol.Frame{}, fmt.Errorf("decode frame: %w", err)
		}
		return frame, nil
	case <-c.done:
		return protocol.Frame{}, channel.ErrClosed
	}
}

// Close drops the subscription. The underlying NATS connection is left open
// for the owner to reuse or close.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if uerr := c.sub.Unsubscribe(); uerr != nil && !strings.Contains(uerr.Error(), "invalid subscription") {
			err = fmt.Errorf("unsubscribe: %w", uerr)
		}
	})
	return err
}
