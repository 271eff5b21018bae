// Package rdp implements the four stop-and-wait transport primitives
// over a connectionless datagram socket: SendAck, SendError, SendData,
// and Recv with a timeout. Retransmission is the caller's
// responsibility — there is no automatic retry here.
package rdp

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/duskrelay/chunkrelay/internal/wire"
)

// DefaultTimeout is the per-datagram receive deadline used when a
// session config doesn't override it.
const DefaultTimeout = 5 * time.Second

// MaxTimeouts is the number of consecutive Recv timeouts a session
// tolerates before terminating with failure.
const MaxTimeouts = 5

// ErrTimeout is returned by Recv when no datagram arrives within the
// deadline.
var ErrTimeout = errors.New("rdp: recv timeout")

// Transport sends and receives RDP packets against a single peer
// address over a UDP socket. A Transport is not safe for concurrent
// use from multiple goroutines — stop-and-wait guarantees exactly one
// in-flight exchange per session, so none is needed.
type Transport struct {
	conn *net.UDPConn
	peer *net.UDPAddr
}

// New wraps conn, directing all sends to peer. peer may be nil; every
// successful Recv replaces it with the sender of the datagram received,
// so a nil peer is filled in by the first datagram heard.
func New(conn *net.UDPConn, peer *net.UDPAddr) *Transport {
	return &Transport{conn: conn, peer: peer}
}

// Peer returns the address packets are currently addressed to.
func (t *Transport) Peer() *net.UDPAddr {
	return t.peer
}

// SetPeer updates the destination address for subsequent sends.
func (t *Transport) SetPeer(peer *net.UDPAddr) {
	t.peer = peer
}

func (t *Transport) send(pkt wire.Packet) error {
	buf := wire.Encode(pkt)
	_, err := t.conn.WriteToUDP(buf[:], t.peer)
	if err != nil {
		return errors.Wrap(err, "rdp: sendto failed")
	}
	return nil
}

// SendAck sends an ACK packet with the given sequence number.
func (t *Transport) SendAck(seq uint32) error {
	return t.send(wire.NewAck(seq))
}

// SendError sends an ERROR packet with the given sequence number.
func (t *Transport) SendError(seq uint32) error {
	return t.send(wire.NewError(seq))
}

// SendData sends a DATA packet carrying payload (truncated to
// wire.DataSize if longer).
func (t *Transport) SendData(seq uint32, payload []byte) error {
	return t.send(wire.NewDataPacket(seq, payload))
}

// SendPacket resends a previously constructed packet verbatim, used
// for retransmission on timeout.
func (t *Transport) SendPacket(pkt wire.Packet) error {
	return t.send(pkt)
}

// Recv waits up to timeout for one datagram and decodes it. It
// returns ErrTimeout if the deadline elapses first. On every
// successful receive, Recv records the sender's address as the new
// peer, whether or not a peer was already set.
func (t *Transport) Recv(timeout time.Duration) (wire.Packet, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return wire.Packet{}, errors.Wrap(err, "rdp: set read deadline")
	}

	buf := make([]byte, wire.Size+64)
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return wire.Packet{}, ErrTimeout
		}
		return wire.Packet{}, errors.Wrap(err, "rdp: recvfrom failed")
	}

	// Always track the most recent sender as the peer: this is what lets
	// the client discover the server handler's ephemeral reply port (the
	// handshake ACK arrives from a different address than the well-known
	// port the initial ACK was sent to) and lets the server handler learn
	// the client's address on its very first receive.
	t.peer = addr

	return wire.Decode(buf[:n]), nil
}
