// Package listener implements the server-side accept loop: bind the
// well-known port, and for every session-initiation datagram received
// there, spawn a dedicated handler bound to a fresh ephemeral port.
package listener

import (
	"net"

	"github.com/pkg/errors"

	"github.com/duskrelay/chunkrelay/internal/logging"
	"github.com/duskrelay/chunkrelay/internal/rdperr"
	"github.com/duskrelay/chunkrelay/internal/session"
)

var log = logging.For("listener")

// Listener accepts session-start datagrams on a well-known port and
// spawns one session.RunServer handler goroutine per client. There is
// no admission control and no bound on concurrent handlers.
type Listener struct {
	conn      *net.UDPConn
	cfg       session.ServerConfig
	onHandled func(error) // test hook; nil in production
}

// New binds a UDP socket on addr (use port 0 only in tests — production
// callers pass the configured well-known port) and returns a Listener
// ready to Serve.
func New(addr *net.UDPAddr, cfg session.ServerConfig) (*Listener, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, rdperr.Fatal(err, "listener: bind failed")
	}
	return &Listener{conn: conn, cfg: cfg}, nil
}

// Addr returns the bound local address, useful in tests that bind to
// port 0 and need to discover the chosen port.
func (l *Listener) Addr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the listening socket. In-flight handlers, each owning
// their own socket, are unaffected.
func (l *Listener) Close() error {
	return l.conn.Close()
}

// Serve blocks, accepting session-initiation datagrams and spawning a
// handler goroutine for each, until the listening socket is closed.
func (l *Listener) Serve() error {
	buf := make([]byte, 64)
	for {
		_, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.WithError(err).Warn("recvfrom failed on listening socket")
			continue
		}

		log.WithField("client", addr.String()).Debug("accepted session-start datagram")
		go l.spawn(addr)
	}
}

func (l *Listener) spawn(clientAddr *net.UDPAddr) {
	handlerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: l.Addr().IP})
	if err != nil {
		log.WithError(err).Warn("failed to bind ephemeral handler socket")
		if l.onHandled != nil {
			l.onHandled(err)
		}
		return
	}
	defer handlerConn.Close()

	err = session.RunServer(handlerConn, clientAddr, l.cfg)
	if err != nil {
		log.WithError(err).WithField("client", clientAddr.String()).Warn("chunk session handler exited with failure")
	}
	if l.onHandled != nil {
		l.onHandled(err)
	}
}
