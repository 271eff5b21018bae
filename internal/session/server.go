package session

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/duskrelay/chunkrelay/internal/fileio"
	"github.com/duskrelay/chunkrelay/internal/logging"
	"github.com/duskrelay/chunkrelay/internal/metrics"
	"github.com/duskrelay/chunkrelay/internal/rdp"
	"github.com/duskrelay/chunkrelay/internal/rdperr"
	"github.com/duskrelay/chunkrelay/internal/wire"
)

// serverState names the server's protocol state.
type serverState int

const (
	ssAwaitFilename serverState = iota + 1 // 1: waiting for the requested filename
	ssAwaitCount                           // 2: waiting for the connect-count N
	ssAwaitOffset                          // 3: waiting for the chunk offset i
	ssStreaming                            // 4: sending DATA, one per received ACK
	ssFinishing                            // 5: stream exhausted, one more ACK to send
	ssDone                                 // 6: terminal
)

// ServerConfig parameterizes one server-side chunk session handler.
type ServerConfig struct {
	Root        string        // working directory files are served from
	Timeout     time.Duration // per-datagram receive deadline
	MaxTimeouts int           // consecutive timeouts tolerated before failure
}

func (c ServerConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return rdp.DefaultTimeout
	}
	return c.Timeout
}

func (c ServerConfig) maxTimeouts() int {
	if c.MaxTimeouts <= 0 {
		return rdp.MaxTimeouts
	}
	return c.MaxTimeouts
}

// dataStride is the fixed number of bytes bytes_sent advances after
// every DATA send, regardless of how many bytes that send actually
// read from the file — preserved deliberately, see DESIGN.md. With the
// `bytesSent <= chunksize` bound below, each chunk's last read runs up
// to 1023 bytes past its nominal end. The integer-truncating chunksize
// leaves the final filesize mod N bytes outside every nominal chunk;
// they reach the client only through the last chunk's overrun read,
// and are lost when that overrun is shorter than they are.
const dataStride = 1023

// RunServer handles one client's chunk session end to end. conn is a
// freshly bound, per-client UDP socket, bound to an ephemeral port
// chosen by the kernel rather than one derived from the client's
// source port (see DESIGN.md for why this deviates from the original).
// clientAddr is the client's address as learned from the listener's
// initial session-start datagram.
func RunServer(conn *net.UDPConn, clientAddr *net.UDPAddr, cfg ServerConfig) error {
	id := xid.New()
	log := logging.For("server-session").WithField("session_id", id.String())

	metrics.ActiveSessions.WithLabelValues(metrics.RoleServer).Inc()
	defer metrics.ActiveSessions.WithLabelValues(metrics.RoleServer).Dec()

	t := rdp.New(conn, clientAddr)

	var (
		lastSent  wire.Packet
		state     = ssAwaitFilename
		timeouts  int
		file      *os.File
		chunksize int64
		offset    int64
		bytesSent int64
		totalSent int64
	)
	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	send := func(pkt wire.Packet) error {
		lastSent = pkt
		return t.SendPacket(pkt)
	}

	// Announce our ephemeral reply address to the client.
	if err := send(wire.NewAck(1)); err != nil {
		metrics.SessionsTotal.WithLabelValues(metrics.RoleServer, metrics.ResultError).Inc()
		return rdperr.SessionFailure(err)
	}
	log.Debug("sent handshake ACK from ephemeral port")

	for state != ssDone {
		pkt, err := t.Recv(cfg.timeout())
		if err != nil {
			if err == rdp.ErrTimeout {
				timeouts++
				log.Warnf("recv timeout %d/%d", timeouts, cfg.maxTimeouts())
				if timeouts > cfg.maxTimeouts() {
					metrics.SessionsTotal.WithLabelValues(metrics.RoleServer, metrics.ResultTimeout).Inc()
					return rdperr.SessionFailure(err)
				}
				if err := t.SendPacket(lastSent); err != nil {
					metrics.SessionsTotal.WithLabelValues(metrics.RoleServer, metrics.ResultError).Inc()
					return rdperr.SessionFailure(err)
				}
				continue
			}
			metrics.SessionsTotal.WithLabelValues(metrics.RoleServer, metrics.ResultError).Inc()
			return rdperr.SessionFailure(err)
		}
		timeouts = 0

		switch state {
		case ssAwaitFilename:
			name := pkt.DataString()
			f, err := fileio.Locate(cfg.Root, name)
			if err != nil {
				log.Warnf("file %q not found, sending ERROR", name)
				_ = t.SendError(pkt.Seq)
				metrics.SessionsTotal.WithLabelValues(metrics.RoleServer, metrics.ResultFailure).Inc()
				return rdperr.SessionFailure(err)
			}
			file = f
			log.Debugf("serving file %q", name)
			if err := send(wire.NewAck(pkt.Seq)); err != nil {
				metrics.SessionsTotal.WithLabelValues(metrics.RoleServer, metrics.ResultError).Inc()
				return rdperr.SessionFailure(err)
			}
			state = ssAwaitCount

		case ssAwaitCount:
			n, err := strconv.Atoi(pkt.DataString())
			if err != nil || n <= 0 {
				log.Warnf("invalid connect-count %q", pkt.DataString())
				_ = t.SendError(1)
				metrics.SessionsTotal.WithLabelValues(metrics.RoleServer, metrics.ResultFailure).Inc()
				return rdperr.SessionFailure(err)
			}
			size, err := fileio.Size(file)
			if err != nil {
				metrics.SessionsTotal.WithLabelValues(metrics.RoleServer, metrics.ResultError).Inc()
				return rdperr.SessionFailure(err)
			}
			chunksize = size / int64(n)
			log.Debugf("%d connections => chunksize = %d", n, chunksize)
			if err := send(wire.NewAck(pkt.Seq)); err != nil {
				metrics.SessionsTotal.WithLabelValues(metrics.RoleServer, metrics.ResultError).Inc()
				return rdperr.SessionFailure(err)
			}
			state = ssAwaitOffset

		case ssAwaitOffset:
			i, err := strconv.Atoi(pkt.DataString())
			if err != nil || i < 0 {
				log.Warnf("invalid chunk offset %q", pkt.DataString())
				_ = t.SendError(1)
				metrics.SessionsTotal.WithLabelValues(metrics.RoleServer, metrics.ResultFailure).Inc()
				return rdperr.SessionFailure(err)
			}
			offset = int64(i)
			log = log.WithField("chunk", i)
			log.Debugf("chunksize=%d offset=%d", chunksize, offset)
			if err := send(wire.NewAck(pkt.Seq)); err != nil {
				metrics.SessionsTotal.WithLabelValues(metrics.RoleServer, metrics.ResultError).Inc()
				return rdperr.SessionFailure(err)
			}
			state = ssStreaming

		case ssStreaming:
			if bytesSent <= chunksize {
				buf := make([]byte, wire.DataSize-1)
				n, err := fileio.ReadChunk(file, chunksize*offset+bytesSent, buf)
				if err != nil {
					metrics.SessionsTotal.WithLabelValues(metrics.RoleServer, metrics.ResultError).Inc()
					return rdperr.SessionFailure(err)
				}
				if err := send(wire.NewDataPacket(pkt.Seq, buf[:n])); err != nil {
					metrics.SessionsTotal.WithLabelValues(metrics.RoleServer, metrics.ResultError).Inc()
					return rdperr.SessionFailure(err)
				}
				bytesSent += dataStride
				totalSent += int64(n)
				metrics.BytesTransferred.WithLabelValues(metrics.RoleServer).Add(float64(n))
			} else {
				// No reply on this event: the stream is exhausted but the
				// terminal ACK isn't sent until the next received packet
				// (the client's own timeout/retransmit of its pending ACK
				// drives that), answered in ssFinishing.
				state = ssFinishing
			}

		case ssFinishing:
			if err := send(wire.NewAck(pkt.Seq)); err != nil {
				metrics.SessionsTotal.WithLabelValues(metrics.RoleServer, metrics.ResultError).Inc()
				return rdperr.SessionFailure(err)
			}
			state = ssDone
		}
	}

	log.Infof("chunk session complete, %d bytes sent", totalSent)
	metrics.SessionsTotal.WithLabelValues(metrics.RoleServer, metrics.ResultSuccess).Inc()
	return nil
}
