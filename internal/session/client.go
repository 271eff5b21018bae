// Package session implements the paired client/server chunk session
// state machines: the 5-state handshake-then-stream protocol each side
// drives to retrieve (or serve) one byte range of a file.
package session

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/xid"

	"github.com/duskrelay/chunkrelay/internal/logging"
	"github.com/duskrelay/chunkrelay/internal/metrics"
	"github.com/duskrelay/chunkrelay/internal/rdp"
	"github.com/duskrelay/chunkrelay/internal/rdperr"
	"github.com/duskrelay/chunkrelay/internal/wire"
)

// clientState names the client's protocol state, replacing the
// original's sentinel 1..6 integers with a typed enumeration.
type clientState int

const (
	csAwaitHandshakeAck clientState = iota + 1 // 1: waiting on the echo of our initial ACK
	csAwaitFilenameAck                         // 2: sent filename, waiting for ACK
	csAwaitCountAck                            // 3: sent connect-count, waiting for ACK
	csAwaitOffsetAck                           // 4: sent chunk offset, waiting for ACK
	csStreaming                                // 5: receiving DATA, ACKing each
	csDone                                     // 6: terminal
)

// ClientConfig parameterizes one client-side chunk session.
type ClientConfig struct {
	Filename     string        // name requested from the server
	ConnectCount int           // N, total number of chunks in the transfer
	ChunkIndex   int           // i, this session's chunk index in [0, N)
	ScratchDir   string        // directory scratch files are written into
	Timeout      time.Duration // per-datagram receive deadline
	MaxTimeouts  int           // consecutive timeouts tolerated before failure
}

func (c ClientConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return rdp.DefaultTimeout
	}
	return c.Timeout
}

func (c ClientConfig) maxTimeouts() int {
	if c.MaxTimeouts <= 0 {
		return rdp.MaxTimeouts
	}
	return c.MaxTimeouts
}

// ScratchPath returns the scratch file path for a chunk index under
// dir, matching the original's filename-by-index convention ("0",
// "1", ...).
func ScratchPath(dir string, chunkIndex int) string {
	return filepath.Join(dir, fmt.Sprintf("%d", chunkIndex))
}

// RunClient drives one client chunk session to completion against the
// server listening at serverAddr (its well-known port). conn is the
// session's own freshly-opened UDP socket. It returns nil on success;
// any error is a rdperr.SessionFailure.
func RunClient(conn *net.UDPConn, serverAddr *net.UDPAddr, cfg ClientConfig) error {
	id := xid.New()
	log := logging.For("client-session").WithFields(map[string]interface{}{
		"session_id": id.String(),
		"chunk":      cfg.ChunkIndex,
		"filename":   cfg.Filename,
	})

	metrics.ActiveSessions.WithLabelValues(metrics.RoleClient).Inc()
	defer metrics.ActiveSessions.WithLabelValues(metrics.RoleClient).Dec()

	t := rdp.New(conn, serverAddr)

	var (
		seqnum       uint32 = 1
		state               = csAwaitHandshakeAck
		lastSent     wire.Packet
		markerSeq    uint32
		timeouts     int
		scratch      *os.File
		bytesWritten int64
	)
	defer func() {
		if scratch != nil {
			scratch.Close()
		}
	}()

	send := func(pkt wire.Packet) error {
		lastSent = pkt
		return t.SendPacket(pkt)
	}
	nextSeq := func() uint32 {
		s := seqnum
		seqnum++
		return s
	}

	// State 1 entry: announce ourselves to the server's well-known port.
	if err := send(wire.NewAck(nextSeq())); err != nil {
		metrics.SessionsTotal.WithLabelValues(metrics.RoleClient, metrics.ResultError).Inc()
		return rdperr.SessionFailure(err)
	}
	log.Debug("sent handshake ACK, awaiting reply")

	for state != csDone {
		pkt, err := t.Recv(cfg.timeout())
		if err != nil {
			if err == rdp.ErrTimeout {
				timeouts++
				log.Warnf("recv timeout %d/%d", timeouts, cfg.maxTimeouts())
				if timeouts > cfg.maxTimeouts() {
					metrics.SessionsTotal.WithLabelValues(metrics.RoleClient, metrics.ResultTimeout).Inc()
					return rdperr.SessionFailure(fmt.Errorf("exceeded %d consecutive receive timeouts", cfg.maxTimeouts()))
				}
				if err := t.SendPacket(lastSent); err != nil {
					metrics.SessionsTotal.WithLabelValues(metrics.RoleClient, metrics.ResultError).Inc()
					return rdperr.SessionFailure(err)
				}
				continue
			}
			metrics.SessionsTotal.WithLabelValues(metrics.RoleClient, metrics.ResultError).Inc()
			return rdperr.SessionFailure(err)
		}
		timeouts = 0

		// pkt.Seq is never checked against the expected next seq:
		// duplicated or reordered packets drive the state machine as
		// they arrive (preserved quirk, see DESIGN.md).
		if pkt.Flag == wire.FlagError {
			log.Warn("received ERROR from server")
			metrics.SessionsTotal.WithLabelValues(metrics.RoleClient, metrics.ResultFailure).Inc()
			return rdperr.SessionFailure(fmt.Errorf("server returned ERROR"))
		}

		switch state {
		case csAwaitHandshakeAck:
			if err := send(wire.NewTextPacket(nextSeq(), cfg.Filename)); err != nil {
				metrics.SessionsTotal.WithLabelValues(metrics.RoleClient, metrics.ResultError).Inc()
				return rdperr.SessionFailure(err)
			}
			log.Debugf("requested filename %q", cfg.Filename)
			state = csAwaitFilenameAck

		case csAwaitFilenameAck:
			if err := send(wire.NewTextPacket(nextSeq(), fmt.Sprintf("%d", cfg.ConnectCount))); err != nil {
				metrics.SessionsTotal.WithLabelValues(metrics.RoleClient, metrics.ResultError).Inc()
				return rdperr.SessionFailure(err)
			}
			state = csAwaitCountAck

		case csAwaitCountAck:
			if err := send(wire.NewTextPacket(nextSeq(), fmt.Sprintf("%d", cfg.ChunkIndex))); err != nil {
				metrics.SessionsTotal.WithLabelValues(metrics.RoleClient, metrics.ResultError).Inc()
				return rdperr.SessionFailure(err)
			}
			state = csAwaitOffsetAck

		case csAwaitOffsetAck:
			markerSeq = nextSeq()
			if err := send(wire.NewAck(markerSeq)); err != nil {
				metrics.SessionsTotal.WithLabelValues(metrics.RoleClient, metrics.ResultError).Inc()
				return rdperr.SessionFailure(err)
			}
			log.Debug("requesting first data frame")
			state = csStreaming

		case csStreaming:
			if pkt.Flag != wire.FlagData {
				log.Debug("stream terminated by server")
				state = csDone
				break
			}

			payload := pkt.DataString()
			if scratch == nil {
				path := ScratchPath(cfg.ScratchDir, cfg.ChunkIndex)
				f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
				if err != nil {
					metrics.SessionsTotal.WithLabelValues(metrics.RoleClient, metrics.ResultError).Inc()
					return rdperr.SessionFailure(err)
				}
				scratch = f
			}
			if _, err := scratch.WriteString(payload); err != nil {
				metrics.SessionsTotal.WithLabelValues(metrics.RoleClient, metrics.ResultError).Inc()
				return rdperr.SessionFailure(err)
			}
			bytesWritten += int64(len(payload))
			metrics.BytesTransferred.WithLabelValues(metrics.RoleClient).Add(float64(len(payload)))

			if pkt.Seq == markerSeq {
				log.Debug("wrote first data frame, file created")
			}

			if err := send(wire.NewAck(nextSeq())); err != nil {
				metrics.SessionsTotal.WithLabelValues(metrics.RoleClient, metrics.ResultError).Inc()
				return rdperr.SessionFailure(err)
			}
		}
	}

	if scratch != nil {
		if err := scratch.Close(); err != nil {
			metrics.SessionsTotal.WithLabelValues(metrics.RoleClient, metrics.ResultError).Inc()
			return rdperr.SessionFailure(err)
		}
		scratch = nil
	}

	log.Infof("chunk session complete, %d bytes written", bytesWritten)
	metrics.SessionsTotal.WithLabelValues(metrics.RoleClient, metrics.ResultSuccess).Inc()
	return nil
}
