// Package orchestrator implements the client-side fan-out: Phase A
// starts one chunk session per server in the directory list, Phase B
// retries any session that failed against a known-good server, and
// Phase C reassembles the scratch files into the output file in chunk
// order.
package orchestrator

import (
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/duskrelay/chunkrelay/internal/logging"
	"github.com/duskrelay/chunkrelay/internal/metrics"
	"github.com/duskrelay/chunkrelay/internal/rdperr"
	"github.com/duskrelay/chunkrelay/internal/serverlist"
	"github.com/duskrelay/chunkrelay/internal/session"
)

var log = logging.For("orchestrator")

// Config parameterizes a full file retrieval.
type Config struct {
	Filename     string
	ConnectCount int
	Servers      []serverlist.Addr
	ScratchDir   string
	OutputPath   string // defaults to Filename if empty
	Timeout      time.Duration
	MaxTimeouts  int
}

func (c Config) outputPath() string {
	if c.OutputPath != "" {
		return c.OutputPath
	}
	return c.Filename
}

type assignment struct {
	chunkIndex int
	server     serverlist.Addr
}

// Retrieve runs Phases A, B and C and produces cfg.outputPath(). It
// returns an rdperr.Fatal error ("All servers in the list failed.")
// when there are no servers or ConnectCount is not positive, and when
// every started session has still failed after Phase B. Reassembly
// I/O failures are also returned as rdperr.Fatal errors.
func Retrieve(cfg Config) error {
	if len(cfg.Servers) == 0 || cfg.ConnectCount <= 0 {
		return rdperr.Fatal(nil, "All servers in the list failed.")
	}

	// Walk the server list in order, assigning the next unused chunk
	// index to each well-formed entry, stopping at ConnectCount or list
	// exhaustion. When the list is shorter than ConnectCount, the
	// remaining chunk indices are simply never retrieved — v is the
	// number of sessions actually started, not N.
	v := cfg.ConnectCount
	if len(cfg.Servers) < v {
		v = len(cfg.Servers)
	}
	assignments := make([]assignment, v)
	for i := range assignments {
		assignments[i] = assignment{chunkIndex: i, server: cfg.Servers[i]}
	}

	log.Infof("phase A: starting %d chunk sessions (requested N=%d, %d servers available)", v, cfg.ConnectCount, len(cfg.Servers))

	results := runPhaseA(cfg, assignments)

	goodServer, ok := findGoodServer(cfg.ScratchDir, v)
	if ok {
		runPhaseB(cfg, assignments, results, goodServer)
	} else {
		log.Warn("phase B: no good server found, any failed session stays failed")
	}

	failed := 0
	for _, err := range results {
		if err != nil {
			failed++
		}
	}
	if failed == v {
		return rdperr.Fatal(nil, "All servers in the list failed.")
	}

	if err := reassemble(cfg, v); err != nil {
		return err
	}

	log.Infof("transfer complete: %s", cfg.outputPath())
	return nil
}

func runSession(cfg Config, a assignment, out chan<- error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		out <- errors.Wrap(err, "orchestrator: open client socket")
		return
	}
	defer conn.Close()

	out <- session.RunClient(conn, a.server.UDPAddr(), session.ClientConfig{
		Filename:     cfg.Filename,
		ConnectCount: cfg.ConnectCount,
		ChunkIndex:   a.chunkIndex,
		ScratchDir:   cfg.ScratchDir,
		Timeout:      cfg.Timeout,
		MaxTimeouts:  cfg.MaxTimeouts,
	})
}

// runPhaseA starts one session per assignment concurrently and joins
// them all, returning each assignment's result indexed the same way as
// the assignments slice.
func runPhaseA(cfg Config, assignments []assignment) []error {
	results := make([]error, len(assignments))
	var wg sync.WaitGroup
	for idx, a := range assignments {
		wg.Add(1)
		go func(idx int, a assignment) {
			defer wg.Done()
			ch := make(chan error, 1)
			runSession(cfg, a, ch)
			results[idx] = <-ch
		}(idx, a)
	}
	wg.Wait()
	return results
}

// findGoodServer returns the chunk index of the first scratch file
// that exists after Phase A, and whether one was found. For the
// initial fan-out that index is also the position in the assignments
// slice of the server that produced it.
func findGoodServer(scratchDir string, v int) (int, bool) {
	for i := 0; i < v; i++ {
		if _, err := os.Stat(session.ScratchPath(scratchDir, i)); err == nil {
			return i, true
		}
	}
	return 0, false
}

// runPhaseB retries every failed assignment, once, against the server
// at assignments[goodIdx].
func runPhaseB(cfg Config, assignments []assignment, results []error, goodIdx int) {
	goodServer := assignments[goodIdx].server
	for idx, a := range assignments {
		if results[idx] == nil {
			continue
		}
		log.Warnf("phase B: retrying chunk %d against good server %s:%d", a.chunkIndex, goodServer.IP, goodServer.Port)
		metrics.RetriesTotal.Inc()

		retryAssignment := assignment{chunkIndex: a.chunkIndex, server: goodServer}
		ch := make(chan error, 1)
		runSession(cfg, retryAssignment, ch)
		results[idx] = <-ch
	}
}

// reassemble concatenates the v scratch files, in chunk order, into
// the output file, then appends a trailing newline. This is a
// deliberately preserved behavior of the original protocol, not a
// correctness fix — see DESIGN.md. It corrupts any file that didn't
// already end in '\n'.
func reassemble(cfg Config, v int) error {
	out, err := os.OpenFile(cfg.outputPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return rdperr.Fatal(err, "orchestrator: create output file")
	}
	defer out.Close()

	for i := 0; i < v; i++ {
		path := session.ScratchPath(cfg.ScratchDir, i)
		in, err := os.Open(path)
		if err != nil {
			return rdperr.Fatal(err, "orchestrator: open scratch file "+path)
		}
		if _, err := io.Copy(out, in); err != nil {
			in.Close()
			return rdperr.Fatal(err, "orchestrator: copy scratch file "+path)
		}
		in.Close()
		if err := os.Remove(path); err != nil {
			log.WithError(err).Warnf("failed to remove scratch file %s", path)
		}
	}

	if _, err := out.WriteString("\n"); err != nil {
		return rdperr.Fatal(err, "orchestrator: append trailing newline")
	}
	return nil
}
