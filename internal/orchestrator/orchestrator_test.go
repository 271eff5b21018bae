package orchestrator

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskrelay/chunkrelay/internal/listener"
	"github.com/duskrelay/chunkrelay/internal/serverlist"
	"github.com/duskrelay/chunkrelay/internal/session"
)

// startServer launches a listener serving root and returns its address,
// stopping it on test cleanup.
func startServer(t *testing.T, root string) serverlist.Addr {
	t.Helper()

	l, err := listener.New(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, session.ServerConfig{
		Root:        root,
		Timeout:     150 * time.Millisecond,
		MaxTimeouts: 3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go l.Serve()

	addr := l.Addr()
	return serverlist.Addr{IP: addr.IP.String(), Port: addr.Port}
}

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// expectedReassembly mirrors the server's ssStreaming loop (chunksize =
// len(content)/n, one read of up to 1023 bytes per iteration, advancing
// by exactly 1023 regardless of how much was actually read, looping
// while bytesSent <= chunksize) to compute what v chunk sessions
// against a file of the given content actually capture and reassemble
// into, including the boundary overlap that stride causes. Hand-wiring
// an "original content + \n" expectation would be wrong for any v >= 2
// where chunksize isn't large relative to 1023 — the <= bound always
// performs one iteration past the nominal chunk boundary.
func expectedReassembly(content string, n, v int) string {
	chunksize := len(content) / n
	var out strings.Builder
	for i := 0; i < v; i++ {
		bytesSent := 0
		for bytesSent <= chunksize {
			pos := chunksize*i + bytesSent
			if pos > len(content) {
				pos = len(content)
			}
			end := pos + 1023
			if end > len(content) {
				end = len(content)
			}
			out.WriteString(content[pos:end])
			bytesSent += 1023
		}
	}
	out.WriteString("\n")
	return out.String()
}

func TestRetrieveAcrossTwoServers(t *testing.T) {
	root := t.TempDir()
	const content = "0123456789ABCDEFGHIJ" // 20 bytes, divides evenly by 2
	writeFixture(t, root, "fixture.bin", content)

	serverA := startServer(t, root)
	serverB := startServer(t, root)

	scratch := t.TempDir()
	out := filepath.Join(t.TempDir(), "fixture.bin")

	err := Retrieve(Config{
		Filename:     "fixture.bin",
		ConnectCount: 2,
		Servers:      []serverlist.Addr{serverA, serverB},
		ScratchDir:   scratch,
		OutputPath:   out,
		Timeout:      150 * time.Millisecond,
		MaxTimeouts:  3,
	})
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, expectedReassembly(content, 2, 2), string(got))
}

func TestRetrieveSingleConnection(t *testing.T) {
	root := t.TempDir()
	const content = "just one chunk, no splitting involved here"
	writeFixture(t, root, "solo.txt", content)

	server := startServer(t, root)

	scratch := t.TempDir()
	out := filepath.Join(t.TempDir(), "solo.txt")

	err := Retrieve(Config{
		Filename:     "solo.txt",
		ConnectCount: 1,
		Servers:      []serverlist.Addr{server},
		ScratchDir:   scratch,
		OutputPath:   out,
		Timeout:      150 * time.Millisecond,
		MaxTimeouts:  3,
	})
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, expectedReassembly(content, 1, 1), string(got))
}

func TestRetrieveRepairsOneFailedSessionViaGoodServer(t *testing.T) {
	root := t.TempDir()
	const content = "AAAAAAAAAABBBBBBBBBB" // 20 bytes, 2 chunks of 10
	writeFixture(t, root, "fixture.bin", content)

	goodServer := startServer(t, root)

	// A server that never answers: sessions against it time out and must
	// be repaired against the good server in Phase B.
	deadConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { deadConn.Close() })
	deadAddr := deadConn.LocalAddr().(*net.UDPAddr)
	deadServer := serverlist.Addr{IP: deadAddr.IP.String(), Port: deadAddr.Port}

	scratch := t.TempDir()
	out := filepath.Join(t.TempDir(), "fixture.bin")

	err = Retrieve(Config{
		Filename:     "fixture.bin",
		ConnectCount: 2,
		Servers:      []serverlist.Addr{goodServer, deadServer},
		ScratchDir:   scratch,
		OutputPath:   out,
		Timeout:      100 * time.Millisecond,
		MaxTimeouts:  2,
	})
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, expectedReassembly(content, 2, 2), string(got))
}

func TestRetrieveFailsWhenNoServersConfigured(t *testing.T) {
	err := Retrieve(Config{
		Filename:     "anything",
		ConnectCount: 1,
		Servers:      nil,
		ScratchDir:   t.TempDir(),
	})
	require.Error(t, err)
}

func TestRetrieveFailsWhenFileUnknownOnEveryServer(t *testing.T) {
	root := t.TempDir() // empty: no file named "missing.bin" anywhere
	server := startServer(t, root)

	err := Retrieve(Config{
		Filename:     "missing.bin",
		ConnectCount: 1,
		Servers:      []serverlist.Addr{server},
		ScratchDir:   t.TempDir(),
		Timeout:      100 * time.Millisecond,
		MaxTimeouts:  2,
	})
	require.Error(t, err)
}

func TestRetrieveStartsOnlyAsManySessionsAsServersWhenListIsShorterThanN(t *testing.T) {
	root := t.TempDir()
	const content = "AAABBBCCC" // 9 bytes; asking for 3 chunks but only 2 servers
	writeFixture(t, root, "fixture.bin", content)

	serverA := startServer(t, root)
	serverB := startServer(t, root)

	scratch := t.TempDir()
	out := filepath.Join(t.TempDir(), "fixture.bin")

	// ConnectCount=3 against a 2-server list: only chunks 0 and 1 are
	// ever requested (v = list size), so chunk index 2 (the nominal
	// last third) is never fetched at all. chunksize is still computed
	// against N=3, not v=2. No integrity check is performed, matching
	// the original protocol's behavior.
	err := Retrieve(Config{
		Filename:     "fixture.bin",
		ConnectCount: 3,
		Servers:      []serverlist.Addr{serverA, serverB},
		ScratchDir:   scratch,
		OutputPath:   out,
		Timeout:      150 * time.Millisecond,
		MaxTimeouts:  3,
	})
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, expectedReassembly(content, 3, 2), string(got))
}

func TestScratchPathNaming(t *testing.T) {
	require.Equal(t, filepath.Join("/tmp/scratch", "3"), session.ScratchPath("/tmp/scratch", 3))
	require.Equal(t, filepath.Join("/tmp/scratch", "0"), session.ScratchPath("/tmp/scratch", 0)) // chunk 0's scratch file is named "0"
}
