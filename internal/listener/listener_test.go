package listener

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskrelay/chunkrelay/internal/session"
)

func TestServeSpawnsHandlerForAcceptedDatagram(t *testing.T) {
	l, err := New(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, session.ServerConfig{
		Root:        t.TempDir(),
		Timeout:     100 * time.Millisecond,
		MaxTimeouts: 1,
	})
	require.NoError(t, err)
	defer l.Close()

	handled := make(chan error, 2)
	l.onHandled = func(err error) { handled <- err }

	go l.Serve()

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.WriteToUDP([]byte("knock"), l.Addr())
	require.NoError(t, err)

	select {
	case err := <-handled:
		// The spawned handler fails fast: the client never completes the
		// handshake, so it times out and returns a session failure. The
		// point of this test is that a handler was spawned with its own
		// socket at all, not that the handshake succeeds.
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener never spawned a handler for the accepted datagram")
	}
}

func TestCloseStopsServe(t *testing.T) {
	l, err := New(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, session.ServerConfig{Root: t.TempDir()})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Serve() }()

	require.NoError(t, l.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
