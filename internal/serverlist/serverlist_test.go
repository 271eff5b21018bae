package serverlist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeList(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server-info.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesWellFormedEntriesInOrder(t *testing.T) {
	path := writeList(t, "10.0.0.1 9000\n10.0.0.2 9001\n10.0.0.3 9002\n")

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []Addr{
		{IP: "10.0.0.1", Port: 9000},
		{IP: "10.0.0.2", Port: 9001},
		{IP: "10.0.0.3", Port: 9002},
	}, got)
}

func TestLoadSkipsBlankLinesAndMalformedEntries(t *testing.T) {
	path := writeList(t, strings.Join([]string{
		"10.0.0.1 9000",
		"",
		"not-an-ip 9001",
		"10.0.0.2 not-a-port",
		"10.0.0.2 9002 extra-field",
		"10.0.0.3 9003",
	}, "\n"))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []Addr{
		{IP: "10.0.0.1", Port: 9000},
		{IP: "10.0.0.3", Port: 9003},
	}, got)
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.txt"))
	require.Error(t, err)
}

func TestAddrUDPAddr(t *testing.T) {
	a := Addr{IP: "127.0.0.1", Port: 4242}
	u := a.UDPAddr()
	require.Equal(t, "127.0.0.1", u.IP.String())
	require.Equal(t, 4242, u.Port)
}
