// Package serverlist parses the client's server directory file:
// whitespace-separated "ipv4 port" pairs, one per line. Malformed
// lines are logged and skipped rather than failing the whole load;
// blank lines are tolerated. Order is preserved — it drives round-robin
// chunk-index assignment in Phase A.
package serverlist

import (
	"bufio"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/duskrelay/chunkrelay/internal/logging"
)

var log = logging.For("serverlist")

// Addr is one (ip, port) entry of the server directory.
type Addr struct {
	IP   string
	Port int
}

// UDPAddr returns the *net.UDPAddr form of a.
func (a Addr) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(a.IP), Port: a.Port}
}

// Load reads and parses path, returning the ordered list of
// well-formed entries.
func Load(path string) ([]Addr, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "serverlist: open %s", path)
	}
	defer f.Close()

	var out []Addr
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			log.Warnf("server-info line %d: expected 2 fields, got %d, disregarding: %q", lineNo, len(fields), line)
			continue
		}

		ip := net.ParseIP(fields[0])
		if ip == nil || ip.To4() == nil {
			log.Warnf("server-info line %d: invalid IPv4 address %q, disregarding line", lineNo, fields[0])
			continue
		}

		port, err := strconv.Atoi(fields[1])
		if err != nil {
			log.Warnf("server-info line %d: invalid port %q, disregarding line", lineNo, fields[1])
			continue
		}

		out = append(out, Addr{IP: ip.String(), Port: port})
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "serverlist: scan")
	}

	return out, nil
}
