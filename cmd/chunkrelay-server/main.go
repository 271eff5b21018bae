// Command chunkrelay-server serves file chunks to chunkrelay-client
// instances: it accepts session-start datagrams on a well-known port
// and spawns one ephemeral-port handler per client.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/duskrelay/chunkrelay/internal/listener"
	"github.com/duskrelay/chunkrelay/internal/logging"
	"github.com/duskrelay/chunkrelay/internal/metrics"
	"github.com/duskrelay/chunkrelay/internal/rdp"
	"github.com/duskrelay/chunkrelay/internal/session"
)

var log = logging.For("chunkrelay-server")

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CHUNKRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "chunkrelay-server <port>",
		Short:   "Serve file chunks to chunkrelay clients",
		Example: "chunkrelay-server 9000 --root ./shared",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil || port <= 0 || port > 65535 {
				return fmt.Errorf("port must be a value in [1, 65535], got %q", args[0])
			}

			logging.SetLevel(v.GetString("log-level"))

			if addr := v.GetString("metrics-addr"); addr != "" {
				go func() {
					if err := metrics.Serve(addr); err != nil {
						log.WithError(err).Warn("metrics endpoint stopped")
					}
				}()
			}

			l, err := listener.New(&net.UDPAddr{Port: port}, session.ServerConfig{
				Root:        v.GetString("root"),
				Timeout:     v.GetDuration("timeout"),
				MaxTimeouts: v.GetInt("max-timeouts"),
			})
			if err != nil {
				return err
			}
			defer l.Close()

			log.Infof("listening on %s, serving files from %q", l.Addr(), v.GetString("root"))

			errCh := make(chan error, 1)
			go func() { errCh <- l.Serve() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				log.Infof("received signal %v, shutting down", sig)
				return l.Close()
			}
		},
	}

	flags := cmd.Flags()
	flags.String("root", ".", "directory files are served from")
	flags.Duration("timeout", rdp.DefaultTimeout, "per-datagram receive timeout")
	flags.Int("max-timeouts", rdp.MaxTimeouts, "consecutive receive timeouts tolerated before a chunk session fails")
	flags.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090 (disabled if empty)")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Fatal("server exited with error")
	}
}
