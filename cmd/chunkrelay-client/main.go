// Command chunkrelay-client retrieves one file from a pool of
// chunkrelay-server instances, splitting the transfer across N
// parallel chunk sessions and reassembling the result locally.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/duskrelay/chunkrelay/internal/logging"
	"github.com/duskrelay/chunkrelay/internal/metrics"
	"github.com/duskrelay/chunkrelay/internal/orchestrator"
	"github.com/duskrelay/chunkrelay/internal/rdp"
	"github.com/duskrelay/chunkrelay/internal/serverlist"
)

var log = logging.For("chunkrelay-client")

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CHUNKRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "chunkrelay-client <filename> <num-connections>",
		Short:   "Retrieve a file from a pool of chunkrelay servers",
		Example: "chunkrelay-client movie.mp4 4 --server-list server-info.txt",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			filename := args[0]
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("num-connections must be a positive integer, got %q", args[1])
			}

			logging.SetLevel(v.GetString("log-level"))

			servers, err := serverlist.Load(v.GetString("server-list"))
			if err != nil {
				return err
			}
			if len(servers) == 0 {
				return fmt.Errorf("server list %q contains no usable entries", v.GetString("server-list"))
			}

			scratchDir := v.GetString("scratch-dir")
			if scratchDir == "" {
				dir, err := os.MkdirTemp("", "chunkrelay-scratch-")
				if err != nil {
					return err
				}
				defer os.RemoveAll(dir)
				scratchDir = dir
			}

			out := v.GetString("out")
			if out == "" {
				out = filename
			}

			log.Infof("retrieving %q across %d connections from %d known servers", filename, n, len(servers))

			err = orchestrator.Retrieve(orchestrator.Config{
				Filename:     filename,
				ConnectCount: n,
				Servers:      servers,
				ScratchDir:   scratchDir,
				OutputPath:   out,
				Timeout:      v.GetDuration("timeout"),
				MaxTimeouts:  v.GetInt("max-timeouts"),
			})
			if err != nil {
				return err
			}

			fmt.Println(out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("server-list", "server-info.txt", "path to the newline-delimited server directory (ip port per line)")
	flags.String("out", "", "output file path (defaults to <filename>)")
	flags.String("scratch-dir", "", "directory for per-chunk scratch files (defaults to a temp dir, removed on exit)")
	flags.Duration("timeout", rdp.DefaultTimeout, "per-datagram receive timeout")
	flags.Int("max-timeouts", rdp.MaxTimeouts, "consecutive receive timeouts tolerated before a chunk session fails")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}

	return cmd
}

func main() {
	if addr := os.Getenv("CHUNKRELAY_METRICS_ADDR"); addr != "" {
		go func() {
			if err := metrics.Serve(addr); err != nil {
				log.WithError(err).Warn("metrics endpoint stopped")
			}
		}()
	}

	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("retrieval failed")
		time.Sleep(10 * time.Millisecond) // let the log line flush before exit
		os.Exit(1)
	}
}
