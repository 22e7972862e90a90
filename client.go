package main

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/aethiopicuschan/zapcat/agent"
	"github.com/aethiopicuschan/zapcat/logger"
	"github.com/aethiopicuschan/zapcat/mbean/redisobj"
	"github.com/aethiopicuschan/zapcat/trapper"
)

func newGetCommand(config Config, stdout io.Writer) *cobra.Command {
	addr := config.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	timeout := 10 * time.Second
	verbose := false
	ccmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Ask an agent for one item",
		Long: `
Connects to an agent the way a monitoring server does, sends key and prints
the response.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			resp, v, err := agent.Get(c.Context(), addr, args[0], timeout)
			if err != nil {
				return err
			}
			if verbose {
				fmt.Fprintf(stdout, "[%s] ", v)
			}
			fmt.Fprintln(stdout, resp)
			return nil
		},
	}
	flags := ccmd.Flags()
	flags.StringVarP(&addr, "addr", "a", addr, "host:port of the agent")
	flags.DurationVar(&timeout, "timeout", timeout, "connection timeout")
	flags.BoolVarP(&verbose, "verbose", "v", verbose, "print the protocol version of the response")
	return ccmd
}

func newTrapCommand(config Config, stderr io.Writer) *cobra.Command {
	server, port, host := config.TrapperServer, config.TrapperPort, config.TrapperHost
	timeout := 10 * time.Second
	ccmd := &cobra.Command{
		Use:   "trap <key> <value>",
		Short: "Push one item to a monitoring server",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			if server == "" {
				return errors.New("no trapper server, set --server or ZAPCAT_TRAPPER_SERVER")
			}
			h, err := trapperHost(host)
			if err != nil {
				return err
			}
			addr := net.JoinHostPort(server, strconv.Itoa(port))
			if err := trapper.Push(addr, h, args[0], args[1], timeout); err != nil {
				return err
			}
			logger.NewLevelLogger(stderr, config.LogLevel).Debugf("sent %s as %s to %s", args[0], h, addr)
			return nil
		},
	}
	flags := ccmd.Flags()
	flags.StringVarP(&server, "server", "s", server, "monitoring server host")
	flags.IntVar(&port, "port", port, "trapper port of the monitoring server")
	flags.StringVar(&host, "host", host, "host name to report as, defaults to the hostname")
	flags.DurationVar(&timeout, "timeout", timeout, "connection timeout")
	return ccmd
}

func newPublishCommand(config Config, stderr io.Writer) *cobra.Command {
	redisAddr, ttl := config.RedisAddr, config.RedisTTL
	remove := false
	ccmd := &cobra.Command{
		Use:   "publish <object> [attribute=value...]",
		Short: "Publish a managed object to Redis for agents to serve",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if redisAddr == "" {
				return errors.New("no redis address, set --redis or ZAPCAT_REDIS_ADDR")
			}
			attrs, err := parseAttributes(args[1:])
			if err != nil {
				return err
			}
			log := logger.NewLevelLogger(stderr, config.LogLevel)
			s, err := redisobj.New(redisAddr, ttl, log)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := c.Context()
			if remove {
				return s.Remove(ctx, args[0])
			}
			if len(attrs) == 0 {
				return errors.New("nothing to publish")
			}
			return s.Publish(ctx, args[0], attrs)
		},
	}
	flags := ccmd.Flags()
	flags.StringVar(&redisAddr, "redis", redisAddr, "redis address")
	flags.DurationVar(&ttl, "ttl", ttl, "expire the object after this long, 0 to keep it")
	flags.BoolVar(&remove, "remove", remove, "remove the object instead")
	return ccmd
}

func parseAttributes(args []string) (map[string]string, error) {
	attrs := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, errors.Errorf("attribute %q: want name=value", arg)
		}
		attrs[k] = v
	}
	return attrs, nil
}
