package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aethiopicuschan/zapcat/admin"
	"github.com/aethiopicuschan/zapcat/agent"
	"github.com/aethiopicuschan/zapcat/logger"
	"github.com/aethiopicuschan/zapcat/mbean"
	"github.com/aethiopicuschan/zapcat/mbean/platform"
	"github.com/aethiopicuschan/zapcat/mbean/redisobj"
	"github.com/aethiopicuschan/zapcat/props"
	"github.com/aethiopicuschan/zapcat/query"
	"github.com/aethiopicuschan/zapcat/trapper"
	"github.com/aethiopicuschan/zapcat/version"
)

type serveOptions struct {
	Config
	TrapItems    []string
	TrapInterval time.Duration
}

func newServeCommand(config Config, stderr io.Writer) *cobra.Command {
	opts := serveOptions{Config: config, TrapInterval: time.Minute}
	ccmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent",
		Long: `
Listens for monitoring server connections and answers their checks until
interrupted. With --trapper-server, also pushes the --trap items.
`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			if err := opts.Valid(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts, logger.NewLevelLogger(stderr, opts.LogLevel))
		},
	}

	flags := ccmd.Flags()
	flags.StringVarP(&opts.Addr, "addr", "a", opts.Addr, "address to listen on")
	flags.StringVar(&opts.Transport, "transport", opts.Transport, "connection handling: blocking or evented")
	flags.IntVar(&opts.MaxConnections, "max-connections", opts.MaxConnections, "concurrent connection limit, 0 for none (blocking only)")
	flags.DurationVar(&opts.ReadTimeout, "read-timeout", opts.ReadTimeout, "limit on waiting for a request line, 0 for none")
	flags.DurationVar(&opts.PipelineWait, "pipeline-wait", opts.PipelineWait, "how long to wait for a further request after answering")
	flags.IntVar(&opts.EventLoops, "event-loops", opts.EventLoops, "event loops for the evented transport")
	flags.StringVar(&opts.Protocol, "protocol", opts.Protocol, "default response protocol, 1.1 or 1.4")
	flags.StringVarP(&opts.Properties, "properties", "p", opts.Properties, "properties file, reloaded on change")
	flags.StringVar(&opts.AdminAddr, "admin-addr", opts.AdminAddr, "address for the HTTP admin API, empty to disable")
	flags.StringVar(&opts.RedisAddr, "redis", opts.RedisAddr, "redis address for shared managed objects, empty to disable")
	flags.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "error, warn, info or debug")
	flags.StringVar(&opts.TrapperServer, "trapper-server", opts.TrapperServer, "monitoring server to push --trap items to")
	flags.IntVar(&opts.TrapperPort, "trapper-port", opts.TrapperPort, "trapper port of the monitoring server")
	flags.StringVar(&opts.TrapperHost, "trapper-host", opts.TrapperHost, "host name to report as, defaults to the hostname")
	flags.StringArrayVar(&opts.TrapItems, "trap", nil, "item to push, as key=jmx[object][attribute] (repeatable)")
	flags.DurationVar(&opts.TrapInterval, "trap-interval", opts.TrapInterval, "how often --trap items are pushed")
	return ccmd
}

// trapItem is one periodically pushed attribute.
type trapItem struct {
	key string
	q   query.Query
}

func parseTrapItem(s string) (trapItem, error) {
	key, line, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return trapItem{}, errors.Errorf("trap item %q: want key=jmx[object][attribute]", s)
	}
	q := query.Parse(line)
	if q.Kind != query.ManagedAttribute || q.ObjectName == "" || q.AttributeName == "" {
		return trapItem{}, errors.Errorf("trap item %q: %q is not a managed attribute", s, line)
	}
	return trapItem{key: key, q: q}, nil
}

func serve(ctx context.Context, opts serveOptions, log logger.Logger) error {
	var items []trapItem
	for _, s := range opts.TrapItems {
		it, err := parseTrapItem(s)
		if err != nil {
			return err
		}
		items = append(items, it)
	}
	var host string
	if opts.TrapperServer != "" && len(items) > 0 {
		if opts.TrapInterval <= 0 {
			return errors.Errorf("trap interval must be positive, got %s", opts.TrapInterval)
		}
		h, err := trapperHost(opts.TrapperHost)
		if err != nil {
			return err
		}
		host = h
	}

	p, err := props.New(opts.Properties, props.SystemDefaults(opts.Protocol), log.WithPrefix("[props] "))
	if err != nil {
		return err
	}
	p.Watch()

	objects := mbean.NewServer()
	if err := platform.Register(objects); err != nil {
		return errors.Wrap(err, "registering platform objects")
	}
	sources := []mbean.Source{objects}
	shared, err := redisobj.New(opts.RedisAddr, opts.RedisTTL, log.WithPrefix("[redis] "))
	if err != nil {
		return err
	}
	if shared != nil {
		defer shared.Close()
		sources = append(sources, shared)
	}
	source := mbean.Chain(sources...)

	engine := &query.Engine{
		Dispatcher: &query.Dispatcher{
			Objects:    source,
			Properties: p,
			Identity:   version.Identity(),
			Logger:     log,
		},
		Encoder: &query.Encoder{Properties: p, Logger: log},
		Logger:  log,
	}

	a := agent.New(engine, agent.Options{
		Addr:           opts.Addr,
		Transport:      opts.Transport,
		MaxConnections: opts.MaxConnections,
		ReadTimeout:    opts.ReadTimeout,
		PipelineWait:   opts.PipelineWait,
		EventLoops:     opts.EventLoops,
	}, log)

	if host != "" {
		tr := trapper.New(opts.TrapperServer, host,
			trapper.WithPort(opts.TrapperPort),
			trapper.WithLogger(log.WithPrefix("[trapper] ")),
		)
		defer tr.Stop()
		for _, it := range items {
			if err := tr.Every(ctx, opts.TrapInterval, it.key, it.q.ObjectName, it.q.AttributeName, source); err != nil {
				return err
			}
		}
	}

	log.Printf("%s starting", version.Identity())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ListenAndServe(gctx) })
	if opts.AdminAddr != "" {
		srv := admin.New(engine, objects, p, log.WithPrefix("[admin] "))
		g.Go(func() error { return srv.ListenAndServe(gctx, opts.AdminAddr) })
	}
	return g.Wait()
}

// hostname is replaced in tests.
var hostname = os.Hostname

func trapperHost(host string) (string, error) {
	if host != "" {
		return host, nil
	}
	host, err := hostname()
	if err != nil {
		return "", errors.Wrap(err, "looking up hostname")
	}
	return host, nil
}
