// Command bask-engine is the reference runtime for the remote merge engine
// (spec.md §6 "CLI surface"). RDMA transport is out of scope (spec.md §1),
// so this binary drives the engine loop against the loopback
// transport.SimConn and exposes Prometheus counters over HTTP, the same
// local-development/CI shape transport.Host documents.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/casys-kaist/bask-ae-eurosys26/engine"
	"github.com/casys-kaist/bask-ae-eurosys26/transport"
)

func main() {
	app := &cli.App{
		Name:  "bask-engine",
		Usage: "reference runtime for the disaggregated same-page-merge engine",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "verbose logs"},
			&cli.BoolFlag{Name: "no-skip-opt", Usage: "disable the volatility-aware skip heuristic"},
			&cli.BoolFlag{Name: "no-pre-hash-opt", Usage: "disable the background pre-hash worker"},
			&cli.BoolFlag{Name: "dataplane", Usage: "single-operation fallback mode (out of scope)"},
			&cli.BoolFlag{Name: "old", Usage: "use the legacy compare-and-merge worker"},
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1", Usage: "address to serve /metrics on"},
			&cli.IntFlag{Name: "port", Value: 9701, Usage: "port to serve /metrics on"},
			&cli.Uint64Flag{Name: "prune-margin", Value: 1, Usage: "cycles an unobserved rmap_item may go before pruning"},
			&cli.IntFlag{Name: "cycles", Value: 0, Usage: "stop after this many cycles (0 = run until signaled)"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	handler := log.StreamHandler(os.Stderr, log.TerminalFormat(true))
	lvl := log.LvlInfo
	if c.Bool("debug") {
		lvl = log.LvlDebug
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, handler))

	if c.Bool("dataplane") {
		return cli.Exit("dataplane single-operation fallback mode is out of scope", 1)
	}

	cfg := engine.Config{
		Legacy:       c.Bool("old"),
		NoSkipOpt:    c.Bool("no-skip-opt"),
		NoPreHashOpt: c.Bool("no-pre-hash-opt"),
		PruneMargin:  c.Uint64("prune-margin"),
	}

	metrics := engine.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := registry.Register(metrics); err != nil {
		return fmt.Errorf("bask-engine: registering metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf("%s:%d", c.String("addr"), c.Int("port"))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info("bask-engine: serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("bask-engine: metrics server failed", "err", err)
		}
	}()
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg, metrics)
	demo := newDemoHost()
	conn := transport.Dial(demo.host)

	maxCycles := c.Int("cycles")
	for i := 0; maxCycles == 0 || i < maxCycles; i++ {
		select {
		case <-ctx.Done():
			log.Info("bask-engine: shutting down")
			return nil
		default:
		}

		demo.submitNextCycle()
		if _, err := eng.RunCycle(ctx, conn); err != nil {
			if halted, haltErr := eng.Halted(); halted {
				return cli.Exit(fmt.Sprintf("bask-engine: halted: %v", haltErr), 2)
			}
			return cli.Exit(fmt.Sprintf("bask-engine: cycle failed: %v", err), 3)
		}
		if _, err := demo.host.TakeResult(ctx); err != nil {
			return cli.Exit(fmt.Sprintf("bask-engine: reading result: %v", err), 3)
		}
	}
	return nil
}
