// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// fibre-peer is the reference binary exercising the full fibre stack end
// to end: it loads a node configuration, starts the runtime, and either
// listens for incoming connections (listen.address set) or dials a peer
// (listen.dial set), registering a demo "echo" endpoint either way.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/fibre-rpc/fibre/internal/call"
	"github.com/fibre-rpc/fibre/internal/codec"
	"github.com/fibre-rpc/fibre/internal/config"
	"github.com/fibre-rpc/fibre/internal/logging"
	"github.com/fibre-rpc/fibre/internal/object"
	"github.com/fibre-rpc/fibre/internal/reftransport"
	"github.com/fibre-rpc/fibre/internal/remotenode"
	"github.com/fibre-rpc/fibre/internal/runtime"
)

// echoEndpoint is the handle every fibre-peer process registers its demo
// function under, so a dialing peer always knows what to invoke.
const echoEndpoint = 1

func main() {
	configPath := flag.String("config", "/etc/fibre-peer/node.yaml", "path to node config file")
	invokeValue := flag.Int64("invoke", -1, "when >= 0 and listen.dial is set, call the peer's echo endpoint with this value and exit")
	flag.Parse()

	cfg, err := config.LoadNodeConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File, "fibre-peer")
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	rt := runtime.New(logger, cfg.Pipes.PoolCapacity, rate.Limit(1), 5, 2*time.Minute)
	rt.SetNodeLogDir(cfg.Logging.NodeLogDir)
	rt.Start()
	defer rt.Stop()

	dispatcher := object.NewDispatcher()
	registerEchoEndpoint(dispatcher)
	go serveDispatcher(ctx, rt, dispatcher, logger)

	if cfg.Listen.Address != "" {
		ln, err := reftransport.NewListener(cfg)
		if err != nil {
			logger.Error("failed to start listener", "error", err)
			os.Exit(1)
		}
		defer ln.Close()
		logger.Info("listening", "address", cfg.Listen.Address)
		go func() {
			if err := reftransport.Serve(ctx, ln, rt, cfg, logger); err != nil {
				logger.Error("reftransport serve exited", "error", err)
			}
		}()
	}

	if cfg.Listen.Dial != "" {
		node, err := reftransport.Dial(ctx, cfg.Listen.Dial, rt, cfg, logger)
		if err != nil {
			logger.Error("dial failed", "error", err)
			os.Exit(1)
		}
		logger.Info("connected", "peer", cfg.Listen.Dial)

		if *invokeValue >= 0 {
			result, err := echoFunction().Invoke(ctx, node, []any{int32(*invokeValue)})
			if err != nil {
				logger.Error("invoke failed", "error", err)
				os.Exit(1)
			}
			fmt.Printf("echo(%d) = %v\n", *invokeValue, result)
			return
		}
	}

	<-ctx.Done()
}

func registerEchoEndpoint(d *object.Dispatcher) {
	d.Register(echoEndpoint, object.FunctionSpec{
		Inputs:  []codec.Codec{codec.Int32},
		Outputs: []codec.Codec{codec.Int32},
		Handler: func(args []any) ([]any, error) {
			return []any{int32(args[0].(int64))}, nil
		},
	})
}

func echoFunction() *call.RemoteFunction {
	return &call.RemoteFunction{
		Name:    "echo",
		Handle:  codec.ObjectRef{ObjectID: echoEndpoint},
		Inputs:  []codec.Codec{codec.Int32},
		Outputs: []codec.Codec{codec.Int32},
	}
}

// serveDispatcher watches rt for RemoteNodes established either by an
// inbound accept or an outbound dial and starts servicing each with
// dispatcher, mirroring how object.Dispatcher.Serve itself watches a
// single node's pipe pool for newly addressed slots.
func serveDispatcher(ctx context.Context, rt *runtime.Runtime, dispatcher *object.Dispatcher, logger *slog.Logger) {
	seen := make(map[*remotenode.Node]struct{})
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, node := range rt.Nodes() {
			if _, ok := seen[node]; ok {
				continue
			}
			seen[node] = struct{}{}
			go dispatcher.Serve(ctx, node, logger)
		}
	}
}
