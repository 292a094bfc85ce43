package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/sockserve/internal/config"
	"github.com/Brownie44l1/sockserve/internal/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "sockserve: %v\n", err)
		fmt.Fprintln(os.Stderr, "usage: sockserve -text|-file|-redirect|-camera VALUE [options]")
		return 2
	}

	level, err := server.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sockserve: %v\n", err)
		return 2
	}
	logger := server.NewLogger(os.Stdout, level)

	srv := server.New(cfg, server.WithLogger(logger))
	ln, err := srv.Listen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sockserve: %v\n", err)
		return 1
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case err := <-errc:
		// Connection limit reached, or the listener failed.
		if err != nil {
			logger.Error("server stopped", server.Field{Key: "error", Value: err})
			code = 1
		}
	case sig := <-sigChan:
		logger.Info("shutting down", server.Field{Key: "signal", Value: sig.String()})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown incomplete", server.Field{Key: "error", Value: err})
			code = 1
		}
	}

	stats := srv.Stats()
	fmt.Printf("sessions=%d responses=%d streams=%d chunks=%d bytes=%d read_errors=%d write_errors=%d avg_latency=%s\n",
		stats.SessionsTotal, stats.ResponsesTotal, stats.StreamsTotal, stats.ChunksWritten,
		stats.BytesWritten, stats.ReadErrors, stats.WriteErrors, stats.AverageLatency)
	return code
}
