// Command vantage launches the multi-account execution engine.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/coachpo/vantage/config"
	"github.com/coachpo/vantage/internal/engine"
	"github.com/coachpo/vantage/internal/observability"
)

const loggerPrefix = "vantage "

func main() {
	logger := log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.LUTC)
	observability.SetLogger(observability.NewStdLogger(logger))

	ctx, cancel := newSignalContext()
	defer cancel()

	cfg := config.FromEnv()
	logger.Printf("configuration initialised: env=%s, venue=%s, symbols=%v",
		cfg.Environment, cfg.Venue.RESTBaseURL, cfg.Symbols)

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		logger.Fatalf("initialise engine: %v", err)
	}

	logger.Printf("engine starting: addr=%s", cfg.Server.Addr)
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatalf("engine stopped: %v", err)
	}
	logger.Printf("engine stopped")
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
