// Command emberd boots a board and serves the operator console.
//
// The board description comes from -board (or EMBER_BOARD); without
// one the built-in demo board runs. Everything else is configured
// through EMBER_-prefixed environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/emberworks/emberos/internal/board"
	"github.com/emberworks/emberos/internal/config"
	"github.com/emberworks/emberos/internal/infrastructure/monitoring"
	"github.com/emberworks/emberos/internal/infrastructure/tracing"
	"github.com/emberworks/emberos/internal/logging"
	"github.com/emberworks/emberos/internal/process"
	"github.com/emberworks/emberos/internal/server"
)

func main() {
	boardFile := flag.String("board", "", "board description file (TOML or YAML)")
	serial := flag.Bool("serial", false, "expose the pty serial console")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *boardFile != "" {
		cfg.Board.File = *boardFile
	}
	if *serial {
		cfg.Serial.Enabled = true
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("emberd failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *logging.Logger) error {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	var boardCfg *board.Config
	if cfg.Board.File != "" {
		var err error
		if boardCfg, err = board.LoadConfig(cfg.Board.File); err != nil {
			return err
		}
	}

	metrics := monitoring.NewMetrics()
	trace := tracing.NewHub(log.Component("trace").Logger)

	// The serial port exists only after the board does, so the sink
	// reads it through this pointer.
	var port *server.Serial
	consoleLog := log.Component("console")
	sink := func(now uint64, pid process.ID, name string, line []byte) {
		consoleLog.Info("app output",
			zap.Uint64("tick", now),
			zap.String("pid", pid.String()),
			zap.String("name", name),
			zap.ByteString("line", line))
		if port != nil {
			port.WriteLine(name, line)
		}
	}

	b, err := board.Assemble(ctx, boardCfg, board.Deps{
		Log:       log.Component("kernel"),
		Metrics:   metrics,
		Trace:     trace,
		Sink:      sink,
		ImageDirs: cfg.Board.ImageDirs,
	})
	if err != nil {
		return err
	}
	log.Info("board assembled",
		zap.String("board", b.Config.Name),
		zap.Int("apps", len(b.Installed)))

	workers := 2
	errc := make(chan error, 3)
	if cfg.Serial.Enabled {
		if port, err = server.NewSerial(b.Kernel, log); err != nil {
			return err
		}
		log.Info("serial console available", zap.String("device", port.Device()))
		workers++
		go func() { errc <- port.Run(ctx) }()
	}

	srv := server.New(cfg, b, metrics, log)
	go func() { errc <- b.Kernel.Run(ctx) }()
	go func() { errc <- srv.Run(ctx) }()

	var firstErr error
	for i := 0; i < workers; i++ {
		if err := <-errc; err != nil && firstErr == nil {
			firstErr = err
		}
		// Any exit takes the rest of the daemon down with it.
		cancel()
	}
	if firstErr != nil {
		return firstErr
	}
	log.Info("shutdown complete")
	return nil
}
