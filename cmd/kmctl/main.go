package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/froz-husain/kmstore/internal/bootstrap"
	"github.com/froz-husain/kmstore/internal/cli"
	"github.com/froz-husain/kmstore/internal/config"
	"go.uber.org/zap"
)

func main() {
	var root cli.CLI
	kctx := kong.Parse(&root,
		kong.Name("kmctl"),
		kong.Description("Inspect and edit the kilometrage record store."),
		kong.UsageOnError(),
	)

	logger, err := newLogger(root.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(root.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	err = kctx.Run(&cli.Context{
		Ctx:    ctx,
		Store:  app.Service,
		Out:    os.Stdout,
		Output: root.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger writes console logs to stderr so stdout stays parseable.
func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
