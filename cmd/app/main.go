package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"RiskPull/internal/di"
	"RiskPull/internal/usecase"
	"RiskPull/pkg/config"
	"RiskPull/pkg/queue"
	"RiskPull/pkg/server"
	"RiskPull/pkg/tabular"
)

const usage = `usage: riskpull [-config path] <command> [symbol]

commands:
  serve        HTTP API, report workers and the nightly schedule
  nightly      every stage once
  riskindex | sniper | macro | optimize | walkforward | hv | integrity
  report       all watchlist reports, or one with a symbol argument
`

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path (.yaml or .toml)")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "serve"
	}
	if cmd != "serve" && !slices.Contains(usecase.Stages(), cmd) {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	mode := queue.ModeProducerOnly
	if cmd == "serve" {
		mode = queue.ModeProducerConsumer
	}

	// Wire DI: Initialize all dependencies
	app, cleanup, err := di.InitializeApp(cfg, mode)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app, cmd, flag.Arg(1)); err != nil {
		log.Printf("%s: %v", cmd, err)
		cleanup()
		os.Exit(1)
	}
}

func run(ctx context.Context, app *server.App, cmd, symbol string) error {
	switch {
	case cmd == "serve":
		return app.Serve(ctx)
	case cmd == usecase.StageReport && symbol != "":
		rep, err := app.Pipeline().Report(ctx, symbol)
		if err != nil {
			return err
		}
		return printJSON(rep)
	}
	results, err := app.RunStage(ctx, cmd)
	if perr := printJSON(results); perr != nil && err == nil {
		err = perr
	}
	return err
}

func printJSON(v any) error {
	b, err := tabular.MarshalJSON(v)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}
