package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juruen/inkcore/config"
	"github.com/juruen/inkcore/encoding/rm"
	"github.com/juruen/inkcore/engine"
	"github.com/juruen/inkcore/log"
	"github.com/juruen/inkcore/shell"
)

func newEngine(configPath string) (*engine.Engine, func() error, error) {
	if configPath == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return nil, nil, err
		}
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	opts, err := cfg.EngineOptions()
	if err != nil {
		return nil, nil, err
	}
	options, closeStore, err := cfg.EngineOptionList()
	if err != nil {
		return nil, nil, err
	}

	e, err := engine.New(opts, options...)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return e, closeStore, nil
}

func run() error {
	configPath := flag.String("config", "", "config file, defaults to $INKCORE_CONFIG or the user config dir")
	serverAddr := flag.String("server", "", "serve the HTTP API on this address, e.g. :8080")
	page := flag.String("load", "", ".rm page loaded at startup")
	flag.Parse()

	e, closeStore, err := newEngine(*configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(context.Background()); err != nil {
			log.Warning.Println(err)
		}
		if err := closeStore(); err != nil {
			log.Warning.Println(err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *page != "" {
		p, err := rm.ReadFile(*page)
		if err != nil {
			return err
		}
		if err := e.AddStrokes(ctx, rm.ToStrokes(p)); err != nil {
			return err
		}
	}

	if *serverAddr != "" {
		return runServerMode(ctx, *serverAddr, e)
	}
	return shell.RunShell(e, flag.Args())
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
