// Command storekit-ops runs the in-memory reference backend on an infrastructure bundle
// and serves the operator REST API until interrupted.
package main

import (
	"context"
	"flag"
	log "log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sharedcode/storekit"
	"github.com/sharedcode/storekit/infra"
	"github.com/sharedcode/storekit/inmemory"
	"github.com/sharedcode/storekit/restapi"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	address := flag.String("address", "", "REST API listen address, overrides api.address")
	flag.Parse()

	if err := run(*configPath, *address); err != nil {
		log.Error("storekit-ops failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, address string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	storekit.ConfigureLogging()
	storekit.SetLogLevel(storekit.ParseLogLevel(cfg.LogLevel))
	if address != "" {
		cfg.API.Address = address
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bundle, err := infra.New(ctx, cfg)
	if err != nil {
		return err
	}
	store := inmemory.New(cfg.Store, bundle.Errors)
	bundle.RegisterStorageProbes(store.Name(), store.Ping, store.Capacity)
	defer store.Close()

	server, err := restapi.NewServer(bundle, cfg.API)
	if err != nil {
		bundle.Stop()
		return err
	}

	bundle.Start(ctx)
	defer bundle.Stop()
	return server.Serve(ctx)
}
