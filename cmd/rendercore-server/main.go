// Command rendercore-server serves the render request core over a socket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/machinefabric/rendercore-go/builtin"
	"github.com/machinefabric/rendercore-go/config"
	"github.com/machinefabric/rendercore-go/dispatch"
	"github.com/machinefabric/rendercore-go/entrypoint"
	"github.com/machinefabric/rendercore-go/host"
	"github.com/machinefabric/rendercore-go/observability"
	"github.com/machinefabric/rendercore-go/task"
	"github.com/machinefabric/rendercore-go/transport"
)

// Set at link time with -ldflags "-X main.revision=...".
var revision = "dev"

var serverVersion = builtin.Version{Major: 0, Minor: 1, Patch: 0}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath  string
		listen      string
		network     string
		codecName   string
		printConfig bool
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("rendercore-server", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default: search for rendercore.yaml)")
	flagSet.StringVar(&listen, "listen", "", "listen address, overrides server.address")
	flagSet.StringVar(&network, "network", "", "tcp or unix, overrides server.network")
	flagSet.StringVar(&codecName, "codec", "", "json or cbor, overrides server.codec")
	flagSet.BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")
	flagSet.BoolVar(&showVersion, "version", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	version := serverVersion
	version.Revision = revision
	if showVersion {
		fmt.Println("rendercore-server", version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Address = listen
	}
	if network != "" {
		cfg.Server.Network = network
	}
	if codecName != "" {
		cfg.Server.Codec = codecName
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if printConfig {
		data, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("setting up logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, version, logger)
}

func serve(ctx context.Context, cfg *config.Config, version builtin.Version, logger *zap.Logger) error {
	registry := entrypoint.NewRegistry(logger)
	manager := task.NewManager(logger)
	if err := builtin.Register(registry, manager, version); err != nil {
		return err
	}

	services := entrypoint.NewContext()
	services.Set("config", cfg)
	if err := registry.Setup(services); err != nil {
		return err
	}

	var opts []dispatch.Option
	if cfg.Dispatch.ValidateResults {
		opts = append(opts, dispatch.WithResultValidation())
	}
	dispatcher := dispatch.NewDispatcher(registry, manager, logger, opts...)

	codec, err := transport.CodecByName(cfg.Server.Codec)
	if err != nil {
		return err
	}
	server, err := transport.NewServer(transport.Options{
		Network: cfg.Server.Network,
		Address: cfg.Server.Address,
		Codec:   codec,
		Limits:  transport.Limits{MaxFrame: cfg.Server.MaxFrame},
	}, dispatcher, manager, logger)
	if err != nil {
		return err
	}
	if err := server.Listen(); err != nil {
		return err
	}

	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	logger.Info("rendercore server started",
		zap.Stringer("version", version),
		zap.Stringer("address", server.Addr()),
		zap.Strings("entrypoints", registry.Names()))

	loop := host.NewLoop(registry, manager, nil, logger)
	if err := loop.Run(ctx, cfg.Host.TickInterval); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Host.ShutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tasks did not stop in time", zap.Error(err))
	}
	return <-served
}
