package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/keyring-registry/attrstore"
	"github.com/ruteri/keyring-registry/backend"
	"github.com/ruteri/keyring-registry/cmd/flags"
	"github.com/ruteri/keyring-registry/httpserver"
	"github.com/ruteri/keyring-registry/kvstore"
	"github.com/ruteri/keyring-registry/registry"
	"github.com/ruteri/keyring-registry/registryhandler"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "keyringd",
		Usage: "Serve the keyring registry API",
		Flags: append([]cli.Flag{
			flags.ListenAddrFlag,
			flags.StoreURIFlag,
			flags.KeysDirFlag,
			flags.VaultAddrFlag,
			flags.VaultTokenFlag,
			flags.VaultMountFlag,
			flags.VaultPathFlag,
			flags.LogServiceFlagFn("keyringd"),
		}, flags.CommonFlags...),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx := context.Background()

	store, err := kvstore.NewFactory(logger).StoreFor(cCtx.String(flags.StoreURIFlag.Name))
	if err != nil {
		return err
	}

	backends := backend.NewFactory(backend.Config{
		KeysDir:    cCtx.String(flags.KeysDirFlag.Name),
		VaultAddr:  cCtx.String(flags.VaultAddrFlag.Name),
		VaultToken: cCtx.String(flags.VaultTokenFlag.Name),
		VaultMount: cCtx.String(flags.VaultMountFlag.Name),
		VaultPath:  cCtx.String(flags.VaultPathFlag.Name),
	}, logger)

	reg := registry.New(registry.Config{
		Attributes: attrstore.New(store, logger),
		Backends:   backends,
		Probe:      backends.DaemonProbe(),
		Log:        logger,
	})

	failures, err := reg.Init(ctx)
	if err != nil {
		return err
	}
	for _, failure := range failures {
		logger.Warn("Keyring excluded from registry",
			"keyring", failure.ID.String(),
			"err", failure.Err)
	}

	handler := registryhandler.NewHandler(reg, logger)
	srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name)), handler)
	if err != nil {
		return err
	}
	srv.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit

	logger.Info("Shutting down")
	srv.Shutdown()
	return nil
}
