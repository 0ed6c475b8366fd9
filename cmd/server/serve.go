package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/relaychat/internal/attachment"
	"github.com/Tyrowin/relaychat/internal/config"
	"github.com/Tyrowin/relaychat/internal/identity"
	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(logs.GetLoggerFromString("INFO"))
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	if cfg.StoreDriver == string(store.DriverSQLite) {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o750); err != nil {
			return fmt.Errorf("failed to create database dir: %w", err)
		}
	}
	messages, err := store.Open(store.Driver(cfg.StoreDriver), cfg.StorePath(), log)
	if err != nil {
		return err
	}
	uploads, err := attachment.NewDiskStore(cfg.UploadDir, log)
	if err != nil {
		_ = messages.Close()
		return err
	}
	verifier, err := identity.NewJWT(cfg.JWTSecret)
	if err != nil {
		_ = messages.Close()
		return err
	}

	gw := server.NewGateway(cfg, server.Deps{
		Store:       messages,
		Attachments: uploads,
		Uploads:     uploads,
		Verifier:    verifier,
	}, log)
	httpServer := server.CreateServer(cfg.Port, gw.SetupRoutes())

	log.Info("Starting relaychat",
		"port", cfg.Port,
		"store", cfg.StoreDriver,
		"presence_on_connect", cfg.PresenceOnConnect,
		"echo_to_sender", cfg.EchoToSender)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, log)
	}()

	// Stop order matters: no new upgrades, then live connections, then storage.
	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"relaychat": func(ctx context.Context) error {
			log.Info("Graceful shutdown initiated...")
			httpErr := server.ShutdownServer(ctx, httpServer, log)
			gwErr := gw.Shutdown(cfg.ShutdownTimeout)
			storeErr := messages.Close()
			for _, err := range []error{httpErr, gwErr, storeErr} {
				if err != nil {
					return err
				}
			}
			return nil
		},
	})

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error("HTTP server failed", "error", err)
			_ = gw.Shutdown(cfg.ShutdownTimeout)
			_ = messages.Close()
			return err
		}
		// ListenAndServe returned cleanly, so a shutdown is in progress.
		if code := <-wait; code != 0 {
			return fmt.Errorf("shutdown finished with exit code %d", code)
		}
	case code := <-wait:
		if code != 0 {
			return fmt.Errorf("shutdown finished with exit code %d", code)
		}
	}
	log.Info("Application exited")
	return nil
}
