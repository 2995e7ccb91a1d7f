package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/universal-ai/gateway/internal/config"
	"github.com/universal-ai/gateway/internal/logger"
	"github.com/universal-ai/gateway/internal/models"
	"github.com/universal-ai/gateway/internal/server"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long:  `Start the gateway HTTP server with the key store, ledger and admin API`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "server host")
	serveCmd.Flags().Int("port", 8000, "server port")
	serveCmd.Flags().String("mode", "release", "server mode (debug/release/test)")
}

func runServe(cmd *cobra.Command, args []string) error {
	// root and serve both define these flags; bind the ones of the running command
	for _, name := range []string{"host", "port", "mode"} {
		viper.BindPFlag("server."+name, cmd.Flags().Lookup(name))
	}

	cfg, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logs := logger.NewBuffer(cfg.Logging.BufferSize)
	log, err := logger.New(cfg.Logging, logs)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting Universal AI Gateway",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("usage", cfg.Usage.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize core services", zap.Error(err))
		return err
	}
	defer c.close()

	key, created, err := c.admin.EnsureBootstrapKey(cfg.Credits.BootstrapKey, cfg.Credits.BootstrapCredits)
	if err != nil {
		log.Error("Failed to create bootstrap key", zap.Error(err))
		return err
	}
	if created {
		log.Info("Bootstrap key created",
			zap.String("key", models.MaskKey(key.Key)),
			zap.Int64("credits", key.Credits))
		// printed once so the operator can use it; never logged in full
		fmt.Printf("\nDefault API key: %s (%d credits)\n\n", key.Key, key.Credits)
	}

	srv, err := server.New(cfg, server.Options{
		Store:      c.store,
		Authorizer: c.authorizer,
		Admin:      c.admin,
		Usage:      c.usage,
		Logs:       logs,
	}, log)
	if err != nil {
		log.Error("Failed to create server", zap.Error(err))
		return err
	}

	syncCtx, stopSync := context.WithCancel(context.Background())
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		c.syncer.Run(syncCtx)
	}()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server started", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serveErr:
		if err != nil {
			log.Error("Server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := httpServer.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Error("Server forced to shutdown", zap.Error(shutdownErr))
	}

	// the syncer does its final flush after in-flight requests settled
	stopSync()
	<-syncDone

	if shutdownErr != nil {
		return shutdownErr
	}
	log.Info("Server stopped gracefully")
	return nil
}
