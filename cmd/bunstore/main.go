package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/bunstore"
	"github.com/kartikbazzad/bunbase/bunstore/internal/config"
	"github.com/kartikbazzad/bunbase/bunstore/internal/logger"
	"github.com/kartikbazzad/bunbase/bunstore/internal/server"
	"github.com/kartikbazzad/bunbase/bunstore/internal/shell"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "bunstore",
	Short:         "Embedded document store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (yaml, json, toml or .env)")

	var addr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the store over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(addr)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")

	var history string
	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Open an interactive shell on the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(history)
		},
	}
	shellCmd.Flags().StringVar(&history, "history", "", "history file")

	compactCmd := &cobra.Command{
		Use:   "compact",
		Short: "Load and compact the datafile, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return compact()
		},
	}

	rootCmd.AddCommand(serveCmd, shellCmd, compactCmd)
}

func openStore(cfg config.Config, reg prometheus.Registerer) (*bunstore.Store, error) {
	opts, err := cfg.StoreOptions()
	if err != nil {
		return nil, err
	}
	opts.Logger = logger.Get()
	opts.Registerer = reg
	store, err := bunstore.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func serve(addr string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Logger())
	log := logger.Get()
	if addr == "" {
		addr = cfg.HTTP.Addr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := openStore(cfg, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("store close", "error", err)
		}
	}()

	srv := server.New(store, server.Config{RateLimit: cfg.HTTP.RateLimit, Burst: cfg.HTTP.Burst}, reg, log)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	}()

	log.Info("listening", "addr", addr, "datafile", cfg.Store.Filename, "backend", cfg.Store.Backend)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func runShell(history string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	// Keep logs off stdout.
	lc := cfg.Logger()
	lc.Output = os.Stderr
	lc.Format = "text"
	if cfg.Log.Level == "" || cfg.Log.Level == "INFO" {
		lc.Level = "WARN"
	}
	logger.Init(lc)

	store, err := openStore(cfg, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Printf("bunstore shell (%s)\n", describe(cfg))
	return shell.New(store).Run(os.Stdout, history)
}

func compact() error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Logger())

	store, err := openStore(cfg, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.CompactDatafile().Await(); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	logger.Get().Info("datafile compacted", "datafile", cfg.Store.Filename, "documents", len(store.GetAllData()))
	return nil
}

func describe(cfg config.Config) string {
	if cfg.Store.InMemory || cfg.Store.Filename == "" {
		return "in memory"
	}
	return fmt.Sprintf("%s, %s backend", cfg.Store.Filename, cfg.Store.Backend)
}
