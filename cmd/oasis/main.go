package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"oasis/internal/auth"
	"oasis/internal/config"
	"oasis/internal/httpserver"
	"oasis/internal/logger"
	"oasis/internal/ratelimiter"
	"oasis/internal/share"
	"oasis/internal/tasks"
	"oasis/internal/upload"
)

const (
	uploadMaxAge    = 24 * time.Hour
	janitorInterval = 10 * time.Minute
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "passwd":
			passwdCmd(os.Args[2:])
			return
		case "init":
			initCmd(os.Args[2:])
			return
		}
	}

	var (
		cfgPath = flag.String("config", "", "path to config yaml (default: $XDG_CONFIG_HOME/oasis/config.yaml)")
		addr    = flag.String("addr", "", "listen address (overrides server.addr)")
		root    = flag.String("root", "", "storage root (overrides storage.root)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *root != "" {
		cfg.Storage.Root = *root
	}
	if err := config.Finalize(cfg); err != nil {
		log.Fatalf("config: %v", err)
	}

	closer, err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer closer.Close()

	if err := run(cfg); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.Storage.StateDir, 0o755); err != nil {
		return fmt.Errorf("mkdir state: %w", err)
	}

	store, err := config.OpenRuleStore(&cfg.Rules)
	if err != nil {
		return fmt.Errorf("rule store: %w", err)
	}
	defer store.Close()

	secret, err := config.ShareSecret(cfg)
	if err != nil {
		return err
	}
	signer, err := share.NewSigner(secret)
	if err != nil {
		return err
	}

	rec := config.InitializeMetrics(cfg)

	coord := tasks.New(tasks.NewFSExecutor(cfg.Storage.Root, store.RenameTree), rec)
	defer coord.Close()

	uploads, err := upload.New(cfg.Storage.Root, cfg.Storage.StateDir)
	if err != nil {
		return fmt.Errorf("uploads: %w", err)
	}

	limiter := ratelimiter.New(cfg.Share.RateLimit, cfg.Share.RateBurst, janitorInterval)

	srv, err := httpserver.New(httpserver.Options{
		Config:  cfg,
		Rules:   store,
		Tasks:   coord,
		Signer:  signer,
		Uploads: uploads,
		Auth:    auth.New(cfg.Auth),
		Metrics: rec,
		Limiter: limiter,
	})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go limiter.Run(janitorInterval, ctx.Done())
	go pruneUploads(ctx, uploads)

	hs := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("oasis listening on http://%s (root=%s)", cfg.Server.Addr, cfg.Storage.Root)
		logger.Info("webdav endpoint: http://%s/dav/", cfg.Server.Addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown: %v", err)
	}
	if coord.Running() {
		logger.Info("waiting for the running copy/move task to finish")
	}
	return nil
}

func pruneUploads(ctx context.Context, m *upload.Manager) {
	t := time.NewTicker(janitorInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Prune(uploadMaxAge)
		}
	}
}

func passwdCmd(args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	var (
		password = fs.String("p", "", "password (required)")
		cost     = fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	)
	_ = fs.Parse(args)
	if *password == "" {
		fmt.Fprintln(os.Stderr, "usage: oasis passwd -p <password>")
		os.Exit(2)
	}
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fmt.Fprintf(os.Stderr, "invalid cost %d (min=%d max=%d)\n", *cost, bcrypt.MinCost, bcrypt.MaxCost)
		os.Exit(2)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(*password), *cost)
	if err != nil {
		log.Fatalf("bcrypt: %v", err)
	}
	fmt.Println(string(h))
}

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	var (
		path  = fs.String("config", "", "where to write the config (default: $XDG_CONFIG_HOME/oasis/config.yaml)")
		root  = fs.String("root", ".", "storage root to serve")
		force = fs.Bool("force", false, "overwrite an existing config file")
	)
	_ = fs.Parse(args)
	written, err := config.InitConfig(*path, *root, *force)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	fmt.Printf("wrote %s\n", written)
}
