package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	clientDir := flag.String("client", "", "Path to browser client directory (overrides config)")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *clientDir != "" {
		cfg.ClientDir = *clientDir
	}

	log, err := newLogger(cfg.Production)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	grid, err := cfg.Grid()
	if err != nil {
		log.Fatalw("load map", "err", err)
	}

	var db *DB
	if cfg.DBPath != "" {
		db, err = OpenDB(cfg.DBPath)
		if err != nil {
			log.Fatalw("open database", "path", cfg.DBPath, "err", err)
		}
		defer db.Close()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	state := NewState(grid, rng, time.Now)
	auth := NewAuth(db, log)
	stats := NewStats(db, log)
	defer stats.Stop()

	hub := NewHub()
	game := NewGame(state, auth, stats, log)
	maintenance := NewMaintenance(game, time.Now)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: NewRouter(cfg, hub, game, auth, db, log),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return game.Run(ctx) })
	g.Go(func() error { return maintenance.Run(ctx) })
	g.Go(func() error {
		log.Infow("server starting", "addr", cfg.Addr, "production", cfg.Production)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Infow("shutting down")
		hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalw("server error", "err", err)
	}
}
