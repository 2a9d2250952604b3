package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"meshweb/config"
	"meshweb/device"
	"meshweb/feed"
	"meshweb/relay"
	"meshweb/storage"
	"meshweb/web"
)

const (
	shutdownTimeout  = 10 * time.Second
	seenIDPruneEvery = time.Hour
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed while loading config")
	}

	fmt.Printf("Node Name:       %s\n", cfg.NodeName)
	fmt.Printf("HTTP Address:    %s\n", cfg.HTTPListenAddr)
	fmt.Printf("Serial Port:     %s @ %d baud\n", cfg.SerialPort, cfg.SerialBaudRate)
	fmt.Printf("Config File:     %s\n", cfgPath)

	dataDir, err := config.ResolveDataDir()
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed while resolving data directory")
	}
	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed while opening database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("database close error")
		}
	}()
	fmt.Printf("Database File:   %s\n", dbPath)

	// The link keeps reconnecting on its own; an unplugged radio must not
	// take the web UI down.
	link, err := device.Open(device.Config{
		PortName: cfg.SerialPort,
		BaudRate: cfg.SerialBaudRate,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed while opening radio link")
	}

	hub := feed.NewHub(logger)
	bridge := relay.New(link, store, hub, logger)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		bridge.Run(relayCtx)
	}()

	pruneCtx, stopPrune := context.WithCancel(context.Background())
	go pruneSeenIDs(pruneCtx, store, logger)

	server := web.New(web.Options{
		Store:     store,
		Submitter: bridge,
		Link:      link,
		Hub:       hub,
		Logger:    logger,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe(cfg.HTTPListenAddr)
	}()
	fmt.Printf("Status:          serving on http://%s (press Ctrl+C to stop)\n", cfg.HTTPListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	// Close the hub first so open SSE streams end and Shutdown does not
	// wait out its deadline on them, then the event pump, then the radio.
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}

	stopPrune()
	stopRelay()
	<-relayDone

	if err := link.Close(); err != nil {
		logger.Error().Err(err).Msg("radio link close error")
	}
}

func pruneSeenIDs(ctx context.Context, store *storage.Store, logger zerolog.Logger) {
	ticker := time.NewTicker(seenIDPruneEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-storage.DefaultSeenIDRetention).UnixMilli()
			pruned, err := store.PruneSeenIDs(cutoff)
			if err != nil {
				logger.Warn().Err(err).Msg("seen ID prune failed")
			} else if pruned > 0 {
				logger.Debug().Int64("pruned", pruned).Msg("pruned old seen message IDs")
			}
		case <-ctx.Done():
			return
		}
	}
}
