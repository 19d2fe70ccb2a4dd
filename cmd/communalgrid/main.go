package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/communalgrid/communalgrid/pkg/coordinator"
	"github.com/communalgrid/communalgrid/pkg/hass"
	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/server"
	"github.com/communalgrid/communalgrid/pkg/storage"
	"github.com/communalgrid/communalgrid/pkg/utility"
	"github.com/communalgrid/communalgrid/pkg/vpp"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	rates := utility.Configured()
	ha := hass.Configured()
	s := storage.Configured()
	registries := vpp.Configured()

	coord := coordinator.Configured(rates, nil, s, nil)
	srv := server.Configured(coord)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	if err := rates.Validate(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid openei configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if ha.Enabled() {
		if err := ha.Validate(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "invalid home assistant configuration", slog.Any("error", err))
			os.Exit(1)
		}
		coord.SetScanner(ha)
	} else {
		log.Ctx(ctx).InfoContext(ctx, "no home assistant configured, device scanning disabled")
	}

	registry, err := registries.Load(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load registries", slog.Any("error", err))
		os.Exit(1)
	}
	coord.SetRegistry(registry)
	go reloadRegistryOnHangup(ctx, registries, coord)

	coord.Start(ctx)
	if err := coord.Update(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "initial update incomplete", slog.Any("error", err))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coord.Run(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "scheduler failed", slog.Any("error", err))
			cancel()
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		cancel()
		wg.Wait()
		os.Exit(1)
	}
	wg.Wait()
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}

// reloadRegistryOnHangup swaps in freshly loaded registries on SIGHUP. A
// registry that fails to load leaves the current one in place.
func reloadRegistryOnHangup(ctx context.Context, src *vpp.Source, coord *coordinator.Coordinator) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			registry, err := src.Load(ctx)
			if err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to reload registries", slog.Any("error", err))
				continue
			}
			coord.SetRegistry(registry)
			log.Ctx(ctx).InfoContext(
				ctx,
				"reloaded registries",
				slog.Int("ders", len(registry.DERs())),
				slog.Int("vpps", len(registry.VPPs())),
			)
		}
	}
}
