package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"codeberg.org/mutker/hwmond/internal/api"
	"codeberg.org/mutker/hwmond/internal/config"
	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/gpu"
	"codeberg.org/mutker/hwmond/internal/hardware"
	"codeberg.org/mutker/hwmond/internal/host"
	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/pid"
	"codeberg.org/mutker/hwmond/internal/poller"
	"codeberg.org/mutker/hwmond/internal/sensor"
	"codeberg.org/mutker/hwmond/internal/snapshot"
	"codeberg.org/mutker/hwmond/internal/status"
	"codeberg.org/mutker/hwmond/internal/telemetry"
	"github.com/spf13/pflag"
)

func main() {
	loader, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg := loader.Current()

	logger.Init(string(cfg.LogLevel), logger.IsService())
	log := logger.Default()
	loader.SetLogger(log.With("config"))
	for _, msg := range loader.Ignored() {
		log.Warn().Str("value", msg).Msg("Invalid configuration value, using default")
	}
	log.Debug().Str("config", loader.ConfigFile()).Msg("Config loaded")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Once {
		if err := once(ctx, loader, log); err != nil {
			log.Error().Err(err).Msg("Sampling failed")
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, loader, log); err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.ErrorWithCode(appErr).Msg("hwmond stopped")
		} else {
			log.Error().Err(err).Msg("hwmond stopped")
		}
		os.Exit(1)
	}
}

func newProvider(cfg config.Config, log logger.Logger) *sensor.Multi {
	providers := []sensor.NamedProvider{
		{Name: "host", Provider: host.NewProvider(log.With("host"))},
	}
	if cfg.NVML {
		providers = append(providers, sensor.NamedProvider{Name: "nvml", Provider: gpu.New(log.With("nvml"))})
	}

	return sensor.NewMulti(log.With("sensor"), providers...)
}

func newPoller(provider sensor.Provider, loader *config.Loader, log logger.Logger) *poller.Poller {
	builder := snapshot.New(host.NewInfo(), log.With("snapshot"))
	return poller.New(provider, builder, loader, log.With("poller"),
		poller.WithAdapterSource(host.NewAdapterSource(log.With("network"))))
}

// once prints a single snapshot as JSON.
func once(ctx context.Context, loader *config.Loader, log logger.Logger) error {
	provider := newProvider(loader.Current(), log)
	if err := provider.Open(ctx); err != nil {
		return err
	}
	defer provider.Close()

	p := newPoller(provider, loader, log)
	p.RunOnce(ctx)

	snap := p.Snapshot()
	if snap == nil {
		return errors.New().WithMessage(errors.ErrProviderUnavailable, "no snapshot captured")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(snap)
}

func run(ctx context.Context, loader *config.Loader, log logger.Logger) error {
	cfg := loader.Current()

	pidPath := pid.DefaultPath()
	if err := pid.Write(pidPath); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(pidPath); err != nil {
			log.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	provider := newProvider(cfg, log)
	if err := provider.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close sensor providers")
		}
	}()

	p := newPoller(provider, loader, log)

	collector, err := telemetry.NewService(cfg.TelemetryConfig(), log.With("telemetry"))
	if err != nil {
		return err
	}
	defer func() {
		if err := collector.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close telemetry")
		}
	}()
	// the last cycle may publish after the signal
	recordCtx := context.WithoutCancel(ctx)
	defer p.OnSnapshot(func(snap *hardware.Snapshot) {
		if err := collector.RecordSnapshot(recordCtx, snap); err != nil {
			log.Debug().Err(err).Msg("Snapshot not recorded")
		}
	})()
	defer p.OnStatusChanged(func(ev status.Event) {
		if err := collector.RecordEvent(recordCtx, ev); err != nil {
			log.Debug().Err(err).Msg("Status event not recorded")
		}
	})()

	loader.OnChange(func(c config.Config) {
		logger.SetLogLevel(logger.ParseLevel(string(c.LogLevel)))
	})
	loader.Watch()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// nil unless the API is enabled
	var apiDone chan error
	if apiCfg := cfg.APIConfig(); apiCfg.Enabled {
		apiDone = make(chan error, 1)
		go func() {
			apiDone <- serveAPI(runCtx, apiCfg, p, log)
		}()
	}

	if err := p.Start(runCtx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("Received termination signal")
	case err = <-apiDone:
		apiDone = nil
	}

	cancelRun()
	p.Stop()
	p.Wait()
	if apiDone != nil {
		if apiErr := <-apiDone; apiErr != nil {
			err = apiErr
		}
	}

	log.Info().Msg("Exiting...")

	return err
}

// apiSource is what the API needs from the poller.
type apiSource interface {
	api.Monitor
	api.Source
}

// serveAPI runs the websocket hub and the HTTP server until ctx is
// cancelled or the server fails, and returns once both have stopped.
func serveAPI(ctx context.Context, cfg api.Config, src apiSource, log logger.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := api.NewHub(log.With("hub"))
	defer hub.Follow(src)()

	server := api.NewServer(cfg, src, hub, log.With("api"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	err := server.Run(ctx)
	cancel()
	wg.Wait()

	return err
}
