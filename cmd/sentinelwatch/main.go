package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelwatch/sentinelwatch/pkg/alert"
	"github.com/sentinelwatch/sentinelwatch/pkg/api"
	"github.com/sentinelwatch/sentinelwatch/pkg/collectors/file"
	"github.com/sentinelwatch/sentinelwatch/pkg/collectors/network"
	"github.com/sentinelwatch/sentinelwatch/pkg/collectors/process"
	"github.com/sentinelwatch/sentinelwatch/pkg/config"
	"github.com/sentinelwatch/sentinelwatch/pkg/engine"
	"github.com/sentinelwatch/sentinelwatch/pkg/intel"
	"github.com/sentinelwatch/sentinelwatch/pkg/logger"
	"github.com/sentinelwatch/sentinelwatch/pkg/monitor"
	"github.com/sentinelwatch/sentinelwatch/pkg/notify"
	"github.com/sentinelwatch/sentinelwatch/pkg/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Load already fell back to defaults; log and keep going.
		log.Warn().Err(err).Msg("Configuration problem, running with defaults")
	}

	logger.Init(cfg.LogLevel)
	log.Info().Msgf("Sentinelwatch starting: LogLevel=%s, APIPort=%s", cfg.LogLevel, cfg.APIPort)

	manager := config.NewManager(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Msgf("Received signal: %s. Shutting down gracefully...", sig)
		cancel()
	}()

	// Threat intelligence tracks the managed config, so provider updates
	// applied through the API take effect without a restart.
	correlator := intel.NewLiveCorrelator(manager, log.Logger)

	eng := engine.New(engine.Options{
		ModelsPath:   cfg.Engine.ModelsPath,
		SampleBuffer: cfg.Engine.SampleBuffer,
		MinSamples:   cfg.Engine.MinSamples,
		Intel:        correlator,
		Logger:       log.Logger,
	})
	eng.StartRetraining(ctx, parseDuration(cfg.Engine.RetrainInterval, time.Hour))

	var notifiers []pipeline.Notifier
	if cfg.NATSServerURL != "" {
		nn, err := notify.NewNATSNotifier(cfg.NATSServerURL, log.Logger)
		if err != nil {
			log.Error().Err(err).Msg("NATS connection failed, alerts stay local")
		} else {
			defer nn.Close()
			notifiers = append(notifiers, nn)
		}
	}

	pipe, err := pipeline.New(pipeline.Options{
		HistoryLimit: cfg.HistoryLimit,
		LogPath:      cfg.AlertLogPath,
		Notifiers:    notifiers,
		Logger:       log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize alert pipeline")
	}
	defer pipe.Close()

	runner := monitor.NewRunner(eng, pipe, monitor.HostStatsSampler{}, manager, log.Logger)

	interval := parseDuration(cfg.Monitoring.Interval, 30*time.Second)
	if cfg.Monitoring.MonitorProcesses {
		runner.Register(process.New(process.GopsutilLister{}, manager, log.Logger), interval)
	}
	if cfg.Monitoring.MonitorNetwork {
		runner.Register(network.New(network.GopsutilLister{}, manager, log.Logger), interval)
	}

	var fileCollector *file.Collector
	if cfg.Monitoring.MonitorFiles {
		fileCollector = file.New(manager, log.Logger)
		if err := fileCollector.Start(func(a alert.Alert) { runner.HandleAlert(ctx, a) }); err != nil {
			log.Error().Err(err).Msg("File monitoring failed to start")
			fileCollector = nil
		}
	}

	runner.Start(ctx, interval)

	server := api.New(cfg.APIPort, pipe, eng, manager, log.Logger)
	server.Start()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API shutdown incomplete")
	}
	if fileCollector != nil {
		if err := fileCollector.Stop(); err != nil {
			log.Warn().Err(err).Msg("File monitoring shutdown incomplete")
		}
	}
	runner.Wait()

	log.Info().Msg("Sentinelwatch stopped.")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
