package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/tessel/kairo/internal/config"
	"codeberg.org/tessel/kairo/internal/health"
	"codeberg.org/tessel/kairo/internal/kairo"
	"codeberg.org/tessel/kairo/internal/logger"
	"codeberg.org/tessel/kairo/internal/netclient"
	"codeberg.org/tessel/kairo/internal/pid"
	"codeberg.org/tessel/kairo/internal/telemetry"
	"codeberg.org/tessel/kairo/internal/throttle"
	"golang.org/x/sync/errgroup"
)

var (
	cfg       *config.Config
	core      *kairo.Kairo
	collector telemetry.Collector
	nvmlProbe *health.NVMLThermalProbe
)

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	probe := buildProbe()

	core = kairo.New(kairo.Config{
		NetworkMaxConcurrent: cfg.MaxConcurrent,
		LowBatteryThreshold:  cfg.LowBattery,
		Debounce:             cfg.Debounce(),
		TickPeriod:           cfg.TickPeriod(),
		Breaker: throttle.BreakerConfig{
			FailureThreshold:      cfg.BreakerFailureThreshold,
			Timeout:               time.Duration(cfg.BreakerTimeoutSeconds) * time.Second,
			SuccessThreshold:      cfg.BreakerSuccessThreshold,
			MaxRequestsInHalfOpen: cfg.BreakerHalfOpenMax,
		},
	}, probe, netclient.NewHTTPTransport())

	var err error
	collector, err = telemetry.NewService(telemetry.Config{
		Enabled: cfg.Telemetry,
		DBPath:  cfg.TelemetryDB,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	core.Start()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return recordHistory(groupCtx) })
	group.Go(func() error { return logStatus(groupCtx) })

	if err := group.Wait(); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("error in main loop")
	}

	cleanup()
}

func buildProbe() health.Probe {
	if cfg.Simulate {
		probe := health.NewMockProbe(health.Snapshot{
			BatteryLevel: 1.0,
			Thermal:      health.ThermalNominal,
			NetReach:     health.ReachSatisfied,
			Timestamp:    time.Now(),
		})
		go simulate(probe)
		logger.Info().Msg("Simulation mode: driving health from a scripted probe")
		return probe
	}

	var probe health.Probe = health.NewSysfsProbe()

	if overlay, err := health.NewNVMLThermalProbe(probe); err == nil {
		nvmlProbe = overlay
		probe = overlay
	} else {
		logger.Debug().Err(err).Msg("no NVIDIA GPU thermal source, using sysfs only")
	}

	return probe
}

// recordHistory writes each policy update received from the policy
// stream, with the current snapshot, to the telemetry store. The stream
// conflates, so updates published faster than they are recorded may be
// skipped.
func recordHistory(ctx context.Context) error {
	sub := core.PolicyStream()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pol, ok := <-sub.Updates():
			if !ok {
				return nil
			}
			sample := &telemetry.Sample{
				Timestamp: time.Now(),
				Snapshot:  core.CurrentHealth(),
				Policy:    pol,
			}
			if err := collector.Record(ctx, sample); err != nil {
				logger.Warn().Err(err).Msg("failed to record telemetry sample")
			}
		}
	}
}

// logStatus mirrors the probe cadence, logging the current snapshot
// and derived policy.
func logStatus(ctx context.Context) error {
	ticker := time.NewTicker(cfg.TickPeriod())
	defer ticker.Stop()

	if cfg.Monitor {
		logger.Info().Msg("Monitor mode activated. Logging device health...")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := core.CurrentHealth()
			pol := core.CurrentPolicy()

			if cfg.Debug {
				logger.Debug().
					Float64("battery", snap.BatteryLevel).
					Bool("low_power_mode", snap.LowPowerMode).
					Str("thermal", snap.Thermal.String()).
					Str("net_reach", snap.NetReach.String()).
					Bool("net_constrained", snap.NetConstrained).
					Bool("net_expensive", snap.NetExpensive).
					Float64("score", snap.Score()).
					Floats64("trend", core.Engine().Trend()).
					Str("level", pol.HealthLevel.String()).
					Int("max_concurrent", pol.MaxNetworkConcurrent).
					Bool("allow_background_ml", pol.AllowBackgroundML).
					Str("image_variant", pol.ImageVariant.String()).
					Send()
			} else if cfg.Verbose {
				logger.Info().Msgf("Health: score=%.2f level=%s, Battery: %.0f%%, Thermal: %s, Network: %s",
					snap.Score(), pol.HealthLevel, snap.BatteryLevel*100, snap.Thermal, snap.NetReach)
			}
		}
	}
}

// simulate walks a scripted degradation and recovery cycle through the
// mock probe.
func simulate(probe *health.MockProbe) {
	type step struct {
		after time.Duration
		snap  health.Snapshot
	}

	script := []step{
		{10 * time.Second, health.Snapshot{BatteryLevel: 0.80, Thermal: health.ThermalNominal, NetReach: health.ReachSatisfied}},
		{10 * time.Second, health.Snapshot{BatteryLevel: 0.60, Thermal: health.ThermalFair, NetReach: health.ReachSatisfied}},
		{10 * time.Second, health.Snapshot{BatteryLevel: 0.40, Thermal: health.ThermalSerious, NetReach: health.ReachSatisfied, LowPowerMode: true}},
		{10 * time.Second, health.Snapshot{BatteryLevel: 0.10, Thermal: health.ThermalSerious, NetReach: health.ReachSatisfiable, LowPowerMode: true, NetConstrained: true}},
		{10 * time.Second, health.Snapshot{BatteryLevel: 0.03, Thermal: health.ThermalCritical, NetReach: health.ReachRequiresConnection, LowPowerMode: true, NetConstrained: true, NetExpensive: true}},
		{10 * time.Second, health.Snapshot{BatteryLevel: 0.50, Thermal: health.ThermalFair, NetReach: health.ReachSatisfied}},
		{10 * time.Second, health.Snapshot{BatteryLevel: 0.90, Thermal: health.ThermalNominal, NetReach: health.ReachSatisfied}},
	}

	for {
		for _, s := range script {
			time.Sleep(s.after)
			s.snap.Timestamp = time.Now()
			probe.Emit(s.snap)
		}
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup() {
	core.Stop()

	if err := collector.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close telemetry")
	}
	if nvmlProbe != nil {
		if err := nvmlProbe.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("failed to shut down GPU thermal source")
		}
	}

	logger.Info().Msg("Exiting...")
}
