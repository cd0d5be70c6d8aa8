package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nshruti113/slice-sentinel/internal/api"
	"github.com/nshruti113/slice-sentinel/internal/capture"
	"github.com/nshruti113/slice-sentinel/internal/config"
	"github.com/nshruti113/slice-sentinel/internal/detection"
	"github.com/nshruti113/slice-sentinel/internal/metrics"
	"github.com/nshruti113/slice-sentinel/internal/mitigation"
	"github.com/nshruti113/slice-sentinel/internal/notify"
	"github.com/nshruti113/slice-sentinel/internal/pipeline"
	"github.com/nshruti113/slice-sentinel/internal/sdn"
	"github.com/nshruti113/slice-sentinel/internal/slicing"
	"github.com/nshruti113/slice-sentinel/internal/storage"
	"github.com/nshruti113/slice-sentinel/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	autoStart := flag.Bool("capture", false, "start packet capture immediately")
	flag.Parse()

	log.Println("🚀 Starting Slice Sentinel...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *autoStart); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, autoStart bool) error {
	sdnClient := sdn.NewClient(cfg.SDN.URL, config.Seconds(cfg.SDN.TimeoutSeconds))
	sdnTimeout := config.Seconds(cfg.SDN.TimeoutSeconds)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var scorer detection.Scorer
	if cfg.Detection.ScorerURL != "" {
		scorer = detection.NewRemoteScorer(cfg.Detection.ScorerURL, cfg.Detection.ScorerInputWidth, 0)
		log.Printf("🧠 Using remote scorer at %s", cfg.Detection.ScorerURL)
	} else {
		log.Printf("⚠️ No scorer configured, using %.0f pps fallback threshold", cfg.Detection.FallbackPPSThreshold)
	}
	classifier := detection.NewClassifier(scorer, detection.Thresholds{
		FallbackPPS:      cfg.Detection.FallbackPPSThreshold,
		ScorerConfidence: cfg.Detection.ScorerConfidenceThreshold,
	})
	for _, ip := range cfg.Detection.ForceMaliciousIPs {
		classifier.ForceMalicious(ip)
	}

	controller := mitigation.NewController(sdnClient, cfg.SDN.DatapathID, sdnTimeout)
	manager := slicing.NewManager(sdnClient, slicing.Policy{
		IsolationThreshold:   cfg.Healing.IsolationThreshold,
		RestorationDelay:     config.Seconds(cfg.Healing.RestorationDelaySeconds),
		MaxIsolation:         config.Seconds(cfg.Healing.MaxIsolationSeconds),
		DecayRate:            cfg.Healing.ThreatDecayRate,
		MonitorInterval:      config.Seconds(cfg.Healing.MonitorIntervalSeconds),
		PartialSweepInterval: config.Seconds(cfg.Healing.PartialSweepSeconds),
		PatternLogLimit:      cfg.Healing.PatternLogLimit,
		DatapathID:           cfg.SDN.DatapathID,
		SDNTimeout:           sdnTimeout,
	})
	reg.MustRegister(metrics.NewStateCollector(manager, controller))

	hub := telemetry.NewHub()
	sinks := telemetry.MultiSink{hub}
	if cfg.Telemetry.SinkURL != "" {
		sinks = append(sinks, telemetry.NewHTTPSink(cfg.Telemetry.SinkURL))
	}
	emitter := telemetry.NewEmitter(sinks, config.Seconds(cfg.Telemetry.MinIntervalSeconds), config.Seconds(cfg.Telemetry.TimeoutSeconds))
	emitter.SetObserver(m.ObserveTelemetry)

	components := pipeline.Components{
		Rates:       detection.NewRateTracker(config.Seconds(cfg.Detection.WindowSeconds)),
		Classifier:  classifier,
		Mitigation:  controller,
		Slices:      manager,
		Emitter:     emitter,
		Broadcaster: hub,
		Observer:    m,
	}

	var notifiers notify.Multi
	if cfg.Notify.HTTPURL != "" {
		notifiers = append(notifiers, notify.NewHTTPNotifier(cfg.Notify.HTTPURL, config.Seconds(cfg.Notify.TimeoutSeconds)))
	}
	if cfg.Notify.NATSURL != "" {
		pub, err := notify.NewNATSPublisher(cfg.Notify.NATSURL, cfg.Notify.NATSSubject)
		if err != nil {
			log.Printf("⚠️ NATS unavailable, block notifications stay local: %v", err)
		} else {
			defer pub.Close()
			notifiers = append(notifiers, pub)
		}
	}
	if len(notifiers) > 0 {
		components.Notifier = notifiers
	}

	var store api.Store
	if cfg.Redis.Enabled {
		redisClient, err := storage.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("⚠️ Redis unavailable, audit trail disabled: %v", err)
		} else {
			defer redisClient.Close()
			controller.SetRecorder(redisClient)
			manager.SetRecorder(redisClient)
			components.Store = redisClient
			store = redisClient
			log.Printf("✅ Connected to Redis at %s", cfg.Redis.Addr)
		}
	}

	engine := pipeline.NewEngine(components)
	sources := func() (capture.Source, error) { return openSource(cfg.Capture) }

	go manager.Run(ctx)
	go engine.RunJanitor(ctx, config.Seconds(cfg.RateTracker.IdleEvictSeconds))

	server := api.NewServer(ctx, api.Options{
		Engine:   engine,
		Sources:  sources,
		SDN:      sdnClient,
		Store:    store,
		Hub:      hub,
		Gatherer: reg,
	})

	if autoStart {
		src, err := sources()
		if err != nil {
			return fmt.Errorf("open packet source: %w", err)
		}
		engine.Start(ctx, src)
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", cfg.Server.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Println("Shutting down...")
	}

	engine.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openSource(cfg config.CaptureConfig) (capture.Source, error) {
	switch cfg.Mode {
	case config.CaptureLive:
		return capture.NewLiveSource(cfg.Interface, cfg.BPFFilter, cfg.SnapLen), nil
	case config.CaptureOffline:
		return capture.NewOfflineSource(cfg.PcapFile, cfg.BPFFilter), nil
	case config.CaptureSynthetic:
		return capture.NewSyntheticSource(capture.NewGenerator("", time.Now().UnixNano()), cfg.SyntheticRate), nil
	}
	return nil, fmt.Errorf("unknown capture mode %q", cfg.Mode)
}
