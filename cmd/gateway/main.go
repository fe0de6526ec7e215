package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/inspectra/internal/api"
	"github.com/ahrav/inspectra/internal/api/debug"
	"github.com/ahrav/inspectra/internal/api/mux"
	"github.com/ahrav/inspectra/internal/api/routes"
	"github.com/ahrav/inspectra/internal/app/gateway"
	"github.com/ahrav/inspectra/internal/client"
	"github.com/ahrav/inspectra/internal/config"
	"github.com/ahrav/inspectra/internal/domain/events"
	"github.com/ahrav/inspectra/internal/domain/scan"
	eventdispatcher "github.com/ahrav/inspectra/internal/infra/event_dispatcher"
	"github.com/ahrav/inspectra/internal/infra/eventbus/kafka"
	"github.com/ahrav/inspectra/internal/infra/eventbus/memory"
	progressreporter "github.com/ahrav/inspectra/internal/infra/progress_reporter"
	"github.com/ahrav/inspectra/internal/infra/storage/backend"
	"github.com/ahrav/inspectra/internal/state"
	"github.com/ahrav/inspectra/pkg/common"
	"github.com/ahrav/inspectra/pkg/common/logger"
	"github.com/ahrav/inspectra/pkg/common/otel"
)

var build = "develop"

const serviceType = "inspectra-gateway"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			maps.Copy(errorAttrs, r.Attributes)

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("INSPECTRA-GATEWAY-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	level := logger.ParseLevel(os.Getenv(config.EnvPrefix + "_LOG_LEVEL"))
	log := logger.NewWithMetadata(os.Stdout, level, svcName, traceIDFn, logEvents, metadata)

	ctx := context.Background()

	if err := run(ctx, log, hostname, *configPath); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, hostname, configPath string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Configuration
	cfg, err := config.NewViperLoader(configPath).Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	gatewayID := cfg.Gateway.ID
	if gatewayID == "" {
		gatewayID = hostname
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing tracing support")

	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/readiness": {},
			"/v1/liveness":  {},
			"/debug":        {},
			"/metrics":      {},
		},
		Probability: cfg.Telemetry.SampleRatio,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
			"gateway.id":       gatewayID,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(context.WithoutCancel(ctx))

	if cfg.Telemetry.Endpoint != "" {
		log = log.WithOtelBridge(cfg.Telemetry.ServiceName)
	}

	tracer := traceProvider.Tracer(cfg.Telemetry.ServiceName)

	metricCollector, err := api.NewAPIMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("creating metrics collector: %w", err)
	}

	// -------------------------------------------------------------------------
	// State Store
	log.Info(ctx, "startup", "status", "opening state store", "backend", cfg.Store.Backend)

	kv, err := backend.Open(ctx, cfg.Store, common.DefaultRetryConfig, log, tracer)
	if err != nil {
		return fmt.Errorf("opening state backend: %w", err)
	}
	defer kv.Close()

	store, err := state.Open(ctx, kv,
		state.WithHistoryLimit(cfg.Store.HistoryLimit),
		state.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	// -------------------------------------------------------------------------
	// Initialize Event Bus
	log.Info(ctx, "startup", "status", "initializing event bus", "kafka", cfg.Kafka.Enabled())

	var bus events.EventBus
	if cfg.Kafka.Enabled() {
		clientID := cfg.Kafka.ClientID
		if clientID == "" {
			clientID = serviceType + "-" + gatewayID
		}
		kbus, err := kafka.ConnectEventBus(ctx, &kafka.Config{
			Brokers:     cfg.Kafka.Brokers,
			StreamTopic: cfg.Kafka.StreamTopic,
			ScanTopic:   cfg.Kafka.ScanTopic,
			GroupID:     cfg.Kafka.GroupID,
			ClientID:    clientID,
		}, common.DefaultRetryConfig, log, metricCollector, tracer)
		if err != nil {
			return fmt.Errorf("connecting event bus: %w", err)
		}
		bus = kbus
	} else {
		bus = memory.NewBroker()
	}
	defer bus.Close()

	dispatcher := eventdispatcher.New(tracer, log)
	registerEventHandlers(ctx, dispatcher, log)
	if err := bus.Subscribe(ctx, dispatcher.EventTypes(), dispatcher.Dispatch); err != nil {
		if !errors.Is(err, kafka.ErrPublishOnly) {
			return fmt.Errorf("subscribing to gateway events: %w", err)
		}
		log.Info(ctx, "startup", "status", "event bus is publish only")
	}

	publisher := kafka.NewDomainEventPublisher(bus)
	reporter := progressreporter.New(gatewayID, publisher, tracer)

	// -------------------------------------------------------------------------
	// Upstream Client
	apiCfg, err := cfg.Gateway.Upstream(cfg.API)
	if err != nil {
		return fmt.Errorf("resolving upstream: %w", err)
	}
	upstream, err := client.NewFromConfig(apiCfg, log)
	if err != nil {
		return fmt.Errorf("creating upstream client: %w", err)
	}
	log.Info(ctx, "startup", "status", "upstream configured", "base", upstream.Base())

	svc := gateway.NewService(upstream, store, reporter, metricCollector, log, tracer)

	// -------------------------------------------------------------------------
	// Start API and Debug Service
	log.Info(ctx, "startup", "status", "initializing API support")

	webAPI := mux.WebAPI(mux.Config{
		Build:   build,
		Log:     log,
		Tracer:  tracer,
		Gateway: svc,
	},
		routes.Routes(),
		mux.WithCORS(cfg.Gateway.CORSOrigins),
		mux.WithMetrics(metricCollector),
	)

	apiSrv := &http.Server{
		Addr:         cfg.Gateway.APIHost,
		Handler:      webAPI,
		ReadTimeout:  cfg.Gateway.ReadTimeout,
		WriteTimeout: cfg.Gateway.WriteTimeout,
		IdleTimeout:  cfg.Gateway.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	var debugSrv *http.Server
	if cfg.Gateway.DebugHost != "" {
		debugMux, err := debug.Mux()
		if err != nil {
			return fmt.Errorf("creating debug mux: %w", err)
		}
		debugSrv = &http.Server{
			Addr:     cfg.Gateway.DebugHost,
			Handler:  debugMux,
			ErrorLog: logger.NewStdLogger(log, logger.LevelError),
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info(ctx, "startup", "status", "api router started", "host", apiSrv.Addr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if debugSrv != nil {
		g.Go(func() error {
			log.Info(ctx, "startup", "status", "debug router started", "host", debugSrv.Addr)
			if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(ctx, "shutdown", "status", "debug router closed", "host", debugSrv.Addr, "msg", err)
			}
			return nil
		})
	}

	// -------------------------------------------------------------------------
	// Shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutdown", "status", "shutdown started")
		defer log.Info(ctx, "shutdown", "status", "shutdown complete")

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Gateway.ShutdownTimeout)
		defer cancel()

		if debugSrv != nil {
			_ = debugSrv.Shutdown(sctx)
		}
		if err := apiSrv.Shutdown(sctx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// registerEventHandlers logs terminal events. With Kafka they may come from
// any gateway in the consumer group.
func registerEventHandlers(ctx context.Context, d *eventdispatcher.Dispatcher, log *logger.Logger) {
	d.RegisterHandler(ctx, scan.EventTypeScanCompleted, func(ctx context.Context, evt events.EventEnvelope) error {
		log.Info(ctx, "scan completed", "scan_id", evt.Key, "at", evt.Timestamp)
		return nil
	})
	d.RegisterHandler(ctx, scan.EventTypeStreamFailed, func(ctx context.Context, evt events.EventEnvelope) error {
		if failed, ok := evt.Payload.(scan.StreamFailed); ok {
			log.Warn(ctx, "stream failed", "stream_id", evt.Key, "endpoint", failed.Endpoint, "message", failed.Message)
			return nil
		}
		log.Warn(ctx, "stream failed", "stream_id", evt.Key)
		return nil
	})
}
