package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/jdbcrew/devicebridge/internal/api"
	"github.com/jdbcrew/devicebridge/internal/broadcast"
	"github.com/jdbcrew/devicebridge/internal/codec"
	"github.com/jdbcrew/devicebridge/internal/config"
	"github.com/jdbcrew/devicebridge/internal/dispatcher"
	"github.com/jdbcrew/devicebridge/internal/hub"
	"github.com/jdbcrew/devicebridge/internal/logging"
	"github.com/jdbcrew/devicebridge/internal/monitor"
	"github.com/jdbcrew/devicebridge/internal/observability"
	intOtel "github.com/jdbcrew/devicebridge/internal/otel"
	"github.com/jdbcrew/devicebridge/internal/session"
	"github.com/jdbcrew/devicebridge/internal/simulation"
	"github.com/jdbcrew/devicebridge/internal/vehicle"
)

// version info - BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	ServiceName string = "devicebridge"
)

const statusInterval = time.Second

func main() {
	configDir := flag.String("config", ".", "directory containing "+config.FileName)
	probe := flag.String("probe", "", "check a running bridge at this base URL and exit")
	flag.Parse()

	if *probe != "" {
		os.Exit(runProbe(*probe))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configDir); err != nil {
		fmt.Fprintf(os.Stderr, "devicebridge: %v\n", err)
		os.Exit(1)
	}
}

func runProbe(baseURL string) int {
	client := api.NewClient(baseURL, 3*time.Second)
	if err := client.Healthcheck(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	st, err := client.Status()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("ok: version=%s ticks=%d subscribers=%d running=%t\n",
		st.Version, st.Ticks, st.Subscribers, st.SchedulerRunning)
	return 0
}

func run(ctx context.Context, configDir string) error {
	sessionStart := time.Now()

	slogManager := logging.NewSlogManager()
	slogManager.Setup(nil, "info", nil)
	logger := slogManager.Logger()

	if err := config.Load(configDir); err != nil {
		if !errors.Is(err, config.ErrNotFound) {
			return err
		}
		logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		logger.Info("Loaded config", "file", viper.ConfigFileUsed())
	}

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}

	fileCfg := config.GetLogFileConfig()
	logFile := logging.NewRotatingFile(logging.FileConfig{
		Path:       logging.LogFilePath(logsDir, ServiceName, sessionStart),
		MaxSizeMB:  fileCfg.MaxSizeMB,
		MaxBackups: fileCfg.MaxBackups,
	})
	defer logFile.Close()

	otelCfg := config.GetOTelConfig()
	var otelLog io.WriteCloser
	if otelCfg.Enabled {
		otelLog = logging.NewRotatingFile(logging.FileConfig{
			Path:       logging.OTelFilePath(logsDir, ServiceName, sessionStart),
			MaxSizeMB:  fileCfg.MaxSizeMB,
			MaxBackups: fileCfg.MaxBackups,
		})
		defer otelLog.Close()
	}
	otelProvider, err := intOtel.New(intOtel.Config{
		Enabled:        otelCfg.Enabled,
		ServiceName:    otelCfg.ServiceName,
		ServiceVersion: Version,
		BatchTimeout:   otelCfg.BatchTimeout,
		LogWriter:      otelLog,
		Endpoint:       otelCfg.Endpoint,
		Insecure:       otelCfg.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}

	var extra []slog.Handler
	level := config.GetString("logLevel")
	if gl := config.GetGraylogConfig(); gl.Enabled {
		h, closer, err := logging.NewGELFHandler(gl.Address, ServiceName, level)
		if err != nil {
			logger.Warn("Graylog disabled", "address", gl.Address, "error", err)
		} else {
			extra = append(extra, h)
			defer closer.Close()
		}
	}

	sim := config.GetSimulationConfig()
	seed := sim.Seed
	if seed == 0 {
		seed = uint64(sessionStart.UnixNano())
	}
	simulator := simulation.New(
		simulation.WithHistorySize(sim.HistorySize),
		simulation.WithSource(simulation.NewSource(seed)),
	)

	registry := hub.NewRegistry()
	metrics, err := observability.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	slogManager.SetContextProvider(func() []slog.Attr {
		return []slog.Attr{slog.Uint64("step", simulator.Steps())}
	})
	slogManager.Setup(io.MultiWriter(os.Stdout, logFile), level, otelProvider.LoggerProvider(), extra...)
	logger = slogManager.Logger()
	slog.SetDefault(logger)

	scheduler := broadcast.New(simulator, codec.NewJSONEncoder(), registry,
		broadcast.WithInterval(sim.TickInterval),
		broadcast.WithLogger(logger.With("component", "scheduler")),
		broadcast.WithMetrics(metrics),
	)

	logger.Info("Starting devicebridge",
		"version", Version,
		"buildDate", BuildDate,
		"seed", seed,
		"tickInterval", sim.TickInterval,
		"historySize", sim.HistorySize,
	)

	dispatchLog := logging.NewJSONDispatcherLogger(io.MultiWriter(os.Stdout, logFile), level, "dispatcher")
	events, err := dispatcher.New(dispatchLog)
	if err != nil {
		return fmt.Errorf("init dispatcher: %w", err)
	}

	vehicleService := vehicle.NewService(logger.With("component", "vehicle"))
	vehicleService.Register(events, dispatcher.Logged())

	sessCfg := config.GetSessionConfig()
	wsCfg := session.Config{
		SendBuffer:       sessCfg.SendBuffer,
		WriteTimeout:     sessCfg.WriteTimeout,
		PingInterval:     sessCfg.PingInterval,
		AdvanceOnConnect: sim.AdvanceOnConnect,
	}

	monitorService := monitor.NewService(monitor.Dependencies{
		Scheduler:   scheduler,
		Subscribers: registry,
		Vehicle:     vehicleService,
		Logger:      logger,
		StatusFile:  filepath.Join(logsDir, "status.json"),
		Version:     Version,
		StartedAt:   sessionStart,
	})

	authCfg := config.GetAuthConfig()
	server := api.NewServer(api.Dependencies{
		Simulation: simulator,
		Dispatcher: events,
		Status:     monitorService,
		Tokens:     api.NewTokenIssuer(authCfg.Secret, authCfg.TokenTTL),
		Telemetry:  session.NewTelemetryHandler(simulator, codec.NewJSONEncoder(), registry, wsCfg, logger, metrics),
		Control:    session.NewControlHandler(events, wsCfg, logger, metrics),
		Metrics:    metrics.Handler(),
		Logger:     logger,
	})

	srvCfg := config.GetServerConfig()
	httpServer := &http.Server{
		Addr:              srvCfg.Address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := monitorService.Start(statusInterval); err != nil {
		logger.Warn("Status monitor not started", "error", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "address", srvCfg.Address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	scheduler.Stop()
	monitorService.Stop()
	events.Close()

	logger.Info("devicebridge stopped", "ticks", scheduler.Ticks())
	if err := slogManager.Flush(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "flush logs: %v\n", err)
	}
	if err := otelProvider.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "otel shutdown: %v\n", err)
	}
	return runErr
}
