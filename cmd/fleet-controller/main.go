// Command fleet-controller is the deployable core: it wires config, the
// fleet state store, the constraint validator, the optimizer, the OODA
// orchestrator, and an outbound event bus behind a chi HTTP ingest
// surface.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vriez/multi-uav-ooda-system/internal/config"
	"github.com/vriez/multi-uav-ooda-system/internal/eventbus"
	"github.com/vriez/multi-uav-ooda-system/internal/fleetstore"
	"github.com/vriez/multi-uav-ooda-system/internal/httpserver"
	"github.com/vriez/multi-uav-ooda-system/internal/missiondb"
	"github.com/vriez/multi-uav-ooda-system/internal/orchestrator"
	"github.com/vriez/multi-uav-ooda-system/internal/validator"
	"github.com/vriez/multi-uav-ooda-system/pkg/model"
)

func main() {
	var configPath string
	var missionType string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "config file path")
	flag.StringVar(&missionType, "mission", "surveillance", "mission type: surveillance|search-rescue|delivery")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"server":  cfg.Server,
		"mission": missionType,
	}).Info("starting fleet-controller")

	store := fleetstore.New(nil)
	missDB := missiondb.New(nil)
	valid := validator.New(cfg.Constraints)

	bus, err := buildEventBus(context.Background(), cfg.EventBus, logger)
	if err != nil {
		log.Fatalf("failed to build event bus: %v", err)
	}
	defer bus.Close()

	orch := orchestrator.New(
		logger, store, missDB, valid, bus,
		cfg.Fleet, cfg.Orchestrator, cfg.Optimizer,
		model.MissionType(missionType),
		nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	go orch.Run(ctx)

	srv := httpserver.New(store, missDB, orch, bus, logger)
	httpSrv := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(portOrDefault(cfg.Server.Port)),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.WithField("addr", httpSrv.Addr).Info("http ingest surface starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	cancel() // stop the orchestrator ticker; any in-flight Act phase finishes first

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("http server forced to shutdown: %v", err)
	}

	logger.Info("fleet-controller exited")
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func buildEventBus(ctx context.Context, cfg config.EventBusConfig, logger *logrus.Logger) (eventbus.Publisher, error) {
	if cfg.Backend == "kafka" {
		return eventbus.NewKafkaBus(ctx, eventbus.KafkaBusConfig{
			Brokers:      cfg.KafkaBrokers,
			CommandTopic: cfg.KafkaCommandTopic,
			EventTopic:   cfg.KafkaEventTopic,
		}, cfg.CommandQueueDepth, logger)
	}
	return eventbus.NewMemoryBus(cfg.CommandQueueDepth, cfg.EventQueueDepth), nil
}

func portOrDefault(port int) int {
	if port <= 0 {
		return 8080
	}
	return port
}
