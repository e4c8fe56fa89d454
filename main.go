package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exoskeleton/clock"
	"exoskeleton/config"
	"exoskeleton/hardware"
	"exoskeleton/log"
	"exoskeleton/services"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	unitType := pflag.String("unit", "", "Unit type to run (greenhouse, injection, bubble); overrides UNIT_TYPE")
	envFile := pflag.String("env-file", "", "Environment file to load before reading configuration")
	pflag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}

	// Load configuration
	cfg, err := config.LoadConfig(envFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *unitType != "" {
		cfg.UnitType = *unitType
	}

	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	if err := log.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn("Invalid log level, keeping default", zap.String("level", cfg.LogLevel), zap.Error(err))
	}

	unitFile, err := config.LoadUnitFile(cfg.UnitFile)
	if err != nil {
		logger.Fatal("Failed to load unit file", zap.String("path", cfg.UnitFile), zap.Error(err))
	}

	profile, err := services.LookupProfile(cfg.UnitType, unitFile.Curves())
	if err != nil {
		logger.Fatal("Invalid unit type", zap.Error(err))
	}
	logger = logger.With(zap.String("unit", profile.Module))

	clk := clock.Real()

	board, err := openBoard(cfg, profile, unitFile, clk, logger)
	if err != nil {
		logger.Fatal("Failed to open hardware", zap.String("backend", cfg.HardwareBackend), zap.Error(err))
	}
	defer func() {
		if err := board.Close(); err != nil {
			logger.Error("Failed to release hardware", zap.Error(err))
		}
	}()

	restarter := hardware.NewProcessRestarter(logger.Named("restart"), board)

	network := services.NewProbeNetwork(cfg.NetworkProbeAddr, cfg.BrokerTimeout, logger.Named("network"))

	clientID := services.ClientID(cfg)
	var broker services.Broker
	switch cfg.BusTransport {
	case "mqtt":
		broker = services.NewMQTTBroker(cfg, clientID, logger.Named("mqtt"))
	case "amqp":
		broker = services.NewAMQPBroker(cfg, clientID, logger.Named("amqp"))
	default:
		logger.Fatal("Unknown bus transport", zap.String("transport", cfg.BusTransport))
	}

	unit, err := services.NewUnit(services.UnitDeps{
		Profile:      profile,
		Board:        board,
		Network:      network,
		Broker:       broker,
		Restarter:    restarter,
		Clock:        clk,
		Logger:       logger,
		Connectivity: services.ConnectivityConfigFrom(cfg),
		LoopInterval: cfg.LoopInterval,
	})
	if err != nil {
		logger.Fatal("Failed to initialize unit", zap.Error(err))
	}

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		sender, err := services.NewTelegramSender(cfg.TelegramBotToken, cfg.TelegramChatID, logger.Named("telegram"))
		if err != nil {
			logger.Warn("Telegram alerts disabled", zap.Error(err))
		} else {
			alerts := services.NewAlertService(profile.Module, sender, clk, logger.Named("alerts"))
			unit.Reporter().OnStatus(alerts.OnStatus)
			restarter.OnRestart(alerts.OnRestart)
			go alerts.Run(ctx)
		}
	}

	var diagnostics *services.DiagnosticsServer
	if cfg.DiagAddr != "" {
		diagnostics = services.NewDiagnosticsServer(cfg.DiagAddr, unit, logger.Named("diagnostics"))
		diagnostics.Start()
	}

	logger.Info("Exoskeleton unit started",
		zap.String("transport", cfg.BusTransport),
		zap.String("hardware", cfg.HardwareBackend),
		zap.String("client_id", clientID))

	// Connection failures are recovered by the control loop.
	_ = unit.Start(ctx)

	if err := unit.Run(ctx); err != nil {
		logger.Error("Control loop failed", zap.Error(err))
	}

	// Perform cleanup
	logger.Info("Starting cleanup")

	if diagnostics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := diagnostics.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error stopping diagnostics server", zap.Error(err))
		}
	}

	logger.Info("Exoskeleton unit stopped")
}

// openBoard returns the hardware backend selected by HARDWARE_BACKEND.
func openBoard(cfg *config.Config, profile services.Profile, unitFile *config.UnitFile, clk clock.Clock, logger *zap.Logger) (hardware.Board, error) {
	switch cfg.HardwareBackend {
	case "sim":
		board := hardware.NewSimBoard()
		if cfg.SimPhysics && profile.Simulate != nil {
			profile.Simulate(board, clk)
		}
		logger.Info("Using simulated hardware", zap.Bool("physics", cfg.SimPhysics))
		return board, nil
	case "linux":
		board, err := hardware.OpenLinuxBoard(cfg.GPIOChip, profile.Pins.Merge(unitFile.Pins), logger.Named("hardware"))
		if err != nil {
			return nil, err
		}
		return board, nil
	default:
		return nil, fmt.Errorf("unknown hardware backend %q", cfg.HardwareBackend)
	}
}
