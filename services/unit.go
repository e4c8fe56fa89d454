package services

import (
	"context"
	"errors"
	"time"

	"exoskeleton/clock"
	"exoskeleton/hardware"
	"exoskeleton/models"
	"exoskeleton/sensor"

	"go.uber.org/zap"
)

// DefaultLoopInterval is the control loop sleep between ticks.
const DefaultLoopInterval = 10 * time.Millisecond

// UnitDeps is everything a Unit is built from.
type UnitDeps struct {
	Profile      Profile
	Board        hardware.Board
	Network      Network
	Broker       Broker
	Restarter    hardware.Restarter
	Clock        clock.Clock
	Logger       *zap.Logger
	Connectivity ConnectivityConfig
	LoopInterval time.Duration
}

// Unit is the per-unit context: one connectivity manager, one actuation
// state machine and one telemetry publisher driven by a single cooperative
// control loop.
type Unit struct {
	module       string
	topics       models.Topics
	clock        clock.Clock
	logger       *zap.Logger
	loopInterval time.Duration

	conn      *ConnectivityManager
	reporter  *StatusReporter
	machine   *ActuationStateMachine
	telemetry *TelemetryPublisher
}

// NewUnit wires the components of one unit.
func NewUnit(deps UnitDeps) (*Unit, error) {
	module := deps.Profile.Module
	logger := deps.Logger.With(zap.String("module", module))
	topics := models.UnitTopics(module)

	loopInterval := deps.LoopInterval
	if loopInterval <= 0 {
		loopInterval = DefaultLoopInterval
	}

	conn := NewConnectivityManager(deps.Connectivity, deps.Network, deps.Broker, deps.Restarter,
		topics.Command, deps.Clock, logger.Named("connectivity"))
	reporter := NewStatusReporter(module, conn, deps.Clock, logger.Named("status"))
	conn.SetReporter(reporter)

	calibrator := sensor.NewCalibrator(logger.Named("calibration"))

	machine, err := NewActuationStateMachine(module, deps.Profile.Operations, deps.Board,
		reporter, calibrator, deps.Clock, logger.Named("actuation"))
	if err != nil {
		return nil, err
	}

	conn.SetRecoveryHold(func() bool { return machine.State() == models.Acting })

	telemetry, err := NewTelemetryPublisher(topics.Sensors, deps.Profile.Telemetry, deps.Board,
		conn, calibrator, logger.Named("telemetry"))
	if err != nil {
		return nil, err
	}

	u := &Unit{
		module:       module,
		topics:       topics,
		clock:        deps.Clock,
		logger:       logger,
		loopInterval: loopInterval,
		conn:         conn,
		reporter:     reporter,
		machine:      machine,
		telemetry:    telemetry,
	}
	conn.SetHandler(u.dispatch)

	return u, nil
}

// Module returns the unit type name.
func (u *Unit) Module() string { return u.module }

// Topics returns the unit's bus topics.
func (u *Unit) Topics() models.Topics { return u.topics }

// Connectivity returns the unit's connection manager.
func (u *Unit) Connectivity() *ConnectivityManager { return u.conn }

// Reporter returns the unit's status reporter.
func (u *Unit) Reporter() *StatusReporter { return u.reporter }

// Actuation returns the unit's actuation state machine.
func (u *Unit) Actuation() *ActuationStateMachine { return u.machine }

// Telemetry returns the unit's telemetry publisher.
func (u *Unit) Telemetry() *TelemetryPublisher { return u.telemetry }

// Start connects and announces startup. A connection error is returned but
// leaves the unit usable: the control loop keeps retrying.
func (u *Unit) Start(ctx context.Context) error {
	u.logger.Info("Starting unit",
		zap.String("command_topic", u.topics.Command),
		zap.Strings("actions", u.machine.Actions()),
		zap.Duration("telemetry_period", u.telemetry.Period()))

	err := u.conn.Connect(ctx)
	if err != nil {
		u.logger.Error("Initial connection failed, recovery will retry", zap.Error(err))
	}

	u.reporter.Report(models.StatusIdle, "System startup")
	return err
}

// Tick runs one control loop iteration at now. Time is re-read after the
// connectivity step, which may have blocked on recovery.
func (u *Unit) Tick(ctx context.Context, now time.Time) {
	u.conn.Poll(ctx, now)

	now = u.clock.Now()
	u.machine.Tick(now)

	if !u.telemetry.Due(now) {
		return
	}
	if u.machine.State() == models.Acting {
		u.telemetry.Skip(now)
		return
	}
	u.telemetry.SampleAndPublish(now)
}

// Run drives the control loop until ctx is done.
func (u *Unit) Run(ctx context.Context) error {
	u.logger.Info("Control loop started", zap.Duration("interval", u.loopInterval))

	for {
		select {
		case <-ctx.Done():
			u.logger.Info("Control loop stopped")
			u.conn.Close()
			return nil
		default:
		}

		u.Tick(ctx, u.clock.Now())
		u.clock.Sleep(u.loopInterval)
	}
}

// dispatch routes one inbound message. Nothing it rejects reaches the
// actuation state.
func (u *Unit) dispatch(msg models.Message) {
	switch msg.Topic {
	case models.ResubscribeTopic:
		u.logger.Info("Session re-established, refreshing telemetry")
		u.telemetry.Republish()

	case u.topics.Command:
		cmd, err := models.ParseCommand(msg.Payload)
		if err != nil {
			u.logger.Warn("Dropping malformed command",
				zap.ByteString("payload", msg.Payload),
				zap.Error(err))
			return
		}
		u.handleCommand(cmd)

	default:
		u.logger.Debug("Ignoring message on unexpected topic", zap.String("topic", msg.Topic))
	}
}

func (u *Unit) handleCommand(cmd models.Command) {
	u.logger.Info("Executing command", zap.String("action", cmd.Action))

	err := u.machine.Handle(cmd)
	switch {
	case err == nil:
	case errors.Is(err, ErrBusy):
		u.logger.Warn("Command dropped: actuation in progress",
			zap.String("action", cmd.Action),
			zap.String("current", u.machine.Snapshot().Action))
	case errors.Is(err, ErrUnknownAction):
		u.logger.Warn("Unknown command ignored", zap.String("action", cmd.Action))
	case errors.Is(err, ErrInvalidParameter):
		u.logger.Warn("Command rejected", zap.String("action", cmd.Action), zap.Error(err))
	default:
		u.logger.Error("Command failed", zap.String("action", cmd.Action), zap.Error(err))
	}
}

// UnitSnapshot is the diagnostics view of a unit.
type UnitSnapshot struct {
	Module     string               `json:"module"`
	Connection ConnectionSnapshot   `json:"connection"`
	Actuation  ActuationSnapshot    `json:"actuation"`
	Telemetry  TelemetrySnapshot    `json:"telemetry"`
	LastStatus models.StatusMessage `json:"last_status"`
}

// Snapshot returns a read-only view of every component.
func (u *Unit) Snapshot() UnitSnapshot {
	return UnitSnapshot{
		Module:     u.module,
		Connection: u.conn.Snapshot(),
		Actuation:  u.machine.Snapshot(),
		Telemetry:  u.telemetry.Snapshot(),
		LastStatus: u.reporter.Last(),
	}
}
