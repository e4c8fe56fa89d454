package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"exoskeleton/clock"
	"exoskeleton/hardware"
	"exoskeleton/models"
	"exoskeleton/sensor"

	"go.uber.org/zap"
)

var (
	ErrUnknownAction    = errors.New("unknown action")
	ErrInvalidParameter = errors.New("missing or invalid parameter")
	ErrBusy             = errors.New("actuation in progress")
)

// CompletionKind selects how an operation knows it is done.
type CompletionKind int

const (
	// CompleteOnFeedback waits for a digital input to assert.
	CompleteOnFeedback CompletionKind = iota
	// CompleteOnThreshold waits for a calibrated analog input to reach the
	// planned target.
	CompleteOnThreshold
	// CompleteAfterDuration completes once the planned duration has elapsed.
	CompleteAfterDuration
)

// Completion describes the completion backend of an operation.
type Completion struct {
	Kind  CompletionKind
	Input string       // pin name, unused for CompleteAfterDuration
	Curve sensor.Curve // CompleteOnThreshold only
}

// Plan is what one command asks of an operation.
type Plan struct {
	Level    int
	Target   float64       // CompleteOnThreshold
	Duration time.Duration // CompleteAfterDuration
	Message  string        // ACTING status text
}

// Operation is one verb of a unit.
type Operation struct {
	Action       string
	Output       string
	PollInterval time.Duration
	Timeout      time.Duration
	Completion   Completion

	// Guard, when set, names a digital input that must stay asserted while
	// acting.
	Guard        string
	GuardMessage string

	CompletedMessage string
	TimeoutMessage   string

	// Plan validates params and computes the output level and targets.
	Plan func(cmd models.Command) (Plan, error)
}

type boundOperation struct {
	Operation
	output   hardware.Output
	feedback hardware.DigitalInput
	analog   hardware.AnalogInput
	guard    hardware.DigitalInput
}

type activeOperation struct {
	op        *boundOperation
	plan      Plan
	started   time.Time
	nextCheck time.Time
}

// ActuationSnapshot is a read-only view for diagnostics.
type ActuationSnapshot struct {
	State   string    `json:"state"`
	Action  string    `json:"action,omitempty"`
	Started time.Time `json:"started,omitempty"`
}

// ActuationStateMachine drives at most one operation at a time. Handle
// starts an operation, Tick advances it; neither blocks.
type ActuationStateMachine struct {
	module     string
	ops        map[string]*boundOperation
	reporter   StatusSink
	calibrator *sensor.Calibrator
	clock      clock.Clock
	logger     *zap.Logger

	mu     sync.Mutex
	state  models.ActuationState
	active *activeOperation
}

// NewActuationStateMachine resolves every pin the operations use on board.
func NewActuationStateMachine(module string, ops []Operation, board hardware.Board, reporter StatusSink, calibrator *sensor.Calibrator, clk clock.Clock, logger *zap.Logger) (*ActuationStateMachine, error) {
	m := &ActuationStateMachine{
		module:     module,
		ops:        make(map[string]*boundOperation, len(ops)),
		reporter:   reporter,
		calibrator: calibrator,
		clock:      clk,
		logger:     logger,
		state:      models.Idle,
	}

	for _, op := range ops {
		bound, err := bindOperation(op, board)
		if err != nil {
			return nil, fmt.Errorf("operation %s: %w", op.Action, err)
		}
		m.ops[op.Action] = bound
	}

	return m, nil
}

func bindOperation(op Operation, board hardware.Board) (*boundOperation, error) {
	if op.Plan == nil {
		return nil, errors.New("no plan function")
	}
	if op.Timeout <= 0 || op.PollInterval <= 0 {
		return nil, errors.New("timeout and poll interval must be positive")
	}

	bound := &boundOperation{Operation: op}

	var err error
	if bound.output, err = board.Output(op.Output); err != nil {
		return nil, fmt.Errorf("output %s: %w", op.Output, err)
	}

	switch op.Completion.Kind {
	case CompleteOnFeedback:
		if bound.feedback, err = board.DigitalInput(op.Completion.Input); err != nil {
			return nil, fmt.Errorf("feedback %s: %w", op.Completion.Input, err)
		}
	case CompleteOnThreshold:
		if op.Completion.Curve == nil {
			return nil, errors.New("threshold completion needs a curve")
		}
		if bound.analog, err = board.AnalogInput(op.Completion.Input); err != nil {
			return nil, fmt.Errorf("threshold input %s: %w", op.Completion.Input, err)
		}
	case CompleteAfterDuration:
	default:
		return nil, fmt.Errorf("unknown completion kind %d", op.Completion.Kind)
	}

	if op.Guard != "" {
		if bound.guard, err = board.DigitalInput(op.Guard); err != nil {
			return nil, fmt.Errorf("guard %s: %w", op.Guard, err)
		}
	}

	return bound, nil
}

// State returns the current actuation state.
func (m *ActuationStateMachine) State() models.ActuationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the current state and active operation for diagnostics.
func (m *ActuationStateMachine) Snapshot() ActuationSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := ActuationSnapshot{State: m.state.String()}
	if m.active != nil {
		snap.Action = m.active.op.Action
		snap.Started = m.active.started
	}
	return snap
}

// Actions lists the verbs this machine accepts.
func (m *ActuationStateMachine) Actions() []string {
	actions := make([]string, 0, len(m.ops))
	for action := range m.ops {
		actions = append(actions, action)
	}
	return actions
}

// Handle starts the operation named by cmd. Commands are only accepted while
// Idle; rejected commands leave the state untouched and emit no status.
func (m *ActuationStateMachine) Handle(cmd models.Command) error {
	if m.State() != models.Idle {
		return ErrBusy
	}

	op, ok := m.ops[cmd.Action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}

	plan, err := op.Plan(cmd)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Action, err)
	}
	plan.Level = hardware.ClampDuty(plan.Level)

	now := m.clock.Now()
	m.mu.Lock()
	m.state = models.Acting
	m.active = &activeOperation{op: op, plan: plan, started: now}
	m.mu.Unlock()

	m.logger.Info("Actuation started",
		zap.String("action", op.Action),
		zap.Int("level", plan.Level),
		zap.Float64("target", plan.Target),
		zap.Duration("duration", plan.Duration),
		zap.Duration("timeout", op.Timeout))

	m.reporter.Report(models.StatusActing, plan.Message)

	if err := op.output.Set(plan.Level); err != nil {
		m.logger.Error("Failed to energize output",
			zap.String("output", op.Output),
			zap.Error(err))
		m.finish(models.Error, fmt.Sprintf("%s failed: output fault", op.Action))
		return nil
	}

	m.check(now)
	return nil
}

// Tick advances an active operation. It runs the completion check when the
// poll interval has elapsed.
func (m *ActuationStateMachine) Tick(now time.Time) {
	m.mu.Lock()
	a := m.active
	m.mu.Unlock()

	if a == nil || now.Before(a.nextCheck) {
		return
	}
	m.check(now)
}

func (m *ActuationStateMachine) check(now time.Time) {
	a := m.active
	op := a.op

	if op.guard != nil {
		ok, err := op.guard.Asserted()
		if err != nil {
			m.logger.Warn("Guard read failed", zap.String("guard", op.Guard), zap.Error(err))
		}
		if err != nil || !ok {
			m.finish(models.Error, op.GuardMessage)
			return
		}
	}

	done, err := m.completed(a, now)
	if err != nil {
		m.logger.Warn("Completion check failed",
			zap.String("action", op.Action),
			zap.Error(err))
	}
	if done {
		m.finish(models.Completed, op.CompletedMessage)
		return
	}

	if now.Sub(a.started) >= op.Timeout {
		m.finish(models.Error, op.TimeoutMessage)
		return
	}

	a.nextCheck = now.Add(op.PollInterval)
}

func (m *ActuationStateMachine) completed(a *activeOperation, now time.Time) (bool, error) {
	op := a.op
	switch op.Completion.Kind {
	case CompleteOnFeedback:
		return op.feedback.Asserted()
	case CompleteOnThreshold:
		raw, err := op.analog.Read()
		if err != nil {
			return false, err
		}
		value := m.calibrator.Calibrate(op.Completion.Input, op.Completion.Curve, raw)
		return value >= a.plan.Target, nil
	case CompleteAfterDuration:
		return now.Sub(a.started) >= a.plan.Duration, nil
	}
	return false, nil
}

// finish leaves Acting. The output is de-energized whatever the outcome.
func (m *ActuationStateMachine) finish(outcome models.ActuationState, message string) {
	a := m.active
	if err := a.op.output.Set(0); err != nil {
		m.logger.Error("Failed to de-energize output",
			zap.String("output", a.op.Output),
			zap.Error(err))
	}

	m.mu.Lock()
	m.state = outcome
	m.mu.Unlock()

	elapsed := m.clock.Now().Sub(a.started)
	status := models.StatusCompleted
	if outcome == models.Error {
		status = models.StatusError
		m.logger.Error("Actuation failed",
			zap.String("action", a.op.Action),
			zap.String("reason", message),
			zap.Duration("elapsed", elapsed))
	} else {
		m.logger.Info("Actuation completed",
			zap.String("action", a.op.Action),
			zap.Duration("elapsed", elapsed))
	}

	m.reporter.Report(status, message)

	m.mu.Lock()
	m.state = models.Idle
	m.active = nil
	m.mu.Unlock()
}
