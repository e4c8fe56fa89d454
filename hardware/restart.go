package hardware

import (
	"os"

	"go.uber.org/zap"
)

// RestartExitCode is the exit status used to ask the supervisor (systemd
// Restart=always, container restart policy) for a fresh process.
const RestartExitCode = 3

// Restarter performs the terminal "give up and reboot" action.
type Restarter interface {
	Restart(reason string)
}

// ProcessRestarter restarts the unit by exiting the process. All in-memory
// state is lost, which is the point.
type ProcessRestarter struct {
	logger *zap.Logger
	board  Board
	hooks  []func(reason string)
	exit   func(code int)
}

// NewProcessRestarter creates a restarter that de-energizes board before
// exiting. board may be nil.
func NewProcessRestarter(logger *zap.Logger, board Board) *ProcessRestarter {
	return &ProcessRestarter{
		logger: logger,
		board:  board,
		exit:   os.Exit,
	}
}

// OnRestart registers a hook run before the process exits.
func (r *ProcessRestarter) OnRestart(hook func(reason string)) {
	r.hooks = append(r.hooks, hook)
}

// Restart runs hooks, releases the board and exits with RestartExitCode.
func (r *ProcessRestarter) Restart(reason string) {
	r.logger.Error("Restarting unit", zap.String("reason", reason))

	for _, hook := range r.hooks {
		hook(reason)
	}

	if r.board != nil {
		if err := r.board.Close(); err != nil {
			r.logger.Error("Failed to release board before restart", zap.Error(err))
		}
	}

	_ = r.logger.Sync()
	r.exit(RestartExitCode)
}
