package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"exoskeleton/clock"
	"exoskeleton/hardware"
	"exoskeleton/models"

	"go.uber.org/zap"
)

type unitFixture struct {
	clk       *clock.FakeClock
	board     *hardware.SimBoard
	network   *fakeNetwork
	broker    *fakeBroker
	restarter *fakeRestarter
	unit      *Unit
	topics    models.Topics
}

func newUnitFixture(t *testing.T, module string, setup func(*hardware.SimBoard, clock.Clock)) *unitFixture {
	t.Helper()

	profile, err := LookupProfile(module, nil)
	if err != nil {
		t.Fatal(err)
	}

	f := &unitFixture{
		clk:       clock.Fake(t0),
		board:     hardware.NewSimBoard(),
		network:   &fakeNetwork{up: true},
		broker:    newFakeBroker(),
		restarter: &fakeRestarter{},
		topics:    models.UnitTopics(module),
	}
	if setup == nil {
		setup = profile.Simulate
	}
	setup(f.board, f.clk)

	f.unit, err = NewUnit(UnitDeps{
		Profile:      profile,
		Board:        f.board,
		Network:      f.network,
		Broker:       f.broker,
		Restarter:    f.restarter,
		Clock:        f.clk,
		Logger:       zap.NewNop(),
		Connectivity: DefaultConnectivityConfig(),
	})
	if err != nil {
		t.Fatalf("NewUnit() error = %v", err)
	}
	if err := f.unit.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return f
}

// step advances the clock by d in 10ms control-loop ticks.
func (f *unitFixture) step(d time.Duration) {
	ctx := context.Background()
	for elapsed := time.Duration(0); elapsed < d; elapsed += DefaultLoopInterval {
		f.clk.Advance(DefaultLoopInterval)
		f.unit.Tick(ctx, f.clk.Now())
	}
}

func (f *unitFixture) command(t *testing.T, payload string) {
	t.Helper()
	f.broker.deliver(t, f.topics.Command, []byte(payload))
}

// actionStatuses returns the status states published after startup.
func (f *unitFixture) actionStatuses(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, msg := range f.broker.statuses(t, f.topics.Status) {
		if msg.State == models.StatusActing || msg.State == models.StatusCompleted || msg.State == models.StatusError {
			out = append(out, msg.State)
		}
	}
	return out
}

func TestUnit_Startup(t *testing.T) {
	f := newUnitFixture(t, "greenhouse", nil)

	statuses := f.broker.statuses(t, f.topics.Status)
	if got := statesOf(statuses); !equalStrings(got, []string{models.StatusOnline, models.StatusIdle}) {
		t.Fatalf("startup statuses = %v, want [ONLINE IDLE]", got)
	}
	if statuses[1].Message != "System startup" || statuses[1].Module != "greenhouse" {
		t.Errorf("startup status = %+v", statuses[1])
	}
}

func TestUnit_InjectScenario(t *testing.T) {
	f := newUnitFixture(t, "injection", nil)

	f.command(t, `{"action":"inject","params":{"depth":200,"pressure":150}}`)
	f.step(3 * time.Second)

	if got := f.actionStatuses(t); !equalStrings(got, []string{models.StatusActing, models.StatusCompleted}) {
		t.Fatalf("statuses = %v, want [ACTING COMPLETED]", got)
	}
	if got := f.board.SimOutput("motor").History(); len(got) < 2 || got[0] != 150 || got[len(got)-1] != 0 {
		t.Errorf("motor history = %v, want 150 then 0", got)
	}
	if got := f.unit.Actuation().State(); got != models.Idle {
		t.Errorf("actuation state = %v, want idle", got)
	}
}

func TestUnit_DeployTimeout(t *testing.T) {
	f := newUnitFixture(t, "greenhouse", func(b *hardware.SimBoard, _ clock.Clock) {
		b.SimDigital("deploy_feedback").Set(false)
	})

	f.command(t, `{"action":"deploy"}`)
	f.step(6 * time.Second)

	if got := f.actionStatuses(t); !equalStrings(got, []string{models.StatusActing, models.StatusError}) {
		t.Fatalf("statuses = %v, want [ACTING ERROR]", got)
	}
	statuses := f.broker.statuses(t, f.topics.Status)
	if last := statuses[len(statuses)-1]; last.Message != "Greenhouse deployment timeout" {
		t.Errorf("last status = %+v", last)
	}
	if got := f.board.SimOutput("deploy").Level(); got != 0 {
		t.Errorf("deploy output = %d after timeout, want 0", got)
	}
}

func TestUnit_TimeoutHoldsDuringConnectionLoss(t *testing.T) {
	f := newUnitFixture(t, "greenhouse", func(b *hardware.SimBoard, _ clock.Clock) {
		b.SimDigital("deploy_feedback").Set(false)
	})

	var (
		states          []string
		times           []time.Time
		connectsAtError int
	)
	f.unit.Reporter().OnStatus(func(m models.StatusMessage) {
		states = append(states, m.State)
		times = append(times, f.clk.Now())
		if m.State == models.StatusError {
			connectsAtError = f.broker.connects()
		}
	})

	f.command(t, `{"action":"deploy"}`)
	f.step(time.Second)

	f.network.up = false
	f.broker.drop(errors.New("network unreachable"))
	f.step(5 * time.Second)

	if !equalStrings(states, []string{models.StatusActing, models.StatusError}) {
		t.Fatalf("statuses = %v, want [ACTING ERROR]", states)
	}
	if elapsed := times[1].Sub(times[0]); elapsed < 5*time.Second || elapsed >= 5500*time.Millisecond {
		t.Errorf("ERROR after %v, want within [5s, 5.5s)", elapsed)
	}
	if got := f.board.SimOutput("deploy").History(); !equalInts(got, []int{hardware.MaxDuty, 0}) {
		t.Errorf("deploy history = %v, want [255 0]", got)
	}
	if connectsAtError != 1 {
		t.Errorf("broker connects before ERROR = %d, want only the startup connect", connectsAtError)
	}
	if got := f.unit.Connectivity().State(); got == models.Ready {
		t.Error("state = ready with the network down")
	}
}

func TestUnit_DeployedFeedbackLatches(t *testing.T) {
	f := newUnitFixture(t, "greenhouse", nil)

	f.command(t, `{"action":"deploy"}`)
	f.step(5 * time.Second)

	if got := f.actionStatuses(t); !equalStrings(got, []string{models.StatusActing, models.StatusCompleted}) {
		t.Fatalf("statuses = %v, want [ACTING COMPLETED]", got)
	}
	last := f.unit.Telemetry().Snapshot().Last
	if last["deployed"] != true || last["retracted"] != false {
		t.Errorf("deployed/retracted = %v/%v after deploy, want true/false", last["deployed"], last["retracted"])
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestUnit_RejectedCommandsLeaveIdle(t *testing.T) {
	payloads := []string{
		`not json`,
		`{"params":{"depth":1}}`,
		`{"action":"launch"}`,
		`{"action":"inject","params":{"depth":10}}`,
	}

	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			f := newUnitFixture(t, "injection", nil)
			f.broker.reset()

			f.command(t, payload)
			f.step(100 * time.Millisecond)

			if got := f.broker.statuses(t, f.topics.Status); len(got) != 0 {
				t.Errorf("statuses = %v, want none", got)
			}
			if got := f.unit.Actuation().State(); got != models.Idle {
				t.Errorf("actuation state = %v, want idle", got)
			}
		})
	}
}

func TestUnit_CommandDroppedWhileActing(t *testing.T) {
	f := newUnitFixture(t, "greenhouse", nil)

	f.command(t, `{"action":"deploy"}`)
	f.step(500 * time.Millisecond)
	f.command(t, `{"action":"retract"}`)
	f.step(3 * time.Second)

	if got := f.actionStatuses(t); !equalStrings(got, []string{models.StatusActing, models.StatusCompleted}) {
		t.Fatalf("statuses = %v, want [ACTING COMPLETED]", got)
	}
	if got := f.board.SimOutput("retract").History(); len(got) != 0 {
		t.Errorf("retract output history = %v, want untouched", got)
	}
}

func TestUnit_TelemetrySkippedWhileActing(t *testing.T) {
	f := newUnitFixture(t, "greenhouse", nil)

	f.step(10 * time.Millisecond)
	if got := len(f.broker.publishedOn(f.topics.Sensors)); got != 1 {
		t.Fatalf("initial telemetry = %d, want 1", got)
	}

	f.command(t, `{"action":"deploy"}`)
	f.step(1500 * time.Millisecond)
	if got := len(f.broker.publishedOn(f.topics.Sensors)); got != 1 {
		t.Errorf("telemetry while acting = %d, want still 1", got)
	}
	if got := f.unit.Telemetry().Snapshot().Skipped; got == 0 {
		t.Error("no skipped samples recorded")
	}

	// Completes at 2s; the next sample is due one period after the skip.
	f.step(2 * time.Second)
	if got := len(f.broker.publishedOn(f.topics.Sensors)); got < 2 {
		t.Errorf("telemetry after completion = %d, want resumed", got)
	}
}

func TestUnit_ReconnectRepublishesTelemetry(t *testing.T) {
	f := newUnitFixture(t, "bubble", nil)
	f.step(10 * time.Millisecond)

	f.broker.drop(errors.New("connection reset"))
	f.step(10 * time.Millisecond)
	f.broker.setConnectErr(nil)
	f.broker.reset()

	f.step(5 * time.Second)

	statuses := f.broker.statuses(t, f.topics.Status)
	if len(statuses) != 1 || statuses[0].State != models.StatusOnline || statuses[0].Message != "Reconnected to broker" {
		t.Fatalf("statuses = %v, want one ONLINE reconnect", statuses)
	}

	// One immediate sample on reconnect, then the regular 1s cadence.
	if got := len(f.broker.publishedOn(f.topics.Sensors)); got < 1 {
		t.Fatalf("no telemetry after reconnect")
	}
	if _, ok := f.broker.handlers[f.topics.Command]; !ok {
		t.Error("command topic not subscribed after reconnect")
	}
}

func TestUnit_RestartsAfterFailedRecovery(t *testing.T) {
	f := newUnitFixture(t, "injection", nil)

	f.broker.drop(errors.New("connection refused"))
	f.step(30 * time.Second)

	if got := f.restarter.count(); got != 1 {
		t.Errorf("restarts = %d, want 1", got)
	}
	if got := f.unit.Snapshot().Connection.Failures; got != 5 {
		t.Errorf("failures = %d, want 5", got)
	}
}

func TestUnit_SnapshotIsSafeDuringRun(t *testing.T) {
	f := newUnitFixture(t, "greenhouse", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.unit.Run(ctx) }()

	for i := 0; i < 10; i++ {
		_ = f.unit.Snapshot()
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
	if got := f.unit.Connectivity().State(); got != models.Disconnected {
		t.Errorf("state after Run = %v, want disconnected", got)
	}
}
