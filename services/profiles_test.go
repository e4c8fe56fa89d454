package services

import (
	"errors"
	"testing"

	"exoskeleton/models"
	"exoskeleton/sensor"
)

func TestInjectionLevel(t *testing.T) {
	tests := []struct {
		pressure float64
		want     int
	}{
		{0, 150},
		{150, 150},
		{200, 170},
		{250, 212},
		{300, 255},
		{400, 255},
	}
	for _, tt := range tests {
		if got := injectionLevel(tt.pressure); got != tt.want {
			t.Errorf("injectionLevel(%v) = %d, want %d", tt.pressure, got, tt.want)
		}
	}
}

func TestLookupProfile(t *testing.T) {
	tests := []struct {
		name    string
		actions []string
		fields  int
	}{
		{"greenhouse", []string{"deploy", "retract"}, 4},
		{"injection", []string{"inject", "retract"}, 3},
		{"bubble", []string{"spray"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := LookupProfile(tt.name, nil)
			if err != nil {
				t.Fatalf("LookupProfile() error = %v", err)
			}
			if p.Module != tt.name {
				t.Errorf("Module = %q", p.Module)
			}

			var actions []string
			for _, op := range p.Operations {
				actions = append(actions, op.Action)
			}
			if !equalStrings(actions, tt.actions) {
				t.Errorf("actions = %v, want %v", actions, tt.actions)
			}
			if got := len(p.Telemetry.Analog) + len(p.Telemetry.Binary); got != tt.fields {
				t.Errorf("telemetry fields = %d, want %d", got, tt.fields)
			}
		})
	}

	if _, err := LookupProfile("submarine", nil); err == nil {
		t.Error("LookupProfile(submarine) error = nil")
	}
}

func TestLookupProfile_CurveOverride(t *testing.T) {
	override := sensor.Linear{Slope: 0.5}
	p, err := LookupProfile("injection", map[string]sensor.Curve{"depth": override})
	if err != nil {
		t.Fatal(err)
	}

	if p.Operations[0].Completion.Curve != override {
		t.Error("inject threshold does not use the depth override")
	}
	if p.Telemetry.Analog[0].Curve != override {
		t.Error("depth telemetry does not use the depth override")
	}
	if p.Telemetry.Analog[1].Curve != sensor.PressureCurve {
		t.Error("pressure curve changed by an unrelated override")
	}
}

func TestDepthCurveIsNotPressureCurve(t *testing.T) {
	p, err := LookupProfile("injection", nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Telemetry.Analog[0].Curve == p.Telemetry.Analog[1].Curve {
		t.Error("depth and pressure share a calibration curve")
	}
}

func TestSprayPlan(t *testing.T) {
	p, err := LookupProfile("bubble", nil)
	if err != nil {
		t.Fatal(err)
	}
	plan := p.Operations[0].Plan

	got, err := plan(models.Command{Action: "spray", Params: map[string]float64{"duration": 2000, "intensity": 100}})
	if err != nil {
		t.Fatalf("plan() error = %v", err)
	}
	if got.Level != 255 || got.Duration.Milliseconds() != 2000 {
		t.Errorf("plan = %+v, want level 255 and 2s", got)
	}

	for _, params := range []map[string]float64{
		{"duration": 0, "intensity": 50},
		{"duration": 1000, "intensity": 150},
		{"intensity": 50},
	} {
		if _, err := plan(models.Command{Action: "spray", Params: params}); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("plan(%v) error = %v, want ErrInvalidParameter", params, err)
		}
	}
}
