package sensor

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCurves(t *testing.T) {
	tests := []struct {
		name  string
		curve Curve
		raw   float64
		want  float64
	}{
		{"linear at zero yields intercept", TemperatureCurve, 0, -12.5},
		{"linear", TemperatureCurve, 400, 37.5},
		{"quadratic at zero", PressureCurve, 0, 0},
		{"quadratic", PressureCurve, 100, 40},
		{"piecewise below", FlowCurve, 200, 20},
		{"piecewise at breakpoint", FlowCurve, 500, 50},
		{"piecewise above", FlowCurve, 1000, 90},
		{"humidity full scale", HumidityCurve, 4095, 100},
		{"depth identity", DepthCurve, 250, 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.curve.Apply(tt.raw); !almostEqual(got, tt.want) {
				t.Errorf("Apply(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPiecewise_DiscontinuousTable(t *testing.T) {
	p := Piecewise{
		Breakpoint: 10,
		Below:      Linear{Slope: 1},
		Above:      Linear{Slope: 1, Intercept: 100},
	}
	if got := p.Apply(9.999); !almostEqual(got, 9.999) {
		t.Errorf("Apply(9.999) = %v, want 9.999", got)
	}
	if got := p.Apply(10); !almostEqual(got, 110) {
		t.Errorf("Apply(10) = %v, want 110", got)
	}
}

func TestCurveSpec_Build(t *testing.T) {
	tests := []struct {
		name    string
		spec    CurveSpec
		raw     float64
		want    float64
		wantErr bool
	}{
		{
			name: "linear",
			spec: CurveSpec{Kind: "linear", Slope: 2, Intercept: 1},
			raw:  3, want: 7,
		},
		{
			name: "quadratic",
			spec: CurveSpec{Kind: "quadratic", A: 1, B: 1},
			raw:  2, want: 6,
		},
		{
			name: "piecewise",
			spec: CurveSpec{
				Kind:       "piecewise",
				Breakpoint: 500,
				Below:      &CurveSpec{Kind: "linear", Slope: 0.1},
				Above:      &CurveSpec{Kind: "linear", Slope: 0.08, Intercept: 10},
			},
			raw: 1000, want: 90,
		},
		{
			name:    "piecewise missing segment",
			spec:    CurveSpec{Kind: "piecewise", Below: &CurveSpec{Kind: "linear"}},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			spec:    CurveSpec{Kind: "cubic"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			curve, err := tt.spec.Build()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Build() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if got := curve.Apply(tt.raw); !almostEqual(got, tt.want) {
				t.Errorf("Apply(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCalibrator_EmitsDiagnosticEvent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c := NewCalibrator(zap.New(core))

	got := c.Calibrate("temperature", TemperatureCurve, 0)
	if got != -12.5 {
		t.Errorf("Calibrate() = %v, want -12.5", got)
	}

	entries := logs.FilterMessage("Sensor calibrated").All()
	if len(entries) != 1 {
		t.Fatalf("diagnostic events = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["sensor"] != "temperature" {
		t.Errorf("sensor field = %v, want temperature", fields["sensor"])
	}
	if fields["raw"] != 0.0 {
		t.Errorf("raw field = %v, want 0", fields["raw"])
	}
	if fields["calibrated"] != -12.5 {
		t.Errorf("calibrated field = %v, want -12.5", fields["calibrated"])
	}
}
