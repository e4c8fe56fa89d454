package models

import (
	"errors"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantAction string
		wantParams map[string]float64
		wantErr    error
	}{
		{
			name:       "inject with params",
			payload:    `{"action":"inject","params":{"depth":200,"pressure":150}}`,
			wantAction: "inject",
			wantParams: map[string]float64{"depth": 200, "pressure": 150},
		},
		{
			name:       "deploy without params",
			payload:    `{"action":"deploy"}`,
			wantAction: "deploy",
		},
		{
			name:    "invalid json",
			payload: `{"action":`,
			wantErr: ErrParseFailure,
		},
		{
			name:    "non numeric param",
			payload: `{"action":"spray","params":{"duration":"long"}}`,
			wantErr: ErrParseFailure,
		},
		{
			name:    "missing action",
			payload: `{"params":{"depth":1}}`,
			wantErr: ErrMissingAction,
		},
		{
			name:    "binary garbage",
			payload: "\xff\xfe\x00",
			wantErr: ErrParseFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand([]byte(tt.payload))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseCommand() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand() error = %v", err)
			}
			if cmd.Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", cmd.Action, tt.wantAction)
			}
			for k, want := range tt.wantParams {
				got, ok := cmd.Param(k)
				if !ok || got != want {
					t.Errorf("Param(%q) = %v, %v; want %v, true", k, got, ok, want)
				}
			}
		})
	}
}

func TestUnitTopics(t *testing.T) {
	topics := UnitTopics("injection")
	if topics.Command != "exoskeleton/injection/command" {
		t.Errorf("Command = %q", topics.Command)
	}
	if topics.Status != "exoskeleton/injection/status" {
		t.Errorf("Status = %q", topics.Status)
	}
	if topics.Sensors != "exoskeleton/injection/sensors" {
		t.Errorf("Sensors = %q", topics.Sensors)
	}
}
