package main

import (
	"testing"

	"exoskeleton/models"
)

func TestBuildCommand(t *testing.T) {
	cmd, err := buildCommand("inject", map[string]string{"depth": "200", "pressure": "150.5"})
	if err != nil {
		t.Fatalf("buildCommand() error = %v", err)
	}
	if cmd.Action != "inject" || cmd.Params["depth"] != 200 || cmd.Params["pressure"] != 150.5 {
		t.Errorf("buildCommand() = %+v", cmd)
	}

	cmd, err = buildCommand("deploy", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Params != nil {
		t.Errorf("Params = %v, want nil", cmd.Params)
	}

	if _, err := buildCommand("spray", map[string]string{"duration": "long"}); err == nil {
		t.Error("buildCommand() error = nil for non-numeric param")
	}
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		state string
		want  bool
	}{
		{models.StatusActing, false},
		{models.StatusOnline, false},
		{models.StatusCompleted, true},
		{models.StatusError, true},
	}
	for _, tt := range tests {
		if got := terminal(tt.state); got != tt.want {
			t.Errorf("terminal(%q) = %v, want %v", tt.state, got, tt.want)
		}
	}
}
