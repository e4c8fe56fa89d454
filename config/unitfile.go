package config

import (
	"fmt"
	"os"

	"exoskeleton/hardware"
	"exoskeleton/sensor"

	"gopkg.in/yaml.v3"
)

// UnitFile holds per-installation overrides: how pins are wired and which
// calibration curve each sensor uses.
//
//	pins:
//	  outputs:
//	    motor: {kind: pwm, pwm_chip: 0, pwm_channel: 0}
//	  digital:
//	    needle_feedback: {line: 14, pull_up: true}
//	calibration:
//	  depth: {kind: linear, slope: 0.05, intercept: 0}
type UnitFile struct {
	Pins        hardware.PinMap             `yaml:"pins"`
	Calibration map[string]sensor.CurveSpec `yaml:"calibration"`
}

// LoadUnitFile reads the YAML unit file at path. An empty path yields an
// empty UnitFile.
func LoadUnitFile(path string) (*UnitFile, error) {
	if path == "" {
		return &UnitFile{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read unit file: %w", err)
	}

	var uf UnitFile
	if err := yaml.Unmarshal(data, &uf); err != nil {
		return nil, fmt.Errorf("parse unit file %s: %w", path, err)
	}

	for name, spec := range uf.Calibration {
		if _, err := spec.Build(); err != nil {
			return nil, fmt.Errorf("calibration for %s: %w", name, err)
		}
	}

	return &uf, nil
}

// Curves builds the calibration overrides.
func (u *UnitFile) Curves() map[string]sensor.Curve {
	curves := make(map[string]sensor.Curve, len(u.Calibration))
	for name, spec := range u.Calibration {
		curve, err := spec.Build()
		if err != nil {
			continue // validated in LoadUnitFile
		}
		curves[name] = curve
	}
	return curves
}
