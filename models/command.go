package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrParseFailure is returned when a command payload is not valid JSON
	// of the expected shape.
	ErrParseFailure = errors.New("command parse failure")
	// ErrMissingAction is returned when a command has no action verb.
	ErrMissingAction = errors.New("command has no action")
)

// Command is one instruction from the decision process.
type Command struct {
	Action string             `json:"action"`
	Params map[string]float64 `json:"params,omitempty"`
}

// ParseCommand decodes a command payload received on a command topic.
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	if cmd.Action == "" {
		return Command{}, ErrMissingAction
	}
	return cmd, nil
}

// Param returns the named parameter and whether it was present.
func (c Command) Param(key string) (float64, bool) {
	v, ok := c.Params[key]
	return v, ok
}
