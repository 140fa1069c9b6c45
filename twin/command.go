package twin

import (
	"errors"
	"fmt"
	"time"
)

// CommandName identifies an advisory command sent to the simulator.
type CommandName string

const (
	CommandInjectFault   CommandName = "INJECT_FAULT"
	CommandReset         CommandName = "RESET"
	CommandEmergencyStop CommandName = "EMERGENCY_STOP"
)

// ErrInvalidFaultType is returned when a client names a fault identifier
// that cannot be injected.
var ErrInvalidFaultType = errors.New("invalid fault type")

// Command is the outbound simulator message. Commands are advisory: the
// simulator owns idempotence on RequestID and the service never
// deduplicates.
type Command struct {
	PumpID            string      `json:"pump_id"`
	RequestID         string      `json:"request_id"`
	Timestamp         time.Time   `json:"timestamp"`
	Command           CommandName `json:"command"`
	FaultType         FaultState  `json:"fault_type,omitempty"`
	TemperatureTarget *float64    `json:"temperature_target,omitempty"`
	TemperatureBand   *float64    `json:"temperature_band,omitempty"`
}

// NewCommand stamps a command with the current UTC instant and a
// millisecond-epoch request id.
func NewCommand(pumpID string, name CommandName) Command {
	var now = time.Now().UTC()
	return Command{
		PumpID:    pumpID,
		RequestID: fmt.Sprintf("req-%d", now.UnixMilli()),
		Timestamp: now,
		Command:   name,
	}
}

// ParseKnownFaultState is the strict variant of ParseFaultState: unknown
// spellings fail with ErrInvalidFaultType instead of mapping to Normal.
func ParseKnownFaultState(s string) (FaultState, error) {
	if f, ok := canonicalFaults[foldFaultState(s)]; ok {
		return f, nil
	}
	return Normal, fmt.Errorf("%w: %q", ErrInvalidFaultType, s)
}

// NewInjectFault builds an INJECT_FAULT command after validating the
// requested fault identifier against the injectable set.
func NewInjectFault(pumpID string, faultType string) (Command, error) {
	var parsed, err = ParseKnownFaultState(faultType)
	if err != nil {
		return Command{}, err
	}
	if !parsed.IsFault() {
		return Command{}, fmt.Errorf("%w: %q cannot be injected", ErrInvalidFaultType, faultType)
	}
	var cmd = NewCommand(pumpID, CommandInjectFault)
	cmd.FaultType = parsed
	return cmd, nil
}
