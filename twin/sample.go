// Package twin holds the canonical data model of the monitored pump:
// the normalized telemetry Sample, the closed set of fault states, and
// outbound simulator Commands.
package twin

import (
	"math"
	"strings"
	"time"
)

// FaultState is a categorical identifier of the pump's operating condition.
// Normal is the absence of a fault.
type FaultState string

const (
	Normal        FaultState = "Normal"
	WindingDefect FaultState = "WindingDefect"
	SupplyFault   FaultState = "SupplyFault"
	Cavitation    FaultState = "Cavitation"
	BearingWear   FaultState = "BearingWear"
	Overload      FaultState = "Overload"
)

// FaultStates enumerates every valid identifier, Normal first.
func FaultStates() []FaultState {
	return []FaultState{Normal, WindingDefect, SupplyFault, Cavitation, BearingWear, Overload}
}

// InjectableFaults enumerates the identifiers a client may ask the
// simulator to inject (every state but Normal).
func InjectableFaults() []FaultState {
	return []FaultState{WindingDefect, SupplyFault, Cavitation, BearingWear, Overload}
}

// canonicalFaults indexes fault identifiers by their folded spelling:
// upper-cased with whitespace, underscores and hyphens removed.
var canonicalFaults = func() map[string]FaultState {
	var m = make(map[string]FaultState)
	for _, f := range FaultStates() {
		m[foldFaultState(string(f))] = f
	}
	return m
}()

func foldFaultState(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ' ', '\t', '_', '-':
			// Dropped.
		default:
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

// ParseFaultState canonicalizes a wire spelling ("winding_defect",
// "WINDING DEFECT", "WindingDefect", ...) into its identifier.
// Unknown or empty spellings map to Normal.
func ParseFaultState(s string) FaultState {
	if f, ok := canonicalFaults[foldFaultState(s)]; ok {
		return f
	}
	return Normal
}

// IsFault is true for every state but Normal.
func (f FaultState) IsFault() bool { return f != Normal }

// Humanize renders the identifier as lower-case prose
// ("WindingDefect" => "winding defect") for retrieval queries and prompts.
func (f FaultState) Humanize() string {
	var b strings.Builder
	for i, r := range string(f) {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// Amperage is the three-phase current snapshot with its derived fields.
type Amperage struct {
	PhaseA       float64 `json:"phase_a"`
	PhaseB       float64 `json:"phase_b"`
	PhaseC       float64 `json:"phase_c"`
	Average      float64 `json:"average"`
	ImbalancePct float64 `json:"imbalance_pct"`
}

// ComputeAmperage derives the average and worst-phase imbalance from raw
// phase currents. A non-positive average pins the imbalance at zero.
func ComputeAmperage(a, b, c float64) Amperage {
	var avg = (a + b + c) / 3
	var imbalance float64
	if avg > 0 {
		var worst = math.Max(math.Abs(a-avg), math.Max(math.Abs(b-avg), math.Abs(c-avg)))
		imbalance = 100 * worst / avg
	}
	return Amperage{PhaseA: a, PhaseB: b, PhaseC: c, Average: avg, ImbalancePct: imbalance}
}

// Sample is one normalized telemetry snapshot. Its JSON shape is also the
// REST and WebSocket wire shape, with amperage nested.
type Sample struct {
	PumpID         string     `json:"pump_id"`
	Timestamp      time.Time  `json:"timestamp"`
	Seq            int64      `json:"seq,omitempty"`
	FaultState     FaultState `json:"fault_state"`
	FaultDurationS int        `json:"fault_duration_s"`
	Amperage       Amperage   `json:"amperage"`
	Voltage        float64    `json:"voltage"`
	Vibration      float64    `json:"vibration"`
	Pressure       float64    `json:"pressure"`
	Temperature    float64    `json:"temperature"`
}
