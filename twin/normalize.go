package twin

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// looseFloat decodes a JSON value permissively: numbers pass through,
// numeric strings are parsed, and everything else (null, garbage text,
// non-finite values) coerces to zero. Coercions are tallied by the caller
// so the bridge can count them without failing the payload.
type looseFloat struct {
	Value   float64
	Coerced bool
}

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	*f = looseFloat{}
	var s = strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		f.Coerced = true
		return nil
	}
	if s[0] == '"' {
		var unquoted string
		if err := json.Unmarshal(b, &unquoted); err != nil {
			f.Coerced = true
			return nil
		}
		s = strings.TrimSpace(unquoted)
	}
	var v, err = strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		f.Coerced = true
		return nil
	}
	f.Value = v
	return nil
}

// wireAmperage is the nested inbound form.
type wireAmperage struct {
	PhaseA looseFloat `json:"phase_a"`
	PhaseB looseFloat `json:"phase_b"`
	PhaseC looseFloat `json:"phase_c"`
}

// wireSample mirrors the simulator's telemetry JSON. Both the flat
// (amps_A/amps_B/amps_C) and nested (amperage.phase_*) current forms are
// accepted; unknown fields are ignored. An inbound imbalance_pct is also
// ignored, since the derived fields are always recomputed.
type wireSample struct {
	PumpID        string        `json:"pump_id"`
	Timestamp     string        `json:"timestamp"`
	Seq           int64         `json:"seq"`
	FaultState    string        `json:"fault_state"`
	FaultDuration looseFloat    `json:"fault_duration_s"`
	AmpsA         looseFloat    `json:"amps_A"`
	AmpsB         looseFloat    `json:"amps_B"`
	AmpsC         looseFloat    `json:"amps_C"`
	Amperage      *wireAmperage `json:"amperage"`
	Voltage       looseFloat    `json:"voltage"`
	Vibration     looseFloat    `json:"vibration"`
	Pressure      looseFloat    `json:"pressure"`
	Temperature   looseFloat    `json:"temperature"`
}

// timestampLayouts are tried in order. The simulator emits RFC 3339;
// bare ISO timestamps without a zone are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// NormalizeStats reports what normalization had to clean up.
type NormalizeStats struct {
	// CoercedFields counts numeric fields that were missing, non-numeric
	// or non-finite and were zeroed.
	CoercedFields int
	// TimestampSubstituted is set when the payload timestamp was missing
	// or unparseable and the current instant was used instead.
	TimestampSubstituted bool
	// UnknownFaultState is set when the payload fault state did not match
	// any known identifier and was mapped to Normal.
	UnknownFaultState bool
}

// Normalize parses one telemetry payload into a canonical Sample.
// It fails only when the payload is not a JSON object; field-level
// problems are coerced and reported through NormalizeStats.
func Normalize(payload []byte, now func() time.Time) (Sample, NormalizeStats, error) {
	var wire wireSample
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Sample{}, NormalizeStats{}, fmt.Errorf("decoding telemetry payload: %w", err)
	}

	var stats NormalizeStats
	var tally = func(f looseFloat) float64 {
		if f.Coerced {
			stats.CoercedFields++
		}
		return f.Value
	}

	var ts time.Time
	if wire.Timestamp != "" {
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, wire.Timestamp); err == nil {
				ts = parsed.UTC()
				break
			}
		}
	}
	if ts.IsZero() {
		ts = now().UTC()
		stats.TimestampSubstituted = true
	}

	var state = ParseFaultState(wire.FaultState)
	if wire.FaultState != "" && foldFaultState(wire.FaultState) != foldFaultState(string(state)) {
		stats.UnknownFaultState = true
	}

	var a, b, c float64
	if wire.Amperage != nil {
		a, b, c = tally(wire.Amperage.PhaseA), tally(wire.Amperage.PhaseB), tally(wire.Amperage.PhaseC)
	} else {
		a, b, c = tally(wire.AmpsA), tally(wire.AmpsB), tally(wire.AmpsC)
	}

	var duration = int(tally(wire.FaultDuration))
	if duration < 0 || state == Normal {
		duration = 0
	}

	return Sample{
		PumpID:         wire.PumpID,
		Timestamp:      ts,
		Seq:            wire.Seq,
		FaultState:     state,
		FaultDurationS: duration,
		Amperage:       ComputeAmperage(a, b, c),
		Voltage:        tally(wire.Voltage),
		Vibration:      tally(wire.Vibration),
		Pressure:       tally(wire.Pressure),
		Temperature:    tally(wire.Temperature),
	}, stats, nil
}
