// Package safety classifies a telemetry sample against critical and
// warning thresholds. Evaluation is a pure function: no I/O, no clock,
// identical samples always produce identical decisions.
package safety

import "github.com/hydrasense/volute/twin"

// Action is the operator guidance attached to a decision.
type Action string

// Urgency grades a decision.
type Urgency string

const (
	ImmediateShutdown Action = "ImmediateShutdown"
	ContinueThenStop  Action = "ContinueThenStop"
	NormalOperation   Action = "NormalOperation"

	UrgencyCritical Urgency = "Critical"
	UrgencyWarning  Urgency = "Warning"
	UrgencyOk       Urgency = "Ok"
)

// Fixed classification bounds. The undervoltage bounds live in Limits
// instead: the source material documented both 180 V and 207 V as the
// "severe" cutoff, so they are configurable with 180/207 as shipped.
const (
	TempWarning  = 80.0
	TempCritical = 90.0

	VibrationWarning  = 5.0
	VibrationCritical = 10.0

	ImbalanceWarning  = 5.0
	ImbalanceCritical = 15.0

	VoltWarningHigh  = 253.0
	VoltCriticalHigh = 270.0

	PressureWarning  = 2.0
	PressureCritical = 0.0
)

// Limits carries the configurable undervoltage bounds.
type Limits struct {
	VoltCriticalLow float64
	VoltWarningLow  float64
}

// DefaultLimits returns the shipped undervoltage bounds.
func DefaultLimits() Limits {
	return Limits{VoltCriticalLow: 180, VoltWarningLow: 207}
}

// Condition records one violated threshold.
type Condition struct {
	Parameter string  `json:"parameter"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Reason    string  `json:"reason"`
}

// Decision is the classification of one sample.
type Decision struct {
	Action             Action      `json:"action"`
	Urgency            Urgency     `json:"urgency"`
	Icon               string      `json:"icon"`
	Message            string      `json:"message"`
	CriticalConditions []Condition `json:"critical_conditions,omitempty"`
	WarningConditions  []Condition `json:"warning_conditions,omitempty"`
	Recommendation     string      `json:"recommendation"`
}

// Evaluate classifies a sample. Any critical condition forces an immediate
// shutdown decision that also carries the warning conditions observed;
// warnings alone allow continued operation toward a controlled stop.
func Evaluate(s twin.Sample, limits Limits) Decision {
	var critical, warning []Condition

	if s.Temperature > TempCritical {
		critical = append(critical, Condition{
			Parameter: "temperature", Value: s.Temperature, Threshold: TempCritical,
			Reason: "motor temperature above the critical shutdown threshold",
		})
	} else if s.Temperature >= TempWarning {
		warning = append(warning, Condition{
			Parameter: "temperature", Value: s.Temperature, Threshold: TempWarning,
			Reason: "motor temperature elevated above the warning threshold",
		})
	}

	if s.Vibration > VibrationCritical {
		critical = append(critical, Condition{
			Parameter: "vibration", Value: s.Vibration, Threshold: VibrationCritical,
			Reason: "vibration above the critical shutdown threshold",
		})
	} else if s.Vibration > VibrationWarning {
		warning = append(warning, Condition{
			Parameter: "vibration", Value: s.Vibration, Threshold: VibrationWarning,
			Reason: "vibration elevated above the warning threshold",
		})
	}

	if s.Amperage.ImbalancePct > ImbalanceCritical {
		critical = append(critical, Condition{
			Parameter: "imbalance_pct", Value: s.Amperage.ImbalancePct, Threshold: ImbalanceCritical,
			Reason: "phase current imbalance above the critical shutdown threshold",
		})
	} else if s.Amperage.ImbalancePct > ImbalanceWarning {
		warning = append(warning, Condition{
			Parameter: "imbalance_pct", Value: s.Amperage.ImbalancePct, Threshold: ImbalanceWarning,
			Reason: "phase current imbalance above the warning threshold",
		})
	}

	switch {
	case s.Voltage < limits.VoltCriticalLow:
		critical = append(critical, Condition{
			Parameter: "voltage", Value: s.Voltage, Threshold: limits.VoltCriticalLow,
			Reason: "supply voltage below the severe undervoltage cutoff",
		})
	case s.Voltage > VoltCriticalHigh:
		critical = append(critical, Condition{
			Parameter: "voltage", Value: s.Voltage, Threshold: VoltCriticalHigh,
			Reason: "supply voltage above the severe overvoltage cutoff",
		})
	case s.Voltage < limits.VoltWarningLow:
		warning = append(warning, Condition{
			Parameter: "voltage", Value: s.Voltage, Threshold: limits.VoltWarningLow,
			Reason: "supply voltage below the nominal operating band",
		})
	case s.Voltage > VoltWarningHigh:
		warning = append(warning, Condition{
			Parameter: "voltage", Value: s.Voltage, Threshold: VoltWarningHigh,
			Reason: "supply voltage above the nominal operating band",
		})
	}

	if s.Pressure <= PressureCritical {
		critical = append(critical, Condition{
			Parameter: "pressure", Value: s.Pressure, Threshold: PressureCritical,
			Reason: "discharge pressure collapsed, no effective pumping",
		})
	} else if s.Pressure < PressureWarning {
		warning = append(warning, Condition{
			Parameter: "pressure", Value: s.Pressure, Threshold: PressureWarning,
			Reason: "discharge pressure below the expected operating range",
		})
	}

	switch {
	case len(critical) > 0:
		return Decision{
			Action:             ImmediateShutdown,
			Urgency:            UrgencyCritical,
			Icon:               "🛑",
			Message:            "IMMEDIATE SHUTDOWN REQUIRED",
			CriticalConditions: critical,
			WarningConditions:  warning,
			Recommendation:     "Stop the pump now and lock out power before any inspection.",
		}
	case len(warning) > 0:
		return Decision{
			Action:            ContinueThenStop,
			Urgency:           UrgencyWarning,
			Icon:              "⚠️",
			Message:           "Degraded operation detected",
			WarningConditions: warning,
			Recommendation:    "Keep running under observation and plan a controlled stop for inspection.",
		}
	default:
		return Decision{
			Action:         NormalOperation,
			Urgency:        UrgencyOk,
			Icon:           "✅",
			Message:        "Normal operation",
			Recommendation: "No action required.",
		}
	}
}
