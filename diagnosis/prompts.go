package diagnosis

import (
	"fmt"
	"strings"
	"time"

	"github.com/hydrasense/volute/chat"
	"github.com/hydrasense/volute/retrieval"
	"github.com/hydrasense/volute/safety"
	"github.com/hydrasense/volute/store"
	"github.com/hydrasense/volute/twin"
)

// Prompts are deterministic compositions of a role preamble, a rendered
// sample, rendered manual extracts, and a task directive. The only
// nondeterminism in this package is the model's reply.

const rolePreamble = `You are a senior maintenance engineer for industrial centrifugal pump
systems. You diagnose electrical and hydraulic faults from live telemetry
and the pump's reference manual, and you give precise, actionable guidance.`

const diagnoseDirective = `Write a maintenance report with exactly these four sections:

DIAGNOSIS
ROOT CAUSE
ACTION ITEMS
VERIFICATION STEPS

Ground every statement in the telemetry and the manual extracts above.
Keep ACTION ITEMS and VERIFICATION STEPS as short imperative bullet lines.`

const askDirective = `Reply in the same language as the question. Answer directly in 4 to 8
short bullet points. Do not write a full report or section headers.`

const checklistDirective = `Produce a numbered repair checklist of 5 to 7 items.
Each item starts with an imperative verb and is at most 10 words.
Mark safety-critical items with [CRITICAL] at the start of the item.
Output only the numbered list.`

const emptyContextMarker = "No manual extracts matched this case. Reason from the telemetry alone."

// askHistoryCap bounds how much transcript an ask prompt carries.
const askHistoryCap = 20

// bearingBandLow opens the vibration band that suggests bearing wear
// rather than cavitation.
const bearingBandLow = 3.0

// renderSample is the fixed text rendering of a sample used in every
// prompt. Formats are pinned so identical samples render identically.
func renderSample(s twin.Sample) string {
	var b strings.Builder
	b.WriteString("PUMP TELEMETRY SNAPSHOT\n")
	fmt.Fprintf(&b, "%-16s %s\n", "pump:", s.PumpID)
	fmt.Fprintf(&b, "%-16s %s\n", "timestamp:", s.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "%-16s %s (%ds in state)\n", "fault state:", s.FaultState, s.FaultDurationS)
	fmt.Fprintf(&b, "%-16s phase A %.2f A | phase B %.2f A | phase C %.2f A\n",
		"current:", s.Amperage.PhaseA, s.Amperage.PhaseB, s.Amperage.PhaseC)
	fmt.Fprintf(&b, "%-16s %.2f A\n", "current average:", s.Amperage.Average)
	fmt.Fprintf(&b, "%-16s %.2f %%\n", "imbalance:", s.Amperage.ImbalancePct)
	fmt.Fprintf(&b, "%-16s %.1f V\n", "voltage:", s.Voltage)
	fmt.Fprintf(&b, "%-16s %.2f mm/s\n", "vibration:", s.Vibration)
	fmt.Fprintf(&b, "%-16s %.2f bar\n", "pressure:", s.Pressure)
	fmt.Fprintf(&b, "%-16s %.1f °C\n", "temperature:", s.Temperature)
	return b.String()
}

// renderChunks labels each retrieved extract with its source page and
// cosine distance. An empty result set renders the explicit marker so the
// model knows it is reasoning without the manual.
func renderChunks(results []retrieval.Result) string {
	var b strings.Builder
	b.WriteString("REFERENCE MANUAL EXTRACTS\n")
	if len(results) == 0 {
		b.WriteString(emptyContextMarker)
		b.WriteString("\n")
		return b.String()
	}
	for _, r := range results {
		fmt.Fprintf(&b, "[%s p.%d, distance %.3f]\n%s\n", r.Source, r.Page, r.Score, r.Content)
	}
	return b.String()
}

// anomalyQuery builds the retrieval query for a diagnosis by appending one
// keyword fragment per detected anomaly, in fixed order. A sample with no
// anomalies falls back to its fault state.
func anomalyQuery(s twin.Sample, limits safety.Limits) string {
	var parts []string
	if s.Amperage.ImbalancePct > safety.ImbalanceWarning {
		parts = append(parts, "motor winding defect phase imbalance")
	}
	if s.Voltage < limits.VoltWarningLow {
		parts = append(parts, "voltage supply fault low voltage")
	}
	if s.Vibration > safety.VibrationWarning {
		parts = append(parts, "cavitation high vibration")
	}
	if s.Temperature > safety.TempWarning {
		parts = append(parts, "motor overheating causes")
	}
	if s.Vibration > bearingBandLow && s.Vibration <= safety.VibrationWarning {
		parts = append(parts, "bearing wear diagnosis")
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s troubleshooting diagnosis", s.FaultState)
	}
	return strings.Join(parts, " ")
}

func diagnosePrompt(s twin.Sample, chunks []retrieval.Result) string {
	var b strings.Builder
	b.WriteString(rolePreamble)
	b.WriteString("\n\n")
	b.WriteString(renderSample(s))
	b.WriteString("\n")
	b.WriteString(renderChunks(chunks))
	b.WriteString("\n")
	b.WriteString(diagnoseDirective)
	return b.String()
}

func askPrompt(question string, sample *twin.Sample, faultCtx *store.FaultContext, history []chat.Entry, chunks []retrieval.Result) string {
	var b strings.Builder
	b.WriteString(rolePreamble)
	b.WriteString("\n\n")

	if n := len(history); n > 0 {
		if n > askHistoryCap {
			history = history[n-askHistoryCap:]
		}
		b.WriteString("CONVERSATION SO FAR\n")
		for _, e := range history {
			fmt.Fprintf(&b, "%s: %s\n", roleLabel(e.Role), e.Content)
		}
		b.WriteString("\n")
	}
	if sample != nil {
		b.WriteString(renderSample(*sample))
		b.WriteString("\n")
	}
	if faultCtx != nil {
		fmt.Fprintf(&b, "FAULT ONSET: %s at %s\n", faultCtx.FaultState,
			faultCtx.StartTime.UTC().Format(time.RFC3339))
		b.WriteString(renderSample(faultCtx.StartSnapshot))
		b.WriteString("\n")
	}
	b.WriteString(renderChunks(chunks))
	b.WriteString("\n")
	fmt.Fprintf(&b, "OPERATOR QUESTION\n%s\n\n", question)
	b.WriteString(askDirective)
	return b.String()
}

func checklistPrompt(fault twin.FaultState, sample *twin.Sample, diagnosis string, chunks []retrieval.Result) string {
	var b strings.Builder
	b.WriteString(rolePreamble)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "FAULT UNDER REPAIR: %s\n\n", fault.Humanize())
	if sample != nil {
		b.WriteString(renderSample(*sample))
		b.WriteString("\n")
	}
	if diagnosis != "" {
		fmt.Fprintf(&b, "PRIOR DIAGNOSIS\n%s\n\n", diagnosis)
	}
	b.WriteString(renderChunks(chunks))
	b.WriteString("\n")
	b.WriteString(checklistDirective)
	return b.String()
}

func roleLabel(r chat.Role) string {
	if r == chat.RoleAssistant {
		return "Assistant"
	}
	return "User"
}
