package diagnosis

import (
	"strings"
	"testing"
	"time"

	"github.com/bradleyjkemp/cupaloy"
	"github.com/stretchr/testify/require"

	"github.com/hydrasense/volute/retrieval"
	"github.com/hydrasense/volute/safety"
	"github.com/hydrasense/volute/twin"
)

func promptSample() twin.Sample {
	return twin.Sample{
		PumpID:         "pump01",
		Timestamp:      time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
		FaultState:     twin.Cavitation,
		FaultDurationS: 12,
		Amperage:       twin.ComputeAmperage(10.2, 10.0, 9.7),
		Voltage:        230,
		Vibration:      8.4,
		Pressure:       5.2,
		Temperature:    65,
	}
}

func nominalSample() twin.Sample {
	return twin.Sample{
		PumpID:      "pump01",
		Timestamp:   time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
		FaultState:  twin.Normal,
		Amperage:    twin.ComputeAmperage(10, 10, 10),
		Voltage:     230,
		Vibration:   1.5,
		Pressure:    5,
		Temperature: 65,
	}
}

func TestRenderSampleGolden(t *testing.T) {
	cupaloy.SnapshotT(t, renderSample(promptSample()))
}

func TestRenderSampleIsDeterministic(t *testing.T) {
	var s = promptSample()
	require.Equal(t, renderSample(s), renderSample(s))
}

func TestAnomalyQueryMapping(t *testing.T) {
	var limits = safety.DefaultLimits()

	var cases = []struct {
		name   string
		mutate func(*twin.Sample)
		want   string
	}{
		{"no anomalies falls back to fault state", func(s *twin.Sample) {}, "Normal troubleshooting diagnosis"},
		{"fault state fallback uses identifier", func(s *twin.Sample) {
			s.FaultState = twin.Cavitation
		}, "Cavitation troubleshooting diagnosis"},
		{"imbalance", func(s *twin.Sample) {
			s.Amperage.ImbalancePct = 7
		}, "motor winding defect phase imbalance"},
		{"low voltage", func(s *twin.Sample) {
			s.Voltage = 200
		}, "voltage supply fault low voltage"},
		{"high vibration", func(s *twin.Sample) {
			s.Vibration = 8
		}, "cavitation high vibration"},
		{"high temperature", func(s *twin.Sample) {
			s.Temperature = 85
		}, "motor overheating causes"},
		{"bearing band vibration", func(s *twin.Sample) {
			s.Vibration = 4
		}, "bearing wear diagnosis"},
		{"fragments join in fixed order", func(s *twin.Sample) {
			s.Amperage.ImbalancePct = 18
			s.Voltage = 170
			s.Vibration = 12
			s.Temperature = 95
		}, "motor winding defect phase imbalance voltage supply fault low voltage cavitation high vibration motor overheating causes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var s = nominalSample()
			tc.mutate(&s)
			require.Equal(t, tc.want, anomalyQuery(s, limits))
		})
	}
}

func TestAnomalyQueryHonorsConfiguredUndervoltage(t *testing.T) {
	var s = nominalSample()
	s.Voltage = 214

	require.Equal(t, "Normal troubleshooting diagnosis", anomalyQuery(s, safety.DefaultLimits()))
	require.Equal(t, "voltage supply fault low voltage",
		anomalyQuery(s, safety.Limits{VoltCriticalLow: 190, VoltWarningLow: 220}))
}

func TestDiagnosePromptLayout(t *testing.T) {
	var chunks = []retrieval.Result{
		{Content: "Cavitation collapses vapor bubbles near the impeller.", Page: 14, Source: "manual.pdf", Score: 0.12},
	}
	var prompt = diagnosePrompt(promptSample(), chunks)

	require.True(t, strings.HasPrefix(prompt, rolePreamble))
	require.Contains(t, prompt, "PUMP TELEMETRY SNAPSHOT")
	require.Contains(t, prompt, "[manual.pdf p.14, distance 0.120]")
	require.Contains(t, prompt, "Cavitation collapses vapor bubbles")

	// The four sections appear in order in the directive.
	var last = -1
	for _, header := range []string{"DIAGNOSIS", "ROOT CAUSE", "ACTION ITEMS", "VERIFICATION STEPS"} {
		var idx = strings.LastIndex(prompt, header)
		require.Greater(t, idx, last, "section %s out of order", header)
		last = idx
	}
}

func TestRenderChunksEmptyMarker(t *testing.T) {
	var text = renderChunks(nil)
	require.Contains(t, text, "REFERENCE MANUAL EXTRACTS")
	require.Contains(t, text, emptyContextMarker)
}
