package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hydrasense/volute/bridge"
	"github.com/hydrasense/volute/chat"
	"github.com/hydrasense/volute/diagnosis"
	"github.com/hydrasense/volute/llm"
	"github.com/hydrasense/volute/safety"
	"github.com/hydrasense/volute/store"
	"github.com/hydrasense/volute/twin"
)

type fakeEngine struct {
	report       diagnosis.Report
	diagnoseErr  error
	answer       string
	askErr       error
	steps        []diagnosis.Step
	checklistErr error

	lastSample   *twin.Sample
	lastQuestion string
	lastHistory  []chat.Entry
	lastFault    twin.FaultState
	lastPrior    string
}

func (f *fakeEngine) Diagnose(_ context.Context, sample *twin.Sample) (diagnosis.Report, error) {
	f.lastSample = sample
	if sample == nil {
		return diagnosis.Report{}, diagnosis.ErrNoSample
	}
	return f.report, f.diagnoseErr
}

func (f *fakeEngine) Ask(_ context.Context, question string, sample *twin.Sample, _ *store.FaultContext, history []chat.Entry) (string, error) {
	f.lastQuestion = question
	f.lastSample = sample
	f.lastHistory = history
	return f.answer, f.askErr
}

func (f *fakeEngine) Checklist(_ context.Context, fault twin.FaultState, sample *twin.Sample, prior string) ([]diagnosis.Step, error) {
	f.lastFault = fault
	f.lastSample = sample
	f.lastPrior = prior
	return f.steps, f.checklistErr
}

type fakePublisher struct {
	err  error
	cmds []twin.Command
}

func (f *fakePublisher) PublishCommand(_ context.Context, cmd twin.Command) error {
	if f.err != nil {
		return f.err
	}
	f.cmds = append(f.cmds, cmd)
	return nil
}

type fixture struct {
	*Server
	engine    *fakeEngine
	publisher *fakePublisher
	url       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	var sessions, err = chat.NewSessions(16, 20)
	require.NoError(t, err)

	var f = &fixture{
		engine:    &fakeEngine{},
		publisher: &fakePublisher{},
	}
	f.Server = &Server{
		AssetID:    "pump01",
		Store:      store.NewStore(8),
		Tracker:    store.NewFaultTracker(8),
		Sessions:   sessions,
		Engine:     f.engine,
		Publisher:  f.publisher,
		RetryAfter: 30 * time.Second,
		Started:    time.Now(),
	}
	var srv = httptest.NewServer(f.Routes())
	t.Cleanup(srv.Close)
	f.url = srv.URL
	return f
}

func normalSample() twin.Sample {
	var s = twin.Sample{
		PumpID:      "pump01",
		Timestamp:   time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		FaultState:  twin.Normal,
		Voltage:     230,
		Vibration:   1.5,
		Pressure:    5,
		Temperature: 65,
	}
	s.Amperage = twin.ComputeAmperage(10, 10, 10)
	return s
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	var buf, err = json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	var envelope errorEnvelope
	decodeBody(t, resp, &envelope)
	return envelope.Error
}

func TestLiveness(t *testing.T) {
	var f = newFixture(t)

	var resp, err = http.Get(f.url + "/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status  string `json:"status"`
		Service string `json:"service"`
		AssetID string `json:"asset_id"`
	}
	decodeBody(t, resp, &body)
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "volute-monitor", body.Service)
	require.Equal(t, "pump01", body.AssetID)
}

func TestSensorDataBeforeFirstIngest(t *testing.T) {
	var f = newFixture(t)

	var resp, err = http.Get(f.url + "/api/sensor-data")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "no_data", decodeError(t, resp).Kind)
}

func TestSensorDataReturnsLatest(t *testing.T) {
	var f = newFixture(t)
	f.Store.Ingest(normalSample())

	var resp, err = http.Get(f.url + "/api/sensor-data")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sample twin.Sample
	decodeBody(t, resp, &sample)
	require.Equal(t, twin.Normal, sample.FaultState)
	require.Equal(t, 10.0, sample.Amperage.Average)
	require.Zero(t, sample.Amperage.ImbalancePct)
}

func TestSensorHistory(t *testing.T) {
	var f = newFixture(t)
	f.Store.Ingest(normalSample())
	f.Store.Ingest(normalSample())

	var resp, err = http.Get(f.url + "/api/sensor-history")
	require.NoError(t, err)

	var body struct {
		History []twin.Sample `json:"history"`
		Count   int           `json:"count"`
	}
	decodeBody(t, resp, &body)
	require.Equal(t, 2, body.Count)
	require.Len(t, body.History, 2)
}

func TestInjectFault(t *testing.T) {
	var f = newFixture(t)

	var resp = postJSON(t, f.url+"/api/inject-fault", map[string]interface{}{
		"fault_type":         "winding_defect",
		"temperature_target": 75.0,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status    string `json:"status"`
		RequestID string `json:"request_id"`
	}
	decodeBody(t, resp, &body)
	require.Equal(t, "sent", body.Status)
	require.NotEmpty(t, body.RequestID)

	require.Len(t, f.publisher.cmds, 1)
	var cmd = f.publisher.cmds[0]
	require.Equal(t, twin.CommandInjectFault, cmd.Command)
	require.Equal(t, twin.WindingDefect, cmd.FaultType)
	require.NotNil(t, cmd.TemperatureTarget)
	require.Equal(t, 75.0, *cmd.TemperatureTarget)
}

func TestInjectFaultRejectsUnknownType(t *testing.T) {
	var f = newFixture(t)

	var resp = postJSON(t, f.url+"/api/inject-fault", map[string]string{"fault_type": "GremlinAttack"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_input", decodeError(t, resp).Kind)
	require.Empty(t, f.publisher.cmds)
}

func TestEmergencyStopPublishFailure(t *testing.T) {
	var f = newFixture(t)
	f.publisher.err = bridge.ErrPublishFailed

	var resp = postJSON(t, f.url+"/api/emergency-stop", map[string]string{})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body = decodeError(t, resp)
	require.Equal(t, "publish_failed", body.Kind)
	require.NotZero(t, body.RetryAfterMS)
}

func TestResetPublishesCommand(t *testing.T) {
	var f = newFixture(t)

	var resp = postJSON(t, f.url+"/api/reset", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, f.publisher.cmds, 1)
	require.Equal(t, twin.CommandReset, f.publisher.cmds[0].Command)
}

func TestDiagnoseFallsBackToLatest(t *testing.T) {
	var f = newFixture(t)
	f.Store.Ingest(normalSample())
	f.engine.report = diagnosis.Report{
		Diagnosis:     "all nominal",
		Decision:      safety.Evaluate(normalSample(), safety.DefaultLimits()),
		FaultDetected: false,
	}

	var resp = postJSON(t, f.url+"/api/diagnose", map[string]interface{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report struct {
		Diagnosis     string `json:"diagnosis"`
		FaultDetected bool   `json:"fault_detected"`
		Decision      struct {
			Action string `json:"action"`
		} `json:"shutdown_decision"`
	}
	decodeBody(t, resp, &report)
	require.Equal(t, "all nominal", report.Diagnosis)
	require.False(t, report.FaultDetected)
	require.Equal(t, "NormalOperation", report.Decision.Action)

	require.NotNil(t, f.engine.lastSample)
	require.Equal(t, twin.Normal, f.engine.lastSample.FaultState)
}

func TestDiagnoseWithoutAnySample(t *testing.T) {
	var f = newFixture(t)

	var resp = postJSON(t, f.url+"/api/diagnose", map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_input", decodeError(t, resp).Kind)
}

func TestDiagnoseLLMUnavailable(t *testing.T) {
	var f = newFixture(t)
	f.Store.Ingest(normalSample())
	f.engine.diagnoseErr = llm.ErrUnavailable

	var resp = postJSON(t, f.url+"/api/diagnose", map[string]interface{}{})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body = decodeError(t, resp)
	require.Equal(t, "llm_unavailable", body.Kind)
	require.Equal(t, int64(30000), body.RetryAfterMS)
}

func TestChatUpdatesSession(t *testing.T) {
	var f = newFixture(t)
	f.engine.answer = "check the seals"

	var resp = postJSON(t, f.url+"/api/chat", map[string]string{
		"message": "M1", "session_id": "S",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Response string `json:"response"`
	}
	decodeBody(t, resp, &body)
	require.Equal(t, "check the seals", body.Response)

	// First turn saw an empty history; the second sees the first turn.
	require.Empty(t, f.engine.lastHistory)

	resp = postJSON(t, f.url+"/api/chat", map[string]string{
		"message": "M2", "session_id": "S",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	require.Len(t, f.engine.lastHistory, 2)

	var history = f.Sessions.History("S")
	require.Len(t, history, 4)
	require.Equal(t, chat.Entry{Role: chat.RoleUser, Content: "M1"}, history[0])
	require.Equal(t, chat.RoleAssistant, history[1].Role)
	require.Equal(t, chat.Entry{Role: chat.RoleUser, Content: "M2"}, history[2])
	require.Equal(t, chat.RoleAssistant, history[3].Role)
}

func TestChatFailureLeavesSessionUntouched(t *testing.T) {
	var f = newFixture(t)
	f.engine.askErr = llm.ErrUnavailable

	var resp = postJSON(t, f.url+"/api/chat", map[string]string{
		"message": "M1", "session_id": "S",
	})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
	require.Empty(t, f.Sessions.History("S"))
}

func TestChatValidation(t *testing.T) {
	var f = newFixture(t)

	var resp = postJSON(t, f.url+"/api/chat", map[string]string{"session_id": "S"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, f.url+"/api/chat", map[string]string{"message": "hello"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestChecklist(t *testing.T) {
	var f = newFixture(t)
	f.engine.steps = []diagnosis.Step{
		{ID: 1, Label: "Cut power to the pump", Icon: "⚡", Critical: true},
		{ID: 2, Label: "Measure winding resistance", Icon: "📊"},
	}

	var resp = postJSON(t, f.url+"/api/logigramme", map[string]string{
		"fault_type": "BearingWear", "diagnosis": "prior text",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Steps []diagnosis.Step `json:"steps"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Steps, 2)
	require.True(t, body.Steps[0].Critical)

	require.Equal(t, twin.BearingWear, f.engine.lastFault)
	require.Equal(t, "prior text", f.engine.lastPrior)
}

func TestChecklistRejectsUnknownFault(t *testing.T) {
	var f = newFixture(t)

	var resp = postJSON(t, f.url+"/api/logigramme", map[string]string{"fault_type": "Nonsense"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_input", decodeError(t, resp).Kind)
}

func TestFaultTypes(t *testing.T) {
	var f = newFixture(t)

	var resp, err = http.Get(f.url + "/api/fault-types")
	require.NoError(t, err)

	var body struct {
		FaultTypes []twin.FaultState `json:"fault_types"`
		Injectable []twin.FaultState `json:"injectable"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.FaultTypes, 6)
	require.Len(t, body.Injectable, 5)
	require.NotContains(t, body.Injectable, twin.Normal)
}

func TestFaultContext(t *testing.T) {
	var f = newFixture(t)

	var a = normalSample()
	f.Tracker.OnSample(a)
	f.Store.Ingest(a)

	var b = normalSample()
	b.FaultState = twin.WindingDefect
	b.Amperage = twin.ComputeAmperage(12, 9, 10)
	f.Tracker.OnSample(b)
	f.Store.Ingest(b)

	var resp, err = http.Get(f.url + "/api/fault-context")
	require.NoError(t, err)

	var body struct {
		Active *store.FaultContext  `json:"active"`
		Events []store.FaultContext `json:"events"`
		Count  int                  `json:"count"`
	}
	decodeBody(t, resp, &body)
	require.NotNil(t, body.Active)
	require.Equal(t, twin.WindingDefect, body.Active.FaultState)
	require.Equal(t, b, body.Active.StartSnapshot)
	require.GreaterOrEqual(t, body.Count, 1)
}
