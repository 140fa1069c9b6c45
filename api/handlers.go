package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hydrasense/volute/chat"
	"github.com/hydrasense/volute/diagnosis"
	"github.com/hydrasense/volute/store"
	"github.com/hydrasense/volute/twin"
)

func (s *Server) serveLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status  string `json:"status"`
		Service string `json:"service"`
		AssetID string `json:"asset_id"`
		UptimeS int64  `json:"uptime_s"`
	}{"ok", "volute-monitor", s.AssetID, int64(time.Since(s.Started).Seconds())})
}

func (s *Server) serveSensorData(w http.ResponseWriter, r *http.Request) {
	var latest, ok = s.Store.Latest()
	if !ok {
		s.writeError(w, r, store.ErrNoData)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) serveSensorHistory(w http.ResponseWriter, r *http.Request) {
	var history = s.Store.History()
	writeJSON(w, http.StatusOK, struct {
		History []twin.Sample `json:"history"`
		Count   int           `json:"count"`
	}{history, len(history)})
}

func (s *Server) serveFaultTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		FaultTypes []twin.FaultState `json:"fault_types"`
		Injectable []twin.FaultState `json:"injectable"`
	}{twin.FaultStates(), twin.InjectableFaults()})
}

func (s *Server) serveFaultContext(w http.ResponseWriter, r *http.Request) {
	var events = s.Tracker.Events()
	var body = struct {
		Active *store.FaultContext  `json:"active,omitempty"`
		Events []store.FaultContext `json:"events"`
		Count  int                  `json:"count"`
	}{Events: events, Count: len(events)}
	if active, ok := s.Tracker.Active(); ok {
		body.Active = &active
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) serveInjectFault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FaultType         string   `json:"fault_type"`
		TemperatureTarget *float64 `json:"temperature_target"`
		TemperatureBand   *float64 `json:"temperature_band"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %s", errBadRequest, err))
		return
	}

	var cmd, err = twin.NewInjectFault(s.AssetID, req.FaultType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cmd.TemperatureTarget = req.TemperatureTarget
	cmd.TemperatureBand = req.TemperatureBand

	s.publishCommand(w, r, cmd)
}

func (s *Server) serveReset(w http.ResponseWriter, r *http.Request) {
	s.publishCommand(w, r, twin.NewCommand(s.AssetID, twin.CommandReset))
}

func (s *Server) serveEmergencyStop(w http.ResponseWriter, r *http.Request) {
	s.publishCommand(w, r, twin.NewCommand(s.AssetID, twin.CommandEmergencyStop))
}

func (s *Server) publishCommand(w http.ResponseWriter, r *http.Request, cmd twin.Command) {
	if err := s.Publisher.PublishCommand(r.Context(), cmd); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status    string           `json:"status"`
		Command   twin.CommandName `json:"command"`
		RequestID string           `json:"request_id"`
	}{"sent", cmd.Command, cmd.RequestID})
}

func (s *Server) serveDiagnose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SensorData *twin.Sample `json:"sensor_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %s", errBadRequest, err))
		return
	}

	var sample = req.SensorData
	if sample == nil {
		if latest, ok := s.Store.Latest(); ok {
			sample = &latest
		}
	}

	var report, err = s.Engine.Diagnose(r.Context(), sample)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) serveChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message              string `json:"message"`
		SessionID            string `json:"session_id"`
		IncludeSensorContext *bool  `json:"include_sensor_context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %s", errBadRequest, err))
		return
	}
	if req.Message == "" {
		s.writeError(w, r, fmt.Errorf("%w: message is required", errBadRequest))
		return
	}
	if req.SessionID == "" {
		s.writeError(w, r, fmt.Errorf("%w: session_id is required", errBadRequest))
		return
	}

	var sample *twin.Sample
	var faultCtx *store.FaultContext
	if req.IncludeSensorContext == nil || *req.IncludeSensorContext {
		if latest, ok := s.Store.Latest(); ok {
			sample = &latest
		}
		if active, ok := s.Tracker.Active(); ok {
			faultCtx = &active
		}
	}

	// Snapshot history before this turn; the session is mutated only on
	// success, so a failed or retried request leaves no partial turn.
	var history = s.Sessions.History(req.SessionID)

	var answer, err = s.Engine.Ask(r.Context(), req.Message, sample, faultCtx, history)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Sessions.Append(req.SessionID, chat.RoleUser, req.Message)
	s.Sessions.Append(req.SessionID, chat.RoleAssistant, answer)

	writeJSON(w, http.StatusOK, struct {
		Response  string    `json:"response"`
		Timestamp time.Time `json:"timestamp"`
	}{answer, time.Now().UTC()})
}

func (s *Server) serveChecklist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FaultType string `json:"fault_type"`
		Diagnosis string `json:"diagnosis"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %s", errBadRequest, err))
		return
	}
	var fault, err = twin.ParseKnownFaultState(req.FaultType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var sample *twin.Sample
	if latest, ok := s.Store.Latest(); ok {
		sample = &latest
	}

	steps, err := s.Engine.Checklist(r.Context(), fault, sample, req.Diagnosis)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Steps []diagnosis.Step `json:"steps"`
	}{steps})
}
