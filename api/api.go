// Package api exposes the service surface: REST endpoints for telemetry,
// commands and diagnostics, and the WebSocket telemetry stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hydrasense/volute/chat"
	"github.com/hydrasense/volute/diagnosis"
	"github.com/hydrasense/volute/store"
	"github.com/hydrasense/volute/twin"
)

// Diagnoser is the slice of the diagnostic engine the handlers call.
type Diagnoser interface {
	Diagnose(ctx context.Context, sample *twin.Sample) (diagnosis.Report, error)
	Ask(ctx context.Context, question string, sample *twin.Sample, faultCtx *store.FaultContext, history []chat.Entry) (string, error)
	Checklist(ctx context.Context, fault twin.FaultState, sample *twin.Sample, prior string) ([]diagnosis.Step, error)
}

// CommandPublisher sends advisory commands toward the simulator.
type CommandPublisher interface {
	PublishCommand(ctx context.Context, cmd twin.Command) error
}

// Server holds every component a handler touches. It is constructed once
// in main and passed by reference; there are no package-level singletons.
type Server struct {
	AssetID   string
	Store     *store.Store
	Tracker   *store.FaultTracker
	Sessions  *chat.Sessions
	Engine    Diagnoser
	Publisher CommandPublisher

	// RetryAfter is the hint attached to llm_unavailable responses,
	// typically the LLM breaker's cooldown.
	RetryAfter time.Duration
	Started    time.Time
}

// Routes builds the HTTP router over the Server.
func (s *Server) Routes() *mux.Router {
	var router = mux.NewRouter()

	router.Path("/").Methods("GET").HandlerFunc(s.serveLiveness)
	router.Path("/metrics").Methods("GET").Handler(promhttp.Handler())

	router.Path("/api/sensor-data").Methods("GET").HandlerFunc(s.serveSensorData)
	router.Path("/api/sensor-history").Methods("GET").HandlerFunc(s.serveSensorHistory)
	router.Path("/api/fault-types").Methods("GET").HandlerFunc(s.serveFaultTypes)
	router.Path("/api/fault-context").Methods("GET").HandlerFunc(s.serveFaultContext)

	router.Path("/api/inject-fault").Methods("POST").HandlerFunc(s.serveInjectFault)
	router.Path("/api/reset").Methods("POST").HandlerFunc(s.serveReset)
	router.Path("/api/emergency-stop").Methods("POST").HandlerFunc(s.serveEmergencyStop)

	router.Path("/api/diagnose").Methods("POST").HandlerFunc(s.serveDiagnose)
	router.Path("/api/chat").Methods("POST").HandlerFunc(s.serveChat)
	router.Path("/api/logigramme").Methods("POST").HandlerFunc(s.serveChecklist)

	router.Path("/ws/sensor-stream").Methods("GET").HandlerFunc(s.serveSensorStream)

	return router
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
