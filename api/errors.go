package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/hydrasense/volute/bridge"
	"github.com/hydrasense/volute/diagnosis"
	"github.com/hydrasense/volute/llm"
	"github.com/hydrasense/volute/store"
	"github.com/hydrasense/volute/twin"
)

// errBadRequest marks request bodies that fail to decode or validate.
var errBadRequest = errors.New("invalid request")

type errorBody struct {
	Kind         string `json:"kind"`
	Message      string `json:"message"`
	Detail       string `json:"detail,omitempty"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// writeError maps component sentinels onto the HTTP error taxonomy. Every
// error response carries the {error: {kind, message, ...}} envelope.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var body errorBody

	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, twin.ErrInvalidFaultType),
		errors.Is(err, diagnosis.ErrNoSample):
		status, body = http.StatusBadRequest, errorBody{
			Kind:    "invalid_input",
			Message: err.Error(),
		}
	case errors.Is(err, store.ErrNoData):
		status, body = http.StatusNotFound, errorBody{
			Kind:    "no_data",
			Message: err.Error(),
		}
	case errors.Is(err, bridge.ErrPublishFailed):
		status, body = http.StatusServiceUnavailable, errorBody{
			Kind:         "publish_failed",
			Message:      err.Error(),
			RetryAfterMS: 1000,
		}
	case errors.Is(err, llm.ErrUnavailable):
		status, body = http.StatusServiceUnavailable, errorBody{
			Kind:         "llm_unavailable",
			Message:      err.Error(),
			RetryAfterMS: s.RetryAfter.Milliseconds(),
		}
	default:
		var correlation = uuid.NewString()
		log.WithFields(log.Fields{
			"correlation": correlation,
			"path":        r.URL.Path,
			"error":       err,
		}).Error("request failed unexpectedly")
		status, body = http.StatusInternalServerError, errorBody{
			Kind:    "internal",
			Message: "unexpected internal error",
			Detail:  fmt.Sprintf("correlation id %s", correlation),
		}
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}
