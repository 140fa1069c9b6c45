package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/hydrasense/volute/twin"
)

// wsWriteTimeout bounds each frame write. A client that cannot accept a
// frame within it relies on its subscription queue, which sheds that
// client's oldest samples without touching anyone else.
const wsWriteTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from another origin; transport-level access
	// control is the reverse proxy's concern.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsSensorUpdate struct {
	Type          string      `json:"type"`
	Data          twin.Sample `json:"data"`
	HistoryLength int         `json:"history_length"`
}

// serveSensorStream upgrades the connection and forwards every ingested
// sample, in ingest order, until the client disconnects or the process
// shuts down. Application errors never close the stream.
func (s *Server) serveSensorStream(w http.ResponseWriter, r *http.Request) {
	var conn, err = upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already responded to the client.
		log.WithFields(log.Fields{
			"client": r.RemoteAddr,
			"error":  err,
		}).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	wsClientsGauge.Inc()
	defer wsClientsGauge.Dec()
	log.WithField("client", r.RemoteAddr).Info("sensor stream client connected")

	var sub = s.Store.Subscribe()
	defer sub.Close()

	// Read pump: the client sends nothing meaningful, but reading is how
	// we learn it went away.
	var ctx, cancel = context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Prime a fresh client with current state rather than making it wait
	// for the next ingest.
	if latest, ok := s.Store.Latest(); ok {
		if s.writeSensorUpdate(conn, latest) != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-sub.C():
			if !ok {
				return
			}
			if err := s.writeSensorUpdate(conn, sample); err != nil {
				log.WithFields(log.Fields{
					"client": r.RemoteAddr,
					"drops":  sub.Drops(),
					"error":  err,
				}).Info("sensor stream client disconnected")
				return
			}
		}
	}
}

func (s *Server) writeSensorUpdate(conn *websocket.Conn, sample twin.Sample) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(wsSensorUpdate{
		Type:          "sensor_update",
		Data:          sample,
		HistoryLength: s.Store.HistoryLen(),
	})
}
