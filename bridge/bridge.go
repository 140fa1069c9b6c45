// Package bridge connects the service to the MQTT broker. It subscribes
// to the asset's telemetry topic, normalizes every payload into a
// canonical sample for the store and fault tracker, and publishes
// advisory commands back to the simulator.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/hydrasense/volute/store"
	"github.com/hydrasense/volute/twin"
)

var (
	// ErrBrokerUnavailable reports that the connect-retry budget was
	// exhausted without reaching the broker.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrPublishFailed reports that a command was not acknowledged by the
	// broker.
	ErrPublishFailed = errors.New("command publish failed")
)

// Telemetry is at-most-once; commands are at-least-once, with idempotence
// on request_id owned by the simulator.
const (
	qosTelemetry byte = 0
	qosCommand   byte = 1
)

// Config wires the bridge to the broker and bounds its retries.
type Config struct {
	Host      string
	Port      int
	BaseTopic string
	AssetID   string
	ClientID  string

	ConnectAttempts uint64        // total connect attempts before ErrBrokerUnavailable
	ConnectInitial  time.Duration // first backoff interval
	ConnectCap      time.Duration // backoff ceiling
	PublishTimeout  time.Duration // QoS 1 acknowledgment wait
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port <= 0 {
		c.Port = 1883
	}
	if c.BaseTopic == "" {
		c.BaseTopic = "digital_twin"
	}
	if c.AssetID == "" {
		c.AssetID = "pump01"
	}
	if c.ClientID == "" {
		c.ClientID = "volute-monitor-" + c.AssetID
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = 8
	}
	if c.ConnectInitial <= 0 {
		c.ConnectInitial = 500 * time.Millisecond
	}
	if c.ConnectCap <= 0 {
		c.ConnectCap = 30 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

func (c Config) telemetryTopic() string {
	return fmt.Sprintf("%s/%s/telemetry", c.BaseTopic, c.AssetID)
}

func (c Config) commandTopic() string {
	return fmt.Sprintf("%s/%s/command", c.BaseTopic, c.AssetID)
}

// CommandPublisher is the outbound surface the API layer depends on.
type CommandPublisher interface {
	PublishCommand(ctx context.Context, cmd twin.Command) error
}

// Bridge pumps telemetry from the broker into the store and fault
// tracker, and publishes commands. One Bridge serves one asset.
type Bridge struct {
	cfg     Config
	client  mqtt.Client
	store   *store.Store
	tracker *store.FaultTracker
	now     func() time.Time

	mu      sync.Mutex
	lastSeq int64
}

// New builds a Bridge with its own MQTT client. A lost connection
// auto-reconnects and re-issues the telemetry subscription.
func New(cfg Config, st *store.Store, tracker *store.FaultTracker) *Bridge {
	cfg.applyDefaults()
	var b = &Bridge{cfg: cfg, store: st, tracker: tracker, now: time.Now}

	var opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithField("error", err).Warn("broker connection lost")
		}).
		SetOnConnectHandler(func(client mqtt.Client) {
			_ = b.subscribe(client)
		})
	b.client = mqtt.NewClient(opts)
	return b
}

// newBridge wires an existing client, for tests.
func newBridge(client mqtt.Client, cfg Config, st *store.Store, tracker *store.FaultTracker) *Bridge {
	cfg.applyDefaults()
	return &Bridge{cfg: cfg, client: client, store: st, tracker: tracker, now: time.Now}
}

// Start connects to the broker, retrying with exponential backoff within
// the configured attempt budget, and subscribes to the telemetry topic.
// An exhausted budget or canceled ctx surfaces as ErrBrokerUnavailable.
func (b *Bridge) Start(ctx context.Context) error {
	var bo = backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.ConnectInitial
	bo.MaxInterval = b.cfg.ConnectCap
	bo.MaxElapsedTime = 0

	var attempt int
	var err = backoff.Retry(func() error {
		attempt++
		var token = b.client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			log.WithFields(log.Fields{
				"attempt": attempt,
				"error":   err,
			}).Warn("broker connect failed")
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, b.cfg.ConnectAttempts-1), ctx))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBrokerUnavailable, err)
	}

	// The on-connect handler also subscribes; a second SUBSCRIBE for the
	// same filter just replaces the first.
	if err := b.subscribe(b.client); err != nil {
		return fmt.Errorf("%w: %s", ErrBrokerUnavailable, err)
	}
	log.WithFields(log.Fields{
		"broker": fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port),
		"asset":  b.cfg.AssetID,
	}).Info("bridge started")
	return nil
}

// Stop unsubscribes and disconnects, giving in-flight callbacks a short
// quiesce to drain.
func (b *Bridge) Stop() {
	if b.client.IsConnected() {
		if token := b.client.Unsubscribe(b.cfg.telemetryTopic()); !token.WaitTimeout(time.Second) {
			log.Warn("timed out unsubscribing from telemetry")
		}
		b.client.Disconnect(250)
	}
	log.Info("bridge stopped")
}

func (b *Bridge) subscribe(client mqtt.Client) error {
	var topic = b.cfg.telemetryTopic()
	var token = client.Subscribe(topic, qosTelemetry, func(_ mqtt.Client, msg mqtt.Message) {
		b.handleTelemetry(msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		log.WithFields(log.Fields{
			"topic": topic,
			"error": err,
		}).Error("telemetry subscribe failed")
		return err
	}
	log.WithField("topic", topic).Info("subscribed to telemetry")
	return nil
}

// handleTelemetry normalizes one payload and hands it downstream. The
// fault tracker observes the sample before store publication, so stream
// subscribers see the transition applied by the time the sample arrives.
// Malformed payloads are dropped and counted; they never stop the pump.
func (b *Bridge) handleTelemetry(payload []byte) {
	receivedTotal.Inc()

	var sample, stats, err = twin.Normalize(payload, b.now)
	if err != nil {
		malformedTotal.Inc()
		log.WithFields(log.Fields{
			"error": err,
			"bytes": len(payload),
		}).Warn("dropping malformed telemetry payload")
		return
	}
	if stats.CoercedFields > 0 {
		coercedFieldsTotal.Add(float64(stats.CoercedFields))
	}
	if stats.UnknownFaultState {
		log.WithField("pump", sample.PumpID).Warn("unknown fault state mapped to Normal")
	}
	b.trackSeq(sample.Seq)

	b.tracker.OnSample(sample)
	b.store.Ingest(sample)
}

// trackSeq counts gaps in the simulator's optional monotone counter.
// Observability only: gapped samples are still ingested.
func (b *Bridge) trackSeq(seq int64) {
	if seq == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastSeq != 0 && seq != b.lastSeq+1 {
		seqGapsTotal.Inc()
		log.WithFields(log.Fields{
			"have": b.lastSeq,
			"got":  seq,
		}).Debug("telemetry sequence gap")
	}
	b.lastSeq = seq
}

// PublishCommand serializes cmd and publishes it at-least-once to the
// command topic, waiting for the broker's acknowledgment.
func (b *Bridge) PublishCommand(ctx context.Context, cmd twin.Command) error {
	var payload, err = json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	var token = b.client.Publish(b.cfg.commandTopic(), qosCommand, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			commandsTotal.WithLabelValues(string(cmd.Command), "error").Inc()
			return fmt.Errorf("%w: %s", ErrPublishFailed, err)
		}
	case <-ctx.Done():
		commandsTotal.WithLabelValues(string(cmd.Command), "error").Inc()
		return fmt.Errorf("%w: %s", ErrPublishFailed, ctx.Err())
	case <-time.After(b.cfg.PublishTimeout):
		commandsTotal.WithLabelValues(string(cmd.Command), "error").Inc()
		return fmt.Errorf("%w: no acknowledgment within %s", ErrPublishFailed, b.cfg.PublishTimeout)
	}

	commandsTotal.WithLabelValues(string(cmd.Command), "ok").Inc()
	log.WithFields(log.Fields{
		"command":    cmd.Command,
		"request_id": cmd.RequestID,
	}).Info("published command")
	return nil
}
