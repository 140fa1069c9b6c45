package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hydrasense/volute/api"
	"github.com/hydrasense/volute/bridge"
	"github.com/hydrasense/volute/chat"
	"github.com/hydrasense/volute/diagnosis"
	"github.com/hydrasense/volute/llm"
	"github.com/hydrasense/volute/retrieval"
	"github.com/hydrasense/volute/safety"
	"github.com/hydrasense/volute/store"
)

// Config is the top-level configuration object of the volute monitor.
var Config = new(struct {
	Broker struct {
		Host      string `long:"host" env:"HOST" default:"localhost" description:"MQTT broker host"`
		Port      int    `long:"port" env:"PORT" default:"1883" description:"MQTT broker port"`
		BaseTopic string `long:"base-topic" env:"BASE_TOPIC" default:"digital_twin" description:"Topic prefix shared with the simulator"`
	} `group:"Broker" namespace:"broker" env-namespace:"BROKER"`

	Twin struct {
		AssetID string `long:"asset-id" env:"ASSET_ID" default:"pump01" description:"Monitored asset id"`
	} `group:"Twin" namespace:"twin" env-namespace:"TWIN"`

	Store struct {
		History     int `long:"history" env:"HISTORY" default:"60" description:"Rolling history capacity"`
		FaultEvents int `long:"fault-events" env:"FAULT_EVENTS" default:"256" description:"Fault event log capacity"`
	} `group:"Store" namespace:"store" env-namespace:"STORE"`

	Chat struct {
		Turns    int `long:"turns" env:"TURNS" default:"20" description:"Transcript entries kept per session"`
		Sessions int `long:"sessions" env:"SESSIONS" default:"10000" description:"Live sessions before LRU eviction"`
	} `group:"Chat" namespace:"chat" env-namespace:"CHAT"`

	LLM struct {
		APIKey     string `long:"api-key" env:"API_KEY" required:"true" description:"Provider API key"`
		BaseURL    string `long:"base-url" env:"BASE_URL" description:"OpenAI-compatible endpoint override"`
		Model      string `long:"model" env:"MODEL" default:"gpt-4o-mini" description:"Chat completion model"`
		EmbedModel string `long:"embed-model" env:"EMBED_MODEL" default:"text-embedding-3-small" description:"Embedding model"`
	} `group:"LLM" namespace:"llm" env-namespace:"LLM"`

	Retrieval struct {
		Manual   string `long:"manual" env:"MANUAL" default:"pump_manual.pdf" description:"Reference manual PDF"`
		IndexDir string `long:"index-dir" env:"INDEX_DIR" default:"./index" description:"Persistent index directory"`
	} `group:"Retrieval" namespace:"retrieval" env-namespace:"RETRIEVAL"`

	Safety struct {
		VoltCriticalLow float64 `long:"volt-critical-low" env:"VOLT_CRITICAL_LOW" default:"180" description:"Severe undervoltage cutoff (volts)"`
		VoltWarningLow  float64 `long:"volt-warning-low" env:"VOLT_WARNING_LOW" default:"207" description:"Undervoltage warning boundary (volts)"`
	} `group:"Safety" namespace:"safety" env-namespace:"SAFETY"`

	API struct {
		Port int `long:"port" env:"PORT" default:"8000" description:"HTTP listen port"`
	} `group:"API" namespace:"api" env-namespace:"API"`

	Log logConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

type logConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"text" choice:"json" description:"Logging format"`
}

func initLog(cfg logConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if level, err := log.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
}

type cmdServe struct{}

func (cmdServe) Execute([]string) error {
	initLog(Config.Log)
	log.WithFields(log.Fields{
		"asset":  Config.Twin.AssetID,
		"broker": fmt.Sprintf("%s:%d", Config.Broker.Host, Config.Broker.Port),
	}).Info("starting volute-monitor")

	var ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var client, err = llm.NewClient(llm.Config{
		APIKey:     Config.LLM.APIKey,
		BaseURL:    Config.LLM.BaseURL,
		Model:      Config.LLM.Model,
		EmbedModel: Config.LLM.EmbedModel,
	})
	if err != nil {
		return fmt.Errorf("building llm client: %w", err)
	}

	index, err := retrieval.OpenOrBuild(ctx, retrieval.Config{
		Manual: Config.Retrieval.Manual,
		Dir:    Config.Retrieval.IndexDir,
	}, client)
	if err != nil {
		return fmt.Errorf("opening retrieval index: %w", err)
	}

	sessions, err := chat.NewSessions(Config.Chat.Sessions, Config.Chat.Turns)
	if err != nil {
		return fmt.Errorf("building chat sessions: %w", err)
	}

	var st = store.NewStore(Config.Store.History)
	var tracker = store.NewFaultTracker(Config.Store.FaultEvents)
	var limits = safety.Limits{
		VoltCriticalLow: Config.Safety.VoltCriticalLow,
		VoltWarningLow:  Config.Safety.VoltWarningLow,
	}
	var engine = diagnosis.NewEngine(limits, index, client)

	var br = bridge.New(bridge.Config{
		Host:      Config.Broker.Host,
		Port:      Config.Broker.Port,
		BaseTopic: Config.Broker.BaseTopic,
		AssetID:   Config.Twin.AssetID,
	}, st, tracker)
	if err := br.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer br.Stop()

	var server = &api.Server{
		AssetID:    Config.Twin.AssetID,
		Store:      st,
		Tracker:    tracker,
		Sessions:   sessions,
		Engine:     engine,
		Publisher:  br,
		RetryAfter: client.Cooldown(),
		Started:    time.Now(),
	}
	var httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", Config.API.Port),
		Handler: server.Routes(),
	}

	var group, groupCtx = errgroup.WithContext(ctx)
	group.Go(func() error {
		log.WithField("addr", httpServer.Addr).Info("serving API")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		st.WatchStaleness(groupCtx, 5*time.Second, 10*time.Second)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		var shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("monitor task failed: %w", err)
	}
	log.Info("goodbye")
	return nil
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve the pump monitor", `
Connect to the broker, ingest telemetry, and serve the REST and WebSocket
API until signaled to exit (via SIGTERM or SIGINT).
`, &cmdServe{})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
