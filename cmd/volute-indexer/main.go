package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/hydrasense/volute/llm"
	"github.com/hydrasense/volute/retrieval"
)

// Config is the top-level configuration object of the offline indexer.
var Config = new(struct {
	LLM struct {
		APIKey     string `long:"api-key" env:"API_KEY" required:"true" description:"Provider API key"`
		BaseURL    string `long:"base-url" env:"BASE_URL" description:"OpenAI-compatible endpoint override"`
		EmbedModel string `long:"embed-model" env:"EMBED_MODEL" default:"text-embedding-3-small" description:"Embedding model"`
	} `group:"LLM" namespace:"llm" env-namespace:"LLM"`

	Retrieval struct {
		Manual   string `long:"manual" env:"MANUAL" default:"pump_manual.pdf" description:"Reference manual PDF"`
		IndexDir string `long:"index-dir" env:"INDEX_DIR" default:"./index" description:"Persistent index directory"`
	} `group:"Retrieval" namespace:"retrieval" env-namespace:"RETRIEVAL"`

	Log struct {
		Level string `long:"level" env:"LEVEL" default:"info" description:"Logging level"`
	} `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

type cmdBuild struct {
	Rebuild bool `long:"rebuild" description:"Discard any existing index and re-embed the manual"`
}

func (cmd cmdBuild) Execute([]string) error {
	if level, err := log.ParseLevel(Config.Log.Level); err == nil {
		log.SetLevel(level)
	}

	var ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var client, err = llm.NewClient(llm.Config{
		APIKey:     Config.LLM.APIKey,
		BaseURL:    Config.LLM.BaseURL,
		EmbedModel: Config.LLM.EmbedModel,
	})
	if err != nil {
		return fmt.Errorf("building llm client: %w", err)
	}

	var cfg = retrieval.Config{
		Manual: Config.Retrieval.Manual,
		Dir:    Config.Retrieval.IndexDir,
	}

	var index *retrieval.Index
	if cmd.Rebuild {
		index, err = retrieval.Build(ctx, cfg, client)
	} else {
		index, err = retrieval.OpenOrBuild(ctx, cfg, client)
	}
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}

	log.WithFields(log.Fields{
		"dir":    Config.Retrieval.IndexDir,
		"chunks": index.Len(),
	}).Info("index ready")
	return nil
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("build", "Build the retrieval index", `
Extract the reference manual, chunk and embed it, and persist the
retrieval index for the monitor to load.
`, &cmdBuild{})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
