package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kalambet/chatcommerce/internal/api"
	"github.com/kalambet/chatcommerce/internal/cache"
	"github.com/kalambet/chatcommerce/internal/chat"
	"github.com/kalambet/chatcommerce/internal/config"
	"github.com/kalambet/chatcommerce/internal/extract"
	"github.com/kalambet/chatcommerce/internal/llm"
	"github.com/kalambet/chatcommerce/internal/persist"
	"github.com/kalambet/chatcommerce/internal/retry"
	"github.com/kalambet/chatcommerce/internal/storage"
	"github.com/kalambet/chatcommerce/internal/tools"
	"github.com/kalambet/chatcommerce/internal/validator"
	"github.com/kalambet/chatcommerce/internal/web"
)

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// buildWeb assembles the validated, cached fetch layer.
func buildWeb(cfg config.Config) (*web.Service, error) {
	valid, err := validator.Load(cfg.Validator.RulesFile)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	searcher := web.NewTavily(cfg.Search.APIKey, cfg.Search.BaseURL, httpClient)

	var reader web.Reader
	if cfg.Reader.Provider == "direct" {
		reader = web.NewDirect(httpClient)
	} else {
		reader = web.NewJina(cfg.Reader.APIKey, cfg.Reader.BaseURL, httpClient)
	}

	if cfg.Search.APIKey == "" {
		slog.Warn("TAVILY_API_KEY not set; web search returns no results")
	}

	return web.NewService(
		searcher,
		reader,
		valid,
		cache.New[[]web.SearchResult](cfg.Cache.MaxEntries),
		cache.New[string](cfg.Cache.MaxEntries),
		retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.Retry.BaseDelay},
		web.Options{
			SearchTTL:     cfg.Search.TTL,
			PageTTL:       cfg.Reader.TTL,
			SearchTimeout: cfg.Search.Timeout,
			ReadTimeout:   cfg.Reader.Timeout,
			MaxChars:      cfg.Reader.MaxChars,
			MaxResults:    cfg.Search.MaxResults,
		},
	), nil
}

// app is the fully wired service graph shared by start and mcp.
type app struct {
	store     *storage.Store
	pg        *storage.PG
	sink      persist.RecordSink
	records   api.RecordLister
	web       *web.Service
	extractor *extract.Extractor
	queue     *persist.Queue
	registry  *tools.Registry
	chat      *chat.Orchestrator
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{store: store, sink: store, records: store}

	if cfg.Storage.DatabaseURL != "" {
		pg, err := storage.OpenPG(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		a.pg = pg
		a.sink = pg
		a.records = pg
		slog.Info("records are written to postgres")
	}

	a.web, err = buildWeb(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	model := llm.New(llm.Options{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		MaxRetries: 2,
	})
	if !model.Configured() {
		slog.Warn("OPENAI_API_KEY not set; chat answers with an apology and extraction returns no products")
	}

	a.extractor = extract.New(
		model,
		a.web,
		a.web.Validator(),
		cache.New[[]extract.Product](cfg.Cache.MaxEntries),
		cfg.Reader.TTL,
		cfg.LLM.ExtractModel,
	)
	a.queue = persist.NewQueue(store)
	a.registry = tools.New(a.web, a.web, a.extractor, a.queue)

	var markets []string
	for _, m := range a.web.Validator().Marketplaces() {
		markets = append(markets, m.Name)
	}
	a.chat = chat.New(model, a.registry, a.queue, chat.Options{
		KeepFirst:    cfg.Chat.KeepFirst,
		KeepRecent:   cfg.Chat.KeepRecent,
		MaxSteps:     cfg.Chat.MaxSteps,
		TurnTimeout:  cfg.Chat.TurnTimeout,
		LeadFlow:     cfg.Chat.LeadFlow,
		Marketplaces: markets,
	})
	return a, nil
}

// staleJobAge is how long a job may sit in running before startup hands it
// back to the queue. It is long enough not to steal from another live process
// sharing the data directory.
const staleJobAge = 10 * time.Minute

// recoverJobs requeues jobs a crashed process left running.
func (a *app) recoverJobs() {
	n, err := a.store.ResetStaleJobs(staleJobAge)
	if err != nil {
		slog.Warn("could not requeue stale jobs", "error", err)
		return
	}
	if n > 0 {
		slog.Info("requeued stale jobs", "count", n)
	}
}

func (a *app) close() {
	if a.pg != nil {
		a.pg.Close()
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}
