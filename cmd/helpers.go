package cmd

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ziadkadry99/chattia/internal/budget"
	"github.com/ziadkadry99/chattia/internal/chain"
	"github.com/ziadkadry99/chattia/internal/config"
	"github.com/ziadkadry99/chattia/internal/corpus"
	"github.com/ziadkadry99/chattia/internal/db"
	"github.com/ziadkadry99/chattia/internal/escalate"
	"github.com/ziadkadry99/chattia/internal/llm"
	"github.com/ziadkadry99/chattia/internal/logging"
	"github.com/ziadkadry99/chattia/internal/metrics"
	"github.com/ziadkadry99/chattia/internal/ondevice"
	"github.com/ziadkadry99/chattia/internal/orchestrator"
	"github.com/ziadkadry99/chattia/internal/shield"
	"github.com/ziadkadry99/chattia/internal/turnlog"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `chattia init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs always go to stderr so stdout
// stays free for answers and MCP traffic.
func newLogger(cfg *config.Config) zerolog.Logger {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	return logging.New(level, os.Stderr)
}

// stack holds the components shared by the server, ask and serve commands.
type stack struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	corpus  corpus.Source
	ledger  *budget.Ledger
	chain   *chain.Chain
	turns   *turnlog.Store

	cache   *corpus.BoltCache
	closers []func() error
}

// newStack wires corpus, ledger, provider chain and turn log from cfg.
// m may be nil.
func newStack(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) (*stack, error) {
	s := &stack{cfg: cfg, logger: logger, metrics: m}

	if cfg.Corpus.URL != "" && cfg.Corpus.CacheDB != "" {
		cache, err := corpus.OpenBoltCache(cfg.Corpus.CacheDB)
		if err != nil {
			return nil, err
		}
		s.cache = cache
		s.closers = append(s.closers, cache.Close)
	}
	s.corpus = s.packSource(cfg.Corpus.URL)

	s.ledger = budget.NewLedger(budget.Limits{
		HardCap:         cfg.Budget.HardCap,
		ProviderSoftCap: cfg.Budget.ProviderSoftCap,
		WarnAt:          cfg.Budget.WarnAt,
	})

	s.chain = chain.New(buildProviders(cfg, logger), chain.Options{
		Window:  cfg.HistoryWindow,
		Logger:  logger,
		Metrics: m,
	})

	if cfg.LogDB != "" {
		database, err := db.Open(cfg.LogDB)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("opening turn log: %w", err)
		}
		s.closers = append(s.closers, database.Close)
		s.turns = turnlog.NewStore(database)
	}

	return s, nil
}

// packSource returns the source for a pack URL, or the local pack files when
// url is empty.
func (s *stack) packSource(url string) corpus.Source {
	if url == "" {
		return corpus.FileSource{Root: ".", Pattern: s.cfg.Corpus.Path}
	}
	opts := corpus.HTTPOptions{
		RevalidateAfter: s.cfg.Corpus.RevalidateAfter,
		Logger:          s.logger,
	}
	if url == s.cfg.Corpus.URL {
		opts.SHA256 = s.cfg.Corpus.SHA256
	}
	if s.cache != nil {
		opts.Cache = s.cache
	}
	return corpus.NewHTTPSource(url, opts)
}

// packResolver serves allow-listed per-request pack URLs, one source per URL.
func (s *stack) packResolver() func(url string) (corpus.Source, bool) {
	var mu sync.Mutex
	sources := map[string]corpus.Source{s.cfg.Corpus.URL: s.corpus}
	return func(url string) (corpus.Source, bool) {
		if !s.cfg.PackAllowed(url) {
			return nil, false
		}
		mu.Lock()
		defer mu.Unlock()
		src, ok := sources[url]
		if !ok {
			src = s.packSource(url)
			sources[url] = src
		}
		return src, true
	}
}

// inProcess returns an escalator running the provider chain in this process.
func (s *stack) inProcess(extractive bool) *escalate.InProcess {
	return escalate.NewInProcess(s.chain, escalate.InProcessOptions{
		Corpus:     s.corpus,
		Grounding:  s.cfg.Grounding,
		Extractive: extractive,
		Logger:     s.logger,
		Metrics:    s.metrics,
	})
}

// orchestrator builds the turn orchestrator around esc.
func (s *stack) orchestrator(esc escalate.Escalator) *orchestrator.Orchestrator {
	opts := orchestrator.Options{
		Corpus:     s.corpus,
		Ledger:     s.ledger,
		Escalator:  esc,
		Shield:     shield.Options{MaxLen: s.cfg.Shield.MaxLen, Threshold: s.cfg.Shield.Threshold},
		Confidence: s.cfg.Tier1.Confidence,
		Coverage:   s.cfg.Tier1.Coverage,
		Window:     s.cfg.HistoryWindow,
		Logger:     s.logger,
		Metrics:    s.metrics,
	}
	if s.turns != nil {
		opts.Log = s.turns
	}
	if s.cfg.OnDevice.Enabled {
		opts.OnDevice = ondevice.NewOllamaGenerator(s.cfg.OnDevice.BaseURL, s.cfg.OnDevice.Model, s.cfg.OnDevice.MaxTokens)
	}
	return orchestrator.New(opts)
}

// Close releases the turn log and pack cache.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn().Err(err).Msg("close_failed")
		}
	}
	s.closers = nil
}

// buildProviders creates the configured provider chain in order. Providers
// that cannot be created, usually for a missing API key, are left out.
func buildProviders(cfg *config.Config, logger zerolog.Logger) []llm.Provider {
	providers := make([]llm.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := llm.NewProvider(llm.Spec{
			Name:      pc.Name,
			Type:      string(pc.Type),
			Model:     pc.Model,
			BaseURL:   pc.BaseURL,
			APIKeyEnv: pc.APIKeyEnv,
			RPM:       pc.RPM,
		})
		if err != nil {
			logger.Warn().Err(err).Str("provider", pc.Name).Msg("provider_disabled")
			continue
		}
		providers = append(providers, p)
	}
	return providers
}
