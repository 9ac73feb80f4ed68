package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/chattia/internal/config"
	"github.com/ziadkadry99/chattia/internal/gate"
	"github.com/ziadkadry99/chattia/internal/metrics"
	"github.com/ziadkadry99/chattia/internal/orchestrator"
	"github.com/ziadkadry99/chattia/internal/server"
)

var serverAddr string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the chat API server",
	Long: `Starts the HTTP API: /api/chat streams answers from the provider chain as
server-sent events, /api/ws runs full tiered turns over a websocket under the
same gate, /api/insights is served when server.admin_token is set, and
/metrics exposes Prometheus counters.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serverAddr != "" {
			cfg.Server.Addr = serverAddr
		}
		logger := newLogger(cfg)

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(reg)

		st, err := newStack(cfg, logger, m)
		if err != nil {
			return err
		}
		defer st.Close()

		g := gate.New(gate.Options{
			AllowedOrigin: cfg.Server.AllowedOrigin,
			MaxBodyBytes:  cfg.Server.MaxBodyBytes,
			Limiter:       newRateLimiter(cfg),
			Logger:        logger,
			Metrics:       m,
		})

		srv := server.New(server.Options{
			Gate:           g,
			Escalator:      st.inProcess(cfg.Server.Extractive),
			Ledger:         st.ledger,
			Corpus:         st.corpus,
			Packs:          st.packResolver(),
			Orchestrator:   st.orchestrator(st.inProcess(false)),
			Turns:          st.turns,
			TurnLog:        turnLogger(st),
			AdminToken:     cfg.Server.AdminToken,
			MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			Metrics:        m,
			Logger:         logger,
		})

		// Graceful shutdown.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			logger.Info().Msg("shutting_down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		fmt.Fprintf(os.Stderr, "chattia server %s starting on %s\n", Version, cfg.Server.Addr)
		fmt.Fprintf(os.Stderr, "  Providers: %v\n", st.chain.Providers())
		if cfg.Corpus.URL != "" {
			fmt.Fprintf(os.Stderr, "  Pack: %s\n", cfg.Corpus.URL)
		} else {
			fmt.Fprintf(os.Stderr, "  Pack files: %s\n", cfg.Corpus.Path)
		}
		if cfg.LogDB != "" {
			fmt.Fprintf(os.Stderr, "  Turn log: %s\n", cfg.LogDB)
		}

		if err := srv.Start(cfg.Server.Addr); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

// newRateLimiter returns the in-memory limiter, backed by Redis when a
// redis_addr is configured.
func newRateLimiter(cfg *config.Config) gate.RateLimiter {
	limit := cfg.Server.RateLimitPerMinute
	if limit <= 0 {
		limit = gate.DefaultRatePerMin
	}
	mem := gate.NewMemoryLimiter(limit, gate.RateWindow)
	if cfg.Server.RedisAddr == "" {
		return mem
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Server.RedisAddr})
	return gate.FallbackLimiter{
		Primary:   gate.NewRedisLimiter(client, limit, gate.RateWindow),
		Secondary: mem,
	}
}

func turnLogger(st *stack) orchestrator.TurnLogger {
	if st.turns == nil {
		return nil
	}
	return st.turns
}

func init() {
	serverCmd.Flags().StringVar(&serverAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serverCmd)
}
