package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/sealchat/metrics"
	"github.com/gosuda/sealchat/metrics/prom"
	"github.com/gosuda/sealchat/server"
	"github.com/gosuda/sealchat/store/pebblestore"
)

var rootCmd = &cobra.Command{
	Use:   "sealchat-server",
	Short: "Encrypted TCP chat server with durable accounts and offline message storage",
	RunE:  runServer,
}

var (
	flagHost        string
	flagPort        int
	flagDatabase    string
	flagLogLevel    string
	flagMetricsAddr string
	flagAcceptRate  int64
	flagAcceptBurst int64
)

func init() {
	// server.env is optional; real environment variables win over it.
	_ = godotenv.Load("server.env")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagHost, "host", envOrDefault("SERVER_HOST", server.DefaultHost), "listen host (env: SERVER_HOST)")
	flags.IntVar(&flagPort, "port", envIntOrDefault("SERVER_PORT", server.DefaultPort), "listen port (env: SERVER_PORT)")
	flags.StringVar(&flagDatabase, "database", envOrDefault("DATABASE_PATH", "./sealchat_data"), "account database directory (env: DATABASE_PATH)")
	flags.StringVar(&flagLogLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "log level: trace/debug/info/warn/error (env: LOG_LEVEL)")
	flags.StringVar(&flagMetricsAddr, "metrics-addr", os.Getenv("METRICS_ADDR"), "debug HTTP address for /healthz and /metrics; empty disables (env: METRICS_ADDR)")
	flags.Int64Var(&flagAcceptRate, "accept-rate", server.DefaultAcceptRate, "per-IP connections per second; 0 disables throttling")
	flags.Int64Var(&flagAcceptBurst, "accept-burst", server.DefaultAcceptBurst, "per-IP connection burst")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute root command")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", flagLogLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accounts, err := pebblestore.Open(flagDatabase)
	if err != nil {
		return fmt.Errorf("open account store: %w", err)
	}
	// Closed last, after every session goroutine has drained.
	defer func() {
		if err := accounts.Close(); err != nil {
			log.Error().Err(err).Msg("[server] account store close error")
		}
	}()

	var obs metrics.Observer = metrics.NopObserver
	var metricsHandler http.Handler
	if flagMetricsAddr != "" {
		reg := prom.NewRegistry()
		obs = prom.New(reg)
		metricsHandler = prom.Handler(reg)
	}

	srv, err := server.New(server.Config{
		Host:        flagHost,
		Port:        flagPort,
		AcceptRate:  flagAcceptRate,
		AcceptBurst: flagAcceptBurst,
	}, accounts, obs)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if flagMetricsAddr != "" {
		mux := chi.NewRouter()
		mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle("/metrics", metricsHandler)

		httpSrv := &http.Server{Addr: flagMetricsAddr, Handler: mux}
		g.Go(func() error {
			log.Info().Str("addr", flagMetricsAddr).Msg("[server] debug http listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Info().Msg("[server] shutdown complete")
	return err
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envIntOrDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
