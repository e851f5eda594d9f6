package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	mmate "github.com/glimte/mmate-consumer"
	"github.com/glimte/mmate-consumer/config"
	"github.com/glimte/mmate-consumer/health"
	"github.com/glimte/mmate-consumer/interceptors"
	"github.com/glimte/mmate-consumer/messaging"
	"github.com/glimte/mmate-consumer/monitor"
	"github.com/glimte/mmate-consumer/serialization"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// OrderCreated is the event consumed from the orders exchange
type OrderCreated struct {
	OrderID    string  `json:"orderId"`
	CustomerID string  `json:"customerId"`
	Amount     float64 `json:"amount"`
}

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "mmate-consumer",
		Short: "Consume order events from RabbitMQ",
		Long: `mmate-consumer declares the configured exchange and queue, consumes
OrderCreated events with at-least-once delivery and exposes health and
Prometheus endpoints.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Missing env files are fine; the environment may already be set.
			_ = godotenv.Load(envFile)

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env.local", "Environment file loaded before reading configuration")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := cfg.Logger.New(os.Stdout)
	slog.SetDefault(logger)

	metrics, err := monitor.NewPrometheusCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	if cfg.Tracing.Enabled {
		provider := sdktrace.NewTracerProvider()
		defer provider.Shutdown(context.Background())
		otel.SetTracerProvider(provider)
		otel.SetTextMapPropagator(propagation.TraceContext{})
	}

	subscription, err := cfg.Subscription.SubscriptionConfig()
	if err != nil {
		return err
	}
	options, err := cfg.Subscription.Options()
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.AMQP.ConnectTimeout)
	client, err := mmate.NewClient(connectCtx, cfg.AMQP.URL,
		mmate.WithLogger(logger),
		mmate.WithMetrics(metrics),
		mmate.WithConnectTimeout(cfg.AMQP.ConnectTimeout),
	)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	chain := interceptors.NewChain[OrderCreated](
		interceptors.NewLoggingInterceptor[OrderCreated](logger),
		interceptors.NewDeduplicationInterceptor[OrderCreated](interceptors.NewMemoryDuplicateDetector(10*time.Minute), logger),
		interceptors.NewRetryInterceptor[OrderCreated](interceptors.NewExponentialBackoff(100*time.Millisecond, 2*time.Second, 2, 3), logger),
	)
	if cfg.Tracing.Enabled {
		chain.Add(interceptors.NewTracingInterceptor[OrderCreated]())
	}

	sub, err := mmate.Subscribe(client, subscription,
		serialization.NewJSONDeserializer[OrderCreated](),
		chain.Then(handleOrderCreated(logger)),
		options...,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	logger.Info("subscribed", "queue", sub.Queue(), "consumerTag", sub.ConsumerTag())

	registry := health.NewRegistry()
	registry.Register(client.HealthCheckers()...)
	registry.Register(health.NewGoroutineChecker(1000, 10000))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health.NewHandler(registry, 5*time.Second))
	mux.Handle("/livez", health.LivenessHandler())

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		logger.Error("http server failed", "error", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}

	// Drains in-flight deliveries before the connection goes away.
	return client.Close()
}

func handleOrderCreated(logger *slog.Logger) messaging.HandlerFunc[OrderCreated] {
	return func(ctx context.Context, order OrderCreated, meta messaging.Metadata) (messaging.Verdict, error) {
		if order.OrderID == "" {
			logger.Warn("order without id declined", "deliveryTag", meta.DeliveryTag)
			return messaging.VerdictDecline, nil
		}
		logger.Info("order created",
			"orderId", order.OrderID,
			"customerId", order.CustomerID,
			"amount", order.Amount,
			"redelivered", meta.Redelivered,
		)
		return messaging.VerdictSuccess, nil
	}
}
