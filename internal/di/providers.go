package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"SignalServe/internal/domain/repository"
	"SignalServe/internal/handler/api"
	"SignalServe/internal/handler/ws"
	internalrepo "SignalServe/internal/repository"
	"SignalServe/internal/usecase"
	"SignalServe/pkg/cache"
	pkgch "SignalServe/pkg/clickhouse"
	"SignalServe/pkg/config"
	xhttp "SignalServe/pkg/http"
	pkgkafka "SignalServe/pkg/kafka"
	applogger "SignalServe/pkg/logger"
	"SignalServe/pkg/metrics"
	"SignalServe/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the Prometheus registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.NewWithRegisterer(reg)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is
// disabled. When a collector topic is set the logger ships aggregated
// warnings through it.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithTopic(cfg.Kafka.Topic),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithBatching(0, 0, cfg.Kafka.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.WriteTimeout, 0),
		pkgkafka.WithAsync(cfg.Kafka.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Log.CollectorTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval: cfg.Log.CollectorFlush,
			Topic:        cfg.Log.CollectorTopic,
			Publisher:    producer,
		})
	}
	l.Info("kafka producer ready",
		applogger.Strings("brokers", cfg.Kafka.Brokers),
		applogger.String("topic", cfg.Kafka.Topic),
	)
	return producer, nil
}

// ProvideEventPublisher publishes command events to Kafka; nil when Kafka is
// disabled.
func ProvideEventPublisher(producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer)
}

// ProvideClickHouseClient connects to ClickHouse and creates the training-run
// table, or returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.TrainingRunsSchema(cfg.ClickHouse.Database, cfg.ClickHouse.Table)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse ready", applogger.String("database", cfg.ClickHouse.Database))
	return client, nil
}

// ProvideTrainingLog stores train_fit results in ClickHouse; nil when
// ClickHouse is disabled.
func ProvideTrainingLog(client *pkgch.Client, cfg *config.Config, l *applogger.Logger) repository.TrainingLog {
	if client == nil {
		return nil
	}
	return internalrepo.NewClickHouseTrainingLog(client.DB(), client.Database()+"."+cfg.ClickHouse.Table, l)
}

// ProvideCacheService creates the configured cache backend, or nil when
// caching is disabled.
func ProvideCacheService(cfg *config.Config) (cache.Service, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	switch cfg.Cache.Backend {
	case "redis":
		rc, err := cache.NewRedisCache(
			cache.WithRedisAddr(cfg.Cache.Redis.Addr),
			cache.WithRedisPassword(cfg.Cache.Redis.Password),
			cache.WithRedisDB(cfg.Cache.Redis.DB),
			cache.WithRedisPrefix(cfg.Cache.Redis.Prefix),
		)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return rc, nil
	default:
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MaxSize)), nil
	}
}

// ProvidePredictionCache memoizes predict results; nil when caching is
// disabled.
func ProvidePredictionCache(svc cache.Service, cfg *config.Config, l *applogger.Logger) repository.PredictionCache {
	if svc == nil {
		return nil
	}
	return internalrepo.NewCachedPredictions(svc, cfg.Cache.TTL, l)
}

// ProvideModelRuntime creates the network runtime.
func ProvideModelRuntime(cfg *config.Config) repository.ModelRuntime {
	return internalrepo.NewNNRuntime(cfg.Model)
}

// ProvideTableLoader creates the CSV table loader.
func ProvideTableLoader() repository.TableLoader {
	return internalrepo.NewCSVTableLoader()
}

// ProvideDispatcher creates the command dispatcher. Nil optional backends are
// skipped by the options.
func ProvideDispatcher(
	runtime repository.ModelRuntime,
	tables repository.TableLoader,
	events repository.EventPublisher,
	runs repository.TrainingLog,
	predictions repository.PredictionCache,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Dispatcher {
	return usecase.NewDispatcher(runtime, tables,
		usecase.WithEvents(events),
		usecase.WithTrainingLog(runs),
		usecase.WithCache(predictions),
		usecase.WithMetrics(m),
		usecase.WithLogger(l),
	)
}

// ProvideWorker creates the worker that owns the dispatcher.
func ProvideWorker(d *usecase.Dispatcher, cfg *config.Config, l *applogger.Logger) *usecase.Worker {
	return usecase.NewWorker(d, cfg.Worker.QueueSize, l)
}

// ProvideWSHandler creates the WebSocket endpoint.
func ProvideWSHandler(w *usecase.Worker, cfg *config.Config, m repository.Metrics, l *applogger.Logger) *ws.Handler {
	return ws.NewHandler(w, ws.Config{
		ReadLimit:      cfg.WebSocket.ReadLimit,
		PongWait:       cfg.WebSocket.PongWait,
		WriteWait:      cfg.WebSocket.WriteWait,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, m, l)
}

// ProvideAPIHandler creates the HTTP state and command endpoints.
func ProvideAPIHandler(w *usecase.Worker, runs repository.TrainingLog, cfg *config.Config, l *applogger.Logger) *api.StateEchoHandler {
	return api.NewStateEchoHandler(l, w, runs, cfg.WebSocket.CommandRPS)
}

// ProvideHTTPServer creates the Echo server hosting every handler.
func ProvideHTTPServer(
	cfg *config.Config,
	wsHandler *ws.Handler,
	apiHandler *api.StateEchoHandler,
	reg *prometheus.Registry,
	l *applogger.Logger,
) *xhttp.Server {
	return xhttp.NewServer(
		[]xhttp.Handler{wsHandler, apiHandler},
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		xhttp.WithLogger(l),
		xhttp.WithPrometheus(reg, reg),
	)
}

// ProvideApp assembles the application. Closers run after the worker has
// stopped, log collector first so its final flush still has a producer.
func ProvideApp(
	cfg *config.Config,
	w *usecase.Worker,
	srv *xhttp.Server,
	wsHandler *ws.Handler,
	events repository.EventPublisher,
	chClient *pkgch.Client,
	cacheSvc cache.Service,
	l *applogger.Logger,
) *server.App {
	closers := []server.Closer{{
		Name:  "log collector",
		Close: func() error {
			l.RemoveCollector()
			return nil
		},
	}}
	if events != nil {
		closers = append(closers, server.Closer{Name: "kafka", Close: events.Close})
	}
	if chClient != nil {
		closers = append(closers, server.Closer{Name: "clickhouse", Close: chClient.Close})
	}
	if cacheSvc != nil {
		closers = append(closers, server.Closer{Name: "cache", Close: cacheSvc.Close})
	}
	return server.New(w, srv, wsHandler, cfg.Server.ShutdownTimeout, l, closers...)
}
