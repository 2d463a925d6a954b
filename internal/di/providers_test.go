package di

import (
	"testing"

	"SignalServe/pkg/cache"
	"SignalServe/pkg/config"
)

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Log.Output = "stderr"
	return cfg
}

func TestInitializeAppWithoutOptionalBackends(t *testing.T) {
	app, err := InitializeApp(defaultConfig(t))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if app == nil {
		t.Fatalf("nil app")
	}
}

func TestOptionalProvidersDisabled(t *testing.T) {
	cfg := defaultConfig(t)
	l, err := ProvideLogger(cfg)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	if p, err := ProvideKafkaProducer(cfg, l); err != nil || p != nil {
		t.Fatalf("kafka: %v %v", p, err)
	}
	if ev := ProvideEventPublisher(nil); ev != nil {
		t.Fatalf("expected nil publisher")
	}
	if c, err := ProvideClickHouseClient(cfg, l); err != nil || c != nil {
		t.Fatalf("clickhouse: %v %v", c, err)
	}
	if runs := ProvideTrainingLog(nil, cfg, l); runs != nil {
		t.Fatalf("expected nil training log")
	}
	if svc, err := ProvideCacheService(cfg); err != nil || svc != nil {
		t.Fatalf("cache: %v %v", svc, err)
	}
	if pc := ProvidePredictionCache(nil, cfg, l); pc != nil {
		t.Fatalf("expected nil prediction cache")
	}
}

func TestProvideMemoryCache(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Cache.Enabled = true
	svc, err := ProvideCacheService(cfg)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	defer svc.Close()
	if _, ok := svc.(*cache.MemoryCache); !ok {
		t.Fatalf("expected memory cache, got %T", svc)
	}
	l, _ := ProvideLogger(cfg)
	if ProvidePredictionCache(svc, cfg, l) == nil {
		t.Fatalf("expected prediction cache")
	}
}
