//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"SignalServe/pkg/config"
	"SignalServe/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Optional infrastructure
		ProvideKafkaProducer,
		ProvideEventPublisher,
		ProvideClickHouseClient,
		ProvideTrainingLog,
		ProvideCacheService,
		ProvidePredictionCache,

		// Models and data
		ProvideModelRuntime,
		ProvideTableLoader,

		// Use cases
		ProvideDispatcher,
		ProvideWorker,

		// Transport
		ProvideWSHandler,
		ProvideAPIHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return &server.App{}, nil
}
