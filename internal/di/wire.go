//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"RiskPull/pkg/config"
	"RiskPull/pkg/queue"
	"RiskPull/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config, mode queue.QueueMode) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideArtifactStore,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideCache,
		ProvideHTTPClient,
		ProvideKafkaProducer,
		ProvideClickHouseClient,

		// Repositories and sinks
		ProvideHistoryStore,
		ProvideSnapshotPublisher,
		ProvideSinkProcessor,

		// Domain services
		ProvideProfiles,
		ProvideAssembler,
		ProvideReportJob,
		ProvideQueue,
		ProvideReportBatch,
		ProvideEngine,
		ProvideOptimizer,
		ProvideWalkForward,
		ProvideHVBuilder,
		ProvideChecker,

		// Use cases and surfaces
		ProvidePipeline,
		ProvideScheduler,
		ProvideHandler,
		ProvideApp,
	)
	return nil, nil, nil
}
