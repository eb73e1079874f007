//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"QuantPull/pkg/config"
	"QuantPull/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation in wire_gen.go.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,
		ProvideMarketCache,

		// infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisClient,

		// collaborators
		ProvideMarketData,
		ProvideTradeStream,
		ProvideBarArchive,
		ProvideDecisionPublisher,
		ProvideSnapshotMirror,

		// use cases
		ProvideDataManager,
		ProvideSignalEngine,
		ProvideRiskManager,
		ProvideStrategyController,
		ProvideBackfiller,
		ProvideDecisionArchiver,

		// surfaces
		ProvideBytesCache,
		ProvideHTTPHandler,
		ProvideApp,
	)
	return nil, nil
}
