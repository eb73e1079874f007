package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	domrepo "QuantPull/internal/domain/repository"
	"QuantPull/internal/handler/api"
	internalrepo "QuantPull/internal/repository"
	"QuantPull/internal/service/alpaca"
	icache "QuantPull/internal/service/cache"
	"QuantPull/internal/service/marketcache"
	"QuantPull/internal/usecase"
	pkgch "QuantPull/pkg/clickhouse"
	"QuantPull/pkg/config"
	xhttp "QuantPull/pkg/http"
	pkgkafka "QuantPull/pkg/kafka"
	"QuantPull/pkg/logger"
	"QuantPull/pkg/metrics"
	"QuantPull/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideMarketCache creates the shared market-data cache sized to the
// strategy's history requirement.
func ProvideMarketCache(cfg *config.Config) *marketcache.Cache {
	return marketcache.New(cfg.Strategy.HistorySize)
}

// ProvideMarketData creates the Alpaca REST client.
func ProvideMarketData(cfg *config.Config) domrepo.MarketData {
	return alpaca.NewClient(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.SecretKey,
		cfg.Alpaca.DataBaseURL,
		cfg.Alpaca.TradingBaseURL,
		cfg.Alpaca.RequestTimeout,
		cfg.Alpaca.RequestsPerSec,
	)
}

// ProvideTradeStream creates the websocket trade stream, or nil when
// streaming is disabled.
func ProvideTradeStream(cfg *config.Config, log *logger.Logger, m domrepo.Metrics) domrepo.TradeStream {
	if !cfg.Stream.Enabled {
		return nil
	}
	return alpaca.NewStream(alpaca.StreamConfig{
		APIKey:        cfg.Alpaca.APIKey,
		SecretKey:     cfg.Alpaca.SecretKey,
		URL:           cfg.Alpaca.StreamURL,
		Symbols:       cfg.Alpaca.Symbols,
		MaxReconnects: cfg.Alpaca.MaxReconnects,
		BackoffMin:    cfg.Alpaca.BackoffMin,
		BackoffMax:    cfg.Alpaca.BackoffMax,
		PingInterval:  cfg.Alpaca.PingInterval,
	}, log, m)
}

// ProvideClickHouseClient creates the ClickHouse client, or nil when the
// archive is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideBarArchive creates the ClickHouse bar archive, or nil without a
// ClickHouse client.
func ProvideBarArchive(ch *pkgch.Client) (*internalrepo.ClickHouseBarArchive, error) {
	if ch == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	archive, err := internalrepo.NewClickHouseBarArchive(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("bar archive: %w", err)
	}
	return archive, nil
}

// ProvideKafkaProducer creates the Kafka producer, or nil when Kafka is
// disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideDecisionPublisher wraps the producer as the execution publisher.
func ProvideDecisionPublisher(producer *pkgkafka.Producer, cfg *config.Config) domrepo.DecisionPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaDecisionPublisher(producer, cfg.Kafka.SignalsTopic, cfg.Kafka.DecisionsTopic)
}

// ProvideKafkaConsumer creates the audit consumer, or nil when disabled.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.HookFuncs{
			Before: func(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
				ctx = pkgkafka.WithStartTime(ctx, time.Now())
				ctx = pkgkafka.WithTraceID(ctx, pkgkafka.ExtractTraceID(km))
				return ctx, km, data, nil
			},
			Err: func(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
				log.Warn("audit message failed",
					logger.String("topic", topic),
					logger.Int64("offset", km.Offset),
					logger.Error(err),
				)
			},
		},
	))
	return consumer, nil
}

// ProvideDecisionArchiver creates the decisions-topic audit handler, or nil
// when there is no archive to land decisions in.
func ProvideDecisionArchiver(archive *internalrepo.ClickHouseBarArchive, m domrepo.Metrics, cfg *config.Config) *usecase.DecisionArchiver {
	if archive == nil {
		return nil
	}
	return usecase.NewDecisionArchiver(cfg.Kafka.DecisionsTopic, archive, m)
}

// ProvideRedisClient creates the Redis client, or nil when the mirror is
// disabled.
func ProvideRedisClient(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// ProvideSnapshotMirror wraps the Redis client as the snapshot mirror.
func ProvideSnapshotMirror(rdb *redis.Client, cfg *config.Config) domrepo.SnapshotMirror {
	if rdb == nil {
		return nil
	}
	return internalrepo.NewRedisSnapshotMirror(rdb, internalrepo.WithSignalTTL(cfg.Redis.TTL))
}

// ProvideDataManager wires the ingestion side.
func ProvideDataManager(
	cfg *config.Config,
	provider domrepo.MarketData,
	stream domrepo.TradeStream,
	cache *marketcache.Cache,
	mirror domrepo.SnapshotMirror,
	log *logger.Logger,
	m domrepo.Metrics,
) *usecase.DataManager {
	return usecase.NewDataManager(usecase.DataManagerConfig{
		Symbols:           cfg.Alpaca.Symbols,
		BarInterval:       cfg.Pollers.Bars.Interval,
		OrderBookInterval: cfg.Pollers.OrderBooks.Interval,
		PollBars:          cfg.Pollers.Bars.Enabled,
		PollOrderBooks:    cfg.Pollers.OrderBooks.Enabled,
		StreamTrades:      cfg.Stream.Enabled,
	}, provider, stream, cache, mirror, log, m)
}

// ProvideSignalEngine wires the indicator configuration.
func ProvideSignalEngine(cfg *config.Config, log *logger.Logger, m domrepo.Metrics) *usecase.SignalEngine {
	return usecase.NewSignalEngine(usecase.SignalEngineConfig{
		ShortWindow:     cfg.Strategy.ShortWindow,
		LongWindow:      cfg.Strategy.LongWindow,
		SignalThreshold: cfg.Strategy.SignalThreshold,
		VolCeiling:      cfg.Strategy.VolCeiling,
		VolReference:    cfg.Strategy.VolReference,
		WeightCrossover: cfg.Strategy.Weights.Crossover,
		WeightImbalance: cfg.Strategy.Weights.Imbalance,
		WeightVol:       cfg.Strategy.Weights.Volatility,
	}, log, m)
}

// ProvideRiskManager wires the risk settings. Invalid ratios abort startup.
func ProvideRiskManager(cfg *config.Config, log *logger.Logger, m domrepo.Metrics) (*usecase.RiskManager, error) {
	return usecase.NewRiskManager(usecase.RiskManagerConfig{
		RiskTolerance:   cfg.Strategy.RiskTolerance,
		TakeProfitRatio: cfg.Strategy.TakeProfitRatio,
		StopLossRatio:   cfg.Strategy.StopLossRatio,
		Equity:          cfg.Strategy.Equity,
	}, log, m)
}

// ProvideStrategyController wires the decision loop.
func ProvideStrategyController(
	cfg *config.Config,
	data *usecase.DataManager,
	engine *usecase.SignalEngine,
	risk *usecase.RiskManager,
	publisher domrepo.DecisionPublisher,
	mirror domrepo.SnapshotMirror,
	log *logger.Logger,
	m domrepo.Metrics,
) *usecase.StrategyController {
	return usecase.NewStrategyController(usecase.StrategyControllerConfig{
		Symbols:      cfg.Alpaca.Symbols,
		TickInterval: cfg.Strategy.TickInterval,
		HistorySize:  cfg.Strategy.HistorySize,
	}, data, engine, risk, publisher, mirror, log, m)
}

// ProvideBackfiller wires the historical warm-up, or nil when disabled.
func ProvideBackfiller(
	cfg *config.Config,
	provider domrepo.MarketData,
	archive *internalrepo.ClickHouseBarArchive,
	cache *marketcache.Cache,
	log *logger.Logger,
	m domrepo.Metrics,
) *usecase.Backfiller {
	if !cfg.Backfill.Enabled {
		return nil
	}
	var barArchive domrepo.BarArchive
	if archive != nil {
		barArchive = archive
	}
	return usecase.NewBackfiller(usecase.BackfillConfig{
		Symbols:   cfg.Alpaca.Symbols,
		Timeframe: domrepo.NormalizeTimeframe(cfg.Backfill.Timeframe),
		Lookback:  cfg.Backfill.Lookback,
		SeedSize:  cfg.Strategy.HistorySize,
	}, provider, barArchive, cache, log, m)
}

// ProvideBytesCache picks the response-cache backend: the shared Redis client
// when the mirror is enabled, in-process TTL cache otherwise.
func ProvideBytesCache(rdb *redis.Client) icache.BytesCache {
	if rdb != nil {
		return icache.NewRedisCache(rdb)
	}
	return icache.NewTTLCache()
}

// ProvideHTTPHandler wires the observability API.
func ProvideHTTPHandler(
	cfg *config.Config,
	data *usecase.DataManager,
	engine *usecase.SignalEngine,
	provider domrepo.MarketData,
	archive *internalrepo.ClickHouseBarArchive,
	bytesCache icache.BytesCache,
	log *logger.Logger,
) xhttp.Handler {
	var barArchive domrepo.BarArchive
	if archive != nil {
		barArchive = archive
	}
	return api.NewMarketHandler(data, engine, provider, barArchive, cfg.Alpaca.Symbols, bytesCache, log)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	controller *usecase.StrategyController,
	backfiller *usecase.Backfiller,
	consumer *pkgkafka.Consumer,
	archiver *usecase.DecisionArchiver,
	handler xhttp.Handler,
	publisher domrepo.DecisionPublisher,
	mirror domrepo.SnapshotMirror,
	archive *internalrepo.ClickHouseBarArchive,
) *server.App {
	var barArchive domrepo.BarArchive
	if archive != nil {
		barArchive = archive
	}
	var auditHandler pkgkafka.MessageHandler
	if archiver != nil {
		auditHandler = archiver
	}
	return server.New(cfg, log, controller, backfiller, consumer, auditHandler, handler, publisher, mirror, barArchive)
}
