package di

import (
	"context"
	"fmt"
	"time"


	"RiskPull/internal/backtest"
	drepo "RiskPull/internal/domain/repository"
	"RiskPull/internal/handler/api"
	"RiskPull/internal/integrity"
	"RiskPull/internal/report"
	internalrepo "RiskPull/internal/repository"
	"RiskPull/internal/riskindex"
	"RiskPull/internal/service/finnhub"
	"RiskPull/internal/service/ratelimit"
	"RiskPull/internal/service/scheduler"
	"RiskPull/internal/usecase"
	"RiskPull/internal/volatility"
	"RiskPull/pkg/cache"
	pkgch "RiskPull/pkg/clickhouse"
	"RiskPull/pkg/config"
	pkghttp "RiskPull/pkg/http"
	pkgkafka "RiskPull/pkg/kafka"
	applogger "RiskPull/pkg/logger"
	"RiskPull/pkg/metrics"
	"RiskPull/pkg/queue"
	"RiskPull/pkg/server"
)

// ProvideLogger builds the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

func ProvideArtifactStore(cfg *config.Config) *internalrepo.ArtifactStore {
	return internalrepo.NewArtifactStore(cfg.Paths)
}

// ProvideRedisCache connects to Redis when enabled; otherwise it returns nil.
// Its client is shared with the report queue.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, err
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideCache layers an in-memory L1 over Redis when available, else over
// the SQLite file cache. Without either it is memory only.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache, log *applogger.Logger) (cache.Service, func()) {
	if rc != nil {
		lc := cache.NewLayeredCache(rc, cache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize))
		return lc, func() { _ = lc.Close() }
	}
	sq, err := cache.NewSQLiteCache(cfg.Paths.CacheDBPath())
	if err != nil {
		log.Warn("sqlite cache unavailable, using memory", applogger.String("path", cfg.Paths.CacheDBPath()), applogger.Error(err))
		mc := cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize),
			cache.WithMemoryCleanup(cfg.Cache.CleanupInterval),
		)
		return mc, func() { _ = mc.Close() }
	}
	lc := cache.NewLayeredCache(sq, cache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize))
	return lc, func() { _ = lc.Close() }
}

// ProvideHTTPClient is the shared outbound client; every attempt is counted.
func ProvideHTTPClient(cfg *config.Config, m *metrics.Recorder) *pkghttp.Client {
	return pkghttp.NewClient(
		pkghttp.WithTimeout(cfg.Finnhub.Timeout),
		pkghttp.WithRetry(4, 500*time.Millisecond),
		pkghttp.WithObserver(func(status int) { m.RecordExternal("finnhub", status) }),
	)
}

// ProvideProfiles chains the Finnhub profile lookup when a token is set.
func ProvideProfiles(cfg *config.Config, client *pkghttp.Client, c cache.Service, log *applogger.Logger) *report.ProfileChain {
	if cfg.Finnhub.APIKey == "" {
		log.Warn("finnhub token not set, reports use bare profiles")
		return report.NewProfileChain(log)
	}
	fh := finnhub.New(cfg.Finnhub.APIKey, client,
		finnhub.WithBaseURL(cfg.Finnhub.BaseURL),
		finnhub.WithLimiter(ratelimit.PerSecondMinute(cfg.Finnhub.PerSecond, cfg.Finnhub.PerMinute)),
		finnhub.WithCache(c, cfg.Finnhub.CacheTTL),
		finnhub.WithLogger(log),
	)
	return report.NewProfileChain(log, fh)
}

func ProvideAssembler(cfg *config.Config, store *internalrepo.ArtifactStore, profiles *report.ProfileChain, log *applogger.Logger) *report.Assembler {
	return report.NewAssembler(store, profiles,
		report.WithPublicBase(cfg.Report.PublicBase),
		report.WithGzip(cfg.Report.Gzip),
		report.WithLogger(log),
	)
}

func ProvideReportJob(a *report.Assembler) *usecase.ReportJob {
	return usecase.NewReportJob(a)
}

// ProvideQueue builds the report queue when enabled. Serve consumes; one-shot
// stage runs only produce.
func ProvideQueue(cfg *config.Config, rc *cache.RedisCache, store *internalrepo.ArtifactStore, mode queue.QueueMode, log *applogger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	return queue.NewRedisQueue(log, &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc.Client(), mode,
		queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"),
		queue.WithDeadLetter(usecase.ReportDeadLetter(store, log)),
	)
}

func ProvideReportBatch(cfg *config.Config, a *report.Assembler, store *internalrepo.ArtifactStore, q *queue.RedisQueue, log *applogger.Logger) *usecase.ReportBatch {
	var pub queue.Publisher
	if q != nil {
		pub = q
	}
	return usecase.NewReportBatch(a, store, pub, cfg.Report.Workers, log)
}

func ProvideEngine(cfg *config.Config, log *applogger.Logger) *riskindex.Engine {
	return riskindex.NewEngine(log,
		riskindex.WithZWindow(cfg.RiskIndex.ZWindow),
		riskindex.WithBinWindow(cfg.RiskIndex.BinWindow),
		riskindex.WithRedThreshold(cfg.RiskIndex.RedThreshold),
	)
}

func ProvideOptimizer(cfg *config.Config, log *applogger.Logger) *backtest.Optimizer {
	o := cfg.Optimizer
	return backtest.NewOptimizer(backtest.Grid{
		EMAMin: o.EMAMin, EMAMax: o.EMAMax,
		OnMin: o.OnMin, OnMax: o.OnMax,
		OffMin: o.OffMin, OffMax: o.OffMax,
		ShortWs: o.ShortWs,
	}, backtest.WithWorkers(o.Workers), backtest.WithLogger(log))
}

func ProvideWalkForward(cfg *config.Config, opt *backtest.Optimizer, log *applogger.Logger) *backtest.WalkForward {
	w := cfg.WalkForward
	return backtest.NewWalkForward(opt, backtest.WalkForwardConfig{
		TrainYears:   w.TrainYears,
		TestYears:    w.TestYears,
		StepDays:     w.StepDays,
		MinTrainRows: w.MinTrainRows,
		MinTestRows:  w.MinTestRows,
	}, log)
}

func ProvideHVBuilder(cfg *config.Config, log *applogger.Logger) *volatility.Builder {
	prices := internalrepo.NewPriceStore(cfg.Paths.Prices(), cfg.Paths.PricesParquet)
	return volatility.NewBuilder(prices, cfg.HV.Workers, log)
}

func ProvideChecker(store *internalrepo.ArtifactStore, log *applogger.Logger) *integrity.Checker {
	return integrity.NewChecker(store, integrity.WithLogger(log))
}

func usesKafka(backend string) bool { return backend == usecase.BackendKafka || backend == usecase.BackendBoth }

func usesClickHouse(backend string) bool {
	return backend == usecase.BackendClickHouse || backend == usecase.BackendBoth
}

// ProvideKafkaProducer creates a Kafka producer when brokers are configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithBatchTimeout(cfg.Kafka.BatchTimeout),
		pkgkafka.WithWriteTimeout(cfg.Kafka.WriteTimeout),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideClickHouseClient connects only when the sink backend writes to ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !usesClickHouse(cfg.Sinks.Backend) {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideHistoryStore creates the ClickHouse history tables; nil without a client.
func ProvideHistoryStore(cfg *config.Config, ch *pkgch.Client, log *applogger.Logger) (drepo.HistoryStore, error) {
	if ch == nil {
		return nil, nil
	}
	store := internalrepo.NewCHHistoryStore(ch, cfg.ClickHouse.Database)
	store.SetLogger(log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideSnapshotPublisher publishes to Kafka only when the sink backend asks for it.
func ProvideSnapshotPublisher(cfg *config.Config, producer *pkgkafka.Producer) drepo.SnapshotPublisher {
	if producer == nil || !usesKafka(cfg.Sinks.Backend) {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.SnapshotTopic)
}

func ProvideSinkProcessor(cfg *config.Config, pub drepo.SnapshotPublisher, store drepo.HistoryStore, m *metrics.Recorder) *usecase.SinkProcessor {
	return usecase.NewSinkProcessor(pub, store, m, cfg.Sinks.Backend)
}

func ProvidePipeline(
	cfg *config.Config,
	store *internalrepo.ArtifactStore,
	engine *riskindex.Engine,
	opt *backtest.Optimizer,
	walk *backtest.WalkForward,
	hv *volatility.Builder,
	reports *usecase.ReportBatch,
	checker *integrity.Checker,
	sinks *usecase.SinkProcessor,
	m *metrics.Recorder,
	c cache.Service,
	log *applogger.Logger,
) *usecase.Pipeline {
	p := usecase.NewPipeline(usecase.PipelineConfig{
		Benchmark:     cfg.Optimizer.Benchmark,
		WatchlistPath: cfg.Paths.Watchlist,
	}, store, engine, opt, walk, hv, reports, checker, sinks, m, log)
	p.SetLocker(c, usecase.DefaultStageLockTTL)
	return p
}

func ProvideScheduler(c cache.Service, log *applogger.Logger) *scheduler.Service {
	return scheduler.NewService(c, scheduler.WithLogger(log))
}

// ProvideHandler builds the HTTP handler; its background runs stop with the app.
func ProvideHandler(pipeline *usecase.Pipeline, history drepo.HistoryStore, c cache.Service, log *applogger.Logger) (*api.Handler, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := []api.Option{
		api.WithCache(c),
		api.WithLimiter(ratelimit.PerSecondMinute(2, 30)),
		api.WithBaseContext(ctx),
		api.WithLogger(log),
	}
	if history != nil {
		opts = append(opts, api.WithHistory(history))
	}
	return api.NewHandler(pipeline, opts...), cancel
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	pipeline *usecase.Pipeline,
	handler *api.Handler,
	q *queue.RedisQueue,
	job *usecase.ReportJob,
	sched *scheduler.Service,
	producer *pkgkafka.Producer,
	sinks *usecase.SinkProcessor,
) *server.App {
	return server.New(cfg, log, pipeline, handler, q, job, sched, producer, sinks)
}
