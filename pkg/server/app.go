package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"RiskPull/internal/handler/api"
	"RiskPull/internal/service/scheduler"
	"RiskPull/internal/usecase"
	"RiskPull/pkg/config"
	xhttp "RiskPull/pkg/http"
	pkgkafka "RiskPull/pkg/kafka"
	applogger "RiskPull/pkg/logger"
	"RiskPull/pkg/queue"
)

// NightlyJob is the scheduler job name of the full pipeline run.
const NightlyJob = "nightly"

// App encapsulates the application lifecycle for both the server and one-shot stage runs.
type App struct {
	cfg       *config.Config
	log       *applogger.Logger
	pipeline  *usecase.Pipeline
	handler   *api.Handler
	queue     *queue.RedisQueue
	reportJob *usecase.ReportJob
	deadLtr   queue.DeadLetterFunc
	scheduler *scheduler.Service
	producer  *pkgkafka.Producer
	sinks     *usecase.SinkProcessor

	httpServer *xhttp.Server
}

// New creates a new App. queue and producer may be nil when not configured.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	pipeline *usecase.Pipeline,
	handler *api.Handler,
	q *queue.RedisQueue,
	reportJob *usecase.ReportJob,
	sched *scheduler.Service,
	producer *pkgkafka.Producer,
	sinks *usecase.SinkProcessor,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		pipeline:  pipeline,
		handler:   handler,
		queue:     q,
		reportJob: reportJob,
		scheduler: sched,
		producer:  producer,
		sinks:     sinks,
	}
}

func (a *App) Pipeline() *usecase.Pipeline { return a.pipeline }

func (a *App) startQueue() error {
	if a.queue == nil {
		return nil
	}
	a.queue.RegisterJob(a.reportJob)
	if err := a.queue.Start(); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	return nil
}

// attachCollector ships aggregated errors to the Kafka log topic.
func (a *App) attachCollector() {
	if a.producer == nil || a.cfg.Kafka.LogTopic == "" {
		return
	}
	host, _ := os.Hostname()
	a.log.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          a.cfg.Kafka.LogTopic,
		Source:         host,
		Publisher:      a.producer,
	})
}

// Serve runs the HTTP API, the queue workers and the scheduler until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	a.attachCollector()

	if err := a.startQueue(); err != nil {
		return err
	}

	if a.cfg.Schedule.Enabled && a.scheduler != nil {
		if err := a.scheduler.Register(NightlyJob, a.cfg.Schedule.Nightly, func(ctx context.Context) error {
			_, err := a.pipeline.Nightly(ctx)
			return err
		}); err != nil {
			return err
		}
		a.scheduler.Start()
	}

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetrics(a.cfg.Server.MetricsEnabled),
		xhttp.WithCORS(a.cfg.Server.CORS),
		xhttp.WithLogger(a.log),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("riskpull serving",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("sinks", a.sinks.Backend()),
		applogger.Bool("queue", a.queue != nil),
		applogger.Bool("schedule", a.cfg.Schedule.Enabled))

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case runErr = <-a.httpServer.Err():
	}
	a.shutdown()
	return runErr
}

// RunStage runs one stage (or nightly) and returns its results.
func (a *App) RunStage(ctx context.Context, stage string) ([]*usecase.StageResult, error) {
	if err := a.startQueue(); err != nil {
		return nil, err
	}
	defer a.shutdown()
	return a.pipeline.Run(ctx, stage)
}

// shutdown gracefully stops all services.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.log.Warn("scheduler stop error", applogger.Error(err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.log.Warn("queue stop error", applogger.Error(err))
		}
	}
	a.log.RemoveCollector()
	a.log.Info("shutdown complete")
}
