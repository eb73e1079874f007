package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	domrepo "QuantPull/internal/domain/repository"
	"QuantPull/internal/usecase"
	"QuantPull/pkg/config"
	xhttp "QuantPull/pkg/http"
	pkgkafka "QuantPull/pkg/kafka"
	applogger "QuantPull/pkg/logger"
)

// App owns the whole process lifecycle: backfill, strategy, audit consumer,
// and the HTTP surface. Run blocks until SIGINT/SIGTERM and unwinds in
// reverse start order.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	controller *usecase.StrategyController
	backfiller *usecase.Backfiller
	consumer   *pkgkafka.Consumer
	audit      pkgkafka.MessageHandler
	handler    xhttp.Handler
	publisher  domrepo.DecisionPublisher
	mirror     domrepo.SnapshotMirror
	archive    domrepo.BarArchive

	httpServer *xhttp.Server
}

// New assembles the application. backfiller, consumer, audit, publisher,
// mirror, and archive may be nil depending on configuration.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	controller *usecase.StrategyController,
	backfiller *usecase.Backfiller,
	consumer *pkgkafka.Consumer,
	audit pkgkafka.MessageHandler,
	handler xhttp.Handler,
	publisher domrepo.DecisionPublisher,
	mirror domrepo.SnapshotMirror,
	archive domrepo.BarArchive,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		controller: controller,
		backfiller: backfiller,
		consumer:   consumer,
		audit:      audit,
		handler:    handler,
		publisher:  publisher,
		mirror:     mirror,
		archive:    archive,
	}
}

// Run starts everything and blocks until an interrupt arrives. A startup
// failure tears down whatever already started and returns the error, so a
// failed start leaves nothing running.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.backfiller != nil {
		if err := a.backfiller.Run(ctx); err != nil {
			// partial backfill is survivable; the pollers will fill gaps
			a.log.Warn("backfill incomplete", applogger.Error(err))
		}
	}

	if err := a.controller.StartStrategy(ctx); err != nil {
		return fmt.Errorf("start strategy: %w", err)
	}

	if a.consumer != nil && a.audit != nil {
		a.consumer.RegisterHandler(a.audit)
		if err := a.consumer.Start(); err != nil {
			a.controller.StopStrategy()
			return fmt.Errorf("start audit consumer: %w", err)
		}
		a.log.Info("audit consumer started", applogger.String("topic", a.audit.Topic()))
	}

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(a.log),
	)
	if err := a.httpServer.Start(); err != nil {
		a.stopConsumer()
		a.controller.StopStrategy()
		return fmt.Errorf("start http server: %w", err)
	}

	a.log.Info("application started",
		applogger.Strings("symbols", a.cfg.Alpaca.Symbols),
		applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	a.shutdown()
	return nil
}

// shutdown unwinds in reverse start order: strategy loop first so nothing
// new is published, then consumer, HTTP, and finally the infra clients.
func (a *App) shutdown() {
	a.controller.StopStrategy()
	a.stopConsumer()

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Warn("http shutdown", applogger.Error(err))
		}
		cancel()
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("publisher close", applogger.Error(err))
		}
	}
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.log.Warn("mirror close", applogger.Error(err))
		}
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.log.Warn("archive close", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
}

func (a *App) stopConsumer() {
	if a.consumer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.consumer.Stop(ctx); err != nil {
		a.log.Warn("consumer stop", applogger.Error(err))
	}
}
