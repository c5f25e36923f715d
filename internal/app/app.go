package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/IBM/sarama"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/jobstream-backend/internal/db"
	"github.com/yungbote/jobstream-backend/internal/eventstore"
	"github.com/yungbote/jobstream-backend/internal/job"
	"github.com/yungbote/jobstream-backend/internal/kafka"
	"github.com/yungbote/jobstream-backend/internal/logger"
	"github.com/yungbote/jobstream-backend/internal/middleware"
	"github.com/yungbote/jobstream-backend/internal/observability"
	"github.com/yungbote/jobstream-backend/internal/realtime"
	"github.com/yungbote/jobstream-backend/internal/restore"
	"github.com/yungbote/jobstream-backend/internal/server"
)

// App is the composition root. Everything is wired here, explicitly, once.
type App struct {
	Log *logger.Logger
	Cfg Config
	DB  *gorm.DB

	EventLog   eventstore.EventLog
	Bus        *eventstore.LocalEventBus
	Snapshots  *job.SnapshotStore
	Projection *job.Projection
	Dispatcher *job.Dispatcher

	producer     sarama.SyncProducer
	relay        *kafka.Relay
	commands     *kafka.CommandListener
	restorer     *restore.Listener
	notifier     realtime.Bus
	httpServer   *http.Server
	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig(log)
	otelShutdown := observability.InitOTel(ctx, log, cfg.ServiceName)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	var notifier realtime.Bus = realtime.NoopBus{}
	if cfg.RedisAddr != "" {
		notifier, err = realtime.NewRedisBus(log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("init redis bus: %w", err)
		}
	}

	eventLog := eventstore.NewEventLog(theDB, log)
	snapshots := job.NewSnapshotStore(theDB, log)
	projection := job.NewProjection(theDB, log, notifier)

	bus := eventstore.NewLocalEventBus(theDB, eventLog, log)
	bus.Register(snapshots)
	bus.Subscribe(projection.OnEvent)

	dispatcher := job.NewDispatcher(bus, snapshots, log, cfg.MaxActivePerUser)

	// Replay rebuilds the read model too, not just the snapshots.
	restorer := restore.NewListener(log, snapshots)
	restorer.Subscribe(projection.OnEvent)

	a := &App{
		Log:          log,
		Cfg:          cfg,
		DB:           theDB,
		EventLog:     eventLog,
		Bus:          bus,
		Snapshots:    snapshots,
		Projection:   projection,
		Dispatcher:   dispatcher,
		notifier:     notifier,
		restorer:     restorer,
		otelShutdown: otelShutdown,
	}

	if !cfg.RestoreMode {
		producer, err := kafka.NewSyncProducer(cfg.KafkaBrokers)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("init kafka producer: %w", err)
		}
		a.producer = producer
		a.relay = kafka.NewRelay(log, eventLog, producer, cfg.JobEventTopic, cfg.RelayInterval, cfg.RelayBatch)
		a.commands = kafka.NewCommandListener(log, dispatcher)

		auth := middleware.NewAuthMiddleware(log, cfg.JWTSecretKey)
		srv := server.New(log, dispatcher, projection, auth)
		a.httpServer = &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: srv.Router(cfg.ServiceName),
		}
	}

	return a, nil
}

// Run blocks until ctx is cancelled or a component fails. In restore mode the
// only component is the replay listener; normal command intake stays off.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.Cfg.RestoreMode {
		a.Log.Info("Running in restore mode, command intake disabled")
		g.Go(func() error {
			return a.restorer.Run(ctx, a.Cfg.KafkaBrokers, a.Cfg.RestoreGroup, a.Cfg.JobEventTopic)
		})
		return g.Wait()
	}

	g.Go(func() error {
		return a.relay.Run(ctx)
	})
	g.Go(func() error {
		return a.commands.Run(ctx, a.Cfg.KafkaBrokers, a.Cfg.CommandGroup, a.Cfg.JobCommandTopic)
	})
	g.Go(func() error {
		a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTPAddr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) Close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.Log.Warn("Error closing kafka producer", "error", err)
		}
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.Log.Warn("Error closing realtime bus", "error", err)
		}
	}
	if a.otelShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.otelShutdown(shutdownCtx)
	}
	a.Log.Sync()
}
