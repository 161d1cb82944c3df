// Package app wires the proactive pipeline together from Settings. The CLI
// commands construct an App and call one of its entry points.
package app

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/auralink/proactive/internal/api"
	v2 "github.com/auralink/proactive/internal/api/v2"
	"github.com/auralink/proactive/internal/conf"
	"github.com/auralink/proactive/internal/datastore"
	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/evaluator"
	"github.com/auralink/proactive/internal/jobs"
	"github.com/auralink/proactive/internal/logger"
	"github.com/auralink/proactive/internal/notification"
	"github.com/auralink/proactive/internal/notification/inapp"
	"github.com/auralink/proactive/internal/notification/push"
	"github.com/auralink/proactive/internal/notification/twilio"
	"github.com/auralink/proactive/internal/observability/metrics"
	"github.com/auralink/proactive/internal/realtime"
	"github.com/auralink/proactive/internal/rules"
	"github.com/auralink/proactive/internal/scheduler"
	"github.com/auralink/proactive/internal/sensors"
	"github.com/auralink/proactive/internal/tiers"
)

const (
	tierCacheTTL        = 5 * time.Minute
	twilioClientTimeout = 15 * time.Second
	shutdownTimeout     = 15 * time.Second
	sentryFlushTimeout  = 2 * time.Second
)

// App holds every wired component.
type App struct {
	Settings *conf.Settings
	Log      logger.Logger

	DB            *datastore.Manager
	Repos         *datastore.Repositories
	Metrics       *metrics.Metrics
	Hub           *realtime.Hub
	Sensors       *sensors.Store
	MQTT          *sensors.Subscriber
	Notifications *notification.Service
	InApp         *inapp.Deliverer
	Dispatcher    *evaluator.Dispatcher
	Worker        *evaluator.Worker
	Scheduler     *scheduler.Scheduler
	Server        *api.Server

	redis  *redis.Client
	sentry *errors.SentryReporter
}

// NewLogger builds the process logger: JSON to stdout, or to a rotating
// file mirrored to stdout when file logging is enabled.
func NewLogger(settings *conf.Settings) (logger.Logger, io.Closer, error) {
	level := logger.ParseLevel(settings.Log.Level)
	if !settings.Log.File.Enabled {
		return logger.NewSlogLogger(os.Stdout, level, time.UTC), io.NopCloser(nil), nil
	}
	log, closer, err := logger.NewFileLogger(logger.FileConfig{
		Path:       settings.Log.File.Path,
		MaxSizeMB:  settings.Log.File.MaxSize,
		MaxBackups: settings.Log.File.MaxBackups,
		MaxAgeDays: settings.Log.File.MaxAge,
		Level:      level,
		Stdout:     true,
	}, time.UTC)
	if err != nil {
		return nil, nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("log_file", settings.Log.File.Path).
			Build()
	}
	return log, closer, nil
}

// New opens the database and constructs every component. Nothing is
// started; call Serve or RunOnce.
func New(ctx context.Context, settings *conf.Settings, log logger.Logger) (*App, error) {
	a := &App{Settings: settings, Log: log, Metrics: metrics.New()}

	if settings.Sentry.Enabled {
		reporter, err := errors.NewSentryReporter(settings.Sentry.DSN, settings.Sentry.Environment, Version)
		if err != nil {
			return nil, errors.New(err).
				Component("app").
				Category(errors.CategoryConfiguration).
				Context("section", "sentry").
				Build()
		}
		errors.SetReporter(reporter)
		a.sentry = reporter
	}

	db, err := datastore.Open(&settings.Database, log)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	a.DB = db
	a.Repos = db.Repositories()

	lease, err := a.newLease(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var publisher realtime.Publisher = realtime.NopPublisher{}
	if settings.Realtime.Enabled {
		a.Hub = realtime.NewHub(log)
		publisher = a.Hub
	}

	router, err := a.newRouter(publisher)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Notifications = notification.NewService(&notification.ServiceConfig{
		Notifications:  a.Repos.Notifications,
		DeliveryLogs:   a.Repos.DeliveryLogs,
		Preferences:    a.Repos.Preferences,
		Router:         router,
		Metrics:        a.Metrics,
		Logger:         log,
		QueueBatchSize: settings.Notification.QueueBatchSize,
		Concurrency:    settings.Notification.Concurrency,
		MaxRetries:     settings.Notification.MaxRetries,
		ExpireAfter:    settings.Notification.ExpireAfter.Std(),
	})

	a.Sensors = sensors.NewStore(settings.Sensors.TTL.Std())
	if settings.Sensors.MQTT.Enabled {
		a.MQTT = sensors.NewSubscriber(settings.Sensors.MQTT, a.Sensors, a.Metrics, log)
	}

	a.Dispatcher = evaluator.NewDispatcher(evaluator.DispatcherConfig{
		Workers: settings.Worker.DispatchWorkers,
		Buffer:  settings.Worker.DispatchBuffer,
	}, a.Metrics, log)

	a.Worker = evaluator.NewWorker(evaluator.Config{
		BatchSize:         settings.Worker.BatchSize,
		Concurrency:       settings.Worker.Concurrency,
		EvaluationTimeout: settings.Worker.EvaluationTimeout.Std(),
		LeaseTTL:          settings.Worker.LeaseTTL.Std(),
	}, evaluator.Deps{
		Entities:      a.Repos.Entities,
		ExecutionLogs: a.Repos.ExecutionLogs,
		Notifications: a.Repos.Notifications,
		Sensors:       a.Sensors,
		Tiers:         tiers.NewResolver(a.Repos.Subscriptions, tierCacheTTL, log),
		Notifier:      a.Notifications,
		Engine:        rules.NewEngine(log),
		Tracker:       jobs.NewTracker(a.Repos.Jobs, log),
		Lease:         lease,
		Dispatcher:    a.Dispatcher,
		Metrics:       a.Metrics,
		Logger:        log,
	})

	a.Scheduler = scheduler.New(scheduler.Config{
		EvaluationInterval: settings.Worker.Interval.Std(),
		ProcessInterval:    settings.Notification.ProcessInterval.Std(),
		RetentionDays:      settings.Worker.RetentionDays,
		RunOnStart:         true,
	}, a.Worker, a.Notifications, a.Repos.ExecutionLogs, log)

	deps := v2.Deps{
		Worker:        a.Worker,
		Jobs:          jobs.NewTracker(a.Repos.Jobs, log),
		Notifications: a.Notifications,
		Queue:         a.Repos.Notifications,
		DeliveryLogs:  a.Repos.DeliveryLogs,
		Preferences:   a.Repos.Preferences,
		ExecutionLogs: a.Repos.ExecutionLogs,
		Conversations: a.InApp,
		Hub:           a.Hub,
		Metrics:       a.Metrics,
	}
	a.Server = api.NewServer(settings, deps, log)
	return a, nil
}

// newLease picks the Redis lease when Redis is enabled, else the database
// lease.
func (a *App) newLease(ctx context.Context) (jobs.Lease, error) {
	if !a.Settings.Redis.Enabled {
		return jobs.NewDBLease(a.Repos.Jobs), nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.Settings.Redis.Addr,
		Password: a.Settings.Redis.Password,
		DB:       a.Settings.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryNetwork).
			Context("redis_addr", a.Settings.Redis.Addr).
			Build()
	}
	return jobs.NewRedisLease(a.redis), nil
}

// newRouter registers a deliverer for every enabled channel. IN_APP is
// always available.
func (a *App) newRouter(publisher realtime.Publisher) (*notification.Router, error) {
	router := notification.NewRouter()

	a.InApp = inapp.New(a.Repos.Conversations, a.Repos.Entities, publisher, a.Log)
	router.Register(entities.ChannelInApp, a.InApp)

	if a.Settings.Push.Enabled {
		router.Register(entities.ChannelWebPush, push.New(a.Settings.Push.URL, a.Repos.Subscriptions, a.Log))
	}

	if a.Settings.Twilio.Enabled {
		cfg := twilio.Config{
			AccountSID:   a.Settings.Twilio.AccountSID,
			AuthToken:    a.Settings.Twilio.AuthToken,
			From:         a.Settings.Twilio.From,
			WhatsAppFrom: a.Settings.Twilio.WhatsAppFrom,
			BaseURL:      a.Settings.Twilio.BaseURL,
			RateLimit:    a.Settings.Twilio.RateLimit,
		}
		client := &http.Client{Timeout: twilioClientTimeout}
		for _, ch := range []entities.Channel{entities.ChannelSMS, entities.ChannelWhatsApp} {
			d, err := twilio.New(ch, cfg, a.Repos.Subscriptions, client, a.Log)
			if err != nil {
				return nil, err
			}
			router.Register(ch, d)
		}
	}

	a.Log.Info("notification channels registered", logger.Any("channels", router.Channels()))
	return router, nil
}

// Migrate creates or updates the schema.
func (a *App) Migrate(ctx context.Context) error {
	return a.DB.Migrate(ctx)
}

// RunOnce runs a single evaluation cycle and waits for the dispatched
// deliveries to finish.
func (a *App) RunOnce(ctx context.Context) (*evaluator.Result, error) {
	res, err := a.Worker.Execute(ctx)
	a.Dispatcher.Stop()
	return res, err
}

// Serve starts the sensor feed, the scheduler and the HTTP server, and
// blocks until ctx is cancelled or the server fails.
func (a *App) Serve(ctx context.Context) error {
	if a.MQTT != nil {
		if err := a.MQTT.Start(ctx); err != nil {
			return err
		}
	}
	a.Scheduler.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.Server.Start()
	}()

	var err error
	select {
	case <-ctx.Done():
		a.Log.Info("shutting down")
	case err = <-serverErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if serr := a.Server.Shutdown(shutdownCtx); serr != nil {
		a.Log.Warn("http shutdown failed", logger.Error(serr))
	}
	a.Scheduler.Stop()
	a.Dispatcher.Stop()
	if a.MQTT != nil {
		a.MQTT.Stop()
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	return err
}

// Close releases connections. Safe to call after Serve or RunOnce.
func (a *App) Close() error {
	var errs []error
	if a.Dispatcher != nil {
		a.Dispatcher.Stop()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.sentry != nil {
		a.sentry.Flush(sentryFlushTimeout)
	}
	return errors.Join(errs...)
}
