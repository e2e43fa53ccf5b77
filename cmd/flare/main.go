package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/CAFxX/httpcompression"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/flarelabs/flare/internal/activitylog"
	"github.com/flarelabs/flare/internal/bytebin"
	"github.com/flarelabs/flare/internal/logutil"
	"github.com/flarelabs/flare/internal/sampler"
	"github.com/flarelabs/flare/internal/storageprovider"
	"github.com/flarelabs/flare/internal/storageutil"
)

type environment struct {
	config ServiceConfig

	profiler *sampler.ProfilerService
	bytebin  bytebin.Client
	reports  storageutil.ObjectHandler
	activity activitylog.Log

	kafkaActivity *activitylog.KafkaLog
	storage       *storage.Client
}

var release string

func newEnvironment() (*environment, error) {
	var e environment
	var err error
	e.config, err = loadConfig()
	if err != nil {
		return nil, err
	}

	e.profiler = sampler.NewProfilerService()

	e.bytebin, err = bytebin.NewClient(e.config.BytebinURL, 15*time.Second)
	if err != nil {
		return nil, err
	}

	if e.config.ReportsBucket != "" {
		e.storage, err = storage.NewClient(context.Background())
		if err != nil {
			return nil, err
		}
		e.reports = &storageprovider.Gcs{BucketHandle: e.storage.Bucket(e.config.ReportsBucket)}
	} else {
		e.reports = &storageprovider.Filesystem{Dir: e.config.ReportsDir}
	}

	if len(e.config.ActivityKafkaBrokers) > 0 {
		e.kafkaActivity = activitylog.NewKafkaLog(e.config.ActivityKafkaBrokers, e.config.ActivityKafkaTopic)
		e.activity = e.kafkaActivity
	} else if e.config.ActivityLogPath != "" {
		e.activity = activitylog.NewFileLog(e.config.ActivityLogPath)
	} else {
		e.activity = activitylog.Nop
	}

	return &e, nil
}

func (e *environment) shutdown() {
	e.profiler.ClearAndStop()
	if e.kafkaActivity != nil {
		if err := e.kafkaActivity.Close(); err != nil {
			sentry.CaptureException(err)
		}
	}
	if e.storage != nil {
		if err := e.storage.Close(); err != nil {
			sentry.CaptureException(err)
		}
	}
	sentry.Flush(5 * time.Second)
}

func (e *environment) newRouter() (*httprouter.Router, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodGet, "/health", e.getHealth},
		{http.MethodGet, "/profiler", e.getProfilerInfo},
		{http.MethodPost, "/profiler/start", e.postProfilerStart},
		{http.MethodPost, "/profiler/stop", e.postProfilerStop},
		{http.MethodPost, "/profiler/cancel", e.postProfilerCancel},
	}

	router := httprouter.New()
	for _, route := range routes {
		router.Handler(route.method, route.path, compress(route.handler))
	}
	return router, nil
}

func main() {
	logutil.ConfigureLogger()

	env, err := newEnvironment()
	if err != nil {
		log.Fatal().Err(err).Msg("error setting up environment")
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:         env.config.SentryDSN,
		Environment: env.config.Environment,
		Release:     release,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	router, err := env.newRouter()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up the router")
	}

	server := http.Server{
		Addr:    ":" + env.config.Port,
		Handler: sentryhttp.New(sentryhttp.Options{}).Handle(router),
	}

	waitForShutdown := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c

		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(cctx); err != nil {
			sentry.CaptureException(err)
			log.Err(err).Msg("error shutting down server")
		}

		close(waitForShutdown)
	}()

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		sentry.CaptureException(err)
		log.Err(err).Msg("server failed")
	}

	<-waitForShutdown

	// Stop any active session after the HTTP connections are closed.
	env.shutdown()
}

func (e *environment) getHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
