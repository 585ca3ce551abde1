package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	echoapi "github.com/trezcool/edmm/apps/api/echo"
	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/auth"
	"github.com/trezcool/edmm/core/cache"
	"github.com/trezcool/edmm/core/datasync"
	"github.com/trezcool/edmm/core/recovery"
	"github.com/trezcool/edmm/core/session"
	"github.com/trezcool/edmm/core/upstream"
	logsvc "github.com/trezcool/edmm/services/logger"
	metricsvc "github.com/trezcool/edmm/services/metrics"
	"github.com/trezcool/edmm/storage"
	redisstore "github.com/trezcool/edmm/storage/redis"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()
	ctx := context.Background()

	// set up loggers
	logger := logsvc.New(conf, "API")
	dbLogger := logsvc.New(conf, "DB")

	// set up DB
	stores, err := storage.Open(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = stores.Close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()
	for _, name := range stores.Applied {
		dbLogger.Info("migration applied", map[string]interface{}{"name": name})
	}

	// pending double authentications
	var pending auth.PendingStore
	if conf.Redis.Addr != "" {
		rdb, rErr := redisstore.Open(ctx, conf.Redis)
		if rErr != nil {
			logger.Fatal(fmt.Sprintf("setting up redis: %v", rErr), rErr)
		}
		defer func() { _ = rdb.Close() }()
		pending = redisstore.NewPendingStore(rdb, conf.ChallengeTTL)
	} else {
		mem := auth.NewMemoryPendingStore(conf.ChallengeTTL)
		defer mem.Close()
		pending = mem
	}

	// set up services
	client := upstream.NewClient(conf.Upstream, metricsvc.ObserveUpstream)
	sessions := session.NewStore(stores.Sessions, dbLogger, conf.CacheTimeout)
	authEngine := auth.NewEngine(client, pending, auth.NewMemoryCredentialStore(), sessions, logger, conf.Upstream.LoginTimeout)
	guard := recovery.NewGuard(client, authEngine, sessions, logger, metricsvc.ObserveRelogin)
	guard.SetReloginTimeout(3 * conf.Upstream.LoginTimeout)
	cacheStore := cache.NewStore(stores.Cache, dbLogger, conf.CacheTimeout)
	done := datasync.NewDoneTracker(cacheStore, dbLogger, conf.DoneDebounce)
	syncEngine := datasync.NewEngine(guard, cacheStore, done, logger, metricsvc.ObserveSync)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - Prometheus collectors.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	http.DefaultServeMux.Handle("/metrics", metricsvc.Handler())

	go func() {
		if dErr := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); dErr != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", dErr), dErr)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			Auth:       authEngine,
			Sessions:   sessions,
			Sync:       syncEngine,
			Done:       done,
			Validate:   validate,
			Translator: translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}

	// pending homework flags and cache writes
	flushCtx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()
	if err = done.Flush(flushCtx); err != nil {
		dbLogger.Error("flushing done flags", err)
	}
	cacheStore.Wait()
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
