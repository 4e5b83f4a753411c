package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/querydesc/apps/api/echo"
	"github.com/trezcool/querydesc/core"
	"github.com/trezcool/querydesc/core/querydesc"
	logsvc "github.com/trezcool/querydesc/services/logger"
	searchsvc "github.com/trezcool/querydesc/services/search"
	"github.com/trezcool/querydesc/storage/database"
	inmemdb "github.com/trezcool/querydesc/storage/database/inmem"
	sqlxrepos "github.com/trezcool/querydesc/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up logger
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)
	defer logger.Wait()

	// set up storage
	repo, closeRepo, err := setUpRepository(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up storage: %v", err), err)
	}
	defer func() {
		if err = closeRepo(); err != nil {
			logger.Error(fmt.Sprintf("closing storage: %v", err), err)
		}
	}()

	policy, err := querydesc.ParseMergePolicy(conf.Query.MergePolicy)
	if err != nil {
		logger.Fatal(fmt.Sprintf("parsing config: %v", err), err)
	}

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	querydesc.InitValidators(validate, translator, conf.Query.MaxDepth)

	store := querydesc.NewStore(logger, querydesc.WithDebug(conf.Debug), querydesc.WithMergePolicy(policy))
	querySvc := querydesc.NewService(repo, store, searchsvc.NewClient(conf, logger), validate, logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("mergePolicy").Set(string(policy))

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			QuerySvc:   querySvc,
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
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

// setUpRepository returns the session repository of the configured storage & its close func.
func setUpRepository(conf *core.Config) (querydesc.Repository, func() error, error) {
	switch conf.Storage {
	case "", "memory":
		return inmemdb.NewSessionRepository(inmemdb.Open()), func() error { return nil }, nil
	case "postgres":
		db, err := setUpDB(conf)
		if err != nil {
			return nil, nil, err
		}
		return sqlxrepos.NewSessionRepository(db), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage %q", conf.Storage)
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(context.Background(), db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
