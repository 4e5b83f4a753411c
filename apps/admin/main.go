package main

import (
	"database/sql"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/querydesc/core"
	"github.com/trezcool/querydesc/core/querydesc"
	logsvc "github.com/trezcool/querydesc/services/logger"
	"github.com/trezcool/querydesc/storage/database"
)

var logger core.Logger

func main() {
	defer os.Exit(0)

	conf := core.NewConfig()
	rlog := logsvc.NewRollbarLogger(
		log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	rlog.Enable(!conf.Debug)
	defer rlog.Wait()
	logger = rlog

	policy, err := querydesc.ParseMergePolicy(conf.Query.MergePolicy)
	errAndDie(err)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	querydesc.InitValidators(validate, translator, conf.Query.MaxDepth)

	// start CLI
	cli := commandLine{
		conf:       conf,
		store:      querydesc.NewStore(logger, querydesc.WithMergePolicy(policy)),
		validate:   validate,
		translator: translator,
		in:         os.Stdin,
		out:        os.Stdout,
		openDB: func() (*sql.DB, error) {
			if err := database.CreateIfNotExist(conf); err != nil {
				return nil, err
			}
			db, err := database.Open(conf)
			if err != nil {
				return nil, err
			}
			return db.DB, nil
		},
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error("\nerror: "+err.Error(), err)
		}
		rlog.Wait()
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
