package main

import (
	"context"
	"database/sql"

	"github.com/trezcool/querydesc/storage/database"
)

type dbOpener func() (*sql.DB, error)

var gooseRunFunc = database.RunMigrations // mockable

func (cli *commandLine) migrate(args []string) error {
	db, err := cli.openDB()
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(context.Background(), db, args[0], arguments...)
}
