package inmemdb

import (
	"sync"

	"github.com/trezcool/querydesc/core/querydesc"
)

type (
	DB struct {
		session *sessionTable
	}

	sessionTable struct {
		sync.RWMutex
		table map[string]*querydesc.Session
	}
)

func Open() *DB {
	return &DB{
		session: &sessionTable{table: make(map[string]*querydesc.Session)},
	}
}
