package inmemdb

import (
	"sync"

	"github.com/trezcool/edmm/core/cache"
	"github.com/trezcool/edmm/core/session"
)

type (
	// DB is a process-local database, for the "memory" engine and for tests.
	DB struct {
		session *sessionTable
		cache   *cacheTable
	}

	sessionTable struct {
		table map[string]session.Session
		mutex sync.RWMutex
	}

	cacheTable struct {
		table map[cache.Key]cache.Entry
		mutex sync.RWMutex
	}
)

func Open() *DB {
	return &DB{
		session: &sessionTable{table: make(map[string]session.Session)},
		cache:   &cacheTable{table: make(map[cache.Key]cache.Entry)},
	}
}
