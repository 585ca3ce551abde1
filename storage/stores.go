package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/cache"
	"github.com/trezcool/edmm/core/session"
	"github.com/trezcool/edmm/storage/database"
	inmemdb "github.com/trezcool/edmm/storage/database/inmem"
	sqlxrepos "github.com/trezcool/edmm/storage/database/sqlx"
)

// Stores holds the repositories of the configured database engine.
type Stores struct {
	DB       *sqlx.DB // nil with the memory engine
	Sessions session.Repository
	Cache    cache.Repository
	Applied  []string // migrations applied by Open
}

// Open sets up the database of conf: created if needed, then migrated.
func Open(ctx context.Context, conf *core.Config) (*Stores, error) {
	if conf.Database.Engine == database.EngineMemory {
		mem := inmemdb.Open()
		return &Stores{
			Sessions: inmemdb.NewSessionRepository(mem),
			Cache:    inmemdb.NewCacheRepository(mem),
		}, nil
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, errors.Wrap(err, "creating database")
	}
	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}
	applied, err := database.Migrate(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrating database")
	}
	return &Stores{
		DB:       db,
		Sessions: sqlxrepos.NewSessionRepository(db),
		Cache:    sqlxrepos.NewCacheRepository(db),
		Applied:  applied,
	}, nil
}

func (s *Stores) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
