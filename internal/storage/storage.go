// Package storage groups the carrier.Store implementations and the world
// snapshot format.
//
//	memstore   in-process, for tests and the default memory driver
//	boltstore  single-file bbolt database
//	sqlstore   sqlite or postgres through sqlx, queries kept in .sql files
//	snapshot   zstd-compressed JSON dump of carriers, actors and the tick
package storage

import (
	"fmt"

	"github.com/gyaneshwarpardhi/affix/internal/carrier"
	"github.com/gyaneshwarpardhi/affix/internal/config"
	"github.com/gyaneshwarpardhi/affix/internal/storage/boltstore"
	"github.com/gyaneshwarpardhi/affix/internal/storage/memstore"
	"github.com/gyaneshwarpardhi/affix/internal/storage/sqlstore"
)

// Open returns the store selected by conf.
func Open(conf config.StoreConf) (carrier.Store, error) {
	switch conf.Driver {
	case "", config.DriverMemory:
		return memstore.New(), nil
	case config.DriverBolt:
		return boltstore.Open(conf.DSN)
	case config.DriverSQL:
		return sqlstore.Open(conf.DSN)
	}
	return nil, fmt.Errorf("unknown store driver %q", conf.Driver)
}
