//go:build !wasm
// +build !wasm

package gorm

import (
	"fmt"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DialectorOpener returns a gorm.Dialector for a DSN.
type DialectorOpener = func(string) gorm.Dialector

var (
	registryMu sync.RWMutex
	dialects   = map[string]DialectorOpener{
		"postgres": postgres.Open,
		"sqlite":   sqlite.Open,
	}
)

// Register adds a driver under name.
func Register(name string, opener DialectorOpener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	dialects[name] = opener
}

// Open connects with the driver registered under name. Duplicate key
// errors are translated to gorm.ErrDuplicatedKey.
func Open(name, dsn string) (*gorm.DB, error) {
	registryMu.RLock()
	opener, ok := dialects[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("gorm: unknown driver %q", name)
	}
	db, err := gorm.Open(opener(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("gorm: open %s: %w", name, err)
	}
	return db, nil
}
