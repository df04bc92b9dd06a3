// Package storage selects the audit store backend.
package storage

import (
	"github.com/nicofx/widu-factory/internal/core/ports"
	"github.com/nicofx/widu-factory/internal/storage/memory"
	"github.com/nicofx/widu-factory/internal/storage/sqlite"
)

// Open returns a SQLite store at path, or an in-memory store holding at most
// maxRequests requests when path is empty.
func Open(path string, maxRequests int) (ports.AuditStore, error) {
	if path == "" {
		if maxRequests <= 0 {
			maxRequests = memory.DefaultMaxRequests
		}
		return memory.New(maxRequests), nil
	}
	store, err := sqlite.New(path)
	if err != nil {
		return nil, err
	}
	return store, nil
}
