// Package statestore persists the provider's view of its placeholders so a
// restarted daemon can resume without re-seeding from the remote tree.
package statestore

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/mainbooth/boothdrive/internal/cloudfiles"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnsupportedScheme = errors.New("unsupported store scheme")
)

// PlaceholderRecord is one persisted placeholder.
type PlaceholderRecord struct {
	Path      string                 `json:"path"`
	Identity  string                 `json:"identity"`
	Size      int64                  `json:"size"`
	Pin       cloudfiles.PinState    `json:"pin"`
	InSync    cloudfiles.InSyncState `json:"in_sync"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Store is the persistence contract. Implementations are safe for use from
// multiple goroutines.
type Store interface {
	Put(rec PlaceholderRecord) error
	Get(path string) (PlaceholderRecord, bool, error)
	Delete(path string) error
	Rename(oldPath, newPath string) error
	List() ([]PlaceholderRecord, error)
	Close() error
}

// Factory builds a Store from a full DSN, scheme included.
type Factory func(dsn string) (Store, error)

var storeFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// RegisterFactory binds a DSN scheme ("file", "postgres") to a constructor.
func RegisterFactory(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	storeFactoryRegistry.mu.Lock()
	defer storeFactoryRegistry.mu.Unlock()
	storeFactoryRegistry.factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	scheme = normalizeScheme(scheme)
	storeFactoryRegistry.mu.RLock()
	defer storeFactoryRegistry.mu.RUnlock()
	factory, ok := storeFactoryRegistry.factories[scheme]
	return factory, ok
}

// Open builds a Store from a DSN. A DSN without a scheme is treated as a
// filesystem path.
func Open(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	scheme := "file"
	if idx := strings.Index(dsn, "://"); idx > 0 {
		scheme = dsn[:idx]
	}
	factory, ok := lookupFactory(scheme)
	if !ok {
		return nil, ErrUnsupportedScheme
	}
	return factory(dsn)
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
