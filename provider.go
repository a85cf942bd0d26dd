package oauthbasic

import (
	"database/sql"
	"sort"
	"sync"

	"github.com/IMQS/log"
)

const (
	OAuthProviderSQL    = "sql"
	OAuthProviderMemory = "memory"
)

// OAuthProviderFactory creates a provider. db is nil when the authenticator has no database.
type OAuthProviderFactory func(db *sql.DB, logger *log.Logger) (OAuthProvider, error)

var (
	providerLock      sync.RWMutex
	providerFactories = map[string]OAuthProviderFactory{}
)

func init() {
	RegisterOAuthProvider(OAuthProviderSQL, func(db *sql.DB, logger *log.Logger) (OAuthProvider, error) {
		return NewOAuthProvider_SQL(db, defaultRealmName, logger), nil
	})
	RegisterOAuthProvider(OAuthProviderMemory, func(db *sql.DB, logger *log.Logger) (OAuthProvider, error) {
		return NewOAuthProvider_Memory(defaultRealmName), nil
	})
}

// RegisterOAuthProvider makes a provider available by name to NewOAuthProvider.
// Registering the same name twice replaces the earlier factory.
func RegisterOAuthProvider(name string, factory OAuthProviderFactory) {
	providerLock.Lock()
	defer providerLock.Unlock()
	providerFactories[name] = factory
}

func NewOAuthProvider(name string, db *sql.DB, logger *log.Logger) (OAuthProvider, error) {
	providerLock.RLock()
	factory, ok := providerFactories[name]
	providerLock.RUnlock()
	if !ok {
		return nil, NewError(ErrProviderNotRegistered, name)
	}
	return factory(db, logger)
}

// RegisteredOAuthProviders returns the sorted names of all registered providers
func RegisteredOAuthProviders() []string {
	providerLock.RLock()
	defer providerLock.RUnlock()
	names := make([]string, 0, len(providerFactories))
	for name := range providerFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
