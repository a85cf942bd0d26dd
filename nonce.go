package oauthbasic

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/IMQS/log"
)

// Memory nonce store. Nonces are forgotten after expiry.
type memoryNonceStore struct {
	expiry    time.Duration
	lock      sync.Mutex
	seen      map[string]time.Time // nonce key -> time at which it may be forgotten
	lastPurge time.Time
	now       func() time.Time
}

func NewNonceStore_Memory(expiry time.Duration) NonceStore {
	if expiry <= 0 {
		expiry = defaultNonceExpirySeconds * time.Second
	}
	return &memoryNonceStore{
		expiry: expiry,
		seen:   map[string]time.Time{},
		now:    time.Now,
	}
}

func (x *memoryNonceStore) Use(ctx context.Context, key string, timestamp time.Time) (bool, error) {
	x.lock.Lock()
	defer x.lock.Unlock()
	now := x.now()
	if now.Sub(x.lastPurge) > x.expiry/4 {
		x.purge(now)
	}
	if forget, exists := x.seen[key]; exists && now.Before(forget) {
		return false, nil
	}
	x.seen[key] = x.forgetTime(now, timestamp)
	return true, nil
}

// A nonce must be remembered until its timestamp falls out of the acceptance window.
// We measure from whichever is later, the arrival time or the timestamp.
func (x *memoryNonceStore) forgetTime(now, timestamp time.Time) time.Time {
	if timestamp.After(now) {
		return timestamp.Add(x.expiry)
	}
	return now.Add(x.expiry)
}

func (x *memoryNonceStore) purge(now time.Time) {
	for k, forget := range x.seen {
		if !now.Before(forget) {
			delete(x.seen, k)
		}
	}
	x.lastPurge = now
}

func (x *memoryNonceStore) Expiry() time.Duration {
	return x.expiry
}

func (x *memoryNonceStore) Close() {
	x.lock.Lock()
	defer x.lock.Unlock()
	x.seen = map[string]time.Time{}
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// SQL nonce store, which allows several authenticator processes to share one replay cache.
// The primary key on oauthnonce.noncekey makes the INSERT atomic.
type sqlNonceStore struct {
	db        *sql.DB
	expiry    time.Duration
	log       *log.Logger
	purgeLock sync.Mutex
	lastPurge time.Time
}

func NewNonceStore_SQL(db *sql.DB, expiry time.Duration, logger *log.Logger) NonceStore {
	if expiry <= 0 {
		expiry = defaultNonceExpirySeconds * time.Second
	}
	return &sqlNonceStore{
		db:     db,
		expiry: expiry,
		log:    logger,
	}
}

func (x *sqlNonceStore) Use(ctx context.Context, key string, timestamp time.Time) (bool, error) {
	now := time.Now().UTC()
	x.maybePurge(ctx, now)
	forget := now.Add(x.expiry)
	if timestamp.After(now) {
		forget = timestamp.UTC().Add(x.expiry)
	}
	res, err := x.db.ExecContext(ctx, `INSERT INTO oauthnonce (noncekey, expires) VALUES ($1, $2) ON CONFLICT (noncekey) DO NOTHING`, key, forget)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (x *sqlNonceStore) maybePurge(ctx context.Context, now time.Time) {
	x.purgeLock.Lock()
	due := now.Sub(x.lastPurge) > x.expiry/4
	if due {
		x.lastPurge = now
	}
	x.purgeLock.Unlock()
	if !due {
		return
	}
	if _, err := x.db.ExecContext(ctx, `DELETE FROM oauthnonce WHERE expires < $1`, now); err != nil {
		x.log.Warnf("Failed to purge expired OAuth nonces: %v", err)
	}
}

func (x *sqlNonceStore) Expiry() time.Duration {
	return x.expiry
}

func (x *sqlNonceStore) Close() {
	// The database handle is owned by the Authenticator
}
