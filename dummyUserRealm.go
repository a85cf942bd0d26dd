package oauthbasic

import (
	"context"
	"sync"
)

type dummyUser struct {
	identity string
	hash     string
	roles    []string
}

// Memory user realm. Passwords are hashed the same way as the SQL realm.
type dummyUserRealm struct {
	users        map[string]*dummyUser
	usersLock    sync.RWMutex
	defaultRoles []string
}

func NewUserRealm_Memory(defaultRoles []string) *dummyUserRealm {
	return &dummyUserRealm{
		users:        map[string]*dummyUser{},
		defaultRoles: defaultRoles,
	}
}

func (x *dummyUserRealm) Name() string {
	return UserRealmMemory
}

func (x *dummyUserRealm) Authenticate(ctx context.Context, identity, password string) ([]string, error) {
	x.usersLock.RLock()
	defer x.usersLock.RUnlock()
	user := x.users[CanonicalizeIdentity(identity)]
	if user == nil {
		return nil, ErrIdentityAuthNotFound
	}
	if !verifyHash(password, user.hash) {
		return nil, ErrInvalidPassword
	}
	roles := append([]string{}, x.defaultRoles...)
	return uniqueRoles(append(roles, user.roles...)), nil
}

func (x *dummyUserRealm) CreateUser(ctx context.Context, identity, password string, roles []string) error {
	identity = CanonicalizeIdentity(identity)
	if identity == "" {
		return ErrIdentityEmpty
	}
	hash, err := computeHash(password)
	if err != nil {
		return err
	}
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	if x.users[identity] != nil {
		return NewError(ErrIdentityExists, identity)
	}
	x.users[identity] = &dummyUser{
		identity: identity,
		hash:     hash,
		roles:    uniqueRoles(roles),
	}
	return nil
}

func (x *dummyUserRealm) SetPassword(ctx context.Context, identity, password string) error {
	hash, err := computeHash(password)
	if err != nil {
		return err
	}
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	user := x.users[CanonicalizeIdentity(identity)]
	if user == nil {
		return ErrIdentityAuthNotFound
	}
	user.hash = hash
	return nil
}

func (x *dummyUserRealm) SetUserRoles(ctx context.Context, identity string, roles []string) error {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	user := x.users[CanonicalizeIdentity(identity)]
	if user == nil {
		return ErrIdentityAuthNotFound
	}
	user.roles = uniqueRoles(roles)
	return nil
}

func (x *dummyUserRealm) Close() {
}
