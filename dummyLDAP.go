package oauthbasic

import (
	"errors"
	"sync"
)

// dummyLdap stands in for an LDAP server. Every dial hands out a new dummyLdapConnection.
type dummyLdap struct {
	users     map[string]string // bind name -> password
	usersLock sync.RWMutex
	down      bool
	dials     int
	closes    int
}

type dummyLdapConnection struct {
	server *dummyLdap
}

func newDummyLdap() *dummyLdap {
	return &dummyLdap{users: map[string]string{}}
}

func (x *dummyLdap) AddLdapUser(bindName, password string) {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	x.users[bindName] = password
}

func (x *dummyLdap) SetDown(down bool) {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	x.down = down
}

func (x *dummyLdap) dial() (ldapBinder, error) {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	if x.down {
		return nil, NewError(ErrConnect, "dummy LDAP server is down")
	}
	x.dials++
	return &dummyLdapConnection{server: x}, nil
}

func (x *dummyLdapConnection) Bind(identity, password string) error {
	x.server.usersLock.RLock()
	defer x.server.usersLock.RUnlock()
	if pwd, ok := x.server.users[identity]; !ok || pwd != password {
		return errors.New("LDAP Result Code 49 \"Invalid Credentials\"")
	}
	return nil
}

func (x *dummyLdapConnection) Close() {
	x.server.usersLock.Lock()
	defer x.server.usersLock.Unlock()
	x.server.closes++
}
