package oauthbasic

import (
	"context"
	"fmt"
	"strings"

	"github.com/mavricknz/ldap"
)

type LdapConnectionMode int

const (
	LdapConnectionModePlainText LdapConnectionMode = iota
	LdapConnectionModeSSL                          = iota
	LdapConnectionModeTLS                          = iota
)

// ldapBinder is the part of an LDAP connection that we need
type ldapBinder interface {
	Bind(identity, password string) error
	Close()
}

type ldapDialer func() (ldapBinder, error)

type mavrickBinder struct {
	con *ldap.LDAPConnection
}

func (x *mavrickBinder) Bind(identity, password string) error {
	return x.con.Bind(identity, password)
}

func (x *mavrickBinder) Close() {
	if x.con != nil {
		x.con.Close()
		x.con = nil
	}
}

func dialLdap(mode LdapConnectionMode, host string, port uint16) (ldapBinder, error) {
	con := ldap.NewLDAPConnection(host, port)
	switch mode {
	case LdapConnectionModePlainText:
	case LdapConnectionModeSSL:
		con.IsSSL = true
	case LdapConnectionModeTLS:
		con.IsTLS = true
	}
	if err := con.Connect(); err != nil {
		con.Close()
		return nil, NewError(ErrConnect, err.Error())
	}
	return &mavrickBinder{con: con}, nil
}

// ldapRealm authenticates Basic requests with an LDAP BIND. Every request gets its own
// connection, because a BIND changes the identity of the connection that it runs on.
type ldapRealm struct {
	dial         ldapDialer
	domain       string
	defaultRoles []string
}

func NewUserRealm_LDAP(config *ConfigLDAP, defaultRoles []string) (UserRealm, error) {
	mode, ok := configLdapNameToMode[config.Encryption]
	if !ok {
		return nil, fmt.Errorf("Unknown LDAP encryption '%v'. Valid values are \"\", \"SSL\", \"TLS\"", config.Encryption)
	}
	if config.LdapHost == "" {
		return nil, NewError(ErrConnect, "LdapHost is empty")
	}
	port := config.LdapPort
	if port == 0 {
		port = defaultLdapPort
	}
	host := config.LdapHost
	dial := func() (ldapBinder, error) {
		return dialLdap(mode, host, port)
	}
	return newLdapRealm(dial, config.LdapDomain, defaultRoles), nil
}

func newLdapRealm(dial ldapDialer, domain string, defaultRoles []string) *ldapRealm {
	return &ldapRealm{
		dial:         dial,
		domain:       domain,
		defaultRoles: defaultRoles,
	}
}

func (x *ldapRealm) Name() string {
	return UserRealmLDAP
}

func (x *ldapRealm) Authenticate(ctx context.Context, identity, password string) ([]string, error) {
	if len(password) == 0 {
		// Many LDAP servers (or AD) will allow an anonymous BIND.
		// I've never seen the need for a password-less user authenticated against LDAP.
		return nil, ErrInvalidPassword
	}
	con, err := x.dial()
	if err != nil {
		return nil, err
	}
	defer con.Close()
	if err := con.Bind(x.qualify(identity), password); err != nil {
		return nil, NewError(ErrInvalidCredentials, err.Error())
	}
	return uniqueRoles(x.defaultRoles), nil
}

// qualify appends the domain to a bare username, so that "jim" binds as "jim@example.com"
func (x *ldapRealm) qualify(identity string) string {
	if x.domain == "" || strings.ContainsAny(identity, "@\\") {
		return identity
	}
	return identity + "@" + x.domain
}

func (x *ldapRealm) Close() {
}
