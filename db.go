package oauthbasic

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DBConnection describes how to reach the SQL database that holds our tables.
type DBConnection struct {
	Driver   string
	Host     string
	Port     uint16
	Database string
	User     string
	Password string
	SSL      bool
}

// ConnectionString produces a lib/pq connection string
func (x *DBConnection) ConnectionString() string {
	sslmode := "disable"
	if x.SSL {
		sslmode = "require"
	}
	conStr := fmt.Sprintf("host=%v user=%v password=%v dbname=%v sslmode=%v", pqEscape(x.Host), pqEscape(x.User), pqEscape(x.Password), pqEscape(x.Database), sslmode)
	if x.Port != 0 {
		conStr += fmt.Sprintf(" port=%v", x.Port)
	}
	return conStr
}

func (x *DBConnection) Connect() (*sql.DB, error) {
	return sql.Open(x.Driver, x.ConnectionString())
}

// Quote a connection string value, so that spaces and quotes inside a password don't break the DSN
func pqEscape(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// A Consumer is a client application that has been registered with an OAuth provider.
type Consumer struct {
	Key             string
	Secret          string
	RSAPublicKeyPEM string   // Only needed for consumers that sign with RSA-SHA1
	DisplayName     string   //
	Roles           []string // Roles that this consumer always has, on top of the default consumer role
}

// An AccessToken is a token credential that a Consumer obtained on behalf of a resource owner.
type AccessToken struct {
	Token       string
	Secret      string
	ConsumerKey string
	Permissions []string  // Each permission is resolved to roles through the PermissionDB
	Expires     time.Time // Zero means the token does not expire
}

func (t *AccessToken) IsExpired(now time.Time) bool {
	return !t.Expires.IsZero() && now.After(t.Expires)
}

// An OAuthProvider knows the consumers and the access tokens that have been issued to them.
// It performs no signature validation. That is the job of the Validator.
type OAuthProvider interface {
	GetConsumer(ctx context.Context, consumerKey string) (*Consumer, error)              // Returns ErrConsumerNotFound if the key is unknown
	GetAccessToken(ctx context.Context, consumerKey, token string) (*AccessToken, error) // Returns ErrTokenNotFound if the token is unknown, expired, or belongs to another consumer
	RealmName() string                                                                   // Used in the WWW-Authenticate header of error responses
	Close()                                                                              // Typically used to close a database handle
}

// ProviderAdmin is implemented by providers that can be administered from our command line tool.
type ProviderAdmin interface {
	RegisterConsumer(ctx context.Context, consumer *Consumer) error
	IssueAccessToken(ctx context.Context, consumerKey string, permissions []string, ttl time.Duration) (*AccessToken, error)
	RevokeAccessToken(ctx context.Context, consumerKey, token string) error
}

// A Permission database maps a permission string to zero or more role strings.
type PermissionDB interface {
	// An unknown permission yields no roles and a nil error
	RolesForPermission(ctx context.Context, permission string) ([]string, error)
	SetPermissionRole(ctx context.Context, permission, role string) error
	DeletePermission(ctx context.Context, permission string) error
	GetPermissions(ctx context.Context) (map[string][]string, error)
	Close() // Typically used to close a database handle
}

// A UserRealm validates an identity/password pair for HTTP Basic requests.
type UserRealm interface {
	// Returns the roles of the user, or one of ErrIdentityEmpty, ErrIdentityAuthNotFound, ErrInvalidPassword, ErrInvalidCredentials
	Authenticate(ctx context.Context, identity, password string) ([]string, error)
	Name() string
	Close() // Typically used to close a database handle
}

// UserRealmAdmin is implemented by realms that store their own users.
type UserRealmAdmin interface {
	CreateUser(ctx context.Context, identity, password string, roles []string) error
	SetPassword(ctx context.Context, identity, password string) error
	SetUserRoles(ctx context.Context, identity string, roles []string) error
}

// A NonceStore remembers nonces, so that a signed request cannot be replayed.
type NonceStore interface {
	// Use records the nonce key. fresh is false if the key has been seen before.
	Use(ctx context.Context, key string, timestamp time.Time) (fresh bool, err error)
	// Expiry is how long a nonce is remembered after its timestamp (or its arrival, whichever is later)
	Expiry() time.Duration
	Close()
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// User realm that sanitizes inputs, so that we have more consistency with different backends
type sanitizingUserRealm struct {
	backend UserRealm
}

func cleanIdentityPassword(identity, password string) (string, string) {
	return strings.TrimSpace(identity), strings.TrimSpace(password)
}

func (x *sanitizingUserRealm) Authenticate(ctx context.Context, identity, password string) ([]string, error) {
	identity, password = cleanIdentityPassword(identity, password)
	if len(identity) == 0 {
		return nil, ErrIdentityEmpty
	}
	// We COULD make an empty password an error here, but that is the job of the backend.
	// LDAP is specifically vulnerable to an anonymous BIND, and the LDAP realm checks for that.
	return x.backend.Authenticate(ctx, identity, password)
}

func (x *sanitizingUserRealm) Name() string {
	return x.backend.Name()
}

func (x *sanitizingUserRealm) Close() {
	x.backend.Close()
}
