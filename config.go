package oauthbasic

import (
	"encoding/json"
	"io"
	"os"
	"time"
)

/*

Example config:

{
	"Log": {
		"Filename":	"c:/imqsvar/logs/oauthbasic.log"
	},
	"HTTP": {
		"Port":			8080,
		"Bind":			"127.0.0.1"
	},
	"DB": {
		"Driver":		"postgres",
		"Host":			"auth.example.com",
		"Database": 	"oauthbasic",
		"User":			"jim",
		"Password":		"123",
		"SSL":			true
	},
	"Authenticator": {
		"AuthMethod":			"oauth+basic",
		"OAuthProviderName":	"sql"
	},
	"OAuth": {
		"TimestampWindowSeconds":	300,
		"NonceStore":				"sql"
	},
	"BasicRealm": {
		"Type":			"ldap",
		"DefaultRoles":	["user"],
		"LDAP": {
			"LdapHost":		"domaincontroller.example.com",
			"LdapPort":		389,
			"Encryption":	"SSL",
			"LdapDomain":	"example.com"
		}
	}
}

*/

const (
	defaultRealmName              = "oauthbasic"
	defaultConsumerRole           = "user"
	defaultAuthMethod             = "oauth+basic"
	defaultOAuthProviderName      = "sql"
	defaultTimestampWindowSeconds = 5 * 60
	defaultNonceExpirySeconds     = 10 * 60
	defaultAuthLogFlushSeconds    = 60
	defaultAuthLogMaxEntries      = 10000
	defaultHTTPRateLimitPerMinute = 600
	NonceStoreMemory              = "memory"
	NonceStoreSQL                 = "sql"
	UserRealmSQL                  = "sql"
	UserRealmLDAP                 = "ldap"
	UserRealmMemory               = "memory"
	defaultUserRealmType          = UserRealmSQL
	defaultHTTPBind               = "127.0.0.1"
	defaultHTTPPort               = 8080
	defaultPostgresPort           = 5432
	defaultPostgresDriver         = "postgres"
	defaultLdapPort               = 389
)

var configLdapNameToMode = map[string]LdapConnectionMode{
	"":    LdapConnectionModePlainText,
	"SSL": LdapConnectionModeSSL,
	"TLS": LdapConnectionModeTLS,
}

type ConfigLog struct {
	Filename string // Empty means stdout
}

type ConfigHTTP struct {
	Port               int
	Bind               string
	RateLimitPerMinute int // Requests per client IP per minute. Zero disables rate limiting.
}

type ConfigAuthenticator struct {
	AuthMethod          string // "oauth", "basic", "oauth+basic", "basic+oauth"
	RealmName           string // Sent in WWW-Authenticate challenges
	DefaultConsumerRole string // Every OAuth principal has this role
	OAuthProviderName   string // Name under which the provider was registered with RegisterOAuthProvider
}

type ConfigOAuth struct {
	TimestampWindowSeconds int64  // A request's oauth_timestamp may differ from our clock by at most this much
	NonceStore             string // "memory" or "sql"
	NonceExpirySeconds     int64  // How long we remember a nonce. Must be at least twice TimestampWindowSeconds.
}

// TimestampWindow returns the configured window, or the default if none is set
func (x *ConfigOAuth) TimestampWindow() time.Duration {
	if x.TimestampWindowSeconds <= 0 {
		return defaultTimestampWindowSeconds * time.Second
	}
	return time.Duration(x.TimestampWindowSeconds) * time.Second
}

// NonceExpiry returns the configured nonce expiry. If none is set, we use the default,
// or twice the timestamp window if that is longer.
func (x *ConfigOAuth) NonceExpiry() time.Duration {
	if x.NonceExpirySeconds > 0 {
		return time.Duration(x.NonceExpirySeconds) * time.Second
	}
	expiry := defaultNonceExpirySeconds * time.Second
	if 2*x.TimestampWindow() > expiry {
		expiry = 2 * x.TimestampWindow()
	}
	return expiry
}

type ConfigLDAP struct {
	LdapHost   string
	LdapPort   uint16
	Encryption string // "", "TLS", "SSL"
	LdapDomain string // If not empty, then "@LdapDomain" is appended to identities that have no domain
}

type ConfigUserRealm struct {
	Type         string   // "sql", "ldap", "memory"
	DefaultRoles []string // Roles that every successfully authenticated Basic user receives
	LDAP         ConfigLDAP
}

type ConfigAuthLog struct {
	Enabled              bool
	FlushIntervalSeconds int
	MaxEntries           int
	Test_MemDump         bool // Keep flushed entries in memory when there is no DB. Only for tests.
}

func (c *ConfigAuthLog) SetDefaults() {
	if c.FlushIntervalSeconds <= 0 {
		c.FlushIntervalSeconds = defaultAuthLogFlushSeconds
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = defaultAuthLogMaxEntries
	}
}

type Config struct {
	Log           ConfigLog
	HTTP          ConfigHTTP
	DB            DBConnection
	Authenticator ConfigAuthenticator
	OAuth         ConfigOAuth
	BasicRealm    ConfigUserRealm
	AuthLog       ConfigAuthLog
}

func (x *Config) Reset() {
	*x = Config{}
	x.HTTP.Bind = defaultHTTPBind
	x.HTTP.Port = defaultHTTPPort
	x.HTTP.RateLimitPerMinute = defaultHTTPRateLimitPerMinute
	x.DB.Driver = defaultPostgresDriver
	x.DB.Port = defaultPostgresPort
	x.Authenticator.AuthMethod = defaultAuthMethod
	x.Authenticator.RealmName = defaultRealmName
	x.Authenticator.DefaultConsumerRole = defaultConsumerRole
	x.Authenticator.OAuthProviderName = defaultOAuthProviderName
	x.OAuth.TimestampWindowSeconds = defaultTimestampWindowSeconds
	x.OAuth.NonceStore = NonceStoreMemory
	x.OAuth.NonceExpirySeconds = defaultNonceExpirySeconds
	x.BasicRealm.Type = defaultUserRealmType
	x.BasicRealm.LDAP.LdapPort = defaultLdapPort
	x.AuthLog.SetDefaults()
}

func (x *Config) LoadFile(filename string) error {
	x.Reset()
	var file *os.File
	var all []byte
	var err error
	if file, err = os.Open(filename); err != nil {
		return err
	}
	defer file.Close()
	if all, err = io.ReadAll(file); err != nil {
		return err
	}
	if err = json.Unmarshal(all, x); err != nil {
		return err
	}
	x.AuthLog.SetDefaults()
	return nil
}
