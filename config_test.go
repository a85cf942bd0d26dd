package oauthbasic

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigReset(t *testing.T) {
	c := Config{}
	c.Reset()
	assert.Equal(t, "oauth+basic", c.Authenticator.AuthMethod)
	assert.Equal(t, "oauthbasic", c.Authenticator.RealmName)
	assert.Equal(t, "user", c.Authenticator.DefaultConsumerRole)
	assert.Equal(t, OAuthProviderSQL, c.Authenticator.OAuthProviderName)
	assert.Equal(t, int64(300), c.OAuth.TimestampWindowSeconds)
	assert.Equal(t, NonceStoreMemory, c.OAuth.NonceStore)
	assert.Equal(t, UserRealmSQL, c.BasicRealm.Type)
	assert.Equal(t, "postgres", c.DB.Driver)
	assert.Equal(t, uint16(5432), c.DB.Port)
	assert.Equal(t, 60, c.AuthLog.FlushIntervalSeconds)
	assert.False(t, c.AuthLog.Enabled)
}

func TestConfigLoadFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "oauthbasic.json")
	require.NoError(t, os.WriteFile(filename, []byte(`{
		"HTTP": {"Port": 9090},
		"Authenticator": {"AuthMethod": "oauth"},
		"OAuth": {"NonceStore": "sql", "TimestampWindowSeconds": 60},
		"BasicRealm": {"Type": "ldap", "DefaultRoles": ["staff"], "LDAP": {"LdapHost": "dc.example.com", "Encryption": "SSL"}},
		"AuthLog": {"Enabled": true}
	}`), 0644))

	c := Config{}
	require.NoError(t, c.LoadFile(filename))
	assert.Equal(t, 9090, c.HTTP.Port)
	assert.Equal(t, "127.0.0.1", c.HTTP.Bind)
	assert.Equal(t, "oauth", c.Authenticator.AuthMethod)
	assert.Equal(t, "oauthbasic", c.Authenticator.RealmName)
	assert.Equal(t, NonceStoreSQL, c.OAuth.NonceStore)
	assert.Equal(t, int64(60), c.OAuth.TimestampWindowSeconds)
	assert.Equal(t, int64(600), c.OAuth.NonceExpirySeconds)
	assert.Equal(t, []string{"staff"}, c.BasicRealm.DefaultRoles)
	assert.Equal(t, "SSL", c.BasicRealm.LDAP.Encryption)
	assert.Equal(t, uint16(389), c.BasicRealm.LDAP.LdapPort)
	assert.True(t, c.AuthLog.Enabled)
	assert.Equal(t, 10000, c.AuthLog.MaxEntries)
}

func TestConfigLoadFileErrors(t *testing.T) {
	c := Config{}
	assert.Error(t, c.LoadFile(filepath.Join(t.TempDir(), "missing.json")))

	filename := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(filename, []byte(`{"HTTP": `), 0644))
	assert.Error(t, c.LoadFile(filename))
}

func TestDBConnectionString(t *testing.T) {
	c := DBConnection{Host: "localhost", Port: 5432, Database: "auth", User: "jim", Password: "it's a secret"}
	assert.Equal(t, `host=localhost user=jim password='it\'s a secret' dbname=auth sslmode=disable port=5432`, c.ConnectionString())
	c.SSL = true
	c.Port = 0
	c.Password = "abc"
	assert.Equal(t, `host=localhost user=jim password=abc dbname=auth sslmode=require`, c.ConnectionString())
}

func TestParseAuthMethod(t *testing.T) {
	expect := func(method string, oauth, basic, ok bool) {
		o, b, k := parseAuthMethod(method)
		assert.Equal(t, []bool{oauth, basic, ok}, []bool{o, b, k}, method)
	}
	expect("oauth", true, false, true)
	expect("Basic", false, true, true)
	expect(" OAuth+Basic ", true, true, true)
	expect("basic+oauth", true, true, true)
	expect("", false, false, false)
	expect("kerberos", false, false, false)
}

func TestConfigOAuthDurations(t *testing.T) {
	c := ConfigOAuth{}
	assert.Equal(t, 5*time.Minute, c.TimestampWindow())
	assert.Equal(t, 10*time.Minute, c.NonceExpiry())

	c.TimestampWindowSeconds = 900
	assert.Equal(t, 15*time.Minute, c.TimestampWindow())
	assert.Equal(t, 30*time.Minute, c.NonceExpiry())

	c.NonceExpirySeconds = 60
	assert.Equal(t, time.Minute, c.NonceExpiry())
}
