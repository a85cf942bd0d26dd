package oauthbasic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHash(t *testing.T) {
	hash, err := computeHash("1234abcd")
	require.NoError(t, err)
	assert.True(t, verifyHash("1234abcd", hash))
	assert.False(t, verifyHash("1234abce", hash))
	assert.False(t, verifyHash("", hash))

	again, err := computeHash("1234abcd")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "Every hash must have its own salt")

	assert.False(t, verifyHash("1234abcd", "not base64!"))
	assert.False(t, verifyHash("1234abcd", "AQID"))
}

func newTestUserRealm(t *testing.T) (UserRealm, UserRealmAdmin) {
	if isBackendPostgresTest() {
		db := connectToDB(conx_postgres, t)
		t.Cleanup(func() { db.Close() })
		realm, err := NewUserRealm_SQL(db, []string{"basic"})
		require.NoError(t, err)
		return realm, realm.(UserRealmAdmin)
	}
	realm := NewUserRealm_Memory([]string{"basic"})
	return realm, realm
}

func TestUserRealm(t *testing.T) {
	realm, admin := newTestUserRealm(t)
	defer realm.Close()
	ctx := context.Background()

	require.NoError(t, admin.CreateUser(ctx, "Sam@Example.com", "pwd", []string{"clerk", "auditor", "clerk"}))
	err := admin.CreateUser(ctx, "sam@example.com", "other", nil)
	assert.True(t, errors.Is(err, ErrIdentityExists), "%v", err)
	assert.Equal(t, ErrIdentityEmpty, admin.CreateUser(ctx, " ", "pwd", nil))

	roles, err := realm.Authenticate(ctx, "SAM@example.com", "pwd")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"basic", "clerk", "auditor"}, roles)
	assert.Equal(t, "basic", roles[0])

	_, err = realm.Authenticate(ctx, "sam@example.com", "PWD")
	assert.Equal(t, ErrInvalidPassword, err)
	_, err = realm.Authenticate(ctx, "ghost@example.com", "pwd")
	assert.Equal(t, ErrIdentityAuthNotFound, err)

	require.NoError(t, admin.SetPassword(ctx, "sam@example.com", "new"))
	_, err = realm.Authenticate(ctx, "sam@example.com", "pwd")
	assert.Equal(t, ErrInvalidPassword, err)
	_, err = realm.Authenticate(ctx, "sam@example.com", "new")
	assert.NoError(t, err)

	require.NoError(t, admin.SetUserRoles(ctx, "sam@example.com", []string{"admin"}))
	roles, err = realm.Authenticate(ctx, "sam@example.com", "new")
	require.NoError(t, err)
	assert.Equal(t, []string{"basic", "admin"}, roles)

	assert.Equal(t, ErrIdentityAuthNotFound, admin.SetPassword(ctx, "ghost@example.com", "x"))
	assert.Equal(t, ErrIdentityAuthNotFound, admin.SetUserRoles(ctx, "ghost@example.com", nil))
}

func TestSanitizingUserRealm(t *testing.T) {
	backend := NewUserRealm_Memory(nil)
	require.NoError(t, backend.CreateUser(context.Background(), "jim", "pwd", nil))
	realm := &sanitizingUserRealm{backend: backend}

	_, err := realm.Authenticate(context.Background(), "  ", "pwd")
	assert.Equal(t, ErrIdentityEmpty, err)
	_, err = realm.Authenticate(context.Background(), " jim\t", " pwd ")
	assert.NoError(t, err)
	assert.Equal(t, UserRealmMemory, realm.Name())
	// Close leaves the backend in place, so a late caller gets the backend's own answer
	realm.Close()
	_, err = realm.Authenticate(context.Background(), "jim", "pwd")
	assert.NoError(t, err)
}

func TestMigrationsAreOrdered(t *testing.T) {
	m := createMigrations()
	assert.Equal(t, 6, len(m))
}
