package oauthbasic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalHasRole(t *testing.T) {
	var nobody *Principal
	assert.False(t, nobody.HasRole("user"))

	basic := &Principal{Name: "jim", Roles: []string{"clerk"}, AuthType: AuthTypeBasic}
	assert.True(t, basic.HasRole("clerk"))
	assert.False(t, basic.HasRole("admin"))

	// The realm decides, when there is one
	oauth := &Principal{Name: "joe", Roles: []string{"user"}, Realm: NewOAuthRealm("joe", []string{"editor"})}
	assert.True(t, oauth.HasRole("editor"))
	assert.False(t, oauth.HasRole("user"))
}

func TestOAuthRealmCopiesRoles(t *testing.T) {
	roles := []string{"user", "viewer"}
	realm := NewOAuthRealm("joe", roles)
	roles[1] = "admin"
	assert.True(t, realm.HasRole(nil, "viewer"))
	assert.False(t, realm.HasRole(nil, "admin"))
	assert.Equal(t, "OAuthRealm", realm.Name())
	assert.True(t, realm.HasResourcePermission(nil))
}

func TestPrincipalContext(t *testing.T) {
	assert.Nil(t, PrincipalFromContext(context.Background()))
	p := &Principal{Name: "joe"}
	assert.True(t, p == PrincipalFromContext(WithPrincipal(context.Background(), p)))
}

func TestUniqueRoles(t *testing.T) {
	assert.Equal(t, []string{"user", "reader", "viewer"}, uniqueRoles([]string{"user", "", "reader", "user", "viewer", "reader"}))
	assert.Equal(t, []string{}, uniqueRoles(nil))
}

func TestCanonicalizeIdentity(t *testing.T) {
	assert.Equal(t, "jim@example.com", CanonicalizeIdentity(" Jim@Example.COM "))
}
