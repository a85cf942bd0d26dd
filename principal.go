package oauthbasic

import (
	"context"
	"net/http"
)

const (
	AuthTypeOAuth = "OAuth"
	AuthTypeBasic = "BASIC"
)

// A Realm answers role questions about a principal.
type Realm interface {
	Name() string
	HasRole(principal *Principal, role string) bool
}

/*
Principal is the result of a successful authentication. It lives only for the
duration of a single request.
*/
type Principal struct {
	Name        string   // Consumer key for OAuth, username for Basic
	Roles       []string //
	AuthType    string   // AuthTypeOAuth or AuthTypeBasic
	ConsumerKey string   // Only applicable to OAuth
	AccessToken string   // Only applicable to 3-legged OAuth
	Realm       Realm    // May be nil
}

// HasRole asks the principal's realm, if it has one, otherwise it checks Roles
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	if p.Realm != nil {
		return p.Realm.HasRole(p, role)
	}
	return containsString(p.Roles, role)
}

// OAuthRealm is created for each OAuth request, and holds the roles that were assigned to
// the consumer during that request.
type OAuthRealm struct {
	username string
	roles    []string
}

func NewOAuthRealm(username string, roles []string) *OAuthRealm {
	cpy := make([]string, len(roles))
	copy(cpy, roles)
	return &OAuthRealm{
		username: username,
		roles:    cpy,
	}
}

func (x *OAuthRealm) Name() string {
	return "OAuthRealm"
}

func (x *OAuthRealm) HasRole(principal *Principal, role string) bool {
	return containsString(x.roles, role)
}

// HasResourcePermission is always true. Whether a role may reach a resource is decided by the
// handler that serves the resource.
func (x *OAuthRealm) HasResourcePermission(r *http.Request) bool {
	return true
}

type principalContextKey struct{}

func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext returns nil if the request was not authenticated by our Middleware
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

func PrincipalFromRequest(r *http.Request) *Principal {
	return PrincipalFromContext(r.Context())
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// uniqueRoles removes empty and duplicate roles, preserving the order of first appearance
func uniqueRoles(roles []string) []string {
	res := make([]string, 0, len(roles))
	seen := make(map[string]bool, len(roles))
	for _, r := range roles {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		res = append(res, r)
	}
	return res
}
