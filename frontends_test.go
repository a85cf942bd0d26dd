package oauthbasic

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBasicRequest(identity, password string) *http.Request {
	r := httptest.NewRequest("GET", "http://example.com/whoami", nil)
	r.SetBasicAuth(identity, password)
	return r
}

func newDiscardRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

func withPrincipal(r *http.Request, p *Principal) *http.Request {
	return r.WithContext(WithPrincipal(r.Context(), p))
}

func TestHttpPing(t *testing.T) {
	auth := NewAuthenticatorDummy("", "oauth")
	defer auth.Stop()
	server := httptest.NewServer(NewRouter(&ConfigHTTP{}, auth))
	defer server.Close()

	resp, err := http.Get(server.URL + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(body), `{"Timestamp": `), string(body))
}

func TestHttpWhoAmIWithoutPrincipal(t *testing.T) {
	rr := httptest.NewRecorder()
	HttpHandlerWhoAmI(rr, httptest.NewRequest("GET", "http://example.com/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHttpWhoAmIBasic(t *testing.T) {
	rr := httptest.NewRecorder()
	p := &Principal{Name: "jim", AuthType: AuthTypeBasic}
	HttpHandlerWhoAmI(rr, withPrincipal(httptest.NewRequest("GET", "http://example.com/whoami", nil), p))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assertJSONEqual(t, `{"name": "jim", "authType": "BASIC", "accessToken": false, "roles": []}`, rr.Body.String())
}

func TestHttpRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HttpSendTxt(w, http.StatusOK, "ok")
	})
	handler := RequireRole("admin", "editor")(ok)

	send := func(p *Principal) int {
		rr := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "http://example.com/edit", nil)
		if p != nil {
			r = withPrincipal(r, p)
		}
		handler.ServeHTTP(rr, r)
		return rr.Code
	}
	assert.Equal(t, http.StatusOK, send(&Principal{Roles: []string{"editor"}}))
	assert.Equal(t, http.StatusOK, send(&Principal{Roles: []string{"viewer"}, Realm: NewOAuthRealm("joe", []string{"admin"})}))
	assert.Equal(t, http.StatusForbidden, send(&Principal{Roles: []string{"viewer"}}))
	assert.Equal(t, http.StatusForbidden, send(nil))
}

func TestHttpRateLimit(t *testing.T) {
	auth := NewAuthenticatorDummy("", "basic")
	defer auth.Stop()
	server := httptest.NewServer(NewRouter(&ConfigHTTP{RateLimitPerMinute: 3}, auth))
	defer server.Close()

	codes := []int{}
	for i := 0; i < 5; i++ {
		resp, err := http.Get(server.URL + "/whoami")
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{401, 401, 401, 429, 429}, codes)

	// /ping is outside of the rate limited group
	resp, err := http.Get(server.URL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHttpSendTxtHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	HttpSendTxt(rr, http.StatusTeapot, "short and stout")
	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rr.Header().Get("Pragma"))
	assert.Equal(t, "short and stout", rr.Body.String())
}
