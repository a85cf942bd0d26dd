package oauthbasic

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

type whoAmIResponse struct {
	Name        string   `json:"name"`
	AuthType    string   `json:"authType"`
	ConsumerKey string   `json:"consumerKey,omitempty"`
	AccessToken bool     `json:"accessToken"` // We never echo the token itself
	Roles       []string `json:"roles"`
	Realm       string   `json:"realm,omitempty"`
}

func HttpSendTxt(w http.ResponseWriter, responseCode int, responseBody string) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-cache, no-store, must revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(responseCode)
	fmt.Fprintf(w, "%v", responseBody)
}

func HttpSendJSON(w http.ResponseWriter, responseCode int, obj interface{}) {
	b, err := json.Marshal(obj)
	if err != nil {
		HttpSendTxt(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(responseCode)
	w.Write(b)
}

// HttpHandlerWhoAmI sends back the principal of an authenticated request. This is really just for debugging.
func HttpHandlerWhoAmI(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromRequest(r)
	if p == nil {
		HttpSendTxt(w, http.StatusUnauthorized, ErrHttpNotAuthorized.Error())
		return
	}
	resp := whoAmIResponse{
		Name:        p.Name,
		AuthType:    p.AuthType,
		ConsumerKey: p.ConsumerKey,
		AccessToken: p.AccessToken != "",
		Roles:       p.Roles,
	}
	if resp.Roles == nil {
		resp.Roles = []string{}
	}
	if p.Realm != nil {
		resp.Realm = p.Realm.Name()
	}
	HttpSendJSON(w, http.StatusOK, &resp)
}

// HttpHandlerHasRole answers 200 if the principal has the role in the URL, and 403 if it does not
func HttpHandlerHasRole(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	if PrincipalFromRequest(r).HasRole(role) {
		HttpSendTxt(w, http.StatusOK, role)
	} else {
		HttpSendTxt(w, http.StatusForbidden, fmt.Sprintf("Role '%v' is not granted", role))
	}
}

// RequireRole only lets a request through if its principal has at least one of the roles.
// It must sit behind Authenticator.Middleware.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromRequest(r)
			for _, role := range roles {
				if p.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			HttpSendTxt(w, http.StatusForbidden, http.StatusText(http.StatusForbidden))
		})
	}
}

// NewRouter wires up the HTTP handlers. /ping is open, and everything else goes through the authenticator.
func NewRouter(config *ConfigHTTP, auth *Authenticator) http.Handler {
	r := chi.NewRouter()
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		HttpSendTxt(w, http.StatusOK, fmt.Sprintf(`{"Timestamp": %v}`, time.Now().Unix()))
	})
	r.Group(func(r chi.Router) {
		if config.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(config.RateLimitPerMinute, time.Minute))
		}
		r.Use(auth.Middleware)
		r.Get("/whoami", HttpHandlerWhoAmI)
		r.Get("/roles/{role}", HttpHandlerHasRole)
	})
	return r
}

// Run as a standalone HTTP server. This is useful for demo purposes, and for checking
// that clients sign their requests correctly. You will probably want to mount
// Authenticator.Middleware on your own router instead.
func RunHttp(config *ConfigHTTP, auth *Authenticator) error {
	addr := fmt.Sprintf("%v:%v", config.Bind, config.Port)
	auth.Log.Infof("Trying to listen on %v", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(config, auth),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}

func RunHttpFromConfig(config *Config) error {
	auth, err := NewAuthenticatorFromConfig(config)
	if err != nil {
		return err
	}
	defer auth.Stop()
	return RunHttp(&config.HTTP, auth)
}
