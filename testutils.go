package oauthbasic

// NewAuthenticatorDummy returns a started Authenticator that keeps everything in memory.
// It is intended for tests of services that mount Authenticator.Middleware.
func NewAuthenticatorDummy(logfile, authMethod string) *Authenticator {
	config := Config{}
	config.Reset()
	config.Authenticator.AuthMethod = authMethod
	auth := NewAuthenticator(logfile, config.Authenticator, config.OAuth, NewOAuthProvider_Memory(config.Authenticator.RealmName), NewPermissionDB_Memory(), NewUserRealm_Memory(nil), nil)
	if err := auth.Start(); err != nil {
		panic(err)
	}
	return auth
}
