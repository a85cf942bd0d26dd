package oauthbasic

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/IMQS/log"
)

var (
	// NOTE: These 'base' error strings may not be prefixes of each other,
	// otherwise it violates our NewError() concept, which ensures that
	// any error starts with one of these *unique* prefixes
	ErrConnect               = errors.New("Connect failed")
	ErrUnsupported           = errors.New("Unsupported operation")
	ErrUnsupportedAuthMethod = errors.New("Unsupported auth method")
	ErrNotStarted            = errors.New("Authenticator has not been started")
	ErrStopped               = errors.New("Authenticator was stopped")
	ErrInvalidConfig         = errors.New("Invalid configuration")
	ErrIdentityEmpty         = errors.New("Identity may not be empty")
	ErrIdentityAuthNotFound  = errors.New("Identity authorization not found")
	ErrIdentityExists        = errors.New("Identity already exists")
	ErrInvalidPassword       = errors.New("Invalid password")
	ErrInvalidCredentials    = errors.New("Invalid Credentials") // LDAP does not distinguish between 'identity not found' and 'invalid password'
	ErrConsumerNotFound      = errors.New("OAuth consumer not found")
	ErrConsumerExists        = errors.New("OAuth consumer already exists")
	ErrTokenNotFound         = errors.New("OAuth token not found")
	ErrProviderNotRegistered = errors.New("OAuth provider not registered")
	ErrRoleLookup            = errors.New("Role lookup failed")
	ErrHttpBasicAuth         = errors.New("HTTP Basic Authorization must be base64(identity:password)")
	ErrHttpNotAuthorized     = errors.New("No authorization information")
)

// NewError is to be used whenever you return one of our errors. We rely upon the
// prefix of the error string to identify the broad category of the error, and
// the base error is wrapped, so errors.Is(err, base) holds.
func NewError(base error, detail string) error {
	return fmt.Errorf("%w: %v", base, detail)
}

// CanonicalizeIdentity transforms an identity into its canonical form. What this
// means is that any two identities are considered equal if their canonical forms
// are equal. This is simply a lower-casing of the identity, so that
// "bob@enterprise.com" is equal to "Bob@enterprise.com".
// It also trims the whitespace around the identity.
func CanonicalizeIdentity(identity string) string {
	return strings.TrimSpace(strings.ToLower(identity))
}

// RandomString returns a random string of 'nchars' bytes, sampled uniformly from the given corpus of byte characters.
func RandomString(nchars int, corpus string) string {
	rbytes := make([]byte, nchars)
	rstring := make([]byte, nchars)
	rand.Read(rbytes)
	for i := 0; i < nchars; i++ {
		rstring[i] = corpus[rbytes[i]%byte(len(corpus))]
	}
	return string(rstring)
}

func generateRandomKey(length int) string {
	// No unusual characters in here, so that tokens and secrets survive any header or cookie encoding untouched
	return RandomString(length, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type AuthStats struct {
	GoodOAuth       uint64
	GoodBasic       uint64
	OAuthProblems   uint64
	InvalidBasic    uint64
	EmptyIdentities uint64
	InternalErrors  uint64
}

func isPowerOf2(x uint64) bool {
	return 0 == x&(x-1)
}

func (x *AuthStats) IncrementAndLog(name string, val *uint64, logger *log.Logger) {
	n := atomic.AddUint64(val, 1)
	if isPowerOf2(n) || (n&255) == 0 {
		logger.Infof("%v %v", n, name)
	}
}

func (x *AuthStats) IncrementGoodOAuth(logger *log.Logger) {
	x.IncrementAndLog("good OAuth requests", &x.GoodOAuth, logger)
}

func (x *AuthStats) IncrementGoodBasic(logger *log.Logger) {
	x.IncrementAndLog("good Basic requests", &x.GoodBasic, logger)
}

func (x *AuthStats) IncrementOAuthProblems(logger *log.Logger) {
	x.IncrementAndLog("rejected OAuth requests", &x.OAuthProblems, logger)
}

func (x *AuthStats) IncrementInvalidBasic(logger *log.Logger) {
	x.IncrementAndLog("invalid Basic credentials", &x.InvalidBasic, logger)
}

func (x *AuthStats) IncrementEmptyIdentities(logger *log.Logger) {
	x.IncrementAndLog("empty identities", &x.EmptyIdentities, logger)
}

func (x *AuthStats) IncrementInternalErrors(logger *log.Logger) {
	x.IncrementAndLog("internal authentication errors", &x.InternalErrors, logger)
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

/*
Authenticator is the single hub that decides whether an HTTP request is authentic.
A request with an Authorization header of any scheme other than "OAuth" is delegated
to the UserRealm (HTTP Basic). Any other request is validated as an OAuth 1.0 request.
All public methods of Authenticator are callable from multiple threads, once Start has returned.
*/
type Authenticator struct {
	// Stats must be first so that we are guaranteed to get it 8-byte aligned. We atomically
	// increment counters inside AuthStats, and the atomic functions need 8-byte alignment
	// on their operands.
	Stats       AuthStats
	Config      ConfigAuthenticator
	OAuthConfig ConfigOAuth
	Log         *log.Logger
	DB          *sql.DB
	AuthLog     *AuthLogTracker

	provider   OAuthProvider
	permDB     PermissionDB
	userRealm  UserRealm
	nonces     NonceStore
	validator  *Validator
	allowOAuth bool
	allowBasic bool
	startLock  sync.Mutex
	started    uint32
	stopped    bool
}

// Create a new Authenticator from the specified pieces.
// userRealm may be nil if the auth method does not include basic.
// nonces may be nil, in which case an in-memory NonceStore is created by Start.
func NewAuthenticator(logfile string, config ConfigAuthenticator, oauthConfig ConfigOAuth, provider OAuthProvider, permDB PermissionDB, userRealm UserRealm, nonces NonceStore) *Authenticator {
	x := &Authenticator{
		Config:      config,
		OAuthConfig: oauthConfig,
		provider:    provider,
		permDB:      permDB,
		nonces:      nonces,
	}
	if userRealm != nil {
		x.userRealm = &sanitizingUserRealm{backend: userRealm}
	}
	if x.Config.RealmName == "" {
		x.Config.RealmName = defaultRealmName
	}

	// We don't want logging to stdout when the service is running on a windows
	// machine. This decision was made to avoid having to bloat the service with
	// unnecessary config
	x.Log = log.New(resolveLogfile(logfile), runtime.GOOS != "windows")
	return x
}

// Create a new Authenticator from a Config, and Start it.
func NewAuthenticatorFromConfig(config *Config) (auth *Authenticator, err error) {
	var (
		db        *sql.DB
		provider  OAuthProvider
		permDB    PermissionDB
		userRealm UserRealm
		nonces    NonceStore
	)

	startupLogger := log.New(resolveLogfile(config.Log.Filename), runtime.GOOS != "windows")

	defer func() {
		if ePanic := recover(); ePanic != nil {
			if provider != nil {
				provider.Close()
			}
			if permDB != nil {
				permDB.Close()
			}
			if userRealm != nil {
				userRealm.Close()
			}
			if nonces != nil {
				nonces.Close()
			}
			if db != nil {
				db.Close()
			}
			startupLogger.Errorf("Error initializing: %v", ePanic)
			if e, isErr := ePanic.(error); isErr {
				err = e
			} else {
				err = fmt.Errorf("%v", ePanic)
			}
		}
	}()

	// All of our SQL backed components share a single database, so we connect once and hand
	// the same *sql.DB to each of them.
	if db, err = config.DB.Connect(); err != nil {
		panic(NewError(ErrConnect, err.Error()))
	}
	if err = db.Ping(); err != nil {
		panic(NewError(ErrConnect, err.Error()))
	}

	if provider, err = NewOAuthProvider(config.Authenticator.OAuthProviderName, db, startupLogger); err != nil {
		panic(fmt.Errorf("Error creating OAuth provider: %w", err))
	}

	if permDB, err = NewPermissionDB_SQL(db); err != nil {
		panic(fmt.Errorf("Error connecting to PermissionDB: %w", err))
	}

	switch config.BasicRealm.Type {
	case UserRealmSQL, "":
		userRealm, err = NewUserRealm_SQL(db, config.BasicRealm.DefaultRoles)
	case UserRealmLDAP:
		userRealm, err = NewUserRealm_LDAP(&config.BasicRealm.LDAP, config.BasicRealm.DefaultRoles)
	case UserRealmMemory:
		userRealm = NewUserRealm_Memory(config.BasicRealm.DefaultRoles)
	default:
		err = fmt.Errorf("Unknown BasicRealm type '%v'", config.BasicRealm.Type)
	}
	if err != nil {
		panic(fmt.Errorf("Error creating user realm: %w", err))
	}

	expiry := config.OAuth.NonceExpiry()
	switch config.OAuth.NonceStore {
	case NonceStoreSQL:
		nonces = NewNonceStore_SQL(db, expiry, startupLogger)
	case NonceStoreMemory, "":
		nonces = NewNonceStore_Memory(expiry)
	default:
		panic(fmt.Errorf("Unknown NonceStore '%v'", config.OAuth.NonceStore))
	}

	a := NewAuthenticator(config.Log.Filename, config.Authenticator, config.OAuth, provider, permDB, userRealm, nonces)
	a.DB = db
	if config.AuthLog.Enabled {
		a.AuthLog = NewAuthLogTracker(config.AuthLog, a.Log, db)
	}
	if err = a.Start(); err != nil {
		panic(err)
	}
	startupLogger.Infof("OAuth timestamps may be %v seconds old", config.OAuth.TimestampWindowSeconds)
	return a, nil
}

func resolveLogfile(logfile string) string {
	if logfile != "" {
		return logfile
	}
	return log.Stdout
}

// parseAuthMethod returns which schemes the given auth method permits
func parseAuthMethod(method string) (allowOAuth, allowBasic, ok bool) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "oauth":
		return true, false, true
	case "basic":
		return false, true, true
	case "oauth+basic", "basic+oauth":
		return true, true, true
	}
	return false, false, false
}

// Start validates the configuration and prepares the validator. Calling Start more than once has no effect.
func (x *Authenticator) Start() error {
	x.startLock.Lock()
	defer x.startLock.Unlock()
	if x.IsStarted() {
		return nil
	}
	if x.stopped {
		return ErrStopped
	}

	allowOAuth, allowBasic, ok := parseAuthMethod(x.Config.AuthMethod)
	if !ok {
		return NewError(ErrUnsupportedAuthMethod, x.Config.AuthMethod)
	}
	if allowOAuth && (x.provider == nil || x.permDB == nil) {
		return fmt.Errorf("Auth method '%v' needs an OAuth provider and a permission database", x.Config.AuthMethod)
	}
	if allowBasic && x.userRealm == nil {
		return fmt.Errorf("Auth method '%v' needs a user realm", x.Config.AuthMethod)
	}
	x.allowOAuth = allowOAuth
	x.allowBasic = allowBasic

	if allowOAuth {
		window := x.OAuthConfig.TimestampWindow()
		if x.nonces == nil {
			x.nonces = NewNonceStore_Memory(x.OAuthConfig.NonceExpiry())
		}
		// A nonce must outlive every timestamp that the window still accepts, otherwise it can be replayed
		if x.nonces.Expiry() < 2*window {
			return NewError(ErrInvalidConfig, fmt.Sprintf("nonce expiry %v must be at least twice the timestamp window %v", x.nonces.Expiry(), window))
		}
		x.validator = NewValidator(window, x.nonces)
	}

	if x.AuthLog != nil {
		x.AuthLog.Initialize(x.Log)
	}

	atomic.StoreUint32(&x.started, 1)
	x.Log.Infof("Authenticator started (auth method %v)", x.Config.AuthMethod)
	return nil
}

func (x *Authenticator) IsStarted() bool {
	return atomic.LoadUint32(&x.started) != 0
}

// Stop closes every backend. Errors while closing are logged and otherwise ignored.
// Calling Stop more than once has no effect, and an Authenticator cannot be restarted after Stop.
func (x *Authenticator) Stop() {
	x.startLock.Lock()
	defer x.startLock.Unlock()
	if x.stopped {
		return
	}
	x.stopped = true
	if x.Log != nil {
		x.Log.Infof("Authenticator has started shutting down")
	}
	atomic.StoreUint32(&x.started, 0)
	if x.AuthLog != nil {
		x.AuthLog.Stop()
	}
	// The backend handles stay in place after Close. A request that passed the started check
	// may still be using them, and gets an error from a closed backend rather than a nil one.
	if x.provider != nil {
		x.provider.Close()
	}
	if x.permDB != nil {
		x.permDB.Close()
	}
	if x.userRealm != nil {
		x.userRealm.Close()
	}
	if x.nonces != nil {
		x.nonces.Close()
	}
	if x.DB != nil {
		if err := x.DB.Close(); err != nil {
			x.Log.Warnf("Error closing database: %v", err)
		}
	}
	if x.Log != nil {
		x.Log.Infof("Authenticator has shut down")
	}
}

// Provider returns the OAuth provider (which may be nil for a Basic-only authenticator)
func (x *Authenticator) Provider() OAuthProvider {
	return x.provider
}

// PermissionDB returns the permission database (which may be nil for a Basic-only authenticator)
func (x *Authenticator) PermissionDB() PermissionDB {
	return x.permDB
}

// UserRealm returns the realm that Basic requests are delegated to (which may be nil for an OAuth-only authenticator)
func (x *Authenticator) UserRealm() UserRealm {
	if s, ok := x.userRealm.(*sanitizingUserRealm); ok {
		return s.backend
	}
	return x.userRealm
}

/*
Authenticate decides whether the request is authentic. If it is, the principal is returned.
If it is not, an appropriate error response has already been written to w, and you must not
send anything else to the response.
*/
func (x *Authenticator) Authenticate(w http.ResponseWriter, r *http.Request) (*Principal, error) {
	if !x.IsStarted() {
		HttpSendTxt(w, http.StatusInternalServerError, ErrNotStarted.Error())
		return nil, ErrNotStarted
	}

	authorization := r.Header.Get("Authorization")
	if authorization != "" && !isOAuthAuthorization(authorization) {
		return x.authenticateBasic(w, r)
	}

	if !x.allowOAuth {
		x.sendBasicChallenge(w, http.StatusUnauthorized, ErrHttpNotAuthorized.Error())
		x.logAttempt(r, AuthTypeOAuth, "", AuthOutcomeRejected)
		return nil, ErrHttpNotAuthorized
	}
	return x.authenticateOAuth(w, r)
}

// Middleware authenticates every request, and only calls next if authentication succeeded.
// The principal is available to next via PrincipalFromRequest.
func (x *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := x.Authenticate(w, r)
		if err != nil {
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func (x *Authenticator) authenticateBasic(w http.ResponseWriter, r *http.Request) (*Principal, error) {
	if !x.allowBasic {
		HttpSendTxt(w, http.StatusUnauthorized, ErrHttpNotAuthorized.Error())
		x.logAttempt(r, AuthTypeBasic, "", AuthOutcomeRejected)
		return nil, ErrHttpNotAuthorized
	}

	identity, password, basicOK := r.BasicAuth()
	if !basicOK {
		HttpSendTxt(w, http.StatusBadRequest, ErrHttpBasicAuth.Error())
		x.logAttempt(r, AuthTypeBasic, "", AuthOutcomeRejected)
		return nil, ErrHttpBasicAuth
	}

	roles, err := x.userRealm.Authenticate(r.Context(), identity, password)
	if err != nil {
		if errors.Is(err, ErrIdentityEmpty) {
			// Treat empty identity specially, since this is a very common condition, and tends to flood the logs.
			x.Stats.IncrementEmptyIdentities(x.Log)
			x.sendBasicChallenge(w, http.StatusUnauthorized, ErrIdentityEmpty.Error())
		} else if isCredentialError(err) {
			x.Stats.IncrementInvalidBasic(x.Log)
			x.Log.Infof("Basic authentication failed (%v) (%v) from %v", identity, err, clientIPAddress(r))
			x.sendBasicChallenge(w, http.StatusUnauthorized, err.Error())
		} else {
			x.Stats.IncrementInternalErrors(x.Log)
			x.Log.Errorf("Basic authentication error (%v) (%v)", identity, err)
			HttpSendTxt(w, http.StatusInternalServerError, err.Error())
		}
		x.logAttempt(r, AuthTypeBasic, identity, AuthOutcomeRejected)
		return nil, err
	}

	principal := &Principal{
		Name:     CanonicalizeIdentity(identity),
		Roles:    uniqueRoles(roles),
		AuthType: AuthTypeBasic,
	}
	x.Stats.IncrementGoodBasic(x.Log)
	x.logAttempt(r, AuthTypeBasic, principal.Name, AuthOutcomeAccepted)
	return principal, nil
}

func (x *Authenticator) authenticateOAuth(w http.ResponseWriter, r *http.Request) (*Principal, error) {
	msg, err := ReadOAuthMessage(r)
	if err == nil {
		var principal *Principal
		if principal, err = x.validateOAuth(r.Context(), msg); err == nil {
			x.Stats.IncrementGoodOAuth(x.Log)
			x.logAttempt(r, AuthTypeOAuth, principal.Name, AuthOutcomeAccepted)
			return principal, nil
		}
	}

	consumerKey := ""
	if msg != nil {
		consumerKey = msg.Get(OAuthConsumerKey)
	}
	x.sendOAuthError(w, consumerKey, err)
	x.logAttempt(r, AuthTypeOAuth, consumerKey, AuthOutcomeRejected)
	return nil, err
}

func (x *Authenticator) validateOAuth(ctx context.Context, msg *OAuthMessage) (*Principal, error) {
	if err := msg.RequireParameters(OAuthConsumerKey, OAuthSignatureMethod, OAuthSignature, OAuthTimestamp, OAuthNonce); err != nil {
		return nil, err
	}

	consumerKey := msg.Get(OAuthConsumerKey)
	consumer, err := x.provider.GetConsumer(ctx, consumerKey)
	if err != nil {
		if errors.Is(err, ErrConsumerNotFound) {
			return nil, NewOAuthProblem(ProblemConsumerKeyUnknown, consumerKey)
		}
		return nil, err
	}

	var token *AccessToken
	tokenString := msg.Get(OAuthToken)
	if tokenString != "" {
		if token, err = x.provider.GetAccessToken(ctx, consumer.Key, tokenString); err != nil {
			if errors.Is(err, ErrTokenNotFound) {
				return nil, NewOAuthProblem(ProblemTokenRejected, "")
			}
			return nil, err
		}
	}

	if err := x.validator.Validate(ctx, msg, consumer, token); err != nil {
		return nil, err
	}

	roles, err := x.rolesFor(ctx, consumer, token)
	if err != nil {
		return nil, err
	}

	return &Principal{
		Name:        consumer.Key,
		Roles:       roles,
		AuthType:    AuthTypeOAuth,
		ConsumerKey: consumer.Key,
		AccessToken: tokenString,
		Realm:       NewOAuthRealm(consumer.Key, roles),
	}, nil
}

// rolesFor produces the default consumer role, then the consumer's own roles, then the roles
// of every permission on the access token.
func (x *Authenticator) rolesFor(ctx context.Context, consumer *Consumer, token *AccessToken) ([]string, error) {
	roles := []string{x.Config.DefaultConsumerRole}
	roles = append(roles, consumer.Roles...)
	if token != nil {
		for _, permission := range token.Permissions {
			permRoles, err := x.permDB.RolesForPermission(ctx, permission)
			if err != nil {
				return nil, NewError(ErrRoleLookup, fmt.Sprintf("permission '%v': %v", permission, err))
			}
			roles = append(roles, permRoles...)
		}
	}
	return uniqueRoles(roles), nil
}

func (x *Authenticator) sendOAuthError(w http.ResponseWriter, consumerKey string, err error) {
	var problem *OAuthProblem
	if errors.As(err, &problem) {
		x.Stats.IncrementOAuthProblems(x.Log)
		x.Log.Infof("OAuth request rejected (%v) (%v)", consumerKey, problem)
		realm := x.Config.RealmName
		if x.provider != nil && x.provider.RealmName() != "" {
			realm = x.provider.RealmName()
		}
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`OAuth realm="%v", oauth_problem="%v"`, realm, problem.Problem))
		HttpSendTxt(w, problem.HTTPCode, problem.Error())
		return
	}
	x.Stats.IncrementInternalErrors(x.Log)
	x.Log.Errorf("OAuth authentication error (%v) (%v)", consumerKey, err)
	HttpSendTxt(w, http.StatusInternalServerError, err.Error())
}

func (x *Authenticator) sendBasicChallenge(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="%v"`, x.Config.RealmName))
	HttpSendTxt(w, code, msg)
}

func (x *Authenticator) logAttempt(r *http.Request, method, principal string, outcome AuthOutcome) {
	if x.AuthLog != nil {
		x.AuthLog.LogAttempt(method, principal, outcome, clientIPAddress(r))
	}
}

// isOAuthAuthorization matches the scheme token case-insensitively, so "OAuth" on its own counts
func isOAuthAuthorization(header string) bool {
	scheme, _ := splitAuthScheme(header)
	return strings.EqualFold(scheme, "OAuth")
}

func isCredentialError(err error) bool {
	return errors.Is(err, ErrIdentityAuthNotFound) ||
		errors.Is(err, ErrInvalidPassword) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrIdentityEmpty)
}

func clientIPAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
