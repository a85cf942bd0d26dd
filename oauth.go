package oauthbasic

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/dghubble/oauth1"
)

// OAuth 1.0 protocol parameters
const (
	OAuthConsumerKey     = "oauth_consumer_key"
	OAuthToken           = "oauth_token"
	OAuthSignatureMethod = "oauth_signature_method"
	OAuthSignature       = "oauth_signature"
	OAuthTimestamp       = "oauth_timestamp"
	OAuthNonce           = "oauth_nonce"
	OAuthVersion         = "oauth_version"
	oauthRealm           = "realm"
)

const maxFormBodyBytes = 10 * 1024 * 1024

// oauth_problem values, from the OAuth Problem Reporting extension
const (
	ProblemParameterAbsent         = "parameter_absent"
	ProblemParameterRejected       = "parameter_rejected"
	ProblemVersionRejected         = "version_rejected"
	ProblemSignatureMethodRejected = "signature_method_rejected"
	ProblemConsumerKeyUnknown      = "consumer_key_unknown"
	ProblemTokenRejected           = "token_rejected"
	ProblemTokenExpired            = "token_expired"
	ProblemSignatureInvalid        = "signature_invalid"
	ProblemTimestampRefused        = "timestamp_refused"
	ProblemNonceUsed               = "nonce_used"
)

var problemHTTPCodes = map[string]int{
	ProblemParameterAbsent:         http.StatusBadRequest,
	ProblemParameterRejected:       http.StatusBadRequest,
	ProblemVersionRejected:         http.StatusBadRequest,
	ProblemSignatureMethodRejected: http.StatusBadRequest,
	ProblemConsumerKeyUnknown:      http.StatusUnauthorized,
	ProblemTokenRejected:           http.StatusUnauthorized,
	ProblemTokenExpired:            http.StatusUnauthorized,
	ProblemSignatureInvalid:        http.StatusUnauthorized,
	ProblemTimestampRefused:        http.StatusUnauthorized,
	ProblemNonceUsed:               http.StatusUnauthorized,
}

// OAuthProblem is an error that is reported to the client, with an HTTP status code
// and an oauth_problem value in the WWW-Authenticate header.
type OAuthProblem struct {
	Problem  string
	HTTPCode int
	Detail   string
}

func NewOAuthProblem(problem, detail string) *OAuthProblem {
	code, ok := problemHTTPCodes[problem]
	if !ok {
		code = http.StatusUnauthorized
	}
	return &OAuthProblem{
		Problem:  problem,
		HTTPCode: code,
		Detail:   detail,
	}
}

func (p *OAuthProblem) Error() string {
	if p.Detail == "" {
		return "oauth_problem=" + p.Problem
	}
	return fmt.Sprintf("oauth_problem=%v: %v", p.Problem, p.Detail)
}

type oauthParam struct {
	name  string
	value string
}

/*
OAuthMessage holds everything about a request that is needed to verify its signature.
Parameters are gathered from the Authorization header, the query string, and the body
(only if the body is application/x-www-form-urlencoded).
*/
type OAuthMessage struct {
	Method  string
	BaseURI string // scheme://host[:port]/path, as defined for the signature base string
	Realm   string // The realm parameter of the Authorization header. It is not signed.

	params   []oauthParam // All signed parameters, including oauth_signature, in their order of appearance
	protocol map[string]string
}

// ReadOAuthMessage gathers the OAuth parameters of the request. If the request has a form body,
// that body is restored, so that handlers further down may still read it.
func ReadOAuthMessage(r *http.Request) (*OAuthMessage, error) {
	m := &OAuthMessage{
		Method:   strings.ToUpper(r.Method),
		BaseURI:  requestBaseURI(r),
		protocol: map[string]string{},
	}

	if auth := r.Header.Get("Authorization"); isOAuthAuthorization(auth) {
		headerParams, err := parseAuthorizationHeader(auth)
		if err != nil {
			return m, err
		}
		for _, p := range headerParams {
			if p.name == oauthRealm {
				m.Realm = p.value
				continue
			}
			m.add(p.name, p.value)
		}
	}

	query, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return m, NewOAuthProblem(ProblemParameterRejected, "query string: "+err.Error())
	}
	m.addValues(query)

	if isFormBody(r) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxFormBodyBytes+1))
		// The bytes already read go back in front of the rest, so the handler sees the whole body
		r.Body = &rereadBody{Reader: io.MultiReader(bytes.NewReader(body), r.Body), Closer: r.Body}
		if err != nil {
			return m, err
		}
		if len(body) > maxFormBodyBytes {
			return m, NewOAuthProblem(ProblemParameterRejected, fmt.Sprintf("form body is larger than %v bytes", maxFormBodyBytes))
		}
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return m, NewOAuthProblem(ProblemParameterRejected, "form body: "+err.Error())
		}
		m.addValues(form)
	}

	return m, nil
}

func (m *OAuthMessage) add(name, value string) {
	m.params = append(m.params, oauthParam{name, value})
	if strings.HasPrefix(name, "oauth_") {
		// The first occurrence wins. The header is read first.
		if _, exists := m.protocol[name]; !exists {
			m.protocol[name] = value
		}
	}
}

func (m *OAuthMessage) addValues(values url.Values) {
	for name, list := range values {
		for _, v := range list {
			m.add(name, v)
		}
	}
}

// Get returns the value of an oauth_ protocol parameter, or an empty string
func (m *OAuthMessage) Get(name string) string {
	return m.protocol[name]
}

func (m *OAuthMessage) Has(name string) bool {
	_, ok := m.protocol[name]
	return ok
}

// RequireParameters returns a parameter_absent problem that lists every missing parameter
func (m *OAuthMessage) RequireParameters(names ...string) error {
	missing := []string{}
	for _, name := range names {
		if m.Get(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) != 0 {
		return NewOAuthProblem(ProblemParameterAbsent, "oauth_parameters_absent="+strings.Join(missing, "&"))
	}
	return nil
}

// SignatureBaseString builds METHOD&enc(base URI)&enc(normalized parameters), excluding oauth_signature
func (m *OAuthMessage) SignatureBaseString() string {
	pairs := make([]oauthParam, 0, len(m.params))
	for _, p := range m.params {
		if p.name == OAuthSignature {
			continue
		}
		pairs = append(pairs, oauthParam{oauth1.PercentEncode(p.name), oauth1.PercentEncode(p.value)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].name != pairs[j].name {
			return pairs[i].name < pairs[j].name
		}
		return pairs[i].value < pairs[j].value
	})
	normalized := make([]string, len(pairs))
	for i, p := range pairs {
		normalized[i] = p.name + "=" + p.value
	}
	return m.Method + "&" + oauth1.PercentEncode(m.BaseURI) + "&" + oauth1.PercentEncode(strings.Join(normalized, "&"))
}

// parseAuthorizationHeader reads `OAuth name="value", name="value"`. Names and values are percent-encoded.
func parseAuthorizationHeader(header string) ([]oauthParam, error) {
	params := []oauthParam{}
	_, rest := splitAuthScheme(header)
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq <= 0 {
			return nil, NewOAuthProblem(ProblemParameterRejected, "malformed Authorization header")
		}
		rawName := strings.TrimSpace(part[:eq])
		rawValue := strings.TrimSpace(part[eq+1:])
		if len(rawValue) >= 2 && rawValue[0] == '"' && rawValue[len(rawValue)-1] == '"' {
			rawValue = rawValue[1 : len(rawValue)-1]
		}
		name, err := url.PathUnescape(rawName)
		if err != nil {
			return nil, NewOAuthProblem(ProblemParameterRejected, "malformed Authorization header")
		}
		value, err := url.PathUnescape(rawValue)
		if err != nil {
			return nil, NewOAuthProblem(ProblemParameterRejected, "malformed Authorization header")
		}
		params = append(params, oauthParam{name, value})
	}
	return params, nil
}

type rereadBody struct {
	io.Reader
	io.Closer
}

// splitAuthScheme splits an Authorization header into its scheme token and whatever follows it
func splitAuthScheme(header string) (scheme, rest string) {
	header = strings.TrimLeft(header, " \t")
	if i := strings.IndexAny(header, " \t"); i >= 0 {
		return header[:i], header[i+1:]
	}
	return header, ""
}

func isFormBody(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}

// requestBaseURI reconstructs the URI that the client signed. The scheme is taken from X-Forwarded-Proto
// when we sit behind a TLS terminating proxy.
func requestBaseURI(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	host = strings.ToLower(host)
	if (scheme == "http" && strings.HasSuffix(host, ":80")) || (scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndexByte(host, ':')]
	}
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}
