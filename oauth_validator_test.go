package oauthbasic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validatorNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	testConsumerSecret = "kd94hf93k423kf44"
	testTokenSecret    = "pfkkdhi9sl3r4s00"
)

func newTestValidator() *Validator {
	v := NewValidator(5*time.Minute, NewNonceStore_Memory(10*time.Minute))
	v.Now = func() time.Time { return validatorNow }
	return v
}

func testConsumer() *Consumer {
	return &Consumer{Key: "dpf43f3p2l4k3l03", Secret: testConsumerSecret}
}

func testToken() *AccessToken {
	return &AccessToken{Token: "nnch734d00sl2jdk", Secret: testTokenSecret, ConsumerKey: "dpf43f3p2l4k3l03"}
}

func oauthHeader(params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := []string{`realm="Maps"`}
	for _, name := range names {
		parts = append(parts, fmt.Sprintf(`%v="%v"`, oauth1.PercentEncode(name), oauth1.PercentEncode(params[name])))
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// signedMessage builds a request to a fixed URL, signs it with sign, and reads it back.
// Entries of override replace the default protocol parameters. A nil sign leaves the request unsigned.
func signedMessage(t *testing.T, method string, sign func(base string) (string, error), override map[string]string) *OAuthMessage {
	params := map[string]string{
		OAuthConsumerKey:     "dpf43f3p2l4k3l03",
		OAuthToken:           "nnch734d00sl2jdk",
		OAuthSignatureMethod: method,
		OAuthTimestamp:       strconv.FormatInt(validatorNow.Unix(), 10),
		OAuthNonce:           "kllo9940pd9333jh",
		OAuthVersion:         "1.0",
	}
	for k, v := range override {
		params[k] = v
	}
	r := httptest.NewRequest("GET", "http://photos.example.net/photos?file=vacation.jpg&size=original", nil)
	r.Header.Set("Authorization", oauthHeader(params))
	msg, err := ReadOAuthMessage(r)
	require.NoError(t, err)
	if sign == nil {
		return msg
	}

	signature, err := sign(msg.SignatureBaseString())
	require.NoError(t, err)
	params[OAuthSignature] = signature
	r.Header.Set("Authorization", oauthHeader(params))
	msg, err = ReadOAuthMessage(r)
	require.NoError(t, err)
	return msg
}

func hmacSHA1(tokenSecret string) func(base string) (string, error) {
	return func(base string) (string, error) {
		return (&oauth1.HMACSigner{ConsumerSecret: testConsumerSecret}).Sign(tokenSecret, base)
	}
}

func fixedSignature(signature string) func(base string) (string, error) {
	return func(base string) (string, error) {
		return signature, nil
	}
}

func TestValidatorHMACSHA1(t *testing.T) {
	v := newTestValidator()
	msg := signedMessage(t, SignatureHMACSHA1, hmacSHA1(testTokenSecret), nil)
	assert.NoError(t, v.Validate(context.Background(), msg, testConsumer(), testToken()))
}

func TestValidatorHMACSHA1TwoLegged(t *testing.T) {
	v := newTestValidator()
	msg := signedMessage(t, SignatureHMACSHA1, hmacSHA1(""), map[string]string{OAuthToken: ""})
	assert.NoError(t, v.Validate(context.Background(), msg, testConsumer(), nil))
}

func TestValidatorHMACSHA256(t *testing.T) {
	v := newTestValidator()
	sign := func(base string) (string, error) {
		return (&oauth1.HMAC256Signer{ConsumerSecret: testConsumerSecret}).Sign(testTokenSecret, base)
	}
	msg := signedMessage(t, SignatureHMACSHA256, sign, nil)
	assert.NoError(t, v.Validate(context.Background(), msg, testConsumer(), testToken()))

	// A SHA1 signature does not pass as SHA256
	msg = signedMessage(t, SignatureHMACSHA256, hmacSHA1(testTokenSecret), map[string]string{OAuthNonce: "other"})
	assertProblem(t, v.Validate(context.Background(), msg, testConsumer(), testToken()), ProblemSignatureInvalid)
}

func TestValidatorPlainText(t *testing.T) {
	v := newTestValidator()
	msg := signedMessage(t, SignaturePlainText, fixedSignature(testConsumerSecret+"&"+testTokenSecret), nil)
	assert.NoError(t, v.Validate(context.Background(), msg, testConsumer(), testToken()))

	msg = signedMessage(t, SignaturePlainText, fixedSignature(testConsumerSecret+"&"), map[string]string{OAuthNonce: "other"})
	assertProblem(t, v.Validate(context.Background(), msg, testConsumer(), testToken()), ProblemSignatureInvalid)
}

func TestValidatorRSASHA1(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pkix, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	consumer := testConsumer()
	consumer.RSAPublicKeyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkix}))

	sign := func(base string) (string, error) {
		return (&oauth1.RSASigner{PrivateKey: key}).Sign("", base)
	}

	v := newTestValidator()
	msg := signedMessage(t, SignatureRSASHA1, sign, nil)
	assert.NoError(t, v.Validate(context.Background(), msg, consumer, testToken()))

	// PKCS1 encoding of the same key
	consumer.RSAPublicKeyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)}))
	msg = signedMessage(t, SignatureRSASHA1, sign, map[string]string{OAuthNonce: "pkcs1"})
	assert.NoError(t, v.Validate(context.Background(), msg, consumer, testToken()))

	// Signed by somebody else
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	msg = signedMessage(t, SignatureRSASHA1, func(base string) (string, error) {
		return (&oauth1.RSASigner{PrivateKey: other}).Sign("", base)
	}, map[string]string{OAuthNonce: "forged"})
	assertProblem(t, v.Validate(context.Background(), msg, consumer, testToken()), ProblemSignatureInvalid)

	msg = signedMessage(t, SignatureRSASHA1, fixedSignature("not base64!"), map[string]string{OAuthNonce: "garbage"})
	assertProblem(t, v.Validate(context.Background(), msg, consumer, testToken()), ProblemSignatureInvalid)

	// A consumer without a public key cannot use RSA-SHA1
	msg = signedMessage(t, SignatureRSASHA1, sign, map[string]string{OAuthNonce: "nokey"})
	assertProblem(t, v.Validate(context.Background(), msg, testConsumer(), testToken()), ProblemSignatureMethodRejected)
}

func TestValidatorBadSignature(t *testing.T) {
	v := newTestValidator()
	msg := signedMessage(t, SignatureHMACSHA1, hmacSHA1("wrong"), nil)
	p := assertProblem(t, v.Validate(context.Background(), msg, testConsumer(), testToken()), ProblemSignatureInvalid)
	assert.Equal(t, http.StatusUnauthorized, p.HTTPCode)

	// The forged request must not have used up the nonce
	msg = signedMessage(t, SignatureHMACSHA1, hmacSHA1(testTokenSecret), nil)
	assert.NoError(t, v.Validate(context.Background(), msg, testConsumer(), testToken()))
}

func TestValidatorNonceReplay(t *testing.T) {
	v := newTestValidator()
	msg := signedMessage(t, SignatureHMACSHA1, hmacSHA1(testTokenSecret), nil)
	require.NoError(t, v.Validate(context.Background(), msg, testConsumer(), testToken()))
	assertProblem(t, v.Validate(context.Background(), msg, testConsumer(), testToken()), ProblemNonceUsed)

	// The same nonce with a different timestamp is a different request
	msg = signedMessage(t, SignatureHMACSHA1, hmacSHA1(testTokenSecret), map[string]string{OAuthTimestamp: strconv.FormatInt(validatorNow.Unix()+1, 10)})
	assert.NoError(t, v.Validate(context.Background(), msg, testConsumer(), testToken()))
}

func TestValidatorVersion(t *testing.T) {
	v := newTestValidator()
	msg := signedMessage(t, SignatureHMACSHA1, hmacSHA1(testTokenSecret), map[string]string{OAuthVersion: "2.0"})
	p := assertProblem(t, v.Validate(context.Background(), msg, testConsumer(), testToken()), ProblemVersionRejected)
	assert.Equal(t, http.StatusBadRequest, p.HTTPCode)
}

func TestValidatorVersionIsOptional(t *testing.T) {
	r := httptest.NewRequest("GET", "http://photos.example.net/photos", nil)
	params := map[string]string{
		OAuthConsumerKey:     "dpf43f3p2l4k3l03",
		OAuthSignatureMethod: SignaturePlainText,
		OAuthTimestamp:       strconv.FormatInt(validatorNow.Unix(), 10),
		OAuthNonce:           "abc",
		OAuthSignature:       testConsumerSecret + "&",
	}
	r.Header.Set("Authorization", oauthHeader(params))
	msg, err := ReadOAuthMessage(r)
	require.NoError(t, err)
	assert.NoError(t, newTestValidator().Validate(context.Background(), msg, testConsumer(), nil))
}

func TestValidatorUnknownSignatureMethod(t *testing.T) {
	v := newTestValidator()
	msg := signedMessage(t, "MD5", fixedSignature("abc"), nil)
	p := assertProblem(t, v.Validate(context.Background(), msg, testConsumer(), testToken()), ProblemSignatureMethodRejected)
	assert.Equal(t, http.StatusBadRequest, p.HTTPCode)
	assert.Contains(t, p.Detail, SignatureHMACSHA1)
}

func TestValidatorTimestamp(t *testing.T) {
	v := newTestValidator()
	validate := func(ts int64, nonce string) error {
		msg := signedMessage(t, SignatureHMACSHA1, hmacSHA1(testTokenSecret), map[string]string{
			OAuthTimestamp: strconv.FormatInt(ts, 10),
			OAuthNonce:     nonce,
		})
		return v.Validate(context.Background(), msg, testConsumer(), testToken())
	}
	now := validatorNow.Unix()
	assert.NoError(t, validate(now-299, "a"))
	assert.NoError(t, validate(now+299, "b"))
	assert.NoError(t, validate(now-300, "c"))

	p := assertProblem(t, validate(now-301, "d"), ProblemTimestampRefused)
	assert.Equal(t, fmt.Sprintf("oauth_acceptable_timestamps=%v-%v", now-300, now+300), p.Detail)
	assertProblem(t, validate(now+301, "e"), ProblemTimestampRefused)

	// Far enough away that a time.Duration would overflow
	assertProblem(t, validate(99999999999, "f"), ProblemTimestampRefused)
	assertProblem(t, validate(-99999999999, "g"), ProblemTimestampRefused)
	assertProblem(t, validate(math.MaxInt64, "h"), ProblemTimestampRefused)

	msg := signedMessage(t, SignatureHMACSHA1, hmacSHA1(testTokenSecret), map[string]string{OAuthTimestamp: "yesterday"})
	p = assertProblem(t, v.Validate(context.Background(), msg, testConsumer(), testToken()), ProblemParameterRejected)
	assert.Equal(t, http.StatusBadRequest, p.HTTPCode)
}

func TestValidatorExpiredToken(t *testing.T) {
	v := newTestValidator()
	token := testToken()
	token.Expires = validatorNow.Add(-time.Second)
	msg := signedMessage(t, SignatureHMACSHA1, hmacSHA1(testTokenSecret), nil)
	assertProblem(t, v.Validate(context.Background(), msg, testConsumer(), token), ProblemTokenExpired)

	token.Expires = validatorNow.Add(time.Hour)
	assert.NoError(t, v.Validate(context.Background(), msg, testConsumer(), token))
}

type failingNonceStore struct{}

func (failingNonceStore) Use(ctx context.Context, key string, timestamp time.Time) (bool, error) {
	return false, errors.New("database is down")
}

func (failingNonceStore) Expiry() time.Duration { return time.Hour }

func (failingNonceStore) Close() {}

func TestValidatorNonceStoreError(t *testing.T) {
	v := newTestValidator()
	v.Nonces = failingNonceStore{}
	msg := signedMessage(t, SignatureHMACSHA1, hmacSHA1(testTokenSecret), nil)
	err := v.Validate(context.Background(), msg, testConsumer(), testToken())
	require.Error(t, err)
	var p *OAuthProblem
	assert.False(t, errors.As(err, &p))
}

func TestValidatorNonceKey(t *testing.T) {
	msg := signedMessage(t, SignatureHMACSHA1, nil, map[string]string{OAuthConsumerKey: "a&b", OAuthNonce: "n n"})
	assert.Equal(t, "a%26b&nnch734d00sl2jdk&"+strconv.FormatInt(validatorNow.Unix(), 10)+"&n%20n", nonceKey(msg))
}

func TestParseRSAPublicKeyRejectsGarbage(t *testing.T) {
	_, err := parseRSAPublicKey("hello")
	assert.Error(t, err)
	_, err = parseRSAPublicKey(string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: []byte{1, 2, 3}})))
	assert.Error(t, err)
}
