package oauthbasic

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
)

const (
	SignatureHMACSHA1   = "HMAC-SHA1"
	SignatureHMACSHA256 = "HMAC-SHA256"
	SignatureRSASHA1    = "RSA-SHA1"
	SignaturePlainText  = "PLAINTEXT"
)

// Validator checks the version, timestamp, signature and nonce of an OAuth message.
// It knows nothing about where consumers and tokens come from.
type Validator struct {
	Window time.Duration
	Nonces NonceStore
	Now    func() time.Time // Overridden by tests
}

func NewValidator(window time.Duration, nonces NonceStore) *Validator {
	if window <= 0 {
		window = defaultTimestampWindowSeconds * time.Second
	}
	return &Validator{
		Window: window,
		Nonces: nonces,
		Now:    time.Now,
	}
}

// Validate returns nil if the message is authentic. token is nil for a 2-legged request.
// The nonce is only recorded once the signature has been verified, so that a forged request
// cannot burn a legitimate client's nonce.
func (v *Validator) Validate(ctx context.Context, msg *OAuthMessage, consumer *Consumer, token *AccessToken) error {
	if msg.Has(OAuthVersion) && msg.Get(OAuthVersion) != "1.0" {
		return NewOAuthProblem(ProblemVersionRejected, "oauth_acceptable_versions=1.0-1.0")
	}

	now := v.Now()
	timestamp, err := v.checkTimestamp(msg.Get(OAuthTimestamp), now)
	if err != nil {
		return err
	}

	if token != nil && token.IsExpired(now) {
		return NewOAuthProblem(ProblemTokenExpired, "")
	}

	tokenSecret := ""
	if token != nil {
		tokenSecret = token.Secret
	}
	if err := verifySignature(msg, consumer, tokenSecret); err != nil {
		return err
	}

	if v.Nonces != nil {
		fresh, err := v.Nonces.Use(ctx, nonceKey(msg), timestamp)
		if err != nil {
			return fmt.Errorf("Nonce store: %w", err)
		}
		if !fresh {
			return NewOAuthProblem(ProblemNonceUsed, "")
		}
	}
	return nil
}

func (v *Validator) checkTimestamp(raw string, now time.Time) (time.Time, error) {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, NewOAuthProblem(ProblemParameterRejected, "oauth_timestamp is not an integer")
	}
	// Compare whole seconds. time.Duration overflows for timestamps centuries away.
	lo := now.Add(-v.Window).Unix()
	hi := now.Add(v.Window).Unix()
	if seconds < lo || seconds > hi {
		return time.Time{}, NewOAuthProblem(ProblemTimestampRefused, fmt.Sprintf("oauth_acceptable_timestamps=%v-%v", lo, hi))
	}
	return time.Unix(seconds, 0), nil
}

// nonceKey makes a nonce unique per consumer, token and timestamp
func nonceKey(msg *OAuthMessage) string {
	return strings.Join([]string{
		oauth1.PercentEncode(msg.Get(OAuthConsumerKey)),
		oauth1.PercentEncode(msg.Get(OAuthToken)),
		msg.Get(OAuthTimestamp),
		oauth1.PercentEncode(msg.Get(OAuthNonce)),
	}, "&")
}

func verifySignature(msg *OAuthMessage, consumer *Consumer, tokenSecret string) error {
	method := msg.Get(OAuthSignatureMethod)
	signature := msg.Get(OAuthSignature)
	base := msg.SignatureBaseString()

	var expected string
	var err error
	switch method {
	case SignatureHMACSHA1:
		expected, err = (&oauth1.HMACSigner{ConsumerSecret: consumer.Secret}).Sign(tokenSecret, base)
	case SignatureHMACSHA256:
		expected, err = (&oauth1.HMAC256Signer{ConsumerSecret: consumer.Secret}).Sign(tokenSecret, base)
	case SignaturePlainText:
		expected = oauth1.PercentEncode(consumer.Secret) + "&" + oauth1.PercentEncode(tokenSecret)
	case SignatureRSASHA1:
		return verifyRSASHA1(consumer, base, signature)
	default:
		return NewOAuthProblem(ProblemSignatureMethodRejected, "oauth_acceptable_signature_methods="+strings.Join([]string{SignatureHMACSHA1, SignatureHMACSHA256, SignatureRSASHA1, SignaturePlainText}, "&"))
	}
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return NewOAuthProblem(ProblemSignatureInvalid, "")
	}
	return nil
}

func verifyRSASHA1(consumer *Consumer, base, signature string) error {
	if consumer.RSAPublicKeyPEM == "" {
		return NewOAuthProblem(ProblemSignatureMethodRejected, "consumer has no RSA public key")
	}
	pub, err := parseRSAPublicKey(consumer.RSAPublicKeyPEM)
	if err != nil {
		return fmt.Errorf("Consumer %v: %w", consumer.Key, err)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return NewOAuthProblem(ProblemSignatureInvalid, "")
	}
	digest := sha1.Sum([]byte(base))
	if rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], sig) != nil {
		return NewOAuthProblem(ProblemSignatureInvalid, "")
	}
	return nil
}

// parseRSAPublicKey accepts a PEM encoded PKIX public key, PKCS1 public key, or certificate
func parseRSAPublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errors.New("RSA public key is not PEM encoded")
	}
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		if pub, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			return pub, nil
		}
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if pub, ok := key.(*rsa.PublicKey); ok {
			return pub, nil
		}
	}
	return nil, errors.New("Public key is not an RSA key")
}
