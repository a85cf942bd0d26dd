package oauthbasic

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/IMQS/log"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	consumerSecretLength = 32
	tokenSecretLength    = 40
)

// Postgres backed OAuth provider. Consumers live in oauthconsumer, and access tokens in oauthtoken.
type sqlOAuthProvider struct {
	db    *sql.DB
	realm string
	log   *log.Logger
}

func NewOAuthProvider_SQL(db *sql.DB, realm string, logger *log.Logger) *sqlOAuthProvider {
	return &sqlOAuthProvider{
		db:    db,
		realm: realm,
		log:   logger,
	}
}

func (x *sqlOAuthProvider) RealmName() string {
	return x.realm
}

func (x *sqlOAuthProvider) GetConsumer(ctx context.Context, consumerKey string) (*Consumer, error) {
	c := &Consumer{Key: consumerKey}
	var rsaKey, displayName sql.NullString
	err := x.db.QueryRowContext(ctx, `SELECT secret, rsapublickey, displayname, roles FROM oauthconsumer WHERE consumerkey = $1`, consumerKey).
		Scan(&c.Secret, &rsaKey, &displayName, pq.Array(&c.Roles))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError(ErrConsumerNotFound, consumerKey)
	} else if err != nil {
		return nil, err
	}
	c.RSAPublicKeyPEM = rsaKey.String
	c.DisplayName = displayName.String
	return c, nil
}

func (x *sqlOAuthProvider) GetAccessToken(ctx context.Context, consumerKey, token string) (*AccessToken, error) {
	t := &AccessToken{Token: token, ConsumerKey: consumerKey}
	var expires sql.NullTime
	err := x.db.QueryRowContext(ctx, `SELECT secret, permissions, expires FROM oauthtoken WHERE token = $1 AND consumerkey = $2`, token, consumerKey).
		Scan(&t.Secret, pq.Array(&t.Permissions), &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	} else if err != nil {
		return nil, err
	}
	if expires.Valid {
		t.Expires = expires.Time
	}
	if t.IsExpired(time.Now()) {
		return nil, ErrTokenNotFound
	}
	return t, nil
}

// RegisterConsumer generates a key and a secret if they are empty, and writes them back into consumer
func (x *sqlOAuthProvider) RegisterConsumer(ctx context.Context, consumer *Consumer) error {
	if consumer.Key == "" {
		id, err := uuid.NewRandom()
		if err != nil {
			return err
		}
		consumer.Key = id.String()
	}
	if consumer.Secret == "" {
		consumer.Secret = generateRandomKey(consumerSecretLength)
	}
	_, err := x.db.ExecContext(ctx, `INSERT INTO oauthconsumer (consumerkey, secret, rsapublickey, displayname, roles, created) VALUES ($1, $2, $3, $4, $5, $6)`,
		consumer.Key, consumer.Secret, consumer.RSAPublicKeyPEM, consumer.DisplayName, pq.Array(consumer.Roles), time.Now().UTC())
	if isUniqueViolation(err) {
		return NewError(ErrConsumerExists, consumer.Key)
	}
	return err
}

// IssueAccessToken creates a new token for the consumer. A ttl of zero means the token never expires.
func (x *sqlOAuthProvider) IssueAccessToken(ctx context.Context, consumerKey string, permissions []string, ttl time.Duration) (*AccessToken, error) {
	if _, err := x.GetConsumer(ctx, consumerKey); err != nil {
		return nil, err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	t := &AccessToken{
		Token:       id.String(),
		Secret:      generateRandomKey(tokenSecretLength),
		ConsumerKey: consumerKey,
		Permissions: permissions,
	}
	expires := sql.NullTime{}
	if ttl > 0 {
		t.Expires = time.Now().UTC().Add(ttl)
		expires = sql.NullTime{Time: t.Expires, Valid: true}
	}
	_, err = x.db.ExecContext(ctx, `INSERT INTO oauthtoken (token, secret, consumerkey, permissions, expires, created) VALUES ($1, $2, $3, $4, $5, $6)`,
		t.Token, t.Secret, t.ConsumerKey, pq.Array(t.Permissions), expires, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if x.log != nil {
		x.log.Infof("Issued OAuth token %v to consumer %v", t.Token[:8], consumerKey)
	}
	return t, nil
}

func (x *sqlOAuthProvider) RevokeAccessToken(ctx context.Context, consumerKey, token string) error {
	res, err := x.db.ExecContext(ctx, `DELETE FROM oauthtoken WHERE token = $1 AND consumerkey = $2`, token, consumerKey)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// PurgeExpiredTokens is called by the command line tool. Expired tokens are already invisible to GetAccessToken.
func (x *sqlOAuthProvider) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	res, err := x.db.ExecContext(ctx, `DELETE FROM oauthtoken WHERE expires IS NOT NULL AND expires < $1`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (x *sqlOAuthProvider) Close() {
	// The database handle is shared, and is closed by the Authenticator
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
