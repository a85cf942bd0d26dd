package oauthbasic

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory OAuth provider, used by tests and by the "memory" provider name
type dummyOAuthProvider struct {
	realm     string
	lock      sync.RWMutex
	consumers map[string]Consumer
	tokens    map[string]AccessToken
}

func NewOAuthProvider_Memory(realm string) *dummyOAuthProvider {
	return &dummyOAuthProvider{
		realm:     realm,
		consumers: map[string]Consumer{},
		tokens:    map[string]AccessToken{},
	}
}

func (x *dummyOAuthProvider) RealmName() string {
	return x.realm
}

func (x *dummyOAuthProvider) GetConsumer(ctx context.Context, consumerKey string) (*Consumer, error) {
	x.lock.RLock()
	defer x.lock.RUnlock()
	c, ok := x.consumers[consumerKey]
	if !ok {
		return nil, NewError(ErrConsumerNotFound, consumerKey)
	}
	c.Roles = append([]string{}, c.Roles...)
	return &c, nil
}

func (x *dummyOAuthProvider) GetAccessToken(ctx context.Context, consumerKey, token string) (*AccessToken, error) {
	x.lock.RLock()
	defer x.lock.RUnlock()
	t, ok := x.tokens[token]
	if !ok || t.ConsumerKey != consumerKey || t.IsExpired(time.Now()) {
		return nil, ErrTokenNotFound
	}
	t.Permissions = append([]string{}, t.Permissions...)
	return &t, nil
}

func (x *dummyOAuthProvider) RegisterConsumer(ctx context.Context, consumer *Consumer) error {
	x.lock.Lock()
	defer x.lock.Unlock()
	if consumer.Key == "" {
		consumer.Key = uuid.New().String()
	}
	if consumer.Secret == "" {
		consumer.Secret = generateRandomKey(consumerSecretLength)
	}
	if _, exists := x.consumers[consumer.Key]; exists {
		return NewError(ErrConsumerExists, consumer.Key)
	}
	x.consumers[consumer.Key] = *consumer
	return nil
}

func (x *dummyOAuthProvider) IssueAccessToken(ctx context.Context, consumerKey string, permissions []string, ttl time.Duration) (*AccessToken, error) {
	x.lock.Lock()
	defer x.lock.Unlock()
	if _, ok := x.consumers[consumerKey]; !ok {
		return nil, NewError(ErrConsumerNotFound, consumerKey)
	}
	t := AccessToken{
		Token:       uuid.New().String(),
		Secret:      generateRandomKey(tokenSecretLength),
		ConsumerKey: consumerKey,
		Permissions: append([]string{}, permissions...),
	}
	if ttl > 0 {
		t.Expires = time.Now().Add(ttl)
	}
	x.tokens[t.Token] = t
	return &t, nil
}

// addAccessToken inserts a token verbatim. Tests use this to control the secret and the expiry time.
func (x *dummyOAuthProvider) addAccessToken(t AccessToken) {
	x.lock.Lock()
	defer x.lock.Unlock()
	x.tokens[t.Token] = t
}

func (x *dummyOAuthProvider) RevokeAccessToken(ctx context.Context, consumerKey, token string) error {
	x.lock.Lock()
	defer x.lock.Unlock()
	t, ok := x.tokens[token]
	if !ok || t.ConsumerKey != consumerKey {
		return ErrTokenNotFound
	}
	delete(x.tokens, token)
	return nil
}

func (x *dummyOAuthProvider) Close() {
}
